// ABOUTME: Bounded bridge between a push producer goroutine and a pull consumer.
// ABOUTME: Preserves order, re-raises producer errors and survives early consumer exit.

package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
)

// Producer pushes values through emit until done. emit fails once the
// consumer is gone; the producer should return that error.
type Producer[T any] func(ctx context.Context, emit func(T) error) error

// Source yields values one at a time and returns io.EOF after the last one.
type Source[T any] interface {
	Next(ctx context.Context) (T, error)
}

// Pipe is the consumer side of a running producer.
type Pipe[T any] struct {
	ch     chan T
	err    error // producer result, readable once ch is closed
	final  error // what Next returns after the end
	cancel context.CancelFunc
	done   chan struct{}
}

// Start runs p in a new goroutine. buffer bounds the number of values in flight.
func Start[T any](ctx context.Context, buffer int, p Producer[T]) *Pipe[T] {
	if buffer < 1 {
		buffer = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	pipe := &Pipe[T]{
		ch:     make(chan T, buffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go pipe.run(ctx, p)
	return pipe
}

func (p *Pipe[T]) run(ctx context.Context, produce Producer[T]) {
	defer close(p.done)
	defer close(p.ch)
	defer func() {
		if r := recover(); r != nil {
			p.err = fmt.Errorf("producer panic: %v", r)
		}
	}()

	emit := func(v T) error {
		select {
		case p.ch <- v:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.err = produce(ctx, emit)
}

// Next blocks until the next value, the end of the stream (io.EOF), the
// producer's error, or ctx is done.
func (p *Pipe[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if p.final != nil {
		return zero, p.final
	}
	select {
	case v, ok := <-p.ch:
		if ok {
			return v, nil
		}
		p.final = io.EOF
		if p.err != nil {
			p.final = p.err
		}
		return zero, p.final
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// All iterates the remaining values. A non-EOF error is yielded once as the last pair.
// Breaking out of the loop closes the pipe.
func (p *Pipe[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			v, err := p.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(v, err)
				return
			}
			if !yield(v, nil) {
				p.Close()
				return
			}
		}
	}
}

// Close cancels the producer. It does not wait; use Done for that.
func (p *Pipe[T]) Close() {
	p.cancel()
}

// Done is closed once the producer goroutine has exited.
func (p *Pipe[T]) Done() <-chan struct{} {
	return p.done
}

// Pump drives a pull source into a push callback until io.EOF.
func Pump[T any](ctx context.Context, src Source[T], emit func(T) error) error {
	for {
		v, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := emit(v); err != nil {
			return err
		}
	}
}
