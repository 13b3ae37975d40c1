// ABOUTME: Heartbeat injection for sources that may stay silent for long periods.
// ABOUTME: Races the next value against a timer without reordering values.

package stream

import (
	"context"
	"time"
)

// KeepAlive forwards every value of src and emits beat() whenever src has
// been silent for interval. It stops at the end of src and never emits a
// heartbeat after it. A non-positive interval disables heartbeats.
func KeepAlive[T any](ctx context.Context, src Source[T], interval time.Duration, beat func() T) *Pipe[T] {
	inner := Start(ctx, 1, func(ctx context.Context, emit func(T) error) error {
		return Pump(ctx, src, emit)
	})

	return Start(ctx, 1, func(ctx context.Context, emit func(T) error) error {
		defer inner.Close()
		if interval <= 0 {
			return Pump(ctx, inner, emit)
		}

		timer := time.NewTimer(interval)
		defer timer.Stop()

		var err error
		for {
			select {
			case v, ok := <-inner.ch:
				if !ok {
					return inner.err
				}
				if err = emit(v); err != nil {
					return err
				}
				timer.Reset(interval)
			case <-timer.C:
				v, ready, closed := pending(inner.ch)
				switch {
				case closed:
					return inner.err
				case ready:
					err = emit(v)
				default:
					err = emit(beat())
				}
				if err != nil {
					return err
				}
				timer.Reset(interval)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}

// pending takes a value already waiting in ch without blocking. closed
// reports that ch is drained and closed.
func pending[T any](ch <-chan T) (v T, ready, closed bool) {
	select {
	case v, ok := <-ch:
		return v, ok, !ok
	default:
		return v, false, false
	}
}
