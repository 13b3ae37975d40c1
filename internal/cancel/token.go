// ABOUTME: Polled cancellation token handed to every suspension point of a run.
// ABOUTME: Rate-limits flag reads and also honors context cancellation.

package cancel

import (
	"context"
	"errors"
	"time"
)

// ErrCanceled is returned when the conversation's stop flag is armed.
var ErrCanceled = errors.New("run canceled by client")

// Token checks one conversation's stop flag for one run.
// A Token is not safe for concurrent use.
type Token struct {
	flags          Flags
	conversationID string
	interval       time.Duration
	now            func() time.Time
	lastPoll       time.Time
}

// NewToken returns a token that reads the flag at most once per interval.
func NewToken(flags Flags, conversationID string, interval time.Duration) *Token {
	return &Token{
		flags:          flags,
		conversationID: conversationID,
		interval:       interval,
		now:            time.Now,
	}
}

// Check returns ctx's error if it is done, ErrCanceled if the flag is armed
// and the poll interval has elapsed since the last read, and nil otherwise.
func (t *Token) Check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := t.now()
	if !t.lastPoll.IsZero() && now.Sub(t.lastPoll) < t.interval {
		return nil
	}
	t.lastPoll = now
	return t.read()
}

// Force reads the flag regardless of the poll interval.
func (t *Token) Force(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.lastPoll = t.now()
	return t.read()
}

func (t *Token) read() error {
	if t.flags != nil && t.flags.Armed(t.conversationID) {
		return ErrCanceled
	}
	return nil
}

// Aborted reports whether err ends a run without it being a failure.
func Aborted(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}
