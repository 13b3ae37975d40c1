// ABOUTME: Tests for heartbeat injection around slow sources.

package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeepAlive_InjectsHeartbeatsWhileSilent(t *testing.T) {
	src := Start(t.Context(), 1, func(ctx context.Context, emit func(string) error) error {
		if err := emit("a"); err != nil {
			return err
		}
		time.Sleep(120 * time.Millisecond)
		return emit("b")
	})

	ka := KeepAlive[string](t.Context(), src, 25*time.Millisecond, func() string { return "♥" })
	got, err := collect(t.Context(), ka)
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(got), 3)
	assert.Equal(t, "a", got[0])
	assert.Equal(t, "b", got[len(got)-1], "no heartbeat after the last value")

	var real []string
	for _, v := range got {
		if v != "♥" {
			real = append(real, v)
		}
	}
	assert.Equal(t, []string{"a", "b"}, real)
}

func TestKeepAlive_NoHeartbeatForFastSource(t *testing.T) {
	ka := KeepAlive[int](t.Context(), Start(t.Context(), 1, countTo(10)), time.Hour, func() int { return -1 })
	got, err := collect(t.Context(), ka)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestKeepAlive_PropagatesError(t *testing.T) {
	boom := errors.New("upstream failed")
	src := Start(t.Context(), 1, func(ctx context.Context, emit func(int) error) error {
		_ = emit(1)
		return boom
	})

	got, err := collect(t.Context(), KeepAlive[int](t.Context(), src, time.Hour, func() int { return 0 }))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []int{1}, got)
}

func TestKeepAlive_DisabledInterval(t *testing.T) {
	got, err := collect(t.Context(), KeepAlive[int](t.Context(), Start(t.Context(), 1, countTo(3)), 0, func() int { return -1 }))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, got)
}

func TestPending_PrefersWaitingValueOverHeartbeat(t *testing.T) {
	ch := make(chan int, 1)
	_, ready, closed := pending(ch)
	assert.False(t, ready, "empty channel has nothing waiting")
	assert.False(t, closed)

	ch <- 7
	close(ch)
	v, ready, closed := pending(ch)
	assert.True(t, ready)
	assert.False(t, closed, "buffered value comes out before the close")
	assert.Equal(t, 7, v)

	_, ready, closed = pending(ch)
	assert.False(t, ready)
	assert.True(t, closed)
}
