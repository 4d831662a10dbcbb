package runqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestSpawnRejectsDuplicate(t *testing.T) {
	q := New(nil)
	block := make(chan struct{})
	_, err := q.Spawn(context.Background(), 1, 0, func(ctx context.Context, l *rate.Limiter) error {
		<-block
		return nil
	})
	require.NoError(t, err)

	_, err = q.Spawn(context.Background(), 1, 0, func(ctx context.Context, l *rate.Limiter) error {
		return nil
	})
	require.ErrorIs(t, err, ErrAlreadyRunning)

	close(block)
}

func TestAbortCancelsContext(t *testing.T) {
	q := New(nil)
	observed := make(chan error, 1)
	r, err := q.Spawn(context.Background(), 1, 0, func(ctx context.Context, l *rate.Limiter) error {
		<-ctx.Done()
		observed <- ctx.Err()
		return ctx.Err()
	})
	require.NoError(t, err)

	require.True(t, q.Abort(1))

	select {
	case err := <-observed:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("runner did not observe abort")
	}
	_ = r.Wait()
}

func TestRunnerRemovedAfterCompletion(t *testing.T) {
	q := New(nil)
	r, err := q.Spawn(context.Background(), 1, 0, func(ctx context.Context, l *rate.Limiter) error {
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, r.Wait())

	require.Eventually(t, func() bool { return !q.Running(1) }, time.Second, 10*time.Millisecond)
}

func TestSetSpeedZeroMeansUnlimited(t *testing.T) {
	q := New(nil)
	_, err := q.Spawn(context.Background(), 1, 1024, func(ctx context.Context, l *rate.Limiter) error {
		<-ctx.Done()
		return nil
	})
	require.NoError(t, err)

	require.True(t, q.SetSpeed(1, 0))
	q.Abort(1)
}

func TestSetModeInvokesCallback(t *testing.T) {
	var got uint32
	q := New(func(taskID uint32) { got = taskID })
	q.SetMode(42)
	require.Equal(t, uint32(42), got)
}

func TestBackoffStaysWithinCap(t *testing.T) {
	b := NewBackoff()
	b.cap = 10 * time.Second

	prevMax := time.Duration(0)
	for i := 0; i < 10; i++ {
		d := b.Next()
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, b.cap)
		prevMax = d
	}
	_ = prevMax
}

func TestBackoffSleepRespectsCancellation(t *testing.T) {
	b := NewBackoff()
	b.base = time.Hour // force a long delay so cancellation wins the race

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Sleep(ctx)
	require.True(t, errors.Is(err, context.Canceled))
}

func TestBackoffResetRestartsFromBase(t *testing.T) {
	b := NewBackoff()
	b.Next()
	b.Next()
	b.Reset()
	require.Equal(t, 0, b.tries)
}
