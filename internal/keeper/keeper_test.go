package keeper

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUnloadFiresAfterIdleTimeout(t *testing.T) {
	var fired int32
	k := New(func() { atomic.AddInt32(&fired, 1) })
	k.timeout = 30 * time.Millisecond

	k.Inc()
	k.Dec()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&fired) == 1 }, time.Second, 5*time.Millisecond)
}

func TestNewEventCancelsCountdown(t *testing.T) {
	var fired int32
	k := New(func() { atomic.AddInt32(&fired, 1) })
	k.timeout = 50 * time.Millisecond

	k.Inc()
	k.Dec() // active drops to 0, countdown starts

	time.Sleep(20 * time.Millisecond)
	k.Inc() // new event cancels countdown
	time.Sleep(80 * time.Millisecond)

	require.Equal(t, int32(0), atomic.LoadInt32(&fired))
}

func TestTouchRestartsCountdownWhenIdle(t *testing.T) {
	var fired int32
	k := New(func() { atomic.AddInt32(&fired, 1) })
	k.timeout = 30 * time.Millisecond

	k.Touch()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&fired) == 1 }, time.Second, 5*time.Millisecond)
}

func TestActiveNeverNegative(t *testing.T) {
	k := New(nil)
	k.Dec()
	k.Dec()
	require.Equal(t, 0, k.Active())
}
