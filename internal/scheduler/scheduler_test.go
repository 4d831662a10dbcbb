package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/oniro-request/requestd/internal/appmon"
	"github.com/oniro-request/requestd/internal/keeper"
	"github.com/oniro-request/requestd/internal/netmon"
	"github.com/oniro-request/requestd/internal/notify"
	"github.com/oniro-request/requestd/internal/runqueue"
	"github.com/oniro-request/requestd/internal/store"
	"github.com/oniro-request/requestd/internal/task"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestScheduler(t *testing.T, runner Runner) (*Scheduler, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	netMon := netmon.New(func() bool { return true })
	netMon.SetState(netmon.State{Online: true, Bearer: netmon.BearerWifi})
	app := appmon.New()
	runq := runqueue.New(nil)
	hub := notify.NewHub()
	keep := keeper.New(nil)

	s := New(testLogger(), st, netMon, app, runq, hub, keep, runner)
	return s, st
}

func sampleTask(id uint32, uid uint64) *task.Task {
	now := time.Now()
	return &task.Task{
		ID: id,
		Config: task.Config{
			UID:     uid,
			Bundle:  "com.example.app",
			Action:  task.ActionDownload,
			Mode:    task.ModeForeground,
			Version: task.V10,
			URL:     "https://host/file",
		},
		State: task.Initialized,
		CTime: now,
		MTime: now,
	}
}

func TestBasicDownloadCompletes(t *testing.T) {
	runner := func(ctx context.Context, t *task.Task, limiter *rate.Limiter) error {
		return nil
	}
	s, st := newTestScheduler(t, runner)
	s.app.SetForeground(1000, true)

	tk := sampleTask(1, 1000)
	require.NoError(t, st.Insert(tk))
	s.LoadTask(tk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.Submit(Event{Kind: KindStart, TaskID: 1})

	require.Eventually(t, func() bool {
		got, err := st.GetInfo(1)
		return err == nil && got.State == task.Completed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPauseTransitionsRunningToPaused(t *testing.T) {
	block := make(chan struct{})
	runner := func(ctx context.Context, t *task.Task, limiter *rate.Limiter) error {
		<-block
		return nil
	}
	s, st := newTestScheduler(t, runner)
	s.app.SetForeground(1000, true)

	tk := sampleTask(1, 1000)
	require.NoError(t, st.Insert(tk))
	s.LoadTask(tk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.Submit(Event{Kind: KindStart, TaskID: 1})
	require.Eventually(t, func() bool {
		got, err := st.GetInfo(1)
		return err == nil && got.State == task.Running
	}, 2*time.Second, 10*time.Millisecond)

	s.Submit(Event{Kind: KindPause, TaskID: 1})
	require.Eventually(t, func() bool {
		got, err := st.GetInfo(1)
		return err == nil && got.State == task.Paused
	}, 2*time.Second, 10*time.Millisecond)

	close(block)
}

// TestNetworkOffTransitionsRunningToRetrying covers the network-flap seed
// scenario: a running task knocked offline must move to Retrying (not be
// silently rejected while the store still says Running with no runner).
func TestNetworkOffTransitionsRunningToRetrying(t *testing.T) {
	runner := func(ctx context.Context, t *task.Task, limiter *rate.Limiter) error {
		<-ctx.Done()
		return ctx.Err()
	}
	s, st := newTestScheduler(t, runner)
	s.app.SetForeground(1000, true)

	tk := sampleTask(1, 1000)
	require.NoError(t, st.Insert(tk))
	s.LoadTask(tk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.Submit(Event{Kind: KindStart, TaskID: 1})
	require.Eventually(t, func() bool {
		got, err := st.GetInfo(1)
		return err == nil && got.State == task.Running
	}, 2*time.Second, 10*time.Millisecond)

	s.net.SetState(netmon.State{Online: false})
	s.Submit(Event{Kind: KindNetworkChanged})

	require.Eventually(t, func() bool {
		got, err := st.GetInfo(1)
		return err == nil && got.State == task.Retrying && got.Reason == task.ReasonNetworkOffline
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return !s.runq.Running(1)
	}, 2*time.Second, 10*time.Millisecond, "runner must be aborted once the task leaves Running")
}

// TestAppBackgroundTimeoutForcesRunningTaskToPaused covers the 30s
// foreground-grace countdown (§4.3): once it fires while still
// backgrounded, a foreground-only task running in the background must be
// forced to Paused and its runner aborted.
func TestAppBackgroundTimeoutForcesRunningTaskToPaused(t *testing.T) {
	block := make(chan struct{})
	runner := func(ctx context.Context, t *task.Task, limiter *rate.Limiter) error {
		select {
		case <-block:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s, st := newTestScheduler(t, runner)
	s.app.SetForeground(1000, true)

	tk := sampleTask(1, 1000)
	require.NoError(t, st.Insert(tk))
	s.LoadTask(tk)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	s.Submit(Event{Kind: KindStart, TaskID: 1})
	require.Eventually(t, func() bool {
		got, err := st.GetInfo(1)
		return err == nil && got.State == task.Running
	}, 2*time.Second, 10*time.Millisecond)

	s.app.SetForeground(1000, false)
	// Drive the grace-period expiry directly rather than sleeping the full
	// 30s: handleBgTimeoutFired is exactly what the timer invokes at expiry.
	s.Submit(Event{Kind: kindAppBgTimeoutFired, UID: 1000})

	require.Eventually(t, func() bool {
		got, err := st.GetInfo(1)
		return err == nil && got.State == task.Paused && got.Reason == task.ReasonAppBackgroundOrTerminate
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return !s.runq.Running(1)
	}, 2*time.Second, 10*time.Millisecond, "runner must be aborted once the task leaves Running")

	close(block)
}
