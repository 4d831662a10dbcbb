// Package scheduler implements the integration loop of §4.6: a single
// cooperative event loop that serializes every task_id's state transitions
// and reconciles C1 (store), C4 (qos), C5 (run queue), and C7 (notify) on
// each event.
//
// Grounded on internal/core/engine.go's queueWorker (a single goroutine
// pulling work off a condition-guarded queue) and internal/core/
// scheduler.go's cron-driven OnTaskCompleted-style callback wiring,
// generalized from "wake up and pull the next download" into the full
// event-sourced reconciliation loop the spec requires. Uses only stdlib
// channels/goroutines — the ordering guarantee (serialized per task_id,
// FIFO across tasks) is a property of a single consumer goroutine, not of
// any library.
package scheduler

import "github.com/oniro-request/requestd/internal/task"

// Kind enumerates the event loop's input alphabet (§4.6).
type Kind int

const (
	KindStart Kind = iota
	KindPause
	KindResume
	KindStop
	KindRemove
	KindSetMode
	KindSetMaxSpeed
	KindAttachGroup

	KindNetworkChanged
	KindAppForeground
	KindAppBackground
	KindAppTerminated
	KindAppUninstalled
	KindAccountsChanged
	KindRssChanged

	KindRunnerCompleted
	KindRunnerFailed
	KindRunnerOffline
	KindRunnerRunning

	// kindAppBgTimeoutFired is internal: the scheduler submits it to itself
	// when a uid's 30s foreground-grace timer (§4.3) expires still
	// backgrounded.
	kindAppBgTimeoutFired

	KindTick
	KindUnload
)

// Event is one input to the loop. Only the fields relevant to Kind are
// populated.
type Event struct {
	Kind      Kind
	TaskID    uint32
	UID       uint64
	Account   string
	Speed     int
	Mode      task.Mode
	PID       int
	Reason    task.Reason
	ErrReason task.Reason
}
