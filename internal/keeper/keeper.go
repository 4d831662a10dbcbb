// Package keeper implements C9, the keeper/unload watchdog: a counter of
// non-terminal in-memory tasks plus subscribed clients that, once it drops
// to zero, starts a 60s countdown to an unload event (§4.9).
//
// Grounded on internal/core/lifecycle.go's WaitForSignals — the same
// "register a callback, fire once, done" shape — generalized from a single
// OS-signal trigger into a cancel-and-reset idle timer driven by the
// scheduler's own event stream instead of os/signal.
package keeper

import (
	"sync"
	"time"
)

const idleTimeout = 60 * time.Second

// Keeper tracks active = non-terminal tasks + subscribed clients, firing
// onUnload once active has stayed at zero for idleTimeout.
type Keeper struct {
	mu       sync.Mutex
	active   int
	timer    *time.Timer
	onUnload func()
	timeout  time.Duration
}

func New(onUnload func()) *Keeper {
	return &Keeper{onUnload: onUnload, timeout: idleTimeout}
}

// Inc increments the active counter, canceling any pending countdown.
func (k *Keeper) Inc() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.active++
	k.cancelTimerLocked()
}

// Dec decrements the active counter; if it reaches zero, starts the
// countdown to Schedule::Unload.
func (k *Keeper) Dec() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.active > 0 {
		k.active--
	}
	if k.active == 0 {
		k.startTimerLocked()
	}
}

// Touch cancels any pending countdown without changing the counter — any
// new event before expiry cancels the countdown (§4.9), even one that
// doesn't itself change `active`. If `active` is zero, a fresh countdown
// starts right away.
func (k *Keeper) Touch() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.cancelTimerLocked()
	if k.active == 0 {
		k.startTimerLocked()
	}
}

func (k *Keeper) startTimerLocked() {
	k.cancelTimerLocked()
	k.timer = time.AfterFunc(k.timeout, func() {
		k.mu.Lock()
		stillIdle := k.active == 0
		k.mu.Unlock()
		if stillIdle && k.onUnload != nil {
			k.onUnload()
		}
	})
}

func (k *Keeper) cancelTimerLocked() {
	if k.timer != nil {
		k.timer.Stop()
		k.timer = nil
	}
}

// Active returns the current counter value.
func (k *Keeper) Active() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.active
}

// Stop cancels any pending countdown permanently.
func (k *Keeper) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.cancelTimerLocked()
}
