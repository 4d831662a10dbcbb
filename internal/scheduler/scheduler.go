package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/oniro-request/requestd/internal/appmon"
	"github.com/oniro-request/requestd/internal/keeper"
	"github.com/oniro-request/requestd/internal/netmon"
	"github.com/oniro-request/requestd/internal/notify"
	"github.com/oniro-request/requestd/internal/qos"
	"github.com/oniro-request/requestd/internal/runqueue"
	"github.com/oniro-request/requestd/internal/store"
	"github.com/oniro-request/requestd/internal/task"
)

// Runner is the per-task I/O driver the scheduler invokes when qos admits
// a task; its shape mirrors runqueue.RunFunc. The actual HTTP transport is
// out of scope here (§1), so callers inject it.
type Runner func(ctx context.Context, t *task.Task, limiter *rate.Limiter) error

const tickInterval = 10 * time.Second

// appBackgroundGrace is the §4.3 foreground-timeout-before-forced-pause
// window: 30 seconds of continuous backgrounding before a running
// foreground-only task is forced out of Running.
const appBackgroundGrace = 30 * time.Second

// Scheduler is the single-threaded event loop of §4.6.
type Scheduler struct {
	logger *slog.Logger
	store  *store.Store
	net    *netmon.Monitor
	app    *appmon.Monitor
	runq   *runqueue.Queue
	hub    *notify.Hub
	keep   *keeper.Keeper
	runner Runner

	mu        sync.Mutex
	tasks     map[uint32]*task.Task
	backoffs  map[uint32]*runqueue.Backoff
	partition map[uint32]qos.Decision
	rssLevel  int
	bgTimers  map[uint64]*time.Timer

	events chan Event
	stop   chan struct{}
}

func New(logger *slog.Logger, st *store.Store, net *netmon.Monitor, app *appmon.Monitor, runq *runqueue.Queue, hub *notify.Hub, keep *keeper.Keeper, runner Runner) *Scheduler {
	return &Scheduler{
		logger:    logger,
		store:     st,
		net:       net,
		app:       app,
		runq:      runq,
		hub:       hub,
		keep:      keep,
		runner:    runner,
		tasks:     make(map[uint32]*task.Task),
		backoffs:  make(map[uint32]*runqueue.Backoff),
		partition: make(map[uint32]qos.Decision),
		bgTimers:  make(map[uint64]*time.Timer),
		events:    make(chan Event, 256),
		stop:      make(chan struct{}),
	}
}

// Submit enqueues an event for the loop to process. FIFO by arrival.
func (s *Scheduler) Submit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.stop:
	}
}

// Run drives the event loop until Stop is called. Intended to run in its
// own goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.handle(Event{Kind: KindTick})
		case ev := <-s.events:
			s.handle(ev)
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stop)
}

// LoadTask registers a task the scheduler should track; the control server
// calls it for each task it creates. Non-terminal tasks count toward the
// keeper's active counter.
func (s *Scheduler) LoadTask(t *task.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
	if !t.State.Terminal() {
		s.keep.Inc()
	}
}

// handle processes one event: (1) persistent state update, (2) recompute
// eligibility/capacity, (3) reconcile the run queue, (4) notify.
// Single-goroutine execution is what gives every task_id serialized
// transitions and cross-task FIFO ordering (§4.6's ordering guarantee).
func (s *Scheduler) handle(ev Event) {
	s.keep.Touch()

	switch ev.Kind {
	case KindStart, KindPause, KindResume, KindStop, KindRemove:
		s.handleLifecycle(ev)
	case KindSetMode:
		s.handleSetMode(ev)
	case KindSetMaxSpeed:
		s.runq.SetSpeed(ev.TaskID, ev.Speed)
	case KindNetworkChanged:
		s.handleNetworkChanged()
	case KindAppForeground:
		s.cancelBgTimer(ev.UID)
		s.app.SetForeground(ev.UID, true)
	case KindAppBackground:
		s.app.SetForeground(ev.UID, false)
		s.scheduleBgTimeout(ev.UID)
	case KindAppTerminated:
		s.app.NotifyTerminated(ev.PID)
		s.hub.GCTerminated(s.app.IsTerminated)
	case kindAppBgTimeoutFired:
		s.handleBgTimeoutFired(ev.UID)
	case KindAccountsChanged:
		// appmon.SetAccountActive is called by the caller directly before
		// submitting this event; we just re-evaluate the affected tasks.
		s.handleAccountsChanged(ev)
	case KindRssChanged:
		s.mu.Lock()
		s.rssLevel = ev.Speed
		s.mu.Unlock()
	case KindRunnerCompleted:
		s.handleRunnerCompleted(ev)
	case KindRunnerFailed:
		s.handleRunnerFailed(ev)
	case KindTick:
		// cooperative clock wakeup; falls through to reconcile below
	case KindUnload:
		s.handleUnload()
		return
	}

	s.reconcile()
}

func (s *Scheduler) handleLifecycle(ev Event) {
	s.mu.Lock()
	t, ok := s.tasks[ev.TaskID]
	s.mu.Unlock()
	if !ok {
		return
	}

	var tev task.Event
	switch ev.Kind {
	case KindStart:
		tev = task.EventStart
	case KindPause:
		tev = task.EventPauseUser
	case KindResume:
		tev = task.EventResume
	case KindStop:
		tev = task.EventStopUser
	case KindRemove:
		tev = task.EventRemove
	}

	action, ok := task.Next(t.State, tev, t.Kind(), true, task.ReasonDefault)
	if !ok || action.Ignore {
		return
	}

	s.applyTransition(t, action)
}

func (s *Scheduler) handleSetMode(ev Event) {
	s.mu.Lock()
	t, ok := s.tasks[ev.TaskID]
	if ok {
		t.Config.Mode = ev.Mode
	}
	s.mu.Unlock()
	if ok {
		s.runq.SetMode(ev.TaskID)
	}
}

// handleNetworkChanged re-evaluates every tracked non-terminal task against
// the monitor's current snapshot and fires the specific §4.3 network events
// (EventNetOff when offline, EventNetTypeBad when online but the task's
// Config disallows the current bearer/metered combination) rather than
// leaving it to reconcile's generic capacity-based reject.
func (s *Scheduler) handleNetworkChanged() {
	state := s.net.Snapshot()
	s.mu.Lock()
	tasks := make([]*task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if !t.State.Terminal() {
			tasks = append(tasks, t)
		}
	}
	s.mu.Unlock()

	for _, t := range tasks {
		switch {
		case !state.Online:
			s.applyMonitorEvent(t, task.EventNetOff, task.ReasonNetworkOffline)
		case !networkCompatible(t.Config, state):
			s.applyMonitorEvent(t, task.EventNetTypeBad, task.ReasonUnsupportedNetworkType)
		}
	}
}

// networkCompatible reports whether cfg's network requirements (§3) are met
// by the monitor's current bearer state.
func networkCompatible(cfg task.Config, state netmon.State) bool {
	if state.Metered && !cfg.Metered {
		return false
	}
	switch cfg.NetworkConfig {
	case task.NetworkWifi:
		return state.Bearer == netmon.BearerWifi || state.Bearer == netmon.BearerWifiAware
	case task.NetworkCellular:
		return state.Bearer == netmon.BearerCellular
	default:
		return true
	}
}

// scheduleBgTimeout starts (restarting if already running) the 30s
// foreground-grace countdown for uid; if it fires while uid is still
// backgrounded, handleBgTimeoutFired forces uid's foreground-only tasks out
// of Running.
func (s *Scheduler) scheduleBgTimeout(uid uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.bgTimers[uid]; ok {
		t.Stop()
	}
	s.bgTimers[uid] = time.AfterFunc(appBackgroundGrace, func() {
		s.Submit(Event{Kind: kindAppBgTimeoutFired, UID: uid})
	})
}

// cancelBgTimer stops uid's pending background-grace countdown, if any
// (called when uid returns to the foreground before it fires).
func (s *Scheduler) cancelBgTimer(uid uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.bgTimers[uid]; ok {
		t.Stop()
		delete(s.bgTimers, uid)
	}
}

// handleBgTimeoutFired applies EventAppBgTimeout to every non-terminal,
// foreground-only task owned by uid, provided uid is still backgrounded
// (a race with a foreground-again event that arrived just after the timer
// fired is resolved in favor of the later, authoritative state).
func (s *Scheduler) handleBgTimeoutFired(uid uint64) {
	s.mu.Lock()
	delete(s.bgTimers, uid)
	tasks := make([]*task.Task, 0)
	for _, t := range s.tasks {
		if !t.State.Terminal() && t.Config.UID == uid && t.Config.Mode != task.ModeBackground {
			tasks = append(tasks, t)
		}
	}
	s.mu.Unlock()

	if s.app.IsForeground(uid) {
		return
	}
	for _, t := range tasks {
		s.applyMonitorEvent(t, task.EventAppBgTimeout, task.ReasonAppBackgroundOrTerminate)
	}
}

// handleAccountsChanged re-evaluates uid's tasks under ev.Account once the
// caller has already updated appmon's active-account set, firing
// EventAcctInactive for any that now belong to a deactivated account.
func (s *Scheduler) handleAccountsChanged(ev Event) {
	s.mu.Lock()
	tasks := make([]*task.Task, 0)
	for _, t := range s.tasks {
		if !t.State.Terminal() && t.Config.UID == ev.UID && t.Config.AtomicAccount == ev.Account {
			tasks = append(tasks, t)
		}
	}
	s.mu.Unlock()

	if s.app.IsAccountActive(ev.UID, ev.Account) {
		return
	}
	for _, t := range tasks {
		s.applyMonitorEvent(t, task.EventAcctInactive, task.ReasonAccountStopped)
	}
}

// applyMonitorEvent resolves a monitor-driven event through the state
// machine and, if it actually moves the task, persists/notifies via
// applyTransition. Non-matching (current state, event) pairs are the
// table's "—" cells and are left untouched.
func (s *Scheduler) applyMonitorEvent(t *task.Task, ev task.Event, reason task.Reason) {
	action, ok := task.Next(t.State, ev, t.Kind(), true, reason)
	if !ok || action.Ignore {
		return
	}
	s.applyTransition(t, action)
}

func (s *Scheduler) handleRunnerCompleted(ev Event) {
	s.mu.Lock()
	t, ok := s.tasks[ev.TaskID]
	s.mu.Unlock()
	if !ok {
		return
	}
	action, ok := task.Next(t.State, task.EventRunOK, t.Kind(), false, task.ReasonDefault)
	if ok && !action.Ignore {
		s.applyTransition(t, action)
	}
}

func (s *Scheduler) handleRunnerFailed(ev Event) {
	s.mu.Lock()
	t, ok := s.tasks[ev.TaskID]
	s.mu.Unlock()
	if !ok {
		return
	}
	retryEligible := ev.ErrReason.Retriable()
	action, ok := task.Next(t.State, task.EventRunErr, t.Kind(), retryEligible, ev.ErrReason)
	if ok && !action.Ignore {
		s.applyTransition(t, action)
	}
}

// applyTransition persists the transition via C1, updates the in-memory
// cache, and notifies subscribers. Store errors are logged and retried
// once; persistent failure is logged and left for the next reconcile pass
// (§7 propagation policy).
func (s *Scheduler) applyTransition(t *task.Task, action task.Action) {
	from := t.State
	ok, err := s.store.UpdateState(t.ID, from, action.Target, action.Reason)
	if err != nil {
		ok, err = s.store.UpdateState(t.ID, from, action.Target, action.Reason)
	}
	if err != nil {
		s.logger.Error("persist transition failed", "task_id", t.ID, "error", err)
		return
	}
	if !ok {
		return
	}

	s.mu.Lock()
	t.State = action.Target
	t.Reason = action.Reason
	wasTerminal := from.Terminal()
	isTerminal := action.Target.Terminal()
	s.mu.Unlock()

	if !wasTerminal && isTerminal {
		s.keep.Dec()
	}
	// Any transition that leaves Running must abort the run queue's runner,
	// not just terminal ones: the §3 invariant "a task may only be
	// Running/Retrying if the run queue holds exactly one runner for it" is
	// violated just as badly by Running->Retrying/Paused/Waiting (network
	// loss, app backgrounding, account deactivation) as by Running->Failed.
	if isTerminal || (from == task.Running && action.Target != task.Running) {
		s.runq.Abort(t.ID)
	}

	s.notifyForTransition(t, action)
}

func (s *Scheduler) notifyForTransition(t *task.Task, action task.Action) {
	var kind notify.EventKind
	switch action.Target {
	case task.Completed:
		kind = notify.EventCompleted
	case task.Failed:
		kind = notify.EventFailed
	case task.Paused:
		kind = notify.EventPause
	case task.Running:
		kind = notify.EventResume
	case task.Removed:
		kind = notify.EventRemove
	default:
		kind = notify.EventProgress
	}
	s.hub.Publish(notify.Event{
		TaskID: t.ID,
		Kind:   kind,
		Reason: action.Reason.String(),
	})
}

func (s *Scheduler) handleUnload() {
	s.hub.Publish(notify.Event{Kind: notify.EventRemove})
}

// reconcile recomputes C4's partition over all tracked candidates and
// reconciles the run queue to match (spawn newly admitted, abort newly
// rejected, reprice repriced), per §4.6 step 2-3.
func (s *Scheduler) reconcile() {
	s.mu.Lock()
	rssLevel := s.rssLevel
	candidates := make([]qos.Candidate, 0, len(s.tasks))
	for _, t := range s.tasks {
		if t.State.Terminal() {
			continue
		}
		candidates = append(candidates, qos.Candidate{
			TaskID:      t.ID,
			UID:         t.Config.UID,
			State:       t.State,
			Mode:        t.Config.Mode,
			Version:     t.Config.Version,
			Priority:    t.Config.Priority,
			MTimeUnixNs: t.MTime.UnixNano(),
			Foreground:  s.app.IsForeground(t.Config.UID),
			AllowedBg:   t.Config.Mode == task.ModeBackground,
			AccountOK:   true,
			NetworkOK:   s.net.Snapshot().Online,
		})
	}
	prev := make([]qos.Decision, 0, len(s.partition))
	for _, d := range s.partition {
		prev = append(prev, d)
	}
	s.mu.Unlock()

	next := qos.Partition(candidates, rssLevel)
	changes := qos.Diff(prev, next)

	s.mu.Lock()
	s.partition = make(map[uint32]qos.Decision, len(next))
	for _, d := range next {
		s.partition[d.TaskID] = d
	}
	s.mu.Unlock()

	for _, d := range changes.ToAdmit {
		s.admit(d)
	}
	for _, d := range changes.ToReprice {
		s.runq.SetSpeed(d.TaskID, int(d.Tier.BytesPerSecond()))
	}
	for _, id := range changes.ToReject {
		s.reject(id)
	}
}

func (s *Scheduler) admit(d qos.Decision) {
	s.mu.Lock()
	t, ok := s.tasks[d.TaskID]
	bo, hasBO := s.backoffs[d.TaskID]
	if !hasBO {
		bo = runqueue.NewBackoff()
		s.backoffs[d.TaskID] = bo
	}
	s.mu.Unlock()
	if !ok || s.runner == nil {
		return
	}
	if s.runq.Running(d.TaskID) {
		s.runq.SetSpeed(d.TaskID, int(d.Tier.BytesPerSecond()))
		return
	}

	action, transitioned := task.Next(t.State, task.EventSchedAdmit, t.Kind(), true, task.ReasonDefault)
	if transitioned && !action.Ignore {
		s.applyTransition(t, action)
	}

	_, err := s.runq.Spawn(context.Background(), d.TaskID, int(d.Tier.BytesPerSecond()), func(ctx context.Context, limiter *rate.Limiter) error {
		err := s.runner(ctx, t, limiter)
		if ctx.Err() != nil {
			// Aborted by the scheduler: the transition that aborted the
			// runner has already been applied, so this is not a run error.
			return err
		}
		if err != nil {
			s.Submit(Event{Kind: KindRunnerFailed, TaskID: d.TaskID, ErrReason: task.ReasonOthersError})
		} else {
			bo.Reset()
			s.Submit(Event{Kind: KindRunnerCompleted, TaskID: d.TaskID})
		}
		return err
	})
	if err != nil && s.logger != nil {
		s.logger.Warn("spawn failed", "task_id", d.TaskID, "error", err)
	}
}

func (s *Scheduler) reject(taskID uint32) {
	s.runq.Abort(taskID)
	s.mu.Lock()
	t, ok := s.tasks[taskID]
	s.mu.Unlock()
	if !ok {
		return
	}
	action, transitioned := task.Next(t.State, task.EventSchedReject, t.Kind(), true, task.ReasonRunningTaskMeetLimits)
	if transitioned && !action.Ignore {
		s.applyTransition(t, action)
	}
}
