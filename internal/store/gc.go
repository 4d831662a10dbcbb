package store

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// GCScheduler runs PurgeExpired on a recurring cron schedule. Grounded on
// internal/core/scheduler.go's Scheduler (robfig/cron/v3), which the teacher
// declared and imported but never wired into go.mod or used for anything
// load-bearing (its start/stop jobs were stubs with commented-out engine
// calls) — here it drives the one piece of periodic housekeeping the store
// actually needs.
type GCScheduler struct {
	logger *slog.Logger
	store  *Store
	cron   *cron.Cron
	entry  cron.EntryID
}

// NewGCScheduler builds a scheduler that purges expired rows once a day at
// 03:00.
func NewGCScheduler(logger *slog.Logger, s *Store) *GCScheduler {
	return &GCScheduler{logger: logger, store: s, cron: cron.New()}
}

func (g *GCScheduler) Start() error {
	id, err := g.cron.AddFunc("0 3 * * *", g.runPurge)
	if err != nil {
		return err
	}
	g.entry = id
	g.cron.Start()
	return nil
}

func (g *GCScheduler) Stop() {
	g.cron.Stop()
}

func (g *GCScheduler) runPurge() {
	n, err := g.store.PurgeExpired(time.Now())
	if err != nil {
		g.logger.Error("purge_expired failed", "error", err)
		return
	}
	if n > 0 {
		g.logger.Info("purged expired task rows", "count", n)
	}
}
