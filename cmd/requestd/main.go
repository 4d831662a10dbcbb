// Command requestd is the process entrypoint: it wires every component
// into a running service and blocks until an OS signal arrives.
//
// Grounded on the teacher's main.go composition root (logger -> storage ->
// engine -> config -> control server -> signal handling), with the Wails/
// systray GUI shell and MCP mode dropped — process bootstrapping and the
// IPC binding layer are out of scope here (§1); this entrypoint exists only
// to stand the service up for direct testing.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/oniro-request/requestd/internal/api"
	"github.com/oniro-request/requestd/internal/appmon"
	"github.com/oniro-request/requestd/internal/cachedownload"
	"github.com/oniro-request/requestd/internal/config"
	"github.com/oniro-request/requestd/internal/keeper"
	"github.com/oniro-request/requestd/internal/kv"
	"github.com/oniro-request/requestd/internal/logger"
	"github.com/oniro-request/requestd/internal/netmon"
	"github.com/oniro-request/requestd/internal/notify"
	"github.com/oniro-request/requestd/internal/runqueue"
	"github.com/oniro-request/requestd/internal/scheduler"
	"github.com/oniro-request/requestd/internal/store"
	"github.com/oniro-request/requestd/internal/task"
)

func main() {
	dataDir := flag.String("data-dir", defaultDataDir(), "directory for the task store, kv settings, and logs")
	flag.Parse()

	log, err := logger.New(os.Stdout, *dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logger:", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		log.Error("failed to create data dir", "error", err)
		os.Exit(1)
	}

	kvStore, err := kv.Open(filepath.Join(*dataDir, "settings"))
	if err != nil {
		log.Error("failed to open settings store", "error", err)
		os.Exit(1)
	}
	defer kvStore.Close()
	cfg := config.NewManager(kvStore)

	taskStore, err := store.Open(filepath.Join(*dataDir, "requestd.db"))
	if err != nil {
		log.Error("failed to open task store", "error", err)
		os.Exit(1)
	}
	defer taskStore.Close()

	gc := store.NewGCScheduler(log, taskStore)
	if err := gc.Start(); err != nil {
		log.Error("failed to start gc scheduler", "error", err)
	}
	defer gc.Stop()

	netMon := netmon.New(nil)
	go netMon.Run(5 * time.Second)
	defer netMon.Stop()

	appMon := appmon.New()
	hub := notify.NewHub()
	keep := keeper.New(func() {
		log.Info("idle timeout reached, scheduler unloading")
	})
	runq := runqueue.New(nil)

	ramCache := cachedownload.NewRamCache(cfg.GetRAMCacheBytes())
	fileCache, err := cachedownload.NewFileCache(filepath.Join(*dataDir, "filecache"), cfg.GetFileCacheBytes())
	if err != nil {
		log.Error("failed to open file cache", "error", err)
		os.Exit(1)
	}
	cacheEngine := cachedownload.NewEngine(ramCache, fileCache)

	sched := scheduler.New(log, taskStore, netMon, appMon, runq, hub, keep, httpRunner(cacheEngine))

	idgen := task.NewIDGenerator()
	server := api.New(log, cfg, taskStore, sched, netMon, idgen)
	server.Start(cfg.GetControlPort())

	ctx, cancel := context.WithCancel(context.Background())
	go sched.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received")
	cancel()
	sched.Stop()
}

// httpRunner returns the per-task I/O driver the scheduler spawns on
// admission. The low-level HTTP client internals (connection pooling,
// redirect handling, range-request resumption) are out of scope per §1;
// this is a minimal GET-and-discard runner sufficient to exercise the
// state machine end to end.
func httpRunner(cache *cachedownload.Engine) scheduler.Runner {
	client := &http.Client{}
	return func(ctx context.Context, t *task.Task, limiter *rate.Limiter) error {
		req, err := http.NewRequestWithContext(ctx, "GET", t.Config.URL, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		buf := make([]byte, 32*1024)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				if werr := limiter.WaitN(ctx, n); werr != nil {
					return werr
				}
			}
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
		}
	}
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "requestd")
}
