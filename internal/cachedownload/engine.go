package cachedownload

import (
	"context"
	"sync"
)

// Request is a preload request (§4.8).
type Request struct {
	URL     string
	Headers map[string]string
}

// Downloader fetches the bytes for a request; supplied by the caller so
// this package stays transport-agnostic (the real HTTP client internals
// are out of scope here, per spec §1).
type Downloader func(ctx context.Context, req Request) ([]byte, error)

// Outcome is the terminal result every attached callback receives exactly
// once (§4.8 invariant).
type Outcome struct {
	Bytes []byte
	Err   error
}

// TaskHandle lets a caller wait for its attached preload; cancellation goes
// through Engine.Cancel.
type TaskHandle struct {
	fingerprint string
	done        chan Outcome
}

// Wait blocks until the shared fetch completes.
func (h *TaskHandle) Wait() Outcome {
	return <-h.done
}

// inflightFetch tracks one in-progress network fetch, refcounted so
// concurrent preloads of the same URL attach instead of duplicating work.
type inflightFetch struct {
	cancel   context.CancelFunc
	refCount int
	waiters  []chan Outcome
}

// Engine is the process-wide cache-download singleton.
type Engine struct {
	mu       sync.Mutex
	ram      *RamCache
	file     *FileCache
	inflight map[string]*inflightFetch
}

func NewEngine(ram *RamCache, file *FileCache) *Engine {
	e := &Engine{
		ram:      ram,
		file:     file,
		inflight: make(map[string]*inflightFetch),
	}
	return e
}

// Preload is the singleton's main entry point. update=true bypasses the
// cache and forces a fresh fetch.
func (e *Engine) Preload(ctx context.Context, req Request, update bool, downloader Downloader) *TaskHandle {
	fp := Fingerprint(req.URL)
	done := make(chan Outcome, 1)
	handle := &TaskHandle{fingerprint: fp, done: done}

	if !update {
		if entry, ok := e.cacheGet(fp); ok {
			done <- Outcome{Bytes: entry}
			return handle
		}
	}

	e.mu.Lock()
	if f, ok := e.inflight[fp]; ok {
		// Attach: at most one concurrent network fetch per fingerprint.
		f.refCount++
		f.waiters = append(f.waiters, done)
		e.mu.Unlock()
		return handle
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	f := &inflightFetch{cancel: cancel, refCount: 1, waiters: []chan Outcome{done}}
	e.inflight[fp] = f
	e.mu.Unlock()

	go e.runFetch(fetchCtx, req, fp, downloader)
	return handle
}

func (e *Engine) runFetch(ctx context.Context, req Request, fp string, downloader Downloader) {
	bytes, err := downloader(ctx, req)

	e.mu.Lock()
	f, ok := e.inflight[fp]
	delete(e.inflight, fp)
	e.mu.Unlock()
	if !ok {
		return
	}

	outcome := Outcome{Bytes: bytes, Err: err}
	if err == nil {
		e.deposit(fp, req.URL, bytes)
	}
	for _, w := range f.waiters {
		w <- outcome
	}
}

func (e *Engine) deposit(fp, url string, data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	evicted := e.ram.Put(Entry{Fingerprint: fp, URL: url, Bytes: data, Size: int64(len(data))})
	for _, ev := range evicted {
		_ = e.file.Spill(ev)
	}
}

func (e *Engine) cacheGet(fp string) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entry, ok := e.ram.Get(fp); ok {
		return entry.Bytes, true
	}
	if data, ok := e.file.Get(fp); ok {
		return data, true
	}
	return nil, false
}

// Cancel aborts the in-flight fetch for url if no other subscribers remain
// (§4.8: "cancel(url) — if in-flight and no other subscribers remain,
// abort").
func (e *Engine) Cancel(url string) bool {
	fp := Fingerprint(url)
	e.mu.Lock()
	defer e.mu.Unlock()
	f, ok := e.inflight[fp]
	if !ok {
		return false
	}
	f.refCount--
	if f.refCount > 0 {
		return false
	}
	f.cancel()
	delete(e.inflight, fp)
	// runFetch no longer finds the entry, so the waiters get their outcome here.
	outcome := Outcome{Err: context.Canceled}
	for _, w := range f.waiters {
		w <- outcome
	}
	return true
}

// SetRamCacheSize updates the RAM cache capacity, spilling any evicted
// entries to the file cache.
func (e *Engine) SetRamCacheSize(bytes int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	evicted := e.ram.SetCapacity(bytes)
	for _, ev := range evicted {
		_ = e.file.Spill(ev)
	}
}

// SetFileCacheSize updates the file cache quota.
func (e *Engine) SetFileCacheSize(bytes int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.file.SetQuota(bytes)
}

// RebuildDirectory recreates the file-cache directory after an external
// deletion signal (§4.8's directory rebuilder).
func (e *Engine) RebuildDirectory() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.file.Rebuild()
}
