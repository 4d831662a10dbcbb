package cachedownload

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	fc, err := NewFileCache(filepath.Join(t.TempDir(), "cache"), 1024*1024)
	require.NoError(t, err)
	return NewEngine(NewRamCache(1024), fc)
}

func TestRamCacheFIFOEviction(t *testing.T) {
	c := NewRamCache(10)
	c.Put(Entry{Fingerprint: "a", Size: 4})
	c.Put(Entry{Fingerprint: "b", Size: 4})
	evicted := c.Put(Entry{Fingerprint: "c", Size: 4})

	require.Len(t, evicted, 1)
	require.Equal(t, "a", evicted[0].Fingerprint)
	require.LessOrEqual(t, c.Size(), int64(10))
}

func TestPreloadCacheHitSkipsDownloader(t *testing.T) {
	e := newTestEngine(t)
	var calls int32
	downloader := func(ctx context.Context, req Request) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("payload"), nil
	}

	h1 := e.Preload(context.Background(), Request{URL: "https://host/a"}, false, downloader)
	o1 := h1.Wait()
	require.NoError(t, o1.Err)
	require.Equal(t, "payload", string(o1.Bytes))

	h2 := e.Preload(context.Background(), Request{URL: "https://host/a"}, false, downloader)
	o2 := h2.Wait()
	require.NoError(t, o2.Err)
	require.Equal(t, "payload", string(o2.Bytes))
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestPreloadConcurrentAttachesToSingleFetch(t *testing.T) {
	e := newTestEngine(t)
	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})
	downloader := func(ctx context.Context, req Request) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		close(started)
		<-release
		return []byte("payload"), nil
	}

	h1 := e.Preload(context.Background(), Request{URL: "https://host/b"}, false, downloader)
	<-started
	h2 := e.Preload(context.Background(), Request{URL: "https://host/b"}, false, downloader)
	close(release)

	o1 := h1.Wait()
	o2 := h2.Wait()
	require.Equal(t, o1.Bytes, o2.Bytes)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestUpdateBypassesCache(t *testing.T) {
	e := newTestEngine(t)
	var calls int32
	downloader := func(ctx context.Context, req Request) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("v"), nil
	}

	e.Preload(context.Background(), Request{URL: "https://host/c"}, false, downloader).Wait()
	e.Preload(context.Background(), Request{URL: "https://host/c"}, true, downloader).Wait()
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestCancelAbortsWhenNoOtherSubscribers(t *testing.T) {
	e := newTestEngine(t)
	started := make(chan struct{})
	downloader := func(ctx context.Context, req Request) ([]byte, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}

	h := e.Preload(context.Background(), Request{URL: "https://host/d"}, false, downloader)
	<-started
	require.True(t, e.Cancel("https://host/d"))

	select {
	case o := <-h.done:
		require.Error(t, o.Err)
	case <-time.After(time.Second):
		t.Fatal("expected cancellation outcome")
	}
}

func TestSetRamCacheSizeSpillsToFileCache(t *testing.T) {
	e := newTestEngine(t)
	downloader := func(ctx context.Context, req Request) ([]byte, error) {
		return make([]byte, 600), nil
	}
	e.Preload(context.Background(), Request{URL: "https://host/e"}, false, downloader).Wait()

	e.SetRamCacheSize(100)

	fp := Fingerprint("https://host/e")
	_, ok := e.file.Get(fp)
	require.True(t, ok)
}
