package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/oniro-request/requestd/internal/appmon"
	"github.com/oniro-request/requestd/internal/keeper"
	"github.com/oniro-request/requestd/internal/kv"
	"github.com/oniro-request/requestd/internal/netmon"
	"github.com/oniro-request/requestd/internal/notify"
	"github.com/oniro-request/requestd/internal/runqueue"
	"github.com/oniro-request/requestd/internal/scheduler"
	"github.com/oniro-request/requestd/internal/store"
	"github.com/oniro-request/requestd/internal/task"

	"github.com/oniro-request/requestd/internal/config"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	kvStore, err := kv.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = kvStore.Close() })
	cfg := config.NewManager(kvStore)
	token := cfg.GetControlToken()

	nm := netmon.New(func() bool { return true })
	nm.SetState(netmon.State{Online: true})
	app := appmon.New()
	runq := runqueue.New(nil)
	hub := notify.NewHub()
	keep := keeper.New(nil)

	runner := func(ctx context.Context, t *task.Task, limiter *rate.Limiter) error { return nil }
	sched := scheduler.New(slog.New(slog.NewTextHandler(io.Discard, nil)), st, nm, app, runq, hub, keep, runner)

	idgen := task.NewIDGenerator()
	s := New(slog.New(slog.NewTextHandler(io.Discard, nil)), cfg, st, sched, nm, idgen)
	return s, token
}

func TestCreateTaskRequiresToken(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", bytes.NewBufferString(`{"url":"https://host/f"}`))
	req.RemoteAddr = "127.0.0.1:5000"
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateTaskSucceedsWithToken(t *testing.T) {
	s, token := newTestServer(t)
	body := `{"uid":1000,"bundle":"com.example.app","url":"https://host/f"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", bytes.NewBufferString(body))
	req.RemoteAddr = "127.0.0.1:5000"
	req.Header.Set("X-Request-Token", token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]uint32
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotZero(t, resp["task_id"])
}

func TestNonLoopbackRejected(t *testing.T) {
	s, token := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/diagnostics/network", nil)
	req.RemoteAddr = "10.0.0.5:5000"
	req.Header.Set("X-Request-Token", token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestNetworkStateRoute(t *testing.T) {
	s, token := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/diagnostics/network", nil)
	req.RemoteAddr = "127.0.0.1:5000"
	req.Header.Set("X-Request-Token", token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var state netmon.State
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&state))
	require.True(t, state.Online)
}
