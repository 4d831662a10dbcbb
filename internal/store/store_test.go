package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oniro-request/requestd/internal/task"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleTask(id uint32) *task.Task {
	now := time.Now()
	return &task.Task{
		ID: id,
		Config: task.Config{
			UID:    1000,
			Bundle: "com.example.app",
			Action: task.ActionDownload,
			Mode:   task.ModeForeground,
			URL:    "https://host/test.txt",
		},
		State:    task.Initialized,
		Progress: task.Progress{Sizes: []int64{-1}, Processed: []int64{0}},
		CTime:    now,
		MTime:    now,
	}
}

func TestInsertGetInfoRoundTrip(t *testing.T) {
	s := newTestStore(t)
	tk := sampleTask(1)
	require.NoError(t, s.Insert(tk))

	got, err := s.GetInfo(1)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, tk.Config.URL, got.Config.URL)
	require.Equal(t, tk.Config.Bundle, got.Config.Bundle)
	require.Equal(t, task.Initialized, got.State)
}

func TestInsertDuplicateFails(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Insert(sampleTask(1)))
	err := s.Insert(sampleTask(1))
	require.Error(t, err)
}

func TestUpdateStateCAS(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Insert(sampleTask(1)))

	ok, err := s.UpdateState(1, task.Initialized, task.Waiting, task.ReasonDefault)
	require.NoError(t, err)
	require.True(t, ok)

	// Stale precondition: task is no longer Initialized, so this is a no-op.
	ok, err = s.UpdateState(1, task.Initialized, task.Running, task.ReasonDefault)
	require.NoError(t, err)
	require.False(t, ok)

	got, _ := s.GetInfo(1)
	require.Equal(t, task.Waiting, got.State)
}

func TestSearchFilter(t *testing.T) {
	s := newTestStore(t)
	t0 := time.Now()
	tk1 := sampleTask(1)
	tk1.MTime = t0
	tk2 := sampleTask(2)
	tk2.MTime = t0
	require.NoError(t, s.Insert(tk1))
	require.NoError(t, s.Insert(tk2))

	before := t0.Add(time.Second)
	after := t0.Add(-time.Second)
	st := task.Initialized
	act := task.ActionDownload
	mode := task.ModeForeground
	ids, err := s.Search(Filter{Before: &before, After: &after, State: &st, Action: &act, Mode: &mode})
	require.NoError(t, err)
	require.ElementsMatch(t, []uint32{1, 2}, ids)

	running := task.Running
	ids, err = s.Search(Filter{Before: &before, After: &t0, State: &running})
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestPurgeExpiredIdempotent(t *testing.T) {
	s := newTestStore(t)
	old := sampleTask(1)
	old.MTime = time.Now().Add(-8 * 24 * time.Hour)
	require.NoError(t, s.Insert(old))

	now := time.Now()
	n, err := s.PurgeExpired(now)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = s.PurgeExpired(now)
	require.NoError(t, err)
	require.Equal(t, int64(0), n)
}

func TestQueryTasksToStart(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Insert(sampleTask(1)))
	tk2 := sampleTask(2)
	tk2.State = task.Running
	require.NoError(t, s.Insert(tk2))

	ids, err := s.QueryTasksToStart(StartCandidateConstraints{})
	require.NoError(t, err)
	require.Equal(t, []uint32{1}, ids)
}
