package control

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cisagov/cyhy-orchestrator/pkg/enums"
	"github.com/cisagov/cyhy-orchestrator/pkg/storage"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *storage.BoltStore {
	t.Helper()
	s, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestShouldPauseFalseWithNoRequests(t *testing.T) {
	s := newTestStore(t)
	paused, err := ShouldPause(s, true)
	require.NoError(t, err)
	require.False(t, paused)
}

func TestRequestPauseThenShouldPauseCompletesIt(t *testing.T) {
	s := newTestStore(t)
	doc, err := Request(s, enums.ControlActionPause, "operator", "maintenance window")
	require.NoError(t, err)
	require.False(t, doc.Completed)

	paused, err := ShouldPause(s, true)
	require.NoError(t, err)
	require.True(t, paused)

	got, err := s.GetControl(doc.ID)
	require.NoError(t, err)
	require.True(t, got.Completed)

	paused, err = ShouldPause(s, true)
	require.NoError(t, err)
	require.False(t, paused, "completed requests should no longer report pause")
}

func TestShouldStopIgnoresPauseRequests(t *testing.T) {
	s := newTestStore(t)
	_, err := Request(s, enums.ControlActionPause, "operator", "maintenance window")
	require.NoError(t, err)

	stop, err := ShouldStop(s)
	require.NoError(t, err)
	require.False(t, stop)
}

func TestWaitReturnsFalseWhenContextExpiresFirst(t *testing.T) {
	s := newTestStore(t)
	doc, err := Request(s, enums.ControlActionStop, "operator", "decommission")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	completed, err := Wait(ctx, s, doc)
	require.NoError(t, err)
	require.False(t, completed)
}

func TestWaitReturnsTrueWhenAlreadyCompleted(t *testing.T) {
	s := newTestStore(t)
	doc, err := Request(s, enums.ControlActionStop, "operator", "decommission")
	require.NoError(t, err)
	doc.Completed = true
	require.NoError(t, s.SaveControl(doc))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	completed, err := Wait(ctx, s, doc)
	require.NoError(t, err)
	require.True(t, completed)
}
