package session

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ctxlearn/internal/consolidation"
	"github.com/fyrsmithlabs/ctxlearn/internal/memory"
	"github.com/fyrsmithlabs/ctxlearn/internal/store"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newStore(t *testing.T) (*store.SQLiteStore, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)}
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "memory.db"), store.WithClock(c.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, c
}

func upsert(t *testing.T, s *store.SQLiteStore, key string, outcome memory.Outcome, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := s.UpsertPattern(context.Background(), key, "", outcome)
		require.NoError(t, err)
	}
}

func TestStart_EmptyStore(t *testing.T) {
	s, _ := newStore(t)
	m := NewManager(s, nil, DefaultConfig(), nil)

	report, err := m.Start(context.Background())
	require.NoError(t, err)
	assert.Nil(t, report.LastSession)
	assert.Empty(t, report.NeedsImprovement)
	assert.Empty(t, report.Proven)
	assert.False(t, report.Degraded)
	assert.NotEmpty(t, report.SessionID)
	assert.Equal(t, StateActive, m.State())

	_, err = m.Start(context.Background())
	assert.ErrorIs(t, err, memory.ErrSessionActive)
}

func TestStart_WeakAndProvenLists(t *testing.T) {
	s, _ := newStore(t)
	for _, key := range []string{"weak-a", "weak-b", "weak-c", "weak-d"} {
		upsert(t, s, key, memory.OutcomeFailure, 2)
	}
	upsert(t, s, "weak-single", memory.OutcomeFailure, 1)
	for i, key := range []string{"p1", "p2", "p3", "p4", "p5", "p6"} {
		upsert(t, s, key, memory.OutcomeSuccess, 12+i)
	}
	upsert(t, s, "middling", memory.OutcomeSuccess, 3)

	report, err := NewManager(s, nil, DefaultConfig(), nil).Start(context.Background())
	require.NoError(t, err)

	require.Len(t, report.NeedsImprovement, 3)
	for _, p := range report.NeedsImprovement {
		assert.Less(t, p.Confidence, memory.WeakThreshold)
		assert.Greater(t, p.OccurrenceCount, 1)
	}

	require.Len(t, report.Proven, 5)
	assert.Equal(t, "p6", report.Proven[0].Key, "highest confidence first")
	for _, p := range report.Proven {
		assert.Greater(t, p.Confidence, memory.ProvenThreshold)
	}
}

func TestEndThenStart_ReturnsSummary(t *testing.T) {
	ctx := context.Background()
	s, c := newStore(t)

	m := NewManager(s, nil, DefaultConfig(), nil)
	_, err := m.Start(ctx)
	require.NoError(t, err)

	c.Advance(time.Minute)
	upsert(t, s, "add-auth", memory.OutcomeSuccess, 2)
	upsert(t, s, "add-auth", memory.OutcomeFailure, 1)
	upsert(t, s, "fix-ci", memory.OutcomeSuccess, 1)

	c.Advance(time.Minute)
	end, err := m.End(ctx, time.Time{}, "")
	require.NoError(t, err)
	assert.Equal(t, 3, end.Session.SuccessCount)
	assert.Equal(t, 1, end.Session.FailureCount)
	assert.Equal(t, 2, end.Session.PatternsLearned)
	assert.Equal(t, []string{"add-auth", "fix-ci"}, end.TopKeys)
	assert.Contains(t, end.Session.Summary, "3 succeeded, 1 failed, 2 new patterns")
	assert.Equal(t, StateClosed, m.State())

	_, err = m.End(ctx, time.Time{}, "")
	assert.ErrorIs(t, err, memory.ErrSessionClosed)

	c.Advance(time.Hour)
	next := NewManager(s, nil, DefaultConfig(), nil)
	report, err := next.Start(ctx)
	require.NoError(t, err)
	require.NotNil(t, report.LastSession)
	assert.Equal(t, end.Session.ID, report.LastSession.ID)
	assert.Equal(t, end.Session.Summary, report.LastSession.Summary)
}

func TestEnd_RestartAfterClose(t *testing.T) {
	ctx := context.Background()
	s, c := newStore(t)
	m := NewManager(s, nil, DefaultConfig(), nil)

	_, err := m.Start(ctx)
	require.NoError(t, err)
	c.Advance(time.Minute)
	_, err = m.End(ctx, time.Time{}, "first")
	require.NoError(t, err)

	c.Advance(time.Minute)
	report, err := m.Start(ctx)
	require.NoError(t, err, "a closed manager can start again")
	require.NotNil(t, report.LastSession)
	assert.Equal(t, "first", report.LastSession.Summary)
}

func TestEnd_SeparateProcessUsesPersistedMarker(t *testing.T) {
	ctx := context.Background()
	s, c := newStore(t)

	upsert(t, s, "before-session", memory.OutcomeSuccess, 1)
	c.Advance(time.Minute)

	starter := NewManager(s, nil, DefaultConfig(), nil)
	start, err := starter.Start(ctx)
	require.NoError(t, err)

	c.Advance(time.Minute)
	upsert(t, s, "during-session", memory.OutcomeFailure, 1)

	// A second process only sees session-end.
	ender := NewManager(s, nil, DefaultConfig(), nil)
	ws, err := ender.WindowStart(ctx)
	require.NoError(t, err)
	assert.Equal(t, start.StartedAt, ws)

	end, err := ender.End(ctx, time.Time{}, "")
	require.NoError(t, err)
	assert.Equal(t, start.SessionID, end.Session.ID)
	assert.Equal(t, 0, end.Session.SuccessCount)
	assert.Equal(t, 1, end.Session.FailureCount)

	active, err := s.ActiveSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestEnd_ImplicitSessionWithoutStart(t *testing.T) {
	ctx := context.Background()
	s, c := newStore(t)

	upsert(t, s, "add-auth", memory.OutcomeSuccess, 2)
	upsert(t, s, "add-auth", memory.OutcomeFailure, 1)
	c.Advance(time.Minute)

	m := NewManager(s, nil, DefaultConfig(), nil)
	ws, err := m.WindowStart(ctx)
	require.NoError(t, err)
	assert.True(t, ws.IsZero())

	end, err := m.End(ctx, time.Time{}, "custom summary")
	require.NoError(t, err)
	assert.Equal(t, 2, end.Session.SuccessCount)
	assert.Equal(t, 1, end.Session.FailureCount)
	assert.Equal(t, 1, end.Session.PatternsLearned)
	assert.Equal(t, "custom summary", end.Session.Summary)
	assert.Equal(t, end.Session.EndedAt, end.Session.StartedAt)

	// The next implicit window begins where this one ended.
	c.Advance(time.Minute)
	ws, err = NewManager(s, nil, DefaultConfig(), nil).WindowStart(ctx)
	require.NoError(t, err)
	assert.Equal(t, end.Session.EndedAt, ws)
}

func TestEnd_RunsConsolidation(t *testing.T) {
	ctx := context.Background()
	s, c := newStore(t)

	upsert(t, s, "hopeless", memory.OutcomeFailure, 8)
	c.Advance(8 * 24 * time.Hour)

	job := consolidation.NewJob(s, consolidation.DefaultConfig(), nil)
	m := NewManager(s, job, DefaultConfig(), nil)
	end, err := m.End(ctx, time.Time{}, "")
	require.NoError(t, err)
	require.NotNil(t, end.Consolidation)
	assert.Equal(t, []string{"hopeless"}, end.Consolidation.Deleted)
	assert.Empty(t, end.ConsolidationError)
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "No outcomes recorded.", Summarize(memory.Activity{}))
	assert.Equal(t, "1 succeeded, 0 failed, 1 new pattern. Most active: a.",
		Summarize(memory.Activity{SuccessCount: 1, PatternsLearned: 1, TopKeys: []string{"a"}}))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "inactive", StateInactive.String())
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "closed", StateClosed.String())
}
