package consolidation

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func seed(t *testing.T, s *store.SQLiteStore, key string, outcome memory.Outcome, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := s.UpsertPattern(context.Background(), key, "", outcome)
		require.NoError(t, err)
	}
}

func TestRun_PrunesOnlyStaleUnreliablePatterns(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
	s, err := store.Open(ctx, filepath.Join(t.TempDir(), "memory.db"), store.WithClock(c.Now))
	require.NoError(t, err)
	defer s.Close()

	seed(t, s, "stale-unreliable", memory.OutcomeFailure, 8) // ~0.11, count 8
	seed(t, s, "stale-five", memory.OutcomeFailure, 5)       // count exactly 5
	seed(t, s, "stale-good", memory.OutcomeSuccess, 8)       // high confidence
	_, err = s.AppendFailure(ctx, "stale-unreliable", "boom", "")
	require.NoError(t, err)

	c.Advance(10 * 24 * time.Hour)
	seed(t, s, "recent-unreliable", memory.OutcomeFailure, 8)

	job := NewJob(s, DefaultConfig(), nil)
	res, err := job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"stale-unreliable"}, res.Deleted)
	assert.Equal(t, c.Now(), res.RanAt)

	patterns, err := s.GetPatterns(ctx, "", 0, 0)
	require.NoError(t, err)
	var keys []string
	for _, p := range patterns {
		keys = append(keys, p.Key)
		ok := p.OccurrenceCount <= DefaultMinOccurrences ||
			p.Confidence >= DefaultMaxConfidence ||
			!p.LastSeen.Before(c.Now().Add(-DefaultRetention))
		assert.True(t, ok, "pattern %s should have been pruned", p.Key)
	}
	assert.ElementsMatch(t, []string{"stale-five", "stale-good", "recent-unreliable"}, keys)

	n, err := s.CountFailures(ctx, "stale-unreliable")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "failures are never pruned")

	again, err := job.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, again.Deleted)
}

type failingPruner struct{}

func (failingPruner) PrunePatterns(context.Context, store.PruneCriteria) ([]string, error) {
	return nil, memory.ErrStoreUnavailable
}

func (failingPruner) Now() time.Time { return time.Now() }

func TestRun_PropagatesStoreErrors(t *testing.T) {
	_, err := NewJob(failingPruner{}, DefaultConfig(), nil).Run(context.Background())
	assert.True(t, errors.Is(err, memory.ErrStoreUnavailable))
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{MaxConfidence: 1.5}.Validate())
	assert.Error(t, Config{MinOccurrences: -1}.Validate())
	assert.Error(t, Config{Retention: -time.Hour}.Validate())
}
