package metrics

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ctxlearn/internal/hooks"
	"github.com/fyrsmithlabs/ctxlearn/internal/memory"
	"github.com/fyrsmithlabs/ctxlearn/internal/store"
)

type fakeStats struct {
	stats store.Stats
	err   error
}

func (f fakeStats) Stats(context.Context) (store.Stats, error) { return f.stats, f.err }

func TestCollector_ExportsStats(t *testing.T) {
	r, err := New(fakeStats{stats: store.Stats{
		Patterns:          4,
		ProvenPatterns:    1,
		WeakPatterns:      2,
		AverageConfidence: 0.5,
		Failures:          7,
		Sessions:          3,
		CausalLinks:       1,
	}}, Config{}, nil)
	require.NoError(t, err)

	expected := `
# HELP ctxlearn_failures Number of recorded failures
# TYPE ctxlearn_failures gauge
ctxlearn_failures 7
# HELP ctxlearn_pattern_confidence_avg Mean confidence across patterns
# TYPE ctxlearn_pattern_confidence_avg gauge
ctxlearn_pattern_confidence_avg 0.5
# HELP ctxlearn_patterns Number of stored patterns
# TYPE ctxlearn_patterns gauge
ctxlearn_patterns 4
# HELP ctxlearn_patterns_proven Patterns with confidence above 0.8
# TYPE ctxlearn_patterns_proven gauge
ctxlearn_patterns_proven 1
# HELP ctxlearn_patterns_weak Patterns with confidence below 0.5 seen more than once
# TYPE ctxlearn_patterns_weak gauge
ctxlearn_patterns_weak 2
# HELP ctxlearn_sessions Number of persisted sessions
# TYPE ctxlearn_sessions gauge
ctxlearn_sessions 3
# HELP ctxlearn_store_up Whether the last store read succeeded (1) or not (0)
# TYPE ctxlearn_store_up gauge
ctxlearn_store_up 1
`
	err = testutil.GatherAndCompare(r.Gatherer(), strings.NewReader(expected),
		"ctxlearn_failures", "ctxlearn_pattern_confidence_avg", "ctxlearn_patterns",
		"ctxlearn_patterns_proven", "ctxlearn_patterns_weak", "ctxlearn_sessions", "ctxlearn_store_up")
	assert.NoError(t, err)
}

func TestCollector_StoreDown(t *testing.T) {
	c := NewCollector(fakeStats{err: memory.ErrStoreUnavailable}, nil)

	// store_up and the scrape duration only.
	assert.Equal(t, 2, testutil.CollectAndCount(c))
	assert.Equal(t, 0, testutil.CollectAndCount(c, "ctxlearn_patterns"))
}

func TestCollector_RealStore(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	defer st.Close()

	_, err = st.UpsertPattern(ctx, "add-auth", "", memory.OutcomeSuccess)
	require.NoError(t, err)
	_, err = st.AppendFailure(ctx, "deploy", "boom", "")
	require.NoError(t, err)

	r, err := New(st, Config{}, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, r.WriteText(&buf))
	out := buf.String()
	assert.Contains(t, out, "ctxlearn_patterns 1")
	assert.Contains(t, out, "ctxlearn_failures 1")
	assert.Contains(t, out, "ctxlearn_store_up 1")
}

func TestObserveHook(t *testing.T) {
	r, err := New(nil, Config{}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, r.ObserveHook(ctx, hooks.Event{Verb: hooks.VerbPreCommand, Result: hooks.ResultBlocked, Duration: time.Millisecond}))
	require.NoError(t, r.ObserveHook(ctx, hooks.Event{Verb: hooks.VerbPreCommand, Result: hooks.ResultBlocked}))
	require.NoError(t, r.ObserveHook(ctx, hooks.Event{Verb: hooks.VerbPostTask, Result: hooks.ResultError, Err: errors.New("x")}))

	assert.Equal(t, 2.0, testutil.ToFloat64(r.hooks.WithLabelValues("pre-command", "blocked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.hooks.WithLabelValues("post-task", "error")))
}

func TestObserveHook_WritesTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctxlearn.prom")
	r, err := New(fakeStats{stats: store.Stats{Patterns: 2}}, Config{Textfile: path}, nil)
	require.NoError(t, err)

	require.NoError(t, r.ObserveHook(context.Background(), hooks.Event{Verb: hooks.VerbPreTask, Result: hooks.ResultOK}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `ctxlearn_hooks_invocations_total{result="ok",verb="pre-task"} 1`)
	assert.Contains(t, string(data), "ctxlearn_patterns 2")
}

func TestWriteTextfile_RequiresPath(t *testing.T) {
	r, err := New(nil, Config{}, nil)
	require.NoError(t, err)
	assert.Error(t, r.WriteTextfile())
}
