package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ctxlearn/internal/memory"
)

type staticSource struct {
	patterns []memory.Pattern
	err      error
}

func (s staticSource) GetPatterns(_ context.Context, contextFilter string, minConfidence float64, _ int) ([]memory.Pattern, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []memory.Pattern
	for _, p := range s.patterns {
		if p.Confidence >= minConfidence && strings.Contains(p.Context, contextFilter) {
			out = append(out, p)
		}
	}
	return out, nil
}

func pattern(key, ctx string, confidence float64, count int, seen time.Time) memory.Pattern {
	return memory.Pattern{
		Key:             key,
		Context:         ctx,
		Confidence:      confidence,
		LastOutcome:     memory.OutcomeSuccess,
		OccurrenceCount: count,
		CreatedAt:       seen,
		LastSeen:        seen,
	}
}

func TestSubstringMatcher(t *testing.T) {
	now := time.Now()
	candidates := []memory.Pattern{
		pattern("add-auth", "services/api", 0.7, 2, now),
		pattern("fix-build", "ci", 0.5, 1, now),
		pattern("migrate-db", "AUTH-service", 0.4, 1, now),
	}

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"key match", "auth", []string{"add-auth", "migrate-db"}},
		{"case insensitive", "BUILD", []string{"fix-build"}},
		{"context match", "services", []string{"add-auth"}},
		{"no match", "deploy", []string{}},
		{"empty query matches all", "", []string{"add-auth", "fix-build", "migrate-db"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches, err := SubstringMatcher{}.Match(context.Background(), tt.query, candidates)
			require.NoError(t, err)
			keys := []string{}
			for _, m := range matches {
				assert.Equal(t, 1.0, m.Score)
				keys = append(keys, m.Pattern.Key)
			}
			assert.Equal(t, tt.want, keys)
		})
	}
}

func TestEngine_RankingAndTopN(t *testing.T) {
	now := time.Now()
	src := staticSource{patterns: []memory.Pattern{
		pattern("auth-low", "", 0.4, 9, now),
		pattern("auth-high", "", 0.9, 1, now),
		pattern("auth-tie-old", "", 0.7, 3, now.Add(-time.Hour)),
		pattern("auth-tie-new", "", 0.7, 3, now),
		pattern("auth-tie-count", "", 0.7, 4, now.Add(-2*time.Hour)),
		pattern("unrelated", "", 0.99, 50, now),
	}}

	engine, err := NewEngine(src, Config{}, nil)
	require.NoError(t, err)

	ranked, err := engine.Retrieve(context.Background(), "auth", "", 0)
	require.NoError(t, err)
	require.Len(t, ranked, 5)

	want := []string{"auth-high", "auth-tie-count", "auth-tie-new", "auth-tie-old", "auth-low"}
	for i, r := range ranked {
		assert.Equal(t, want[i], r.Pattern.Key)
		assert.Equal(t, i+1, r.Rank)
	}

	top2, err := engine.Retrieve(context.Background(), "auth", "", 2)
	require.NoError(t, err)
	require.Len(t, top2, 2)
	assert.Equal(t, "auth-high", top2[0].Pattern.Key)
}

func TestEngine_NoMatchesIsEmptyNotError(t *testing.T) {
	engine, err := NewEngine(staticSource{}, Config{}, nil)
	require.NoError(t, err)

	ranked, err := engine.Retrieve(context.Background(), "anything", "", 5)
	require.NoError(t, err)
	assert.Empty(t, ranked)
}

func TestEngine_MinConfidence(t *testing.T) {
	now := time.Now()
	src := staticSource{patterns: []memory.Pattern{
		pattern("auth-a", "", 0.2, 1, now),
		pattern("auth-b", "", 0.6, 1, now),
	}}
	engine, err := NewEngine(src, Config{MinConfidence: 0.5}, nil)
	require.NoError(t, err)

	ranked, err := engine.Retrieve(context.Background(), "auth", "", 5)
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, "auth-b", ranked[0].Pattern.Key)
}

func TestEngine_Scope(t *testing.T) {
	now := time.Now()
	src := staticSource{patterns: []memory.Pattern{
		pattern("add-auth", "services/api", 0.6, 1, now),
		pattern("auth-ui", "web", 0.9, 1, now),
	}}
	engine, err := NewEngine(src, Config{}, nil)
	require.NoError(t, err)

	ranked, err := engine.Retrieve(context.Background(), "auth", "api", 5)
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.Equal(t, "add-auth", ranked[0].Pattern.Key)

	all, err := engine.Retrieve(context.Background(), "auth", "", 5)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestEngine_SourceErrorPropagates(t *testing.T) {
	engine, err := NewEngine(staticSource{err: memory.ErrStoreUnavailable}, Config{}, nil)
	require.NoError(t, err)

	_, err = engine.Retrieve(context.Background(), "auth", "", 5)
	assert.True(t, errors.Is(err, memory.ErrStoreUnavailable))
}

func TestNewMatcher(t *testing.T) {
	m, err := NewMatcher("", 0)
	require.NoError(t, err)
	assert.IsType(t, SubstringMatcher{}, m)

	m, err = NewMatcher("Semantic", 0)
	require.NoError(t, err)
	assert.IsType(t, &SemanticMatcher{}, m)

	_, err = NewMatcher("fuzzy", 0)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, Config{}.Validate())
	assert.NoError(t, Config{Matcher: "semantic", MinSimilarity: 0.3}.Validate())
	assert.Error(t, Config{TopN: -1}.Validate())
	assert.Error(t, Config{MinConfidence: 2}.Validate())
	assert.Error(t, Config{Matcher: "nope"}.Validate())
}
