package retrieval

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ctxlearn/internal/memory"
)

func TestHashEmbedder_Normalized(t *testing.T) {
	e := NewHashEmbedder(0)

	vec, err := e.EmbedQuery(context.Background(), "add authentication middleware")
	require.NoError(t, err)
	require.Len(t, vec, DefaultEmbeddingDimension)

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := NewHashEmbedder(64)
	a, err := e.EmbedQuery(context.Background(), "Run the migrations")
	require.NoError(t, err)
	b, err := e.EmbedQuery(context.Background(), "run THE migrations!")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	docs, err := e.EmbedDocuments(context.Background(), []string{"Run the migrations", "x"})
	require.NoError(t, err)
	assert.Equal(t, a, docs[0])
}

func TestHashEmbedder_EmptyIsZero(t *testing.T) {
	vec, err := NewHashEmbedder(32).EmbedQuery(context.Background(), " --- ")
	require.NoError(t, err)
	assert.True(t, isZero(vec))
}

func TestSemanticMatcher(t *testing.T) {
	now := time.Now()
	candidates := []memory.Pattern{
		pattern("database-migration", "backend", 0.7, 3, now),
		pattern("add-auth", "api", 0.6, 1, now),
		pattern("---", "", 0.6, 1, now),
	}
	m := NewSemanticMatcher(NewHashEmbedder(DefaultEmbeddingDimension), 0)

	matches, err := m.Match(context.Background(), "run database migrations", candidates)
	require.NoError(t, err)
	require.NotEmpty(t, matches)

	keys := map[string]float64{}
	for _, mt := range matches {
		assert.GreaterOrEqual(t, mt.Score, DefaultMinSimilarity)
		keys[mt.Pattern.Key] = mt.Score
	}
	assert.Contains(t, keys, "database-migration")
	assert.NotContains(t, keys, "add-auth")
	assert.NotContains(t, keys, "---")
}

func TestSemanticMatcher_EdgeCases(t *testing.T) {
	m := NewSemanticMatcher(NewHashEmbedder(32), 0.5)
	now := time.Now()
	candidates := []memory.Pattern{pattern("a", "", 0.5, 1, now)}

	all, err := m.Match(context.Background(), "", candidates)
	require.NoError(t, err)
	assert.Len(t, all, 1, "empty query matches everything")

	none, err := m.Match(context.Background(), "anything", nil)
	require.NoError(t, err)
	assert.Empty(t, none)

	none, err = m.Match(context.Background(), "!!!", candidates)
	require.NoError(t, err)
	assert.Empty(t, none)
}

// shortEmbedder returns fewer document vectors than requested.
type shortEmbedder struct{ *HashEmbedder }

func (shortEmbedder) EmbedDocuments(context.Context, []string) ([][]float32, error) {
	return nil, nil
}

type failingEmbedder struct{ *HashEmbedder }

func (failingEmbedder) EmbedDocuments(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("model offline")
}

func TestSemanticMatcher_EmbedderErrors(t *testing.T) {
	candidates := []memory.Pattern{pattern("database-migration", "backend", 0.7, 3, time.Now())}

	_, err := NewSemanticMatcher(failingEmbedder{NewHashEmbedder(32)}, 0).
		Match(context.Background(), "database", candidates)
	assert.ErrorContains(t, err, "model offline")

	_, err = NewSemanticMatcher(shortEmbedder{NewHashEmbedder(32)}, 0).
		Match(context.Background(), "database", candidates)
	assert.ErrorContains(t, err, "got 0 vectors for 1 patterns")
}

func TestEngine_Semantic(t *testing.T) {
	now := time.Now()
	src := staticSource{patterns: []memory.Pattern{
		pattern("database-migration", "backend", 0.7, 3, now),
		pattern("add-auth", "api", 0.9, 1, now),
	}}
	engine, err := NewEngine(src, Config{Matcher: MatcherSemantic}, nil)
	require.NoError(t, err)

	ranked, err := engine.Retrieve(context.Background(), "database migration", "", 5)
	require.NoError(t, err)
	require.NotEmpty(t, ranked)
	assert.Equal(t, "database-migration", ranked[0].Pattern.Key)
}
