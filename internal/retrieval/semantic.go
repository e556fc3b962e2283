package retrieval

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/philippgille/chromem-go"

	"github.com/fyrsmithlabs/ctxlearn/internal/memory"
)

// DefaultMinSimilarity is the cosine similarity a candidate needs to match.
const DefaultMinSimilarity = 0.3

// Embedder converts text to normalized vectors.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// SemanticMatcher scores candidates by cosine similarity between the query
// and "key context" using an in-memory chromem collection built per call.
type SemanticMatcher struct {
	embedder      Embedder
	minSimilarity float64
}

// NewSemanticMatcher returns a SemanticMatcher. A non-positive minSimilarity
// uses DefaultMinSimilarity.
func NewSemanticMatcher(embedder Embedder, minSimilarity float64) *SemanticMatcher {
	if minSimilarity <= 0 {
		minSimilarity = DefaultMinSimilarity
	}
	return &SemanticMatcher{embedder: embedder, minSimilarity: minSimilarity}
}

func (m *SemanticMatcher) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return m.embedder.EmbedQuery(ctx, text)
	}
}

// Match implements Matcher.
func (m *SemanticMatcher) Match(ctx context.Context, query string, candidates []memory.Pattern) ([]Match, error) {
	if strings.TrimSpace(query) == "" {
		return SubstringMatcher{}.Match(ctx, query, candidates)
	}
	if len(candidates) == 0 {
		return []Match{}, nil
	}

	queryVec, err := m.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if isZero(queryVec) {
		return []Match{}, nil
	}

	db := chromem.NewDB()
	collection, err := db.CreateCollection("patterns", nil, m.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("creating collection: %w", err)
	}

	contents := make([]string, len(candidates))
	for i, p := range candidates {
		contents[i] = strings.TrimSpace(p.Key + " " + p.Context)
	}
	vecs, err := m.embedder.EmbedDocuments(ctx, contents)
	if err != nil {
		return nil, fmt.Errorf("embedding patterns: %w", err)
	}
	if len(vecs) != len(contents) {
		return nil, fmt.Errorf("embedding patterns: got %d vectors for %d patterns", len(vecs), len(contents))
	}

	docs := make([]chromem.Document, 0, len(candidates))
	for i, vec := range vecs {
		if isZero(vec) {
			continue
		}
		docs = append(docs, chromem.Document{
			ID:        strconv.Itoa(i),
			Content:   contents[i],
			Embedding: vec,
		})
	}
	if len(docs) == 0 {
		return []Match{}, nil
	}
	if err := collection.AddDocuments(ctx, docs, 1); err != nil {
		return nil, fmt.Errorf("adding documents: %w", err)
	}

	results, err := collection.QueryEmbedding(ctx, queryVec, collection.Count(), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		if float64(r.Similarity) < m.minSimilarity {
			continue
		}
		idx, err := strconv.Atoi(r.ID)
		if err != nil || idx < 0 || idx >= len(candidates) {
			continue
		}
		matches = append(matches, Match{Pattern: candidates[idx], Score: float64(r.Similarity)})
	}
	return matches, nil
}
