package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/ctxlearn/internal/memory"
)

// Matcher kinds accepted by NewMatcher.
const (
	MatcherSubstring = "substring"
	MatcherSemantic  = "semantic"
)

// Match is a candidate judged relevant to a query.
type Match struct {
	Pattern memory.Pattern
	Score   float64
}

// Matcher scores candidates against a query. Only candidates with a score
// above zero are returned, in any order.
type Matcher interface {
	Match(ctx context.Context, query string, candidates []memory.Pattern) ([]Match, error)
}

// NewMatcher returns the matcher named by kind. An empty kind selects the
// substring matcher.
func NewMatcher(kind string, minSimilarity float64) (Matcher, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", MatcherSubstring:
		return SubstringMatcher{}, nil
	case MatcherSemantic:
		return NewSemanticMatcher(NewHashEmbedder(DefaultEmbeddingDimension), minSimilarity), nil
	default:
		return nil, fmt.Errorf("unknown matcher %q (want %s or %s)", kind, MatcherSubstring, MatcherSemantic)
	}
}

// SubstringMatcher matches when the query appears, ignoring case, in the
// pattern key or context. Every match scores 1.0, so ranking falls through
// to confidence. An empty query matches everything.
type SubstringMatcher struct{}

// Match implements Matcher.
func (SubstringMatcher) Match(_ context.Context, query string, candidates []memory.Pattern) ([]Match, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	matches := make([]Match, 0, len(candidates))
	for _, p := range candidates {
		if q == "" ||
			strings.Contains(strings.ToLower(p.Key), q) ||
			strings.Contains(strings.ToLower(p.Context), q) {
			matches = append(matches, Match{Pattern: p, Score: 1.0})
		}
	}
	return matches, nil
}
