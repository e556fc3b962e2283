package retrieval

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxlearn/internal/memory"
)

const instrumentationName = "github.com/fyrsmithlabs/ctxlearn/internal/retrieval"

// DefaultTopN is the number of results returned when topN is not positive.
const DefaultTopN = 5

// PatternSource supplies candidate patterns.
type PatternSource interface {
	GetPatterns(ctx context.Context, contextFilter string, minConfidence float64, limit int) ([]memory.Pattern, error)
}

// Ranked is a retrieval result. Rank starts at 1.
type Ranked struct {
	Pattern memory.Pattern `json:"pattern"`
	Rank    int            `json:"rank"`
	Score   float64        `json:"score"`
}

// Config configures an Engine.
type Config struct {
	// Matcher is "substring" (default) or "semantic".
	Matcher string `koanf:"matcher" json:"matcher"`

	// TopN is the default result count.
	TopN int `koanf:"top_n" json:"top_n"`

	// MinConfidence filters candidates before matching.
	MinConfidence float64 `koanf:"min_confidence" json:"min_confidence"`

	// MinSimilarity is the semantic matcher's cut-off.
	MinSimilarity float64 `koanf:"min_similarity" json:"min_similarity"`
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.TopN < 0 {
		return fmt.Errorf("top_n must not be negative, got %d", c.TopN)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be between 0 and 1, got %v", c.MinConfidence)
	}
	if c.MinSimilarity < 0 || c.MinSimilarity > 1 {
		return fmt.Errorf("min_similarity must be between 0 and 1, got %v", c.MinSimilarity)
	}
	if _, err := NewMatcher(c.Matcher, c.MinSimilarity); err != nil {
		return err
	}
	return nil
}

// Engine retrieves ranked patterns for a query.
type Engine struct {
	source  PatternSource
	matcher Matcher
	cfg     Config
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewEngine builds an Engine with the matcher named in cfg.
func NewEngine(source PatternSource, cfg Config, logger *zap.Logger) (*Engine, error) {
	if source == nil {
		return nil, fmt.Errorf("pattern source is required")
	}
	matcher, err := NewMatcher(cfg.Matcher, cfg.MinSimilarity)
	if err != nil {
		return nil, err
	}
	return NewEngineWithMatcher(source, matcher, cfg, logger), nil
}

// NewEngineWithMatcher builds an Engine with an explicit matcher.
func NewEngineWithMatcher(source PatternSource, matcher Matcher, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TopN <= 0 {
		cfg.TopN = DefaultTopN
	}
	return &Engine{
		source:  source,
		matcher: matcher,
		cfg:     cfg,
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
	}
}

// Retrieve returns at most topN patterns relevant to query, best first.
// A non-empty scope keeps only patterns whose context contains it. A
// non-positive topN uses the configured default.
func (e *Engine) Retrieve(ctx context.Context, query, scope string, topN int) ([]Ranked, error) {
	ctx, span := e.tracer.Start(ctx, "retrieval.retrieve")
	defer span.End()
	span.SetAttributes(attribute.String("query", query), attribute.String("scope", scope))

	if topN <= 0 {
		topN = e.cfg.TopN
	}

	candidates, err := e.source.GetPatterns(ctx, scope, e.cfg.MinConfidence, 0)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("loading candidates: %w", err)
	}

	matches, err := e.matcher.Match(ctx, query, candidates)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("matching candidates: %w", err)
	}

	sortMatches(matches)
	if len(matches) > topN {
		matches = matches[:topN]
	}

	ranked := make([]Ranked, len(matches))
	for i, m := range matches {
		ranked[i] = Ranked{Pattern: m.Pattern, Rank: i + 1, Score: m.Score}
	}

	span.SetAttributes(
		attribute.Int("candidates", len(candidates)),
		attribute.Int("results", len(ranked)))
	e.logger.Debug("retrieved patterns",
		zap.String("query", query),
		zap.Int("candidates", len(candidates)),
		zap.Int("results", len(ranked)))

	return ranked, nil
}

// sortMatches orders by score, confidence, occurrence count and last_seen,
// all descending, with the key as a final tie-break.
func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Pattern.Confidence != b.Pattern.Confidence {
			return a.Pattern.Confidence > b.Pattern.Confidence
		}
		if a.Pattern.OccurrenceCount != b.Pattern.OccurrenceCount {
			return a.Pattern.OccurrenceCount > b.Pattern.OccurrenceCount
		}
		if !a.Pattern.LastSeen.Equal(b.Pattern.LastSeen) {
			return a.Pattern.LastSeen.After(b.Pattern.LastSeen)
		}
		return a.Pattern.Key < b.Pattern.Key
	})
}
