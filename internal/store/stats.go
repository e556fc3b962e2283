package store

import (
	"context"
	"database/sql"

	"github.com/fyrsmithlabs/ctxlearn/internal/memory"
)

// Stats is a point-in-time summary of the store contents.
type Stats struct {
	Patterns          int     `json:"patterns"`
	ProvenPatterns    int     `json:"proven_patterns"`
	WeakPatterns      int     `json:"weak_patterns"`
	AverageConfidence float64 `json:"average_confidence"`
	Failures          int     `json:"failures"`
	Sessions          int     `json:"sessions"`
	CausalLinks       int     `json:"causal_links"`
}

// Stats reads all counters in a single statement.
func (s *SQLiteStore) Stats(ctx context.Context) (st Stats, err error) {
	ctx, span := s.startSpan(ctx, "stats")
	defer func() { endSpan(span, err) }()

	if err := s.checkOpen("stats"); err != nil {
		return Stats{}, err
	}

	var avg sql.NullFloat64
	err = s.db.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM patterns),
			(SELECT COUNT(*) FROM patterns WHERE confidence > ?),
			(SELECT COUNT(*) FROM patterns WHERE confidence < ? AND occurrence_count > 1),
			(SELECT AVG(confidence) FROM patterns),
			(SELECT COUNT(*) FROM failures),
			(SELECT COUNT(*) FROM sessions),
			(SELECT COUNT(*) FROM causal_links)`,
		memory.ProvenThreshold, memory.WeakThreshold).
		Scan(&st.Patterns, &st.ProvenPatterns, &st.WeakPatterns, &avg, &st.Failures, &st.Sessions, &st.CausalLinks)
	if err != nil {
		return Stats{}, classify("stats", err)
	}
	if avg.Valid {
		st.AverageConfidence = avg.Float64
	}
	return st, nil
}
