package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/fyrsmithlabs/ctxlearn/internal/memory"
)

const patternColumns = `key, context, confidence, last_outcome, occurrence_count, created_at, last_seen`

// PatternQuery selects patterns. Zero values disable a bound.
type PatternQuery struct {
	// Context filters by case-insensitive substring of the pattern context.
	Context string

	// MinConfidence is an inclusive lower bound unless ExclusiveMin is set.
	MinConfidence float64
	ExclusiveMin  bool

	// MaxConfidence is an exclusive upper bound. Zero means no bound.
	MaxConfidence float64

	// MinOccurrences is an exclusive lower bound on occurrence_count. Zero means no bound.
	MinOccurrences int

	// Limit caps the result size. Non-positive means unbounded.
	Limit int
}

// PruneCriteria selects patterns for deletion. All conditions must hold.
type PruneCriteria struct {
	// MaxConfidence is an exclusive upper bound.
	MaxConfidence float64

	// MinOccurrences is an exclusive lower bound.
	MinOccurrences int

	// SeenBefore is an exclusive upper bound on last_seen.
	SeenBefore time.Time
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPattern(row rowScanner) (memory.Pattern, error) {
	var (
		p                   memory.Pattern
		outcome             string
		count               int64
		createdAt, lastSeen int64
	)
	if err := row.Scan(&p.Key, &p.Context, &p.Confidence, &outcome, &count, &createdAt, &lastSeen); err != nil {
		return memory.Pattern{}, err
	}
	p.LastOutcome = memory.Outcome(outcome)
	p.OccurrenceCount = int(count)
	p.CreatedAt = fromNanos(createdAt)
	p.LastSeen = fromNanos(lastSeen)
	if err := p.Validate(); err != nil {
		return memory.Pattern{}, corrupt("decoding pattern %q: %v", p.Key, err)
	}
	return p, nil
}

// UpsertPattern records one outcome for key. A new key is seeded from the
// outcome; an existing key has its confidence updated, its occurrence count
// incremented and last_seen advanced. The outcome is also logged as an event
// so session windows can count activity.
func (s *SQLiteStore) UpsertPattern(ctx context.Context, key, patternContext string, outcome memory.Outcome) (result memory.Pattern, err error) {
	ctx, span := s.startSpan(ctx, "upsert_pattern",
		attribute.String("pattern.key", key),
		attribute.String("pattern.outcome", string(outcome)))
	defer func() { endSpan(span, err) }()

	key, err = memory.NormalizeKey(key)
	if err != nil {
		return memory.Pattern{}, fmt.Errorf("upsert pattern: %w", err)
	}
	if !outcome.Valid() {
		return memory.Pattern{}, fmt.Errorf("upsert pattern: %w: %q", memory.ErrInvalidOutcome, outcome)
	}
	patternContext = strings.TrimSpace(patternContext)

	err = s.withWriteTx(ctx, "upsert pattern", func(tx *sql.Tx) error {
		now := s.Now()

		existing, err := scanPattern(tx.QueryRowContext(ctx,
			`SELECT `+patternColumns+` FROM patterns WHERE key = ?`, key))
		switch {
		case errors.Is(err, sql.ErrNoRows):
			result = memory.Pattern{
				Key:             key,
				Context:         patternContext,
				Confidence:      s.updater.Seed(outcome),
				LastOutcome:     outcome,
				OccurrenceCount: 1,
				CreatedAt:       now,
				LastSeen:        now,
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO patterns (`+patternColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				result.Key, result.Context, result.Confidence, string(result.LastOutcome),
				result.OccurrenceCount, toNanos(result.CreatedAt), toNanos(result.LastSeen)); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			result = existing
			result.Confidence = s.updater.Update(existing.Confidence, outcome)
			result.LastOutcome = outcome
			result.OccurrenceCount++
			if now.After(existing.LastSeen) {
				result.LastSeen = now
			}
			if patternContext != "" {
				result.Context = patternContext
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE patterns SET context = ?, confidence = ?, last_outcome = ?, occurrence_count = ?, last_seen = ? WHERE key = ?`,
				result.Context, result.Confidence, string(result.LastOutcome),
				result.OccurrenceCount, toNanos(result.LastSeen), result.Key); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO outcome_events (pattern_key, outcome, recorded_at) VALUES (?, ?, ?)`,
			key, string(outcome), toNanos(now))
		return err
	})
	if err != nil {
		return memory.Pattern{}, err
	}

	span.SetAttributes(attribute.Float64("pattern.confidence", result.Confidence))
	return result, nil
}

// GetPatterns returns patterns whose context contains contextFilter and whose
// confidence is at least minConfidence, ordered by confidence, then
// occurrence count, then last_seen, all descending.
func (s *SQLiteStore) GetPatterns(ctx context.Context, contextFilter string, minConfidence float64, limit int) ([]memory.Pattern, error) {
	return s.QueryPatterns(ctx, PatternQuery{
		Context:       contextFilter,
		MinConfidence: minConfidence,
		Limit:         limit,
	})
}

// QueryPatterns returns patterns matching q in ranking order.
func (s *SQLiteStore) QueryPatterns(ctx context.Context, q PatternQuery) (patterns []memory.Pattern, err error) {
	ctx, span := s.startSpan(ctx, "get_patterns",
		attribute.String("query.context", q.Context),
		attribute.Float64("query.min_confidence", q.MinConfidence))
	defer func() { endSpan(span, err) }()

	if err := s.checkOpen("get patterns"); err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if q.Context != "" {
		where = append(where, "instr(lower(context), lower(?)) > 0")
		args = append(args, q.Context)
	}
	if q.ExclusiveMin {
		where = append(where, "confidence > ?")
	} else {
		where = append(where, "confidence >= ?")
	}
	args = append(args, q.MinConfidence)
	if q.MaxConfidence > 0 {
		where = append(where, "confidence < ?")
		args = append(args, q.MaxConfidence)
	}
	if q.MinOccurrences > 0 {
		where = append(where, "occurrence_count > ?")
		args = append(args, q.MinOccurrences)
	}
	args = append(args, limitArg(q.Limit))

	query := `SELECT ` + patternColumns + ` FROM patterns WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY confidence DESC, occurrence_count DESC, last_seen DESC, key ASC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("get patterns", err)
	}
	defer rows.Close()

	patterns = []memory.Pattern{}
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, classify("get patterns", err)
		}
		patterns = append(patterns, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("get patterns", err)
	}

	span.SetAttributes(attribute.Int("result.count", len(patterns)))
	return patterns, nil
}

// GetPattern returns the pattern stored under key, or nil when absent.
func (s *SQLiteStore) GetPattern(ctx context.Context, key string) (*memory.Pattern, error) {
	key, err := memory.NormalizeKey(key)
	if err != nil {
		return nil, fmt.Errorf("get pattern: %w", err)
	}
	if err := s.checkOpen("get pattern"); err != nil {
		return nil, err
	}

	p, err := scanPattern(s.db.QueryRowContext(ctx,
		`SELECT `+patternColumns+` FROM patterns WHERE key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get pattern", err)
	}
	return &p, nil
}

// PrunePatterns deletes patterns matching c and returns the deleted keys.
func (s *SQLiteStore) PrunePatterns(ctx context.Context, c PruneCriteria) (deleted []string, err error) {
	ctx, span := s.startSpan(ctx, "prune_patterns",
		attribute.Float64("prune.max_confidence", c.MaxConfidence),
		attribute.Int("prune.min_occurrences", c.MinOccurrences))
	defer func() { endSpan(span, err) }()

	const where = `confidence < ? AND occurrence_count > ? AND last_seen < ?`

	err = s.withWriteTx(ctx, "prune patterns", func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT key FROM patterns WHERE `+where+` ORDER BY key`,
			c.MaxConfidence, c.MinOccurrences, toNanos(c.SeenBefore))
		if err != nil {
			return err
		}
		deleted = []string{}
		for rows.Next() {
			var key string
			if err := rows.Scan(&key); err != nil {
				rows.Close()
				return err
			}
			deleted = append(deleted, key)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(deleted) == 0 {
			return nil
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM patterns WHERE `+where,
			c.MaxConfidence, c.MinOccurrences, toNanos(c.SeenBefore))
		return err
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("prune.deleted", len(deleted)))
	return deleted, nil
}
