package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/fyrsmithlabs/ctxlearn/internal/memory"
)

// UpsertCausalLink records that cause was followed by effect. The link's
// confidence follows the same update rule as patterns.
func (s *SQLiteStore) UpsertCausalLink(ctx context.Context, cause, effect string, outcome memory.Outcome) (link memory.CausalLink, err error) {
	ctx, span := s.startSpan(ctx, "upsert_causal_link",
		attribute.String("causal.cause", cause),
		attribute.String("causal.effect", effect))
	defer func() { endSpan(span, err) }()

	if cause, err = memory.NormalizeKey(cause); err != nil {
		return memory.CausalLink{}, fmt.Errorf("upsert causal link: cause: %w", err)
	}
	if effect, err = memory.NormalizeKey(effect); err != nil {
		return memory.CausalLink{}, fmt.Errorf("upsert causal link: effect: %w", err)
	}
	if !outcome.Valid() {
		return memory.CausalLink{}, fmt.Errorf("upsert causal link: %w: %q", memory.ErrInvalidOutcome, outcome)
	}

	err = s.withWriteTx(ctx, "upsert causal link", func(tx *sql.Tx) error {
		now := s.Now()
		existing, err := scanCausalLink(tx.QueryRowContext(ctx,
			`SELECT cause, effect, confidence, occurrence_count, created_at, last_seen
			 FROM causal_links WHERE cause = ? AND effect = ?`, cause, effect))
		switch {
		case errors.Is(err, sql.ErrNoRows):
			link = memory.CausalLink{
				Cause:           cause,
				Effect:          effect,
				Confidence:      s.updater.Seed(outcome),
				OccurrenceCount: 1,
				CreatedAt:       now,
				LastSeen:        now,
			}
		case err != nil:
			return err
		default:
			link = existing
			link.Confidence = s.updater.Update(existing.Confidence, outcome)
			link.OccurrenceCount++
			if now.After(existing.LastSeen) {
				link.LastSeen = now
			}
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO causal_links (cause, effect, confidence, occurrence_count, created_at, last_seen)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (cause, effect) DO UPDATE SET
				confidence = excluded.confidence,
				occurrence_count = excluded.occurrence_count,
				last_seen = excluded.last_seen`,
			link.Cause, link.Effect, link.Confidence, link.OccurrenceCount,
			toNanos(link.CreatedAt), toNanos(link.LastSeen))
		return err
	})
	if err != nil {
		return memory.CausalLink{}, err
	}
	return link, nil
}

// GetCausalLinks returns links whose cause contains causeFilter
// (case-insensitive) with at least minConfidence, strongest first.
func (s *SQLiteStore) GetCausalLinks(ctx context.Context, causeFilter string, minConfidence float64, limit int) (links []memory.CausalLink, err error) {
	ctx, span := s.startSpan(ctx, "get_causal_links", attribute.String("causal.filter", causeFilter))
	defer func() { endSpan(span, err) }()

	if err := s.checkOpen("get causal links"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT cause, effect, confidence, occurrence_count, created_at, last_seen FROM causal_links
		 WHERE instr(lower(cause), lower(?)) > 0 AND confidence >= ?
		 ORDER BY confidence DESC, occurrence_count DESC, last_seen DESC LIMIT ?`,
		strings.TrimSpace(causeFilter), minConfidence, limitArg(limit))
	if err != nil {
		return nil, classify("get causal links", err)
	}
	defer rows.Close()

	links = []memory.CausalLink{}
	for rows.Next() {
		l, err := scanCausalLink(rows)
		if err != nil {
			return nil, classify("get causal links", err)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("get causal links", err)
	}
	return links, nil
}

func scanCausalLink(row rowScanner) (memory.CausalLink, error) {
	var (
		l                   memory.CausalLink
		count               int64
		createdAt, lastSeen int64
	)
	if err := row.Scan(&l.Cause, &l.Effect, &l.Confidence, &count, &createdAt, &lastSeen); err != nil {
		return memory.CausalLink{}, err
	}
	if l.Confidence < 0 || l.Confidence > 1 || count < 1 {
		return memory.CausalLink{}, corrupt("decoding causal link %q -> %q", l.Cause, l.Effect)
	}
	l.OccurrenceCount = int(count)
	l.CreatedAt = fromNanos(createdAt)
	l.LastSeen = fromNanos(lastSeen)
	return l, nil
}
