package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/fyrsmithlabs/ctxlearn/internal/memory"
)

// AppendFailure stores a failure record. Failures are never updated.
func (s *SQLiteStore) AppendFailure(ctx context.Context, task, errorMessage, failureContext string) (f memory.Failure, err error) {
	ctx, span := s.startSpan(ctx, "append_failure", attribute.String("failure.task", task))
	defer func() { endSpan(span, err) }()

	task, err = memory.NormalizeKey(task)
	if err != nil {
		return memory.Failure{}, fmt.Errorf("append failure: %w", err)
	}

	err = s.withWriteTx(ctx, "append failure", func(tx *sql.Tx) error {
		f = memory.Failure{
			Task:         task,
			ErrorMessage: errorMessage,
			Context:      strings.TrimSpace(failureContext),
			OccurredAt:   s.Now(),
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO failures (task, error_message, context, occurred_at) VALUES (?, ?, ?, ?)`,
			f.Task, f.ErrorMessage, f.Context, toNanos(f.OccurredAt))
		if err != nil {
			return err
		}
		f.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return memory.Failure{}, err
	}
	return f, nil
}

// GetRecentFailures returns failures whose task contains taskFilter
// (case-insensitive), newest first.
func (s *SQLiteStore) GetRecentFailures(ctx context.Context, taskFilter string, limit int) (failures []memory.Failure, err error) {
	ctx, span := s.startSpan(ctx, "get_recent_failures", attribute.String("failure.filter", taskFilter))
	defer func() { endSpan(span, err) }()

	if err := s.checkOpen("get recent failures"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task, error_message, context, occurred_at FROM failures
		 WHERE instr(lower(task), lower(?)) > 0
		 ORDER BY occurred_at DESC, id DESC LIMIT ?`,
		strings.TrimSpace(taskFilter), limitArg(limit))
	if err != nil {
		return nil, classify("get recent failures", err)
	}
	defer rows.Close()

	failures = []memory.Failure{}
	for rows.Next() {
		var (
			f          memory.Failure
			occurredAt int64
		)
		if err := rows.Scan(&f.ID, &f.Task, &f.ErrorMessage, &f.Context, &occurredAt); err != nil {
			return nil, classify("get recent failures", err)
		}
		f.OccurredAt = fromNanos(occurredAt)
		failures = append(failures, f)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("get recent failures", err)
	}
	return failures, nil
}

// CountFailures returns how many failures have a task containing taskFilter.
func (s *SQLiteStore) CountFailures(ctx context.Context, taskFilter string) (n int, err error) {
	ctx, span := s.startSpan(ctx, "count_failures", attribute.String("failure.filter", taskFilter))
	defer func() { endSpan(span, err) }()

	if err := s.checkOpen("count failures"); err != nil {
		return 0, err
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM failures WHERE instr(lower(task), lower(?)) > 0`,
		strings.TrimSpace(taskFilter)).Scan(&n); err != nil {
		return 0, classify("count failures", err)
	}
	return n, nil
}
