package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fyrsmithlabs/ctxlearn/internal/memory"
)

// topKeysLimit bounds Activity.TopKeys.
const topKeysLimit = 3

// BeginSession persists the active session marker, replacing any previous one.
// A zero StartedAt is set to now and an empty ID is generated.
func (s *SQLiteStore) BeginSession(ctx context.Context, active memory.ActiveSession) (result memory.ActiveSession, err error) {
	ctx, span := s.startSpan(ctx, "begin_session")
	defer func() { endSpan(span, err) }()

	if active.ID == "" {
		active.ID = uuid.NewString()
	}
	if active.StartedAt.IsZero() {
		active.StartedAt = s.Now()
	}
	span.SetAttributes(attribute.String("session.id", active.ID))

	err = s.withWriteTx(ctx, "begin session", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO session_state (id, session_id, started_at) VALUES (1, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET session_id = excluded.session_id, started_at = excluded.started_at`,
			active.ID, toNanos(active.StartedAt))
		return err
	})
	if err != nil {
		return memory.ActiveSession{}, err
	}
	return active, nil
}

// ActiveSession returns the persisted active session marker, or nil.
func (s *SQLiteStore) ActiveSession(ctx context.Context) (active *memory.ActiveSession, err error) {
	ctx, span := s.startSpan(ctx, "active_session")
	defer func() { endSpan(span, err) }()

	if err := s.checkOpen("active session"); err != nil {
		return nil, err
	}

	var (
		a         memory.ActiveSession
		startedAt int64
	)
	err = s.db.QueryRowContext(ctx,
		`SELECT session_id, started_at FROM session_state WHERE id = 1`).Scan(&a.ID, &startedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("active session", err)
	}
	a.StartedAt = fromNanos(startedAt)
	return &a, nil
}

// PersistSession stores a finished session and clears the active marker in
// the same transaction. An empty ID is generated and a zero EndedAt is set
// to now.
func (s *SQLiteStore) PersistSession(ctx context.Context, sess memory.Session) (result memory.Session, err error) {
	ctx, span := s.startSpan(ctx, "persist_session")
	defer func() { endSpan(span, err) }()

	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	span.SetAttributes(attribute.String("session.id", sess.ID))

	err = s.withWriteTx(ctx, "persist session", func(tx *sql.Tx) error {
		if sess.EndedAt.IsZero() {
			sess.EndedAt = s.Now()
		}
		if sess.StartedAt.After(sess.EndedAt) {
			sess.StartedAt = sess.EndedAt
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (id, summary, success_count, failure_count, patterns_learned, started_at, ended_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sess.ID, sess.Summary, sess.SuccessCount, sess.FailureCount, sess.PatternsLearned,
			toNanos(sess.StartedAt), toNanos(sess.EndedAt)); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM session_state`)
		return err
	})
	if err != nil {
		return memory.Session{}, err
	}
	return sess, nil
}

// GetLastSession returns the most recently ended session, or nil when none exists.
func (s *SQLiteStore) GetLastSession(ctx context.Context) (last *memory.Session, err error) {
	ctx, span := s.startSpan(ctx, "get_last_session")
	defer func() { endSpan(span, err) }()

	if err := s.checkOpen("get last session"); err != nil {
		return nil, err
	}

	var (
		sess               memory.Session
		startedAt, endedAt int64
	)
	err = s.db.QueryRowContext(ctx,
		`SELECT id, summary, success_count, failure_count, patterns_learned, started_at, ended_at
		 FROM sessions ORDER BY ended_at DESC, rowid DESC LIMIT 1`).
		Scan(&sess.ID, &sess.Summary, &sess.SuccessCount, &sess.FailureCount, &sess.PatternsLearned,
			&startedAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get last session", err)
	}
	sess.StartedAt = fromNanos(startedAt)
	sess.EndedAt = fromNanos(endedAt)
	return &sess, nil
}

// SessionActivity counts outcomes recorded and patterns created at or after since.
func (s *SQLiteStore) SessionActivity(ctx context.Context, since time.Time) (activity memory.Activity, err error) {
	ctx, span := s.startSpan(ctx, "session_activity")
	defer func() { endSpan(span, err) }()

	from := toNanos(since)

	err = s.withReadTx(ctx, "session activity", func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx,
			`SELECT
				(SELECT COUNT(*) FROM outcome_events WHERE recorded_at >= ? AND outcome = 'success'),
				(SELECT COUNT(*) FROM outcome_events WHERE recorded_at >= ? AND outcome = 'failure'),
				(SELECT COUNT(*) FROM patterns WHERE created_at >= ?)`, from, from, from).
			Scan(&activity.SuccessCount, &activity.FailureCount, &activity.PatternsLearned); err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT pattern_key FROM outcome_events WHERE recorded_at >= ?
			 GROUP BY pattern_key ORDER BY COUNT(*) DESC, MAX(recorded_at) DESC, pattern_key ASC LIMIT ?`,
			from, topKeysLimit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var key string
			if err := rows.Scan(&key); err != nil {
				return err
			}
			activity.TopKeys = append(activity.TopKeys, key)
		}
		return rows.Err()
	})
	if err != nil {
		return memory.Activity{}, err
	}
	return activity, nil
}
