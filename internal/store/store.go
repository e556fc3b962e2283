package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/fyrsmithlabs/ctxlearn/internal/memory"
)

const (
	instrumentationName = "github.com/fyrsmithlabs/ctxlearn/internal/store"

	// DefaultLockTimeout bounds how long an operation waits for the store lock.
	DefaultLockTimeout = 3 * time.Second
)

// SQLiteStore persists patterns, failures and sessions in a single SQLite file.
//
// Writes are serialized twice: in-process by a weighted semaphore and across
// processes by IMMEDIATE transactions. Both waits are bounded by the lock
// timeout, after which memory.ErrStoreUnavailable is returned.
type SQLiteStore struct {
	db          *sql.DB
	path        string
	updater     memory.Updater
	lockTimeout time.Duration
	writeSem    *semaphore.Weighted
	now         func() time.Time
	logger      *zap.Logger
	tracer      trace.Tracer
	closed      atomic.Bool
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithUpdater sets the confidence tunables.
func WithUpdater(u memory.Updater) Option {
	return func(s *SQLiteStore) { s.updater = u }
}

// WithLockTimeout sets the lock budget. Non-positive values are ignored.
func WithLockTimeout(d time.Duration) Option {
	return func(s *SQLiteStore) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *SQLiteStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTracer sets the tracer used for store spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *SQLiteStore) {
		if t != nil {
			s.tracer = t
		}
	}
}

// Open opens the store at path, creating the file and its parent directory
// when missing, and migrates the schema.
func Open(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("open store: %w: empty path", memory.ErrStoreUnavailable)
	}

	s := &SQLiteStore{
		path:        path,
		updater:     memory.DefaultUpdater(),
		lockTimeout: DefaultLockTimeout,
		writeSem:    semaphore.NewWeighted(1),
		now:         time.Now,
		logger:      zap.NewNop(),
		tracer:      otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.updater.Validate(); err != nil {
		return nil, fmt.Errorf("open store: invalid confidence tunables: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("open store: %w: creating %s: %v", memory.ErrStoreUnavailable, dir, err)
		}
	}

	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return nil, classify("open store", err)
	}
	s.db = db

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, classify("open store", err)
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Debug("store opened",
		zap.String("path", path),
		zap.Duration("lock_timeout", s.lockTimeout))

	return s, nil
}

// dsn builds the connection string. busy_timeout makes SQLite wait for a
// cross-process lock for up to the lock budget.
func (s *SQLiteStore) dsn() string {
	return fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_txlock=immediate",
		s.path, s.lockTimeout.Milliseconds())
}

// Path returns the store file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Updater returns the confidence tunables in use.
func (s *SQLiteStore) Updater() memory.Updater {
	return s.updater
}

// Now returns the store's current time.
func (s *SQLiteStore) Now() time.Time {
	return s.now().UTC()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// withWriteTx runs fn in an IMMEDIATE transaction while holding the
// in-process write lock.
func (s *SQLiteStore) withWriteTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	if s.closed.Load() {
		return fmt.Errorf("%s: %w: store closed", op, memory.ErrStoreUnavailable)
	}

	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()
	if err := s.writeSem.Acquire(lockCtx, 1); err != nil {
		return fmt.Errorf("%s: %w: waiting for write lock: %v", op, memory.ErrStoreUnavailable, err)
	}
	defer s.writeSem.Release(1)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return classify(op, err)
	}
	return nil
}

// withReadTx runs fn in a deferred read transaction so that multi-statement
// reads see one snapshot.
func (s *SQLiteStore) withReadTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	if err := s.checkOpen(op); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return classify(op, err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return classify(op, err)
	}
	return nil
}

// checkOpen guards read paths against use after Close.
func (s *SQLiteStore) checkOpen(op string) error {
	if s.closed.Load() {
		return fmt.Errorf("%s: %w: store closed", op, memory.ErrStoreUnavailable)
	}
	return nil
}

// startSpan starts a store span with the operation name.
func (s *SQLiteStore) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "store."+op)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// endSpan records err on span and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// classify maps driver errors onto the engine's error taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, memory.ErrStoreUnavailable) || errors.Is(err, memory.ErrCorrupt) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, memory.ErrStoreUnavailable, err)
	}

	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_CANTOPEN,
			sqlite3.SQLITE_READONLY, sqlite3.SQLITE_IOERR, sqlite3.SQLITE_FULL, sqlite3.SQLITE_PERM:
			return fmt.Errorf("%s: %w: %w", op, memory.ErrStoreUnavailable, err)
		case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB, sqlite3.SQLITE_SCHEMA:
			return fmt.Errorf("%s: %w: %w", op, memory.ErrCorrupt, err)
		}
	}

	// Errors raised while applying connection pragmas may arrive without the
	// driver type attached.
	msg := err.Error()
	switch {
	case strings.Contains(msg, "file is not a database"), strings.Contains(msg, "malformed"):
		return fmt.Errorf("%s: %w: %w", op, memory.ErrCorrupt, err)
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "unable to open database"):
		return fmt.Errorf("%s: %w: %w", op, memory.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// corrupt wraps a decoding failure.
func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", memory.ErrCorrupt, fmt.Sprintf(format, args...))
}

// toNanos maps the zero time to 0, since it has no int64 nanosecond form.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// limitArg converts a non-positive limit to SQLite's "no limit".
func limitArg(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
