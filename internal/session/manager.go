// Package session tracks session windows and produces the start and end
// reports injected into the agent's context.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxlearn/internal/consolidation"
	"github.com/fyrsmithlabs/ctxlearn/internal/memory"
	"github.com/fyrsmithlabs/ctxlearn/internal/store"
)

const instrumentationName = "github.com/fyrsmithlabs/ctxlearn/internal/session"

// State is the lifecycle state of a Manager.
type State int

const (
	StateInactive State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Store is the subset of the store the manager needs.
type Store interface {
	BeginSession(ctx context.Context, active memory.ActiveSession) (memory.ActiveSession, error)
	ActiveSession(ctx context.Context) (*memory.ActiveSession, error)
	PersistSession(ctx context.Context, sess memory.Session) (memory.Session, error)
	GetLastSession(ctx context.Context) (*memory.Session, error)
	SessionActivity(ctx context.Context, since time.Time) (memory.Activity, error)
	QueryPatterns(ctx context.Context, q store.PatternQuery) ([]memory.Pattern, error)
	Now() time.Time
}

// Consolidator runs consolidation after a session ends.
type Consolidator interface {
	Run(ctx context.Context) (consolidation.Result, error)
}

// Config configures a Manager.
type Config struct {
	WeakLimit   int `koanf:"weak_limit" json:"weak_limit"`
	ProvenLimit int `koanf:"proven_limit" json:"proven_limit"`
}

// DefaultConfig returns the standard report sizes.
func DefaultConfig() Config {
	return Config{WeakLimit: 3, ProvenLimit: 5}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.WeakLimit < 0 || c.ProvenLimit < 0 {
		return fmt.Errorf("session limits must not be negative")
	}
	return nil
}

// StartReport is produced when a session starts.
type StartReport struct {
	SessionID        string           `json:"session_id,omitempty"`
	StartedAt        time.Time        `json:"started_at"`
	LastSession      *memory.Session  `json:"last_session,omitempty"`
	NeedsImprovement []memory.Pattern `json:"needs_improvement"`
	Proven           []memory.Pattern `json:"proven"`

	// Degraded is set when the store could not be read and parts of the
	// report are missing.
	Degraded bool `json:"degraded,omitempty"`
}

// EndReport is produced when a session ends.
type EndReport struct {
	Session       memory.Session        `json:"session"`
	TopKeys       []string              `json:"top_keys,omitempty"`
	Consolidation *consolidation.Result `json:"consolidation,omitempty"`

	// ConsolidationError is set when the session was saved but pruning failed.
	ConsolidationError string `json:"consolidation_error,omitempty"`
}

// Manager drives one session lifecycle. A fresh Manager starts Inactive;
// hook processes that only see session-end rely on the persisted marker
// to recover the window start.
type Manager struct {
	store        Store
	consolidator Consolidator
	cfg          Config
	logger       *zap.Logger
	tracer       trace.Tracer

	mu        sync.Mutex
	state     State
	sessionID string
	startedAt time.Time
}

// NewManager returns an Inactive manager. A nil consolidator skips pruning.
func NewManager(s Store, c Consolidator, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:        s,
		consolidator: c,
		cfg:          cfg,
		logger:       logger,
		tracer:       otel.Tracer(instrumentationName),
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start opens a session window and gathers the start report. Store
// unavailability degrades the report; corruption is returned.
func (m *Manager) Start(ctx context.Context) (StartReport, error) {
	ctx, span := m.tracer.Start(ctx, "session.start")
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateActive {
		return StartReport{}, memory.ErrSessionActive
	}

	report := StartReport{
		NeedsImprovement: []memory.Pattern{},
		Proven:           []memory.Pattern{},
	}

	degrade := func(step string, err error) error {
		if errors.Is(err, memory.ErrStoreUnavailable) {
			m.logger.Warn("session start degraded", zap.String("step", step), zap.Error(err))
			report.Degraded = true
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("session start: %s: %w", step, err)
	}

	active, err := m.store.BeginSession(ctx, memory.ActiveSession{})
	if err != nil {
		if err := degrade("begin", err); err != nil {
			return StartReport{}, err
		}
		active = memory.ActiveSession{StartedAt: m.store.Now()}
	}

	last, err := m.store.GetLastSession(ctx)
	if err != nil {
		if err := degrade("last session", err); err != nil {
			return StartReport{}, err
		}
	}
	report.LastSession = last

	if m.cfg.WeakLimit > 0 {
		weak, err := m.store.QueryPatterns(ctx, store.PatternQuery{
			MaxConfidence:  memory.WeakThreshold,
			MinOccurrences: 1,
			Limit:          m.cfg.WeakLimit,
		})
		if err != nil {
			if err := degrade("weak patterns", err); err != nil {
				return StartReport{}, err
			}
		} else {
			report.NeedsImprovement = weak
		}
	}

	if m.cfg.ProvenLimit > 0 {
		proven, err := m.store.QueryPatterns(ctx, store.PatternQuery{
			MinConfidence: memory.ProvenThreshold,
			ExclusiveMin:  true,
			Limit:         m.cfg.ProvenLimit,
		})
		if err != nil {
			if err := degrade("proven patterns", err); err != nil {
				return StartReport{}, err
			}
		} else {
			report.Proven = proven
		}
	}

	m.state = StateActive
	m.sessionID = active.ID
	m.startedAt = active.StartedAt
	report.SessionID = active.ID
	report.StartedAt = active.StartedAt

	span.SetAttributes(
		attribute.String("session.id", active.ID),
		attribute.Bool("session.degraded", report.Degraded))
	return report, nil
}

// WindowStart resolves where the current session began: the in-memory start,
// else the persisted marker, else the end of the last session, else the zero
// time (all history).
func (m *Manager) WindowStart(ctx context.Context) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, _, err := m.windowStartLocked(ctx)
	return ws, err
}

// windowStartLocked also returns the session ID when one is known.
func (m *Manager) windowStartLocked(ctx context.Context) (time.Time, string, error) {
	if m.state == StateActive {
		return m.startedAt, m.sessionID, nil
	}
	active, err := m.store.ActiveSession(ctx)
	if err != nil {
		return time.Time{}, "", err
	}
	if active != nil {
		return active.StartedAt, active.ID, nil
	}
	last, err := m.store.GetLastSession(ctx)
	if err != nil {
		return time.Time{}, "", err
	}
	if last != nil {
		return last.EndedAt, "", nil
	}
	return time.Time{}, "", nil
}

// End closes the session window starting at windowStart (resolved with
// WindowStart when zero), persists its summary and runs consolidation.
// An empty summary is generated from the window's activity.
func (m *Manager) End(ctx context.Context, windowStart time.Time, summary string) (EndReport, error) {
	ctx, span := m.tracer.Start(ctx, "session.end")
	defer span.End()

	fail := func(err error) (EndReport, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return EndReport{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateClosed {
		return fail(memory.ErrSessionClosed)
	}

	sessionID := m.sessionID
	if windowStart.IsZero() {
		ws, id, err := m.windowStartLocked(ctx)
		if err != nil {
			return fail(fmt.Errorf("session end: resolving window: %w", err))
		}
		windowStart = ws
		if sessionID == "" {
			sessionID = id
		}
	}

	activity, err := m.store.SessionActivity(ctx, windowStart)
	if err != nil {
		return fail(fmt.Errorf("session end: counting activity: %w", err))
	}

	endedAt := m.store.Now()
	startedAt := windowStart
	if startedAt.IsZero() || startedAt.After(endedAt) {
		startedAt = endedAt
	}
	if strings.TrimSpace(summary) == "" {
		summary = Summarize(activity)
	}

	sess, err := m.store.PersistSession(ctx, memory.Session{
		ID:              sessionID,
		Summary:         strings.TrimSpace(summary),
		SuccessCount:    activity.SuccessCount,
		FailureCount:    activity.FailureCount,
		PatternsLearned: activity.PatternsLearned,
		StartedAt:       startedAt,
		EndedAt:         endedAt,
	})
	if err != nil {
		return fail(fmt.Errorf("session end: %w", err))
	}
	m.state = StateClosed

	report := EndReport{Session: sess, TopKeys: activity.TopKeys}
	span.SetAttributes(
		attribute.String("session.id", sess.ID),
		attribute.Int("session.success_count", sess.SuccessCount),
		attribute.Int("session.failure_count", sess.FailureCount))

	if m.consolidator != nil {
		res, err := m.consolidator.Run(ctx)
		if err != nil {
			m.logger.Warn("consolidation after session end failed", zap.Error(err))
			report.ConsolidationError = err.Error()
		} else {
			report.Consolidation = &res
		}
	}

	m.logger.Info("session ended",
		zap.String("session_id", sess.ID),
		zap.Int("success_count", sess.SuccessCount),
		zap.Int("failure_count", sess.FailureCount),
		zap.Int("patterns_learned", sess.PatternsLearned))
	return report, nil
}

// Summarize renders a one-line summary of activity.
func Summarize(a memory.Activity) string {
	if a.SuccessCount == 0 && a.FailureCount == 0 {
		return "No outcomes recorded."
	}
	s := fmt.Sprintf("%d succeeded, %d failed, %d new %s.",
		a.SuccessCount, a.FailureCount, a.PatternsLearned, plural(a.PatternsLearned, "pattern", "patterns"))
	if len(a.TopKeys) > 0 {
		s += " Most active: " + strings.Join(a.TopKeys, ", ") + "."
	}
	return s
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
