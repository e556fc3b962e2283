package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ctxlearn/internal/memory"
	"github.com/fyrsmithlabs/ctxlearn/internal/retrieval"
	"github.com/fyrsmithlabs/ctxlearn/internal/safety"
	"github.com/fyrsmithlabs/ctxlearn/internal/session"
)

const instrumentationName = "github.com/fyrsmithlabs/ctxlearn/internal/hooks"

// Result classifies an invocation for metrics and observers.
type Result string

const (
	ResultOK       Result = "ok"
	ResultDegraded Result = "degraded"
	ResultBlocked  Result = "blocked"
	ResultError    Result = "error"
)

// PatternWriter records task outcomes.
type PatternWriter interface {
	UpsertPattern(ctx context.Context, key, patternContext string, outcome memory.Outcome) (memory.Pattern, error)
}

// Retriever ranks patterns for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query, scope string, topN int) ([]retrieval.Ranked, error)
}

// FailureTracker records failures and decides when to warn.
type FailureTracker interface {
	Record(ctx context.Context, task, errorMessage, failureContext string) (memory.Failure, error)
	ShouldWarn(ctx context.Context, task string, threshold int) (bool, int, error)
}

// SessionManager opens and closes session windows.
type SessionManager interface {
	Start(ctx context.Context) (session.StartReport, error)
	End(ctx context.Context, windowStart time.Time, summary string) (session.EndReport, error)
}

// Deps are the components a Dispatcher routes to. Safety defaults to
// safety.Default().
type Deps struct {
	Patterns  PatternWriter
	Retriever Retriever
	Failures  FailureTracker
	Safety    *safety.Filter
	Sessions  SessionManager
}

// Event is passed to observers after every invocation.
type Event struct {
	Verb     Verb
	Result   Result
	Response Response
	Err      error
	Duration time.Duration
}

// Handler observes hook invocations.
type Handler func(ctx context.Context, ev Event) error

// Instrumentation supplies tracers and meters. *telemetry.Telemetry
// satisfies it.
type Instrumentation interface {
	Tracer(name string, opts ...trace.TracerOption) trace.Tracer
	Meter(name string, opts ...metric.MeterOption) metric.Meter
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithInstrumentation uses inst instead of the global OpenTelemetry providers.
func WithInstrumentation(inst Instrumentation) Option {
	return func(d *Dispatcher) {
		if inst != nil {
			d.tracer = inst.Tracer(instrumentationName)
			d.meter = inst.Meter(instrumentationName)
		}
	}
}

// Dispatcher routes hook verbs to the engine components.
type Dispatcher struct {
	deps   Deps
	config Config
	logger *zap.Logger
	tracer trace.Tracer
	meter  metric.Meter

	invocations metric.Int64Counter
	duration    metric.Float64Histogram

	mu       sync.RWMutex
	handlers map[Verb][]Handler
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(deps Deps, cfg Config, logger *zap.Logger, opts ...Option) (*Dispatcher, error) {
	if deps.Patterns == nil || deps.Retriever == nil || deps.Failures == nil || deps.Sessions == nil {
		return nil, errors.New("hooks: patterns, retriever, failures and sessions are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Safety == nil {
		deps.Safety = safety.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		deps:     deps,
		config:   cfg,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
		meter:    otel.Meter(instrumentationName),
		handlers: make(map[Verb][]Handler),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.initMetrics()
	return d, nil
}

func (d *Dispatcher) initMetrics() {
	var err error

	d.invocations, err = d.meter.Int64Counter(
		"ctxlearn.hooks.invocations_total",
		metric.WithDescription("Total number of hook invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		d.logger.Warn("failed to create invocations counter", zap.Error(err))
	}

	d.duration, err = d.meter.Float64Histogram(
		"ctxlearn.hooks.duration",
		metric.WithDescription("Hook invocation latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		d.logger.Warn("failed to create duration histogram", zap.Error(err))
	}
}

// Config returns the hook configuration.
func (d *Dispatcher) Config() Config {
	return d.config
}

// RegisterHandler registers an observer for a verb.
func (d *Dispatcher) RegisterHandler(verb Verb, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[verb] = append(d.handlers[verb], handler)
}

// RegisterAll registers an observer for every verb.
func (d *Dispatcher) RegisterAll(handler Handler) {
	for _, v := range Verbs {
		d.RegisterHandler(v, handler)
	}
}

// notify runs observers. Observer errors are logged, never returned: the
// verb's outcome is already decided.
func (d *Dispatcher) notify(ctx context.Context, ev Event) {
	d.mu.RLock()
	handlers := d.handlers[ev.Verb]
	d.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, ev); err != nil {
			d.logger.Warn("hook observer failed", zap.String("verb", string(ev.Verb)), zap.Error(err))
		}
	}
}

// invoke wraps a verb with tracing, metrics and observers.
func invoke[R Response](ctx context.Context, d *Dispatcher, verb Verb, fn func(context.Context, trace.Span) (R, Result, error)) (R, error) {
	ctx, span := d.tracer.Start(ctx, "hooks."+string(verb))
	defer span.End()
	start := time.Now()

	resp, result, err := fn(ctx, span)
	if err != nil {
		result = ResultError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	elapsed := time.Since(start)
	span.SetAttributes(attribute.String("hook.result", string(result)))

	attrs := metric.WithAttributes(
		attribute.String("verb", string(verb)),
		attribute.String("result", string(result)),
	)
	if d.invocations != nil {
		d.invocations.Add(ctx, 1, attrs)
	}
	if d.duration != nil {
		d.duration.Record(ctx, elapsed.Seconds(), attrs)
	}

	d.logger.Debug("hook invoked",
		zap.String("verb", string(verb)),
		zap.String("result", string(result)),
		zap.Duration("duration", elapsed),
		zap.Error(err))

	ev := Event{Verb: verb, Result: result, Err: err, Duration: elapsed}
	if err == nil {
		ev.Response = resp
	}
	d.notify(ctx, ev)
	return resp, err
}

// degradable reports whether err should degrade a read instead of failing it.
func degradable(err error) bool {
	return errors.Is(err, memory.ErrStoreUnavailable)
}

// PreTask retrieves the best patterns for a task and warns when the task
// has failed at least the configured threshold of times.
func (d *Dispatcher) PreTask(ctx context.Context, req PreTaskRequest) (PreTaskResponse, error) {
	return invoke(ctx, d, VerbPreTask, func(ctx context.Context, span trace.Span) (PreTaskResponse, Result, error) {
		task := strings.TrimSpace(req.Task)
		resp := PreTaskResponse{Task: task, Patterns: []PatternHit{}}
		result := ResultOK
		span.SetAttributes(attribute.String("hook.task", task), attribute.String("hook.context", req.Context))

		limit := req.Limit
		if limit <= 0 {
			limit = d.config.TopN
		}
		ranked, err := d.deps.Retriever.Retrieve(ctx, task, strings.TrimSpace(req.Context), limit)
		switch {
		case degradable(err):
			d.logger.Warn("pre-task retrieval degraded", zap.String("task", task), zap.Error(err))
			resp.Degraded, result = true, ResultDegraded
		case err != nil:
			return PreTaskResponse{}, ResultError, fmt.Errorf("pre-task: %w", err)
		default:
			for _, r := range ranked {
				hit := hitFromPattern(r.Pattern)
				hit.Rank, hit.Score = r.Rank, r.Score
				resp.Patterns = append(resp.Patterns, hit)
			}
		}

		if task == "" {
			return resp, result, nil
		}
		warn, n, err := d.deps.Failures.ShouldWarn(ctx, task, d.config.WarnThreshold)
		switch {
		case degradable(err):
			d.logger.Warn("pre-task failure history degraded", zap.String("task", task), zap.Error(err))
			resp.Degraded, result = true, ResultDegraded
		case err != nil:
			return PreTaskResponse{}, ResultError, fmt.Errorf("pre-task: %w", err)
		default:
			resp.FailureCount = n
			if warn {
				resp.Warning = fmt.Sprintf("%q has failed %d times; review earlier errors before retrying", task, n)
			}
		}
		return resp, result, nil
	})
}

// PostTask records an outcome, updating the pattern's confidence. Failures
// are also appended to the failure log with secrets scrubbed. The log write
// is best-effort: once the pattern is updated a failed append is logged and
// the response comes back without a FailureID.
func (d *Dispatcher) PostTask(ctx context.Context, req PostTaskRequest) (PostTaskResponse, error) {
	return invoke(ctx, d, VerbPostTask, func(ctx context.Context, span trace.Span) (PostTaskResponse, Result, error) {
		outcome, err := memory.ParseOutcome(req.Outcome)
		if err != nil {
			return PostTaskResponse{}, ResultError, fmt.Errorf("post-task: %w", err)
		}

		p, err := d.deps.Patterns.UpsertPattern(ctx, req.Task, req.Context, outcome)
		if err != nil {
			return PostTaskResponse{}, ResultError, fmt.Errorf("post-task: %w", err)
		}
		resp := PostTaskResponse{
			Key:             p.Key,
			Outcome:         outcome,
			Confidence:      p.Confidence,
			OccurrenceCount: p.OccurrenceCount,
			Created:         p.OccurrenceCount == 1,
		}
		span.SetAttributes(
			attribute.String("hook.task", p.Key),
			attribute.String("hook.outcome", string(outcome)),
			attribute.Float64("pattern.confidence", p.Confidence))

		if outcome == memory.OutcomeFailure {
			f, err := d.deps.Failures.Record(ctx, p.Key, req.ErrorMessage, req.Context)
			if err != nil {
				d.logger.Warn("post-task failure log write dropped", zap.String("task", p.Key), zap.Error(err))
				return resp, ResultDegraded, nil
			}
			resp.FailureID = f.ID
		}
		return resp, ResultOK, nil
	})
}

// PreCommand gates a command. The safety check needs no store access and
// always runs; a block is final. Allowed commands carry an advisory when
// they have failed before, and store errors only drop that advisory.
func (d *Dispatcher) PreCommand(ctx context.Context, req PreCommandRequest) (PreCommandResponse, error) {
	return invoke(ctx, d, VerbPreCommand, func(ctx context.Context, span trace.Span) (PreCommandResponse, Result, error) {
		decision := d.deps.Safety.Check(req.Command)
		resp := PreCommandResponse{
			Command: req.Command,
			Allowed: decision.Allowed,
			RuleID:  decision.RuleID,
			Reason:  decision.Reason,
		}
		span.SetAttributes(attribute.Bool("hook.allowed", decision.Allowed))
		if !decision.Allowed {
			span.SetAttributes(attribute.String("hook.rule_id", decision.RuleID))
			d.logger.Info("command blocked", zap.String("rule_id", decision.RuleID))
			return resp, ResultBlocked, nil
		}

		command := strings.TrimSpace(req.Command)
		if !d.config.CommandAdvisory || command == "" {
			return resp, ResultOK, nil
		}
		warn, n, err := d.deps.Failures.ShouldWarn(ctx, command, d.config.WarnThreshold)
		if err != nil {
			d.logger.Warn("pre-command failure history unavailable", zap.Error(err))
			resp.HistoryUnavailable = true
			return resp, ResultDegraded, nil
		}
		resp.FailureCount = n
		if warn {
			resp.Warning = fmt.Sprintf("this command has failed %d times before", n)
		}
		return resp, ResultOK, nil
	})
}

// SessionStart opens a session window and returns the briefing.
func (d *Dispatcher) SessionStart(ctx context.Context, _ SessionStartRequest) (SessionStartResponse, error) {
	return invoke(ctx, d, VerbSessionStart, func(ctx context.Context, span trace.Span) (SessionStartResponse, Result, error) {
		report, err := d.deps.Sessions.Start(ctx)
		if err != nil {
			return SessionStartResponse{}, ResultError, fmt.Errorf("session-start: %w", err)
		}
		resp := SessionStartResponse{
			SessionID:        report.SessionID,
			LastSession:      report.LastSession,
			NeedsImprovement: hitsFromPatterns(report.NeedsImprovement),
			Proven:           hitsFromPatterns(report.Proven),
			Degraded:         report.Degraded,
		}
		if report.Degraded {
			return resp, ResultDegraded, nil
		}
		return resp, ResultOK, nil
	})
}

// SessionEnd closes the current session window.
func (d *Dispatcher) SessionEnd(ctx context.Context, req SessionEndRequest) (SessionEndResponse, error) {
	return invoke(ctx, d, VerbSessionEnd, func(ctx context.Context, span trace.Span) (SessionEndResponse, Result, error) {
		report, err := d.deps.Sessions.End(ctx, time.Time{}, req.Summary)
		if err != nil {
			return SessionEndResponse{}, ResultError, fmt.Errorf("session-end: %w", err)
		}
		span.SetAttributes(attribute.String("session.id", report.Session.ID))
		return SessionEndResponse{
			SessionID:          report.Session.ID,
			Summary:            report.Session.Summary,
			SuccessCount:       report.Session.SuccessCount,
			FailureCount:       report.Session.FailureCount,
			PatternsLearned:    report.Session.PatternsLearned,
			TopKeys:            report.TopKeys,
			Consolidation:      report.Consolidation,
			ConsolidationError: report.ConsolidationError,
		}, ResultOK, nil
	})
}

// Dispatch decodes a JSON payload for verb and invokes it. An empty payload
// decodes as the zero request.
func (d *Dispatcher) Dispatch(ctx context.Context, verb Verb, payload json.RawMessage) (Response, error) {
	switch verb {
	case VerbPreTask:
		var req PreTaskRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return d.PreTask(ctx, req)
	case VerbPostTask:
		var req PostTaskRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return d.PostTask(ctx, req)
	case VerbPreCommand:
		var req PreCommandRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return d.PreCommand(ctx, req)
	case VerbSessionStart:
		var req SessionStartRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return d.SessionStart(ctx, req)
	case VerbSessionEnd:
		var req SessionEndRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return d.SessionEnd(ctx, req)
	default:
		return nil, fmt.Errorf("unknown hook verb %q", verb)
	}
}

func decode(payload json.RawMessage, v any) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("invalid hook payload: %w", err)
	}
	return nil
}
