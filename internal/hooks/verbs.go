package hooks

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/ctxlearn/internal/consolidation"
	"github.com/fyrsmithlabs/ctxlearn/internal/memory"
)

// Verb names a hook call point.
type Verb string

const (
	// VerbPreTask retrieves patterns before a task starts.
	VerbPreTask Verb = "pre-task"

	// VerbPostTask records the outcome of a task.
	VerbPostTask Verb = "post-task"

	// VerbPreCommand gates a shell command.
	VerbPreCommand Verb = "pre-command"

	// VerbSessionStart opens a session window.
	VerbSessionStart Verb = "session-start"

	// VerbSessionEnd closes the session window and persists its summary.
	VerbSessionEnd Verb = "session-end"
)

// Verbs lists every verb in call order.
var Verbs = []Verb{VerbPreTask, VerbPostTask, VerbPreCommand, VerbSessionStart, VerbSessionEnd}

// ParseVerb accepts dashed or underscored verb names.
func ParseVerb(s string) (Verb, error) {
	v := Verb(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-"))
	for _, known := range Verbs {
		if v == known {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown hook verb %q", s)
}

// Response is what every verb returns. Render produces the text injected
// into the agent's context.
type Response interface {
	Render() string
}

// PreTaskRequest asks for patterns relevant to a task.
type PreTaskRequest struct {
	Task    string `json:"task"`
	Context string `json:"context,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// PatternHit is one retrieved pattern.
type PatternHit struct {
	Rank            int     `json:"rank"`
	Key             string  `json:"key"`
	Confidence      float64 `json:"confidence"`
	OccurrenceCount int     `json:"occurrence_count"`
	Context         string  `json:"context,omitempty"`
	Score           float64 `json:"score"`
}

// PreTaskResponse lists patterns best first, with a warning when the task
// has failed repeatedly.
type PreTaskResponse struct {
	Task         string       `json:"task"`
	Patterns     []PatternHit `json:"patterns"`
	Warning      string       `json:"warning,omitempty"`
	FailureCount int          `json:"failure_count"`
	Degraded     bool         `json:"degraded,omitempty"`
}

func (r PreTaskResponse) Render() string {
	var b strings.Builder
	if r.Warning != "" {
		fmt.Fprintf(&b, "WARNING: %s\n", r.Warning)
	}
	if len(r.Patterns) == 0 {
		b.WriteString("No learned patterns match this task.\n")
	} else {
		b.WriteString("Learned patterns:\n")
		for _, p := range r.Patterns {
			fmt.Fprintf(&b, "%d. %s (confidence %.2f, seen %d)", p.Rank, p.Key, p.Confidence, p.OccurrenceCount)
			if p.Context != "" {
				fmt.Fprintf(&b, " [%s]", p.Context)
			}
			b.WriteByte('\n')
		}
	}
	if r.Degraded {
		b.WriteString("(memory unavailable; results may be incomplete)\n")
	}
	return b.String()
}

// PostTaskRequest records an outcome. Outcome is parsed with
// memory.ParseOutcome.
type PostTaskRequest struct {
	Task         string `json:"task"`
	Outcome      string `json:"outcome"`
	ErrorMessage string `json:"error_message,omitempty"`
	Context      string `json:"context,omitempty"`
}

// PostTaskResponse confirms the write.
type PostTaskResponse struct {
	Key             string         `json:"key"`
	Outcome         memory.Outcome `json:"outcome"`
	Confidence      float64        `json:"confidence"`
	OccurrenceCount int            `json:"occurrence_count"`
	Created         bool           `json:"created"`

	// FailureID is set when a failure record was appended.
	FailureID int64 `json:"failure_id,omitempty"`
}

func (r PostTaskResponse) Render() string {
	verb := "Updated"
	if r.Created {
		verb = "Learned"
	}
	return fmt.Sprintf("%s pattern %q: %s, confidence %.2f (seen %d)\n",
		verb, r.Key, r.Outcome, r.Confidence, r.OccurrenceCount)
}

// PreCommandRequest asks whether a command may run.
type PreCommandRequest struct {
	Command string `json:"command"`
}

// PreCommandResponse is the gate decision.
type PreCommandResponse struct {
	Command string `json:"command"`
	Allowed bool   `json:"allowed"`
	RuleID  string `json:"rule_id,omitempty"`
	Reason  string `json:"reason,omitempty"`

	Warning      string `json:"warning,omitempty"`
	FailureCount int    `json:"failure_count,omitempty"`

	// HistoryUnavailable is set when the failure advisory could not be read.
	HistoryUnavailable bool `json:"history_unavailable,omitempty"`
}

func (r PreCommandResponse) Render() string {
	if !r.Allowed {
		return fmt.Sprintf("BLOCKED (%s): %s\n", r.RuleID, r.Reason)
	}
	if r.Warning != "" {
		return fmt.Sprintf("WARNING: %s\n", r.Warning)
	}
	return ""
}

// SessionStartRequest carries no fields.
type SessionStartRequest struct{}

// SessionStartResponse is the start-of-session briefing.
type SessionStartResponse struct {
	SessionID        string          `json:"session_id,omitempty"`
	LastSession      *memory.Session `json:"last_session,omitempty"`
	NeedsImprovement []PatternHit    `json:"needs_improvement"`
	Proven           []PatternHit    `json:"proven"`
	Degraded         bool            `json:"degraded,omitempty"`
}

func (r SessionStartResponse) Render() string {
	var b strings.Builder
	if r.LastSession != nil {
		fmt.Fprintf(&b, "Last session (%s): %s\n",
			r.LastSession.EndedAt.Format("2006-01-02 15:04"), r.LastSession.Summary)
	} else {
		b.WriteString("No previous session.\n")
	}
	writeHits(&b, "Needs improvement", r.NeedsImprovement)
	writeHits(&b, "Proven", r.Proven)
	if r.Degraded {
		b.WriteString("(memory unavailable; briefing may be incomplete)\n")
	}
	return b.String()
}

func writeHits(b *strings.Builder, title string, hits []PatternHit) {
	if len(hits) == 0 {
		return
	}
	fmt.Fprintf(b, "%s:\n", title)
	for _, h := range hits {
		fmt.Fprintf(b, "- %s (confidence %.2f, seen %d)\n", h.Key, h.Confidence, h.OccurrenceCount)
	}
}

// SessionEndRequest optionally overrides the generated summary.
type SessionEndRequest struct {
	Summary string `json:"summary,omitempty"`
}

// SessionEndResponse reports the persisted session.
type SessionEndResponse struct {
	SessionID       string   `json:"session_id"`
	Summary         string   `json:"summary"`
	SuccessCount    int      `json:"success_count"`
	FailureCount    int      `json:"failure_count"`
	PatternsLearned int      `json:"patterns_learned"`
	TopKeys         []string `json:"top_keys,omitempty"`

	Consolidation      *consolidation.Result `json:"consolidation,omitempty"`
	ConsolidationError string                `json:"consolidation_error,omitempty"`
}

func (r SessionEndResponse) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %s saved: %d succeeded, %d failed, %d new patterns.\n",
		r.SessionID, r.SuccessCount, r.FailureCount, r.PatternsLearned)
	if r.Consolidation != nil && len(r.Consolidation.Deleted) > 0 {
		fmt.Fprintf(&b, "Pruned %d unreliable patterns: %s\n",
			len(r.Consolidation.Deleted), strings.Join(r.Consolidation.Deleted, ", "))
	}
	if r.ConsolidationError != "" {
		fmt.Fprintf(&b, "Consolidation failed: %s\n", r.ConsolidationError)
	}
	return b.String()
}

func hitFromPattern(p memory.Pattern) PatternHit {
	return PatternHit{
		Key:             p.Key,
		Confidence:      p.Confidence,
		OccurrenceCount: p.OccurrenceCount,
		Context:         p.Context,
	}
}

func hitsFromPatterns(ps []memory.Pattern) []PatternHit {
	hits := make([]PatternHit, len(ps))
	for i, p := range ps {
		hits[i] = hitFromPattern(p)
		hits[i].Rank = i + 1
	}
	return hits
}
