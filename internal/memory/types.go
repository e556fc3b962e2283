package memory

import (
	"fmt"
	"strings"
	"time"
)

// Outcome is the recorded result of a task or command.
type Outcome string

const (
	// OutcomeSuccess marks an approach that worked.
	OutcomeSuccess Outcome = "success"

	// OutcomeFailure marks an approach that did not work.
	OutcomeFailure Outcome = "failure"
)

// ParseOutcome parses an outcome string case-insensitively.
// "ok", "pass" and "passed" are accepted as success, "fail", "failed" and
// "error" as failure.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success", "succeeded", "ok", "pass", "passed":
		return OutcomeSuccess, nil
	case "failure", "failed", "fail", "error":
		return OutcomeFailure, nil
	default:
		return "", fmt.Errorf("%w: got %q", ErrInvalidOutcome, s)
	}
}

// Valid reports whether o is one of the known outcomes.
func (o Outcome) Valid() bool {
	return o == OutcomeSuccess || o == OutcomeFailure
}

// NormalizeKey trims surrounding whitespace from a key and rejects empty keys.
func NormalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrInvalidKey
	}
	return key, nil
}

// Pattern is a recurring approach or task description and its track record.
type Pattern struct {
	// Key uniquely identifies the pattern (e.g. "add-auth").
	Key string `json:"key"`

	// Context is free-text scope such as a working directory or category tag.
	Context string `json:"context,omitempty"`

	// Confidence is the current score in [0, 1].
	Confidence float64 `json:"confidence"`

	// LastOutcome is the outcome of the most recent recorded attempt.
	LastOutcome Outcome `json:"last_outcome"`

	// OccurrenceCount is the number of recorded outcomes (at least 1).
	OccurrenceCount int `json:"occurrence_count"`

	CreatedAt time.Time `json:"created_at"`
	LastSeen  time.Time `json:"last_seen"`
}

// Validate checks the invariants a persisted pattern must hold.
func (p Pattern) Validate() error {
	if strings.TrimSpace(p.Key) == "" {
		return ErrInvalidKey
	}
	if p.Confidence < 0 || p.Confidence > 1 || p.Confidence != p.Confidence {
		return fmt.Errorf("%w: pattern %q has %v", ErrInvalidConfidence, p.Key, p.Confidence)
	}
	if !p.LastOutcome.Valid() {
		return fmt.Errorf("%w: pattern %q has %q", ErrInvalidOutcome, p.Key, p.LastOutcome)
	}
	if p.OccurrenceCount < 1 {
		return fmt.Errorf("pattern %q has occurrence count %d", p.Key, p.OccurrenceCount)
	}
	if p.LastSeen.Before(p.CreatedAt) {
		return fmt.Errorf("pattern %q last seen before it was created", p.Key)
	}
	return nil
}

// Failure is an append-only record of a failed attempt.
type Failure struct {
	ID           int64     `json:"id"`
	Task         string    `json:"task"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Context      string    `json:"context,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Session summarizes a bounded window of activity. Sessions are created once
// at session end and never modified.
type Session struct {
	ID              string    `json:"id"`
	Summary         string    `json:"summary"`
	SuccessCount    int       `json:"success_count"`
	FailureCount    int       `json:"failure_count"`
	PatternsLearned int       `json:"patterns_learned"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
}

// ActiveSession marks an open session window shared across hook processes.
type ActiveSession struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
}

// Activity aggregates what happened in a session window.
type Activity struct {
	SuccessCount    int
	FailureCount    int
	PatternsLearned int

	// TopKeys lists the most frequently recorded pattern keys in the window.
	TopKeys []string
}

// CausalLink records that one pattern tends to lead to another.
type CausalLink struct {
	Cause           string    `json:"cause"`
	Effect          string    `json:"effect"`
	Confidence      float64   `json:"confidence"`
	OccurrenceCount int       `json:"occurrence_count"`
	CreatedAt       time.Time `json:"created_at"`
	LastSeen        time.Time `json:"last_seen"`
}
