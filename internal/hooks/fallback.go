package hooks

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/ctxlearn/internal/safety"
)

// Fallback answers verb when the store could not be opened. openErr is the
// open failure.
//
// pre-command still runs the safety rules: a block is reported as usual and
// an allowed command comes back with HistoryUnavailable set, whatever
// openErr is. pre-task and session-start return empty degraded results when
// openErr is ErrStoreUnavailable. Every other case returns openErr.
func Fallback(cfg EngineConfig, verb Verb, payload json.RawMessage, openErr error) (Response, error) {
	switch verb {
	case VerbPreCommand:
		var req PreCommandRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		filter, err := safety.NewFilter(cfg.SafetyPatterns)
		if err != nil {
			return nil, fmt.Errorf("safety: %w", err)
		}
		decision := filter.Check(req.Command)
		return PreCommandResponse{
			Command:            req.Command,
			Allowed:            decision.Allowed,
			RuleID:             decision.RuleID,
			Reason:             decision.Reason,
			HistoryUnavailable: decision.Allowed,
		}, nil

	case VerbPreTask:
		if !degradable(openErr) {
			return nil, openErr
		}
		var req PreTaskRequest
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return PreTaskResponse{
			Task:     strings.TrimSpace(req.Task),
			Patterns: []PatternHit{},
			Degraded: true,
		}, nil

	case VerbSessionStart:
		if !degradable(openErr) {
			return nil, openErr
		}
		return SessionStartResponse{
			NeedsImprovement: []PatternHit{},
			Proven:           []PatternHit{},
			Degraded:         true,
		}, nil
	}
	return nil, openErr
}
