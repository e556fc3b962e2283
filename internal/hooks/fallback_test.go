package hooks

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ctxlearn/internal/memory"
)

func TestFallback(t *testing.T) {
	unavailable := fmt.Errorf("store.open: %w", memory.ErrStoreUnavailable)
	corrupt := fmt.Errorf("store.open: %w", memory.ErrCorrupt)

	tests := []struct {
		name    string
		verb    Verb
		payload string
		openErr error
		wantErr error
		check   func(t *testing.T, resp Response)
	}{
		{
			name: "dangerous command blocked on unavailable store", verb: VerbPreCommand,
			payload: `{"command":"rm -rf /"}`, openErr: unavailable,
			check: func(t *testing.T, resp Response) {
				r := resp.(PreCommandResponse)
				assert.False(t, r.Allowed)
				assert.Equal(t, "rm-root", r.RuleID)
				assert.False(t, r.HistoryUnavailable)
			},
		},
		{
			name: "dangerous command blocked on corrupt store", verb: VerbPreCommand,
			payload: `{"command":"mkfs.ext4 /dev/sda1"}`, openErr: corrupt,
			check: func(t *testing.T, resp Response) {
				assert.False(t, resp.(PreCommandResponse).Allowed)
			},
		},
		{
			name: "safe command allowed without history", verb: VerbPreCommand,
			payload: `{"command":"ls -la"}`, openErr: corrupt,
			check: func(t *testing.T, resp Response) {
				r := resp.(PreCommandResponse)
				assert.True(t, r.Allowed)
				assert.True(t, r.HistoryUnavailable)
			},
		},
		{
			name: "pre-task degrades", verb: VerbPreTask,
			payload: `{"task":" add-auth "}`, openErr: unavailable,
			check: func(t *testing.T, resp Response) {
				r := resp.(PreTaskResponse)
				assert.True(t, r.Degraded)
				assert.Equal(t, "add-auth", r.Task)
				assert.NotNil(t, r.Patterns)
				assert.Empty(t, r.Patterns)
			},
		},
		{
			name: "session-start degrades", verb: VerbSessionStart, openErr: unavailable,
			check: func(t *testing.T, resp Response) {
				r := resp.(SessionStartResponse)
				assert.True(t, r.Degraded)
				assert.NotNil(t, r.Proven)
				assert.NotNil(t, r.NeedsImprovement)
			},
		},
		{name: "pre-task on corrupt store", verb: VerbPreTask, payload: `{"task":"x"}`, openErr: corrupt, wantErr: memory.ErrCorrupt},
		{name: "session-start on corrupt store", verb: VerbSessionStart, openErr: corrupt, wantErr: memory.ErrCorrupt},
		{name: "post-task needs the store", verb: VerbPostTask, payload: `{"task":"x","outcome":"success"}`, openErr: unavailable, wantErr: memory.ErrStoreUnavailable},
		{name: "session-end needs the store", verb: VerbSessionEnd, openErr: unavailable, wantErr: memory.ErrStoreUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var payload json.RawMessage
			if tt.payload != "" {
				payload = json.RawMessage(tt.payload)
			}
			resp, err := Fallback(DefaultEngineConfig(), tt.verb, payload, tt.openErr)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, resp)
		})
	}
}

func TestFallback_BadPayload(t *testing.T) {
	_, err := Fallback(DefaultEngineConfig(), VerbPreCommand, json.RawMessage(`{"command":`), memory.ErrStoreUnavailable)
	assert.Error(t, err)
}
