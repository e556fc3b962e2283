package hooks

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"default config", DefaultConfig(), false},
		{"zero config", Config{}, false},
		{"negative top_n", Config{TopN: -1}, true},
		{"negative warn_threshold", Config{WarnThreshold: -2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefaultEngineConfig_Valid(t *testing.T) {
	cfg := DefaultEngineConfig()
	assert.NoError(t, cfg.Hooks.Validate())
	assert.NoError(t, cfg.Retrieval.Validate())
	assert.NoError(t, cfg.Failures.Validate())
	assert.NoError(t, cfg.Session.Validate())
	assert.NoError(t, cfg.Consolidation.Validate())
}
