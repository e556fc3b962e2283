package logging

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"json", func(c *Config) { c.Format = "json" }, false},
		{"bad format", func(c *Config) { c.Format = "logfmt" }, true},
		{"no outputs", func(c *Config) { c.Output.Stderr = false }, true},
		{"otel only", func(c *Config) { c.Output = OutputConfig{OTEL: true} }, false},
		{"zero tick", func(c *Config) { c.Sampling.Tick = 0 }, true},
		{"zero tick unsampled", func(c *Config) { c.Sampling = SamplingConfig{} }, false},
		{"negative initial", func(c *Config) { c.Sampling.Initial = -1 }, true},
		{"negative caller skip", func(c *Config) { c.Caller = CallerConfig{Enabled: true, Skip: -1} }, true},
		{"bad pattern", func(c *Config) { c.Redaction.Patterns = []string{"("} }, true},
		{"long pattern", func(c *Config) { c.Redaction.Patterns = []string{strings.Repeat("a", maxPatternLen+1)} }, true},
		{"bad pattern ignored when disabled", func(c *Config) {
			c.Redaction.Enabled = false
			c.Redaction.Patterns = []string{"("}
		}, false},
		{"empty field value", func(c *Config) { c.Fields = map[string]string{"env": ""} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
