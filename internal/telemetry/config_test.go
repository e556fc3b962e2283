package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, ProtocolGRPC, cfg.Protocol)
	assert.Equal(t, "ctxlearn", cfg.ServiceName)
	require.NoError(t, cfg.Validate())

	cfg.Enabled = true
	assert.NoError(t, cfg.Validate(), "enabled defaults target a local collector")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"disabled ignores everything", func(c *Config) { c.Enabled = false; c.Endpoint = "" }, false},
		{"missing endpoint", func(c *Config) { c.Endpoint = "" }, true},
		{"http protocol", func(c *Config) { c.Protocol = ProtocolHTTP }, false},
		{"unknown protocol", func(c *Config) { c.Protocol = "udp" }, true},
		{"missing service name", func(c *Config) { c.ServiceName = "" }, true},
		{"missing service version", func(c *Config) { c.ServiceVersion = "" }, true},
		{"insecure remote", func(c *Config) { c.Endpoint = "collector.example.com:4317" }, true},
		{"tls remote", func(c *Config) {
			c.Endpoint = "collector.example.com:4317"
			c.Insecure = false
		}, false},
		{"rate above one", func(c *Config) { c.Sampling.Rate = 1.5 }, true},
		{"negative rate", func(c *Config) { c.Sampling.Rate = -0.1 }, true},
		{"zero export interval", func(c *Config) { c.Metrics.ExportInterval = 0 }, true},
		{"zero interval without metrics", func(c *Config) {
			c.Metrics = MetricsConfig{Enabled: false}
		}, false},
		{"zero shutdown timeout", func(c *Config) { c.ShutdownTimeout = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			cfg.Enabled = true
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

func TestConfig_IsLocalEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		want     bool
	}{
		{"localhost:4317", true},
		{"localhost", true},
		{"127.0.0.1:4317", true},
		{"127.1.2.3:4317", true},
		{"[::1]:4317", true},
		{"::1", true},
		{"http://localhost:4318", true},
		{"collector:4317", false},
		{"10.0.0.5:4317", false},
		{"localhost.example.com:4317", false},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			cfg := &Config{Endpoint: tt.endpoint}
			assert.Equal(t, tt.want, cfg.isLocalEndpoint())
		})
	}
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "otel.example.com:443", stripScheme("https://otel.example.com:443"))
	assert.Equal(t, "localhost:4318", stripScheme("http://localhost:4318"))
	assert.Equal(t, "localhost:4317", stripScheme("localhost:4317"))
}

func TestNewSampler(t *testing.T) {
	for _, rate := range []float64{0, 0.25, 1} {
		assert.NotNil(t, newSampler(rate))
	}
	assert.Contains(t, newSampler(0.25).Description(), "TraceIDRatioBased")
}
