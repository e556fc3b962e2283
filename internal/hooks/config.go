package hooks

import "fmt"

// Config holds hook configuration.
type Config struct {
	// TopN is the number of patterns returned by pre-task.
	TopN int `koanf:"top_n" json:"top_n"`

	// WarnThreshold is the failure count at which pre-task and pre-command
	// warn. Zero uses the failure tracker's threshold.
	WarnThreshold int `koanf:"warn_threshold" json:"warn_threshold"`

	// CommandAdvisory enables the failure-history advisory on allowed commands.
	CommandAdvisory bool `koanf:"command_advisory" json:"command_advisory"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		TopN:            5,
		WarnThreshold:   0,
		CommandAdvisory: true,
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.TopN < 0 {
		return fmt.Errorf("hooks.top_n must not be negative, got %d", c.TopN)
	}
	if c.WarnThreshold < 0 {
		return fmt.Errorf("hooks.warn_threshold must not be negative, got %d", c.WarnThreshold)
	}
	return nil
}
