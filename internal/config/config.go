// Package config loads the viewer configuration from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/daviddao/kernelspy_viewer/internal/exectime"
)

// DefaultPath is where Load looks when no path is given.
const DefaultPath = ".kernelspy/config.yaml"

// Config holds every recognized option. Field names follow the option names
// of the notebook extension.
type Config struct {
	DisplayAbsoluteTimings bool   `yaml:"display_absolute_timings"`
	DisplayAbsoluteFormat  string `yaml:"display_absolute_format"` // strftime pattern
	DisplayInUTC           bool   `yaml:"display_in_utc"`
	DisplayRightAligned    bool   `yaml:"display_right_aligned"`
	Template               string `yaml:"template"`

	ClearTimingsOnKernelRestart bool `yaml:"clear_timings_on_kernel_restart"`
	ClearTimingsOnClearOutput   bool `yaml:"clear_timings_on_clear_output"`

	// RelativeTimingUpdatePeriod is in seconds.
	RelativeTimingUpdatePeriod int `yaml:"relative_timing_update_period"`

	Highlight HighlightConfig `yaml:"highlight"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// HighlightConfig marks the most recently finished cell.
type HighlightConfig struct {
	Use   bool   `yaml:"use"`
	Color string `yaml:"color"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	File  string `yaml:"file"`  // empty = stderr
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() *Config {
	return &Config{
		DisplayAbsoluteTimings:     true,
		DisplayAbsoluteFormat:      exectime.DefaultAbsoluteFormat,
		Template:                   exectime.DefaultTemplate,
		RelativeTimingUpdatePeriod: 10,
		Highlight: HighlightConfig{
			Use:   true,
			Color: "#00bb00",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads path on top of the defaults. A missing file yields the
// defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML, creating the directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("KERNELSPY_TEMPLATE"); v != "" {
		c.Template = v
	}
	if v := os.Getenv("KERNELSPY_DISPLAY_IN_UTC"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.DisplayInUTC = b
		}
	}
	if v := os.Getenv("KERNELSPY_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

// Validate rejects settings the viewer cannot honor.
func (c *Config) Validate() error {
	if !strings.Contains(c.Template, exectime.TokenDuration) && !strings.Contains(c.Template, exectime.TokenEndTime) {
		return fmt.Errorf("template %q uses neither %s nor %s", c.Template, exectime.TokenDuration, exectime.TokenEndTime)
	}
	if c.RelativeTimingUpdatePeriod <= 0 {
		return fmt.Errorf("relative_timing_update_period must be positive, got %d", c.RelativeTimingUpdatePeriod)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	return nil
}

// UpdatePeriod is RelativeTimingUpdatePeriod as a duration.
func (c *Config) UpdatePeriod() time.Duration {
	return time.Duration(c.RelativeTimingUpdatePeriod) * time.Second
}

// FormatterOptions maps the display settings onto exectime options.
func (c *Config) FormatterOptions() exectime.Options {
	return exectime.Options{
		DisplayAbsoluteTimings: c.DisplayAbsoluteTimings,
		DisplayAbsoluteFormat:  c.DisplayAbsoluteFormat,
		DisplayInUTC:           c.DisplayInUTC,
		Template:               c.Template,
	}
}
