package cliconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bft-labs/chanext/pkg/registry"
)

// Config holds CLI configuration for chanext.
type Config struct {
	ConfigPath string

	LogLevel string
	Alias    string

	Watch         bool
	DebounceDelay time.Duration

	SiteDB string
	SiteID int64
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		LogLevel:      "info",
		Alias:         registry.DefaultAlias,
		DebounceDelay: 100 * time.Millisecond,
		SiteID:        1,
	}
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.ConfigPath == "" {
		c.ConfigPath = DefaultConfigPath()
	}
	if c.Alias == "" {
		c.Alias = registry.DefaultAlias
	}

	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}

	if c.DebounceDelay <= 0 {
		return fmt.Errorf("debounce delay must be positive")
	}
	if c.Watch && c.ConfigPath == "" {
		return fmt.Errorf("watch requires a config file")
	}
	if c.SiteID < 0 {
		return fmt.Errorf("site id must not be negative")
	}

	return nil
}

// Level returns the zerolog level of LogLevel, or info if it does not parse.
func (c Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt64 sets an int64 value from a pointer if not nil and flag not changed.
// Zero is a valid value.
func (s *configSetter) setInt64(flag string, value *int64, dst *int64) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}
