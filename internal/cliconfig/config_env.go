package cliconfig

import (
	"fmt"
	"time"

	env "github.com/Netflix/go-env"
)

// EnvConfig is the CHANEXT_* environment. Unset variables stay nil.
type EnvConfig struct {
	ConfigPath    *string        `env:"CHANEXT_CONFIG"`
	LogLevel      *string        `env:"CHANEXT_LOG_LEVEL"`
	Alias         *string        `env:"CHANEXT_ALIAS"`
	Watch         *bool          `env:"CHANEXT_WATCH"`
	DebounceDelay *time.Duration `env:"CHANEXT_DEBOUNCE_DELAY"`
	SiteDB        *string        `env:"CHANEXT_SITE_DB"`
	SiteID        *int64         `env:"CHANEXT_SITE_ID"`
}

// LoadEnvConfig reads the CHANEXT_* variables from the process environment.
func LoadEnvConfig() (EnvConfig, error) {
	var ec EnvConfig
	if _, err := env.UnmarshalFromEnviron(&ec); err != nil {
		return ec, fmt.Errorf("parse environment: %w", err)
	}
	return ec, nil
}

// ApplyEnvConfig applies configuration from environment variables (CHANEXT_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	ec, err := LoadEnvConfig()
	if err != nil {
		return err
	}
	ec.apply(cfg, changed)
	return nil
}

func (ec EnvConfig) apply(cfg *Config, changed map[string]bool) {
	s := newConfigSetter(changed)

	s.setString("config", deref(ec.ConfigPath), &cfg.ConfigPath)
	s.setString("log-level", deref(ec.LogLevel), &cfg.LogLevel)
	s.setString("alias", deref(ec.Alias), &cfg.Alias)
	s.setString("site-db", deref(ec.SiteDB), &cfg.SiteDB)
	s.setBool("watch", ec.Watch, &cfg.Watch)
	s.setInt64("site-id", ec.SiteID, &cfg.SiteID)
	if ec.DebounceDelay != nil && *ec.DebounceDelay > 0 && !changed["debounce"] {
		cfg.DebounceDelay = *ec.DebounceDelay
	}
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
