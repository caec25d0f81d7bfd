package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig holds the top-level CLI settings of the config file. The
// [layers] tables of the same file are read by registry.LoadFile.
type FileConfig struct {
	LogLevel      string `toml:"log_level"`
	Alias         string `toml:"alias"`
	Watch         *bool  `toml:"watch"`
	DebounceDelay string `toml:"debounce_delay"`
	SiteDB        string `toml:"site_db"`
	SiteID        *int64 `toml:"site_id"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.chanext/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".chanext", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("alias", fc.Alias, &cfg.Alias)
	s.setString("site-db", fc.SiteDB, &cfg.SiteDB)
	s.setInt64("site-id", fc.SiteID, &cfg.SiteID)
	s.setBool("watch", fc.Watch, &cfg.Watch)

	if err := s.setDuration("debounce", fc.DebounceDelay, &cfg.DebounceDelay); err != nil {
		return err
	}

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
