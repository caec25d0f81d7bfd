package registry

import (
	"errors"
	"fmt"
)

// ErrImproperlyConfigured matches every *ConfigError with errors.Is.
var ErrImproperlyConfigured = errors.New("registry: improperly configured")

// ConfigError reports an alias that cannot be resolved to a layer.
type ConfigError struct {
	// Alias is the alias that was requested or configured.
	Alias string

	// Reason describes an invalid entry. Empty means the alias is missing.
	Reason string

	// Err is the underlying failure, if any.
	Err error
}

func (e *ConfigError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s isn't an available channel layer", e.Alias)
	}
	return fmt.Sprintf("channel layer %s: %s", e.Alias, e.Reason)
}

// Is reports whether target is ErrImproperlyConfigured.
func (e *ConfigError) Is(target error) bool {
	return target == ErrImproperlyConfigured
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
