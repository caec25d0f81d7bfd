// Package registry resolves configured channel layers by alias.
//
// A Registry maps aliases such as "default" to a backend name and a
// layer.Config. Layers are constructed on first lookup and cached. Looking up
// an alias that is not configured never returns a nil layer silently: it
// fails with a *ConfigError whose message reads
// "<alias> isn't an available channel layer" and which matches
// ErrImproperlyConfigured.
//
// # Usage
//
//	cfg, err := registry.LoadFile("/etc/chanext/config.toml")
//	if err != nil {
//	    return err
//	}
//	reg, err := registry.New(cfg, registry.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	registry.SetDefault(reg)
//
//	l, err := registry.GetLayer("")  // the "default" alias
//
// # Plugins
//
// Plugins registered with WithPlugin are started by Start and stopped by
// Close. See plugins/configwatcher for a plugin that reloads the
// configuration when its file changes.
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
package registry
