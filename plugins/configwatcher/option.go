package configwatcher

import "github.com/bft-labs/chanext/pkg/registry"

// WithConfigWatcher returns a registry Option that enables config file
// watching. When the file changes its [layers] tables replace the registry
// configuration.
//
// Usage:
//
//	r, err := registry.New(cfg,
//	    configwatcher.WithConfigWatcher(configwatcher.Config{
//	        Path:          "/etc/chanext/config.toml",
//	        DebounceDelay: 100 * time.Millisecond,
//	    }),
//	)
func WithConfigWatcher(cfg Config) registry.Option {
	plugin := New(cfg)
	return registry.WithPlugin(plugin)
}
