package registry

import (
	"context"

	"github.com/bft-labs/chanext/pkg/layer"
	"github.com/bft-labs/chanext/pkg/log"
)

// Factory builds a layer for one configured alias.
type Factory func(cfg layer.Config, logger log.Logger) (layer.Layer, error)

// Plugin extends a Registry with background behavior such as config reloads.
type Plugin interface {
	// Name returns the plugin identifier.
	Name() string

	// Initialize starts the plugin. It is called by Registry.Start in
	// registration order.
	Initialize(ctx context.Context, cfg PluginConfig) error

	// Shutdown stops the plugin. It is called by Registry.Close in reverse
	// registration order.
	Shutdown(ctx context.Context) error
}

// PluginConfig is what a plugin receives on Initialize.
type PluginConfig struct {
	Registry *Registry
	Logger   log.Logger
}

// Option configures optional behavior of a Registry.
type Option func(*options)

type options struct {
	logger   log.Logger
	backends map[string]Factory
	plugins  []Plugin
}

func defaultOptions() options {
	return options{
		logger: log.NoopLogger{},
		backends: map[string]Factory{
			BackendNull:   nullFactory,
			BackendMemory: memoryFactory,
		},
	}
}

// WithLogger sets the logger for the registry, its layers and plugins.
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = log.OrNoop(logger)
	}
}

// WithBackend registers a layer backend under name, replacing any existing one.
func WithBackend(name string, factory Factory) Option {
	return func(o *options) {
		o.backends[name] = factory
	}
}

// WithPlugin registers a plugin to be initialized by Start.
func WithPlugin(plugin Plugin) Option {
	return func(o *options) {
		o.plugins = append(o.plugins, plugin)
	}
}

// Built-in backend names.
const (
	BackendNull   = "null"
	BackendMemory = "memory"
)

func nullFactory(cfg layer.Config, _ log.Logger) (layer.Layer, error) {
	return layer.NewNull(cfg), nil
}

func memoryFactory(cfg layer.Config, logger log.Logger) (layer.Layer, error) {
	return layer.NewMemory(cfg, layer.WithMemoryLogger(logger)), nil
}
