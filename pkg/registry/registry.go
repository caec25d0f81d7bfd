package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/bft-labs/chanext/pkg/layer"
	"github.com/bft-labs/chanext/pkg/log"
)

// DefaultAlias is the alias resolved when none is given.
const DefaultAlias = "default"

// LayerConfig configures one alias.
type LayerConfig struct {
	// Backend names a registered backend, such as "null" or "memory".
	Backend string `validate:"required"`

	// Layer is passed to the backend factory.
	Layer layer.Config
}

// Config maps aliases to their layer configuration.
type Config map[string]LayerConfig

// Registry resolves aliases to channel layers. Each layer is built on first
// use and cached until the next Reload.
type Registry struct {
	mu       sync.Mutex
	config   Config
	layers   map[string]layer.Layer
	backends map[string]Factory
	plugins  []Plugin
	logger   log.Logger
	validate *validator.Validate

	// changed is closed and replaced by every successful Reload.
	changed chan struct{}
}

// New creates a Registry. Every entry of cfg is validated; an invalid entry
// yields a *ConfigError.
func New(cfg Config, opts ...Option) (*Registry, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	r := &Registry{
		layers:   make(map[string]layer.Layer),
		changed:  make(chan struct{}),
		backends: o.backends,
		plugins:  o.plugins,
		logger:   o.logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	if err := r.check(cfg); err != nil {
		return nil, err
	}
	r.config = cloneConfig(cfg)
	return r, nil
}

// Get returns the layer configured under alias. An empty alias means
// DefaultAlias. Unknown aliases fail with a *ConfigError.
func (r *Registry) Get(alias string) (layer.Layer, error) {
	if alias == "" {
		alias = DefaultAlias
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.layers[alias]; ok {
		return l, nil
	}

	lc, ok := r.config[alias]
	if !ok {
		return nil, &ConfigError{Alias: alias}
	}

	l, err := r.backends[lc.Backend](lc.Layer, r.logger)
	if err != nil {
		return nil, &ConfigError{Alias: alias, Reason: "backend " + lc.Backend + " failed", Err: err}
	}
	if l == nil {
		return nil, &ConfigError{Alias: alias}
	}

	r.layers[alias] = l
	r.logger.Info("channel layer created",
		log.Alias(alias),
		log.String("backend", lc.Backend),
		log.Int("capacity", lc.Layer.WithDefaults().Capacity),
	)
	return l, nil
}

// Lookup returns the configuration of alias.
func (r *Registry) Lookup(alias string) (LayerConfig, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lc, ok := r.config[alias]
	return lc, ok
}

// Aliases returns the configured aliases in sorted order.
func (r *Registry) Aliases() []string {
	r.mu.Lock()
	aliases := lo.Keys(r.config)
	r.mu.Unlock()
	slices.Sort(aliases)
	return aliases
}

// Reload replaces the configuration and drops every cached layer. Callers
// holding a layer from before the reload keep using it. On a validation
// error the current configuration stays in place.
func (r *Registry) Reload(cfg Config) error {
	if err := r.check(cfg); err != nil {
		return err
	}

	r.mu.Lock()
	r.config = cloneConfig(cfg)
	dropped := len(r.layers)
	r.layers = make(map[string]layer.Layer)
	close(r.changed)
	r.changed = make(chan struct{})
	r.mu.Unlock()

	r.logger.Info("channel layers reloaded",
		log.Strings("aliases", r.Aliases()),
		log.Int("dropped", dropped),
	)
	return nil
}

// Changed returns a channel that is closed by the next successful Reload.
// Take the channel before resolving a layer so that a reload in between is
// not missed.
func (r *Registry) Changed() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.changed
}

// Bind returns a Binding that follows alias across reloads.
func (r *Registry) Bind(alias string) Binding {
	if alias == "" {
		alias = DefaultAlias
	}
	return Binding{registry: r, alias: alias}
}

// Binding resolves one alias against a registry for consumers that outlive
// a Reload, such as channel workers.
type Binding struct {
	registry *Registry
	alias    string
}

// Alias returns the bound alias.
func (b Binding) Alias() string {
	return b.alias
}

// Layer returns the layer currently configured under the alias.
func (b Binding) Layer() (layer.Layer, error) {
	return b.registry.Get(b.alias)
}

// Changed is closed when the layer returned by Layer may have been replaced.
func (b Binding) Changed() <-chan struct{} {
	return b.registry.Changed()
}

// Start initializes plugins in registration order. If one fails, the plugins
// already started are shut down and the error is returned.
func (r *Registry) Start(ctx context.Context) error {
	cfg := PluginConfig{Registry: r, Logger: r.logger}
	for i, p := range r.plugins {
		if err := p.Initialize(ctx, cfg); err != nil {
			r.logger.Error("plugin initialization failed",
				log.String("plugin", p.Name()),
				log.Err(err))
			_ = r.shutdown(ctx, r.plugins[:i])
			return fmt.Errorf("initialize plugin %s: %w", p.Name(), err)
		}
		r.logger.Info("plugin initialized", log.String("plugin", p.Name()))
	}
	return nil
}

// Close shuts plugins down in reverse order.
func (r *Registry) Close(ctx context.Context) error {
	return r.shutdown(ctx, r.plugins)
}

func (r *Registry) shutdown(ctx context.Context, plugins []Plugin) error {
	var errs []error
	for i := len(plugins) - 1; i >= 0; i-- {
		p := plugins[i]
		if err := p.Shutdown(ctx); err != nil {
			r.logger.Error("plugin shutdown failed",
				log.String("plugin", p.Name()),
				log.Err(err))
			errs = append(errs, err)
			continue
		}
		r.logger.Info("plugin shutdown complete", log.String("plugin", p.Name()))
	}
	return errors.Join(errs...)
}

func (r *Registry) check(cfg Config) error {
	for _, alias := range lo.Keys(cfg) {
		lc := cfg[alias]
		if err := r.validate.Struct(lc); err != nil {
			return &ConfigError{Alias: alias, Reason: "invalid configuration", Err: err}
		}
		if _, ok := r.backends[lc.Backend]; !ok {
			return &ConfigError{Alias: alias, Reason: fmt.Sprintf("unknown backend %q", lc.Backend)}
		}
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := make(Config, len(cfg))
	for alias, lc := range cfg {
		lc.Layer.ChannelCapacity = slices.Clone(lc.Layer.ChannelCapacity)
		out[alias] = lc
	}
	return out
}

var defaultRegistry atomic.Pointer[Registry]

// SetDefault installs r as the process-wide registry used by GetLayer.
func SetDefault(r *Registry) {
	defaultRegistry.Store(r)
}

// Default returns the process-wide registry, or nil if none is installed.
func Default() *Registry {
	return defaultRegistry.Load()
}

// GetLayer resolves alias against the process-wide registry. Without a
// default registry every alias is reported as unavailable.
func GetLayer(alias string) (layer.Layer, error) {
	r := Default()
	if r == nil {
		if alias == "" {
			alias = DefaultAlias
		}
		return nil, &ConfigError{Alias: alias}
	}
	return r.Get(alias)
}
