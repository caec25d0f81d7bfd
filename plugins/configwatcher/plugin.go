// Package configwatcher hot-reloads registry layer configuration.
// When enabled, it watches the layer config file for changes and feeds the
// new [layers] tables to Registry.Reload.
package configwatcher

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/chanext/pkg/log"
	"github.com/bft-labs/chanext/pkg/registry"
)

// DefaultDebounceDelay is how long the plugin waits after the last change
// before reloading.
const DefaultDebounceDelay = 100 * time.Millisecond

// Plugin implements config watching functionality.
type Plugin struct {
	mu sync.Mutex

	// Configuration
	path          string
	debounceDelay time.Duration

	// Runtime state
	registry *registry.Registry
	logger   log.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	debounce *time.Timer

	reloads  atomic.Int64
	failures atomic.Int64
}

// Config holds configuration options for the config watcher plugin.
type Config struct {
	// Path is the TOML file holding the [layers] tables.
	Path string

	// DebounceDelay is the delay to wait after a file change before reloading.
	// Default: 100 milliseconds
	DebounceDelay time.Duration
}

// New creates a new config watcher plugin with the given configuration.
func New(cfg Config) *Plugin {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = DefaultDebounceDelay
	}

	return &Plugin{
		path:          cfg.Path,
		debounceDelay: cfg.DebounceDelay,
		logger:        log.NoopLogger{},
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "configwatcher"
}

// Initialize starts watching the config file.
func (p *Plugin) Initialize(ctx context.Context, cfg registry.PluginConfig) error {
	if cfg.Registry == nil {
		return errors.New("configwatcher: no registry")
	}

	p.mu.Lock()
	p.registry = cfg.Registry
	p.logger = log.OrNoop(cfg.Logger)
	p.mu.Unlock()

	if p.path == "" {
		p.logger.Warn("Config watcher disabled: no config path")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory so that editors replacing the file are noticed.
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		_ = watcher.Close()
		return err
	}

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel

	p.logger.Info("Config watcher plugin initialized", log.String("path", p.path))

	p.wg.Add(1)
	go p.watchLoop(watchCtx, watcher)

	return nil
}

// Shutdown stops the config watcher and any pending reload.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	p.mu.Lock()
	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.mu.Unlock()
	return nil
}

// Reloads returns how many reloads were applied.
func (p *Plugin) Reloads() int64 {
	return p.reloads.Load()
}

// Failures returns how many reloads were rejected.
func (p *Plugin) Failures() int64 {
	return p.failures.Load()
}

func (p *Plugin) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer p.wg.Done()
	defer watcher.Close()

	target := filepath.Clean(p.path)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			p.debounceReload(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("Config watcher: watcher error", log.Err(err))
		}
	}
}

func (p *Plugin) debounceReload(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.debounce != nil {
		p.debounce.Stop()
	}

	p.debounce = time.AfterFunc(p.debounceDelay, func() {
		if ctx.Err() != nil {
			return
		}
		p.reload()
	})
}

// reload loads the file and swaps it in. On any failure the registry keeps
// its current configuration.
func (p *Plugin) reload() {
	cfg, err := registry.LoadFile(p.path)
	if err != nil {
		p.failures.Add(1)
		p.logger.Error("Config watcher: failed to load config", log.String("path", p.path), log.Err(err))
		return
	}
	if err := p.registry.Reload(cfg); err != nil {
		p.failures.Add(1)
		p.logger.Error("Config watcher: rejected config", log.String("path", p.path), log.Err(err))
		return
	}
	p.reloads.Add(1)
	p.logger.Info("Config watcher: reloaded channel layers", log.String("path", p.path))
}

var _ registry.Plugin = (*Plugin)(nil)
