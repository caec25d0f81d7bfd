// Package chanext provides channel-layer extensions: a null channel layer,
// an in-memory layer, an alias registry, and connection middleware for
// tracing and current-site population.
//
// Example usage:
//
//	if _, err := chanext.Configure("/etc/chanext/config.toml"); err != nil {
//	    log.Fatal(err)
//	}
//	l, err := chanext.GetLayer(chanext.DefaultAlias)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	name, _ := l.NewChannel(ctx, "")
package chanext

import (
	"os"

	"github.com/bft-labs/chanext/pkg/layer"
	"github.com/bft-labs/chanext/pkg/log"
	"github.com/bft-labs/chanext/pkg/registry"
	"github.com/bft-labs/chanext/pkg/scope"
	"github.com/bft-labs/chanext/pkg/sites"
	"github.com/bft-labs/chanext/pkg/tracing"
	"github.com/bft-labs/chanext/pkg/worker"
)

// Layer is the channel-layer contract.
type Layer = layer.Layer

// Message is the payload carried by a channel.
type Message = layer.Message

// DefaultAlias is the alias resolved when none is given.
const DefaultAlias = registry.DefaultAlias

// DefaultLayers is the configuration used when no config file exists: an
// in-memory default layer and a null layer under "null".
func DefaultLayers() registry.Config {
	return registry.Config{
		DefaultAlias:         {Backend: registry.BackendMemory},
		registry.BackendNull: {Backend: registry.BackendNull},
	}
}

// Configure builds a registry from the [layers] tables of path and installs
// it as the process-wide default. A missing file, or an empty path, yields
// DefaultLayers.
func Configure(path string, opts ...registry.Option) (*registry.Registry, error) {
	cfg := DefaultLayers()
	if _, err := os.Stat(path); path != "" && err == nil {
		fileCfg, err := registry.LoadFile(path)
		if err != nil {
			return nil, err
		}
		if len(fileCfg) > 0 {
			cfg = fileCfg
		}
	}

	r, err := registry.New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	registry.SetDefault(r)
	return r, nil
}

// GetLayer returns the layer configured under alias in the process-wide
// registry. An empty alias means DefaultAlias.
func GetLayer(alias string) (Layer, error) {
	return registry.GetLayer(alias)
}

// ModuleVersion describes one versioned module.
type ModuleVersion struct {
	Name                 string
	Version              string
	MinCompatibleVersion string
}

// Versions lists the version of every chanext module.
func Versions() []ModuleVersion {
	return []ModuleVersion{
		{"layer", layer.Version, layer.MinCompatibleVersion},
		{"log", log.Version, log.MinCompatibleVersion},
		{"registry", registry.Version, registry.MinCompatibleVersion},
		{"scope", scope.Version, scope.MinCompatibleVersion},
		{"sites", sites.Version, sites.MinCompatibleVersion},
		{"tracing", tracing.Version, tracing.MinCompatibleVersion},
		{"worker", worker.Version, worker.MinCompatibleVersion},
	}
}
