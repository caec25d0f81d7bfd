package registry

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/samber/lo"

	"github.com/bft-labs/chanext/pkg/layer"
)

// regexpPrefix marks a channel_capacity key as a regular expression rather
// than a glob.
const regexpPrefix = "re:"

// FileConfig is the TOML shape of a layer configuration file:
//
//	[layers.default]
//	backend = "memory"
//	capacity = 100
//
//	[layers.default.channel_capacity]
//	"http.response!*" = 200
//	"re:^websocket\\." = 20
type FileConfig struct {
	Layers map[string]FileLayer `toml:"layers"`
}

// FileLayer is one [layers.<alias>] table.
type FileLayer struct {
	Backend         string         `toml:"backend"`
	Expiry          int            `toml:"expiry"`
	Capacity        int            `toml:"capacity"`
	GroupExpiry     int            `toml:"group_expiry"`
	ChannelCapacity map[string]int `toml:"channel_capacity"`
}

// LoadFile reads the [layers] tables of a TOML file.
func LoadFile(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse decodes the [layers] tables of a TOML document.
func Parse(data []byte) (Config, error) {
	var fc FileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse layer config: %w", err)
	}
	return fc.Config()
}

// Config converts the file representation into a registry Config.
// Capacity rules are ordered by key so that matching is deterministic.
func (fc FileConfig) Config() (Config, error) {
	cfg := make(Config, len(fc.Layers))
	for alias, fl := range fc.Layers {
		rules, err := capacityRules(fl.ChannelCapacity)
		if err != nil {
			return nil, &ConfigError{Alias: alias, Reason: "invalid channel_capacity", Err: err}
		}
		cfg[alias] = LayerConfig{
			Backend: fl.Backend,
			Layer: layer.Config{
				Expiry:          fl.Expiry,
				Capacity:        fl.Capacity,
				GroupExpiry:     fl.GroupExpiry,
				ChannelCapacity: rules,
			},
		}
	}
	return cfg, nil
}

func capacityRules(table map[string]int) ([]layer.CapacityRule, error) {
	if len(table) == 0 {
		return nil, nil
	}
	keys := lo.Keys(table)
	slices.Sort(keys)

	rules := make([]layer.CapacityRule, 0, len(keys))
	for _, key := range keys {
		rule := layer.CapacityRule{Capacity: table[key]}
		if expr, ok := strings.CutPrefix(key, regexpPrefix); ok {
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("pattern %q: %w", key, err)
			}
			rule.Regexp = re
		} else {
			rule.Glob = key
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
