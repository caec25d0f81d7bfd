package layer

import (
	"context"
	"fmt"
	"math/rand/v2"
	"path"
	"regexp"
	"runtime"
	"strings"
)

// Defaults applied by Config.WithDefaults.
const (
	DefaultExpiry      = 60
	DefaultCapacity    = 100
	DefaultGroupExpiry = 86400
)

// MaxNameLength is the longest channel or group name a layer accepts.
const MaxNameLength = 100

var (
	channelNameRe = regexp.MustCompile(`^[a-zA-Z\d\-_.]+(![\d\w\-_.]*)?$`)
	groupNameRe   = regexp.MustCompile(`^[a-zA-Z\d\-_.]+$`)
)

const randomAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Config holds the settings every layer accepts. Whether they are enforced
// depends on the implementation; the Null layer ignores all of them.
type Config struct {
	// Expiry is the message time-to-live in seconds.
	Expiry int `validate:"gte=0"`

	// Capacity bounds the number of queued messages per channel.
	Capacity int `validate:"gte=0"`

	// GroupExpiry is how long, in seconds, a group membership lasts.
	GroupExpiry int `validate:"gte=0"`

	// ChannelCapacity overrides Capacity for matching channels.
	// The first matching rule wins.
	ChannelCapacity []CapacityRule `validate:"dive"`
}

// DefaultConfig returns a Config with the standard expiry and capacity.
func DefaultConfig() Config {
	return Config{
		Expiry:      DefaultExpiry,
		Capacity:    DefaultCapacity,
		GroupExpiry: DefaultGroupExpiry,
	}
}

// WithDefaults returns a copy of c with zero values replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.Expiry == 0 {
		c.Expiry = DefaultExpiry
	}
	if c.Capacity == 0 {
		c.Capacity = DefaultCapacity
	}
	if c.GroupExpiry == 0 {
		c.GroupExpiry = DefaultGroupExpiry
	}
	return c
}

// CapacityRule overrides the capacity of channels matched by a glob or a
// regular expression. Regexp takes precedence when both are set.
type CapacityRule struct {
	Glob     string
	Regexp   *regexp.Regexp
	Capacity int `validate:"gte=1"`
}

// Match reports whether the rule applies to channel.
func (r CapacityRule) Match(channel string) bool {
	if r.Regexp != nil {
		return r.Regexp.MatchString(channel)
	}
	ok, err := path.Match(r.Glob, channel)
	return err == nil && ok
}

// Base carries the configuration shared by layer implementations.
type Base struct {
	cfg Config
}

// NewBase creates a Base from cfg with defaults applied.
func NewBase(cfg Config) Base {
	return Base{cfg: cfg.WithDefaults()}
}

// Config returns the effective configuration.
func (b Base) Config() Config {
	return b.cfg
}

// Capacity returns the default per-channel capacity.
func (b Base) Capacity() int {
	return b.cfg.Capacity
}

// Expiry returns the message time-to-live in seconds.
func (b Base) Expiry() int {
	return b.cfg.Expiry
}

// CapacityFor returns the capacity that applies to channel.
func (b Base) CapacityFor(channel string) int {
	for _, r := range b.cfg.ChannelCapacity {
		if r.Match(channel) {
			return r.Capacity
		}
	}
	return b.cfg.Capacity
}

// ValidChannelName checks a channel name against the naming rules.
func ValidChannelName(name string) error {
	if err := validLength("channel", name); err != nil {
		return err
	}
	if !channelNameRe.MatchString(name) {
		return fmt.Errorf("%w: channel name %q must contain only ASCII alphanumerics, hyphens, underscores, periods and an optional single !", ErrInvalidName, name)
	}
	return nil
}

// ValidGroupName checks a group name against the naming rules.
func ValidGroupName(name string) error {
	if err := validLength("group", name); err != nil {
		return err
	}
	if !groupNameRe.MatchString(name) {
		return fmt.Errorf("%w: group name %q must contain only ASCII alphanumerics, hyphens, underscores and periods", ErrInvalidName, name)
	}
	return nil
}

func validLength(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty %s name", ErrInvalidName, kind)
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: %s name longer than %d characters", ErrInvalidName, kind, MaxNameLength)
	}
	return nil
}

// RandomString returns n characters drawn from [A-Za-z0-9].
// The output is unique with high probability and is not suitable for secrets.
func RandomString(n int) string {
	var sb strings.Builder
	sb.Grow(n)
	for range n {
		sb.WriteByte(randomAlphabet[rand.IntN(len(randomAlphabet))])
	}
	return sb.String()
}

// specificName builds "<prefix>.<backend>!<suffix>".
func specificName(prefix, backend string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + "." + backend + "!" + RandomString(suffixLength)
}

const suffixLength = 12

// checkpoint yields the processor once and reports cancellation.
func checkpoint(ctx context.Context) error {
	runtime.Gosched()
	return ctx.Err()
}
