package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bft-labs/chanext/pkg/layer"
	"github.com/bft-labs/chanext/pkg/log"
)

type capacityLayer interface {
	layer.Layer
	Capacity() int
}

func testConfig() Config {
	return Config{
		"default": {Backend: BackendMemory, Layer: layer.Config{Capacity: 10}},
		"custom":  {Backend: BackendMemory, Layer: layer.Config{Capacity: 20}},
		"null":    {Backend: BackendNull},
	}
}

func newTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	r, err := New(testConfig(), opts...)
	require.NoError(t, err)
	return r
}

func TestRegistry_Get_DefaultAlias(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(t)

	l, err := r.Get("")

	req.NoError(err)
	req.IsType(&layer.Memory{}, l)
	req.Equal(10, l.(capacityLayer).Capacity())
}

func TestRegistry_Get_ByAlias(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(t)

	l, err := r.Get("custom")

	req.NoError(err)
	req.Equal(20, l.(capacityLayer).Capacity())

	n, err := r.Get("null")
	req.NoError(err)
	req.IsType(&layer.Null{}, n)
}

func TestRegistry_Get_UnknownAlias(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(t)
	alias := "missing-" + layer.RandomString(8)

	l, err := r.Get(alias)

	req.Nil(l)
	req.ErrorIs(err, ErrImproperlyConfigured)
	req.EqualError(err, alias+" isn't an available channel layer")

	var cfgErr *ConfigError
	req.True(errors.As(err, &cfgErr))
	req.Equal(alias, cfgErr.Alias)
}

func TestRegistry_Get_Cached(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(t)

	var wg sync.WaitGroup
	got := make([]layer.Layer, 16)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l, err := r.Get("default")
			if err != nil {
				t.Errorf("get: %v", err)
				return
			}
			got[i] = l
		}(i)
	}
	wg.Wait()

	for _, l := range got {
		req.Same(got[0], l)
	}
}

func TestRegistry_Get_FactoryError(t *testing.T) {
	req := require.New(t)
	boom := errors.New("boom")
	r, err := New(Config{"broken": {Backend: "broken"}},
		WithBackend("broken", func(layer.Config, log.Logger) (layer.Layer, error) { return nil, boom }))
	req.NoError(err)

	_, err = r.Get("broken")

	req.ErrorIs(err, ErrImproperlyConfigured)
	req.ErrorIs(err, boom)
}

func TestRegistry_Get_FactoryReturnsNil(t *testing.T) {
	r, err := New(Config{"empty": {Backend: "empty"}},
		WithBackend("empty", func(layer.Config, log.Logger) (layer.Layer, error) { return nil, nil }))
	require.NoError(t, err)

	l, err := r.Get("empty")

	require.Nil(t, l)
	require.ErrorIs(t, err, ErrImproperlyConfigured)
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing backend", Config{"default": {}}},
		{"unknown backend", Config{"default": {Backend: "redis"}}},
		{"negative capacity", Config{"default": {Backend: BackendMemory, Layer: layer.Config{Capacity: -1}}}},
		{"negative expiry", Config{"default": {Backend: BackendMemory, Layer: layer.Config{Expiry: -5}}}},
		{"zero rule capacity", Config{"default": {Backend: BackendMemory, Layer: layer.Config{
			ChannelCapacity: []layer.CapacityRule{{Glob: "chat*", Capacity: 0}},
		}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			require.ErrorIs(t, err, ErrImproperlyConfigured)
		})
	}
}

func TestRegistry_Aliases(t *testing.T) {
	r := newTestRegistry(t)
	require.Equal(t, []string{"custom", "default", "null"}, r.Aliases())
}

func TestRegistry_Reload(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(t)

	before, err := r.Get("default")
	req.NoError(err)

	req.NoError(r.Reload(Config{
		"default": {Backend: BackendNull},
		"extra":   {Backend: BackendMemory, Layer: layer.Config{Capacity: 3}},
	}))

	after, err := r.Get("default")
	req.NoError(err)
	req.NotSame(before, after)
	req.IsType(&layer.Null{}, after)

	_, err = r.Get("custom")
	req.ErrorIs(err, ErrImproperlyConfigured)

	extra, err := r.Get("extra")
	req.NoError(err)
	req.Equal(3, extra.(capacityLayer).Capacity())
}

func TestRegistry_Reload_InvalidKeepsCurrent(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(t)
	before, err := r.Get("default")
	req.NoError(err)

	err = r.Reload(Config{"default": {Backend: "nope"}})

	req.ErrorIs(err, ErrImproperlyConfigured)
	after, err := r.Get("default")
	req.NoError(err)
	req.Same(before, after)
}

func TestRegistry_ConfigIsCopied(t *testing.T) {
	req := require.New(t)
	cfg := testConfig()
	r, err := New(cfg)
	req.NoError(err)

	delete(cfg, "custom")

	_, ok := r.Lookup("custom")
	req.True(ok)
}

func TestGetLayer_DefaultRegistry(t *testing.T) {
	req := require.New(t)
	t.Cleanup(func() { SetDefault(nil) })

	SetDefault(nil)
	_, err := GetLayer("")
	req.ErrorIs(err, ErrImproperlyConfigured)
	req.EqualError(err, "default isn't an available channel layer")

	SetDefault(newTestRegistry(t))
	l, err := GetLayer("")
	req.NoError(err)
	req.Equal(10, l.(capacityLayer).Capacity())

	l, err = GetLayer("custom")
	req.NoError(err)
	req.Equal(20, l.(capacityLayer).Capacity())
}

type recordingPlugin struct {
	name    string
	initErr error
	events  *[]string
}

func (p *recordingPlugin) Name() string { return p.name }

func (p *recordingPlugin) Initialize(ctx context.Context, cfg PluginConfig) error {
	if cfg.Registry == nil {
		return errors.New("missing registry")
	}
	*p.events = append(*p.events, "init:"+p.name)
	return p.initErr
}

func (p *recordingPlugin) Shutdown(ctx context.Context) error {
	*p.events = append(*p.events, "shutdown:"+p.name)
	return nil
}

func TestRegistry_PluginLifecycle(t *testing.T) {
	req := require.New(t)
	var events []string
	r := newTestRegistry(t,
		WithPlugin(&recordingPlugin{name: "a", events: &events}),
		WithPlugin(&recordingPlugin{name: "b", events: &events}),
	)

	req.NoError(r.Start(context.Background()))
	req.NoError(r.Close(context.Background()))

	req.Equal([]string{"init:a", "init:b", "shutdown:b", "shutdown:a"}, events)
}

func TestRegistry_PluginInitFailureRollsBack(t *testing.T) {
	req := require.New(t)
	var events []string
	boom := errors.New("boom")
	r := newTestRegistry(t,
		WithPlugin(&recordingPlugin{name: "a", events: &events}),
		WithPlugin(&recordingPlugin{name: "b", events: &events, initErr: boom}),
		WithPlugin(&recordingPlugin{name: "c", events: &events}),
	)

	err := r.Start(context.Background())

	req.ErrorIs(err, boom)
	req.Equal([]string{"init:a", "init:b", "shutdown:a"}, events)
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestRegistry_Changed(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(t)

	before := r.Changed()
	req.False(isClosed(before))

	req.Error(r.Reload(Config{"default": {Backend: "carrier-pigeon"}}))
	req.False(isClosed(before), "rejected reload must not signal a change")

	req.NoError(r.Reload(testConfig()))
	req.True(isClosed(before))

	after := r.Changed()
	req.NotEqual(before, after)
	req.False(isClosed(after))
}

func TestBinding_FollowsReload(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(t)
	b := r.Bind("")
	req.Equal(DefaultAlias, b.Alias())

	changed := b.Changed()
	first, err := b.Layer()
	req.NoError(err)

	req.NoError(r.Reload(Config{"default": {Backend: BackendMemory, Layer: layer.Config{Capacity: 3}}}))
	req.True(isClosed(changed))

	second, err := b.Layer()
	req.NoError(err)
	req.NotSame(first, second)
	req.Equal(3, second.(capacityLayer).Capacity())

	got, err := r.Get(DefaultAlias)
	req.NoError(err)
	req.Same(second, got, "binding and registry resolve the same cached layer")

	req.NoError(r.Reload(Config{"other": {Backend: BackendNull}}))
	_, err = b.Layer()
	req.ErrorIs(err, ErrImproperlyConfigured)
}
