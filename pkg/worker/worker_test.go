package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/bft-labs/chanext/pkg/layer"
	"github.com/bft-labs/chanext/pkg/log"
	"github.com/bft-labs/chanext/pkg/scope"
)

type delivery struct {
	scope   scope.Scope
	message scope.Event
}

type collector struct {
	mu         sync.Mutex
	deliveries []delivery
	fail       func(scope.Event) error
}

func (c *collector) Serve(ctx context.Context, s scope.Scope, receive scope.ReceiveFunc, send scope.SendFunc) error {
	msg, err := receive(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.deliveries = append(c.deliveries, delivery{scope: s, message: msg})
	c.mu.Unlock()
	if c.fail != nil {
		return c.fail(msg)
	}
	return nil
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.deliveries)
}

func (c *collector) snapshot() []delivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]delivery(nil), c.deliveries...)
}

type recordingLogger struct {
	log.NoopLogger
	mu     sync.Mutex
	errors []string
}

func (l *recordingLogger) Error(msg string, fields ...log.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) errorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}

func startWorker(t *testing.T, w *Worker) (cancel func() error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return func() error {
		stop()
		select {
		case err := <-done:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("worker did not stop")
			return nil
		}
	}
}

func TestWorker_DispatchesChannelScopes(t *testing.T) {
	req := require.New(t)
	mem := layer.NewMemory(layer.DefaultConfig())
	app := &collector{}
	w := New(mem, app, []string{"jobs", "mail"})
	stop := startWorker(t, w)

	ctx := context.Background()
	req.NoError(mem.Send(ctx, "jobs", layer.Message{"type": "job.run", "n": 1}))
	req.NoError(mem.Send(ctx, "jobs", layer.Message{"type": "job.run", "n": 2}))
	req.NoError(mem.Send(ctx, "mail", layer.Message{"type": "mail.send"}))

	req.Eventually(func() bool { return app.count() == 3 }, 2*time.Second, 5*time.Millisecond)
	req.NoError(stop())

	var jobs []int
	for _, d := range app.snapshot() {
		req.Equal(scope.TypeChannel, d.scope.Type())
		switch d.scope.String("channel") {
		case "jobs":
			jobs = append(jobs, d.message["n"].(int))
		case "mail":
			req.Equal("mail.send", d.message["type"])
		default:
			t.Fatalf("unexpected channel %q", d.scope.String("channel"))
		}
	}
	req.Equal([]int{1, 2}, jobs, "messages on one channel are handled in order")
	req.Equal(int64(3), w.Processed())
	req.Equal(int64(0), w.Failed())
}

func TestWorker_ReceiveYieldsOnceThenBlocks(t *testing.T) {
	req := require.New(t)
	mem := layer.NewMemory(layer.DefaultConfig())

	secondErr := make(chan error, 1)
	app := scope.ApplicationFunc(func(ctx context.Context, s scope.Scope, receive scope.ReceiveFunc, send scope.SendFunc) error {
		if _, err := receive(ctx); err != nil {
			return err
		}
		waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err := receive(waitCtx)
		secondErr <- err
		return nil
	})

	stop := startWorker(t, New(mem, app, []string{"jobs"}))
	req.NoError(mem.Send(context.Background(), "jobs", layer.Message{"type": "x"}))

	select {
	case err := <-secondErr:
		req.ErrorIs(err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("application never ran")
	}
	req.NoError(stop())
}

func TestWorker_SendUnsupported(t *testing.T) {
	req := require.New(t)
	mem := layer.NewMemory(layer.DefaultConfig())

	sendErr := make(chan error, 1)
	app := scope.ApplicationFunc(func(ctx context.Context, _ scope.Scope, _ scope.ReceiveFunc, send scope.SendFunc) error {
		sendErr <- send(ctx, scope.Event{"type": "reply"})
		return nil
	})

	stop := startWorker(t, New(mem, app, []string{"jobs"}))
	req.NoError(mem.Send(context.Background(), "jobs", layer.Message{"type": "x"}))

	select {
	case err := <-sendErr:
		req.ErrorIs(err, ErrSendUnsupported)
	case <-time.After(2 * time.Second):
		t.Fatal("application never ran")
	}
	req.NoError(stop())
}

func TestWorker_ApplicationErrorsDoNotStopTheLoop(t *testing.T) {
	req := require.New(t)
	mem := layer.NewMemory(layer.DefaultConfig())
	logger := &recordingLogger{}
	app := &collector{fail: func(msg scope.Event) error {
		if msg["fail"] == true {
			return errors.New("handler failed")
		}
		return nil
	}}

	w := New(mem, app, []string{"jobs"}, WithLogger(logger))
	stop := startWorker(t, w)

	ctx := context.Background()
	req.NoError(mem.Send(ctx, "jobs", layer.Message{"fail": true}))
	req.NoError(mem.Send(ctx, "jobs", layer.Message{"fail": false}))

	req.Eventually(func() bool { return app.count() == 2 }, 2*time.Second, 5*time.Millisecond)
	req.NoError(stop())

	req.Equal(int64(1), w.Processed())
	req.Equal(int64(1), w.Failed())
	req.Equal(1, logger.errorCount())
}

func TestWorker_NullLayerNeverDispatches(t *testing.T) {
	req := require.New(t)
	app := &collector{}
	w := New(layer.NewNull(layer.DefaultConfig()), app, []string{"a", "b", "c"})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := w.Run(ctx)
	req.ErrorIs(err, context.DeadlineExceeded)
	req.Equal(0, app.count())
}

func TestWorker_RunValidation(t *testing.T) {
	mem := layer.NewMemory(layer.DefaultConfig())

	err := New(mem, &collector{}, nil).Run(context.Background())
	require.ErrorIs(t, err, ErrNoChannels)

	err = New(mem, &collector{}, []string{"bad channel"}).Run(context.Background())
	require.ErrorIs(t, err, layer.ErrInvalidName)
}

func TestWorker_ManyChannelsStopTogether(t *testing.T) {
	req := require.New(t)
	mem := layer.NewMemory(layer.DefaultConfig())
	app := &collector{}

	channels := []string{"c0", "c1", "c2", "c3", "c4", "c5", "c6", "c7"}
	w := New(mem, app, channels)
	stop := startWorker(t, w)

	var g errgroup.Group
	for _, ch := range channels {
		g.Go(func() error {
			return mem.Send(context.Background(), ch, layer.Message{"channel": ch})
		})
	}
	req.NoError(g.Wait())

	req.Eventually(func() bool { return app.count() == len(channels) }, 2*time.Second, 5*time.Millisecond)
	req.NoError(stop())

	for _, d := range app.snapshot() {
		req.Equal(d.scope.String("channel"), d.message["channel"])
	}
}

func TestWorker_ChannelsIsCopy(t *testing.T) {
	channels := []string{"a"}
	w := New(layer.NewNull(layer.DefaultConfig()), &collector{}, channels)
	channels[0] = "mutated"

	got := w.Channels()
	got[0] = "also mutated"

	require.Equal(t, []string{"a"}, w.Channels())
}

func TestBackoff(t *testing.T) {
	b := newBackoff(time.Millisecond, 4*time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, b.Wait(ctx))
	}
	require.Equal(t, 4*time.Millisecond, b.current)

	b.Reset()
	require.Equal(t, time.Millisecond, b.current)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.ErrorIs(t, newBackoff(time.Hour, time.Hour).Wait(cancelled), context.Canceled)
}
