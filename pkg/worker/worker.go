package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bft-labs/chanext/pkg/layer"
	"github.com/bft-labs/chanext/pkg/log"
	"github.com/bft-labs/chanext/pkg/scope"
)

var (
	// ErrSendUnsupported is returned by the send function handed to
	// applications. Channel consumers have nowhere to reply to.
	ErrSendUnsupported = errors.New("worker: send is not supported on channel scopes")

	// ErrNoChannels is returned by Run when the worker has nothing to consume.
	ErrNoChannels = errors.New("worker: no channels to consume")

	// ErrNoLayer is returned by Run when the worker has neither a layer nor a
	// Source.
	ErrNoLayer = errors.New("worker: no layer")
)

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger log.Logger) Option {
	return func(w *Worker) {
		w.logger = log.OrNoop(logger)
	}
}

// WithStateFunc registers fn to be called on every state change.
func WithStateFunc(fn StateFunc) Option {
	return func(w *Worker) {
		w.lifecycle.onChange = fn
	}
}

// Source supplies the layer a worker consumes. Changed is closed when the
// layer returned by Layer may have been replaced; registry.Binding
// implements it.
type Source interface {
	Layer() (layer.Layer, error)
	Changed() <-chan struct{}
}

// WithSource makes the worker resolve its layer from src, and resolve it
// again every time src signals a change. The layer passed to New is then
// ignored.
func WithSource(src Source) Option {
	return func(w *Worker) {
		w.source = src
	}
}

// WithBackoff sets the delay applied after a failed receive.
func WithBackoff(initial, max time.Duration) Option {
	return func(w *Worker) {
		w.backoffInitial = initial
		w.backoffMax = max
	}
}

// Worker consumes channels of a layer and dispatches every message to an
// application as a "channel" scope.
type Worker struct {
	layer    layer.Layer
	source   Source
	app      scope.Application
	channels []string
	logger   log.Logger

	backoffInitial time.Duration
	backoffMax     time.Duration

	lifecycle lifecycle

	processed atomic.Int64
	failed    atomic.Int64
}

// New creates a worker consuming channels from l.
func New(l layer.Layer, app scope.Application, channels []string, opts ...Option) *Worker {
	w := &Worker{
		layer:          l,
		app:            app,
		channels:       append([]string(nil), channels...),
		logger:         log.NoopLogger{},
		backoffInitial: DefaultBackoffInitial,
		backoffMax:     DefaultBackoffMax,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Channels returns the channels the worker consumes.
func (w *Worker) Channels() []string {
	return append([]string(nil), w.channels...)
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	return w.lifecycle.current()
}

// Processed returns how many messages the application handled without error.
func (w *Worker) Processed() int64 {
	return w.processed.Load()
}

// Failed returns how many messages the application returned an error for.
func (w *Worker) Failed() int64 {
	return w.failed.Load()
}

// Run consumes every channel concurrently until ctx is done. It returns nil
// when ctx was cancelled, and ctx.Err() for any other end of the context.
// A worker can be run again once Run has returned.
func (w *Worker) Run(ctx context.Context) error {
	if !w.lifecycle.transition(StateStarting) {
		return ErrAlreadyRunning
	}

	if err := w.validate(); err != nil {
		w.lifecycle.transition(StateCrashed)
		return err
	}

	w.lifecycle.transition(StateRunning)
	w.logger.Info("worker started", log.Strings("channels", w.channels))

	err := w.serve(ctx)
	w.lifecycle.transition(StateStopping)
	w.logger.Info("worker stopped",
		log.Any("processed", w.Processed()),
		log.Any("failed", w.Failed()),
	)
	if errors.Is(err, context.Canceled) {
		w.lifecycle.transition(StateStopped)
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		w.lifecycle.transition(StateStopped)
	} else {
		w.lifecycle.transition(StateCrashed)
	}
	return err
}

func (w *Worker) validate() error {
	if w.layer == nil && w.source == nil {
		return ErrNoLayer
	}
	if len(w.channels) == 0 {
		return ErrNoChannels
	}
	for _, ch := range w.channels {
		if err := layer.ValidChannelName(ch); err != nil {
			return err
		}
	}
	return nil
}

// serve consumes the current layer until ctx is done, switching layers
// whenever the source reports a change.
func (w *Worker) serve(ctx context.Context) error {
	for {
		l := w.layer
		var changed <-chan struct{}
		if w.source != nil {
			changed = w.source.Changed()
			var err error
			if l, err = w.source.Layer(); err != nil {
				w.logger.Error("resolve layer failed, waiting for the next change", log.Err(err))
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-changed:
					continue
				}
			}
		}

		replaced, err := w.consumeAll(ctx, l, changed)
		if !replaced {
			return err
		}
		w.logger.Info("layer replaced, resuming", log.Strings("channels", w.channels))
	}
}

// consumeAll runs one receive loop per channel on l. It reports true when
// changed fired and every loop has stopped receiving from l.
func (w *Worker) consumeAll(ctx context.Context, l layer.Layer, changed <-chan struct{}) (bool, error) {
	recvCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(recvCtx)
	for _, ch := range w.channels {
		g.Go(func() error {
			return w.consume(ctx, gctx, l, ch)
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return false, err
	case <-changed:
		cancel()
		<-done
		if err := ctx.Err(); err != nil {
			return false, err
		}
		return true, nil
	}
}

// consume receives from channel with recvCtx and dispatches with ctx, so that
// switching layers does not interrupt a message being handled.
func (w *Worker) consume(ctx, recvCtx context.Context, l layer.Layer, channel string) error {
	b := newBackoff(w.backoffInitial, w.backoffMax)
	for {
		msg, err := l.Receive(recvCtx, channel)
		if err != nil {
			if recvCtx.Err() != nil {
				return recvCtx.Err()
			}
			w.logger.Warn("receive failed", log.Channel(channel), log.Err(err))
			if err := b.Wait(recvCtx); err != nil {
				return err
			}
			continue
		}
		b.Reset()
		w.dispatch(ctx, channel, msg)
	}
}

func (w *Worker) dispatch(ctx context.Context, channel string, msg layer.Message) {
	s := scope.Scope{
		"type":    scope.TypeChannel,
		"channel": channel,
	}

	err := w.app.Serve(ctx, s, onceReceive(msg), unsupportedSend)
	if err != nil && ctx.Err() == nil {
		w.failed.Add(1)
		w.logger.Error("application failed", log.Channel(channel), log.Err(err))
		return
	}
	if err == nil {
		w.processed.Add(1)
	}
}

// onceReceive yields msg on the first call and then blocks until ctx is done.
func onceReceive(msg layer.Message) scope.ReceiveFunc {
	var taken atomic.Bool
	return func(ctx context.Context) (scope.Event, error) {
		if taken.CompareAndSwap(false, true) {
			return msg, nil
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

func unsupportedSend(_ context.Context, event scope.Event) error {
	return fmt.Errorf("%w: %v", ErrSendUnsupported, event["type"])
}
