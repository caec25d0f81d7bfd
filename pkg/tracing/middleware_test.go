package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/bft-labs/chanext/pkg/scope"
)

func newRecorder(t *testing.T) (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return sr, tp
}

func TestMiddleware_SpanNames(t *testing.T) {
	tests := []struct {
		name  string
		scope scope.Scope
		want  string
		kind  trace.SpanKind
	}{
		{"http", scope.Scope{"type": "http", "method": "GET", "path": "/health"}, "GET /health", trace.SpanKindServer},
		{"websocket", scope.Scope{"type": "websocket", "path": "/ws/chat"}, "WebSocket /ws/chat", trace.SpanKindServer},
		{"lifespan", scope.Scope{"type": "lifespan"}, "Lifespan", trace.SpanKindInternal},
		{"channel", scope.Scope{"type": "channel", "channel": "jobs"}, "receive jobs", trace.SpanKindConsumer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sr, tp := newRecorder(t)
			var innerSpan trace.SpanContext
			inner := scope.ApplicationFunc(func(ctx context.Context, s scope.Scope, _ scope.ReceiveFunc, _ scope.SendFunc) error {
				innerSpan = trace.SpanContextFromContext(ctx)
				return nil
			})

			err := Middleware(WithTracerProvider(tp))(inner).Serve(context.Background(), tt.scope, nil, nil)
			require.NoError(t, err)

			spans := sr.Ended()
			require.Len(t, spans, 1)
			require.Equal(t, tt.want, spans[0].Name())
			require.Equal(t, tt.kind, spans[0].SpanKind())
			require.Equal(t, codes.Unset, spans[0].Status().Code)
			require.Equal(t, spans[0].SpanContext().SpanID(), innerSpan.SpanID())
			require.Contains(t, spans[0].Attributes(), attribute.String("chanext.scope.type", tt.scope.Type()))
		})
	}
}

func TestMiddleware_UnknownScopeType(t *testing.T) {
	sr, tp := newRecorder(t)
	called := false
	inner := scope.ApplicationFunc(func(context.Context, scope.Scope, scope.ReceiveFunc, scope.SendFunc) error {
		called = true
		return nil
	})

	err := Middleware(WithTracerProvider(tp))(inner).Serve(context.Background(), scope.Scope{"type": "smtp"}, nil, nil)

	require.ErrorIs(t, err, ErrUnknownScopeType)
	require.False(t, called)
	require.Empty(t, sr.Ended())
}

func TestMiddleware_RecordsInnerError(t *testing.T) {
	sr, tp := newRecorder(t)
	boom := errors.New("boom")
	inner := scope.ApplicationFunc(func(context.Context, scope.Scope, scope.ReceiveFunc, scope.SendFunc) error {
		return boom
	})

	err := Middleware(WithTracerProvider(tp))(inner).Serve(context.Background(), scope.Scope{"type": "lifespan"}, nil, nil)

	require.ErrorIs(t, err, boom)
	spans := sr.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, codes.Error, spans[0].Status().Code)
	require.Equal(t, "boom", spans[0].Status().Description)
	require.NotEmpty(t, spans[0].Events(), "error should be recorded as a span event")
}

func TestMiddleware_PassesReceiveAndSend(t *testing.T) {
	_, tp := newRecorder(t)
	receive := func(context.Context) (scope.Event, error) {
		return scope.Event{"type": "http.request"}, nil
	}
	var sent []scope.Event
	send := func(_ context.Context, e scope.Event) error {
		sent = append(sent, e)
		return nil
	}
	inner := scope.ApplicationFunc(func(ctx context.Context, _ scope.Scope, receive scope.ReceiveFunc, send scope.SendFunc) error {
		e, err := receive(ctx)
		if err != nil {
			return err
		}
		return send(ctx, e)
	})

	err := Middleware(WithTracerProvider(tp))(inner).Serve(context.Background(), scope.Scope{"type": "http", "method": "POST", "path": "/"}, receive, send)

	require.NoError(t, err)
	require.Equal(t, []scope.Event{{"type": "http.request"}}, sent)
}

func TestSpanName(t *testing.T) {
	_, _, err := SpanName(scope.Scope{})
	require.ErrorIs(t, err, ErrUnknownScopeType)

	name, _, err := SpanName(scope.Scope{"type": "http", "method": "DELETE", "path": "/items/1"})
	require.NoError(t, err)
	require.Equal(t, "DELETE /items/1", name)
}
