package tracing

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bft-labs/chanext/pkg/scope"
)

// TracerName is the instrumentation name spans are created under.
const TracerName = "github.com/bft-labs/chanext/pkg/tracing"

// ErrUnknownScopeType is returned for scopes whose type has no span name.
var ErrUnknownScopeType = errors.New("tracing: unknown scope type")

// Option configures the middleware.
type Option func(*options)

type options struct {
	provider trace.TracerProvider
}

// WithTracerProvider sets the provider spans are created from. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.provider = tp
	}
}

// Middleware wraps every connection in a span named after its scope.
func Middleware(opts ...Option) scope.Middleware {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.provider == nil {
		o.provider = otel.GetTracerProvider()
	}
	tracer := o.provider.Tracer(TracerName, trace.WithInstrumentationVersion(Version))

	return func(inner scope.Application) scope.Application {
		return scope.ApplicationFunc(func(ctx context.Context, s scope.Scope, receive scope.ReceiveFunc, send scope.SendFunc) error {
			name, kind, err := SpanName(s)
			if err != nil {
				return err
			}

			ctx, span := tracer.Start(ctx, name,
				trace.WithSpanKind(kind),
				trace.WithAttributes(attributes(s)...),
			)
			defer span.End()

			if err := inner.Serve(ctx, s, receive, send); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return err
			}
			return nil
		})
	}
}

// SpanName returns the span name and kind for s.
func SpanName(s scope.Scope) (string, trace.SpanKind, error) {
	switch t := s.Type(); t {
	case scope.TypeHTTP:
		return s.String("method") + " " + s.String("path"), trace.SpanKindServer, nil
	case scope.TypeWebSocket:
		return "WebSocket " + s.String("path"), trace.SpanKindServer, nil
	case scope.TypeLifespan:
		return "Lifespan", trace.SpanKindInternal, nil
	case scope.TypeChannel:
		return "receive " + s.String("channel"), trace.SpanKindConsumer, nil
	default:
		return "", trace.SpanKindUnspecified, fmt.Errorf("%w: %q", ErrUnknownScopeType, t)
	}
}

func attributes(s scope.Scope) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String("chanext.scope.type", s.Type())}
	switch s.Type() {
	case scope.TypeHTTP:
		attrs = append(attrs,
			attribute.String("http.request.method", s.String("method")),
			attribute.String("url.path", s.String("path")),
		)
	case scope.TypeWebSocket:
		attrs = append(attrs, attribute.String("url.path", s.String("path")))
	case scope.TypeChannel:
		attrs = append(attrs, attribute.String("messaging.destination.name", s.String("channel")))
	}
	return attrs
}
