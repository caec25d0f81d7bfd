// Package tracing wraps connection scopes in OpenTelemetry spans.
//
// Span names follow the scope type:
//
//	http       "<method> <path>"
//	websocket  "WebSocket <path>"
//	lifespan   "Lifespan"
//	channel    "receive <channel>"
//
// Scopes of any other type are rejected with ErrUnknownScopeType. The inner
// application runs with the span's context, and its error, if any, is
// recorded on the span.
//
// # Usage
//
//	app := scope.Chain(handler, tracing.Middleware(tracing.WithTracerProvider(tp)))
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
package tracing
