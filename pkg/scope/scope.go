package scope

import (
	"context"
	"maps"
)

// Scope types produced by servers and workers.
const (
	TypeHTTP      = "http"
	TypeWebSocket = "websocket"
	TypeLifespan  = "lifespan"
	TypeChannel   = "channel"
)

// Scope describes one connection. It is created per connection and handed
// down the middleware chain; middleware that adds keys must Clone it first.
type Scope map[string]any

// Type returns the "type" entry, or "" if it is missing or not a string.
func (s Scope) Type() string {
	return s.String("type")
}

// String returns the string stored under key, or "".
func (s Scope) String(key string) string {
	v, _ := s[key].(string)
	return v
}

// Has reports whether key is present, even with a nil value.
func (s Scope) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Clone returns a shallow copy of s. A nil scope clones to an empty one.
func (s Scope) Clone() Scope {
	if s == nil {
		return Scope{}
	}
	return maps.Clone(s)
}

// Event is a message exchanged with the server during a connection.
type Event = map[string]any

// ReceiveFunc waits for the next inbound event.
type ReceiveFunc func(ctx context.Context) (Event, error)

// SendFunc emits an outbound event.
type SendFunc func(ctx context.Context, event Event) error

// Application handles a connection.
type Application interface {
	Serve(ctx context.Context, s Scope, receive ReceiveFunc, send SendFunc) error
}

// ApplicationFunc adapts a function to Application.
type ApplicationFunc func(ctx context.Context, s Scope, receive ReceiveFunc, send SendFunc) error

// Serve calls f.
func (f ApplicationFunc) Serve(ctx context.Context, s Scope, receive ReceiveFunc, send SendFunc) error {
	return f(ctx, s, receive, send)
}

// Middleware wraps an Application.
type Middleware func(Application) Application

// Chain wraps app in mws. The first middleware is the outermost one and sees
// the scope first.
func Chain(app Application, mws ...Middleware) Application {
	for i := len(mws) - 1; i >= 0; i-- {
		app = mws[i](app)
	}
	return app
}
