package scope

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScope_Accessors(t *testing.T) {
	req := require.New(t)
	s := Scope{"type": TypeWebSocket, "path": "/ws", "port": 80}

	req.Equal(TypeWebSocket, s.Type())
	req.Equal("/ws", s.String("path"))
	req.Equal("", s.String("port"))
	req.True(s.Has("port"))
	req.False(s.Has("site"))
	req.Equal("", Scope(nil).Type())
}

func TestScope_Clone(t *testing.T) {
	req := require.New(t)
	s := Scope{"type": TypeHTTP}

	c := s.Clone()
	c["site"] = "example.com"

	req.False(s.Has("site"))
	req.NotNil(Scope(nil).Clone())
}

func TestChain_Order(t *testing.T) {
	req := require.New(t)
	var order []string
	tag := func(name string) Middleware {
		return func(inner Application) Application {
			return ApplicationFunc(func(ctx context.Context, s Scope, receive ReceiveFunc, send SendFunc) error {
				order = append(order, name)
				return inner.Serve(ctx, s, receive, send)
			})
		}
	}
	app := Chain(ApplicationFunc(func(ctx context.Context, s Scope, receive ReceiveFunc, send SendFunc) error {
		order = append(order, "app")
		return nil
	}), tag("outer"), tag("inner"))

	req.NoError(app.Serve(context.Background(), Scope{}, nil, nil))
	req.Equal([]string{"outer", "inner", "app"}, order)
}
