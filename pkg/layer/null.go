package layer

import "context"

// nullExtensions is the static capability set of the Null layer.
var nullExtensions = []Extension{ExtensionGroups, ExtensionFlush}

// Null is a channel layer that never sends or receives anything.
//
// Sends and group operations succeed and are dropped. Receive never returns a
// message: it blocks until ctx is done, so a caller without a deadline or
// cancellation waits forever. That is the intended behavior for a layer where
// no message will ever arrive.
type Null struct {
	Base
}

// NewNull creates a Null layer. cfg is retained but not enforced.
func NewNull(cfg Config) *Null {
	return &Null{Base: NewBase(cfg)}
}

// Send drops msg.
func (n *Null) Send(ctx context.Context, channel string, msg Message) error {
	return checkpoint(ctx)
}

// Receive blocks until ctx is done and returns its error.
func (n *Null) Receive(ctx context.Context, channel string) (Message, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// NewChannel returns "<prefix>.null!<12 random characters>".
func (n *Null) NewChannel(ctx context.Context, prefix string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return specificName(prefix, "null"), nil
}

// Flush has nothing to reset.
func (n *Null) Flush(ctx context.Context) error {
	return checkpoint(ctx)
}

// GroupAdd does nothing.
func (n *Null) GroupAdd(ctx context.Context, group, channel string) error {
	return checkpoint(ctx)
}

// GroupDiscard does nothing.
func (n *Null) GroupDiscard(ctx context.Context, group, channel string) error {
	return checkpoint(ctx)
}

// GroupSend drops msg.
func (n *Null) GroupSend(ctx context.Context, group string, msg Message) error {
	return checkpoint(ctx)
}

// Extensions returns groups and flush.
func (n *Null) Extensions() []Extension {
	return append([]Extension(nil), nullExtensions...)
}

var _ Layer = (*Null)(nil)
