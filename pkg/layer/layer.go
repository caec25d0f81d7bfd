package layer

import (
	"context"
	"slices"
)

// DefaultPrefix is the prefix NewChannel uses when given an empty one.
const DefaultPrefix = "specific"

// Message is the payload carried by a channel. Layers treat it as opaque.
type Message = map[string]any

// Extension names an optional capability of a Layer.
type Extension string

const (
	// ExtensionGroups means GroupAdd, GroupDiscard and GroupSend are implemented.
	ExtensionGroups Extension = "groups"

	// ExtensionFlush means Flush is implemented.
	ExtensionFlush Extension = "flush"
)

// Layer is the channel-layer contract.
//
// Every method may block the calling goroutine and honors ctx: a cancelled
// context makes the call return ctx.Err(). Apart from cancellation, Send,
// Flush and the group operations do not fail for valid input.
type Layer interface {
	// Send puts a message onto a general or specific channel.
	Send(ctx context.Context, channel string, msg Message) error

	// Receive returns the first message that arrives on channel. It blocks
	// until a message is available or ctx is done.
	Receive(ctx context.Context, channel string) (Message, error)

	// NewChannel returns a fresh specific channel name starting with prefix.
	// An empty prefix means DefaultPrefix.
	NewChannel(ctx context.Context, prefix string) (string, error)

	// Flush resets the layer to a blank state.
	Flush(ctx context.Context) error

	// GroupAdd adds channel to group.
	GroupAdd(ctx context.Context, group, channel string) error

	// GroupDiscard removes channel from group.
	GroupDiscard(ctx context.Context, group, channel string) error

	// GroupSend sends msg to every channel in group.
	GroupSend(ctx context.Context, group string, msg Message) error

	// Extensions lists the optional capabilities the implementation provides.
	Extensions() []Extension
}

// Supports reports whether l advertises ext.
func Supports(l Layer, ext Extension) bool {
	return slices.Contains(l.Extensions(), ext)
}
