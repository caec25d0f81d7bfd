// Package layer defines the channel-layer contract and two implementations.
//
// A channel layer moves messages between named channels and manages named
// groups of channels. Every operation takes a context.Context; callers that
// need a bound on Receive must put a deadline on it.
//
// # Implementations
//
//   - [Null]: performs no I/O. Sends are dropped and Receive blocks until its
//     context is done. Useful in tests and in deployments that never consume
//     channel messages.
//   - [Memory]: a single-process layer with bounded queues, message expiry
//     and group memberships.
//
// Both advertise the groups and flush extensions; use [Supports] to check a
// capability on an arbitrary Layer.
//
// # Usage
//
//	l := layer.NewNull(layer.DefaultConfig())
//	name, _ := l.NewChannel(ctx, "")  // "specific.null!Xa81kTqPz0rB"
//	_ = l.Send(ctx, name, layer.Message{"type": "chat.message"})
//
//	ctx, cancel := context.WithTimeout(ctx, time.Second)
//	defer cancel()
//	_, err := l.Receive(ctx, name)      // context.DeadlineExceeded
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
package layer
