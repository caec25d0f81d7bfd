package layer

import "errors"

// Layer errors can be checked with errors.Is.
var (
	// ErrChannelFull is returned by Send when the channel is at capacity.
	ErrChannelFull = errors.New("layer: channel full")

	// ErrInvalidName is returned when a channel or group name is malformed.
	ErrInvalidName = errors.New("layer: invalid name")
)
