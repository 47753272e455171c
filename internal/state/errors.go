package state

import "errors"

// Channel state error types.
var (
	ErrUnknownChannel = errors.New("channel not registered")
	ErrChannelFull    = errors.New("channel is at its duck cap")
)
