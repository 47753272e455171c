package irc

import "errors"

// Connection and queue error types.
var (
	ErrQueueClosed    = errors.New("outbound queue is closed")
	ErrQueueFull      = errors.New("outbound queue is full")
	ErrNicksExhausted = errors.New("all configured nicknames are in use")
	ErrUnknownNetwork = errors.New("no session for network")
)
