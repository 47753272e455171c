package types

import "errors"

// Validation error types shared across components.
var (
	ErrInvalidUsername    = errors.New("username must be 1-50 characters, no spaces or control characters")
	ErrInvalidNetworkName = errors.New("network name must be 1-50 characters, alphanumeric + underscore/hyphen/dot")
	ErrInvalidChannelName = errors.New("channel name must start with # or & and contain no spaces")
	ErrInvalidDuckHealth  = errors.New("duck health must be positive")
	ErrInvalidDuckID      = errors.New("duck ID cannot be empty")
)
