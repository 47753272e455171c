package types

import (
	"regexp"
	"strings"
)

// Regexes compiled once at package initialization; validation runs on
// every inbound command.
var (
	networkNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
)

// IsValidUsername reports whether a nickname is acceptable as a player
// identity. IRC nicknames vary widely across networks, so this is a
// permissive check: length bounds plus no whitespace or control bytes.
func IsValidUsername(username string) bool {
	if len(username) < 1 || len(username) > 50 {
		return false
	}
	for _, r := range username {
		if r <= ' ' || r == 0x7f {
			return false
		}
	}
	return true
}

// IsValidNetworkName reports whether a configured network identity can be
// used as a store key.
func IsValidNetworkName(name string) bool {
	if len(name) < 1 || len(name) > 50 {
		return false
	}
	return networkNameRegex.MatchString(name)
}

// IsValidChannelName reports whether a channel name is routable. RFC 1459
// channels begin with # or & and contain no spaces, commas, or BEL.
func IsValidChannelName(channel string) bool {
	if len(channel) < 2 || len(channel) > 200 {
		return false
	}
	if channel[0] != '#' && channel[0] != '&' {
		return false
	}
	return !strings.ContainsAny(channel, " ,\x07")
}

// Validate ensures a duck carries usable identity and health values.
func (d *Duck) Validate() error {
	if d.ID == "" {
		return ErrInvalidDuckID
	}
	if d.Health <= 0 {
		return ErrInvalidDuckHealth
	}
	return nil
}
