package irc

import (
	"strings"
)

// EventKind classifies one inbound protocol line.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventPing
	EventWelcome    // 001
	EventEndOfMOTD  // 376
	EventNoMOTD     // 422
	EventNickInUse  // 433
	EventNames      // 353
	EventJoin
	EventPart
	EventQuit
	EventPrivmsg
	EventNotice
)

// Event is one parsed inbound line. Fields are populated per kind:
// Nick/Target/Text for messages, Channel/Members for names replies.
type Event struct {
	Kind    EventKind
	Raw     string
	Source  string   // server or user prefix, without the leading colon
	Nick    string   // sender nick for user-originated events
	Channel string   // normalized channel, where applicable
	Target  string   // message target as sent (channel or nick)
	Text    string   // trailing text
	Code    string   // numeric reply code, where applicable
	Members []string // names reply members, prefixes stripped
}

// numericWindow is how many leading tokens are searched for a numeric
// reply code. Servers prepend a source token before the code, so the
// code must be matched as a token in a fixed-position window, never as a
// line prefix.
const numericWindow = 2

// membershipPrefixes are the nick decorations stripped from names
// replies (@ for ops, + for voice, and the usual extensions).
const membershipPrefixes = "@+%&~"

// ParseLine turns one raw protocol line into a structured event.
// Unrecognized lines come back as EventUnknown and are dropped by the
// session, never treated as fatal.
func ParseLine(raw string) Event {
	line := strings.TrimRight(raw, "\r\n")
	ev := Event{Kind: EventUnknown, Raw: line}
	if line == "" {
		return ev
	}

	if strings.HasPrefix(line, "PING") {
		ev.Kind = EventPing
		if idx := strings.Index(line, " "); idx >= 0 {
			ev.Text = strings.TrimPrefix(line[idx+1:], ":")
		}
		return ev
	}

	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return ev
	}

	offset := 0
	if strings.HasPrefix(tokens[0], ":") {
		ev.Source = strings.TrimPrefix(tokens[0], ":")
		ev.Nick = nickFromSource(ev.Source)
		offset = 1
	}
	if len(tokens) <= offset {
		return ev
	}
	command := tokens[offset]

	if kind, ok := numericKind(command); ok && offset < numericWindow {
		ev.Kind = kind
		ev.Code = command
		if kind == EventNames {
			parseNames(&ev, tokens[offset+1:], line)
		}
		return ev
	}

	switch command {
	case "PRIVMSG", "NOTICE":
		if command == "PRIVMSG" {
			ev.Kind = EventPrivmsg
		} else {
			ev.Kind = EventNotice
		}
		if len(tokens) > offset+1 {
			ev.Target = tokens[offset+1]
			if strings.HasPrefix(ev.Target, "#") || strings.HasPrefix(ev.Target, "&") {
				ev.Channel = normalize(ev.Target)
			}
		}
		ev.Text = trailing(line)
	case "JOIN":
		ev.Kind = EventJoin
		if len(tokens) > offset+1 {
			ev.Channel = normalize(strings.TrimPrefix(tokens[offset+1], ":"))
		}
	case "PART":
		ev.Kind = EventPart
		if len(tokens) > offset+1 {
			ev.Channel = normalize(strings.TrimPrefix(tokens[offset+1], ":"))
		}
	case "QUIT":
		ev.Kind = EventQuit
		ev.Text = trailing(line)
	}
	return ev
}

func numericKind(code string) (EventKind, bool) {
	switch code {
	case "001":
		return EventWelcome, true
	case "376":
		return EventEndOfMOTD, true
	case "422":
		return EventNoMOTD, true
	case "433":
		return EventNickInUse, true
	case "353":
		return EventNames, true
	}
	return EventUnknown, false
}

// parseNames handles the 353 reply:
//
//	:server 353 botnick = #channel :@op +voiced plain
//
// The channel symbol between the bot nick and the channel varies
// (= public, * private, @ secret), so the channel is found as the first
// #-token after the code.
func parseNames(ev *Event, args []string, line string) {
	for _, token := range args {
		if strings.HasPrefix(token, ":") {
			break
		}
		if strings.HasPrefix(token, "#") || strings.HasPrefix(token, "&") {
			ev.Channel = normalize(token)
			break
		}
	}
	for _, nick := range strings.Fields(trailing(line)) {
		clean := strings.TrimLeft(nick, membershipPrefixes)
		if clean != "" {
			ev.Members = append(ev.Members, clean)
		}
	}
}

// nickFromSource extracts the nick from a full user prefix
// ("nick!user@host"); server prefixes come back unchanged.
func nickFromSource(source string) string {
	if idx := strings.Index(source, "!"); idx >= 0 {
		return source[:idx]
	}
	return source
}

// trailing returns the text after the first " :" separator past the
// leading prefix.
func trailing(line string) string {
	search := line
	if strings.HasPrefix(search, ":") {
		// Skip the prefix so a colon inside it cannot shadow the
		// trailing separator.
		if idx := strings.Index(search, " "); idx >= 0 {
			search = search[idx+1:]
		}
	}
	if idx := strings.Index(search, " :"); idx >= 0 {
		return search[idx+2:]
	}
	return ""
}

func normalize(channel string) string {
	return strings.ToLower(strings.TrimSpace(channel))
}
