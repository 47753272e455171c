package interfaces

// Sender is the outbound surface shared by the scheduler and the game
// handler. Every method enqueues through the per-network rate-limited
// queue and never blocks the caller; delivery is best-effort.
type Sender interface {
	// Privmsg sends a channel or user message on the named network.
	Privmsg(network, target, text string) error

	// Notice sends a NOTICE, used for private detector pre-notices.
	Notice(network, target, text string) error

	// Raw enqueues a raw protocol line.
	Raw(network, line string) error
}

// MessageHandler consumes structured chat events from connection
// sessions. The game-action handler implements it; sessions call it in
// inbound arrival order.
type MessageHandler interface {
	HandleChannelMessage(network, user, channel, text string)
	HandlePrivateMessage(network, user, text string)
}

// Localizer formats user-visible text from structured data. The core
// never builds literal game strings itself; it passes message IDs and
// arguments so channels can run in different languages.
type Localizer interface {
	T(lang, key string, args ...interface{}) string
}
