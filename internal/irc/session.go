package irc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"duckhunt/internal/state"
	"duckhunt/pkg/interfaces"
)

// SessionState tracks where a session is in its lifecycle.
type SessionState int32

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateRegistering
	StateConnected
	StateReconnecting
	StateShuttingDown
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateRegistering:
		return "registering"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateShuttingDown:
		return "shutting down"
	}
	return "unknown"
}

// Reconnect backoff: capped exponential, 5s initial, x1.5, 60s ceiling.
// Retries continue until shutdown; a successful registration resets the
// schedule. The cap keeps a long outage from pushing retries out to
// useless intervals.
const (
	backoffInitial = 5 * time.Second
	backoffMax     = 60 * time.Second

	// defaultRegistrationTimeout bounds the wait for an end-of-MOTD
	// signal. Some servers never send one; stalling minutes on them is
	// worse than joining early.
	defaultRegistrationTimeout = 30 * time.Second
)

// SessionConfig carries one network's connection parameters.
type SessionConfig struct {
	Name                string   // network identity, used as the store key
	Nicks               []string // primary nickname plus collision alternates
	Ident               string
	Realname            string
	Channels            []string // channels to join after registration
	Perform             []string // raw lines sent after registration
	SendInterval        time.Duration
	RegistrationTimeout time.Duration

	// Reconnect schedule overrides; zero values use the package
	// defaults above.
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
}

// Session owns one network connection: it drives the registration
// handshake, feeds the parser, drains the outbound queue, and manages
// reconnect with bounded backoff. Inbound membership changes land in the
// channel state store through the normalized key; chat lines go to the
// message handler in arrival order.
type Session struct {
	config  SessionConfig
	dial    DialFunc
	queue   *OutboundQueue
	states  *state.Store
	handler interfaces.MessageHandler

	// onRegistered runs once per successful registration, after
	// channels are joined. The scheduler hooks it to seed spawn
	// schedules.
	onRegistered func(network string)

	mu        sync.RWMutex
	st        SessionState
	nick      string
	nickIndex int

	shutdown  chan struct{}
	closeOnce sync.Once
}

// NewSession creates a session. It does not connect until Run.
func NewSession(config SessionConfig, dial DialFunc, states *state.Store, handler interfaces.MessageHandler) *Session {
	if config.RegistrationTimeout <= 0 {
		config.RegistrationTimeout = defaultRegistrationTimeout
	}
	if config.ReconnectInitial <= 0 {
		config.ReconnectInitial = backoffInitial
	}
	if config.ReconnectMax <= 0 {
		config.ReconnectMax = backoffMax
	}
	nick := ""
	if len(config.Nicks) > 0 {
		nick = config.Nicks[0]
	}
	return &Session{
		config:   config,
		dial:     dial,
		queue:    NewOutboundQueue(config.Name, config.SendInterval),
		states:   states,
		handler:  handler,
		st:       StateDisconnected,
		nick:     nick,
		shutdown: make(chan struct{}),
	}
}

// SetOnRegistered installs the post-registration hook. Must be called
// before Run.
func (s *Session) SetOnRegistered(fn func(network string)) {
	s.onRegistered = fn
}

// Name returns the network identity.
func (s *Session) Name() string { return s.config.Name }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st
}

// Nick returns the nickname currently in use.
func (s *Session) Nick() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nick
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	if s.st != StateShuttingDown {
		s.st = st
	}
	s.mu.Unlock()
}

// Send enqueues a raw protocol line. It never blocks the caller.
func (s *Session) Send(line string) error {
	return s.queue.Enqueue(line)
}

// Privmsg sends a message to a channel or user.
func (s *Session) Privmsg(target, text string) error {
	return s.Send(fmt.Sprintf("PRIVMSG %s :%s", target, text))
}

// Notice sends a NOTICE to a channel or user.
func (s *Session) Notice(target, text string) error {
	return s.Send(fmt.Sprintf("NOTICE %s :%s", target, text))
}

// Shutdown enqueues a farewell line and stops the session. Per the
// shutdown contract the process does not wait for the drain to confirm:
// waiting on a graceful drain after the transport starts closing is a
// known deadlock source.
func (s *Session) Shutdown(farewell string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.st = StateShuttingDown
		s.mu.Unlock()
		if farewell != "" {
			_ = s.queue.Enqueue("QUIT :" + farewell)
		}
		s.queue.Close()
		close(s.shutdown)
	})
}

func (s *Session) shuttingDown() bool {
	select {
	case <-s.shutdown:
		return true
	default:
		return false
	}
}

// Run drives the connect/register/dispatch loop until shutdown or a
// session-fatal error (exhausted nicknames). Transport errors are never
// fatal: the session backs off and reconnects. One session's stall
// cannot stall other sessions; everything here runs on the session's own
// goroutines.
func (s *Session) Run(ctx context.Context) error {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = s.config.ReconnectInitial
	retry.MaxInterval = s.config.ReconnectMax
	retry.Multiplier = 1.5

	for {
		if s.shuttingDown() || ctx.Err() != nil {
			return nil
		}

		s.setState(StateConnecting)
		conn, err := s.dial(ctx)
		if err != nil {
			log.Printf("[%s] connect failed: %v", s.config.Name, err)
			if !s.sleepBackoff(ctx, retry.NextBackOff()) {
				return nil
			}
			continue
		}

		registered, err := s.runConnection(ctx, conn)
		if err == ErrNicksExhausted {
			// Fatal for this session only; other networks keep going.
			log.Printf("[%s] %v, giving up on this network", s.config.Name, err)
			s.setState(StateDisconnected)
			return err
		}
		if s.shuttingDown() || ctx.Err() != nil {
			return nil
		}
		if registered {
			// A successful registration exits the retry path; the next
			// failure starts a fresh backoff schedule.
			retry.Reset()
		}
		log.Printf("[%s] connection lost: %v", s.config.Name, err)
		if !s.sleepBackoff(ctx, retry.NextBackOff()) {
			return nil
		}
	}
}

// sleepBackoff suspends for the backoff delay. Returns false when the
// session should stop instead of retrying.
func (s *Session) sleepBackoff(ctx context.Context, delay time.Duration) bool {
	s.setState(StateReconnecting)
	log.Printf("[%s] reconnecting in %s", s.config.Name, delay.Round(time.Second))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.shutdown:
		return false
	case <-ctx.Done():
		return false
	}
}

// connState is the per-connection registration bookkeeping, reset on
// every reconnect.
type connState struct {
	registered atomic.Bool
	completed  sync.Once
	motdTimer  *time.Timer
	fatal      chan error
	abort      func()
}

// fail records a fatal connection error and closes the transport so the
// blocked scanner read returns even when the server has gone silent.
func (cs *connState) fail(err error) {
	select {
	case cs.fatal <- err:
	default:
	}
	cs.abort()
}

// runConnection serves one physical connection until it dies. The bool
// result reports whether registration completed at least once.
func (s *Session) runConnection(ctx context.Context, conn io.ReadWriteCloser) (bool, error) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer conn.Close()

	// Close the transport when shutdown arrives so the blocking read
	// below unsticks immediately.
	go func() {
		select {
		case <-s.shutdown:
			// Give the drain a moment to emit the farewell line before
			// the transport drops.
			time.Sleep(2 * DefaultSendInterval)
			conn.Close()
		case <-connCtx.Done():
		}
	}()

	// Drain goroutine: the only writer to the transport.
	drainDone := make(chan struct{})
	go func() {
		defer close(drainDone)
		if err := s.queue.Drain(connCtx, conn); err != nil && connCtx.Err() == nil {
			log.Printf("[%s] outbound drain stopped: %v", s.config.Name, err)
			cancel()
		}
	}()

	cs := &connState{
		fatal: make(chan error, 1),
		abort: func() { conn.Close() },
	}
	defer func() {
		if cs.motdTimer != nil {
			cs.motdTimer.Stop()
		}
	}()

	s.setState(StateRegistering)
	s.mu.Lock()
	s.nickIndex = 0
	s.nick = s.config.Nicks[0]
	nick := s.nick
	s.mu.Unlock()

	ident := s.config.Ident
	if ident == "" {
		ident = nick
	}
	realname := s.config.Realname
	if realname == "" {
		realname = "Duck Hunt Game Bot"
	}
	_ = s.Send(fmt.Sprintf("USER %s 0 * :%s", ident, realname))
	_ = s.Send("NICK " + nick)

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		select {
		case err := <-cs.fatal:
			return cs.registered.Load(), err
		default:
		}
		ev := ParseLine(scanner.Text())
		s.handleEvent(cs, ev)
		if s.shuttingDown() {
			return cs.registered.Load(), nil
		}
	}

	select {
	case err := <-cs.fatal:
		return cs.registered.Load(), err
	default:
	}
	if err := scanner.Err(); err != nil {
		return cs.registered.Load(), err
	}
	return cs.registered.Load(), io.EOF
}

// handleEvent processes one inbound event in arrival order.
func (s *Session) handleEvent(cs *connState, ev Event) {
	switch ev.Kind {
	case EventPing:
		_ = s.Send("PONG :" + ev.Text)

	case EventWelcome:
		// Some servers omit the end-of-MOTD follow-up entirely; a
		// timeout keeps them from stalling registration for minutes.
		cs.motdTimer = time.AfterFunc(s.config.RegistrationTimeout, func() {
			log.Printf("[%s] MOTD timeout, completing registration", s.config.Name)
			s.completeRegistration(cs)
		})

	case EventEndOfMOTD, EventNoMOTD:
		s.completeRegistration(cs)

	case EventNickInUse:
		if cs.registered.Load() {
			return
		}
		s.mu.Lock()
		s.nickIndex++
		if s.nickIndex >= len(s.config.Nicks) {
			s.mu.Unlock()
			cs.fail(ErrNicksExhausted)
			return
		}
		s.nick = s.config.Nicks[s.nickIndex]
		nick := s.nick
		s.mu.Unlock()
		log.Printf("[%s] nickname in use, trying %q", s.config.Name, nick)
		_ = s.Send("NICK " + nick)

	case EventNames:
		if ev.Channel != "" {
			s.states.SetMembers(s.config.Name, ev.Channel, ev.Members)
		}

	case EventJoin:
		if ev.Channel != "" && ev.Nick != "" && ev.Nick != s.Nick() {
			s.states.AddMember(s.config.Name, ev.Channel, ev.Nick)
		}

	case EventPart:
		if ev.Channel != "" && ev.Nick != "" {
			s.states.RemoveMember(s.config.Name, ev.Channel, ev.Nick)
		}

	case EventQuit:
		if ev.Nick != "" {
			s.states.RemoveMemberEverywhere(s.config.Name, ev.Nick)
		}

	case EventPrivmsg:
		if s.handler == nil || ev.Nick == "" {
			return
		}
		if ev.Channel != "" {
			s.handler.HandleChannelMessage(s.config.Name, ev.Nick, ev.Channel, ev.Text)
		} else {
			s.handler.HandlePrivateMessage(s.config.Name, ev.Nick, ev.Text)
		}

	default:
		// Unrecognized lines are dropped, never fatal.
	}
}

// completeRegistration runs once per connection: join channels, request
// membership lists, run perform commands, and fire the registration
// hook.
func (s *Session) completeRegistration(cs *connState) {
	cs.completed.Do(func() {
		if cs.motdTimer != nil {
			cs.motdTimer.Stop()
		}
		cs.registered.Store(true)
		s.setState(StateConnected)
		log.Printf("[%s] registration complete as %q, joining %d channel(s)",
			s.config.Name, s.Nick(), len(s.config.Channels))

		for _, cmd := range s.config.Perform {
			if cmd != "" {
				_ = s.Send(cmd)
			}
		}
		for _, channel := range s.config.Channels {
			_ = s.Send("JOIN " + channel)
			_ = s.Send("NAMES " + channel)
		}
		if s.onRegistered != nil {
			s.onRegistered(s.config.Name)
		}
	})
}
