package irc

import (
	"context"
	"log"
	"sync"
)

// Registry tracks one session per network and fans Sender calls out to
// the right one. It is the single integration point the game and
// scheduler use to speak to the outside world.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	wg       sync.WaitGroup
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers a session under its network name. Later additions with
// the same name replace earlier ones.
func (r *Registry) Add(session *Session) {
	r.mu.Lock()
	r.sessions[session.Name()] = session
	r.mu.Unlock()
}

// Get returns the session for a network, or nil.
func (r *Registry) Get(network string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[network]
}

// Networks returns the registered network names.
func (r *Registry) Networks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		names = append(names, name)
	}
	return names
}

// StartAll launches every session's connection loop. Each session runs
// on its own goroutine so one network's outage never blocks another's
// traffic.
func (r *Registry) StartAll(ctx context.Context) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, session := range r.sessions {
		session := session
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := session.Run(ctx); err != nil {
				log.Printf("[%s] session ended: %v", session.Name(), err)
			}
		}()
	}
}

// Shutdown enqueues a farewell on every session and stops them. It does
// not wait for the farewells to flush; the caller exits promptly rather
// than blocking on half-closed transports.
func (r *Registry) Shutdown(farewell string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, session := range r.sessions {
		session.Shutdown(farewell)
	}
}

// Wait blocks until all session loops have returned.
func (r *Registry) Wait() {
	r.wg.Wait()
}

// Privmsg sends a message to a target on the named network.
func (r *Registry) Privmsg(network, target, text string) error {
	session := r.Get(network)
	if session == nil {
		return ErrUnknownNetwork
	}
	return session.Privmsg(target, text)
}

// Notice sends a NOTICE to a target on the named network.
func (r *Registry) Notice(network, target, text string) error {
	session := r.Get(network)
	if session == nil {
		return ErrUnknownNetwork
	}
	return session.Notice(target, text)
}

// Raw sends a raw protocol line on the named network.
func (r *Registry) Raw(network, line string) error {
	session := r.Get(network)
	if session == nil {
		return ErrUnknownNetwork
	}
	return session.Send(line)
}
