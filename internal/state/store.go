package state

import (
	"sync"
	"time"

	"duckhunt/pkg/types"
)

// ChannelSettings holds the per-channel spawn and lifecycle tuning.
type ChannelSettings struct {
	MinSpawn     time.Duration // lower bound between automatic spawns
	MaxSpawn     time.Duration // hard upper bound between automatic spawns
	GoldRatio    float64       // probability a spawn is golden
	MaxDucks     int           // concurrent duck cap per channel
	DespawnTime  time.Duration // unresolved duck lifetime
	DetectorLead time.Duration // pre-spawn notice lead time
	Language     string        // catalog language for channel text
}

// DefaultSettings mirrors the stock configuration: ducks every 10-30
// minutes, 10% golden, at most five at once, flying away after ~12
// minutes, detector notices two minutes ahead.
func DefaultSettings() ChannelSettings {
	return ChannelSettings{
		MinSpawn:     600 * time.Second,
		MaxSpawn:     1800 * time.Second,
		GoldRatio:    0.1,
		MaxDucks:     5,
		DespawnTime:  700 * time.Second,
		DetectorLead: 120 * time.Second,
		Language:     "en",
	}
}

// channel is the in-memory record for one (network, normalized-channel).
// Never exposed outside the store; all access goes through Store methods
// under the store lock.
type channel struct {
	network  string
	name     string // normalized
	settings ChannelSettings

	members map[string]struct{}
	ducks   []*types.Duck // FIFO: index 0 is the oldest unresolved duck

	lastSpawn   time.Time
	nextSpawn   time.Time
	preNotice   time.Time
	noticeSent  bool
	burstQueue  []time.Time // scheduled burst spawn instants, ascending
}

// Ref identifies a channel for iteration snapshots.
type Ref struct {
	Network string
	Name    string
}

// Store is the process-wide in-memory channel state: membership,
// transient ducks, and spawn timing, keyed by (network, normalized
// channel). Membership is mutated by the owning session, ducks and
// timing by the scheduler; the lock exists because those writers and
// readers overlap.
type Store struct {
	mu       sync.RWMutex
	channels map[string]*channel
}

// NewStore creates an empty channel state store.
func NewStore() *Store {
	return &Store{channels: make(map[string]*channel)}
}

func (s *Store) get(network, name string) *channel {
	return s.channels[types.ChannelKey(network, name)]
}

// EnsureChannel registers a channel with its settings. Registering an
// already-known channel updates the settings and keeps the state. Case
// variants of the same name resolve to one channel.
func (s *Store) EnsureChannel(network, name string, settings ChannelSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := types.ChannelKey(network, name)
	if ch, ok := s.channels[key]; ok {
		ch.settings = settings
		return
	}
	s.channels[key] = &channel{
		network:  network,
		name:     types.NormalizeChannel(name),
		settings: settings,
		members:  make(map[string]struct{}),
	}
}

// Channels returns a snapshot of all registered channels.
func (s *Store) Channels() []Ref {
	s.mu.RLock()
	defer s.mu.RUnlock()
	refs := make([]Ref, 0, len(s.channels))
	for _, ch := range s.channels {
		refs = append(refs, Ref{Network: ch.network, Name: ch.name})
	}
	return refs
}

// Settings returns the channel's lifecycle settings, or defaults when the
// channel is unknown.
func (s *Store) Settings(network, name string) ChannelSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ch := s.get(network, name); ch != nil {
		return ch.settings
	}
	return DefaultSettings()
}

// SetMembers replaces the membership set from a full names reply,
// discarding stale entries for the channel.
func (s *Store) SetMembers(network, name string, members []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.get(network, name)
	if ch == nil {
		return
	}
	ch.members = make(map[string]struct{}, len(members))
	for _, member := range members {
		ch.members[member] = struct{}{}
	}
}

// AddMember records a join.
func (s *Store) AddMember(network, name, nick string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch := s.get(network, name); ch != nil {
		ch.members[nick] = struct{}{}
	}
}

// RemoveMember records a part.
func (s *Store) RemoveMember(network, name, nick string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch := s.get(network, name); ch != nil {
		delete(ch.members, nick)
	}
}

// RemoveMemberEverywhere records a quit across all of a network's
// channels.
func (s *Store) RemoveMemberEverywhere(network, nick string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.channels {
		if ch.network == network {
			delete(ch.members, nick)
		}
	}
}

// Members returns a copy of the channel's membership set.
func (s *Store) Members(network, name string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch := s.get(network, name)
	if ch == nil {
		return nil
	}
	members := make([]string, 0, len(ch.members))
	for member := range ch.members {
		members = append(members, member)
	}
	return members
}

// HasMember reports whether a nick is currently in the channel.
func (s *Store) HasMember(network, name, nick string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch := s.get(network, name)
	if ch == nil {
		return false
	}
	_, ok := ch.members[nick]
	return ok
}

// AddDuck appends a duck to the channel's FIFO. Returns ErrChannelFull
// when the channel is at its concurrent cap and ErrUnknownChannel when
// the channel was never registered.
func (s *Store) AddDuck(network, name string, duck *types.Duck) error {
	if err := duck.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.get(network, name)
	if ch == nil {
		return ErrUnknownChannel
	}
	if len(ch.ducks) >= ch.settings.MaxDucks {
		return ErrChannelFull
	}
	ch.ducks = append(ch.ducks, duck)
	return nil
}

// DuckCount returns the number of unresolved ducks in the channel.
func (s *Store) DuckCount(network, name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ch := s.get(network, name); ch != nil {
		return len(ch.ducks)
	}
	return 0
}

// CanSpawn reports whether the channel is below its duck cap.
func (s *Store) CanSpawn(network, name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch := s.get(network, name)
	return ch != nil && len(ch.ducks) < ch.settings.MaxDucks
}

// OldestDuck returns a copy of the oldest unresolved duck. Resolution
// targets always select the oldest first.
func (s *Store) OldestDuck(network, name string) (types.Duck, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch := s.get(network, name)
	if ch == nil || len(ch.ducks) == 0 {
		return types.Duck{}, false
	}
	return *ch.ducks[0], true
}

// UpdateDuckByID applies fn to the identified duck in place and returns
// the updated copy. Used for partial hits and reveals that do not remove
// the duck. A duck that expired since it was snapshotted is reported as
// gone, never substituted by another.
func (s *Store) UpdateDuckByID(network, name, duckID string, fn func(*types.Duck)) (types.Duck, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.get(network, name)
	if ch == nil {
		return types.Duck{}, false
	}
	for _, duck := range ch.ducks {
		if duck.ID == duckID {
			fn(duck)
			return *duck, true
		}
	}
	return types.Duck{}, false
}

// RemoveOldestDuck pops the oldest duck, resolving it.
func (s *Store) RemoveOldestDuck(network, name string) (types.Duck, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.get(network, name)
	if ch == nil || len(ch.ducks) == 0 {
		return types.Duck{}, false
	}
	duck := *ch.ducks[0]
	ch.ducks = ch.ducks[1:]
	return duck, true
}

// RemoveDuckByID removes the identified duck, resolving it. Resolution
// from a snapshot must name the duck it saw: the despawn sweep can pull
// the oldest duck out from under a shot in flight, and popping by
// position would then resolve a different duck.
func (s *Store) RemoveDuckByID(network, name, duckID string) (types.Duck, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.get(network, name)
	if ch == nil {
		return types.Duck{}, false
	}
	for i, duck := range ch.ducks {
		if duck.ID == duckID {
			removed := *duck
			ch.ducks = append(ch.ducks[:i], ch.ducks[i+1:]...)
			return removed, true
		}
	}
	return types.Duck{}, false
}

// RemoveExpiredDucks removes and returns every duck older than the
// channel's despawn timeout. Other channels are untouched.
func (s *Store) RemoveExpiredDucks(network, name string, now time.Time) []types.Duck {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.get(network, name)
	if ch == nil {
		return nil
	}
	var expired []types.Duck
	remaining := ch.ducks[:0]
	for _, duck := range ch.ducks {
		if duck.Age(now) >= ch.settings.DespawnTime {
			expired = append(expired, *duck)
		} else {
			remaining = append(remaining, duck)
		}
	}
	ch.ducks = remaining
	return expired
}

// SetSpawnTimes records the spawn window bookkeeping after a reschedule:
// the pre-notice deadline is derived from the next spawn and the
// detector lead, and the notice-sent flag resets.
func (s *Store) SetSpawnTimes(network, name string, last, next time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.get(network, name)
	if ch == nil {
		return
	}
	ch.lastSpawn = last
	ch.nextSpawn = next
	pre := next.Add(-ch.settings.DetectorLead)
	if pre.Before(time.Now()) {
		pre = time.Now()
	}
	ch.preNotice = pre
	ch.noticeSent = false
}

// SpawnTimes returns the channel's (last, next) spawn instants.
func (s *Store) SpawnTimes(network, name string) (last, next time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ch := s.get(network, name); ch != nil {
		return ch.lastSpawn, ch.nextSpawn
	}
	return time.Time{}, time.Time{}
}

// ClearNextSpawn zeroes the due spawn before the spawn happens, so a
// slow spawn cannot fire twice.
func (s *Store) ClearNextSpawn(network, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch := s.get(network, name); ch != nil {
		ch.nextSpawn = time.Time{}
	}
}

// DeferNextSpawn pushes the due spawn a little into the future, used
// when the channel is at its duck cap.
func (s *Store) DeferNextSpawn(network, name string, until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch := s.get(network, name); ch != nil {
		ch.nextSpawn = until
	}
}

// PreNoticeDue reports whether the detector pre-notice should fire now,
// and marks it sent when it should. The mark happens under the same lock
// so two ticks cannot both claim the notice.
func (s *Store) PreNoticeDue(network, name string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.get(network, name)
	if ch == nil || ch.noticeSent || ch.preNotice.IsZero() || ch.nextSpawn.IsZero() {
		return false
	}
	if now.Before(ch.preNotice) {
		return false
	}
	ch.noticeSent = true
	return true
}

// ResetPreNotice re-arms the notice-sent flag so a later tick can claim
// the notice again, used when delivering the claimed notice failed.
func (s *Store) ResetPreNotice(network, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch := s.get(network, name); ch != nil {
		ch.noticeSent = false
	}
}

// PushBurstSpawns queues additional scheduled spawn instants from a duck
// call.
func (s *Store) PushBurstSpawns(network, name string, instants ...time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch := s.get(network, name); ch != nil {
		ch.burstQueue = append(ch.burstQueue, instants...)
	}
}

// TakeDueBurstSpawns removes and returns the burst instants due at now.
func (s *Store) TakeDueBurstSpawns(network, name string, now time.Time) []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := s.get(network, name)
	if ch == nil || len(ch.burstQueue) == 0 {
		return nil
	}
	var due []time.Time
	remaining := ch.burstQueue[:0]
	for _, instant := range ch.burstQueue {
		if !instant.After(now) {
			due = append(due, instant)
		} else {
			remaining = append(remaining, instant)
		}
	}
	ch.burstQueue = remaining
	return due
}

// PendingBurstSpawns returns how many burst instants are still queued.
func (s *Store) PendingBurstSpawns(network, name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ch := s.get(network, name); ch != nil {
		return len(ch.burstQueue)
	}
	return 0
}
