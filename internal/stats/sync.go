package stats

import (
	"context"
	"fmt"
	"sync"

	"duckhunt/pkg/interfaces"
	"duckhunt/pkg/types"
)

// Manager implements the load-mutate-store discipline for player channel
// stats. Every stat-affecting action goes through WithChannelStats: the
// record is loaded fresh, mutated inside the callback, filtered, and
// written back before the call returns. Nothing is cached between calls,
// which is what keeps interleaved actions across channels and networks
// from ever seeing stale state.
type Manager struct {
	store interfaces.Store

	// Per-key locks serialize concurrent mutations of the same
	// (player, network, channel) record so two simultaneous actions
	// never both read the same "before" value and lose one update.
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

// NewManager creates a stats manager over a store.
func NewManager(store interfaces.Store) *Manager {
	return &Manager{
		store: store,
		locks: make(map[string]*keyLock),
	}
}

func (m *Manager) acquire(key string) *keyLock {
	m.mu.Lock()
	lock, ok := m.locks[key]
	if !ok {
		lock = &keyLock{}
		m.locks[key] = lock
	}
	lock.refs++
	m.mu.Unlock()

	lock.Lock()
	return lock
}

func (m *Manager) release(key string, lock *keyLock) {
	lock.Unlock()

	m.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		// Drop idle locks so the map does not grow with every player
		// the bot has ever seen.
		delete(m.locks, key)
	}
	m.mu.Unlock()
}

// WithChannelStats loads the current authoritative record, applies fn to
// it, writes the mutated record back, and returns the result. The record
// only exists inside fn's scope; callers must not retain it beyond the
// call. Calls for the same key serialize, calls for different keys run
// independently.
func (m *Manager) WithChannelStats(ctx context.Context, username, network, channel string, fn interfaces.StatsMutator) (*types.ChannelStats, error) {
	key := types.ChannelKey(network, channel) + "/" + types.NormalizeNick(username)
	lock := m.acquire(key)
	defer m.release(key, lock)

	stats, err := m.store.LoadChannelStats(ctx, username, network, channel)
	if err != nil {
		return nil, fmt.Errorf("failed to load stats for %q: %w", username, err)
	}

	if fn != nil {
		if err := fn(stats); err != nil {
			return nil, err
		}
	}

	// Computed display fields never reach the store; persistent upgrade
	// fields always do.
	persistable := stats.FilterComputed()
	persistable.PlayerID = stats.PlayerID
	if err := m.store.SaveChannelStats(ctx, &persistable); err != nil {
		return nil, fmt.Errorf("failed to save stats for %q: %w", username, err)
	}

	stats.ApplyLevelBonuses()
	return stats, nil
}
