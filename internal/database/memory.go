package database

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"duckhunt/pkg/interfaces"
	"duckhunt/pkg/types"
)

// MemoryStore is an in-memory implementation of interfaces.Store. It is
// the degraded mode the bot falls back to when the durable store is
// unavailable at startup: the hunt keeps running, stats simply do not
// survive a restart. Tests use it as a lightweight store double.
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   int64
	players  map[string]int64
	stats    map[string]*types.ChannelStats // key: playerID:network:channel
	ducks    map[string][]*types.Duck       // key: network:channel
	timings  map[string]*types.ChannelTiming
	backups  map[string][]*types.ChannelStats
	backupAt map[string]time.Time
	closed   bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:   1,
		players:  make(map[string]int64),
		stats:    make(map[string]*types.ChannelStats),
		ducks:    make(map[string][]*types.Duck),
		timings:  make(map[string]*types.ChannelTiming),
		backups:  make(map[string][]*types.ChannelStats),
		backupAt: make(map[string]time.Time),
	}
}

func statsKey(playerID int64, network, channel string) string {
	return types.ChannelKey(network, channel) + ":" + strconv.FormatInt(playerID, 10)
}

func (m *MemoryStore) GetOrCreatePlayer(ctx context.Context, username string) (int64, error) {
	if !types.IsValidUsername(username) {
		return 0, types.ErrInvalidUsername
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, interfaces.ErrStoreClosed
	}
	if id, ok := m.players[username]; ok {
		return id, nil
	}
	id := m.nextID
	m.nextID++
	m.players[username] = id
	return id, nil
}

func (m *MemoryStore) LoadChannelStats(ctx context.Context, username, network, channel string) (*types.ChannelStats, error) {
	playerID, err := m.GetOrCreatePlayer(ctx, username)
	if err != nil {
		return nil, err
	}
	channel = types.NormalizeChannel(channel)

	m.mu.Lock()
	defer m.mu.Unlock()
	key := statsKey(playerID, network, channel)
	stored, ok := m.stats[key]
	if !ok {
		stored = &types.ChannelStats{
			PlayerID:         playerID,
			Username:         username,
			NetworkName:      network,
			ChannelName:      channel,
			Ammo:             6,
			Magazines:        2,
			MagazineCapacity: 6,
			MagazinesMax:     2,
		}
		m.stats[key] = stored
	}

	// Hand back a copy so the caller cannot mutate stored state outside
	// the sync layer's write path.
	cp := *stored
	cp.Username = username
	cp.ApplyLevelBonuses()
	return &cp, nil
}

func (m *MemoryStore) SaveChannelStats(ctx context.Context, stats *types.ChannelStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return interfaces.ErrStoreClosed
	}
	cp := *stats
	cp.ChannelName = types.NormalizeChannel(cp.ChannelName)
	m.stats[statsKey(cp.PlayerID, cp.NetworkName, cp.ChannelName)] = &cp
	return nil
}

func (m *MemoryStore) DetectorSubscribers(ctx context.Context, network, channel string, now time.Time) ([]string, error) {
	channel = types.NormalizeChannel(channel)
	m.mu.RLock()
	defer m.mu.RUnlock()

	var usernames []string
	for _, stats := range m.stats {
		if stats.NetworkName == network && stats.ChannelName == channel &&
			stats.DucksDetectorUntil > now.Unix() {
			usernames = append(usernames, stats.Username)
		}
	}
	sort.Strings(usernames)
	return usernames, nil
}

func (m *MemoryStore) SaveDuck(ctx context.Context, network, channel string, duck *types.Duck) error {
	if err := duck.Validate(); err != nil {
		return err
	}
	key := types.ChannelKey(network, channel)
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *duck
	for i, existing := range m.ducks[key] {
		if existing.ID == duck.ID {
			m.ducks[key][i] = &cp
			return nil
		}
	}
	m.ducks[key] = append(m.ducks[key], &cp)
	return nil
}

func (m *MemoryStore) DeleteDuck(ctx context.Context, network, channel, duckID string) error {
	key := types.ChannelKey(network, channel)
	m.mu.Lock()
	defer m.mu.Unlock()
	ducks := m.ducks[key]
	for i, duck := range ducks {
		if duck.ID == duckID {
			m.ducks[key] = append(ducks[:i], ducks[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *MemoryStore) LoadDucks(ctx context.Context, network, channel string) ([]*types.Duck, error) {
	key := types.ChannelKey(network, channel)
	m.mu.RLock()
	defer m.mu.RUnlock()
	ducks := make([]*types.Duck, 0, len(m.ducks[key]))
	for _, duck := range m.ducks[key] {
		cp := *duck
		ducks = append(ducks, &cp)
	}
	sort.Slice(ducks, func(i, j int) bool {
		return ducks[i].SpawnTime.Before(ducks[j].SpawnTime)
	})
	return ducks, nil
}

func (m *MemoryStore) SaveChannelTiming(ctx context.Context, timing *types.ChannelTiming) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *timing
	cp.ChannelName = types.NormalizeChannel(cp.ChannelName)
	m.timings[types.ChannelKey(cp.NetworkName, cp.ChannelName)] = &cp
	return nil
}

func (m *MemoryStore) LoadChannelTimings(ctx context.Context) ([]*types.ChannelTiming, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	timings := make([]*types.ChannelTiming, 0, len(m.timings))
	for _, timing := range m.timings {
		cp := *timing
		timings = append(timings, &cp)
	}
	return timings, nil
}

func (m *MemoryStore) BackupChannelStats(ctx context.Context, network, channel string) (*types.StatsBackup, error) {
	channel = types.NormalizeChannel(channel)
	m.mu.Lock()
	defer m.mu.Unlock()

	backupID := uuid.New().String()
	var rows []*types.ChannelStats
	for _, stats := range m.stats {
		if stats.NetworkName == network && stats.ChannelName == channel {
			cp := *stats
			rows = append(rows, &cp)
		}
	}
	m.backups[backupID] = rows
	m.backupAt[backupID] = time.Now()
	return &types.StatsBackup{
		ID:          backupID,
		NetworkName: network,
		ChannelName: channel,
		CreatedAt:   m.backupAt[backupID],
		RowCount:    len(rows),
	}, nil
}

func (m *MemoryStore) RestoreBackup(ctx context.Context, backupID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.backups[backupID]
	if !ok {
		return interfaces.ErrBackupNotFound
	}
	if len(rows) == 0 {
		return nil
	}
	network, channel := rows[0].NetworkName, rows[0].ChannelName
	for key, stats := range m.stats {
		if stats.NetworkName == network && stats.ChannelName == channel {
			delete(m.stats, key)
		}
	}
	for _, stats := range rows {
		cp := *stats
		m.stats[statsKey(cp.PlayerID, network, channel)] = &cp
	}
	return nil
}

func (m *MemoryStore) ListBackups(ctx context.Context, network, channel string) ([]*types.StatsBackup, error) {
	channel = types.NormalizeChannel(channel)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var backups []*types.StatsBackup
	for id, rows := range m.backups {
		if len(rows) == 0 {
			continue
		}
		if network != "" && rows[0].NetworkName != network {
			continue
		}
		if channel != "" && rows[0].ChannelName != channel {
			continue
		}
		backups = append(backups, &types.StatsBackup{
			ID:          id,
			NetworkName: rows[0].NetworkName,
			ChannelName: rows[0].ChannelName,
			CreatedAt:   m.backupAt[id],
			RowCount:    len(rows),
		})
	}
	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

func (m *MemoryStore) ClearChannelStats(ctx context.Context, network, channel string, backup bool) error {
	if backup {
		if _, err := m.BackupChannelStats(ctx, network, channel); err != nil {
			return err
		}
	}
	channel = types.NormalizeChannel(channel)
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, stats := range m.stats {
		if stats.NetworkName == network && stats.ChannelName == channel {
			delete(m.stats, key)
		}
	}
	return nil
}

func (m *MemoryStore) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return interfaces.ErrStoreClosed
	}
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
