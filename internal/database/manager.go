package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	dbconfig "duckhunt/pkg/database"
	"duckhunt/pkg/interfaces"
	"duckhunt/pkg/types"
)

// Manager implements interfaces.Store on SQLite. Reads go straight to the
// connection pool; all writes funnel through a single goroutine, which is
// what keeps SQLite happy under concurrent sessions plus the scheduler.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies pragmas and migrations, and
// starts the write loop.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if config == nil {
		config = dbconfig.DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplyOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	if err := dbconfig.NewMigrationManager(db).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations on a single goroutine. A
// failed write is retried once after a short delay before the error is
// handed back.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				log.Printf("database write failed, retrying in 5 seconds: %v", err)
				time.Sleep(5 * time.Second)
				err = op.operation(m.db)
				if err != nil {
					log.Printf("database write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			return
		}
	}
}

func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return interfaces.ErrStoreClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		select {
		case err := <-result:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return interfaces.ErrStoreClosed
	}
}

// statColumnNames lists every persistent channel_stats column in scan
// order. Keep in sync with scanStats and statArgs.
var statColumnNames = []string{
	"xp", "ducks_shot", "golden_ducks", "misses", "accidents", "wild_fires",
	"shots_fired", "befriended_ducks", "best_time", "total_reaction_time", "last_duck_time",
	"ammo", "magazines", "magazine_capacity", "magazines_max", "ap_shots", "explosive_shots",
	"bread_uses", "jammed", "confiscated", "sabotaged", "sight_next_shot",
	"mag_upgrade_level", "mag_capacity_level", "trigger_lock_until", "trigger_lock_uses",
	"grease_until", "silencer_until", "sunglasses_until", "ducks_detector_until",
	"mirror_until", "sand_until", "soaked_until", "life_insurance_until",
	"liability_insurance_until", "clover_until", "clover_bonus", "brush_until",
	"egged", "last_egg_time",
}

var statColumns = strings.Join(statColumnNames, ", ")

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStats(row rowScanner, s *types.ChannelStats) error {
	return row.Scan(
		&s.XP, &s.DucksShot, &s.GoldenDucks, &s.Misses, &s.Accidents, &s.WildFires,
		&s.ShotsFired, &s.BefriendedDucks, &s.BestTime, &s.TotalReactionTime, &s.LastDuckTime,
		&s.Ammo, &s.Magazines, &s.MagazineCapacity, &s.MagazinesMax, &s.APShots, &s.ExplosiveShots,
		&s.BreadUses, &s.Jammed, &s.Confiscated, &s.Sabotaged, &s.SightNextShot,
		&s.MagUpgradeLevel, &s.MagCapacityLevel, &s.TriggerLockUntil, &s.TriggerLockUses,
		&s.GreaseUntil, &s.SilencerUntil, &s.SunglassesUntil, &s.DucksDetectorUntil,
		&s.MirrorUntil, &s.SandUntil, &s.SoakedUntil, &s.LifeInsuranceUntil,
		&s.LiabilityInsuranceUntil, &s.CloverUntil, &s.CloverBonus, &s.BrushUntil,
		&s.Egged, &s.LastEggTime,
	)
}

func statArgs(s *types.ChannelStats) []interface{} {
	return []interface{}{
		s.XP, s.DucksShot, s.GoldenDucks, s.Misses, s.Accidents, s.WildFires,
		s.ShotsFired, s.BefriendedDucks, s.BestTime, s.TotalReactionTime, s.LastDuckTime,
		s.Ammo, s.Magazines, s.MagazineCapacity, s.MagazinesMax, s.APShots, s.ExplosiveShots,
		s.BreadUses, s.Jammed, s.Confiscated, s.Sabotaged, s.SightNextShot,
		s.MagUpgradeLevel, s.MagCapacityLevel, s.TriggerLockUntil, s.TriggerLockUses,
		s.GreaseUntil, s.SilencerUntil, s.SunglassesUntil, s.DucksDetectorUntil,
		s.MirrorUntil, s.SandUntil, s.SoakedUntil, s.LifeInsuranceUntil,
		s.LiabilityInsuranceUntil, s.CloverUntil, s.CloverBonus, s.BrushUntil,
		s.Egged, s.LastEggTime,
	}
}

// GetOrCreatePlayer returns the player ID for a username, creating the
// row on first contact.
func (m *Manager) GetOrCreatePlayer(ctx context.Context, username string) (int64, error) {
	if !types.IsValidUsername(username) {
		return 0, types.ErrInvalidUsername
	}

	var id int64
	err := m.db.QueryRowContext(ctx,
		"SELECT id FROM players WHERE username = ?", username).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to look up player %q: %w", username, err)
	}

	err = m.executeWrite(ctx, func(db *sql.DB) error {
		// INSERT OR IGNORE keeps this race-free against a concurrent
		// first action from the same player on another channel.
		_, err := db.Exec("INSERT OR IGNORE INTO players (username) VALUES (?)", username)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create player %q: %w", username, err)
	}

	err = m.db.QueryRowContext(ctx,
		"SELECT id FROM players WHERE username = ?", username).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to re-read player %q: %w", username, err)
	}
	return id, nil
}

// LoadChannelStats loads the authoritative record for one player in one
// (network, channel), creating a default row if none exists. Computed
// display fields are recomputed on every load.
func (m *Manager) LoadChannelStats(ctx context.Context, username, network, channel string) (*types.ChannelStats, error) {
	playerID, err := m.GetOrCreatePlayer(ctx, username)
	if err != nil {
		return nil, err
	}
	channel = types.NormalizeChannel(channel)

	stats := &types.ChannelStats{
		PlayerID:    playerID,
		Username:    username,
		NetworkName: network,
		ChannelName: channel,
	}

	query := fmt.Sprintf(
		"SELECT %s FROM channel_stats WHERE player_id = ? AND network_name = ? AND channel_name = ?",
		statColumns)
	err = scanStats(m.db.QueryRowContext(ctx, query, playerID, network, channel), stats)
	if err == sql.ErrNoRows {
		err = m.executeWrite(ctx, func(db *sql.DB) error {
			_, err := db.Exec(
				`INSERT OR IGNORE INTO channel_stats (player_id, network_name, channel_name)
				 VALUES (?, ?, ?)`, playerID, network, channel)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create channel stats: %w", err)
		}
		err = scanStats(m.db.QueryRowContext(ctx, query, playerID, network, channel), stats)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load channel stats for %q in %s:%s: %w",
			username, network, channel, err)
	}

	stats.ApplyLevelBonuses()
	return stats, nil
}

// SaveChannelStats writes the full record back.
func (m *Manager) SaveChannelStats(ctx context.Context, stats *types.ChannelStats) error {
	channel := types.NormalizeChannel(stats.ChannelName)
	setClauses := make([]string, len(statColumnNames))
	for i, col := range statColumnNames {
		setClauses[i] = col + " = ?"
	}
	setList := strings.Join(setClauses, ", ")
	query := fmt.Sprintf(
		`UPDATE channel_stats SET %s, updated_at = CURRENT_TIMESTAMP
		 WHERE player_id = ? AND network_name = ? AND channel_name = ?`, setList)

	args := append(statArgs(stats), stats.PlayerID, stats.NetworkName, channel)
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.Exec(query, args...)
		return err
	})
}

// DetectorSubscribers returns usernames with an unexpired duck detector
// for the channel.
func (m *Manager) DetectorSubscribers(ctx context.Context, network, channel string, now time.Time) ([]string, error) {
	channel = types.NormalizeChannel(channel)
	rows, err := m.db.QueryContext(ctx,
		`SELECT p.username FROM players p
		 JOIN channel_stats cs ON p.id = cs.player_id
		 WHERE cs.network_name = ? AND cs.channel_name = ? AND cs.ducks_detector_until > ?`,
		network, channel, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query detector subscribers: %w", err)
	}
	defer rows.Close()

	var usernames []string
	for rows.Next() {
		var username string
		if err := rows.Scan(&username); err != nil {
			return nil, err
		}
		usernames = append(usernames, username)
	}
	return usernames, rows.Err()
}

// SaveDuck persists one active duck.
func (m *Manager) SaveDuck(ctx context.Context, network, channel string, duck *types.Duck) error {
	if err := duck.Validate(); err != nil {
		return err
	}
	channel = types.NormalizeChannel(channel)
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.Exec(
			`INSERT OR REPLACE INTO active_ducks
			 (network_name, channel_name, duck_id, golden, health, spawn_time, hissed, revealed)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			network, channel, duck.ID, duck.Golden, duck.Health,
			duck.SpawnTime.Unix(), duck.Hissed, duck.Revealed)
		return err
	})
}

// DeleteDuck removes one active duck row.
func (m *Manager) DeleteDuck(ctx context.Context, network, channel, duckID string) error {
	channel = types.NormalizeChannel(channel)
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.Exec(
			"DELETE FROM active_ducks WHERE network_name = ? AND channel_name = ? AND duck_id = ?",
			network, channel, duckID)
		return err
	})
}

// LoadDucks returns the persisted ducks for a channel ordered by spawn
// time, oldest first, matching the FIFO resolution order.
func (m *Manager) LoadDucks(ctx context.Context, network, channel string) ([]*types.Duck, error) {
	channel = types.NormalizeChannel(channel)
	rows, err := m.db.QueryContext(ctx,
		`SELECT duck_id, golden, health, spawn_time, hissed, revealed
		 FROM active_ducks WHERE network_name = ? AND channel_name = ?
		 ORDER BY spawn_time ASC`, network, channel)
	if err != nil {
		return nil, fmt.Errorf("failed to load ducks: %w", err)
	}
	defer rows.Close()

	var ducks []*types.Duck
	for rows.Next() {
		duck := &types.Duck{}
		var spawnUnix int64
		if err := rows.Scan(&duck.ID, &duck.Golden, &duck.Health, &spawnUnix,
			&duck.Hissed, &duck.Revealed); err != nil {
			return nil, err
		}
		duck.SpawnTime = time.Unix(spawnUnix, 0)
		ducks = append(ducks, duck)
	}
	return ducks, rows.Err()
}

// SaveChannelTiming upserts the spawn bookkeeping row.
func (m *Manager) SaveChannelTiming(ctx context.Context, timing *types.ChannelTiming) error {
	channel := types.NormalizeChannel(timing.ChannelName)
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.Exec(
			`INSERT OR REPLACE INTO channel_timing (network_name, channel_name, last_spawn, next_spawn)
			 VALUES (?, ?, ?, ?)`,
			timing.NetworkName, channel, timing.LastSpawn.Unix(), timing.NextSpawn.Unix())
		return err
	})
}

// LoadChannelTimings returns every persisted timing row, used at boot to
// rebuild spawn windows instead of resetting them.
func (m *Manager) LoadChannelTimings(ctx context.Context) ([]*types.ChannelTiming, error) {
	rows, err := m.db.QueryContext(ctx,
		"SELECT network_name, channel_name, last_spawn, next_spawn FROM channel_timing")
	if err != nil {
		return nil, fmt.Errorf("failed to load channel timings: %w", err)
	}
	defer rows.Close()

	var timings []*types.ChannelTiming
	for rows.Next() {
		timing := &types.ChannelTiming{}
		var last, next int64
		if err := rows.Scan(&timing.NetworkName, &timing.ChannelName, &last, &next); err != nil {
			return nil, err
		}
		timing.LastSpawn = time.Unix(last, 0)
		timing.NextSpawn = time.Unix(next, 0)
		timings = append(timings, timing)
	}
	return timings, rows.Err()
}

// BackupChannelStats snapshots every stat row of a channel into the
// backup table under a fresh backup ID.
func (m *Manager) BackupChannelStats(ctx context.Context, network, channel string) (*types.StatsBackup, error) {
	channel = types.NormalizeChannel(channel)
	backupID := uuid.New().String()

	err := m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.Exec(fmt.Sprintf(
			`INSERT INTO channel_stats_backup (backup_id, player_id, network_name, channel_name, %s)
			 SELECT ?, player_id, network_name, channel_name, %s FROM channel_stats
			 WHERE network_name = ? AND channel_name = ?`, statColumns, statColumns),
			backupID, network, channel)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to back up channel stats: %w", err)
	}

	backup := &types.StatsBackup{
		ID:          backupID,
		NetworkName: network,
		ChannelName: channel,
		CreatedAt:   time.Now(),
	}
	err = m.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM channel_stats_backup WHERE backup_id = ?", backupID,
	).Scan(&backup.RowCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count backup rows: %w", err)
	}
	return backup, nil
}

// RestoreBackup replaces current stat rows with the snapshot's rows for
// the channel the snapshot covers.
func (m *Manager) RestoreBackup(ctx context.Context, backupID string) error {
	var network, channel string
	err := m.db.QueryRowContext(ctx,
		"SELECT network_name, channel_name FROM channel_stats_backup WHERE backup_id = ? LIMIT 1",
		backupID).Scan(&network, &channel)
	if err == sql.ErrNoRows {
		return interfaces.ErrBackupNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to look up backup %s: %w", backupID, err)
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.Exec(
			"DELETE FROM channel_stats WHERE network_name = ? AND channel_name = ?",
			network, channel); err != nil {
			return err
		}
		if _, err := tx.Exec(fmt.Sprintf(
			`INSERT INTO channel_stats (player_id, network_name, channel_name, %s)
			 SELECT player_id, network_name, channel_name, %s FROM channel_stats_backup
			 WHERE backup_id = ?`, statColumns, statColumns), backupID); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// ListBackups returns backup metadata, optionally filtered by channel.
// Empty network/channel match everything.
func (m *Manager) ListBackups(ctx context.Context, network, channel string) ([]*types.StatsBackup, error) {
	channel = types.NormalizeChannel(channel)
	rows, err := m.db.QueryContext(ctx,
		`SELECT backup_id, network_name, channel_name, MIN(created_at), COUNT(*)
		 FROM channel_stats_backup
		 WHERE (? = '' OR network_name = ?) AND (? = '' OR channel_name = ?)
		 GROUP BY backup_id, network_name, channel_name
		 ORDER BY MIN(created_at) DESC`,
		network, network, channel, channel)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	defer rows.Close()

	var backups []*types.StatsBackup
	for rows.Next() {
		backup := &types.StatsBackup{}
		// MIN() strips sqlite's column affinity, so created_at comes
		// back as text here.
		var createdAt string
		if err := rows.Scan(&backup.ID, &backup.NetworkName, &backup.ChannelName,
			&createdAt, &backup.RowCount); err != nil {
			return nil, err
		}
		if ts, err := time.Parse("2006-01-02 15:04:05", createdAt); err == nil {
			backup.CreatedAt = ts
		}
		backups = append(backups, backup)
	}
	return backups, rows.Err()
}

// ClearChannelStats wipes a channel's stat rows, taking a backup first
// unless told otherwise.
func (m *Manager) ClearChannelStats(ctx context.Context, network, channel string, backup bool) error {
	channel = types.NormalizeChannel(channel)
	if backup {
		if _, err := m.BackupChannelStats(ctx, network, channel); err != nil {
			return err
		}
	}
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.Exec(
			"DELETE FROM channel_stats WHERE network_name = ? AND channel_name = ?",
			network, channel)
		return err
	})
}

// HealthCheck verifies the store responds.
func (m *Manager) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return interfaces.ErrStoreClosed
	}
	m.mu.RUnlock()
	return m.db.PingContext(ctx)
}

// Close stops the write loop and closes the pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()
	return m.db.Close()
}

