package database

import (
	"database/sql"
	"fmt"
)

// Schema DDL. All network/channel keys are stored in normalized
// (case-folded) form; the store layer normalizes before every query.
const schemaChannelStatsColumns = `
	xp INTEGER NOT NULL DEFAULT 0,
	ducks_shot INTEGER NOT NULL DEFAULT 0,
	golden_ducks INTEGER NOT NULL DEFAULT 0,
	misses INTEGER NOT NULL DEFAULT 0,
	accidents INTEGER NOT NULL DEFAULT 0,
	wild_fires INTEGER NOT NULL DEFAULT 0,
	shots_fired INTEGER NOT NULL DEFAULT 0,
	befriended_ducks INTEGER NOT NULL DEFAULT 0,
	best_time REAL NOT NULL DEFAULT 0,
	total_reaction_time REAL NOT NULL DEFAULT 0,
	last_duck_time INTEGER NOT NULL DEFAULT 0,
	ammo INTEGER NOT NULL DEFAULT 6,
	magazines INTEGER NOT NULL DEFAULT 2,
	magazine_capacity INTEGER NOT NULL DEFAULT 6,
	magazines_max INTEGER NOT NULL DEFAULT 2,
	ap_shots INTEGER NOT NULL DEFAULT 0,
	explosive_shots INTEGER NOT NULL DEFAULT 0,
	bread_uses INTEGER NOT NULL DEFAULT 0,
	jammed INTEGER NOT NULL DEFAULT 0,
	confiscated INTEGER NOT NULL DEFAULT 0,
	sabotaged INTEGER NOT NULL DEFAULT 0,
	sight_next_shot INTEGER NOT NULL DEFAULT 0,
	mag_upgrade_level INTEGER NOT NULL DEFAULT 0,
	mag_capacity_level INTEGER NOT NULL DEFAULT 0,
	trigger_lock_until INTEGER NOT NULL DEFAULT 0,
	trigger_lock_uses INTEGER NOT NULL DEFAULT 0,
	grease_until INTEGER NOT NULL DEFAULT 0,
	silencer_until INTEGER NOT NULL DEFAULT 0,
	sunglasses_until INTEGER NOT NULL DEFAULT 0,
	ducks_detector_until INTEGER NOT NULL DEFAULT 0,
	mirror_until INTEGER NOT NULL DEFAULT 0,
	sand_until INTEGER NOT NULL DEFAULT 0,
	soaked_until INTEGER NOT NULL DEFAULT 0,
	life_insurance_until INTEGER NOT NULL DEFAULT 0,
	liability_insurance_until INTEGER NOT NULL DEFAULT 0,
	clover_until INTEGER NOT NULL DEFAULT 0,
	clover_bonus INTEGER NOT NULL DEFAULT 0,
	brush_until INTEGER NOT NULL DEFAULT 0,
	egged INTEGER NOT NULL DEFAULT 0,
	last_egg_time INTEGER NOT NULL DEFAULT 0`

var initialSchema = fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS players (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS channel_stats (
	player_id INTEGER NOT NULL REFERENCES players(id),
	network_name TEXT NOT NULL,
	channel_name TEXT NOT NULL,
	%s,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(player_id, network_name, channel_name)
);

CREATE TABLE IF NOT EXISTS active_ducks (
	network_name TEXT NOT NULL,
	channel_name TEXT NOT NULL,
	duck_id TEXT NOT NULL,
	golden INTEGER NOT NULL DEFAULT 0,
	health INTEGER NOT NULL DEFAULT 1,
	spawn_time INTEGER NOT NULL,
	hissed INTEGER NOT NULL DEFAULT 0,
	revealed INTEGER NOT NULL DEFAULT 0,
	UNIQUE(network_name, channel_name, duck_id)
);

CREATE TABLE IF NOT EXISTS channel_timing (
	network_name TEXT NOT NULL,
	channel_name TEXT NOT NULL,
	last_spawn INTEGER NOT NULL DEFAULT 0,
	next_spawn INTEGER NOT NULL DEFAULT 0,
	UNIQUE(network_name, channel_name)
);

CREATE TABLE IF NOT EXISTS channel_stats_backup (
	backup_id TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	player_id INTEGER NOT NULL,
	network_name TEXT NOT NULL,
	channel_name TEXT NOT NULL,
	%s
);

CREATE INDEX IF NOT EXISTS idx_channel_stats_channel
	ON channel_stats(network_name, channel_name);
CREATE INDEX IF NOT EXISTS idx_channel_stats_detector
	ON channel_stats(network_name, channel_name, ducks_detector_until);
CREATE INDEX IF NOT EXISTS idx_active_ducks_channel
	ON active_ducks(network_name, channel_name);
CREATE INDEX IF NOT EXISTS idx_backup_id
	ON channel_stats_backup(backup_id);
`, schemaChannelStatsColumns, schemaChannelStatsColumns)

// SchemaValidator verifies the deployed schema matches what the store
// layer expects, catching structural drift at startup instead of at the
// first failing query.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator.
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// ValidateTablesExist verifies that all required tables exist.
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"players":              "player identities",
		"channel_stats":        "per-channel player statistics",
		"active_ducks":         "transient duck state",
		"channel_timing":       "spawn scheduling state",
		"channel_stats_backup": "pre-clear snapshots",
		"schema_migrations":    "migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.tableExists(table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}
	return nil
}

// ValidateIndexes verifies the lookup indexes the scheduler depends on.
func (v *SchemaValidator) ValidateIndexes() error {
	required := []string{
		"idx_channel_stats_channel",
		"idx_channel_stats_detector",
		"idx_active_ducks_channel",
		"idx_backup_id",
	}
	for _, index := range required {
		exists, err := v.indexExists(index)
		if err != nil {
			return fmt.Errorf("error checking index %s: %w", index, err)
		}
		if !exists {
			return fmt.Errorf("required index %s does not exist", index)
		}
	}
	return nil
}

func (v *SchemaValidator) tableExists(name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) indexExists(name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
