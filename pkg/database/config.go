package database

import (
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Config holds database configuration.
type Config struct {
	DatabasePath    string        `json:"database_path" env:"DUCKHUNT_DB_PATH"`
	MaxConnections  int           `json:"max_connections" env:"DUCKHUNT_DB_MAX_CONNS"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`

	// StartupTimeout bounds how long boot waits for the store before the
	// bot degrades to empty in-memory state instead of hanging.
	StartupTimeout time.Duration `json:"startup_timeout"`
}

// DefaultConfig returns production-ready database configuration. A hunt
// across a handful of networks stays well inside SQLite's comfort zone.
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:    "./data/duckhunt.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		StartupTimeout:  15 * time.Second,
	}
}

// Validate ensures the configuration is usable before any connection is
// opened.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return errors.New("database path cannot be empty")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be greater than 0")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be greater than 0")
	}
	if c.StartupTimeout <= 0 {
		return errors.New("startup timeout must be greater than 0")
	}
	return nil
}

// SQLite pragmas: WAL enables concurrent reads while the manager keeps
// writes on a single goroutine.
const sqliteOptimizations = `
	PRAGMA journal_mode = WAL;
	PRAGMA synchronous = NORMAL;
	PRAGMA cache_size = -64000;
	PRAGMA temp_store = MEMORY;
	PRAGMA foreign_keys = ON;
	PRAGMA busy_timeout = 5000;
`

// ApplyOptimizations applies the pragmas to an open connection pool.
func ApplyOptimizations(db *sql.DB) error {
	_, err := db.Exec(sqliteOptimizations)
	return err
}
