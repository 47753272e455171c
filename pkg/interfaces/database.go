package interfaces

import (
	"context"
	"time"

	"duckhunt/pkg/types"
)

// Store handles all durable persistence. It is the only component that
// touches SQL; everything above it works with domain types. Stat rows are
// reached exclusively through the stats synchronization layer, never by
// callers holding this interface directly.
type Store interface {
	// GetOrCreatePlayer returns the player ID for a username, creating
	// the row on first contact.
	GetOrCreatePlayer(ctx context.Context, username string) (int64, error)

	// LoadChannelStats loads the authoritative record for one player in
	// one (network, channel), creating a default row if none exists.
	// Channel names are normalized before lookup.
	LoadChannelStats(ctx context.Context, username, network, channel string) (*types.ChannelStats, error)

	// SaveChannelStats writes the full record back. Computed display
	// fields are expected to be filtered by the caller.
	SaveChannelStats(ctx context.Context, stats *types.ChannelStats) error

	// DetectorSubscribers returns the usernames whose duck detector has
	// not expired for the given channel. Subscription lookup always hits
	// the store; an in-memory roster would drift on membership-sync gaps.
	DetectorSubscribers(ctx context.Context, network, channel string, now time.Time) ([]string, error)

	// Active duck persistence, mirroring the in-memory channel state so
	// a restart can rebuild it.
	SaveDuck(ctx context.Context, network, channel string, duck *types.Duck) error
	DeleteDuck(ctx context.Context, network, channel, duckID string) error
	LoadDucks(ctx context.Context, network, channel string) ([]*types.Duck, error)

	// Spawn timing persistence.
	SaveChannelTiming(ctx context.Context, timing *types.ChannelTiming) error
	LoadChannelTimings(ctx context.Context) ([]*types.ChannelTiming, error)

	// Pre-clear snapshots of channel stats.
	BackupChannelStats(ctx context.Context, network, channel string) (*types.StatsBackup, error)
	RestoreBackup(ctx context.Context, backupID string) error
	ListBackups(ctx context.Context, network, channel string) ([]*types.StatsBackup, error)

	// ClearChannelStats wipes a channel's stat rows, taking a backup
	// first unless told otherwise.
	ClearChannelStats(ctx context.Context, network, channel string, backup bool) error

	HealthCheck(ctx context.Context) error
	Close() error
}
