package interfaces

import (
	"context"

	"duckhunt/pkg/types"
)

// StatsMutator mutates a freshly loaded record in place. Returning an
// error aborts the write-back and surfaces to the caller.
type StatsMutator func(stats *types.ChannelStats) error

// StatsSync is the load-mutate-store contract for player channel stats.
//
// WithChannelStats loads the current authoritative record, applies the
// mutator to it, writes the full mutated record back, and returns the
// result. No caller may retain the record beyond one call: the value only
// exists inside the mutator's scope, which is what makes cross-action
// staleness impossible. Concurrent calls for the same (player, network,
// channel) key serialize; calls for different keys proceed independently.
type StatsSync interface {
	WithChannelStats(ctx context.Context, username, network, channel string, fn StatsMutator) (*types.ChannelStats, error)
}
