package types

import (
	"strings"
	"time"
)

// Duck health values. Golden ducks take five hits, regular ducks one.
const (
	RegularDuckHealth = 1
	GoldenDuckHealth  = 5
)

// MaxLevel caps level progression regardless of accumulated XP.
const MaxLevel = 50

// Duck represents one transient spawn inside a channel. A duck is owned
// exclusively by its channel and removed either by resolution (kill or
// befriend) or by the scheduler on despawn timeout.
type Duck struct {
	ID        string    `json:"id"`
	Golden    bool      `json:"golden"`
	Health    int       `json:"health"`
	SpawnTime time.Time `json:"spawn_time"`
	Hissed    bool      `json:"hissed"`
	Revealed  bool      `json:"revealed"`
}

// Age returns how long the duck has been alive at the given instant.
func (d *Duck) Age(now time.Time) time.Duration {
	return now.Sub(d.SpawnTime)
}

// ChannelStats is the authoritative per-player per-channel record.
// The in-process value is never cached across two actions: every action
// loads it fresh through the stats layer, mutates it within that single
// action, and writes it back before any response is sent.
//
// Timed effects are stored as Unix-epoch expiries; an effect is active
// while its expiry is in the future.
type ChannelStats struct {
	PlayerID    int64  `json:"-"`
	Username    string `json:"username"`
	NetworkName string `json:"network_name"`
	ChannelName string `json:"channel_name"`

	XP                int     `json:"xp"`
	DucksShot         int     `json:"ducks_shot"`
	GoldenDucks       int     `json:"golden_ducks"`
	Misses            int     `json:"misses"`
	Accidents         int     `json:"accidents"`
	WildFires         int     `json:"wild_fires"`
	ShotsFired        int     `json:"shots_fired"`
	BefriendedDucks   int     `json:"befriended_ducks"`
	BestTime          float64 `json:"best_time"`
	TotalReactionTime float64 `json:"total_reaction_time"`
	LastDuckTime      int64   `json:"last_duck_time"`

	// Weapon state.
	Ammo             int  `json:"ammo"`
	Magazines        int  `json:"magazines"`
	MagazineCapacity int  `json:"magazine_capacity"`
	MagazinesMax     int  `json:"magazines_max"`
	APShots          int  `json:"ap_shots"`
	ExplosiveShots   int  `json:"explosive_shots"`
	BreadUses        int  `json:"bread_uses"`
	Jammed           bool `json:"jammed"`
	Confiscated      bool `json:"confiscated"`
	Sabotaged        bool `json:"sabotaged"`
	SightNextShot    bool `json:"sight_next_shot"`

	// Persistent upgrade levels purchased in the shop. These are never
	// filtered out on store: losing them silently downgrades the player.
	MagUpgradeLevel  int `json:"mag_upgrade_level"`
	MagCapacityLevel int `json:"mag_capacity_level"`

	// Timed effects, Unix-epoch expiries.
	TriggerLockUntil        int64 `json:"trigger_lock_until"`
	TriggerLockUses         int   `json:"trigger_lock_uses"`
	GreaseUntil             int64 `json:"grease_until"`
	SilencerUntil           int64 `json:"silencer_until"`
	SunglassesUntil         int64 `json:"sunglasses_until"`
	DucksDetectorUntil      int64 `json:"ducks_detector_until"`
	MirrorUntil             int64 `json:"mirror_until"`
	SandUntil               int64 `json:"sand_until"`
	SoakedUntil             int64 `json:"soaked_until"`
	LifeInsuranceUntil      int64 `json:"life_insurance_until"`
	LiabilityInsuranceUntil int64 `json:"liability_insurance_until"`
	CloverUntil             int64 `json:"clover_until"`
	CloverBonus             int   `json:"clover_bonus"`
	BrushUntil              int64 `json:"brush_until"`

	Egged       int   `json:"egged"`
	LastEggTime int64 `json:"last_egg_time"`

	// Computed display fields, recomputed on every load and never
	// persisted. See FilterComputed.
	Level           int     `json:"level"`
	MissPenalty     int     `json:"miss_penalty"`
	WildPenalty     int     `json:"wild_penalty"`
	AccidentPenalty int     `json:"accident_penalty"`
	ReliabilityPct  float64 `json:"reliability_pct"`
}

// DetectorActive reports whether the duck detector effect has not expired.
func (s *ChannelStats) DetectorActive(now time.Time) bool {
	return s.DucksDetectorUntil > now.Unix()
}

// EffectActive reports whether an epoch expiry is still in the future.
func EffectActive(until int64, now time.Time) bool {
	return until > now.Unix()
}

// LevelForXP maps accumulated XP to a level, capped at MaxLevel.
func LevelForXP(xp int) int {
	if xp < 0 {
		xp = 0
	}
	level := xp/100 + 1
	if level > MaxLevel {
		level = MaxLevel
	}
	return level
}

// ApplyLevelBonuses recomputes the derived display fields from the
// persistent counters. Penalties scale gently with level so high-level
// players risk more per mistake.
func (s *ChannelStats) ApplyLevelBonuses() {
	s.Level = LevelForXP(s.XP)
	s.MissPenalty = 1 + s.Level/10
	s.WildPenalty = 2 + s.Level/10
	s.AccidentPenalty = 2 + s.Level/5
	if s.ShotsFired > 0 {
		hits := s.ShotsFired - s.Misses - s.WildFires - s.Accidents
		if hits < 0 {
			hits = 0
		}
		s.ReliabilityPct = 100 * float64(hits) / float64(s.ShotsFired)
	} else {
		s.ReliabilityPct = 100
	}
}

// FilterComputed returns a copy with the computed display fields zeroed
// so they are never written back to the store. Persistent upgrade fields
// (capacity, magazines, upgrade levels) pass through untouched; dropping
// those on store is a data-loss bug.
func (s ChannelStats) FilterComputed() ChannelStats {
	s.Level = 0
	s.MissPenalty = 0
	s.WildPenalty = 0
	s.AccidentPenalty = 0
	s.ReliabilityPct = 0
	return s
}

// StatsBackup describes one pre-clear snapshot of a channel's stats.
type StatsBackup struct {
	ID          string    `json:"id"`
	NetworkName string    `json:"network_name"`
	ChannelName string    `json:"channel_name"`
	CreatedAt   time.Time `json:"created_at"`
	RowCount    int       `json:"row_count"`
}

// ChannelTiming mirrors the channel_timing row: the spawn bookkeeping the
// scheduler persists so a restart does not reset spawn windows.
type ChannelTiming struct {
	NetworkName string
	ChannelName string
	LastSpawn   time.Time
	NextSpawn   time.Time
}

// NormalizeChannel folds a channel name to its canonical store key.
// IRC channel names are case-insensitive; two names differing only by
// case must resolve to one channel. Normalization is idempotent.
func NormalizeChannel(channel string) string {
	return strings.ToLower(strings.TrimSpace(channel))
}

// NormalizeNick folds a nickname for lookup purposes.
func NormalizeNick(nick string) string {
	return strings.ToLower(strings.TrimSpace(nick))
}

// ChannelKey builds the process-wide key for a (network, channel) pair.
func ChannelKey(network, channel string) string {
	return network + ":" + NormalizeChannel(channel)
}
