package game

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"strings"
	"time"

	"duckhunt/internal/i18n"
	"duckhunt/internal/state"
	"duckhunt/pkg/interfaces"
	"duckhunt/pkg/types"
)

// XP awards and shop prices.
const (
	killXP       = 10
	goldenKillXP = 50
	befriendXP   = 5

	detectorPrice    = 50
	detectorDuration = 24 * time.Hour
	duckCallPrice    = 20

	// baseMissChance applies to an unaided shot; the one-shot sight
	// eliminates it.
	baseMissChance = 0.25

	storeOpTimeout = 5 * time.Second
)

// Lifecycle is the slice of the scheduler the handler needs: probe
// reschedules and duck-call bursts.
type Lifecycle interface {
	Reschedule(network, channel string, now time.Time, allowImmediate bool) time.Time
	ScheduleBurst(network, channel string, now time.Time) int
}

// Authorizer gates the stats maintenance commands. Owners may clear and
// restore; admins may snapshot and list.
type Authorizer interface {
	IsOwner(network, nick string) bool
	IsAdmin(network, nick string) bool
}

// Handler turns channel chat into game actions. Every stat mutation
// goes through the sync layer inside a single action; duck resolution
// always targets the oldest unresolved duck.
type Handler struct {
	states    *state.Store
	stats     interfaces.StatsSync
	store     interfaces.Store
	lifecycle Lifecycle
	sender    interfaces.Sender
	loc       interfaces.Localizer
	auth      Authorizer

	randFloat func() float64
	now       func() time.Time
}

// NewHandler creates the game handler. The store carries duck-row
// deletion and the backup surface; stat access goes through the sync
// layer.
func NewHandler(states *state.Store, stats interfaces.StatsSync, store interfaces.Store, lifecycle Lifecycle, sender interfaces.Sender, loc interfaces.Localizer, auth Authorizer) *Handler {
	return &Handler{
		states:    states,
		stats:     stats,
		store:     store,
		lifecycle: lifecycle,
		sender:    sender,
		loc:       loc,
		auth:      auth,
		randFloat: rand.Float64,
		now:       time.Now,
	}
}

// HandleChannelMessage dispatches a channel line to its command.
func (h *Handler) HandleChannelMessage(network, user, channel, text string) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "!") {
		return
	}
	command := strings.ToLower(fields[0])
	args := fields[1:]

	switch command {
	case "!bang":
		h.bang(network, user, channel)
	case "!bef", "!befriend":
		h.befriend(network, user, channel)
	case "!reload":
		h.reload(network, user, channel)
	case "!shop":
		h.shop(network, user, channel, args)
	case "!lastduck":
		h.lastDuck(network, user, channel)
	case "!nextduck":
		h.nextDuck(network, user, channel)
	case "!backup":
		h.backup(network, user, channel)
	case "!backups":
		h.listBackups(network, user, channel)
	case "!restore":
		h.restore(network, user, channel, args)
	case "!clearstats":
		h.clearStats(network, user, channel)
	}
}

// HandlePrivateMessage is a no-op: the game lives in channels.
func (h *Handler) HandlePrivateMessage(network, user, text string) {}

func (h *Handler) bang(network, user, channel string) {
	now := h.now()
	duck, hasDuck := h.states.OldestDuck(network, channel)

	var reply func(lang string) string
	var killed, wounded bool

	_, err := h.withStats(user, network, channel, func(s *types.ChannelStats) error {
		switch {
		case s.Confiscated:
			reply = h.line(i18n.KeyBangConfiscated, user)
			return nil
		case types.EffectActive(s.TriggerLockUntil, now):
			reply = h.line(i18n.KeyBangLocked, user)
			return nil
		case s.Jammed:
			reply = h.line(i18n.KeyBangJammed, user)
			return nil
		case s.Ammo <= 0:
			reply = h.line(i18n.KeyBangEmpty, user, 0, s.MagazineCapacity)
			return nil
		}

		s.ShotsFired++
		s.Ammo--

		if !hasDuck {
			s.WildFires++
			s.XP -= s.WildPenalty
			reply = h.line(i18n.KeyBangNoDuck, user, s.WildPenalty)
			return nil
		}

		hit := s.SightNextShot || h.randFloat() >= baseMissChance
		s.SightNextShot = false
		if !hit {
			s.Misses++
			s.XP -= s.MissPenalty
			reply = h.line(i18n.KeyBangMiss, user, s.MissPenalty)
			return nil
		}

		if duck.Health <= 1 {
			killed = true
			s.DucksShot++
			xp := killXP
			if duck.Golden {
				s.GoldenDucks++
				xp = goldenKillXP
			}
			s.XP += xp
			reaction := now.Sub(duck.SpawnTime).Seconds()
			if s.BestTime == 0 || reaction < s.BestTime {
				s.BestTime = reaction
			}
			s.TotalReactionTime += reaction
			s.LastDuckTime = now.Unix()
			reply = h.line(i18n.KeyBangKill, user, reaction, xp)
		} else {
			wounded = true
			reply = h.line(i18n.KeyBangHit, user)
		}
		return nil
	})
	if err != nil {
		log.Printf("[%s %s] bang by %s failed: %v", network, channel, user, err)
		return
	}

	// Resolve by identity: the despawn sweep may have removed the
	// snapshotted duck mid-shot, and that must never pop its successor.
	if killed {
		if _, ok := h.states.RemoveDuckByID(network, channel, duck.ID); ok {
			h.deleteDuckRow(network, channel, duck.ID)
		}
	} else if wounded {
		// A surviving duck remembers being shot at.
		h.states.UpdateDuckByID(network, channel, duck.ID, func(d *types.Duck) {
			d.Health--
			d.Hissed = true
		})
	}
	h.say(network, channel, reply)
}

func (h *Handler) befriend(network, user, channel string) {
	duck, ok := h.states.RemoveOldestDuck(network, channel)
	if !ok {
		h.say(network, channel, h.line(i18n.KeyBefNoDuck, user))
		return
	}
	h.deleteDuckRow(network, channel, duck.ID)

	var reply func(lang string) string
	_, err := h.withStats(user, network, channel, func(s *types.ChannelStats) error {
		s.BefriendedDucks++
		s.XP += befriendXP
		reply = h.line(i18n.KeyBefDone, user, befriendXP)
		return nil
	})
	if err != nil {
		log.Printf("[%s %s] befriend by %s failed: %v", network, channel, user, err)
		return
	}
	h.say(network, channel, reply)
}

func (h *Handler) reload(network, user, channel string) {
	var reply func(lang string) string
	_, err := h.withStats(user, network, channel, func(s *types.ChannelStats) error {
		switch {
		case s.Jammed:
			s.Jammed = false
			reply = h.line(i18n.KeyReloadCleared, user, s.Ammo, s.MagazineCapacity)
		case s.Ammo >= s.MagazineCapacity:
			reply = h.line(i18n.KeyReloadFull, user, s.Ammo, s.MagazineCapacity)
		case s.Magazines <= 0:
			reply = h.line(i18n.KeyReloadNoMags, user, s.MagazinesMax)
		default:
			s.Magazines--
			s.Ammo = s.MagazineCapacity
			reply = h.line(i18n.KeyReloadDone, user, s.Ammo, s.MagazineCapacity, s.Magazines, s.MagazinesMax)
		}
		return nil
	})
	if err != nil {
		log.Printf("[%s %s] reload by %s failed: %v", network, channel, user, err)
		return
	}
	h.say(network, channel, reply)
}

func (h *Handler) shop(network, user, channel string, args []string) {
	item := ""
	if len(args) > 0 {
		item = strings.ToLower(args[0])
	}
	now := h.now()

	var reply func(lang string) string
	var burst bool

	mutator := func(price int, apply func(*types.ChannelStats)) interfaces.StatsMutator {
		return func(s *types.ChannelStats) error {
			if s.XP < price {
				reply = h.line(i18n.KeyShopNoXP, user, price, s.XP)
				return nil
			}
			s.XP -= price
			apply(s)
			return nil
		}
	}

	var err error
	switch item {
	case "detector":
		_, err = h.withStats(user, network, channel, mutator(detectorPrice, func(s *types.ChannelStats) {
			s.DucksDetectorUntil = now.Add(detectorDuration).Unix()
			reply = h.line(i18n.KeyShopDetector, user, detectorPrice)
		}))
	case "call":
		_, err = h.withStats(user, network, channel, mutator(duckCallPrice, func(s *types.ChannelStats) {
			burst = true
			reply = h.line(i18n.KeyShopCall, user, duckCallPrice)
		}))
	default:
		reply = h.line(i18n.KeyShopUnknown, user)
	}
	if err != nil {
		log.Printf("[%s %s] shop purchase by %s failed: %v", network, channel, user, err)
		return
	}
	h.say(network, channel, reply)

	if burst {
		count := h.lifecycle.ScheduleBurst(network, channel, now)
		h.say(network, channel, h.line(i18n.KeyShopCallBurst, user, count))
	}
}

func (h *Handler) lastDuck(network, user, channel string) {
	last, _ := h.states.SpawnTimes(network, channel)
	if last.IsZero() {
		h.say(network, channel, h.line(i18n.KeyLastDuckNever, user))
		return
	}
	ago := h.now().Sub(last).Round(time.Second)
	h.say(network, channel, h.line(i18n.KeyLastDuck, user, ago.String()))
}

// nextDuck probes the schedule without leaking it: an overdue channel is
// nudged 10-30s out rather than spawning on demand, and the reply stays
// vague either way.
func (h *Handler) nextDuck(network, user, channel string) {
	now := h.now()
	settings := h.states.Settings(network, channel)
	last, next := h.states.SpawnTimes(network, channel)
	overdue := next.IsZero() || (!last.IsZero() && now.After(last.Add(settings.MaxSpawn)))
	if overdue {
		h.lifecycle.Reschedule(network, channel, now, false)
	}
	h.say(network, channel, h.line(i18n.KeyNextDuckSoon, user))
}

// backup snapshots the channel's stat rows so a later clear or botched
// migration can be undone.
func (h *Handler) backup(network, user, channel string) {
	if !h.auth.IsAdmin(network, user) {
		h.say(network, channel, h.line(i18n.KeyAdminDenied, user))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()
	snapshot, err := h.store.BackupChannelStats(ctx, network, channel)
	if err != nil {
		log.Printf("[%s %s] backup by %s failed: %v", network, channel, user, err)
		h.say(network, channel, h.line(i18n.KeyAdminFailed, user))
		return
	}
	h.say(network, channel, h.line(i18n.KeyAdminBackupDone, user, snapshot.ID, snapshot.RowCount))
}

func (h *Handler) listBackups(network, user, channel string) {
	if !h.auth.IsAdmin(network, user) {
		h.say(network, channel, h.line(i18n.KeyAdminDenied, user))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()
	backups, err := h.store.ListBackups(ctx, network, channel)
	if err != nil {
		log.Printf("[%s %s] listing backups for %s failed: %v", network, channel, user, err)
		h.say(network, channel, h.line(i18n.KeyAdminFailed, user))
		return
	}
	if len(backups) == 0 {
		h.say(network, channel, h.line(i18n.KeyAdminBackupNone, user))
		return
	}
	ids := make([]string, len(backups))
	for i, b := range backups {
		ids[i] = b.ID
	}
	h.say(network, channel, h.line(i18n.KeyAdminBackupList, user, strings.Join(ids, ", ")))
}

func (h *Handler) restore(network, user, channel string, args []string) {
	if !h.auth.IsOwner(network, user) {
		h.say(network, channel, h.line(i18n.KeyAdminDenied, user))
		return
	}
	if len(args) == 0 {
		h.say(network, channel, h.line(i18n.KeyAdminRestoreNoSuch, user, "?"))
		return
	}
	backupID := args[0]
	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()
	err := h.store.RestoreBackup(ctx, backupID)
	switch {
	case errors.Is(err, interfaces.ErrBackupNotFound):
		h.say(network, channel, h.line(i18n.KeyAdminRestoreNoSuch, user, backupID))
	case err != nil:
		log.Printf("[%s %s] restore %s by %s failed: %v", network, channel, backupID, user, err)
		h.say(network, channel, h.line(i18n.KeyAdminFailed, user))
	default:
		h.say(network, channel, h.line(i18n.KeyAdminRestoreDone, user, backupID))
	}
}

// clearStats wipes the channel's stat rows. The store takes a backup
// first, so a clear is always reversible with !restore.
func (h *Handler) clearStats(network, user, channel string) {
	if !h.auth.IsOwner(network, user) {
		h.say(network, channel, h.line(i18n.KeyAdminDenied, user))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()
	if err := h.store.ClearChannelStats(ctx, network, channel, true); err != nil {
		log.Printf("[%s %s] clearing stats by %s failed: %v", network, channel, user, err)
		h.say(network, channel, h.line(i18n.KeyAdminFailed, user))
		return
	}
	h.say(network, channel, h.line(i18n.KeyAdminClearDone, user))
}

// line defers catalog rendering until the channel language is known.
func (h *Handler) line(key string, args ...interface{}) func(lang string) string {
	return func(lang string) string {
		return h.loc.T(lang, key, args...)
	}
}

func (h *Handler) say(network, channel string, render func(lang string) string) {
	if render == nil {
		return
	}
	lang := h.states.Settings(network, channel).Language
	if err := h.sender.Privmsg(network, channel, render(lang)); err != nil {
		log.Printf("[%s %s] send failed: %v", network, channel, err)
	}
}

func (h *Handler) withStats(user, network, channel string, fn interfaces.StatsMutator) (*types.ChannelStats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()
	return h.stats.WithChannelStats(ctx, user, network, channel, fn)
}

func (h *Handler) deleteDuckRow(network, channel, duckID string) {
	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()
	if err := h.store.DeleteDuck(ctx, network, channel, duckID); err != nil {
		log.Printf("[%s %s] deleting duck row %s failed: %v", network, channel, duckID, err)
	}
}
