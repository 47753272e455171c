package scheduler

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"duckhunt/internal/i18n"
	"duckhunt/internal/state"
	"duckhunt/pkg/interfaces"
	"duckhunt/pkg/types"
)

const (
	// tickInterval drives the whole lifecycle loop. The ticker sleeps
	// between ticks; an idle tick touches nothing but the channel
	// snapshot.
	tickInterval = time.Second

	// At-cap handling: a due regular spawn waits a short random delay,
	// a due burst instant is dropped outright.
	capDeferMin = 5 * time.Second
	capDeferMax = 15 * time.Second

	// Probe reschedule window for an overdue channel: a status query
	// must not force the duck out immediately.
	probeDelayMin = 10 * time.Second
	probeDelayMax = 30 * time.Second

	// burstSpacing separates the scheduled instants of one duck call.
	burstSpacing = 60 * time.Second

	// storeOpTimeout bounds each persistence call made off a tick.
	storeOpTimeout = 5 * time.Second
)

// Scheduler owns duck lifecycle timing: spawn windows, despawn sweeps,
// detector pre-notices and duck-call bursts. It is the only writer of
// duck and timing state; everything it emits goes through the sender's
// rate-limited queues.
type Scheduler struct {
	states *state.Store
	store  interfaces.Store
	stats  interfaces.StatsSync
	sender interfaces.Sender
	loc    interfaces.Localizer

	interval time.Duration
	tick     func(now time.Time)

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a scheduler. The store is used for duck/timing persistence
// and detector subscriptions; stat mutation goes through the sync layer.
func New(states *state.Store, store interfaces.Store, stats interfaces.StatsSync, sender interfaces.Sender, loc interfaces.Localizer) *Scheduler {
	s := &Scheduler{
		states:   states,
		store:    store,
		stats:    stats,
		sender:   sender,
		loc:      loc,
		interval: tickInterval,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	s.tick = s.Tick
	return s
}

// Run drives the tick loop until the context is cancelled. The ticker
// sleeps out each interval; the loop never spins faster than one pass
// per interval.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

// Tick processes one scheduler pass at the given instant: despawn
// sweeps, pre-notices, due burst instants and due regular spawns, per
// channel.
func (s *Scheduler) Tick(now time.Time) {
	for _, ref := range s.states.Channels() {
		s.sweepExpired(ref, now)
		s.sendPreNotice(ref, now)
		s.runBurstSpawns(ref, now)
		s.runRegularSpawn(ref, now)
	}
}

// Rebuild restores spawn timing and unresolved ducks from the store,
// called once at boot after channels are registered. Channels whose
// persisted next-spawn is already overdue fall into the immediate-spawn
// path on the first tick.
func (s *Scheduler) Rebuild(ctx context.Context) error {
	timings, err := s.store.LoadChannelTimings(ctx)
	if err != nil {
		return err
	}
	for _, timing := range timings {
		s.states.SetSpawnTimes(timing.NetworkName, timing.ChannelName, timing.LastSpawn, timing.NextSpawn)
	}
	for _, ref := range s.states.Channels() {
		ducks, err := s.store.LoadDucks(ctx, ref.Network, ref.Name)
		if err != nil {
			return err
		}
		for _, duck := range ducks {
			if err := s.states.AddDuck(ref.Network, ref.Name, duck); err != nil {
				log.Printf("[%s %s] dropping persisted duck %s: %v", ref.Network, ref.Name, duck.ID, err)
				s.deleteDuckRow(ref, duck.ID)
			}
		}
	}
	return nil
}

// OnRegistered seeds spawn schedules for a network's channels that have
// no pending spawn, typically right after the session registers.
func (s *Scheduler) OnRegistered(network string) {
	now := time.Now()
	for _, ref := range s.states.Channels() {
		if ref.Network != network {
			continue
		}
		if _, next := s.states.SpawnTimes(ref.Network, ref.Name); next.IsZero() {
			s.Reschedule(ref.Network, ref.Name, now, true)
		}
	}
}

// Reschedule computes the channel's next spawn instant from the window
// rules and persists the timing. The gap since the previous spawn never
// exceeds the channel's max interval:
//
//   - never spawned: uniform in [min, max] from now
//   - overdue past last+max: now, or a short 10-30s delay when the
//     reschedule came from a status probe rather than the tick loop
//   - inside the window past last+min: uniform in what remains of it
//   - before last+min: uniform in [last+min, last+max]
func (s *Scheduler) Reschedule(network, channel string, now time.Time, allowImmediate bool) time.Time {
	settings := s.states.Settings(network, channel)
	last, _ := s.states.SpawnTimes(network, channel)

	var next time.Time
	switch {
	case last.IsZero():
		next = now.Add(s.randDuration(settings.MinSpawn, settings.MaxSpawn))
	case now.After(last.Add(settings.MaxSpawn)):
		if allowImmediate {
			next = now
		} else {
			next = now.Add(s.randDuration(probeDelayMin, probeDelayMax))
		}
	case now.After(last.Add(settings.MinSpawn)):
		remaining := last.Add(settings.MaxSpawn).Sub(now)
		next = now.Add(s.randDuration(0, remaining))
	default:
		earliest := last.Add(settings.MinSpawn)
		latest := last.Add(settings.MaxSpawn)
		next = earliest.Add(s.randDuration(0, latest.Sub(earliest)))
	}

	s.states.SetSpawnTimes(network, channel, last, next)
	s.persistTiming(network, channel, last, next)
	return next
}

// ScheduleBurst queues a duck call's worth of spawns: a weighted draw of
// 1-5 ducks, spaced one minute apart starting one minute out. Returns
// how many were scheduled.
func (s *Scheduler) ScheduleBurst(network, channel string, now time.Time) int {
	count := s.drawBurstCount()
	instants := make([]time.Time, 0, count)
	for i := 1; i <= count; i++ {
		instants = append(instants, now.Add(time.Duration(i)*burstSpacing))
	}
	s.states.PushBurstSpawns(network, channel, instants...)
	return count
}

// drawBurstCount picks the duck-call spawn count: 54% one duck, 25% two,
// 12% three, 6% four, 3% five.
func (s *Scheduler) drawBurstCount() int {
	roll := s.randFloat() * 100
	switch {
	case roll < 54:
		return 1
	case roll < 79:
		return 2
	case roll < 91:
		return 3
	case roll < 97:
		return 4
	default:
		return 5
	}
}

func (s *Scheduler) sweepExpired(ref state.Ref, now time.Time) {
	expired := s.states.RemoveExpiredDucks(ref.Network, ref.Name, now)
	if len(expired) == 0 {
		return
	}
	settings := s.states.Settings(ref.Network, ref.Name)
	for _, duck := range expired {
		s.say(ref, settings.Language, i18n.KeyDuckFlyAway)
		s.deleteDuckRow(ref, duck.ID)
	}
	// A departing duck takes the game warden with it: confiscated guns
	// come back to everyone present.
	s.unconfiscateMembers(ref)
}

func (s *Scheduler) sendPreNotice(ref state.Ref, now time.Time) {
	if !s.states.PreNoticeDue(ref.Network, ref.Name, now) {
		return
	}
	_, next := s.states.SpawnTimes(ref.Network, ref.Name)
	if next.IsZero() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()
	subscribers, err := s.store.DetectorSubscribers(ctx, ref.Network, ref.Name, now)
	if err != nil {
		// Give the notice back so the next tick retries; a transient
		// store error must not consume this window's notice.
		s.states.ResetPreNotice(ref.Network, ref.Name)
		log.Printf("[%s %s] detector subscription lookup failed: %v", ref.Network, ref.Name, err)
		return
	}

	settings := s.states.Settings(ref.Network, ref.Name)
	text := s.detectorText(settings.Language, next.Sub(now))
	for _, subscriber := range subscribers {
		if err := s.sender.Notice(ref.Network, subscriber, text); err != nil {
			log.Printf("[%s] detector notice to %s failed: %v", ref.Network, subscriber, err)
		}
	}
}

// detectorText renders the remaining time minute-rounded: 125s reads
// "approximately 2m", anything under a minute reads "less than 1m".
func (s *Scheduler) detectorText(lang string, remaining time.Duration) string {
	if remaining < time.Minute {
		return s.loc.T(lang, i18n.KeyDetectorSoon)
	}
	minutes := int((remaining + 30*time.Second) / time.Minute)
	return s.loc.T(lang, i18n.KeyDetectorApprox, minutes)
}

func (s *Scheduler) runBurstSpawns(ref state.Ref, now time.Time) {
	for range s.states.TakeDueBurstSpawns(ref.Network, ref.Name, now) {
		if !s.states.CanSpawn(ref.Network, ref.Name) {
			// Burst ducks at cap are dropped, never requeued: a duck
			// call is a nudge, not a debt.
			continue
		}
		s.spawnDuck(ref, now)
	}
}

func (s *Scheduler) runRegularSpawn(ref state.Ref, now time.Time) {
	_, next := s.states.SpawnTimes(ref.Network, ref.Name)
	if next.IsZero() || now.Before(next) {
		return
	}
	if !s.states.CanSpawn(ref.Network, ref.Name) {
		s.states.DeferNextSpawn(ref.Network, ref.Name, now.Add(s.randDuration(capDeferMin, capDeferMax)))
		return
	}
	// Clear before spawning so a slow spawn cannot fire twice.
	s.states.ClearNextSpawn(ref.Network, ref.Name)
	s.spawnDuck(ref, now)
	s.states.SetSpawnTimes(ref.Network, ref.Name, now, time.Time{})
	s.Reschedule(ref.Network, ref.Name, now, true)
}

func (s *Scheduler) spawnDuck(ref state.Ref, now time.Time) {
	settings := s.states.Settings(ref.Network, ref.Name)
	duck := &types.Duck{
		ID:        uuid.NewString(),
		Golden:    s.randFloat() < settings.GoldRatio,
		Health:    types.RegularDuckHealth,
		SpawnTime: now,
	}
	if duck.Golden {
		duck.Health = types.GoldenDuckHealth
	}
	if err := s.states.AddDuck(ref.Network, ref.Name, duck); err != nil {
		log.Printf("[%s %s] spawn skipped: %v", ref.Network, ref.Name, err)
		return
	}

	key := i18n.KeyDuckSpawn
	if duck.Golden {
		key = i18n.KeyDuckSpawnGolden
	}
	s.say(ref, settings.Language, key)

	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()
	if err := s.store.SaveDuck(ctx, ref.Network, ref.Name, duck); err != nil {
		log.Printf("[%s %s] persisting duck %s failed: %v", ref.Network, ref.Name, duck.ID, err)
	}
}

func (s *Scheduler) unconfiscateMembers(ref state.Ref) {
	for _, member := range s.states.Members(ref.Network, ref.Name) {
		ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
		_, err := s.stats.WithChannelStats(ctx, member, ref.Network, ref.Name, func(stats *types.ChannelStats) error {
			stats.Confiscated = false
			return nil
		})
		cancel()
		if err != nil {
			log.Printf("[%s %s] clearing confiscation for %s failed: %v", ref.Network, ref.Name, member, err)
		}
	}
}

func (s *Scheduler) persistTiming(network, channel string, last, next time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()
	timing := &types.ChannelTiming{
		NetworkName: network,
		ChannelName: channel,
		LastSpawn:   last,
		NextSpawn:   next,
	}
	if err := s.store.SaveChannelTiming(ctx, timing); err != nil {
		log.Printf("[%s %s] persisting spawn timing failed: %v", network, channel, err)
	}
}

func (s *Scheduler) deleteDuckRow(ref state.Ref, duckID string) {
	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()
	if err := s.store.DeleteDuck(ctx, ref.Network, ref.Name, duckID); err != nil {
		log.Printf("[%s %s] deleting duck row %s failed: %v", ref.Network, ref.Name, duckID, err)
	}
}

func (s *Scheduler) say(ref state.Ref, lang, key string, args ...interface{}) {
	if err := s.sender.Privmsg(ref.Network, ref.Name, s.loc.T(lang, key, args...)); err != nil {
		log.Printf("[%s %s] send failed: %v", ref.Network, ref.Name, err)
	}
}

func (s *Scheduler) randFloat() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// randDuration draws uniformly from [min, max].
func (s *Scheduler) randDuration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return min + time.Duration(s.rng.Int63n(int64(max-min)))
}
