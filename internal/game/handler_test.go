package game

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"duckhunt/internal/database"
	"duckhunt/internal/state"
	"duckhunt/internal/stats"
	"duckhunt/pkg/types"
)

type mockSender struct {
	mu   sync.Mutex
	sent []string
}

func (m *mockSender) Privmsg(network, target, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, text)
	return nil
}

func (m *mockSender) Notice(network, target, text string) error { return nil }
func (m *mockSender) Raw(network, line string) error            { return nil }

func (m *mockSender) last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1]
}

func (m *mockSender) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type stubLocalizer struct{}

func (stubLocalizer) T(lang, key string, args ...interface{}) string {
	if len(args) == 0 {
		return key
	}
	return key + fmt.Sprint(":", args)
}

type stubLifecycle struct {
	mu          sync.Mutex
	burstCalls  int
	rescheduled []bool // allowImmediate per call
}

func (l *stubLifecycle) Reschedule(network, channel string, now time.Time, allowImmediate bool) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rescheduled = append(l.rescheduled, allowImmediate)
	return now.Add(15 * time.Second)
}

func (l *stubLifecycle) ScheduleBurst(network, channel string, now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.burstCalls++
	return 2
}

// stubAuth grants owner to "warden", admin additionally to "deputy".
type stubAuth struct{}

func (stubAuth) IsOwner(network, nick string) bool { return nick == "warden" }
func (stubAuth) IsAdmin(network, nick string) bool { return nick == "warden" || nick == "deputy" }

type fixture struct {
	states    *state.Store
	store     *database.MemoryStore
	stats     *stats.Manager
	sender    *mockSender
	lifecycle *stubLifecycle
	handler   *Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		states:    state.NewStore(),
		store:     database.NewMemoryStore(),
		sender:    &mockSender{},
		lifecycle: &stubLifecycle{},
	}
	f.stats = stats.NewManager(f.store)
	f.states.EnsureChannel("testnet", "#pond", state.DefaultSettings())
	f.handler = NewHandler(f.states, f.stats, f.store, f.lifecycle, f.sender, stubLocalizer{}, stubAuth{})
	f.handler.randFloat = func() float64 { return 0.99 } // hit unless overridden
	return f
}

func (f *fixture) addDuck(t *testing.T, duck *types.Duck) {
	t.Helper()
	if err := f.states.AddDuck("testnet", "#pond", duck); err != nil {
		t.Fatalf("adding duck: %v", err)
	}
	if err := f.store.SaveDuck(context.Background(), "testnet", "#pond", duck); err != nil {
		t.Fatalf("persisting duck: %v", err)
	}
}

func (f *fixture) load(t *testing.T, user string) *types.ChannelStats {
	t.Helper()
	s, err := f.stats.WithChannelStats(context.Background(), user, "testnet", "#pond", func(*types.ChannelStats) error { return nil })
	if err != nil {
		t.Fatalf("loading stats: %v", err)
	}
	return s
}

func (f *fixture) seed(t *testing.T, user string, mutate func(*types.ChannelStats)) {
	t.Helper()
	_, err := f.stats.WithChannelStats(context.Background(), user, "testnet", "#pond", func(s *types.ChannelStats) error {
		mutate(s)
		return nil
	})
	if err != nil {
		t.Fatalf("seeding stats: %v", err)
	}
}

func TestNonCommandsIgnored(t *testing.T) {
	f := newFixture(t)
	f.handler.HandleChannelMessage("testnet", "hunter", "#pond", "nice weather for ducks")
	f.handler.HandleChannelMessage("testnet", "hunter", "#pond", "")
	f.handler.HandlePrivateMessage("testnet", "hunter", "!bang")
	if got := f.sender.count(); got != 0 {
		t.Errorf("expected silence for non-commands, got %d messages", got)
	}
}

func TestBangKillsDuck(t *testing.T) {
	f := newFixture(t)
	spawned := time.Now().Add(-2 * time.Second)
	f.addDuck(t, &types.Duck{ID: "d1", Health: 1, SpawnTime: spawned})

	f.handler.HandleChannelMessage("testnet", "hunter", "#pond", "!bang")

	if !strings.HasPrefix(f.sender.last(), "bang.kill") {
		t.Errorf("expected a kill line, got %q", f.sender.last())
	}
	if _, ok := f.states.OldestDuck("testnet", "#pond"); ok {
		t.Error("expected the duck removed after the kill")
	}
	ducks, _ := f.store.LoadDucks(context.Background(), "testnet", "#pond")
	if len(ducks) != 0 {
		t.Errorf("expected persisted duck row deleted, %d left", len(ducks))
	}

	s := f.load(t, "hunter")
	if s.DucksShot != 1 || s.ShotsFired != 1 {
		t.Errorf("unexpected counters: shot=%d fired=%d", s.DucksShot, s.ShotsFired)
	}
	if s.XP != killXP {
		t.Errorf("expected %d xp, got %d", killXP, s.XP)
	}
	if s.Ammo != 5 {
		t.Errorf("expected 5 ammo left, got %d", s.Ammo)
	}
	if s.BestTime <= 0 {
		t.Errorf("expected best time recorded, got %v", s.BestTime)
	}
	if s.LastDuckTime == 0 {
		t.Error("expected last duck time recorded")
	}
}

func TestBangWoundsGoldenDuck(t *testing.T) {
	f := newFixture(t)
	f.addDuck(t, &types.Duck{ID: "g1", Golden: true, Health: 5, SpawnTime: time.Now()})

	f.handler.HandleChannelMessage("testnet", "hunter", "#pond", "!bang")

	if !strings.HasPrefix(f.sender.last(), "bang.hit") {
		t.Errorf("expected a hit line, got %q", f.sender.last())
	}
	duck, ok := f.states.OldestDuck("testnet", "#pond")
	if !ok {
		t.Fatal("expected the golden duck to survive")
	}
	if duck.Health != 4 || !duck.Hissed {
		t.Errorf("expected health 4 and hissed, got health=%d hissed=%v", duck.Health, duck.Hissed)
	}
}

func TestGoldenDuckTakesFiveShots(t *testing.T) {
	f := newFixture(t)
	f.addDuck(t, &types.Duck{ID: "g1", Golden: true, Health: 5, SpawnTime: time.Now()})

	for i := 0; i < 5; i++ {
		f.handler.HandleChannelMessage("testnet", "hunter", "#pond", "!bang")
	}

	if _, ok := f.states.OldestDuck("testnet", "#pond"); ok {
		t.Error("expected the golden duck down after five hits")
	}
	s := f.load(t, "hunter")
	if s.GoldenDucks != 1 {
		t.Errorf("expected 1 golden duck recorded, got %d", s.GoldenDucks)
	}
	if s.XP != goldenKillXP {
		t.Errorf("expected %d xp for the golden kill, got %d", goldenKillXP, s.XP)
	}
}

func TestBangMiss(t *testing.T) {
	f := newFixture(t)
	f.handler.randFloat = func() float64 { return 0.0 } // always miss
	f.addDuck(t, &types.Duck{ID: "d1", Health: 1, SpawnTime: time.Now()})

	f.handler.HandleChannelMessage("testnet", "hunter", "#pond", "!bang")

	if !strings.HasPrefix(f.sender.last(), "bang.miss") {
		t.Errorf("expected a miss line, got %q", f.sender.last())
	}
	if _, ok := f.states.OldestDuck("testnet", "#pond"); !ok {
		t.Error("the duck must survive a miss")
	}
	s := f.load(t, "hunter")
	if s.Misses != 1 || s.ShotsFired != 1 {
		t.Errorf("unexpected counters: misses=%d fired=%d", s.Misses, s.ShotsFired)
	}
	if s.XP != -s.MissPenalty {
		t.Errorf("expected xp at -%d, got %d", s.MissPenalty, s.XP)
	}
}

func TestBangSightGuaranteesHit(t *testing.T) {
	f := newFixture(t)
	f.handler.randFloat = func() float64 { return 0.0 } // would miss
	f.seed(t, "hunter", func(s *types.ChannelStats) { s.SightNextShot = true })
	f.addDuck(t, &types.Duck{ID: "d1", Health: 1, SpawnTime: time.Now()})

	f.handler.HandleChannelMessage("testnet", "hunter", "#pond", "!bang")

	if !strings.HasPrefix(f.sender.last(), "bang.kill") {
		t.Errorf("expected a sighted kill, got %q", f.sender.last())
	}
	if f.load(t, "hunter").SightNextShot {
		t.Error("the sight is single-use and must clear")
	}
}

func TestBangWildFire(t *testing.T) {
	f := newFixture(t)
	f.handler.HandleChannelMessage("testnet", "hunter", "#pond", "!bang")

	if !strings.HasPrefix(f.sender.last(), "bang.noduck") {
		t.Errorf("expected a wild-fire line, got %q", f.sender.last())
	}
	s := f.load(t, "hunter")
	if s.WildFires != 1 {
		t.Errorf("expected 1 wild fire, got %d", s.WildFires)
	}
	if s.XP != -s.WildPenalty {
		t.Errorf("expected xp at -%d, got %d", s.WildPenalty, s.XP)
	}
	if s.Ammo != 5 {
		t.Errorf("a wild fire still spends ammo, got %d", s.Ammo)
	}
}

func TestBangBlockedStates(t *testing.T) {
	tests := []struct {
		name   string
		seed   func(*types.ChannelStats)
		prefix string
	}{
		{"confiscated", func(s *types.ChannelStats) { s.Confiscated = true }, "bang.confiscated"},
		{"jammed", func(s *types.ChannelStats) { s.Jammed = true }, "bang.jammed"},
		{"empty", func(s *types.ChannelStats) { s.Ammo = 0 }, "bang.empty"},
		{"trigger lock", func(s *types.ChannelStats) {
			s.TriggerLockUntil = time.Now().Add(time.Hour).Unix()
		}, "bang.locked"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, "hunter", tt.seed)
			f.addDuck(t, &types.Duck{ID: "d1", Health: 1, SpawnTime: time.Now()})

			f.handler.HandleChannelMessage("testnet", "hunter", "#pond", "!bang")

			if !strings.HasPrefix(f.sender.last(), tt.prefix) {
				t.Errorf("expected %s line, got %q", tt.prefix, f.sender.last())
			}
			if s := f.load(t, "hunter"); s.ShotsFired != 0 {
				t.Errorf("a blocked shot must not count as fired, got %d", s.ShotsFired)
			}
			if _, ok := f.states.OldestDuck("testnet", "#pond"); !ok {
				t.Error("the duck must be untouched by a blocked shot")
			}
		})
	}
}

// A duck can fly away between the shot's snapshot and its resolution.
// The stale kill must then resolve nothing instead of popping the next
// duck silently.
func TestBangStaleDuckDoesNotResolveSuccessor(t *testing.T) {
	f := newFixture(t)
	f.addDuck(t, &types.Duck{ID: "stale", Health: 1, SpawnTime: time.Now().Add(-20 * time.Minute)})
	f.addDuck(t, &types.Duck{ID: "fresh", Health: 1, SpawnTime: time.Now()})

	// The despawn sweep fires mid-shot: after the oldest duck was
	// snapshotted, before the kill resolves it.
	f.handler.randFloat = func() float64 {
		f.states.RemoveExpiredDucks("testnet", "#pond", time.Now())
		return 0.99
	}

	f.handler.HandleChannelMessage("testnet", "hunter", "#pond", "!bang")

	duck, ok := f.states.OldestDuck("testnet", "#pond")
	if !ok || duck.ID != "fresh" {
		t.Fatalf("expected the fresh duck untouched, got %+v ok=%v", duck, ok)
	}
	ducks, _ := f.store.LoadDucks(context.Background(), "testnet", "#pond")
	ids := make(map[string]bool)
	for _, d := range ducks {
		ids[d.ID] = true
	}
	if !ids["fresh"] {
		t.Error("expected the fresh duck's persisted row to survive the stale kill")
	}
}

func TestBefriend(t *testing.T) {
	f := newFixture(t)
	f.addDuck(t, &types.Duck{ID: "d1", Health: 1, SpawnTime: time.Now()})

	f.handler.HandleChannelMessage("testnet", "hunter", "#pond", "!bef")

	if !strings.HasPrefix(f.sender.last(), "bef.done") {
		t.Errorf("expected a befriend line, got %q", f.sender.last())
	}
	if _, ok := f.states.OldestDuck("testnet", "#pond"); ok {
		t.Error("expected the duck resolved by befriending")
	}
	s := f.load(t, "hunter")
	if s.BefriendedDucks != 1 || s.XP != befriendXP {
		t.Errorf("unexpected stats: befriended=%d xp=%d", s.BefriendedDucks, s.XP)
	}

	f.handler.HandleChannelMessage("testnet", "hunter", "#pond", "!bef")
	if !strings.HasPrefix(f.sender.last(), "bef.noduck") {
		t.Errorf("expected a no-duck line, got %q", f.sender.last())
	}
}

func TestReloadCycle(t *testing.T) {
	f := newFixture(t)

	// Full magazine straight away.
	f.handler.HandleChannelMessage("testnet", "hunter", "#pond", "!reload")
	if !strings.HasPrefix(f.sender.last(), "reload.full") {
		t.Errorf("expected reload.full, got %q", f.sender.last())
	}

	// Spend ammo, reload consumes a magazine.
	f.seed(t, "hunter", func(s *types.ChannelStats) { s.Ammo = 0 })
	f.handler.HandleChannelMessage("testnet", "hunter", "#pond", "!reload")
	if !strings.HasPrefix(f.sender.last(), "reload.done") {
		t.Errorf("expected reload.done, got %q", f.sender.last())
	}
	s := f.load(t, "hunter")
	if s.Ammo != s.MagazineCapacity || s.Magazines != 1 {
		t.Errorf("unexpected weapon state: ammo=%d mags=%d", s.Ammo, s.Magazines)
	}

	// Out of magazines.
	f.seed(t, "hunter", func(s *types.ChannelStats) { s.Ammo = 0; s.Magazines = 0 })
	f.handler.HandleChannelMessage("testnet", "hunter", "#pond", "!reload")
	if !strings.HasPrefix(f.sender.last(), "reload.nomags") {
		t.Errorf("expected reload.nomags, got %q", f.sender.last())
	}

	// A jam clears without consuming a magazine.
	f.seed(t, "hunter", func(s *types.ChannelStats) { s.Jammed = true; s.Magazines = 2 })
	f.handler.HandleChannelMessage("testnet", "hunter", "#pond", "!reload")
	if !strings.HasPrefix(f.sender.last(), "reload.cleared") {
		t.Errorf("expected reload.cleared, got %q", f.sender.last())
	}
	if s := f.load(t, "hunter"); s.Jammed || s.Magazines != 2 {
		t.Errorf("expected jam cleared with magazines kept, got jammed=%v mags=%d", s.Jammed, s.Magazines)
	}
}

func TestShopDetector(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "hunter", func(s *types.ChannelStats) { s.XP = 100 })

	f.handler.HandleChannelMessage("testnet", "hunter", "#pond", "!shop detector")

	if !strings.HasPrefix(f.sender.last(), "shop.detector") {
		t.Errorf("expected shop.detector, got %q", f.sender.last())
	}
	s := f.load(t, "hunter")
	if s.XP != 100-detectorPrice {
		t.Errorf("expected xp %d, got %d", 100-detectorPrice, s.XP)
	}
	if !s.DetectorActive(time.Now()) {
		t.Error("expected the detector active after purchase")
	}
}

func TestShopDuckCall(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "hunter", func(s *types.ChannelStats) { s.XP = 100 })

	f.handler.HandleChannelMessage("testnet", "hunter", "#pond", "!shop call")

	f.lifecycle.mu.Lock()
	bursts := f.lifecycle.burstCalls
	f.lifecycle.mu.Unlock()
	if bursts != 1 {
		t.Fatalf("expected one burst scheduled, got %d", bursts)
	}
	if !strings.HasPrefix(f.sender.last(), "shop.call.burst") {
		t.Errorf("expected the burst announcement, got %q", f.sender.last())
	}
	if s := f.load(t, "hunter"); s.XP != 100-duckCallPrice {
		t.Errorf("expected xp %d, got %d", 100-duckCallPrice, s.XP)
	}
}

func TestShopRefusals(t *testing.T) {
	f := newFixture(t)

	f.handler.HandleChannelMessage("testnet", "hunter", "#pond", "!shop detector")
	if !strings.HasPrefix(f.sender.last(), "shop.noxp") {
		t.Errorf("expected shop.noxp for a broke player, got %q", f.sender.last())
	}
	f.lifecycle.mu.Lock()
	bursts := f.lifecycle.burstCalls
	f.lifecycle.mu.Unlock()
	if bursts != 0 {
		t.Error("a refused purchase must not schedule anything")
	}

	f.handler.HandleChannelMessage("testnet", "hunter", "#pond", "!shop kazoo")
	if !strings.HasPrefix(f.sender.last(), "shop.unknown") {
		t.Errorf("expected shop.unknown, got %q", f.sender.last())
	}
}

func TestLastDuck(t *testing.T) {
	f := newFixture(t)

	f.handler.HandleChannelMessage("testnet", "hunter", "#pond", "!lastduck")
	if !strings.HasPrefix(f.sender.last(), "lastduck.never") {
		t.Errorf("expected lastduck.never, got %q", f.sender.last())
	}

	f.states.SetSpawnTimes("testnet", "#pond", time.Now().Add(-5*time.Minute), time.Now().Add(time.Hour))
	f.handler.HandleChannelMessage("testnet", "hunter", "#pond", "!lastduck")
	if !strings.HasPrefix(f.sender.last(), "lastduck:") {
		t.Errorf("expected a lastduck report, got %q", f.sender.last())
	}
}

// A probe on an overdue channel reschedules without allowing an
// immediate spawn, and never reveals the schedule.
func TestNextDuckProbe(t *testing.T) {
	f := newFixture(t)
	f.states.SetSpawnTimes("testnet", "#pond", time.Now().Add(-time.Hour), time.Time{})

	f.handler.HandleChannelMessage("testnet", "hunter", "#pond", "!nextduck")

	if !strings.HasPrefix(f.sender.last(), "nextduck.soon") {
		t.Errorf("expected the vague reply, got %q", f.sender.last())
	}
	f.lifecycle.mu.Lock()
	defer f.lifecycle.mu.Unlock()
	if len(f.lifecycle.rescheduled) != 1 {
		t.Fatalf("expected one reschedule, got %d", len(f.lifecycle.rescheduled))
	}
	if f.lifecycle.rescheduled[0] {
		t.Error("a probe must never allow an immediate spawn")
	}
}

func TestAdminCommandsGated(t *testing.T) {
	f := newFixture(t)

	for _, cmd := range []string{"!backup", "!backups", "!restore abc", "!clearstats"} {
		f.handler.HandleChannelMessage("testnet", "hunter", "#pond", cmd)
		if got := f.sender.last(); !strings.HasPrefix(got, "admin.denied") {
			t.Errorf("%s by a regular player: expected denial, got %q", cmd, got)
		}
	}

	// An admin may snapshot and list but not clear or restore.
	f.handler.HandleChannelMessage("testnet", "deputy", "#pond", "!backups")
	if got := f.sender.last(); !strings.HasPrefix(got, "admin.backup.none") {
		t.Errorf("expected an empty backup list for the deputy, got %q", got)
	}
	f.handler.HandleChannelMessage("testnet", "deputy", "#pond", "!clearstats")
	if got := f.sender.last(); !strings.HasPrefix(got, "admin.denied") {
		t.Errorf("expected clearstats denied to a mere admin, got %q", got)
	}
	f.handler.HandleChannelMessage("testnet", "deputy", "#pond", "!restore abc")
	if got := f.sender.last(); !strings.HasPrefix(got, "admin.denied") {
		t.Errorf("expected restore denied to a mere admin, got %q", got)
	}
}

func TestBackupClearRestoreCycle(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "hunter", func(s *types.ChannelStats) {
		s.XP = 120
		s.DucksShot = 7
	})

	f.handler.HandleChannelMessage("testnet", "warden", "#pond", "!backup")
	if !strings.HasPrefix(f.sender.last(), "admin.backup.done") {
		t.Fatalf("expected a backup confirmation, got %q", f.sender.last())
	}
	backups, err := f.store.ListBackups(context.Background(), "testnet", "#pond")
	if err != nil || len(backups) != 1 {
		t.Fatalf("expected 1 backup, got %d (%v)", len(backups), err)
	}
	backupID := backups[0].ID

	f.handler.HandleChannelMessage("testnet", "warden", "#pond", "!clearstats")
	if !strings.HasPrefix(f.sender.last(), "admin.clear.done") {
		t.Fatalf("expected a clear confirmation, got %q", f.sender.last())
	}
	if s := f.load(t, "hunter"); s.DucksShot != 0 {
		t.Errorf("expected a fresh record after the clear, got %d ducks shot", s.DucksShot)
	}

	f.handler.HandleChannelMessage("testnet", "warden", "#pond", "!restore "+backupID)
	if !strings.HasPrefix(f.sender.last(), "admin.restore.done") {
		t.Fatalf("expected a restore confirmation, got %q", f.sender.last())
	}
	s := f.load(t, "hunter")
	if s.DucksShot != 7 || s.XP != 120 {
		t.Errorf("expected the snapshot restored, got shot=%d xp=%d", s.DucksShot, s.XP)
	}
}

func TestRestoreUnknownBackup(t *testing.T) {
	f := newFixture(t)

	f.handler.HandleChannelMessage("testnet", "warden", "#pond", "!restore nope")
	if !strings.HasPrefix(f.sender.last(), "admin.restore.nosuch") {
		t.Errorf("expected the no-such-backup reply, got %q", f.sender.last())
	}
	f.handler.HandleChannelMessage("testnet", "warden", "#pond", "!restore")
	if !strings.HasPrefix(f.sender.last(), "admin.restore.nosuch") {
		t.Errorf("expected the no-such-backup reply without an id, got %q", f.sender.last())
	}
}
