package integration

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"duckhunt/internal/database"
	"duckhunt/internal/game"
	"duckhunt/internal/i18n"
	"duckhunt/internal/irc"
	"duckhunt/internal/scheduler"
	"duckhunt/internal/state"
	"duckhunt/internal/stats"
	dbconfig "duckhunt/pkg/database"
)

// fakeServer is the far end of a session transport: the test injects
// protocol lines and inspects everything the bot sent.
type fakeServer struct {
	reader *io.PipeReader
	writer *io.PipeWriter

	mu      sync.Mutex
	written []string

	closeOnce sync.Once
}

func newFakeServer() *fakeServer {
	r, w := io.Pipe()
	return &fakeServer{reader: r, writer: w}
}

func (s *fakeServer) send(line string) { s.writer.Write([]byte(line + "\r\n")) }

func (s *fakeServer) Read(p []byte) (int, error) { return s.reader.Read(p) }

func (s *fakeServer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, line := range strings.Split(strings.TrimRight(string(p), "\r\n"), "\r\n") {
		if line != "" {
			s.written = append(s.written, line)
		}
	}
	return len(p), nil
}

func (s *fakeServer) Close() error {
	s.closeOnce.Do(func() {
		s.writer.Close()
		s.reader.Close()
	})
	return nil
}

func (s *fakeServer) waitFor(t *testing.T, substr string) string {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		s.mu.Lock()
		for _, line := range s.written {
			if strings.Contains(line, substr) {
				s.mu.Unlock()
				return line
			}
		}
		s.mu.Unlock()
		select {
		case <-deadline:
			s.mu.Lock()
			defer s.mu.Unlock()
			t.Fatalf("timed out waiting for %q, sent: %v", substr, s.written)
		case <-time.After(2 * time.Millisecond):
		}
	}
}

// staticAuth grants everything to a single configured owner.
type staticAuth struct{ owner string }

func (a staticAuth) IsOwner(network, nick string) bool { return strings.EqualFold(nick, a.owner) }
func (a staticAuth) IsAdmin(network, nick string) bool { return a.IsOwner(network, nick) }

type stack struct {
	store     *database.Manager
	stats     *stats.Manager
	states    *state.Store
	registry  *irc.Registry
	scheduler *scheduler.Scheduler
	handler   *game.Handler
	server    *fakeServer
}

func newStack(t *testing.T, dbPath string) *stack {
	t.Helper()

	cfg := dbconfig.DefaultConfig()
	cfg.DatabasePath = dbPath
	store, err := database.NewManager(cfg)
	if err != nil {
		t.Fatalf("creating database manager: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	s := &stack{
		store:    store,
		states:   state.NewStore(),
		registry: irc.NewRegistry(),
		server:   newFakeServer(),
	}
	s.stats = stats.NewManager(store)

	settings := state.DefaultSettings()
	settings.MinSpawn = time.Second
	settings.MaxSpawn = 2 * time.Second
	settings.GoldRatio = 0 // keep resolution single-shot
	s.states.EnsureChannel("testnet", "#pond", settings)

	catalog := i18n.NewCatalog()
	s.scheduler = scheduler.New(s.states, store, s.stats, s.registry, catalog)
	s.handler = game.NewHandler(s.states, s.stats, store, s.scheduler, s.registry, catalog, staticAuth{owner: "warden"})

	dial := func(ctx context.Context) (io.ReadWriteCloser, error) { return s.server, nil }
	session := irc.NewSession(irc.SessionConfig{
		Name:         "testnet",
		Nicks:        []string{"ducky"},
		Channels:     []string{"#pond"},
		SendInterval: time.Millisecond,
	}, dial, s.states, s.handler)
	session.SetOnRegistered(s.scheduler.OnRegistered)
	s.registry.Add(session)
	return s
}

// The full hunt: register, spawn on schedule, resolve through chat, and
// find everything durably recorded.
func TestHuntLifecycle(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "hunt.db")
	s := newStack(t, dbPath)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.registry.StartAll(ctx)
	s.server.waitFor(t, "NICK ducky")
	s.server.send(":irc.example.net 001 ducky :Welcome")
	s.server.send(":irc.example.net 376 ducky :End of /MOTD")
	s.server.waitFor(t, "JOIN #pond")

	// Registration seeded the spawn window (1-2s out); a tick past it
	// spawns the duck and announces it.
	s.scheduler.Tick(time.Now().Add(3 * time.Second))
	if got := s.states.DuckCount("testnet", "#pond"); got != 1 {
		t.Fatalf("expected 1 duck after the window elapsed, got %d", got)
	}
	s.server.waitFor(t, "QUACK")

	ducks, err := s.store.LoadDucks(ctx, "testnet", "#pond")
	if err != nil || len(ducks) != 1 {
		t.Fatalf("expected the duck persisted, got %d (%v)", len(ducks), err)
	}

	// A player befriends it through channel chat.
	s.server.send(":hunter!h@host PRIVMSG #pond :!bef")
	s.server.waitFor(t, "befriended")

	if got := s.states.DuckCount("testnet", "#pond"); got != 0 {
		t.Errorf("expected the duck resolved, %d left", got)
	}
	ducks, err = s.store.LoadDucks(ctx, "testnet", "#pond")
	if err != nil || len(ducks) != 0 {
		t.Errorf("expected the duck row deleted, got %d (%v)", len(ducks), err)
	}

	loaded, err := s.store.LoadChannelStats(ctx, "hunter", "testnet", "#pond")
	if err != nil {
		t.Fatalf("loading stats: %v", err)
	}
	if loaded.BefriendedDucks != 1 {
		t.Errorf("expected 1 befriended duck on record, got %d", loaded.BefriendedDucks)
	}
	if loaded.XP <= 0 {
		t.Errorf("expected xp awarded, got %d", loaded.XP)
	}

	// The spawn window was persisted for restart recovery.
	timings, err := s.store.LoadChannelTimings(ctx)
	if err != nil || len(timings) == 0 {
		t.Fatalf("expected persisted channel timing, got %d (%v)", len(timings), err)
	}

	// The warden snapshots the channel before maintenance; a bystander
	// cannot.
	s.server.send(":hunter!h@host PRIVMSG #pond :!backup")
	s.server.waitFor(t, "reserved")
	s.server.send(":warden!w@host PRIVMSG #pond :!backup")
	s.server.waitFor(t, "stats backup")
	backups, err := s.store.ListBackups(ctx, "testnet", "#pond")
	if err != nil || len(backups) != 1 {
		t.Fatalf("expected 1 persisted backup, got %d (%v)", len(backups), err)
	}
	if backups[0].RowCount == 0 {
		t.Error("expected the backup to carry the hunter's stat row")
	}

	// Shutdown sends the farewell without waiting on the transport.
	s.registry.Shutdown("ouch, my liver!")
	s.server.waitFor(t, "QUIT :ouch, my liver!")
	s.registry.Wait()
}

// A restart rebuilds spawn windows and unresolved ducks from the store.
func TestRestartRecovery(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "hunt.db")
	ctx := context.Background()

	first := newStack(t, dbPath)
	now := time.Now().Truncate(time.Second)
	first.states.SetSpawnTimes("testnet", "#pond", now, now.Add(90*time.Second))
	// Reschedule runs the scheduler's own persistence path.
	next := first.scheduler.Reschedule("testnet", "#pond", now, true)
	if next.IsZero() {
		t.Fatal("expected a scheduled next spawn")
	}
	first.store.Close()

	second := newStack(t, dbPath)
	if err := second.scheduler.Rebuild(ctx); err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	last, restored := second.states.SpawnTimes("testnet", "#pond")
	if last.IsZero() || restored.IsZero() {
		t.Errorf("expected restored spawn timing, got last=%v next=%v", last, restored)
	}
}
