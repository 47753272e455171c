package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"time"

	"duckhunt/internal/config"
	"duckhunt/internal/database"
	"duckhunt/internal/game"
	"duckhunt/internal/i18n"
	"duckhunt/internal/irc"
	"duckhunt/internal/scheduler"
	"duckhunt/internal/state"
	"duckhunt/internal/stats"
	"duckhunt/pkg/interfaces"
)

// shutdownGrace is how long Stop waits for the farewell lines to leave
// the outbound queues before the process exits. Nothing blocks on the
// transports themselves.
const shutdownGrace = 1200 * time.Millisecond

// Application wires all components in dependency order:
// store → stats → channel state → catalog → registry → scheduler →
// game handler → sessions.
type Application struct {
	config    *config.Config
	store     interfaces.Store
	stats     *stats.Manager
	states    *state.Store
	catalog   *i18n.Catalog
	registry  *irc.Registry
	scheduler *scheduler.Scheduler
	handler   *game.Handler

	cancel context.CancelFunc
}

// NewApplication builds the component graph. A store that cannot come up
// within the startup timeout degrades to empty in-memory state rather
// than blocking the bot.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store := openStore(cfg)
	statsManager := stats.NewManager(store)

	states := state.NewStore()
	for _, network := range cfg.Networks {
		for _, channel := range network.Channels {
			states.EnsureChannel(network.Name, channel.Name, channel.Settings(cfg.DefaultLanguage))
		}
	}

	catalog := i18n.NewCatalog()
	registry := irc.NewRegistry()
	lifecycle := scheduler.New(states, store, statsManager, registry, catalog)
	handler := game.NewHandler(states, statsManager, store, lifecycle, registry, catalog, cfg)

	for _, network := range cfg.Networks {
		session := irc.NewSession(irc.SessionConfig{
			Name:         network.Name,
			Nicks:        network.Nicks,
			Ident:        network.Ident,
			Realname:     network.Realname,
			Channels:     network.ChannelNames(),
			Perform:      network.Perform,
			SendInterval: cfg.SendInterval,
		}, dialerFor(network), states, handler)
		session.SetOnRegistered(lifecycle.OnRegistered)
		registry.Add(session)
	}

	return &Application{
		config:    cfg,
		store:     store,
		stats:     statsManager,
		states:    states,
		catalog:   catalog,
		registry:  registry,
		scheduler: lifecycle,
		handler:   handler,
	}, nil
}

// openStore brings up the SQLite store, falling back to in-memory state
// when the database cannot be opened or does not answer within the
// startup timeout.
func openStore(cfg *config.Config) interfaces.Store {
	if dir := filepath.Dir(cfg.Database.DatabasePath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Printf("creating database directory: %v, degrading to in-memory state", err)
			return database.NewMemoryStore()
		}
	}

	manager, err := database.NewManager(cfg.Database)
	if err != nil {
		log.Printf("opening store: %v, degrading to in-memory state", err)
		return database.NewMemoryStore()
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.StartupTimeout)
	defer cancel()
	if err := manager.HealthCheck(ctx); err != nil {
		log.Printf("store health check: %v, degrading to in-memory state", err)
		_ = manager.Close()
		return database.NewMemoryStore()
	}
	return manager
}

func dialerFor(network *config.NetworkConfig) irc.DialFunc {
	if network.Transport == "websocket" {
		return irc.WebSocketDialer(network.GatewayURL)
	}
	host, _, err := net.SplitHostPort(network.Server)
	if err != nil {
		host = network.Server
	}
	return irc.TCPDialer(network.Server, network.SSL, host)
}

// Start restores persisted lifecycle state and launches the scheduler
// and every session.
func (app *Application) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	app.cancel = cancel

	rebuildCtx, rebuildCancel := context.WithTimeout(runCtx, 30*time.Second)
	defer rebuildCancel()
	if err := app.scheduler.Rebuild(rebuildCtx); err != nil {
		log.Printf("restoring lifecycle state: %v, starting fresh", err)
	}

	go app.scheduler.Run(runCtx)
	app.registry.StartAll(runCtx)
	log.Printf("duckhunt started: %d network(s)", len(app.config.Networks))
	return nil
}

// Stop enqueues the farewell on every session, waits a short grace for
// the queues to emit it, and closes the store. It never waits on the
// transports.
func (app *Application) Stop() error {
	log.Printf("shutting down")
	app.registry.Shutdown(app.config.Farewell)
	time.Sleep(shutdownGrace)
	if app.cancel != nil {
		app.cancel()
	}
	if err := app.store.Close(); err != nil {
		log.Printf("closing store: %v", err)
	}
	log.Printf("shutdown complete")
	return nil
}
