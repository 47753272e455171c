package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"duckhunt/internal/state"
	"duckhunt/pkg/database"
)

// Config is the full runtime configuration: the store, the connection
// roster and the global bot knobs. Precedence is file over environment
// over defaults.
type Config struct {
	Database *database.Config `json:"database"`
	Networks []*NetworkConfig `json:"networks"`

	// Farewell is the QUIT message sent on shutdown.
	Farewell string `json:"farewell" env:"DUCKHUNT_FAREWELL"`

	// SendInterval spaces outbound lines per network. The JSON file
	// sets it in milliseconds; the environment takes a duration string.
	SendInterval   time.Duration `json:"-" env:"DUCKHUNT_SEND_INTERVAL"`
	SendIntervalMS int           `json:"send_interval_ms"`

	// DefaultLanguage applies to channels without their own setting.
	DefaultLanguage string `json:"default_language" env:"DUCKHUNT_LANGUAGE"`
}

// NetworkConfig describes one server connection.
type NetworkConfig struct {
	Name      string `json:"name"`
	Server    string `json:"server"` // host:port
	SSL       bool   `json:"ssl"`
	Transport string `json:"transport"` // "tcp" (default) or "websocket"
	// GatewayURL is the websocket endpoint when Transport is
	// "websocket"; Server is ignored in that case.
	GatewayURL string `json:"gateway_url"`

	// Nicks is the primary nickname followed by collision alternates,
	// tried in order.
	Nicks    []string `json:"nicks"`
	Ident    string   `json:"ident"`
	Realname string   `json:"realname"`

	// Perform lines are sent raw after registration, before joins.
	Perform []string `json:"perform"`

	Owners []string `json:"owners"`
	Admins []string `json:"admins"`

	Channels []*ChannelConfig `json:"channels"`
}

// ChannelConfig carries per-channel lifecycle overrides. Zero values
// fall back to the stock settings; durations are whole seconds.
type ChannelConfig struct {
	Name             string  `json:"name"`
	Language         string  `json:"language"`
	MinSpawnSecs     int     `json:"min_spawn"`
	MaxSpawnSecs     int     `json:"max_spawn"`
	GoldRatio        float64 `json:"gold_ratio"`
	MaxDucks         int     `json:"max_ducks"`
	DespawnSecs      int     `json:"despawn_time"`
	DetectorLeadSecs int     `json:"detector_lead"`
}

// DefaultConfig returns the stock configuration with no networks; a
// usable deployment always supplies at least one.
func DefaultConfig() *Config {
	return &Config{
		Database:        database.DefaultConfig(),
		Farewell:        "ouch, my liver!",
		SendInterval:    500 * time.Millisecond,
		DefaultLanguage: "en",
	}
}

// Load builds the runtime configuration: defaults, then environment
// overrides, then the JSON file when a path is given. The result is
// validated.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := env.Parse(config.Database); err != nil {
		return nil, fmt.Errorf("parsing database environment: %w", err)
	}

	if path != "" {
		if err := config.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	var file Config
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if file.Database != nil {
		if file.Database.DatabasePath != "" {
			c.Database.DatabasePath = file.Database.DatabasePath
		}
		if file.Database.MaxConnections > 0 {
			c.Database.MaxConnections = file.Database.MaxConnections
		}
		if file.Database.StartupTimeout > 0 {
			c.Database.StartupTimeout = file.Database.StartupTimeout
		}
	}
	if len(file.Networks) > 0 {
		c.Networks = file.Networks
	}
	if file.Farewell != "" {
		c.Farewell = file.Farewell
	}
	if file.SendIntervalMS > 0 {
		c.SendInterval = time.Duration(file.SendIntervalMS) * time.Millisecond
	}
	if file.DefaultLanguage != "" {
		c.DefaultLanguage = file.DefaultLanguage
	}
	return nil
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if c.SendInterval <= 0 {
		return fmt.Errorf("send interval must be positive")
	}
	if len(c.Networks) == 0 {
		return fmt.Errorf("at least one network is required")
	}

	seen := make(map[string]struct{}, len(c.Networks))
	for _, network := range c.Networks {
		if err := network.validate(); err != nil {
			return err
		}
		if _, dup := seen[network.Name]; dup {
			return fmt.Errorf("network %q is declared twice", network.Name)
		}
		seen[network.Name] = struct{}{}
	}
	return nil
}

func (n *NetworkConfig) validate() error {
	if n.Name == "" {
		return fmt.Errorf("network name cannot be empty")
	}
	switch n.Transport {
	case "", "tcp":
		if n.Server == "" {
			return fmt.Errorf("network %q: server address is required", n.Name)
		}
	case "websocket":
		if n.GatewayURL == "" {
			return fmt.Errorf("network %q: gateway_url is required for websocket transport", n.Name)
		}
	default:
		return fmt.Errorf("network %q: unknown transport %q", n.Name, n.Transport)
	}
	if len(n.Nicks) == 0 {
		return fmt.Errorf("network %q: at least one nickname is required", n.Name)
	}
	for _, nick := range n.Nicks {
		if strings.TrimSpace(nick) == "" {
			return fmt.Errorf("network %q: empty nickname in list", n.Name)
		}
	}
	if len(n.Channels) == 0 {
		return fmt.Errorf("network %q: at least one channel is required", n.Name)
	}
	for _, channel := range n.Channels {
		if !strings.HasPrefix(channel.Name, "#") && !strings.HasPrefix(channel.Name, "&") {
			return fmt.Errorf("network %q: invalid channel name %q", n.Name, channel.Name)
		}
	}
	return nil
}

// ChannelNames returns the network's configured channel names.
func (n *NetworkConfig) ChannelNames() []string {
	names := make([]string, 0, len(n.Channels))
	for _, channel := range n.Channels {
		names = append(names, channel.Name)
	}
	return names
}

// Settings materializes channel settings: stock values, the global
// default language, then the channel's own overrides.
func (ch *ChannelConfig) Settings(defaultLanguage string) state.ChannelSettings {
	settings := state.DefaultSettings()
	if defaultLanguage != "" {
		settings.Language = defaultLanguage
	}
	if ch.Language != "" {
		settings.Language = ch.Language
	}
	if ch.MinSpawnSecs > 0 {
		settings.MinSpawn = time.Duration(ch.MinSpawnSecs) * time.Second
	}
	if ch.MaxSpawnSecs > 0 {
		settings.MaxSpawn = time.Duration(ch.MaxSpawnSecs) * time.Second
	}
	if ch.GoldRatio > 0 {
		settings.GoldRatio = ch.GoldRatio
	}
	if ch.MaxDucks > 0 {
		settings.MaxDucks = ch.MaxDucks
	}
	if ch.DespawnSecs > 0 {
		settings.DespawnTime = time.Duration(ch.DespawnSecs) * time.Second
	}
	if ch.DetectorLeadSecs > 0 {
		settings.DetectorLead = time.Duration(ch.DetectorLeadSecs) * time.Second
	}
	return settings
}

// Network returns the configuration for the named network, nil when
// unknown.
func (c *Config) Network(name string) *NetworkConfig {
	for _, network := range c.Networks {
		if strings.EqualFold(network.Name, name) {
			return network
		}
	}
	return nil
}

// IsOwner reports whether a nick is a configured owner on a network.
func (c *Config) IsOwner(network, nick string) bool {
	n := c.Network(network)
	return n != nil && n.IsOwner(nick)
}

// IsAdmin reports whether a nick is an owner or admin on a network.
func (c *Config) IsAdmin(network, nick string) bool {
	n := c.Network(network)
	return n != nil && n.IsAdmin(nick)
}

// IsOwner reports whether a nick is a configured owner.
func (n *NetworkConfig) IsOwner(nick string) bool {
	return containsFold(n.Owners, nick)
}

// IsAdmin reports whether a nick is an owner or admin.
func (n *NetworkConfig) IsAdmin(nick string) bool {
	return n.IsOwner(nick) || containsFold(n.Admins, nick)
}

func containsFold(list []string, nick string) bool {
	for _, candidate := range list {
		if strings.EqualFold(candidate, nick) {
			return true
		}
	}
	return false
}
