package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "duckhunt.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

const validConfig = `{
	"database": {"database_path": "/tmp/hunt.db"},
	"send_interval_ms": 250,
	"default_language": "fr",
	"networks": [
		{
			"name": "libera",
			"server": "irc.libera.chat:6697",
			"ssl": true,
			"nicks": ["ducky", "ducky_", "ducky__"],
			"owners": ["boss"],
			"admins": ["helper"],
			"channels": [
				{"name": "#pond"},
				{"name": "#lake", "language": "en", "min_spawn": 60, "max_spawn": 120, "max_ducks": 3}
			]
		}
	]
}`

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, validConfig)
	config, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if config.Database.DatabasePath != "/tmp/hunt.db" {
		t.Errorf("unexpected database path %q", config.Database.DatabasePath)
	}
	if config.SendInterval != 250*time.Millisecond {
		t.Errorf("unexpected send interval %v", config.SendInterval)
	}
	if len(config.Networks) != 1 {
		t.Fatalf("expected 1 network, got %d", len(config.Networks))
	}

	network := config.Networks[0]
	if network.Name != "libera" || !network.SSL {
		t.Errorf("unexpected network: %+v", network)
	}
	if got := network.ChannelNames(); len(got) != 2 || got[0] != "#pond" {
		t.Errorf("unexpected channel names: %v", got)
	}
	if !network.IsOwner("Boss") {
		t.Error("owner match must be case-insensitive")
	}
	if network.IsAdmin("stranger") {
		t.Error("stranger must not be admin")
	}
}

func TestChannelSettingsOverrides(t *testing.T) {
	path := writeConfigFile(t, validConfig)
	config, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	// #pond inherits stock settings plus the global language.
	pond := config.Networks[0].Channels[0].Settings(config.DefaultLanguage)
	if pond.Language != "fr" {
		t.Errorf("expected global default language fr, got %q", pond.Language)
	}
	if pond.MinSpawn != 600*time.Second || pond.MaxDucks != 5 {
		t.Errorf("expected stock settings, got %+v", pond)
	}

	// #lake overrides language and spawn behavior.
	lake := config.Networks[0].Channels[1].Settings(config.DefaultLanguage)
	if lake.Language != "en" {
		t.Errorf("expected per-channel language en, got %q", lake.Language)
	}
	if lake.MinSpawn != 60*time.Second || lake.MaxSpawn != 120*time.Second || lake.MaxDucks != 3 {
		t.Errorf("expected overridden spawn settings, got %+v", lake)
	}
	if lake.DespawnTime != 700*time.Second {
		t.Errorf("untouched settings must keep defaults, got %v", lake.DespawnTime)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DUCKHUNT_DB_PATH", "/env/hunt.db")
	t.Setenv("DUCKHUNT_SEND_INTERVAL", "750ms")
	t.Setenv("DUCKHUNT_FAREWELL", "gone fishing")

	path := writeConfigFile(t, `{
		"networks": [{"name": "n", "server": "irc.example.net:6667",
			"nicks": ["ducky"], "channels": [{"name": "#pond"}]}]
	}`)
	config, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if config.Database.DatabasePath != "/env/hunt.db" {
		t.Errorf("expected env database path, got %q", config.Database.DatabasePath)
	}
	if config.SendInterval != 750*time.Millisecond {
		t.Errorf("expected env send interval, got %v", config.SendInterval)
	}
	if config.Farewell != "gone fishing" {
		t.Errorf("expected env farewell, got %q", config.Farewell)
	}
}

// The file wins over the environment for values it sets.
func TestFileBeatsEnv(t *testing.T) {
	t.Setenv("DUCKHUNT_DB_PATH", "/env/hunt.db")
	path := writeConfigFile(t, validConfig)
	config, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if config.Database.DatabasePath != "/tmp/hunt.db" {
		t.Errorf("expected file database path to win, got %q", config.Database.DatabasePath)
	}
}

func TestValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"no networks", `{}`, "at least one network"},
		{"no nicks", `{"networks": [{"name": "n", "server": "irc.example.net:6667",
			"channels": [{"name": "#pond"}]}]}`, "nickname"},
		{"no server", `{"networks": [{"name": "n", "nicks": ["ducky"],
			"channels": [{"name": "#pond"}]}]}`, "server address"},
		{"bad channel", `{"networks": [{"name": "n", "server": "irc.example.net:6667",
			"nicks": ["ducky"], "channels": [{"name": "pond"}]}]}`, "invalid channel name"},
		{"no channels", `{"networks": [{"name": "n", "server": "irc.example.net:6667",
			"nicks": ["ducky"]}]}`, "at least one channel"},
		{"duplicate network", `{"networks": [
			{"name": "n", "server": "a:6667", "nicks": ["d"], "channels": [{"name": "#p"}]},
			{"name": "n", "server": "b:6667", "nicks": ["d"], "channels": [{"name": "#p"}]}]}`,
			"declared twice"},
		{"bad transport", `{"networks": [{"name": "n", "transport": "carrier-pigeon",
			"nicks": ["ducky"], "channels": [{"name": "#pond"}]}]}`, "unknown transport"},
		{"websocket needs url", `{"networks": [{"name": "n", "transport": "websocket",
			"nicks": ["ducky"], "channels": [{"name": "#pond"}]}]}`, "gateway_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error mentioning %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected an error for a missing config file")
	}
}

func TestOwnerAndAdminLookup(t *testing.T) {
	config, err := Load(writeConfigFile(t, validConfig))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if !config.IsOwner("libera", "boss") || !config.IsOwner("LIBERA", "BOSS") {
		t.Error("expected boss recognized as owner case-insensitively")
	}
	if config.IsOwner("libera", "helper") {
		t.Error("an admin must not pass the owner check")
	}
	if !config.IsAdmin("libera", "helper") || !config.IsAdmin("libera", "boss") {
		t.Error("expected both helper and boss to pass the admin check")
	}
	if config.IsAdmin("libera", "rando") {
		t.Error("a regular nick must not pass the admin check")
	}
	if config.IsAdmin("freenode", "boss") {
		t.Error("an unknown network grants nothing")
	}
}
