package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"nostrintel/internal/model"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	return path
}

func clearEnvOverrides(t *testing.T) {
	t.Helper()
	t.Setenv("NWC_URL", "")
	t.Setenv("L402_SECRET", "")
	t.Setenv("MCP_TRANSPORT", "")
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnvOverrides(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Transport != "stdio" || cfg.Server.HTTPPort != 3000 {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
	if cfg.FreeTier.CallsPerDay != 10 {
		t.Fatalf("unexpected free tier default: %d", cfg.FreeTier.CallsPerDay)
	}
	if len(cfg.Relays.Default) != 3 {
		t.Fatalf("unexpected relay defaults: %v", cfg.Relays.Default)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	clearEnvOverrides(t)
	path := writeConfig(t, `
[server]
transport = "http"
http_port = 8080

[free_tier]
calls_per_day = 3

[pricing]
search_events_base = 42
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Transport != "http" || cfg.Server.HTTPPort != 8080 {
		t.Fatalf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.FreeTier.CallsPerDay != 3 {
		t.Fatalf("unexpected free tier: %d", cfg.FreeTier.CallsPerDay)
	}
	if cfg.Pricing.SearchEventsBase != 42 {
		t.Fatalf("unexpected pricing: %+v", cfg.Pricing)
	}
	// Untouched sections keep their defaults.
	if cfg.Cache.ProfileTTLSeconds != 3600 {
		t.Fatalf("unexpected cache config: %+v", cfg.Cache)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnvOverrides(t)
	path := writeConfig(t, `
[server]
transport = "stdio"

[payment]
nwc_url = "nostr+walletconnect://from-file"
`)

	t.Setenv("NWC_URL", "nostr+walletconnect://from-env")
	t.Setenv("MCP_TRANSPORT", "http")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Payment.NWCURL != "nostr+walletconnect://from-env" {
		t.Fatalf("env must win: %q", cfg.Payment.NWCURL)
	}
	if cfg.Server.Transport != "http" {
		t.Fatalf("env must win: %q", cfg.Server.Transport)
	}
}

func TestLoad_RejectsBadConfig(t *testing.T) {
	clearEnvOverrides(t)

	cases := []struct {
		name    string
		content string
	}{
		{"bad transport", "[server]\ntransport = \"websocket\"\n"},
		{"port out of range", "[server]\nhttp_port = 70000\n"},
		{"no relays", "[relays]\ndefault = []\n"},
		{"empty db path", "[cache]\ndatabase_path = \" \"\n"},
		{"zero ttl", "[cache]\nprofile_ttl_seconds = 0\n"},
		{"malformed toml", "[server\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, model.ErrConfig) {
				t.Fatalf("expected config error, got %v", err)
			}
		})
	}
}
