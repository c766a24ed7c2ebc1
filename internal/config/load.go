package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"nostrintel/internal/model"
)

// Load builds config with precedence: defaults → config.toml → env vars.
// Recognised env overrides: NWC_URL, L402_SECRET, MCP_TRANSPORT.
func Load(path string) (*Config, error) {
	// Optional local dotenv for developer ergonomics. Explicit env wins:
	// godotenv never overwrites variables that are already set.
	_ = godotenv.Load()

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: cannot read %s: %v", model.ErrConfig, path, err)
		}
	} else if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: malformed TOML in %s: %v", model.ErrConfig, path, err)
	}

	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("NWC_URL")); v != "" {
		cfg.Payment.NWCURL = v
	}
	if v := strings.TrimSpace(os.Getenv("L402_SECRET")); v != "" {
		cfg.Payment.L402Secret = v
	}
	if v := strings.TrimSpace(os.Getenv("MCP_TRANSPORT")); v != "" {
		cfg.Server.Transport = v
	}
}

func validate(cfg *Config) error {
	switch cfg.Server.Transport {
	case "stdio", "http":
	default:
		return fmt.Errorf("%w: server.transport must be stdio or http, got %q", model.ErrConfig, cfg.Server.Transport)
	}
	if cfg.Server.HTTPPort < 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("%w: server.http_port out of range: %d", model.ErrConfig, cfg.Server.HTTPPort)
	}
	if len(cfg.Relays.Default) == 0 {
		return fmt.Errorf("%w: relays.default must list at least one relay", model.ErrConfig)
	}
	if strings.TrimSpace(cfg.Cache.DatabasePath) == "" {
		return fmt.Errorf("%w: cache.database_path is required", model.ErrConfig)
	}
	if cfg.Cache.ProfileTTLSeconds <= 0 || cfg.Cache.RelayInfoTTLSeconds <= 0 {
		return fmt.Errorf("%w: cache TTLs must be positive", model.ErrConfig)
	}
	return nil
}
