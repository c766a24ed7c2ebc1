package config

// Config mirrors config.toml. Field names follow the on-disk TOML keys.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Relays   RelayConfig    `toml:"relays"`
	Cache    CacheConfig    `toml:"cache"`
	FreeTier FreeTierConfig `toml:"free_tier"`
	Pricing  PricingConfig  `toml:"pricing"`
	Payment  PaymentConfig  `toml:"payment"`
}

type ServerConfig struct {
	Name      string `toml:"name"`
	Version   string `toml:"version"`
	Transport string `toml:"transport"`
	HTTPPort  int    `toml:"http_port"`
}

type RelayConfig struct {
	Default []string `toml:"default"`
}

type CacheConfig struct {
	DatabasePath        string `toml:"database_path"`
	ProfileTTLSeconds   int64  `toml:"profile_ttl_seconds"`
	RelayInfoTTLSeconds int64  `toml:"relay_info_ttl_seconds"`
}

type FreeTierConfig struct {
	CallsPerDay uint32 `toml:"calls_per_day"`
}

type PricingConfig struct {
	SearchEventsBase uint64 `toml:"search_events_base"`
	RelayDiscovery   uint64 `toml:"relay_discovery"`
	TrendingNotes    uint64 `toml:"trending_notes"`
	GetFollowerGraph uint64 `toml:"get_follower_graph"`
	ZapAnalytics     uint64 `toml:"zap_analytics"`
}

type PaymentConfig struct {
	NWCURL               string `toml:"nwc_url"`
	InvoiceExpirySeconds uint64 `toml:"invoice_expiry_seconds"`
	L402Secret           string `toml:"l402_secret"`
	EnableL402           bool   `toml:"enable_l402"`
	EnableX402           bool   `toml:"enable_x402"`
}

// Default returns the config used when config.toml omits optional keys.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Name:      "nostr-intel",
			Version:   "0.1.0",
			Transport: "stdio",
			HTTPPort:  3000,
		},
		Relays: RelayConfig{
			Default: []string{
				"wss://relay.damus.io",
				"wss://nos.lol",
				"wss://relay.nostr.band",
			},
		},
		Cache: CacheConfig{
			DatabasePath:        "./data/nostr-intel.db",
			ProfileTTLSeconds:   3600,
			RelayInfoTTLSeconds: 1800,
		},
		FreeTier: FreeTierConfig{
			CallsPerDay: 10,
		},
		Pricing: PricingConfig{
			SearchEventsBase: 10,
			RelayDiscovery:   10,
			TrendingNotes:    21,
			GetFollowerGraph: 30,
			ZapAnalytics:     30,
		},
		Payment: PaymentConfig{
			InvoiceExpirySeconds: 3600,
		},
	}
}
