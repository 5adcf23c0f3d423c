// Package config loads and validates gateway configuration.
//
// DESIGN: Configuration comes from a YAML file with environment variable
// overrides for secrets (SCANFORGE_* vars win over file values). Each section
// has its own Validate() so errors name the offending key.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root gateway configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Sessions SessionConfig  `yaml:"sessions"`
	Cost     CostConfig     `yaml:"cost"`
	Auth     AuthConfig     `yaml:"auth"`
	Plans    PlansConfig    `yaml:"plans"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// UpstreamConfig holds settings for the external analysis provider.
type UpstreamConfig struct {
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// AWS SigV4 signing for AWS-hosted analysis endpoints. When Region and
	// Service are set, requests are signed instead of carrying the API key.
	SigV4 SigV4Config `yaml:"sigv4"`
}

// SigV4Config enables AWS request signing for the upstream call.
type SigV4Config struct {
	Enabled bool   `yaml:"enabled"`
	Region  string `yaml:"region"`
	Service string `yaml:"service"`
}

// Configured reports whether an upstream endpoint is set. Entry points that
// would reserve credits must fail fast when this is false.
func (u *UpstreamConfig) Configured() bool {
	return u.BaseURL != ""
}

// LedgerConfig holds credit ledger settings.
type LedgerConfig struct {
	// Path to the sqlite database holding balances and the audit journal.
	// Empty means a memory-only ledger (tests, ephemeral deployments).
	DBPath string `yaml:"db_path"`

	// Seed grants initial balances to accounts that do not exist yet.
	// Existing balances are never overwritten.
	Seed map[string]int64 `yaml:"seed"`
}

// SessionConfig holds session store settings.
type SessionConfig struct {
	TTL                time.Duration `yaml:"ttl"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	CompletedGrace     time.Duration `yaml:"completed_grace"`
	MaxSessionLifetime time.Duration `yaml:"max_lifetime"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
}

// CostConfig holds scan cost computation settings.
type CostConfig struct {
	// Unit is how many size units map to one credit.
	Unit int `yaml:"unit"`
	// Sizing selects what "size" means: "bytes" (default) or "tokens"
	// (tiktoken cl100k_base count of the submitted content).
	Sizing string `yaml:"sizing"`
	// LanguageFactors adds a per-language complexity surcharge to the cost.
	LanguageFactors map[string]int `yaml:"language_factors"`
}

// AuthConfig holds caller identity verification settings.
//
// A single explicitly configured secret is used for token verification.
// Trying multiple fallback secrets in sequence is deliberately unsupported.
type AuthConfig struct {
	Secret string `yaml:"secret"`
	// Accounts maps bearer tokens to account IDs. Used by the bundled static
	// verifier; production deployments plug in their own identity collaborator.
	Accounts map[string]string `yaml:"accounts"`
}

// PlansConfig maps account IDs to plan tiers and tiers to limits.
type PlansConfig struct {
	DefaultTier string              `yaml:"default_tier"`
	Tiers       map[string]TierInfo `yaml:"tiers"`
	Accounts    map[string]string   `yaml:"accounts"`
}

// TierInfo holds the per-request limits of one plan tier.
type TierInfo struct {
	MaxScanCost int `yaml:"max_scan_cost"`
}

// TelemetryConfig holds JSONL telemetry settings.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	LogPath     string `yaml:"log_path"`
	LogToStdout bool   `yaml:"log_to_stdout"`
}

// Load reads configuration from path (optional) and applies env overrides
// and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SCANFORGE_UPSTREAM_URL"); v != "" {
		c.Upstream.BaseURL = v
	}
	if v := os.Getenv("SCANFORGE_UPSTREAM_API_KEY"); v != "" {
		c.Upstream.APIKey = v
	}
	if v := os.Getenv("SCANFORGE_AUTH_SECRET"); v != "" {
		c.Auth.Secret = v
	}
	if v := os.Getenv("SCANFORGE_LEDGER_DB"); v != "" {
		c.Ledger.DBPath = v
	}
	if v := os.Getenv("SCANFORGE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8180
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultServerReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultServerWriteTimeout
	}
	if c.Upstream.ConnectTimeout == 0 {
		c.Upstream.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Sessions.TTL == 0 {
		c.Sessions.TTL = DefaultSessionTTL
	}
	if c.Sessions.SweepInterval == 0 {
		c.Sessions.SweepInterval = DefaultSweepInterval
	}
	if c.Sessions.CompletedGrace == 0 {
		c.Sessions.CompletedGrace = DefaultCompletedGrace
	}
	if c.Sessions.MaxSessionLifetime == 0 {
		c.Sessions.MaxSessionLifetime = DefaultMaxSessionLifetime
	}
	if c.Sessions.HeartbeatInterval == 0 {
		c.Sessions.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Cost.Unit == 0 {
		c.Cost.Unit = DefaultCostUnit
	}
	if c.Cost.Sizing == "" {
		c.Cost.Sizing = "bytes"
	}
	if c.Plans.DefaultTier == "" {
		c.Plans.DefaultTier = "free"
	}
	if _, ok := c.Plans.Tiers[c.Plans.DefaultTier]; !ok {
		if c.Plans.Tiers == nil {
			c.Plans.Tiers = make(map[string]TierInfo)
		}
		c.Plans.Tiers[c.Plans.DefaultTier] = TierInfo{MaxScanCost: DefaultMaxScanCost}
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [0, 65535], got %d", c.Server.Port)
	}
	if c.Cost.Unit <= 0 {
		return fmt.Errorf("cost.unit must be > 0, got %d", c.Cost.Unit)
	}
	if c.Cost.Sizing != "bytes" && c.Cost.Sizing != "tokens" {
		return fmt.Errorf("cost.sizing must be \"bytes\" or \"tokens\", got %q", c.Cost.Sizing)
	}
	for lang, factor := range c.Cost.LanguageFactors {
		if factor < 0 {
			return fmt.Errorf("cost.language_factors[%s] must be >= 0, got %d", lang, factor)
		}
	}
	for tier, info := range c.Plans.Tiers {
		if info.MaxScanCost <= 0 {
			return fmt.Errorf("plans.tiers[%s].max_scan_cost must be > 0, got %d", tier, info.MaxScanCost)
		}
	}
	if c.Sessions.TTL < time.Minute {
		return fmt.Errorf("sessions.ttl must be >= 1m, got %s", c.Sessions.TTL)
	}
	if c.Upstream.SigV4.Enabled && (c.Upstream.SigV4.Region == "" || c.Upstream.SigV4.Service == "") {
		return fmt.Errorf("upstream.sigv4 requires region and service when enabled")
	}
	return nil
}
