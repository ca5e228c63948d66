// Package config loads settlement-engine configuration from an optional TOML
// file, a .env file, and VEILMARKET_* environment variable overrides, in that
// order. Operators inject secrets through the environment; the TOML file
// carries everything safe to commit.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config is the full process configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Protocol ProtocolConfig `toml:"protocol"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port int `toml:"port"`
}

// DatabaseConfig configures the PostgreSQL source of truth. An empty URL
// selects the in-memory store.
type DatabaseConfig struct {
	URL string `toml:"url"`
}

// RedisConfig configures the optional read-through market cache.
type RedisConfig struct {
	URL      string   `toml:"url"`
	CacheTTL duration `toml:"cache_ttl"`
}

// ProtocolConfig carries the settlement parameters written at Initialize.
type ProtocolConfig struct {
	Admin           string   `toml:"admin"`
	Oracle          string   `toml:"oracle"`
	CollateralAsset string   `toml:"collateral_asset"`
	FeeBps          uint64   `toml:"fee_bps"`
	MinLiquidity    uint64   `toml:"min_liquidity"`
	ClaimLockDelay  duration `toml:"claim_lock_delay"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server:   ServerConfig{Port: 8080},
		Redis:    RedisConfig{CacheTTL: duration{30 * time.Second}},
		Protocol: ProtocolConfig{ClaimLockDelay: duration{5 * time.Second}},
		LogLevel: "info",
	}
}

// Load reads the TOML file at path (skipped when path is empty), merges it on
// top of the defaults, loads a .env file if present, and applies VEILMARKET_*
// environment overrides. The result has not been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// Validate checks the fields the server cannot run without.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Server.Port)
	}
	if c.Protocol.Admin == "" {
		return fmt.Errorf("config: protocol.admin is required")
	}
	if c.Protocol.Oracle == "" {
		return fmt.Errorf("config: protocol.oracle is required")
	}
	if c.Protocol.ClaimLockDelay.Duration <= 0 {
		return fmt.Errorf("config: protocol.claim_lock_delay must be positive")
	}
	return nil
}

// ClaimLockDelay returns the claim lock window as a time.Duration.
func (c *Config) ClaimLockDelay() time.Duration {
	return c.Protocol.ClaimLockDelay.Duration
}

// CacheTTL returns the Redis cache TTL as a time.Duration.
func (c *Config) CacheTTL() time.Duration {
	return c.Redis.CacheTTL.Duration
}

func applyEnvOverrides(cfg *Config) {
	setInt(&cfg.Server.Port, "VEILMARKET_PORT")
	setStr(&cfg.Database.URL, "VEILMARKET_DATABASE_URL")
	setStr(&cfg.Database.URL, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Redis.URL, "VEILMARKET_REDIS_URL")
	setStr(&cfg.Redis.URL, "REDIS_URL") // compatibility alias
	setDuration(&cfg.Redis.CacheTTL, "VEILMARKET_REDIS_CACHE_TTL")

	setStr(&cfg.Protocol.Admin, "VEILMARKET_ADMIN")
	setStr(&cfg.Protocol.Oracle, "VEILMARKET_ORACLE")
	setStr(&cfg.Protocol.CollateralAsset, "VEILMARKET_COLLATERAL_ASSET")
	setUint64(&cfg.Protocol.FeeBps, "VEILMARKET_FEE_BPS")
	setUint64(&cfg.Protocol.MinLiquidity, "VEILMARKET_MIN_LIQUIDITY")
	setDuration(&cfg.Protocol.ClaimLockDelay, "VEILMARKET_CLAIM_LOCK_DELAY")

	setStr(&cfg.LogLevel, "VEILMARKET_LOG_LEVEL")
}

// duration wraps time.Duration so TOML can parse "30s" style strings.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
