package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ksred/null-ledger/internal/fees"
	"github.com/ksred/null-ledger/internal/types"
)

// Config is the full service configuration.
type Config struct {
	Environment string `toml:"environment"`
	LogLevel    string `toml:"log_level"`
	LogFile     string `toml:"log_file"`

	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Database DatabaseConfig `toml:"database"`
	Fees     fees.Schedule  `toml:"fees"`
	Roles    RolesConfig    `toml:"roles"`
	Redis    RedisConfig    `toml:"redis"`
	Relay    RelayConfig    `toml:"relay"`
}

type ServerConfig struct {
	Port            int      `toml:"port"`
	MetricsEnabled  bool     `toml:"metrics_enabled"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
}

type AuthConfig struct {
	JWTSecret   string           `toml:"jwt_secret"`
	TokenTTL    duration         `toml:"token_ttl"`
	Credentials []CredentialSpec `toml:"credentials"`
}

// CredentialSpec binds an API key pair to a principal address.
type CredentialSpec struct {
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`
	Principal string `toml:"principal"`
}

type DatabaseConfig struct {
	Driver string `toml:"driver"` // sqlite or postgres
	DSN    string `toml:"dsn"`
}

// RolesConfig bootstraps the role registry at startup.
type RolesConfig struct {
	Owner      string   `toml:"owner"`
	Confirmers []string `toml:"confirmers"`
	Issuers    []string `toml:"issuers"`
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Stream   string `toml:"stream"`
	Channel  string `toml:"channel"`
}

type RelayConfig struct {
	Enabled   bool     `toml:"enabled"`
	Interval  duration `toml:"interval"`
	BatchSize int      `toml:"batch_size"`
}

// duration wraps time.Duration so TOML can decode strings like "5s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a configuration that runs locally against SQLite.
func Defaults() Config {
	return Config{
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			MetricsEnabled:  true,
			ShutdownTimeout: duration{10 * time.Second},
		},
		Auth: AuthConfig{
			TokenTTL: duration{24 * time.Hour},
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "null-ledger.db",
		},
		Fees: fees.Schedule{
			ProtocolBps:   769,
			ProtectionBps: 50,
			MaxTotalBps:   fees.DefaultMaxTotalBps,
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Stream:  "null-ledger:events",
			Channel: "null-ledger.events",
		},
		Relay: RelayConfig{
			Interval:  duration{2 * time.Second},
			BatchSize: 100,
		},
	}
}

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q", c.LogLevel))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port %d out of range", c.Server.Port))
	}
	if len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, "auth: jwt_secret must be at least 16 bytes")
	}
	if c.Auth.TokenTTL.Duration <= 0 {
		errs = append(errs, "auth: token_ttl must be positive")
	}
	for i, cred := range c.Auth.Credentials {
		if cred.APIKey == "" || cred.APISecret == "" {
			errs = append(errs, fmt.Sprintf("auth: credentials[%d] needs api_key and api_secret", i))
		}
		if _, err := types.ParseAddress(cred.Principal); err != nil {
			errs = append(errs, fmt.Sprintf("auth: credentials[%d] principal: %v", i, err))
		}
	}

	switch strings.ToLower(c.Database.Driver) {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("database: unknown driver %q (valid: sqlite, postgres)", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, "database: dsn must not be empty")
	}

	if err := c.Fees.Validate(); err != nil {
		errs = append(errs, "fees: "+err.Error())
	}

	if _, err := types.ParseAddress(c.Roles.Owner); err != nil {
		errs = append(errs, fmt.Sprintf("roles: owner: %v", err))
	}
	for _, a := range append(append([]string{}, c.Roles.Confirmers...), c.Roles.Issuers...) {
		if _, err := types.ParseAddress(a); err != nil {
			errs = append(errs, fmt.Sprintf("roles: %v", err))
		}
	}

	if c.Relay.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr required when relay is enabled")
		}
		if c.Redis.Stream == "" && c.Redis.Channel == "" {
			errs = append(errs, "redis: stream or channel required when relay is enabled")
		}
		if c.Relay.Interval.Duration <= 0 {
			errs = append(errs, "relay: interval must be positive")
		}
		if c.Relay.BatchSize <= 0 {
			errs = append(errs, "relay: batch_size must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
