package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const envPrefix = "NULL_LEDGER_"

// Load merges the TOML file at path (if any) over Defaults, loads a .env file
// when present and applies NULL_LEDGER_* overrides. The result is not
// validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Environment, "ENVIRONMENT")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
	setStr(&cfg.LogFile, "LOG_FILE")

	setInt(&cfg.Server.Port, "PORT")
	setBool(&cfg.Server.MetricsEnabled, "METRICS_ENABLED")
	setDuration(&cfg.Server.ShutdownTimeout, "SHUTDOWN_TIMEOUT")

	setStr(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setDuration(&cfg.Auth.TokenTTL, "TOKEN_TTL")

	setStr(&cfg.Database.Driver, "DATABASE_DRIVER")
	setStr(&cfg.Database.DSN, "DATABASE_DSN")

	setUint32(&cfg.Fees.ProtocolBps, "PROTOCOL_BPS")
	setUint32(&cfg.Fees.ProtectionBps, "PROTECTION_BPS")
	setUint32(&cfg.Fees.MaxTotalBps, "MAX_TOTAL_BPS")

	setStr(&cfg.Roles.Owner, "OWNER")
	setStringSlice(&cfg.Roles.Confirmers, "CONFIRMERS")
	setStringSlice(&cfg.Roles.Issuers, "ISSUERS")

	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setStr(&cfg.Redis.Stream, "REDIS_STREAM")
	setStr(&cfg.Redis.Channel, "REDIS_CHANNEL")

	setBool(&cfg.Relay.Enabled, "RELAY_ENABLED")
	setDuration(&cfg.Relay.Interval, "RELAY_INTERVAL")
	setInt(&cfg.Relay.BatchSize, "RELAY_BATCH_SIZE")
}

// Each helper only touches dst when the variable is set and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint32(dst *uint32, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			*dst = uint32(n)
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		*dst = cleaned
	}
}
