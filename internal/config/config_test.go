package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ownerAddr = "0x00000000000000000000000000000000000000a1"

func validConfig() Config {
	cfg := Defaults()
	cfg.Auth.JWTSecret = "0123456789abcdef0123"
	cfg.Roles.Owner = ownerAddr
	return cfg
}

func TestDefaultsNeedSecretAndOwner(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt_secret")
	assert.Contains(t, err.Error(), "owner")

	cfg = validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Driver = "mysql"
	cfg.Fees.ProtocolBps = 2_000
	cfg.Fees.ProtectionBps = 600
	cfg.Roles.Confirmers = []string{"not-an-address"}
	cfg.Relay.Enabled = true
	cfg.Relay.BatchSize = 0

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"database", "fees", "roles", "batch_size"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level = "debug"

[server]
port = 9090

[auth]
jwt_secret = "file-secret-file-secret"
token_ttl = "1h"

[[auth.credentials]]
api_key = "ops"
api_secret = "ops-secret"
principal = "`+ownerAddr+`"

[fees]
protocol_bps = 100
protection_bps = 25
max_total_bps = 500

[roles]
owner = "`+ownerAddr+`"

[relay]
interval = "750ms"
`), 0o600))

	t.Setenv("NULL_LEDGER_PORT", "9191")
	t.Setenv("NULL_LEDGER_CONFIRMERS", " 0x00000000000000000000000000000000000000c1 , ,0x00000000000000000000000000000000000000c2")
	t.Setenv("NULL_LEDGER_PROTECTION_BPS", "40")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL.Duration)
	require.Len(t, cfg.Auth.Credentials, 1)
	assert.Equal(t, "ops", cfg.Auth.Credentials[0].APIKey)
	assert.Equal(t, uint32(100), cfg.Fees.ProtocolBps)
	assert.Equal(t, uint32(40), cfg.Fees.ProtectionBps)
	assert.Equal(t, uint32(500), cfg.Fees.MaxTotalBps)
	assert.Len(t, cfg.Roles.Confirmers, 2)
	assert.Equal(t, 750*time.Millisecond, cfg.Relay.Interval.Duration)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}
