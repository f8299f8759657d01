package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settled.hcl")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.hcl"))
	require.NoError(t, err)
	assert.Equal(t, ":8090", cfg.Server.Address)
	assert.Equal(t, float64(5), cfg.Rake.Percent)
	assert.Equal(t, "", cfg.Rake.WalletAddress, "rake is disabled by default")
	assert.Equal(t, "settled.db", cfg.Store.Path)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server {
  address   = ":9999"
  log_level = "debug"
}

rake {
  wallet_address = "RakeWallet1111111111111111111111"
  percent        = 2.5
  min_pot_raw    = 5000
}

signer {
  url        = "http://signer:9010"
  timeout_ms = 10000
}

store {
  path = "/var/lib/settled/matches.db"
}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Address)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, 2.5, cfg.Rake.Percent)
	assert.Equal(t, int64(5000), cfg.Rake.MinPotRaw)
	assert.Equal(t, "http://signer:9010", cfg.Signer.URL)
	assert.Equal(t, "/var/lib/settled/matches.db", cfg.Store.Path)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
rake {
  wallet_address = "FromFile111111111111111111111111"
}
`)
	t.Setenv("SETTLED_RAKE_WALLET", "FromEnv11111111111111111111111111")
	t.Setenv("SETTLED_SIGNER_URL", "http://env-signer:9010")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "FromEnv11111111111111111111111111", cfg.Rake.WalletAddress)
	assert.Equal(t, "http://env-signer:9010", cfg.Signer.URL)
}

func TestValidateRejectsBadPercent(t *testing.T) {
	path := writeConfig(t, `
rake {
  percent = 120
}
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rake percent")
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := writeConfig(t, `server { address = `)
	_, err := Load(path)
	require.Error(t, err)
}
