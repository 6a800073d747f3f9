package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, int64(110), cfg.Protocol.MinHealthBorrowPct)
	assert.Equal(t, int64(150), cfg.Protocol.MinHealthExitPct)
	assert.Equal(t, "65000000000", cfg.Protocol.BtcPriceRaw)
	assert.Equal(t, "1000000", cfg.Protocol.UsdcPriceRaw)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9000
prover:
  baseUrl: http://prover.internal:3030
  timeout: 300
protocol:
  minHealthBorrowPct: 120
  minHealthExitPct: 160
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "http://prover.internal:3030", cfg.Prover.BaseURL)
	assert.Equal(t, int64(120), cfg.Protocol.MinHealthBorrowPct)
	// Untouched fields keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

func TestLoadRejectsBadThresholds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
protocol:
  minHealthBorrowPct: 90
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("VESTAZK_PROVER_URL", "http://override:1234")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://override:1234", cfg.Prover.BaseURL)
}
