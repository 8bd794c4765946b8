package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.Minute, cfg.TickInterval())
	assert.True(t, cfg.Trading.DryRun, "stock config must not trade live")
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
trading:
  quote: usd
  timeStep: 300
  profitMargin: 0.02
log:
  level: debug
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "usd", cfg.Trading.Quote)
	assert.Equal(t, 300, cfg.Trading.TimeStep)
	assert.Equal(t, 0.02, cfg.Trading.ProfitMargin)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Untouched keys keep their defaults.
	assert.Equal(t, "btc", cfg.Trading.Base)
	assert.Equal(t, 60, cfg.Trading.Steps)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"bad time step":  "trading:\n  timeStep: 61\n",
		"zero steps":     "trading:\n  steps: 0\n",
		"steps too high": "trading:\n  steps: 1001\n",
		"margin at one":  "trading:\n  profitMargin: 1.0\n",
		"zero margin":    "trading:\n  profitMargin: 0\n",
		"empty base":     "trading:\n  base: \"\"\n",
		"zero tick":      "trading:\n  tickIntervalSeconds: 0\n",
	}
	for name, yaml := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadCredentialsEnvWinsOverFiles(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "key")
	secretFile := filepath.Join(dir, "secret")
	require.NoError(t, os.WriteFile(keyFile, []byte("filekey\n"), 0o600))
	require.NoError(t, os.WriteFile(secretFile, []byte("filesecret\n"), 0o600))

	cfg := Default()
	cfg.Exchange.KeyFile = keyFile
	cfg.Exchange.SecretFile = secretFile

	t.Setenv("EXCHANGE_API_KEY", "envkey")
	t.Setenv("EXCHANGE_API_SECRET", "")

	key, secret := cfg.LoadCredentials()
	assert.Equal(t, "envkey", key)
	// The file value is trimmed of the trailing newline.
	assert.Equal(t, "filesecret", secret)
}

func TestLoadCredentialsMissingEverything(t *testing.T) {
	t.Setenv("EXCHANGE_API_KEY", "")
	t.Setenv("EXCHANGE_API_SECRET", "")

	cfg := Default()
	cfg.Exchange.KeyFile = filepath.Join(t.TempDir(), "absent")

	key, secret := cfg.LoadCredentials()
	assert.Empty(t, key)
	assert.Empty(t, secret)
}
