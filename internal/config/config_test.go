package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsWithMemoryStore(t *testing.T) {
	path := writeConfig(t, "alerting:\n  store: memory\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "fundingd", cfg.App.Name)
	assert.Equal(t, 3*time.Minute, cfg.Scheduler.RefreshInterval)
	assert.Equal(t, time.Minute, cfg.Scheduler.AlertInterval)
	assert.Equal(t, 8*time.Second, cfg.Venues.Timeout)
	assert.Equal(t, LockNone, cfg.Scheduler.LockBackend)
	assert.Equal(t, 4, cfg.Alerting.Workers)
	assert.Equal(t, []string{"dydx", "hyperliquid", "paradex", "extended"}, cfg.EnabledVenues())
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "alerting:\n  store: memory\n")
	t.Setenv("FUNDINGD_SCHEDULER_REFRESH_INTERVAL", "5m")
	t.Setenv("FUNDINGD_VENUES_PARADEX_ENABLED", "false")
	t.Setenv("FUNDINGD_ALERTING_TELEGRAM_BOT_TOKEN", "secret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.RefreshInterval)
	assert.False(t, cfg.Venues.Paradex.Enabled)
	assert.Equal(t, "secret", cfg.Alerting.Telegram.BotToken)
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cases := map[string]string{
		"postgres store without dsn": "alerting:\n  store: postgres\n",
		"unknown lock backend":       "alerting:\n  store: memory\nscheduler:\n  lock_backend: etcd\n",
		"postgres lock without dsn":  "alerting:\n  store: memory\nscheduler:\n  lock_backend: postgres\n",
		"timeout exceeds refresh":    "alerting:\n  store: memory\nscheduler:\n  refresh_interval: 5s\n",
		"single venue": "alerting:\n  store: memory\nvenues:\n  dydx:\n    enabled: false\n" +
			"  hyperliquid:\n    enabled: false\n  paradex:\n    enabled: false\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestResolveMaxRows(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxRows: 20}}
	assert.Equal(t, 20, cfg.ResolveMaxRows(0))
	assert.Equal(t, 5, cfg.ResolveMaxRows(5))
}
