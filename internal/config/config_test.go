package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "nifty-options-engine/internal/errors"
	"nifty-options-engine/internal/models"
)

func TestLoadCreatesTemplates(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("NIFTY_ENGINE_LIVE", "")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "config.toml"))
	info, err := os.Stat(filepath.Join(dir, "credentials.toml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	assert.Equal(t, models.ModeAuto, cfg.Engine.Mode)
	assert.Equal(t, models.ExitTrailing, cfg.Engine.ExitStyle)
	assert.Equal(t, 75, cfg.Engine.Quantity)
	assert.Equal(t, 60*time.Second, cfg.Bias.Window)
	assert.Equal(t, 2*time.Second, cfg.Trading.FillConfirmDelay)
	assert.Equal(t, 20*time.Minute, cfg.Feed.Retention)
	assert.Equal(t, filepath.Join(dir, "engine.db"), cfg.Store.Path)
	assert.False(t, cfg.IsLive())
}

func TestLoadReadsFileAndClampsTarget(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("NIFTY_ENGINE_LIVE", "")
	content := `
[engine]
mode = "EXPIRY"
exit_style = "TARGET"
target_pct = 250
max_trades_per_day = 1

[bias]
window = "90s"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, models.ModeExpiry, cfg.Engine.Mode)
	assert.Equal(t, models.ExitTarget, cfg.Engine.ExitStyle)
	assert.InDelta(t, models.MaxTargetPct, cfg.Engine.TargetPct, 1e-9)
	assert.Equal(t, 1, cfg.Engine.MaxTradesPerDay)
	assert.Equal(t, 90*time.Second, cfg.Bias.Window)

	opts := cfg.EngineOptions()
	assert.Equal(t, cfg.Engine, opts.Config)
	assert.False(t, opts.Live)
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ZERODHA_API_KEY", "key123")
	t.Setenv("ZERODHA_USER_ID", "AB1234")
	t.Setenv("NIFTY_ENGINE_LIVE", "true")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.True(t, cfg.IsLive())
	assert.Equal(t, "key123", cfg.Credentials.Zerodha.APIKey)
	assert.Equal(t, "AB1234", cfg.Credentials.Zerodha.UserID)
}

func TestValidateRejectsLiveZerodhaWithoutKey(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("NIFTY_ENGINE_LIVE", "")
	t.Setenv("ZERODHA_API_KEY", "")
	content := `
[trading]
mode = "live"
broker = "zerodha"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0644))

	_, err := Load(dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrConfigInvalid)
}

func TestValidateRetention(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("NIFTY_ENGINE_LIVE", "")
	cfg, err := Load(dir)
	require.NoError(t, err)

	cfg.Feed.Retention = 5 * time.Minute
	assert.ErrorIs(t, cfg.Validate(), apperrors.ErrConfigInvalid)
}
