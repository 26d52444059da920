package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsFromEnvOnly(t *testing.T) {
	cfg, err := Load("", true)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, int64(100_000_000), cfg.Auction.MinIncrement)
	assert.Equal(t, time.Hour, cfg.Auction.Cooldown)
	assert.Equal(t, int64(750), cfg.Auction.FeeBps)
	assert.Equal(t, 5, cfg.Auction.QueuePreview)
	assert.Equal(t, 100, cfg.Auction.BidHistoryLimit)
	assert.Equal(t, 1.5, cfg.Auction.AdminGasMultiplier)
	assert.Equal(t, uint64(300_000_000), cfg.Auction.UserGasFloor)
	assert.Equal(t, "0x6", cfg.Chain.ClockID)
	assert.Equal(t, "@every 1m", cfg.Cron.AutoActivate)
	assert.Equal(t, 3, cfg.Retry.StoreAttempts)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("auction:\n  fee_bps: 500\n  cooldown: 30m\nchain:\n  kiosk_id: \"0x88\"\n"), 0o600))
	t.Setenv("AH_AUCTION_FEE_BPS", "250")
	t.Setenv("AH_AUTH_JWT_SECRET", "s3cret")

	cfg, err := Load(path, false)
	require.NoError(t, err)
	assert.Equal(t, int64(250), cfg.Auction.FeeBps)
	assert.Equal(t, 30*time.Minute, cfg.Auction.Cooldown)
	assert.Equal(t, "0x88", cfg.Chain.KioskID)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), false)
	assert.Error(t, err)
}
