package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClockTime(t *testing.T) {
	ct, err := ParseClockTime("09:25")
	require.NoError(t, err)
	assert.Equal(t, 9, ct.Hour)
	assert.Equal(t, 25, ct.Minute)
	assert.Equal(t, 9*60+25, ct.Minutes())
	assert.Equal(t, "09:25", ct.String())

	for _, bad := range []string{"", "9", "25:00", "09:60", "ab:cd", "09-25"} {
		_, err := ParseClockTime(bad)
		assert.Error(t, err, bad)
	}
}

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DHAN_CLIENT_ID", "cid")
	t.Setenv("DHAN_CLIENT_SECRET", "sec")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10000, cfg.Port)
	assert.Equal(t, "bot_state.db", cfg.DBPath)
	assert.Equal(t, 10, cfg.MaxTradesPerDay)
	assert.InDelta(t, 0.20, cfg.MaxDrawdownPct, 1e-9)
	assert.Equal(t, "09:25", cfg.TradingStart.String())
	assert.Equal(t, "15:00", cfg.TradingEnd.String())
	assert.Equal(t, "https://api.dhan.co/v2", cfg.APIBase)
}

func TestLoadRequiresCredentials(t *testing.T) {
	t.Setenv("DHAN_CLIENT_ID", "")
	t.Setenv("DHAN_CLIENT_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsInvertedWindow(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TRADING_START", "15:00")
	t.Setenv("TRADING_END", "09:25")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsBadTimezone(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TRADING_TIMEZONE", "Mars/OlympusMons")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsBadDrawdown(t *testing.T) {
	setRequiredEnv(t)
	for _, v := range []string{"0", "1", "1.5", "-0.2"} {
		t.Setenv("MAX_DRAWDOWN_PCT", v)
		_, err := Load()
		assert.Error(t, err, v)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MAX_TRADES_PER_DAY", "3")
	t.Setenv("TRADING_TIMEZONE", "Asia/Kolkata")
	t.Setenv("PORT", "8080")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxTradesPerDay)
	assert.Equal(t, "Asia/Kolkata", cfg.Timezone)
	assert.Equal(t, 8080, cfg.Port)
}
