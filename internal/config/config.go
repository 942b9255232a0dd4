package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries every runtime knob, resolved from the environment.
type Config struct {
	// Broker
	APIBase      string
	ClientID     string
	ClientSecret string

	// Process
	Port   int
	DBPath string

	// Risk limits
	MaxTradesPerDay int
	MaxDrawdownPct  float64
	TradingStart    ClockTime
	TradingEnd      ClockTime
	Timezone        string // empty = process-local

	// Scheduler
	SquareOffGrace time.Duration

	// Order safety layer
	MaxOrderRetries   int
	RetryBackoff      time.Duration
	OrdersPerMinCap   int
	BreakerThreshold  int
	BreakerCooldown   time.Duration
	BreakerHalfProbes int
	DupSuppressWindow time.Duration
}

// ClockTime is a wall-clock "HH:MM" boundary.
type ClockTime struct {
	Hour   int
	Minute int
}

// Minutes returns the boundary as minutes since midnight.
func (c ClockTime) Minutes() int { return c.Hour*60 + c.Minute }

func (c ClockTime) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// ParseClockTime parses "HH:MM" (24h).
func ParseClockTime(s string) (ClockTime, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return ClockTime{}, fmt.Errorf("bad clock time %q: want HH:MM", s)
	}
	hh, err := strconv.Atoi(parts[0])
	if err != nil || hh < 0 || hh > 23 {
		return ClockTime{}, fmt.Errorf("bad hour in %q", s)
	}
	mm, err := strconv.Atoi(parts[1])
	if err != nil || mm < 0 || mm > 59 {
		return ClockTime{}, fmt.Errorf("bad minute in %q", s)
	}
	return ClockTime{Hour: hh, Minute: mm}, nil
}

// Load resolves Config from the environment. Broker credentials are the only
// hard requirement; everything else has a default.
func Load() (Config, error) {
	cfg := Config{
		APIBase:      envStr("API_BASE", "https://api.dhan.co/v2"),
		ClientID:     os.Getenv("DHAN_CLIENT_ID"),
		ClientSecret: os.Getenv("DHAN_CLIENT_SECRET"),

		Port:   envInt("PORT", 10000),
		DBPath: envStr("DB_PATH", "bot_state.db"),

		MaxTradesPerDay: envInt("MAX_TRADES_PER_DAY", 10),
		MaxDrawdownPct:  envFloat("MAX_DRAWDOWN_PCT", 0.20),
		Timezone:        os.Getenv("TRADING_TIMEZONE"),

		SquareOffGrace: time.Duration(envInt("SQUARE_OFF_GRACE_MIN", 10)) * time.Minute,

		MaxOrderRetries:   envInt("MAX_ORDER_RETRIES", 2),
		RetryBackoff:      time.Duration(envInt("RETRY_BACKOFF_MS", 300)) * time.Millisecond,
		OrdersPerMinCap:   envInt("RATE_LIMIT_ORDERS_PER_MIN", 30),
		BreakerThreshold:  envInt("BREAKER_THRESHOLD", 3),
		BreakerCooldown:   time.Duration(envInt("BREAKER_COOLDOWN_SEC", 30)) * time.Second,
		BreakerHalfProbes: envInt("BREAKER_HALFOPEN_PROBES", 1),
		DupSuppressWindow: time.Duration(envInt("DUP_SUPPRESS_WINDOW_MS", 1500)) * time.Millisecond,
	}

	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return Config{}, fmt.Errorf("DHAN_CLIENT_ID / DHAN_CLIENT_SECRET must be set")
	}

	var err error
	if cfg.TradingStart, err = ParseClockTime(envStr("TRADING_START", "09:25")); err != nil {
		return Config{}, fmt.Errorf("TRADING_START: %w", err)
	}
	if cfg.TradingEnd, err = ParseClockTime(envStr("TRADING_END", "15:00")); err != nil {
		return Config{}, fmt.Errorf("TRADING_END: %w", err)
	}
	if cfg.TradingEnd.Minutes() <= cfg.TradingStart.Minutes() {
		return Config{}, fmt.Errorf("TRADING_END %s must be after TRADING_START %s", cfg.TradingEnd, cfg.TradingStart)
	}
	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			return Config{}, fmt.Errorf("TRADING_TIMEZONE %q: %w", cfg.Timezone, err)
		}
	}
	if cfg.MaxDrawdownPct <= 0 || cfg.MaxDrawdownPct >= 1 {
		return Config{}, fmt.Errorf("MAX_DRAWDOWN_PCT must be in (0,1), got %v", cfg.MaxDrawdownPct)
	}
	if cfg.MaxTradesPerDay < 1 {
		return Config{}, fmt.Errorf("MAX_TRADES_PER_DAY must be >= 1, got %d", cfg.MaxTradesPerDay)
	}
	return cfg, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
