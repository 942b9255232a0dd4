// Preflight checks the environment before the bot is started for real.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"example.com/riskbot/internal/config"
)

func fail(msg string) { log.Fatalf("FAIL: %s", msg) }
func pass(msg string) { fmt.Println("PASS:", msg) }

func main() {
	// Load .env (do not overwrite existing env)
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fail("cannot load .env")
		}
	} else {
		fail(".env missing")
	}

	if os.Getenv("DHAN_CLIENT_ID") == "" || os.Getenv("DHAN_CLIENT_SECRET") == "" {
		fail("DHAN_CLIENT_ID / DHAN_CLIENT_SECRET missing")
	}
	pass("Broker credentials present")

	cfg, err := config.Load()
	if err != nil {
		fail(err.Error())
	}
	pass(fmt.Sprintf("Trading window %s-%s valid", cfg.TradingStart, cfg.TradingEnd))
	pass(fmt.Sprintf("Risk knobs OK (max_trades=%d, max_drawdown=%.2f)", cfg.MaxTradesPerDay, cfg.MaxDrawdownPct))

	if cfg.Timezone == "" {
		fmt.Println("NOTE: TRADING_TIMEZONE unset; the trading window uses the host's local clock.")
	} else {
		pass("Timezone resolves: " + cfg.Timezone)
	}

	if cfg.DBPath == "" {
		fail("DB_PATH empty")
	}
	pass("State DB path: " + cfg.DBPath)

	pass("Preflight completed")
}
