package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"example.com/riskbot/internal/broker"
	"example.com/riskbot/internal/config"
	"example.com/riskbot/internal/guards"
	"example.com/riskbot/internal/intake"
	"example.com/riskbot/internal/risk"
	"example.com/riskbot/internal/server"
	"example.com/riskbot/internal/state"
	"example.com/riskbot/internal/telemetry"
)

func main() {
	// .env values never override real environment.
	_ = godotenv.Load()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init:", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("configuration invalid", zap.Error(err))
	}
	log.Info("configuration loaded",
		zap.Int("max_trades_per_day", cfg.MaxTradesPerDay),
		zap.Float64("max_drawdown_pct", cfg.MaxDrawdownPct),
		zap.String("trading_start", cfg.TradingStart.String()),
		zap.String("trading_end", cfg.TradingEnd.String()),
		zap.String("timezone", cfg.Timezone),
		zap.String("db_path", cfg.DBPath))

	store, err := state.Open(cfg.DBPath, log)
	if err != nil {
		log.Fatal("state store init failed", zap.Error(err))
	}

	dhan := broker.NewDhanClient(cfg.APIBase, cfg.ClientID, cfg.ClientSecret, log)
	safe := guards.NewSafeBroker(dhan, guards.Options{
		PerMinuteCap:   cfg.OrdersPerMinCap,
		MaxRetries:     cfg.MaxOrderRetries,
		Backoff:        cfg.RetryBackoff,
		DupWindow:      cfg.DupSuppressWindow,
		Threshold:      cfg.BreakerThreshold,
		Cooldown:       cfg.BreakerCooldown,
		HalfOpenProbes: cfg.BreakerHalfProbes,
	})

	hub := telemetry.NewHub(log)
	go hub.Run()

	lim := risk.Limits{
		MaxTradesPerDay: cfg.MaxTradesPerDay,
		MaxDrawdownPct:  decimal.NewFromFloat(cfg.MaxDrawdownPct),
		Start:           cfg.TradingStart,
		End:             cfg.TradingEnd,
		Timezone:        cfg.Timezone,
	}
	gate := risk.NewGate(store, safe, lim, log)
	squareOff := risk.NewSquareOff(safe, hub, log)
	scheduler := risk.NewScheduler(store, squareOff, safe, lim, cfg.SquareOffGrace, hub, log)
	signals := intake.NewHandler(gate, squareOff, store, safe, cfg.MaxTradesPerDay, hub, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go scheduler.Run(ctx)

	// Seed today's row up front so /state never waits on the broker later.
	if st, err := gate.State(ctx); err != nil {
		log.Warn("initial daily state unavailable", zap.Error(err))
	} else {
		log.Info("daily state ready", zap.String("date", st.Date), zap.Int("trades", st.Trades))
	}

	srv := server.New(fmt.Sprintf(":%d", cfg.Port), signals,
		func(ctx context.Context) (any, error) { return gate.State(ctx) },
		hub, log)
	if err := srv.Start(); err != nil {
		log.Fatal("server start failed", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown incomplete", zap.Error(err))
	}
}
