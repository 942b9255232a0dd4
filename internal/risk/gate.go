package risk

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"example.com/riskbot/internal/broker"
	"example.com/riskbot/internal/config"
	"example.com/riskbot/internal/state"
	"example.com/riskbot/internal/util"
)

// Limits defines the static risk configuration shared by the gate and the
// scheduler.
type Limits struct {
	MaxTradesPerDay int
	MaxDrawdownPct  decimal.Decimal // fractional, e.g. 0.20
	Start           config.ClockTime
	End             config.ClockTime
	Timezone        string // empty = process-local
}

// Gate answers "may this signal trade right now". Every call evaluates
// fresh against the clock, today's stored state, and (last, because it
// costs a network round trip) live equity.
type Gate struct {
	store *state.Store
	brk   broker.Broker
	lim   Limits
	log   *zap.Logger

	// Now is the clock; tests swap it.
	Now func() time.Time
}

func NewGate(store *state.Store, brk broker.Broker, lim Limits, log *zap.Logger) *Gate {
	return &Gate{
		store: store,
		brk:   brk,
		lim:   lim,
		log:   log.Named("gate"),
		Now:   time.Now,
	}
}

// Today returns the current trading-calendar date key.
func (g *Gate) Today() string {
	return util.DateKey(g.lim.Timezone, g.Now())
}

// State returns today's daily state, creating it on first access of the day.
func (g *Gate) State(ctx context.Context) (state.DailyState, error) {
	return g.store.GetOrCreate(ctx, g.Today(), g.brk.LiveEquity)
}

// CanTradeNow runs the checks cheapest-first (time window, then the local
// counter, then the network-dependent drawdown) and the first failing check
// wins. The error return covers store faults only; broker faults degrade
// inside the checks.
func (g *Gate) CanTradeNow(ctx context.Context) (Decision, error) {
	now := g.Now().In(util.Location(g.lim.Timezone))
	minute := now.Hour()*60 + now.Minute()
	if minute < g.lim.Start.Minutes() {
		return Decline(ReasonBeforeStart), nil
	}
	if minute >= g.lim.End.Minutes() {
		return Decline(ReasonAfterEnd), nil
	}

	st, err := g.State(ctx)
	if err != nil {
		return Decision{}, err
	}
	if st.Locked || st.Trades >= g.lim.MaxTradesPerDay {
		return Decline(ReasonTradesLimit), nil
	}

	return g.checkDrawdown(ctx, st)
}

// checkDrawdown compares live equity against the day's capital floor. When
// either side is unknown (the lookup failed, or no valid capital snapshot
// exists yet) the check is deferred rather than read as a pass or a breach.
func (g *Gate) checkDrawdown(ctx context.Context, st state.DailyState) (Decision, error) {
	equity, err := g.brk.LiveEquity(ctx)
	if err != nil {
		g.log.Warn("drawdown check deferred: equity unavailable", zap.Error(err))
		return Allow, nil
	}

	if !st.InitialCap.Valid && equity.Sign() > 0 {
		// Day was seeded without a usable snapshot; backfill now.
		if err := g.store.SetInitialCapital(ctx, st.Date, equity); err != nil {
			return Decision{}, err
		}
		g.log.Info("capital snapshot backfilled",
			zap.String("date", st.Date), zap.String("initial_cap", equity.String()))
		st.InitialCap = decimal.NewNullDecimal(equity)
	}
	if !st.InitialCap.Valid || st.InitialCap.Decimal.Sign() <= 0 {
		g.log.Warn("drawdown check deferred: no valid capital snapshot", zap.String("date", st.Date))
		return Allow, nil
	}

	floor := st.InitialCap.Decimal.Mul(decimal.NewFromInt(1).Sub(g.lim.MaxDrawdownPct))
	if equity.LessThanOrEqual(floor) {
		g.log.Warn("max drawdown reached",
			zap.String("equity", equity.String()),
			zap.String("floor", floor.String()),
			zap.String("initial_cap", st.InitialCap.Decimal.String()))
		return Decline(ReasonMaxDrawdown), nil
	}
	return Allow, nil
}
