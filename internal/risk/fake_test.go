package risk

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/riskbot/internal/broker"
	"example.com/riskbot/internal/config"
	"example.com/riskbot/internal/state"
)

// fakeBroker is a scriptable broker double shared by the gate, square-off
// and scheduler tests.
type fakeBroker struct {
	mu sync.Mutex

	equity      decimal.Decimal
	equityErr   error
	equityCalls int

	positions    []broker.Position
	positionsErr error

	// results consumed per placement, in order; the last one repeats.
	results []broker.OrderResult
	placed  []json.RawMessage
}

func (f *fakeBroker) LiveEquity(context.Context) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.equityCalls++
	if f.equityErr != nil {
		return decimal.Zero, f.equityErr
	}
	return f.equity, nil
}

func (f *fakeBroker) Positions(context.Context) ([]broker.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.positionsErr != nil {
		return nil, f.positionsErr
	}
	return f.positions, nil
}

func (f *fakeBroker) PlaceOrder(_ context.Context, payload json.RawMessage) broker.OrderResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, payload)
	if len(f.results) == 0 {
		return broker.OrderResult{Accepted: true, Raw: json.RawMessage(`{"status":"success"}`)}
	}
	res := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return res
}

func (f *fakeBroker) placedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.placed)
}

func (f *fakeBroker) setEquity(v string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.equityErr = err
	if err == nil {
		f.equity = decimal.RequireFromString(v)
	}
}

// recordingPub captures published events.
type recordingPub struct {
	mu    sync.Mutex
	kinds []string
}

func (p *recordingPub) Publish(kind string, _ any) {
	p.mu.Lock()
	p.kinds = append(p.kinds, kind)
	p.mu.Unlock()
}

func newTestStore(t *testing.T) *state.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	s, err := state.NewStore(db, zap.NewNop())
	require.NoError(t, err)
	return s
}

func testLimits() Limits {
	return Limits{
		MaxTradesPerDay: 10,
		MaxDrawdownPct:  decimal.RequireFromString("0.20"),
		Start:           config.ClockTime{Hour: 9, Minute: 25},
		End:             config.ClockTime{Hour: 15, Minute: 0},
		Timezone:        "UTC",
	}
}

// at returns a fixed UTC clock on 2026-08-31.
func at(hh, mm int) func() time.Time {
	return func() time.Time {
		return time.Date(2026, 8, 31, hh, mm, 0, 0, time.UTC)
	}
}
