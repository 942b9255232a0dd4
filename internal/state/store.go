// Package state persists one row of trading state per calendar date: how
// many trades ran, the equity snapshot taken at first access, and whether
// the scheduler has locked the day. All mutations are single-statement
// read-modify-writes so concurrent signal handlers and the background
// scheduler cannot interleave a stale check with an update.
package state

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// DailyState is one calendar date's record. Rows are never deleted.
type DailyState struct {
	ID         uint                `gorm:"primaryKey" json:"-"`
	Date       string              `gorm:"uniqueIndex;size:10" json:"date"`
	Trades     int                 `json:"trades"`
	InitialCap decimal.NullDecimal `gorm:"type:decimal(20,4)" json:"initial_cap"`
	Locked     bool                `json:"locked"`
}

// EquitySource supplies a live equity reading for seeding a new day.
type EquitySource func(ctx context.Context) (decimal.Decimal, error)

// Store is the daily state table plus its access discipline.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// Open opens (or creates) the SQLite file at path and migrates the schema.
func Open(path string, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("open state db %q: %w", path, err)
	}
	return NewStore(db, log)
}

// NewStore wraps an existing gorm handle (tests pass their own).
func NewStore(db *gorm.DB, log *zap.Logger) (*Store, error) {
	// SQLite allows one writer at a time; a single pooled connection turns
	// lock contention into queueing instead of SQLITE_BUSY errors.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&DailyState{}); err != nil {
		return nil, fmt.Errorf("migrate daily state: %w", err)
	}
	return &Store{db: db, log: log.Named("state")}, nil
}

// Get fetches the row for date if it exists.
func (s *Store) Get(ctx context.Context, date string) (DailyState, bool, error) {
	var row DailyState
	err := s.db.WithContext(ctx).Where("date = ?", date).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return DailyState{}, false, nil
	}
	if err != nil {
		return DailyState{}, false, err
	}
	return row, true, nil
}

// GetOrCreate returns the row for date, seeding it on first access with a
// live equity reading. The date column's unique index arbitrates concurrent
// first access: the insert uses ON CONFLICT DO NOTHING and every caller
// re-reads, so the first successfully inserted row is the one everybody
// sees. A failed equity read seeds a null capital ("unknown", not zero)
// which a later successful read may backfill via SetInitialCapital.
func (s *Store) GetOrCreate(ctx context.Context, date string, equity EquitySource) (DailyState, error) {
	if row, ok, err := s.Get(ctx, date); err != nil || ok {
		return row, err
	}

	seed := DailyState{Date: date}
	if eq, err := equity(ctx); err != nil {
		s.log.Warn("seeding day without capital snapshot", zap.String("date", date), zap.Error(err))
	} else if eq.Sign() <= 0 {
		// A zero reading is no snapshot: it would put the drawdown floor at
		// zero and shadow a later real value.
		s.log.Warn("equity read zero, capital snapshot left unset", zap.String("date", date))
	} else {
		seed.InitialCap = decimal.NewNullDecimal(eq)
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "date"}}, DoNothing: true}).
		Create(&seed).Error
	if err != nil {
		return DailyState{}, fmt.Errorf("seed daily state %s: %w", date, err)
	}

	row, ok, err := s.Get(ctx, date)
	if err != nil {
		return DailyState{}, err
	}
	if !ok {
		return DailyState{}, fmt.Errorf("daily state %s vanished after insert", date)
	}
	if row.ID == seed.ID {
		s.log.Info("new trading day",
			zap.String("date", date),
			zap.String("initial_cap", nullCapString(row.InitialCap)))
	}
	return row, nil
}

// AddTrades bumps the day's counter by n. Additive, not absolute.
func (s *Store) AddTrades(ctx context.Context, date string, n int) error {
	return s.db.WithContext(ctx).Model(&DailyState{}).
		Where("date = ?", date).
		Update("trades", gorm.Expr("trades + ?", n)).Error
}

// ConsumeTradeSlot atomically claims one trade slot while the day is below
// max and not locked. The compare and the increment are a single UPDATE, so
// concurrent claimers can never jointly exceed max.
func (s *Store) ConsumeTradeSlot(ctx context.Context, date string, max int) (bool, error) {
	res := s.db.WithContext(ctx).Model(&DailyState{}).
		Where("date = ? AND trades < ? AND locked = ?", date, max, false).
		Update("trades", gorm.Expr("trades + 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReleaseTradeSlot returns a claimed slot whose order never got accepted.
// Floored at zero so trades stays non-negative.
func (s *Store) ReleaseTradeSlot(ctx context.Context, date string) error {
	return s.db.WithContext(ctx).Model(&DailyState{}).
		Where("date = ? AND trades > 0", date).
		Update("trades", gorm.Expr("trades - 1")).Error
}

// SetInitialCapital backfills the capital snapshot, but only while unset.
// Once a day has a capital it keeps it.
func (s *Store) SetInitialCapital(ctx context.Context, date string, v decimal.Decimal) error {
	return s.db.WithContext(ctx).Model(&DailyState{}).
		Where("date = ? AND initial_cap IS NULL", date).
		Update("initial_cap", decimal.NewNullDecimal(v)).Error
}

// ResetInitialCapital overwrites the snapshot unconditionally. Operator
// action only; nothing in the signal or scheduler paths calls this.
func (s *Store) ResetInitialCapital(ctx context.Context, date string, v decimal.Decimal) error {
	return s.db.WithContext(ctx).Model(&DailyState{}).
		Where("date = ?", date).
		Update("initial_cap", decimal.NewNullDecimal(v)).Error
}

// LockDay marks the date as closed for further signals. The trade counter is
// left alone so "locked by scheduler" stays distinguishable from "limit
// reached by trading".
func (s *Store) LockDay(ctx context.Context, date string) error {
	return s.db.WithContext(ctx).Model(&DailyState{}).
		Where("date = ?", date).
		Update("locked", true).Error
}

func nullCapString(v decimal.NullDecimal) string {
	if !v.Valid {
		return "unset"
	}
	return v.Decimal.String()
}
