package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"example.com/riskbot/internal/broker"
	"example.com/riskbot/internal/state"
	"example.com/riskbot/internal/util"
)

var (
	metricSchedulerTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "riskbot_scheduler_ticks_total", Help: "Scheduler poll iterations"})
	metricSchedulerErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "riskbot_scheduler_errors_total", Help: "Scheduler iterations that failed"})
	metricDaysLocked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "riskbot_days_locked_total", Help: "Trading days locked by the end-of-day sequence"})
)

func init() {
	prometheus.MustRegister(metricSchedulerTicks, metricSchedulerErrors, metricDaysLocked)
}

// Scheduler is the end-of-day machine. Each trading date moves through
// armed → firing → fired: while armed it only watches the clock; inside
// [TRADING_END, TRADING_END+grace) it squares off all positions and locks
// the day exactly once; once fired it idles until the date rolls over.
type Scheduler struct {
	store    *state.Store
	sq       *SquareOff
	brk      broker.Broker
	lim      Limits
	grace    time.Duration
	interval time.Duration
	backoff  time.Duration
	log      *zap.Logger
	pub      Publisher

	// Now is the clock; tests swap it.
	Now func() time.Time

	firedDate string // date key of the last in-process fire
}

func NewScheduler(store *state.Store, sq *SquareOff, brk broker.Broker, lim Limits, grace time.Duration, pub Publisher, log *zap.Logger) *Scheduler {
	if pub == nil {
		pub = NopPublisher{}
	}
	return &Scheduler{
		store:    store,
		sq:       sq,
		brk:      brk,
		lim:      lim,
		grace:    grace,
		interval: 10 * time.Second,
		backoff:  10 * time.Second,
		log:      log.Named("scheduler"),
		pub:      pub,
		Now:      time.Now,
	}
}

// Run polls until ctx is cancelled. A failing iteration is logged and the
// loop continues after a short backoff; nothing that happens inside a tick
// can terminate the scheduler.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("scheduler running",
		zap.String("trading_end", s.lim.End.String()),
		zap.Duration("grace", s.grace),
		zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			metricSchedulerTicks.Inc()
			if err := s.tick(ctx); err != nil {
				metricSchedulerErrors.Inc()
				s.log.Error("scheduler iteration failed", zap.Error(err))
				select {
				case <-ctx.Done():
				case <-time.After(s.backoff):
				}
			}
		}
	}
}

// tick runs one poll iteration.
func (s *Scheduler) tick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler panic: %v", r)
		}
	}()

	now := s.Now().In(util.Location(s.lim.Timezone))
	date := util.DateKey(s.lim.Timezone, now)
	if s.firedDate == date {
		return nil // fired; wait for the date to roll over
	}

	endAt := util.AtClock(s.lim.Timezone, now, s.lim.End.Hour, s.lim.End.Minute)
	if now.Before(endAt) || !now.Before(endAt.Add(s.grace)) {
		return nil // armed, outside the firing window
	}

	// A restart inside the window must not fire twice: the day lock is the
	// durable fired marker.
	st, err := s.store.GetOrCreate(ctx, date, s.brk.LiveEquity)
	if err != nil {
		return err
	}
	if st.Locked {
		s.firedDate = date
		return nil
	}

	s.log.Info("end-of-day square-off", zap.String("date", date), zap.Time("now", now))
	report := s.sq.SquareOffAll(ctx)
	s.log.Info("square-off done",
		zap.Bool("no_positions", report.NoPositions),
		zap.Bool("list_failed", report.ListFailed),
		zap.Int("closed", report.Accepted()),
		zap.Int("attempted", len(report.Results)))

	if err := s.store.LockDay(ctx, date); err != nil {
		// Not marking firedDate: the next tick inside the window retries
		// the lock (square-off already ran, repeating it is harmless on a
		// flat book).
		return fmt.Errorf("lock day %s: %w", date, err)
	}
	metricDaysLocked.Inc()
	s.firedDate = date
	s.pub.Publish("day_locked", map[string]string{"date": date})
	return nil
}
