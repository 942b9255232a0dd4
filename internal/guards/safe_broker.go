package guards

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"example.com/riskbot/internal/broker"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerHalfOpen
	breakerOpen
)

var (
	metricOrdersAttempted  = prometheus.NewCounter(prometheus.CounterOpts{Name: "riskbot_orders_attempted_total", Help: "Orders handed to the safety layer"})
	metricOrdersAccepted   = prometheus.NewCounter(prometheus.CounterOpts{Name: "riskbot_orders_accepted_total", Help: "Orders the broker classified as accepted"})
	metricOrdersFailed     = prometheus.NewCounter(prometheus.CounterOpts{Name: "riskbot_orders_failed_total", Help: "Orders that failed after retries"})
	metricOrdersSuppressed = prometheus.NewCounter(prometheus.CounterOpts{Name: "riskbot_orders_suppressed_total", Help: "Orders blocked by the safety layer (rate/idempotency/breaker)"})
	metricBreakerState     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "riskbot_breaker_state", Help: "0=closed, 1=half_open, 2=open"})
	metricRateWindow       = prometheus.NewGauge(prometheus.GaugeOpts{Name: "riskbot_orders_in_last_minute", Help: "Orders counted in the current minute window"})
	metricEquityFailures   = prometheus.NewCounter(prometheus.CounterOpts{Name: "riskbot_equity_lookup_failures_total", Help: "Equity lookups that returned an error"})
)

func init() {
	prometheus.MustRegister(
		metricOrdersAttempted, metricOrdersAccepted, metricOrdersFailed,
		metricOrdersSuppressed, metricBreakerState, metricRateWindow,
		metricEquityFailures,
	)
	metricBreakerState.Set(0)
}

// Options tune the safety layer.
type Options struct {
	PerMinuteCap   int
	MaxRetries     int
	Backoff        time.Duration
	DupWindow      time.Duration
	Threshold      int
	Cooldown       time.Duration
	HalfOpenProbes int
}

// SafeBroker wraps a broker with rate limits, retries, a circuit breaker,
// and duplicate suppression. Reads pass through untouched; only order
// placement is gated.
type SafeBroker struct {
	inner broker.Broker

	// Rate limiting (simple sliding window)
	rateMu       sync.Mutex
	orderTimes   []time.Time
	perMinuteCap int

	// Retries
	maxRetries int
	backoff    time.Duration

	// Duplicate suppression
	dupMu        sync.Mutex
	dupWindow    time.Duration
	lastOrderKey string
	lastOrderAt  time.Time

	// Circuit breaker
	bMu        sync.Mutex
	bState     breakerState
	failStreak int
	threshold  int
	cooldown   time.Duration
	openedAt   time.Time
	halfProbes int
	halfMax    int
}

// NewSafeBroker wraps inner with the given options.
func NewSafeBroker(inner broker.Broker, opt Options) *SafeBroker {
	if opt.Threshold < 1 {
		opt.Threshold = 3
	}
	if opt.HalfOpenProbes < 1 {
		opt.HalfOpenProbes = 1
	}
	return &SafeBroker{
		inner:        inner,
		perMinuteCap: opt.PerMinuteCap,
		maxRetries:   opt.MaxRetries,
		backoff:      opt.Backoff,
		dupWindow:    opt.DupWindow,
		bState:       breakerClosed,
		threshold:    opt.Threshold,
		cooldown:     opt.Cooldown,
		halfMax:      opt.HalfOpenProbes,
	}
}

func (s *SafeBroker) LiveEquity(ctx context.Context) (decimal.Decimal, error) {
	eq, err := s.inner.LiveEquity(ctx)
	if err != nil {
		metricEquityFailures.Inc()
	}
	return eq, err
}

func (s *SafeBroker) Positions(ctx context.Context) ([]broker.Position, error) {
	return s.inner.Positions(ctx)
}

func (s *SafeBroker) PlaceOrder(ctx context.Context, payload json.RawMessage) broker.OrderResult {
	now := time.Now()
	metricOrdersAttempted.Inc()

	if !s.allowBreaker(now) {
		metricOrdersSuppressed.Inc()
		return broker.ErrResult(errors.New("circuit breaker open"))
	}

	if s.rateExceeded(now) {
		metricOrdersSuppressed.Inc()
		return broker.ErrResult(errors.New("per-minute order rate limit hit"))
	}

	okey := ordKey(payload)
	if s.isDuplicate(okey, now) {
		metricOrdersSuppressed.Inc()
		return broker.ErrResult(errors.New("duplicate order suppressed"))
	}

	// Retries cover transport failures only; a broker rejection is a
	// verdict, not a fault, and is returned as-is.
	var res broker.OrderResult
	for i := 0; i <= s.maxRetries; i++ {
		res = s.inner.PlaceOrder(ctx, payload)
		if !res.Errored() {
			s.noteSuccess(time.Now(), okey)
			if res.Accepted {
				metricOrdersAccepted.Inc()
			}
			return res
		}
		select {
		case <-ctx.Done():
			s.noteFailure(time.Now())
			metricOrdersFailed.Inc()
			return broker.ErrResult(ctx.Err())
		case <-time.After(time.Duration(i+1) * s.backoff):
		}
	}
	s.noteFailure(time.Now())
	metricOrdersFailed.Inc()
	return res
}

// ===== Helpers =====

func ordKey(payload json.RawMessage) string {
	h := sha256.Sum256(payload)
	return hex.EncodeToString(h[:8])
}

func (s *SafeBroker) isDuplicate(okey string, now time.Time) bool {
	s.dupMu.Lock()
	defer s.dupMu.Unlock()
	return okey == s.lastOrderKey && now.Sub(s.lastOrderAt) < s.dupWindow
}

func (s *SafeBroker) rateExceeded(now time.Time) bool {
	s.rateMu.Lock()
	defer s.rateMu.Unlock()
	oneMin := now.Add(-1 * time.Minute)
	j := 0
	for _, t := range s.orderTimes {
		if t.After(oneMin) {
			s.orderTimes[j] = t
			j++
		}
	}
	s.orderTimes = s.orderTimes[:j]
	metricRateWindow.Set(float64(len(s.orderTimes)))
	return s.perMinuteCap > 0 && len(s.orderTimes) >= s.perMinuteCap
}

func (s *SafeBroker) rateNote(t time.Time) {
	s.rateMu.Lock()
	s.orderTimes = append(s.orderTimes, t)
	metricRateWindow.Set(float64(len(s.orderTimes)))
	s.rateMu.Unlock()
}

func (s *SafeBroker) allowBreaker(now time.Time) bool {
	s.bMu.Lock()
	defer s.bMu.Unlock()

	switch s.bState {
	case breakerClosed:
		return true
	case breakerOpen:
		if now.Sub(s.openedAt) >= s.cooldown {
			s.bState = breakerHalfOpen
			s.halfProbes = 0
			metricBreakerState.Set(1)
			return true // allow a probe
		}
		return false
	case breakerHalfOpen:
		if s.halfProbes < s.halfMax {
			s.halfProbes++
			return true
		}
		return false
	default:
		return false
	}
}

func (s *SafeBroker) noteSuccess(now time.Time, okey string) {
	s.rateNote(now)
	s.dupMu.Lock()
	s.lastOrderKey, s.lastOrderAt = okey, now
	s.dupMu.Unlock()

	s.bMu.Lock()
	defer s.bMu.Unlock()
	switch s.bState {
	case breakerClosed:
		s.failStreak = 0
	case breakerHalfOpen:
		// successful probe closes the breaker
		s.bState = breakerClosed
		s.failStreak = 0
		metricBreakerState.Set(0)
	}
}

func (s *SafeBroker) noteFailure(now time.Time) {
	s.bMu.Lock()
	defer s.bMu.Unlock()

	switch s.bState {
	case breakerClosed:
		s.failStreak++
		if s.failStreak >= s.threshold {
			s.openedAt = now
			s.bState = breakerOpen
			metricBreakerState.Set(2)
		}
	case breakerHalfOpen:
		// failed probe reopens immediately
		s.openedAt = now
		s.bState = breakerOpen
		s.failStreak = s.threshold
		metricBreakerState.Set(2)
	case breakerOpen:
		s.openedAt = now
	}
}
