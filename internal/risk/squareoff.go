package risk

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"example.com/riskbot/internal/broker"
)

// PositionResult pairs a position with the outcome of its closing order.
type PositionResult struct {
	Position broker.Position    `json:"position"`
	Result   broker.OrderResult `json:"result"`
}

// SquareOffReport is the outcome of one full square-off pass.
// NoPositions=true means there was genuinely nothing to close; an empty
// Results slice with NoPositions=false means the position listing itself
// failed, which is a different situation.
type SquareOffReport struct {
	NoPositions bool             `json:"no_positions"`
	ListFailed  bool             `json:"list_failed,omitempty"`
	Results     []PositionResult `json:"results,omitempty"`
}

// Accepted counts closing orders the broker took.
func (r SquareOffReport) Accepted() int {
	n := 0
	for _, pr := range r.Results {
		if pr.Result.Accepted {
			n++
		}
	}
	return n
}

// SquareOff flattens every open position with opposite-side intraday market
// orders.
type SquareOff struct {
	brk broker.Broker
	log *zap.Logger
	pub Publisher
}

func NewSquareOff(brk broker.Broker, pub Publisher, log *zap.Logger) *SquareOff {
	if pub == nil {
		pub = NopPublisher{}
	}
	return &SquareOff{brk: brk, log: log.Named("squareoff"), pub: pub}
}

// SquareOffAll closes all open positions best-effort: one position's failure
// never stops the rest from being flattened.
func (s *SquareOff) SquareOffAll(ctx context.Context) SquareOffReport {
	positions, err := s.brk.Positions(ctx)
	if err != nil {
		s.log.Error("square-off aborted: cannot list positions", zap.Error(err))
		return SquareOffReport{ListFailed: true}
	}

	var report SquareOffReport
	for _, p := range positions {
		if p.NetQty == 0 {
			continue
		}
		order := broker.ClosingOrder(p)
		payload, err := json.Marshal(order)
		if err != nil {
			s.log.Error("closing order marshal failed",
				zap.String("security_id", p.SecurityID), zap.Error(err))
			continue
		}
		res := s.brk.PlaceOrder(ctx, payload)
		if res.Accepted {
			s.log.Info("position squared off",
				zap.String("security_id", p.SecurityID),
				zap.String("side", string(order.TransactionType)),
				zap.Int64("qty", order.Quantity))
		} else {
			s.log.Warn("closing order not accepted",
				zap.String("security_id", p.SecurityID),
				zap.String("error", res.Err))
		}
		report.Results = append(report.Results, PositionResult{Position: p, Result: res})
	}
	if len(report.Results) == 0 {
		report.NoPositions = true
	}
	s.pub.Publish("square_off", report)
	return report
}
