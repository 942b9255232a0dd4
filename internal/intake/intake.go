// Package intake orchestrates one inbound signal: validate, consult the
// risk gate, reserve a trade slot, forward to the broker, and keep the slot
// only when the broker accepts.
package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"example.com/riskbot/internal/broker"
	"example.com/riskbot/internal/risk"
	"example.com/riskbot/internal/state"
)

// ErrMissingOrder marks a request without an order payload: a client error,
// not a risk decision.
var ErrMissingOrder = errors.New("missing order payload")

// Outcome is the result of one signal: exactly one of Declined or Placed is
// set.
type Outcome struct {
	Declined *risk.Decision
	Placed   *broker.OrderResult
}

// Handler wires the intake path.
type Handler struct {
	gate  *risk.Gate
	sq    *risk.SquareOff
	store *state.Store
	brk   broker.Broker
	max   int
	pub   risk.Publisher
	log   *zap.Logger
}

func NewHandler(gate *risk.Gate, sq *risk.SquareOff, store *state.Store, brk broker.Broker, maxTradesPerDay int, pub risk.Publisher, log *zap.Logger) *Handler {
	if pub == nil {
		pub = risk.NopPublisher{}
	}
	return &Handler{
		gate:  gate,
		sq:    sq,
		store: store,
		brk:   brk,
		max:   maxTradesPerDay,
		pub:   pub,
		log:   log.Named("intake"),
	}
}

// HandleSignal runs the full gating sequence for one order payload.
//
// The trade counter moves only on an unambiguous accepted classification
// from the broker: a slot is reserved up front (so concurrent signals can
// never jointly exceed the daily cap) and released again when the broker
// errors or rejects. This counts accepted orders, not fills; a documented
// approximation of the day's true activity.
func (h *Handler) HandleSignal(ctx context.Context, order json.RawMessage) (Outcome, error) {
	if emptyPayload(order) {
		return Outcome{}, ErrMissingOrder
	}

	dec, err := h.gate.CanTradeNow(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if !dec.Allowed {
		h.log.Info("signal declined", zap.String("reason", string(dec.Reason)))
		h.pub.Publish("signal_declined", dec)
		// These two reasons mean no position should still be in the book;
		// square off here too in case the scheduler missed its window.
		if dec.Reason == risk.ReasonAfterEnd || dec.Reason == risk.ReasonMaxDrawdown {
			h.sq.SquareOffAll(ctx)
		}
		return Outcome{Declined: &dec}, nil
	}

	date := h.gate.Today()
	got, err := h.store.ConsumeTradeSlot(ctx, date, h.max)
	if err != nil {
		return Outcome{}, err
	}
	if !got {
		// Lost the race to the last slot after the gate check.
		lost := risk.Decline(risk.ReasonTradesLimit)
		h.pub.Publish("signal_declined", lost)
		return Outcome{Declined: &lost}, nil
	}

	res := h.brk.PlaceOrder(ctx, order)
	if res.Accepted {
		h.log.Info("order accepted", zap.String("date", date))
		h.pub.Publish("order_accepted", res)
	} else {
		h.log.Warn("order not accepted", zap.String("error", res.Err))
		if err := h.store.ReleaseTradeSlot(ctx, date); err != nil {
			h.log.Error("trade slot release failed", zap.String("date", date), zap.Error(err))
		}
	}
	return Outcome{Placed: &res}, nil
}

func emptyPayload(order json.RawMessage) bool {
	trimmed := bytes.TrimSpace(order)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
