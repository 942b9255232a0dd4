package broker

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Side is the order transaction side.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Position is the broker's view of an open net position. Only the fields
// needed to construct a closing order are decoded; the rest pass through.
type Position struct {
	SecurityID      string `json:"securityId"`
	ExchangeSegment string `json:"exchangeSegment"`
	NetQty          int64  `json:"netQty"`
}

// OrderPayload is the shape of a closing market order. Inbound signal
// payloads are never reshaped into this; they pass through verbatim.
type OrderPayload struct {
	ExchangeSegment string `json:"exchangeSegment"`
	SecurityID      string `json:"securityId"`
	TransactionType Side   `json:"transactionType"`
	Quantity        int64  `json:"quantity"`
	OrderType       string `json:"orderType"`
	ProductType     string `json:"productType"`
}

// ClosingOrder builds the opposite-side intraday market order that flattens p.
func ClosingOrder(p Position) OrderPayload {
	side := Buy
	if p.NetQty > 0 {
		side = Sell
	}
	qty := p.NetQty
	if qty < 0 {
		qty = -qty
	}
	return OrderPayload{
		ExchangeSegment: p.ExchangeSegment,
		SecurityID:      p.SecurityID,
		TransactionType: side,
		Quantity:        qty,
		OrderType:       "MARKET",
		ProductType:     "INTRADAY",
	}
}

// OrderResult is the coarse classification of a placement attempt plus the
// broker's verbatim response.
type OrderResult struct {
	Accepted bool            `json:"accepted"`
	Raw      json.RawMessage `json:"raw,omitempty"`
	Err      string          `json:"error,omitempty"`
}

// Errored reports whether the attempt failed before reaching a broker verdict.
func (r OrderResult) Errored() bool { return r.Err != "" }

// ErrResult tags a transport-level failure. Raw stays empty so callers can
// tell "broker said no" from "never got an answer".
func ErrResult(err error) OrderResult {
	return OrderResult{Err: err.Error()}
}

// Broker is the capability interface the core consumes. Implementations
// never panic and never return partial garbage: equity errors carry a zero
// value, position errors carry an empty slice, order errors come back as an
// error-tagged OrderResult.
type Broker interface {
	LiveEquity(ctx context.Context) (decimal.Decimal, error)
	Positions(ctx context.Context) ([]Position, error)
	PlaceOrder(ctx context.Context, payload json.RawMessage) OrderResult
}
