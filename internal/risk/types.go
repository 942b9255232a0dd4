package risk

// Reason enumerates every way the gate can answer. The strings are a wire
// contract: /signal declines carry them verbatim.
type Reason string

const (
	ReasonOK          Reason = "ok"
	ReasonBeforeStart Reason = "before_start_time"
	ReasonAfterEnd    Reason = "after_end_time"
	ReasonTradesLimit Reason = "trades_limit_reached"
	ReasonMaxDrawdown Reason = "max_drawdown_reached"
)

// Decision is the gate's verdict for a single signal.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`
}

// Allow is the passing decision.
var Allow = Decision{Allowed: true, Reason: ReasonOK}

// Decline builds a failing decision with the given reason.
func Decline(r Reason) Decision { return Decision{Allowed: false, Reason: r} }

// Publisher receives risk events for out-of-band observers (the websocket
// telemetry hub in production, a recorder in tests). Implementations must
// not block.
type Publisher interface {
	Publish(kind string, v any)
}

// NopPublisher discards everything.
type NopPublisher struct{}

func (NopPublisher) Publish(string, any) {}
