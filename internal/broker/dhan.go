package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const requestTimeout = 6 * time.Second

// DhanClient talks to the Dhan v2 REST API.
type DhanClient struct {
	base   string
	id     string
	secret string
	http   *http.Client
	log    *zap.Logger
}

// NewDhanClient builds a client for apiBase with per-request timeouts.
func NewDhanClient(apiBase, clientID, clientSecret string, log *zap.Logger) *DhanClient {
	return &DhanClient{
		base:   apiBase,
		id:     clientID,
		secret: clientSecret,
		http:   &http.Client{Timeout: requestTimeout},
		log:    log.Named("dhan"),
	}
}

func (c *DhanClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("X-Dhan-Client-Id", c.id)
	req.Header.Set("X-Dhan-Client-Secret", c.secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

type marginsResponse struct {
	CashMargin         decimal.Decimal `json:"cashMargin"`
	NetAvailableMargin decimal.Decimal `json:"netAvailableMargin"`
}

// LiveEquity reads the account's available margin. The error return lets
// callers tell a failed lookup from an account that is genuinely at zero.
func (c *DhanClient) LiveEquity(ctx context.Context) (decimal.Decimal, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/user/margins", nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("equity lookup failed", zap.Error(err))
		return decimal.Zero, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.log.Warn("equity lookup rejected", zap.Int("status", resp.StatusCode))
		return decimal.Zero, fmt.Errorf("margins: status %d", resp.StatusCode)
	}
	var m marginsResponse
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return decimal.Zero, fmt.Errorf("margins: decode: %w", err)
	}
	if !m.CashMargin.IsZero() {
		return m.CashMargin, nil
	}
	return m.NetAvailableMargin, nil
}

// Positions lists open net positions. A failed call degrades to an empty
// slice plus the error.
func (c *DhanClient) Positions(ctx context.Context) ([]Position, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/positions", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("position listing failed", zap.Error(err))
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.log.Warn("position listing rejected", zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("positions: status %d", resp.StatusCode)
	}
	var out struct {
		Data []Position `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("positions: decode: %w", err)
	}
	return out.Data, nil
}

// PlaceOrder forwards payload verbatim and classifies the response. It never
// returns an error; transport failures come back error-tagged.
func (c *DhanClient) PlaceOrder(ctx context.Context, payload json.RawMessage) OrderResult {
	req, err := c.newRequest(ctx, http.MethodPost, "/orders", bytes.NewReader(payload))
	if err != nil {
		return ErrResult(err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Error("order placement failed", zap.Error(err))
		return ErrResult(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ErrResult(fmt.Errorf("orders: read body: %w", err))
	}
	return OrderResult{
		Accepted: classifyOrderResponse(resp.StatusCode, body),
		Raw:      body,
	}
}

// classifyOrderResponse mirrors the broker's loose success signaling: either
// an HTTP 200 or a recognized status word in the body counts as accepted.
func classifyOrderResponse(httpStatus int, body []byte) bool {
	if httpStatus == http.StatusOK {
		return true
	}
	var envelope struct {
		Status     string `json:"status"`
		StatusCode int    `json:"statusCode"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return false
	}
	switch envelope.Status {
	case "success", "accepted", "ok":
		return true
	}
	return envelope.StatusCode == http.StatusOK
}
