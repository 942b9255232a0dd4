// Package server is the HTTP surface: liveness, health, daily state,
// signal intake, metrics, and the telemetry websocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"example.com/riskbot/internal/intake"
)

// SignalHandler is the intake capability the server fronts.
type SignalHandler interface {
	HandleSignal(ctx context.Context, order json.RawMessage) (intake.Outcome, error)
}

// StateFunc supplies today's daily state for GET /state.
type StateFunc func(ctx context.Context) (any, error)

// Server is a thin JSON layer over the intake path and the state store.
type Server struct {
	httpServer *http.Server
	signals    SignalHandler
	state      StateFunc
	log        *zap.Logger
}

// New builds the server. ws may be nil, in which case /ws is not mounted.
func New(addr string, signals SignalHandler, state StateFunc, ws http.Handler, log *zap.Logger) *Server {
	s := &Server{signals: signals, state: state, log: log.Named("http")}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/state", s.handleState)
	mux.HandleFunc("/signal", s.handleSignal)
	mux.Handle("/metrics", promhttp.Handler())
	if ws != nil {
		mux.Handle("/ws", ws)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start begins serving in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.log.Info("listening", zap.String("addr", s.httpServer.Addr))
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("serve failed", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("response encode failed", zap.Error(err))
	}
}

// GET / — liveness text.
func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Write([]byte("risk bot running"))
}

// GET /healthz
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /state — today's daily state, created lazily on first access.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	st, err := s.state(r.Context())
	if err != nil {
		s.log.Error("state read failed", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "error": "state unavailable"})
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

type signalRequest struct {
	Order json.RawMessage `json:"order"`
}

// POST /signal — {"order": <broker payload>}. Declines come back 403 with a
// structured reason; a missing payload is a 400; an allowed signal returns
// the broker's verbatim response.
func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req signalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "error": "invalid JSON body"})
		return
	}

	out, err := s.signals.HandleSignal(r.Context(), req.Order)
	switch {
	case errors.Is(err, intake.ErrMissingOrder):
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "error": "missing order payload"})
	case err != nil:
		s.log.Error("signal handling failed", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "error": "internal error"})
	case out.Declined != nil:
		s.writeJSON(w, http.StatusForbidden, map[string]string{
			"status": "declined",
			"reason": string(out.Declined.Reason),
		})
	default:
		res := out.Placed
		if len(res.Raw) > 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(res.Raw)
			return
		}
		// Transport failure: no broker response to relay.
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "error", "error": res.Err})
	}
}
