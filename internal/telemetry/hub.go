// Package telemetry pushes risk events (declines, square-offs, day locks)
// to websocket subscribers.
package telemetry

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type event struct {
	Type string    `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data,omitempty"`
}

// Hub fans events out to connected clients. Slow or dead clients are
// dropped, never waited on.
type Hub struct {
	log       *zap.Logger
	lock      sync.Mutex
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log:       log.Named("telemetry"),
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, 64),
	}
}

// Run drains the broadcast channel until it is closed.
func (h *Hub) Run() {
	for message := range h.broadcast {
		h.lock.Lock()
		for client := range h.clients {
			if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
				client.Close()
				delete(h.clients, client)
			}
		}
		h.lock.Unlock()
	}
}

// Publish queues an event for broadcast. Never blocks: if the queue is full
// the event is dropped.
func (h *Hub) Publish(kind string, v any) {
	msg, err := json.Marshal(event{Type: kind, At: time.Now(), Data: v})
	if err != nil {
		h.log.Warn("event marshal failed", zap.String("type", kind), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn("telemetry queue full, event dropped", zap.String("type", kind))
	}
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	h.lock.Lock()
	h.clients[conn] = true
	h.lock.Unlock()
	h.log.Info("telemetry client connected", zap.String("remote", r.RemoteAddr))
}

// ClientCount reports connected subscribers.
func (h *Hub) ClientCount() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.clients)
}
