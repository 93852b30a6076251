// Package stream serves a running scene over websockets: every step is
// broadcast as a frame of filaments, and clients may query the concentration
// and wind at arbitrary points.
package stream

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Message types.
const (
	TypeFrame  = "frame"
	TypeSample = "sample"
	TypeError  = "error"
)

// Layer holds the filaments of one simulation as x, y, z [m] and sigma [cm].
type Layer struct {
	Gas       string       `json:"gas"`
	Filaments [][4]float32 `json:"filaments"`
	Total     int          `json:"total"` // before truncation
}

// Frame is broadcast after every step.
type Frame struct {
	Type      string  `json:"type"`
	Iteration int     `json:"iteration"`
	Time      float64 `json:"time"`
	WindIndex int     `json:"wind_index"`
	Layers    []Layer `json:"layers"`
}

// Request is a client message.
type Request struct {
	Type     string     `json:"type"`
	Position [3]float64 `json:"position"`
}

// SampleReply answers a sample request.
type SampleReply struct {
	Type           string             `json:"type"`
	Position       [3]float64         `json:"position"`
	Concentrations map[string]float64 `json:"concentrations"` // ppm by gas
	Wind           [3]float64         `json:"wind"`           // [m/s]
}

// ErrorReply reports a rejected request.
type ErrorReply struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub tracks connected clients. Each connection has its own write lock so
// broadcasts and replies never interleave.
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]*sync.Mutex
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]*sync.Mutex)}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = &sync.Mutex{}
	h.mu.Unlock()
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
}

// Send writes v to one client.
func (h *Hub) Send(conn *websocket.Conn, v any) error {
	h.mu.RLock()
	lock, ok := h.clients[conn]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	lock.Lock()
	defer lock.Unlock()
	return conn.WriteJSON(v)
}

// Broadcast writes v to every client and drops the ones that fail.
func (h *Hub) Broadcast(v any) {
	var failed []*websocket.Conn
	h.mu.RLock()
	for conn, lock := range h.clients {
		lock.Lock()
		err := conn.WriteJSON(v)
		lock.Unlock()
		if err != nil {
			slog.Warn("dropping stream client", "remote", conn.RemoteAddr(), "error", err)
			failed = append(failed, conn)
		}
	}
	h.mu.RUnlock()

	if len(failed) > 0 {
		h.mu.Lock()
		for _, conn := range failed {
			delete(h.clients, conn)
			conn.Close()
		}
		h.mu.Unlock()
	}
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	for conn := range h.clients {
		conn.Close()
	}
	clear(h.clients)
	h.mu.Unlock()
}
