// Package wsfeed optionally broadcasts completed events to connected
// browser clients over a websocket, mirroring the teacher's
// user_spectrum_websocket.go subscriber-map/broadcast pattern.
package wsfeed

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"iqlab/internal/cluster"
	"iqlab/internal/iqlog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub tracks connected viewers and broadcasts completed events to all of
// them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}
	log     iqlog.Stager
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]struct{}), log: iqlog.For("wsfeed")}
}

// ServeHTTP upgrades the connection and registers it as a viewer until it
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Printf("upgrade failed: %v", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	go h.drain(conn)
}

// drain discards any client-sent frames until the connection closes, at
// which point the client is unregistered.
func (h *Hub) drain(conn *websocket.Conn) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// BroadcastEvent pushes a completed event to every connected viewer.
func (h *Hub) BroadcastEvent(ev cluster.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.Printf("marshal event failed: %v", err)
		return
	}
	h.broadcast(payload)
}

// BroadcastSpectrum pushes a raw power spectrum to every connected viewer,
// used only at verbose configuration per spec §6.
func (h *Hub) BroadcastSpectrum(frameIndex int64, spectrum []float64) {
	payload, err := json.Marshal(struct {
		Frame    int64     `json:"frame"`
		Spectrum []float64 `json:"spectrum"`
	}{frameIndex, spectrum})
	if err != nil {
		h.log.Printf("marshal spectrum failed: %v", err)
		return
	}
	h.broadcast(payload)
}

func (h *Hub) broadcast(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.log.Printf("write failed, dropping client: %v", err)
			// Closing makes drain's read fail, which unregisters the client.
			conn.Close()
		}
	}
}

// ClientCount returns the number of currently connected viewers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
