// Package broadcast pushes reconstructed frames to websocket subscribers.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10
)

// Geometry describes the frames a hub sends. It is written to every client
// as a JSON text message when it connects; each frame follows as one binary
// message.
type Geometry struct {
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	Channels      int     `json:"channels"`
	BytesPerValue int     `json:"bytes_per_value"`
	FPS           float64 `json:"fps"`
}

// Hub tracks websocket clients and fans frames out to them.
type Hub struct {
	upgrader websocket.Upgrader
	geometry Geometry

	mu      sync.Mutex
	clients map[*websocket.Conn]*sync.Mutex
	frames  int64
}

// NewHub returns a hub announcing g to new clients.
func NewHub(g Geometry) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		geometry: g,
		clients:  make(map[*websocket.Conn]*sync.Mutex),
	}
}

// Handler returns a mux serving the websocket endpoint at path plus
// /healthz and /status.
func (h *Hub) Handler(path string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(path, h.handleWS)
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/status", h.handleStatus)
	return mux
}

// Serve listens on addr until ctx is done.
func (h *Hub) Serve(ctx context.Context, addr, path string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Handler(path),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		h.closeAll()
	}()
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Run broadcasts every frame received from frames until the channel is
// closed or ctx is done.
func (h *Hub) Run(ctx context.Context, frames <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			h.Broadcast(frame)
		}
	}
}

// Broadcast sends frame to every client and returns how many received it.
// Clients that fail are disconnected.
func (h *Hub) Broadcast(frame []byte) int {
	h.mu.Lock()
	clients := make(map[*websocket.Conn]*sync.Mutex, len(h.clients))
	for conn, writeMu := range h.clients {
		clients[conn] = writeMu
	}
	h.frames++
	h.mu.Unlock()

	// Writes happen outside h.mu so a slow client does not block
	// connects, disconnects or status requests.
	var stale []*websocket.Conn
	sent := 0
	for conn, writeMu := range clients {
		if err := writeMessage(conn, writeMu, websocket.BinaryMessage, frame); err != nil {
			stale = append(stale, conn)
			continue
		}
		sent++
	}
	for _, conn := range stale {
		h.removeClient(conn)
	}
	return sent
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	writeMu := &sync.Mutex{}
	h.mu.Lock()
	h.clients[conn] = writeMu
	h.mu.Unlock()

	hello, _ := json.Marshal(h.geometry)
	if err := writeMessage(conn, writeMu, websocket.TextMessage, hello); err != nil {
		h.removeClient(conn)
		return
	}

	go func() {
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := writeMessage(conn, writeMu, websocket.PingMessage, nil); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()
		defer close(done)
		defer h.removeClient(conn)
		// Clients only send control frames; reading drives the pong handler.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Hub) handleStatus(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	payload := map[string]any{
		"clients":  len(h.clients),
		"frames":   h.frames,
		"geometry": h.geometry,
	}
	h.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.Unlock()
	for _, conn := range conns {
		h.removeClient(conn)
	}
}

func writeMessage(conn *websocket.Conn, writeMu *sync.Mutex, messageType int, payload []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}
