package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHub_Broadcast(t *testing.T) {
	g := Geometry{Width: 4, Height: 2, Channels: 1, BytesPerValue: 1, FPS: 30}
	hub := NewHub(g)
	srv := httptest.NewServer(hub.Handler("/frames"))
	defer srv.Close()

	conn := dial(t, srv, "/frames")
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	mt, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if mt != websocket.TextMessage {
		t.Fatalf("hello message type = %d", mt)
	}
	var got Geometry
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("decode hello: %v", err)
	}
	if got != g {
		t.Errorf("hello = %+v, want %+v", got, g)
	}

	frame := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if n := hub.Broadcast(frame); n != 1 {
		t.Errorf("Broadcast() = %d, want 1", n)
	}
	mt, msg, err = conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if mt != websocket.BinaryMessage || !bytes.Equal(msg, frame) {
		t.Errorf("frame = %d %v", mt, msg)
	}

	conn.Close()
	waitFor(t, func() bool { return hub.ClientCount() == 0 })
}

func TestHub_BroadcastSlowClient(t *testing.T) {
	hub := NewHub(Geometry{Width: 1, Height: 1, Channels: 1, BytesPerValue: 1, FPS: 30})
	srv := httptest.NewServer(hub.Handler("/frames"))
	defer srv.Close()

	conn := dial(t, srv, "/frames")
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatal(err)
	}

	// Hold the only client's write lock so Broadcast stalls on it.
	var writeMu *sync.Mutex
	hub.mu.Lock()
	for _, m := range hub.clients {
		writeMu = m
	}
	hub.mu.Unlock()
	writeMu.Lock()

	sent := make(chan int, 1)
	go func() { sent <- hub.Broadcast([]byte{9}) }()
	waitFor(t, func() bool {
		if !hub.mu.TryLock() {
			return false
		}
		defer hub.mu.Unlock()
		return hub.frames == 1
	})

	tests := []struct {
		name string
		call func() bool
	}{
		{"client count", func() bool { return hub.ClientCount() == 1 }},
		{"status", func() bool {
			rec := httptest.NewRecorder()
			hub.Handler("/frames").ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))
			return rec.Code == 200
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			done := make(chan bool, 1)
			go func() { done <- tt.call() }()
			select {
			case ok := <-done:
				if !ok {
					t.Error("unexpected result")
				}
			case <-time.After(2 * time.Second):
				t.Fatal("blocked behind a pending write")
			}
		})
	}

	writeMu.Unlock()
	select {
	case n := <-sent:
		if n != 1 {
			t.Errorf("Broadcast() = %d, want 1", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Broadcast did not finish")
	}
	if _, msg, err := conn.ReadMessage(); err != nil || !bytes.Equal(msg, []byte{9}) {
		t.Errorf("frame = %v, %v", msg, err)
	}
}

func TestHub_Run(t *testing.T) {
	hub := NewHub(Geometry{Width: 1, Height: 1, Channels: 1, BytesPerValue: 2})
	srv := httptest.NewServer(hub.Handler("/frames"))
	defer srv.Close()

	conn := dial(t, srv, "/frames")
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	frames := make(chan []byte, 2)
	done := make(chan struct{})
	go func() {
		hub.Run(ctx, frames)
		close(done)
	}()
	frames <- []byte{0, 1}
	frames <- []byte{0, 2}
	close(frames)

	for i := byte(1); i <= 2; i++ {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(msg, []byte{0, i}) {
			t.Errorf("frame %d = %v", i, msg)
		}
	}
	<-done
}

func TestHub_Status(t *testing.T) {
	hub := NewHub(Geometry{Width: 2, Height: 2, Channels: 3, BytesPerValue: 1})
	hub.Broadcast([]byte{0})

	rec := httptest.NewRecorder()
	hub.Handler("/frames").ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))
	if rec.Code != 200 {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["clients"].(float64) != 0 || payload["frames"].(float64) != 1 {
		t.Errorf("unexpected payload: %v", payload)
	}

	rec = httptest.NewRecorder()
	hub.Handler("/frames").ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != 200 || rec.Body.String() != "ok" {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}
