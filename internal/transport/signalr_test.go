package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"padbridge/internal/sample"
)

type recordingSink struct {
	mu      sync.Mutex
	batches [][]*sample.RawSample
}

func (r *recordingSink) Ingest(batch []*sample.RawSample) {
	r.mu.Lock()
	r.batches = append(r.batches, batch)
	r.mu.Unlock()
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

type recordingListener struct {
	mu           sync.Mutex
	connected    []string
	disconnected int
}

func (l *recordingListener) SetConnected(_, session string) {
	l.mu.Lock()
	l.connected = append(l.connected, session)
	l.mu.Unlock()
}

func (l *recordingListener) SetDisconnected(string, error) {
	l.mu.Lock()
	l.disconnected++
	l.mu.Unlock()
}

func (l *recordingListener) sessions() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.connected...)
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeHub is a minimal SignalR JSON hub.
type fakeHub struct {
	t          *testing.T
	upgrader   websocket.Upgrader
	connects   atomic.Int32
	negotiates atomic.Int32
	authHeader atomic.Value

	// onSession runs after the handshake and register call for the n-th
	// connection (1-based).
	onSession func(n int32, ws *websocket.Conn)
}

func (h *fakeHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/negotiate") {
		h.negotiates.Add(1)
		h.authHeader.Store(r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"negotiateVersion": 1,
			"connectionId":     "cid",
			"connectionToken":  "ctok",
			"availableTransports": []map[string]any{
				{"transport": "WebSockets", "transferFormats": []string{"Text"}},
			},
		})
		return
	}
	if r.URL.Query().Get("id") != "ctok" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()
	n := h.connects.Add(1)

	// Handshake.
	_, data, err := ws.ReadMessage()
	if err != nil {
		return
	}
	var hs handshakeRequest
	if err := json.Unmarshal(splitFrames(data)[0], &hs); err != nil || hs.Protocol != "json" || hs.Version != 1 {
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"error":"bad handshake"}`+"\x1e"))
		return
	}
	_ = ws.WriteMessage(websocket.TextMessage, []byte("{}\x1e"))

	// Register invocation.
	_, data, err = ws.ReadMessage()
	if err != nil {
		return
	}
	var inv hubMessage
	if err := json.Unmarshal(splitFrames(data)[0], &inv); err != nil || inv.Target != DefaultRegisterMethod {
		return
	}
	_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":3,"invocationId":"`+inv.InvocationID+`"}`+"\x1e"))

	h.onSession(n, ws)
}

func updateFrame(samples string) []byte {
	return []byte(`{"type":1,"target":"JoystickUpdate","arguments":[` + samples + `]}` + "\x1e")
}

func TestSignalR_ReceivesUpdates(t *testing.T) {
	hub := &fakeHub{t: t}
	hub.onSession = func(_ int32, ws *websocket.Conn) {
		msg := append(updateFrame(`[{"ts":1,"gamepadId":"p","direction":1,"buttons":[0]},{"ts":2,"gamepadId":"p","direction":0,"buttons":[]}]`),
			[]byte(`{"type":6}`+"\x1e")...)
		_ = ws.WriteMessage(websocket.TextMessage, msg)
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":1,"target":"Other","arguments":[]}`+"\x1e"))
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}
	srv := httptest.NewServer(hub)
	defer srv.Close()

	sink := &recordingSink{}
	listener := &recordingListener{}
	cfg := DefaultSignalRConfig()
	cfg.URL = srv.URL + "/joystickhub"
	cfg.TokenSecret = "s3cret"
	c := NewSignalR(cfg, sink, listener, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	waitUntil(t, 2*time.Second, func() bool { return sink.count() == 1 }, "batch not delivered")
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v, want nil on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	batch := sink.batches[0]
	if len(batch) != 2 || batch[0].Direction != sample.DirUp || batch[0].SourceID != "p" {
		t.Fatalf("batch = %+v", batch)
	}
	if got := hub.authHeader.Load().(string); !strings.HasPrefix(got, "Bearer ey") {
		t.Fatalf("Authorization = %q, want bearer JWT", got)
	}
	if s := listener.sessions(); len(s) != 1 || s[0] == "" {
		t.Fatalf("sessions = %v", s)
	}
}

func TestSignalR_ReconnectsWithNewSession(t *testing.T) {
	hub := &fakeHub{t: t}
	hub.onSession = func(n int32, ws *websocket.Conn) {
		if n == 1 {
			// Drop the first session abruptly.
			return
		}
		_ = ws.WriteMessage(websocket.TextMessage, updateFrame(`[{"direction":"left"}]`))
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}
	srv := httptest.NewServer(hub)
	defer srv.Close()

	sink := &recordingSink{}
	listener := &recordingListener{}
	cfg := DefaultSignalRConfig()
	cfg.URL = srv.URL + "/hub"
	cfg.Backoff = BackoffConfig{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond, Multiplier: 2}
	c := NewSignalR(cfg, sink, listener, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	waitUntil(t, 3*time.Second, func() bool { return sink.count() == 1 }, "batch after reconnect")
	if hub.connects.Load() < 2 {
		t.Fatalf("connects = %d, want >= 2", hub.connects.Load())
	}
	s := listener.sessions()
	if len(s) < 2 || s[0] == s[1] {
		t.Fatalf("sessions = %v, want two distinct ids", s)
	}
}

func TestSignalR_ShortSessionsBackOff(t *testing.T) {
	hub := &fakeHub{t: t}
	// Every session ends right after register.
	hub.onSession = func(int32, *websocket.Conn) {}
	srv := httptest.NewServer(hub)
	defer srv.Close()

	cfg := DefaultSignalRConfig()
	cfg.URL = srv.URL + "/hub"
	cfg.Backoff = BackoffConfig{Initial: 50 * time.Millisecond, Max: time.Second, Multiplier: 2}
	c := NewSignalR(cfg, &recordingSink{}, nil, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 700*time.Millisecond)
	defer cancel()
	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run() = %v, want nil on cancel", err)
	}

	// Waits of at least 25, 50, 100, 200ms (jitter included) between sessions.
	n := hub.connects.Load()
	if n < 2 || n > 8 {
		t.Fatalf("connects in 700ms = %d, want 2..8", n)
	}
}

func TestSignalR_ServerCloseWithoutReconnect(t *testing.T) {
	hub := &fakeHub{t: t}
	hub.onSession = func(_ int32, ws *websocket.Conn) {
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":7,"error":"shutting down"}`+"\x1e"))
		time.Sleep(100 * time.Millisecond)
	}
	srv := httptest.NewServer(hub)
	defer srv.Close()

	cfg := DefaultSignalRConfig()
	cfg.URL = srv.URL + "/hub"
	c := NewSignalR(cfg, &recordingSink{}, nil, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Run(ctx); !errors.Is(err, ErrServerClosed) {
		t.Fatalf("Run() = %v, want ErrServerClosed", err)
	}
}

func TestSignalR_UnauthorizedIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := DefaultSignalRConfig()
	cfg.URL = srv.URL + "/hub"
	c := NewSignalR(cfg, &recordingSink{}, nil, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.Run(ctx)
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("Run() = %v, want 401 error", err)
	}
}

func TestSplitFrames(t *testing.T) {
	frames := splitFrames([]byte("{}\x1e\x1e{\"type\":6}\x1e{\"type\":7}"))
	if len(frames) != 3 || string(frames[0]) != "{}" || string(frames[2]) != `{"type":7}` {
		t.Fatalf("frames = %q", frames)
	}
}

func TestWSURL(t *testing.T) {
	got, err := wsURL("https://example.com/hub?x=1", "abc")
	if err != nil || got != "wss://example.com/hub?id=abc&x=1" {
		t.Fatalf("wsURL = %q, %v", got, err)
	}
	if _, err := wsURL("ftp://example.com", ""); err == nil {
		t.Fatal("ftp scheme accepted")
	}
}

func TestDecodeBatch(t *testing.T) {
	b, err := DecodeBatch([]byte(` {"direction":"up"}`))
	if err != nil || len(b) != 1 || b[0].Direction != sample.DirUp {
		t.Fatalf("single = %+v, %v", b, err)
	}
	b, err = DecodeBatch([]byte(`[{"buttons":[1]},{"buttons":[0]}]`))
	if err != nil || len(b) != 2 {
		t.Fatalf("array = %+v, %v", b, err)
	}
	if _, err := DecodeBatch([]byte(`nope`)); err == nil {
		t.Fatal("garbage accepted")
	}
}

func TestJWTSource_CachesUntilNearExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewJWTSource([]byte("k"), "iss", "sub", "aud", time.Hour)
	s.now = func() time.Time { return now }

	a, err := s.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	now = now.Add(30 * time.Minute)
	b, _ := s.Token()
	if a != b {
		t.Fatal("token re-minted before refresh window")
	}
	now = now.Add(25 * time.Minute)
	c, _ := s.Token()
	if c == a {
		t.Fatal("token not refreshed inside refresh window")
	}
}
