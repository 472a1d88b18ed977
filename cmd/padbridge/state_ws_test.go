package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"padbridge/internal/actuator"
	"padbridge/internal/pump"
	"padbridge/internal/sample"
	"padbridge/internal/status"
)

// These hub tests run without network I/O: clients carry a nil websocket.Conn
// and the hub guards every Close against nil.

func newTestHub(t *testing.T, sendBuf int, broadcastBuf int) *Hub {
	t.Helper()
	return NewHub(slog.Default(), HubConfig{
		SendBuf:      sendBuf,
		BroadcastBuf: broadcastBuf,
	})
}

func newTestClient(hub *Hub, name string, buf int) *Client {
	return &Client{
		hub:        hub,
		send:       make(chan []byte, buf),
		remoteAddr: name,
		logger:     slog.Default(),
	}
}

func registerAndWait(t *testing.T, hub *Hub, c *Client) {
	t.Helper()
	hub.register <- c
	waitUntil(t, 500*time.Millisecond, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.clients[c]
		return ok
	}, c.remoteAddr+" not registered in time")
}

func TestHub_BroadcastDeliveredToAllClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 4, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()

	c1 := newTestClient(hub, "c1", 4)
	c2 := newTestClient(hub, "c2", 4)
	registerAndWait(t, hub, c1)
	registerAndWait(t, hub, c2)

	msg := []byte(`{"type":"actuation","data":{"op":"apply"}}`)

	// Not BroadcastBytes: it may drop when the queue is momentarily full.
	hub.broadcast <- msg

	for _, c := range []*Client{c1, c2} {
		select {
		case got := <-c.send:
			if string(got) != string(msg) {
				t.Fatalf("%s got %q, want %q", c.remoteAddr, got, msg)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("timeout waiting for %s to receive broadcast", c.remoteAddr)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for hub to stop")
	}
	if n := hub.ClientCount(); n != 0 {
		t.Fatalf("clients after shutdown = %d, want 0", n)
	}
}

func TestHub_SlowClientDisconnectedOnFullSendBuffer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := newTestHub(t, 1, 8)
	go hub.Run(ctx)

	slow := newTestClient(hub, "slow", 1)
	fast := newTestClient(hub, "fast", 8)
	registerAndWait(t, hub, slow)
	registerAndWait(t, hub, fast)

	// Pre-fill the slow client's buffer to simulate it being stuck.
	slow.send <- []byte(`"already queued"`)

	msg := []byte(`{"type":"actuation","data":{"op":"neutral"}}`)
	hub.broadcast <- msg

	select {
	case got := <-fast.send:
		if string(got) != string(msg) {
			t.Fatalf("fast client got %q, want %q", got, msg)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for fast client to receive broadcast")
	}

	// Drain the pre-filled message, then expect the channel to be closed.
	select {
	case <-slow.send:
	default:
	}
	waitUntil(t, 750*time.Millisecond, func() bool {
		select {
		case _, ok := <-slow.send:
			return !ok
		default:
			return false
		}
	}, "expected slow send channel to be closed")
}

func decodeEnvelope(t *testing.T, b []byte) (string, wsActuationData) {
	t.Helper()
	var env struct {
		Type string          `json:"type"`
		Data wsActuationData `json:"data"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		t.Fatalf("unmarshal %s: %v", b, err)
	}
	return env.Type, env.Data
}

func TestRunBroadcaster_CoalescesApplies(t *testing.T) {
	hub := newTestHub(t, 4, 16)
	src := make(chan pump.Event, 8)

	now := time.Now()
	src <- pump.Event{Time: now, Op: actuator.OpApply, Command: sample.Command{Up: true}}
	src <- pump.Event{Time: now, Op: actuator.OpApply, Command: sample.Command{Up: true, X: true}}
	src <- pump.Event{Time: now, Op: actuator.OpApply, Command: sample.Command{Left: true}}
	src <- pump.Event{Time: now, Op: actuator.OpNeutral}
	src <- pump.Event{Time: now, Op: actuator.OpApply, Command: sample.Command{Y: true}, Err: errors.New("device gone")}
	close(src)

	done := make(chan struct{})
	go func() {
		defer close(done)
		RunBroadcaster(context.Background(), hub, src, slog.Default())
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcaster did not stop after source closed")
	}

	var frames [][]byte
	for len(hub.broadcast) > 0 {
		frames = append(frames, <-hub.broadcast)
	}
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3: %q", len(frames), frames)
	}

	typ, d := decodeEnvelope(t, frames[0])
	if typ != "actuation" || d.Op != actuator.OpApply || d.Neutral {
		t.Fatalf("frame 0 = %s", frames[0])
	}
	if !strings.Contains(string(frames[0]), `"left":true`) {
		t.Fatalf("frame 0 is not the latest apply: %s", frames[0])
	}
	if _, d := decodeEnvelope(t, frames[1]); d.Op != actuator.OpNeutral || !d.Neutral {
		t.Fatalf("frame 1 = %s", frames[1])
	}
	if _, d := decodeEnvelope(t, frames[2]); d.Error != "device gone" {
		t.Fatalf("frame 2 = %s", frames[2])
	}
}

func TestActuationFeed_NeverBlocks(t *testing.T) {
	feed := NewActuationFeed(1)
	feed.Actuated(pump.Event{Op: actuator.OpApply})
	feed.Actuated(pump.Event{Op: actuator.OpNeutral}) // dropped
	if len(feed) != 1 {
		t.Fatalf("feed len = %d, want 1", len(feed))
	}
	if ev := <-feed; ev.Op != actuator.OpApply {
		t.Fatalf("kept %q, want the first event", ev.Op)
	}
}

func TestStateServer_SendsStatusInitThenBroadcasts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := NewStateServer(slog.Default(), func() status.Snapshot {
		return status.Snapshot{Version: "test"}
	}, HubConfig{})
	go srv.Hub().Run(ctx)

	ts := httptest.NewServer(newStatusMux(status.NewTracker(pump.New(actuator.NewFake(), pump.DefaultConfig()), "test", 4), srv))
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var init struct {
		Type string          `json:"type"`
		Data status.Snapshot `json:"data"`
	}
	if err := conn.ReadJSON(&init); err != nil {
		t.Fatalf("read status_init: %v", err)
	}
	if init.Type != "status_init" || init.Data.Version != "test" {
		t.Fatalf("first frame = %+v", init)
	}

	waitUntil(t, 500*time.Millisecond, func() bool { return srv.Hub().ClientCount() == 1 }, "client not registered")

	msg, err := actuationMessage(pump.Event{Time: time.Now(), Op: actuator.OpNeutral})
	if err != nil {
		t.Fatal(err)
	}
	srv.Hub().BroadcastBytes(msg)

	_, got, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read actuation: %v", err)
	}
	if typ, d := decodeEnvelope(t, got); typ != "actuation" || d.Op != actuator.OpNeutral {
		t.Fatalf("actuation frame = %s", got)
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}
