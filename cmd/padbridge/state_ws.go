package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"padbridge/internal/actuator"
	"padbridge/internal/pump"
	"padbridge/internal/status"
)

// ============================================================================
// State WebSocket: hub + per-client pumps + broadcaster
// ============================================================================
//
// UI clients connect to /ws and receive:
//   - "status_init" with the status snapshot on connect
//   - "actuation" for actuator calls (applies coalesced, latest wins)
//
// Messages are JSON text frames with an envelope: {type, ts, data}.
// Slow clients are disconnected when their send buffer fills.
//
// ============================================================================

// wsActuationData is the JSON `data` payload for "actuation".
type wsActuationData struct {
	Op        string  `json:"op"`
	Command   any     `json:"command"`
	Neutral   bool    `json:"neutral"`
	Error     string  `json:"error,omitempty"`
	LatencyMS float64 `json:"latency_ms"`
}

// envelope is the wire format envelope for WS messages.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

// ============================================================================
// Hub
// ============================================================================

type Hub struct {
	logger *slog.Logger

	// Buffered broadcast channel for already-serialized JSON frames.
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size.
	SendBuf int

	// BroadcastBuf is the hub inbound broadcast queue size.
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = 32
	}
	bcastBuf := cfg.BroadcastBuf
	if bcastBuf <= 0 {
		bcastBuf = 128
	}

	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, bcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		sendBuf:    sendBuf,
	}
}

// Run processes hub events until ctx is canceled.
// It disconnects all clients on shutdown.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Debug("ws hub starting")

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("ws hub stopping")
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client registered", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			// Collect slow clients first, remove them after unlocking.
			var slow []*Client

			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		safeCloseChan(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		// Closing send signals writePump to exit.
		safeCloseChan(c.send)

		h.logger.Info("ws client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

func safeCloseChan(ch chan []byte) {
	defer func() {
		_ = recover() // ignore "close of closed channel"
	}()
	close(ch)
}

// BroadcastBytes enqueues a pre-serialized JSON WS frame for broadcast.
// It never blocks; if the hub queue is full it drops the message.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws hub broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub *Hub

	conn *websocket.Conn
	send chan []byte

	remoteAddr string
	logger     *slog.Logger
}

// NewClient creates a client with a buffered send channel.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := 32
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// wsActuationCoalesceWindow is the maximum rate at which apply events reach
// clients. The pump applies at tick rate, far faster than a UI needs.
const wsActuationCoalesceWindow = 50 * time.Millisecond

// closeStatus extracts a human-readable websocket close code / text when possible.
func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

func (c *Client) logExit(where string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.logger.Info("ws "+where+" exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
		return
	}
	c.logger.Info("ws "+where+" exiting", "remote_addr", c.remoteAddr, "error", err)
}

// writePump writes messages from the send queue to the websocket.
// It exits on write error or when send is closed.
func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed: hub is disconnecting us.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("writePump", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("writePump", err)
				return
			}
		}
	}
}

// readPump reads and discards incoming messages to detect disconnects and handle control frames.
// It exits on read error, then unregisters the client.
func (c *Client) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("readPump", err)
			if c.hub != nil {
				c.hub.unregister <- c
			}
			return
		}
	}
}

// ============================================================================
// HTTP handler
// ============================================================================

type StateServer struct {
	logger   *slog.Logger
	hub      *Hub
	snapshot func() status.Snapshot
}

// NewStateServer constructs the WS state server. Register it on a mux,
// start Hub().Run(ctx), and feed RunBroadcaster from the pump observer.
func NewStateServer(logger *slog.Logger, snapshot func() status.Snapshot, cfg HubConfig) *StateServer {
	return &StateServer{
		logger:   logger,
		hub:      NewHub(logger, cfg),
		snapshot: snapshot,
	}
}

func (s *StateServer) Hub() *Hub { return s.hub }

// Register registers the WS handler on the provided mux.
func (s *StateServer) Register(mux *http.ServeMux, path string) {
	if mux == nil {
		return
	}
	mux.HandleFunc(path, s.handleStateWS)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStateWS upgrades and registers a client, then sends status_init.
func (s *StateServer) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)

	// Queue status_init before registering so it is the first frame.
	if s.snapshot != nil {
		now := time.Now().UTC()
		if msg, err := json.Marshal(envelope{Type: "status_init", Ts: &now, Data: s.snapshot()}); err == nil {
			client.send <- msg
		}
	}

	s.hub.register <- client

	// The pumps outlive the request; net/http cancels r.Context() when the
	// handler returns, which would close the socket with 1006.
	go client.writePump(context.Background())
	go client.readPump()
}

// ============================================================================
// Broadcaster
// ============================================================================

// ActuationFeed is a pump.Observer that hands events to RunBroadcaster
// without blocking the pump loop.
type ActuationFeed chan pump.Event

// NewActuationFeed returns a feed with the given buffer.
func NewActuationFeed(buf int) ActuationFeed {
	if buf <= 0 {
		buf = 64
	}
	return make(ActuationFeed, buf)
}

// Actuated implements pump.Observer. Events are dropped when the feed is full.
func (f ActuationFeed) Actuated(ev pump.Event) {
	select {
	case f <- ev:
	default:
	}
}

func actuationMessage(ev pump.Event) ([]byte, error) {
	data := wsActuationData{
		Op:        ev.Op,
		Command:   ev.Command,
		Neutral:   ev.Command.IsNeutral(),
		LatencyMS: float64(ev.Latency) / float64(time.Millisecond),
	}
	if ev.Err != nil {
		data.Error = ev.Err.Error()
	}
	ts := ev.Time.UTC()
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return json.Marshal(envelope{Type: "actuation", Ts: &ts, Data: data})
}

// RunBroadcaster reads actuation events and broadcasts them to all hub clients.
//
// Successful applies are coalesced (latest wins) and flushed at most once per
// wsActuationCoalesceWindow. Neutrals and failures are sent immediately, after
// any pending apply.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan pump.Event, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}

	var pending *pump.Event
	var timer *time.Timer
	var timerCh <-chan time.Time

	emit := func(ev pump.Event) {
		msg, err := actuationMessage(ev)
		if err != nil {
			logger.Warn("ws broadcaster marshal failed", "error", err, "op", ev.Op)
			return
		}
		hub.BroadcastBytes(msg)
	}

	flushPending := func() {
		if pending == nil {
			return
		}
		emit(*pending)
		pending = nil
	}

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timer, timerCh = nil, nil
	}

	for {
		select {
		case <-ctx.Done():
			flushPending()
			stopTimer()
			return

		case <-timerCh:
			flushPending()
			stopTimer()

		case ev, ok := <-src:
			if !ok {
				flushPending()
				stopTimer()
				logger.Debug("ws broadcaster stopping (source ended)")
				return
			}

			if ev.Op == actuator.OpApply && ev.Err == nil {
				copyEv := ev
				pending = &copyEv
				if timer == nil {
					timer = time.NewTimer(wsActuationCoalesceWindow)
					timerCh = timer.C
				}
				continue
			}

			flushPending()
			stopTimer()
			emit(ev)
		}
	}
}
