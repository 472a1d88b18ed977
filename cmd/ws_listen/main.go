package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// message mirrors the daemon's websocket envelope.
type message struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type actuation struct {
	Op        string          `json:"op"`
	Command   map[string]bool `json:"command"`
	Neutral   bool            `json:"neutral"`
	Error     string          `json:"error,omitempty"`
	LatencyMS float64         `json:"latency_ms"`
}

func main() {
	var (
		wsURL = flag.String("ws", "ws://127.0.0.1:3002/ws", "padbridge state websocket URL")
		raw   = flag.Bool("raw", false, "Print frames as received instead of one line per actuation")
	)
	flag.Parse()

	// Parse websocket URL
	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	// Handle shutdown
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	// Mutex to protect concurrent writes to websocket
	var writeMu sync.Mutex

	// The daemon pings every 20s; answer with a pong and extend the deadline.
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
	})

	// Message reading loop
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			if messageType != websocket.TextMessage {
				fmt.Printf("[BINARY] %d bytes\n", len(payload))
				continue
			}
			if *raw {
				fmt.Println(string(payload))
				continue
			}
			handleTextMessage(payload)
		}
	}()

	// Wait for shutdown signal or connection close
	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// handleTextMessage prints one line per known frame type.
func handleTextMessage(payload []byte) {
	var msg message
	if err := json.Unmarshal(payload, &msg); err != nil {
		fmt.Printf("[TEXT] %s\n", string(payload))
		return
	}

	switch msg.Type {
	case "status_init":
		var pretty map[string]any
		if err := json.Unmarshal(msg.Data, &pretty); err != nil {
			fmt.Printf("[STATUS] %s\n", string(msg.Data))
			return
		}
		out, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Printf("[STATUS]\n%s\n\n", string(out))

	case "actuation":
		var a actuation
		if err := json.Unmarshal(msg.Data, &a); err != nil {
			fmt.Printf("[ACTUATION] %s\n", string(msg.Data))
			return
		}
		ts := ""
		if msg.Ts != nil {
			ts = msg.Ts.Local().Format("15:04:05.000") + " "
		}
		line := fmt.Sprintf("%s[%s] %s (%.1fms)", ts, strings.ToUpper(a.Op), formatCommand(a.Command, a.Neutral), a.LatencyMS)
		if a.Error != "" {
			line += " error: " + a.Error
		}
		fmt.Println(line)

	default:
		fmt.Printf("[%s] %s\n", strings.ToUpper(msg.Type), string(msg.Data))
	}
}

// formatCommand renders the pressed bits in a fixed order, e.g. "up+x".
func formatCommand(cmd map[string]bool, neutral bool) string {
	if neutral {
		return "neutral"
	}
	var parts []string
	for _, k := range []string{"up", "down", "left", "right", "x", "y"} {
		if cmd[k] {
			parts = append(parts, k)
		}
	}
	if len(parts) == 0 {
		return "neutral"
	}
	return strings.Join(parts, "+")
}
