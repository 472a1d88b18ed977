package main

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"padbridge/internal/actuator"
	"padbridge/internal/transport"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Error() error                   { return nil }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// stubClient records topic subscriptions; other paho.Client methods panic.
type stubClient struct {
	paho.Client

	mu        sync.Mutex
	connected bool
	subs      []string
	unsubs    []string
}

func (c *stubClient) IsConnected() bool { return c.connected }

func (c *stubClient) Subscribe(topic string, _ byte, _ paho.MessageHandler) paho.Token {
	c.mu.Lock()
	c.subs = append(c.subs, topic)
	c.mu.Unlock()
	return doneToken{}
}

func (c *stubClient) Unsubscribe(topics ...string) paho.Token {
	c.mu.Lock()
	c.unsubs = append(c.unsubs, topics...)
	c.mu.Unlock()
	return doneToken{}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBrokerSession_DetachUnsubscribesOnce(t *testing.T) {
	client := &stubClient{connected: true}
	src := transport.NewMQTTSource("pads/in", 1, transport.SinkFunc(nil), discardLogger())
	session := &brokerSession{logger: discardLogger()}

	session.attach(client, src, nil)
	if len(client.subs) != 1 || client.subs[0] != "pads/in" {
		t.Fatalf("subs = %v", client.subs)
	}

	session.detach(client)
	session.detach(client)
	if len(client.unsubs) != 1 || client.unsubs[0] != "pads/in" {
		t.Fatalf("unsubs = %v, want one unsubscribe", client.unsubs)
	}

	// A reconnect after detach must not resubscribe.
	session.onConnect(client)
	time.Sleep(20 * time.Millisecond)
	client.mu.Lock()
	defer client.mu.Unlock()
	if len(client.subs) != 1 {
		t.Fatalf("subs after reconnect = %v", client.subs)
	}
}

func TestOpenActuators(t *testing.T) {
	cfg := validConfig()
	cfg.Actuator.Kinds = []string{ActuatorLog}
	port, err := openActuators(context.Background(), cfg, nil, discardLogger())
	if err != nil {
		t.Fatalf("openActuators: %v", err)
	}
	if _, ok := port.(*actuator.Log); !ok {
		t.Fatalf("single kind = %T, want *actuator.Log", port)
	}

	cfg.Actuator.Kinds = []string{ActuatorLog, ActuatorLog}
	port, err = openActuators(context.Background(), cfg, nil, discardLogger())
	if err != nil {
		t.Fatalf("openActuators: %v", err)
	}
	if m, ok := port.(actuator.Multi); !ok || len(m) != 2 {
		t.Fatalf("two kinds = %T", port)
	}

	cfg.Actuator.Kinds = []string{ActuatorMQTT}
	if _, err := openActuators(context.Background(), cfg, nil, discardLogger()); err == nil {
		t.Fatal("mqtt actuator opened without a broker connection")
	}
}
