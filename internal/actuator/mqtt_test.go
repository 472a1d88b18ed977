package actuator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"padbridge/internal/sample"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func newDoneToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePublisher struct {
	mu        sync.Mutex
	msgs      []published
	connected bool
	token     func() paho.Token
}

func (f *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	f.mu.Lock()
	f.msgs = append(f.msgs, published{topic, qos, retained, payload.([]byte)})
	f.mu.Unlock()
	if f.token != nil {
		return f.token()
	}
	return newDoneToken(nil)
}

func (f *fakePublisher) IsConnected() bool { return f.connected }

func TestMQTT_PublishesRetainedState(t *testing.T) {
	pub := &fakePublisher{connected: true}
	m := newMQTT(pub, "", 1)
	m.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	if err := m.Apply(context.Background(), sample.Command{Up: true, X: true}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := m.Neutral(context.Background()); err != nil {
		t.Fatalf("Neutral: %v", err)
	}

	if len(pub.msgs) != 2 {
		t.Fatalf("published %d messages, want 2", len(pub.msgs))
	}
	first := pub.msgs[0]
	if first.topic != DefaultMQTTTopic || first.qos != 1 || !first.retained {
		t.Errorf("unexpected publish params: %+v", first)
	}
	var p StatePayload
	if err := json.Unmarshal(first.payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.Seq != 1 || p.Neutral || !p.Command.Up || !p.Command.X || p.Timestamp != "2024-01-01T00:00:00Z" {
		t.Errorf("payload = %+v", p)
	}
	if err := json.Unmarshal(pub.msgs[1].payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if !p.Neutral || p.Seq != 2 {
		t.Errorf("neutral payload = %+v", p)
	}
}

func TestMQTT_Disconnected(t *testing.T) {
	m := newMQTT(&fakePublisher{}, "t", 0)
	err := m.Apply(context.Background(), sample.Command{Down: true})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Apply() error = %v, want ErrUnavailable", err)
	}
	var ae *ActuationError
	if !errors.As(err, &ae) || ae.Op != OpApply {
		t.Fatalf("Apply() error = %#v, want ActuationError{Op: apply}", err)
	}
}

func TestMQTT_ContextCancelledWhileWaiting(t *testing.T) {
	pub := &fakePublisher{connected: true, token: func() paho.Token {
		return &fakeToken{done: make(chan struct{})}
	}}
	m := newMQTT(pub, "t", 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Neutral(ctx); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Neutral() error = %v, want ErrTimeout", err)
	}
}

func TestMQTT_PublishError(t *testing.T) {
	boom := errors.New("boom")
	pub := &fakePublisher{connected: true, token: func() paho.Token { return newDoneToken(boom) }}
	m := newMQTT(pub, "t", 0)
	if err := m.Apply(context.Background(), sample.Neutral); !errors.Is(err, boom) {
		t.Fatalf("Apply() error = %v, want wrapped boom", err)
	}
}
