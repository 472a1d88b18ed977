package actuator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"padbridge/internal/sample"
)

// DefaultMQTTTopic is where the actuator publishes the current command.
const DefaultMQTTTopic = "padbridge/actuator/state"

// publisher is the slice of paho.Client the MQTT actuator needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	IsConnected() bool
}

// StatePayload is the retained message describing the current command.
type StatePayload struct {
	Timestamp string         `json:"timestamp"`
	Seq       uint64         `json:"seq"`
	Neutral   bool           `json:"neutral"`
	Command   sample.Command `json:"command"`
}

// FormatStatePayload renders the retained state message.
func FormatStatePayload(ts time.Time, seq uint64, cmd sample.Command) ([]byte, error) {
	return json.Marshal(StatePayload{
		Timestamp: ts.UTC().Format(time.RFC3339Nano),
		Seq:       seq,
		Neutral:   cmd.IsNeutral(),
		Command:   cmd,
	})
}

// MQTT publishes every command as a retained message so a late subscriber
// (the device side) always sees the current state.
type MQTT struct {
	client publisher
	topic  string
	qos    byte
	now    func() time.Time
	seq    atomic.Uint64
}

// NewMQTT wraps an already connected client and publishes Neutral before
// returning.
func NewMQTT(ctx context.Context, client paho.Client, topic string, qos byte) (*MQTT, error) {
	m := newMQTT(client, topic, qos)
	if err := m.Neutral(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func newMQTT(client publisher, topic string, qos byte) *MQTT {
	if topic == "" {
		topic = DefaultMQTTTopic
	}
	return &MQTT{client: client, topic: topic, qos: qos, now: time.Now}
}

func (m *MQTT) Apply(ctx context.Context, cmd sample.Command) error {
	return Wrap(OpApply, m.publish(ctx, cmd))
}

func (m *MQTT) Neutral(ctx context.Context) error {
	return Wrap(OpNeutral, m.publish(ctx, sample.Neutral))
}

func (m *MQTT) publish(ctx context.Context, cmd sample.Command) error {
	if !m.client.IsConnected() {
		return ErrUnavailable
	}
	payload, err := FormatStatePayload(m.now(), m.seq.Add(1), cmd)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	token := m.client.Publish(m.topic, m.qos, true, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ErrTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}
