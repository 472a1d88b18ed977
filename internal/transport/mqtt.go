package transport

import (
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// DefaultSampleTopic carries JSON sample batches.
const DefaultSampleTopic = "padbridge/samples"

const subscribeTimeout = 5 * time.Second

// MQTTSource feeds sample batches published on a topic into a sink.
// Subscribe must be called from the broker's on-connect hook so the
// subscription survives reconnects.
type MQTTSource struct {
	topic  string
	qos    byte
	sink   Sink
	logger *slog.Logger
}

// NewMQTTSource creates a source for topic.
func NewMQTTSource(topic string, qos byte, sink Sink, logger *slog.Logger) *MQTTSource {
	if topic == "" {
		topic = DefaultSampleTopic
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTSource{topic: topic, qos: qos, sink: sink, logger: logger.With("source", "mqtt")}
}

// Topic returns the subscribed topic.
func (s *MQTTSource) Topic() string { return s.topic }

// Subscribe registers the message handler on c.
func (s *MQTTSource) Subscribe(c paho.Client) error {
	token := c.Subscribe(s.topic, s.qos, s.Handle)
	if !token.WaitTimeout(subscribeTimeout) {
		return fmt.Errorf("subscribe %s: timeout", s.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.topic, err)
	}
	s.logger.Info("subscribed", "topic", s.topic, "qos", s.qos)
	return nil
}

// Unsubscribe removes the subscription, waiting briefly for the ack.
func (s *MQTTSource) Unsubscribe(c paho.Client) {
	c.Unsubscribe(s.topic).WaitTimeout(subscribeTimeout)
}

// Handle decodes one message and forwards it. Retained messages are
// skipped: a stale batch from before we connected must not drive the device.
func (s *MQTTSource) Handle(_ paho.Client, msg paho.Message) {
	if msg.Retained() {
		s.logger.Debug("ignoring retained sample batch", "topic", msg.Topic())
		return
	}
	batch, err := DecodeBatch(msg.Payload())
	if err != nil {
		s.logger.Warn("dropping undecodable batch", "topic", msg.Topic(), "error", err)
		return
	}
	if len(batch) > 0 {
		s.sink.Ingest(batch)
	}
}
