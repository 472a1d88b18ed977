// Package transport receives sample batches from upstream sources and hands
// them to a Sink.
//
// Two sources exist: a SignalR hub session over websocket (the primary
// upstream) and an MQTT topic subscription.
package transport

import (
	"encoding/json"
	"time"

	"padbridge/internal/sample"
)

// Sink consumes decoded sample batches. *pump.Pump satisfies it.
type Sink interface {
	Ingest(batch []*sample.RawSample)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func([]*sample.RawSample)

func (f SinkFunc) Ingest(batch []*sample.RawSample) { f(batch) }

// Listener is told about session changes. *status.Tracker satisfies it.
type Listener interface {
	SetConnected(name, session string)
	SetDisconnected(name string, err error)
}

type nopListener struct{}

func (nopListener) SetConnected(string, string)   {}
func (nopListener) SetDisconnected(string, error) {}

// BackoffConfig shapes the reconnect delay.
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial" env:"INITIAL"`
	Max        time.Duration `yaml:"max" env:"MAX"`
	Multiplier float64       `yaml:"multiplier" env:"MULTIPLIER"`
	// MaxElapsed bounds one reconnect attempt series; 0 retries forever.
	MaxElapsed time.Duration `yaml:"max_elapsed" env:"MAX_ELAPSED"`
}

// DefaultBackoff returns the reconnect policy used when none is configured.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		Initial:    500 * time.Millisecond,
		Max:        30 * time.Second,
		Multiplier: 2,
	}
}

// DecodeBatch parses a JSON sample batch. It accepts either an array of
// samples or a single sample object.
func DecodeBatch(data []byte) ([]*sample.RawSample, error) {
	for _, c := range data {
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		case '{':
			var s sample.RawSample
			if err := json.Unmarshal(data, &s); err != nil {
				return nil, err
			}
			return []*sample.RawSample{&s}, nil
		}
		break
	}
	var batch []*sample.RawSample
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, err
	}
	return batch, nil
}
