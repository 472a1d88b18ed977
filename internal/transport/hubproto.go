package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"padbridge/internal/sample"
)

// SignalR JSON hub protocol framing.
const (
	recordSeparator = 0x1e

	msgInvocation       = 1
	msgStreamItem       = 2
	msgCompletion       = 3
	msgStreamInvocation = 4
	msgCancelInvocation = 5
	msgPing             = 6
	msgClose            = 7
)

// hubMessage is the union of the hub protocol message shapes we use.
type hubMessage struct {
	Type           int               `json:"type"`
	InvocationID   string            `json:"invocationId,omitempty"`
	Target         string            `json:"target,omitempty"`
	Arguments      []json.RawMessage `json:"arguments,omitempty"`
	Result         json.RawMessage   `json:"result,omitempty"`
	Error          string            `json:"error,omitempty"`
	AllowReconnect bool              `json:"allowReconnect,omitempty"`
}

type handshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

type handshakeResponse struct {
	Error string `json:"error,omitempty"`
}

// ErrServerClosed is returned when the hub sends a close message that does
// not allow reconnecting.
var ErrServerClosed = errors.New("hub closed the connection")

// encodeFrame marshals v and appends the record separator.
func encodeFrame(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, recordSeparator), nil
}

// splitFrames splits a websocket text message into its hub records.
// Empty records are dropped; a trailing record without a separator is kept.
func splitFrames(data []byte) [][]byte {
	var out [][]byte
	for len(data) > 0 {
		i := bytes.IndexByte(data, recordSeparator)
		if i < 0 {
			out = append(out, data)
			break
		}
		if i > 0 {
			out = append(out, data[:i])
		}
		data = data[i+1:]
	}
	return out
}

func parseHandshake(frame []byte) error {
	var resp handshakeResponse
	if err := json.Unmarshal(frame, &resp); err != nil {
		return fmt.Errorf("decode handshake response: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("handshake rejected: %s", resp.Error)
	}
	return nil
}

// decodeUpdate extracts the sample batch from a JoystickUpdate invocation.
// The first argument is the batch; further arguments are ignored.
func decodeUpdate(m *hubMessage) ([]*sample.RawSample, error) {
	if len(m.Arguments) == 0 {
		return nil, nil
	}
	return DecodeBatch(m.Arguments[0])
}
