// Package evdev encodes and decodes Linux input events and folds a physical
// gamepad's event stream into samples.
package evdev

import (
	"bytes"
	"encoding/binary"
	"io"
	"time"
)

// Event represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type Event struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// Size is the encoded size of one Event on 64-bit Linux.
var Size = binary.Size(Event{})

// Time returns the kernel timestamp of the event.
func (e Event) Time() time.Time {
	return time.Unix(e.Sec, e.Usec*1000)
}

// Key builds an EV_KEY event.
func Key(code uint16, pressed bool) Event {
	var v int32
	if pressed {
		v = ValuePress
	}
	return Event{Type: EV_KEY, Code: code, Value: v}
}

// Sync builds the EV_SYN/SYN_REPORT event that closes a frame.
func Sync() Event {
	return Event{Type: EV_SYN, Code: SYN_REPORT}
}

// Encode writes events in kernel wire format as a single write.
func Encode(w io.Writer, events ...Event) error {
	var buf bytes.Buffer
	buf.Grow(len(events) * Size)
	for _, ev := range events {
		if err := binary.Write(&buf, binary.LittleEndian, ev); err != nil {
			return err
		}
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// Decoder reads events one at a time, reusing its buffer.
type Decoder struct {
	r      io.Reader
	buf    []byte
	reader *bytes.Reader
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	buf := make([]byte, Size)
	return &Decoder{r: r, buf: buf, reader: bytes.NewReader(buf)}
}

// Decode reads the next full event.
func (d *Decoder) Decode() (Event, error) {
	var ev Event
	if _, err := io.ReadFull(d.r, d.buf); err != nil {
		return ev, err
	}
	d.reader.Reset(d.buf)
	err := binary.Read(d.reader, binary.LittleEndian, &ev)
	return ev, err
}

// DecodeBytes parses one event from buf, which must hold at least Size bytes.
func DecodeBytes(buf []byte) (Event, error) {
	var ev Event
	err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &ev)
	return ev, err
}
