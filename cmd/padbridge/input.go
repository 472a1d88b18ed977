package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"padbridge/internal/evdev"
	"padbridge/internal/sample"
	"padbridge/internal/transport"
)

// inputReader feeds events from one opened device to its Pad.
type inputReader struct {
	file *os.File
	pad  *evdev.Pad
}

// handle folds one event and forwards a finished frame to the sink.
func (r *inputReader) handle(ev evdev.Event, sink transport.Sink) {
	if s, ok := r.pad.Feed(ev); ok {
		sink.Ingest([]*sample.RawSample{s})
	}
}

// runInput reads local gamepads until ctx is canceled or a device fails.
func runInput(ctx context.Context, devices []string, sink transport.Sink, logger *slog.Logger) error {
	if len(devices) == 0 {
		return nil
	}

	readers := make([]*inputReader, 0, len(devices))
	defer func() {
		for _, r := range readers {
			_ = r.file.Close()
		}
	}()
	for _, dev := range devices {
		f, err := os.Open(dev)
		if err != nil {
			return fmt.Errorf("open input device %s: %w (run as root or add user to 'input' group)", dev, err)
		}
		readers = append(readers, &inputReader{file: f, pad: evdev.NewPad(dev)})
	}

	logger.Info("reading input devices", "devices", devices)
	return readDevices(ctx, readers, sink)
}

// readDevice reads one device with a blocking decoder. Used where epoll is
// unavailable; the caller closes the file to unblock it.
func readDevice(r *inputReader, sink transport.Sink) error {
	dec := evdev.NewDecoder(r.file)
	for {
		ev, err := dec.Decode()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read from %s: %w", r.file.Name(), err)
		}
		r.handle(ev, sink)
	}
}
