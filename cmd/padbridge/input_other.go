//go:build !linux

package main

import (
	"context"

	"golang.org/x/sync/errgroup"

	"padbridge/internal/transport"
)

// readDevices runs one blocking reader per device.
func readDevices(ctx context.Context, readers []*inputReader, sink transport.Sink) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range readers {
		g.Go(func() error { return readDevice(r, sink) })
	}
	g.Go(func() error {
		<-gctx.Done()
		for _, r := range readers {
			_ = r.file.Close()
		}
		return nil
	})
	return g.Wait()
}
