//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"

	"padbridge/internal/evdev"
	"padbridge/internal/transport"
)

const (
	// epollWaitMS bounds each wait so cancellation is noticed promptly.
	epollWaitMS    = 200
	maxEpollEvents = 32

	// readBatch is how many input events one read may return.
	readBatch = 64
)

// readDevices multiplexes all devices on one goroutine with epoll.
// Any device error or hangup is fatal for the whole reader.
func readDevices(ctx context.Context, readers []*inputReader, sink transport.Sink) error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("epoll_create1: %w", err)
	}
	defer unix.Close(epfd)

	byFD := make(map[int32]*inputReader, len(readers))
	for _, r := range readers {
		fd := int(r.file.Fd())
		byFD[int32(fd)] = r

		event := unix.EpollEvent{
			Events: unix.EPOLLIN,
			Fd:     int32(fd),
		}
		if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
			return fmt.Errorf("epoll_ctl_add fd=%d: %w", fd, err)
		}
	}

	epollEvents := make([]unix.EpollEvent, maxEpollEvents)
	buf := make([]byte, readBatch*evdev.Size)

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := unix.EpollWait(epfd, epollEvents, epollWaitMS)
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			r := byFD[epollEvents[i].Fd]
			if r == nil {
				continue
			}

			if epollEvents[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				return fmt.Errorf("device error/hangup: %s", r.file.Name())
			}

			m, err := r.file.Read(buf)
			if err != nil {
				return fmt.Errorf("read from %s: %w", r.file.Name(), err)
			}

			for off := 0; off+evdev.Size <= m; off += evdev.Size {
				ev, err := evdev.DecodeBytes(buf[off : off+evdev.Size])
				if err != nil {
					// Skip malformed events
					continue
				}
				r.handle(ev, sink)
			}
		}
	}
}
