//go:build linux

package actuator

import (
	"context"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"padbridge/internal/evdev"
	"padbridge/internal/sample"
)

// uinput ioctl requests (from <linux/uinput.h>)
const (
	uiDevCreate  = 0x5501
	uiDevDestroy = 0x5502
	uiDevSetup   = 0x405c5503
	uiSetEvBit   = 0x40045564
	uiSetKeyBit  = 0x40045565

	busVirtual    = 0x06
	uinputMaxName = 80
)

type inputID struct {
	Bustype uint16
	Vendor  uint16
	Product uint16
	Version uint16
}

// struct uinput_setup
type uinputSetup struct {
	ID           inputID
	Name         [uinputMaxName]byte
	FFEffectsMax uint32
}

// UInput is a virtual gamepad created through /dev/uinput.
type UInput struct {
	mu sync.Mutex
	f  *os.File
}

// OpenUInput creates the virtual device and leaves it in neutral.
func OpenUInput(path, name string) (*UInput, error) {
	if path == "" {
		path = "/dev/uinput"
	}
	if name == "" {
		name = DefaultUInputName
	}
	f, err := os.OpenFile(path, os.O_WRONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	fd := int(f.Fd())

	if err := unix.IoctlSetInt(fd, uiSetEvBit, evdev.EV_KEY); err != nil {
		f.Close()
		return nil, fmt.Errorf("UI_SET_EVBIT: %w", err)
	}
	for _, code := range uinputKeys {
		if err := unix.IoctlSetInt(fd, uiSetKeyBit, int(code)); err != nil {
			f.Close()
			return nil, fmt.Errorf("UI_SET_KEYBIT %#x: %w", code, err)
		}
	}

	setup := uinputSetup{ID: inputID{Bustype: busVirtual, Vendor: 0x1209, Product: 0x0001, Version: 1}}
	copy(setup.Name[:uinputMaxName-1], name)
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uiDevSetup, uintptr(unsafe.Pointer(&setup))); errno != 0 {
		f.Close()
		return nil, fmt.Errorf("UI_DEV_SETUP: %w", errno)
	}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uiDevCreate, 0); errno != 0 {
		f.Close()
		return nil, fmt.Errorf("UI_DEV_CREATE: %w", errno)
	}

	u := &UInput{f: f}
	if err := u.Neutral(context.Background()); err != nil {
		u.Close()
		return nil, err
	}
	return u, nil
}

func (u *UInput) Apply(_ context.Context, cmd sample.Command) error {
	return Wrap(OpApply, u.write(cmd))
}

func (u *UInput) Neutral(_ context.Context) error {
	return Wrap(OpNeutral, u.write(sample.Neutral))
}

func (u *UInput) write(cmd sample.Command) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.f == nil {
		return ErrUnavailable
	}
	if err := evdev.Encode(u.f, commandEvents(cmd)...); err != nil {
		return fmt.Errorf("write events: %w", err)
	}
	return nil
}

// Close releases every key, destroys the device and closes the handle.
func (u *UInput) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.f == nil {
		return nil
	}
	var errs []error
	if err := evdev.Encode(u.f, commandEvents(sample.Neutral)...); err != nil {
		errs = append(errs, fmt.Errorf("release keys: %w", err))
	}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, u.f.Fd(), uiDevDestroy, 0); errno != 0 {
		errs = append(errs, fmt.Errorf("UI_DEV_DESTROY: %w", errno))
	}
	if err := u.f.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	u.f = nil
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
