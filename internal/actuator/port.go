// Package actuator defines the downstream side of the bridge: something that
// can apply a Command or return to neutral, plus the concrete devices.
package actuator

import (
	"context"
	"errors"
	"fmt"

	"padbridge/internal/sample"
)

// Port is the capability the pump drives.
//
// Implementations establish neutral when they connect, so the first tick of a
// session never observes an unknown device state.
type Port interface {
	// Apply drives the device to cmd.
	Apply(ctx context.Context, cmd sample.Command) error
	// Neutral returns the device to the all-released state.
	Neutral(ctx context.Context) error
}

// Closer is implemented by ports that hold a device handle.
type Closer interface {
	Close() error
}

var (
	// ErrUnavailable means the device is gone or not yet connected.
	ErrUnavailable = errors.New("actuator unavailable")
	// ErrTimeout means the call did not return within the actuation bound.
	ErrTimeout = errors.New("actuation timeout")
	// ErrBusy means a previous call is still in flight.
	ErrBusy = errors.New("actuator busy")
)

// Op names for ActuationError.
const (
	OpApply   = "apply"
	OpNeutral = "neutral"
)

// ActuationError records which operation failed and why.
type ActuationError struct {
	Op  string
	Err error
}

func (e *ActuationError) Error() string {
	return fmt.Sprintf("actuator %s: %v", e.Op, e.Err)
}

func (e *ActuationError) Unwrap() error { return e.Err }

// Wrap returns err as an *ActuationError for op, or nil if err is nil.
// An error that already is an ActuationError is returned unchanged.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *ActuationError
	if errors.As(err, &ae) {
		return err
	}
	return &ActuationError{Op: op, Err: err}
}

// Close closes p if it holds a device handle.
func Close(p Port) error {
	if c, ok := p.(Closer); ok {
		return c.Close()
	}
	return nil
}
