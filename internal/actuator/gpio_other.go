//go:build !linux

package actuator

import (
	"context"
	"errors"

	"padbridge/internal/sample"
)

// GPIO is not available on non-Linux platforms.
type GPIO struct{}

// OpenGPIO returns an error on non-Linux platforms.
func OpenGPIO(GPIOConfig) (*GPIO, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

func (g *GPIO) Apply(context.Context, sample.Command) error { return Wrap(OpApply, ErrUnavailable) }
func (g *GPIO) Neutral(context.Context) error { return Wrap(OpNeutral, ErrUnavailable) }
func (g *GPIO) Close() error { return nil }
