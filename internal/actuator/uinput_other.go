//go:build !linux

package actuator

import (
	"context"
	"errors"

	"padbridge/internal/sample"
)

// UInput is not available on non-Linux platforms.
type UInput struct{}

// OpenUInput returns an error on non-Linux platforms.
func OpenUInput(string, string) (*UInput, error) {
	return nil, errors.New("uinput: not supported on this platform (requires Linux)")
}

func (u *UInput) Apply(context.Context, sample.Command) error { return Wrap(OpApply, ErrUnavailable) }
func (u *UInput) Neutral(context.Context) error { return Wrap(OpNeutral, ErrUnavailable) }
func (u *UInput) Close() error { return nil }
