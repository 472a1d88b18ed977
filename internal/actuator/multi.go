package actuator

import (
	"context"
	"errors"

	"padbridge/internal/sample"
)

// Multi fans every call out to all ports in order.
// Every port is called even if an earlier one fails; the errors are joined.
type Multi []Port

func (m Multi) Apply(ctx context.Context, cmd sample.Command) error {
	var errs []error
	for _, p := range m {
		if err := p.Apply(ctx, cmd); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Neutral(ctx context.Context) error {
	var errs []error
	for _, p := range m {
		if err := p.Neutral(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every port that holds a handle.
func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := Close(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
