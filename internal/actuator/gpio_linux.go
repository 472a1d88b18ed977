//go:build linux

package actuator

import (
	"context"
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"

	"padbridge/internal/sample"
)

// GPIO drives one output line per command field.
type GPIO struct {
	mu    sync.Mutex
	chip  *gpiocdev.Chip
	lines *gpiocdev.Lines
}

// OpenGPIO requests the configured lines as outputs, all released.
func OpenGPIO(cfg GPIOConfig) (*GPIO, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	name := cfg.Chip
	if name == "" {
		name = DefaultGPIOChip
	}
	chip, err := gpiocdev.NewChip(name)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(lineValues(sample.Neutral)...)}
	if cfg.ActiveLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	lines, err := chip.RequestLines(cfg.Offsets(), opts...)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request lines %v: %w", cfg.Offsets(), err)
	}
	return &GPIO{chip: chip, lines: lines}, nil
}

func (g *GPIO) Apply(_ context.Context, cmd sample.Command) error {
	return Wrap(OpApply, g.set(cmd))
}

func (g *GPIO) Neutral(_ context.Context) error {
	return Wrap(OpNeutral, g.set(sample.Neutral))
}

func (g *GPIO) set(cmd sample.Command) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.lines == nil {
		return ErrUnavailable
	}
	if err := g.lines.SetValues(lineValues(cmd)); err != nil {
		return fmt.Errorf("set lines: %w", err)
	}
	return nil
}

// Close releases the lines, driving them to neutral first.
func (g *GPIO) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var errs []error
	if g.lines != nil {
		if err := g.lines.SetValues(lineValues(sample.Neutral)); err != nil {
			errs = append(errs, fmt.Errorf("release lines: %w", err))
		}
		if err := g.lines.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close lines: %w", err))
		}
		g.lines = nil
	}
	if g.chip != nil {
		if err := g.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		g.chip = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
