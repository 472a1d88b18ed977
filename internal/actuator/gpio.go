package actuator

import (
	"errors"

	"padbridge/internal/sample"
)

// GPIOConfig maps each command field to a GPIO line offset on one chip.
type GPIOConfig struct {
	Chip      string `yaml:"chip" env:"CHIP"`
	Up        int    `yaml:"up" env:"UP"`
	Down      int    `yaml:"down" env:"DOWN"`
	Left      int    `yaml:"left" env:"LEFT"`
	Right     int    `yaml:"right" env:"RIGHT"`
	X         int    `yaml:"x" env:"X"`
	Y         int    `yaml:"y" env:"Y"`
	ActiveLow bool   `yaml:"active_low" env:"ACTIVE_LOW"`
}

// DefaultGPIOChip is the first GPIO chip on a Raspberry Pi.
const DefaultGPIOChip = "gpiochip0"

// Offsets returns the line offsets in Up, Down, Left, Right, X, Y order.
func (c GPIOConfig) Offsets() []int {
	return []int{c.Up, c.Down, c.Left, c.Right, c.X, c.Y}
}

// Validate checks that every offset is non-negative and unique.
func (c GPIOConfig) Validate() error {
	seen := make(map[int]bool, 6)
	for _, o := range c.Offsets() {
		if o < 0 {
			return errors.New("gpio: line offsets must be >= 0")
		}
		if seen[o] {
			return errors.New("gpio: line offsets must be unique")
		}
		seen[o] = true
	}
	return nil
}

// lineValues returns logical line levels in Offsets order.
func lineValues(cmd sample.Command) []int {
	b := func(v bool) int {
		if v {
			return 1
		}
		return 0
	}
	return []int{b(cmd.Up), b(cmd.Down), b(cmd.Left), b(cmd.Right), b(cmd.X), b(cmd.Y)}
}
