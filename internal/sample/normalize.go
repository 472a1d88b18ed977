package sample

// Mapping assigns button indices to Command fields.
// A negative index disables that slot.
type Mapping struct {
	X     int `yaml:"x" env:"X"`
	Y     int `yaml:"y" env:"Y"`
	Up    int `yaml:"up" env:"UP"`
	Down  int `yaml:"down" env:"DOWN"`
	Left  int `yaml:"left" env:"LEFT"`
	Right int `yaml:"right" env:"RIGHT"`
}

// Default button indices (standard gamepad layout).
const (
	DefaultButtonX     = 0
	DefaultButtonY     = 1
	DefaultButtonUp    = 12
	DefaultButtonDown  = 13
	DefaultButtonLeft  = 14
	DefaultButtonRight = 15
)

// DefaultMapping returns the mapping the upstream transport's index convention expects.
func DefaultMapping() Mapping {
	return Mapping{
		X:     DefaultButtonX,
		Y:     DefaultButtonY,
		Up:    DefaultButtonUp,
		Down:  DefaultButtonDown,
		Left:  DefaultButtonLeft,
		Right: DefaultButtonRight,
	}
}

// Normalize maps a raw sample onto a Command. It never fails: missing or
// malformed fields simply leave the corresponding bits false.
//
// Directional bits come from the directional button indices when any of them
// is pressed; otherwise from the discrete Direction field. Buttons win because
// they are the more specific signal.
func Normalize(s *RawSample, m Mapping) Command {
	if s == nil {
		return Neutral
	}

	var cmd Command
	var dirButton bool

	for _, b := range s.Buttons {
		if b < 0 {
			continue
		}
		switch b {
		case m.X:
			cmd.X = true
		case m.Y:
			cmd.Y = true
		}
		switch b {
		case m.Up:
			cmd.Up, dirButton = true, true
		case m.Down:
			cmd.Down, dirButton = true, true
		case m.Left:
			cmd.Left, dirButton = true, true
		case m.Right:
			cmd.Right, dirButton = true, true
		}
	}

	if dirButton {
		return cmd
	}

	switch s.Direction.vertical() {
	case -1:
		cmd.Up = true
	case 1:
		cmd.Down = true
	}
	switch s.Direction.horizontal() {
	case -1:
		cmd.Left = true
	case 1:
		cmd.Right = true
	}
	return cmd
}

// NormalizeBatch normalizes every sample of a transport batch in order.
// A nil or empty batch yields nil.
func NormalizeBatch(batch []*RawSample, m Mapping) []Command {
	if len(batch) == 0 {
		return nil
	}
	out := make([]Command, len(batch))
	for i, s := range batch {
		out[i] = Normalize(s, m)
	}
	return out
}
