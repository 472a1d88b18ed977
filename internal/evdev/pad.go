package evdev

import (
	"sort"

	"padbridge/internal/sample"
)

// Pad folds the event stream of one physical gamepad into RawSamples using
// the standard gamepad button indices. A sample is produced on every
// SYN_REPORT that follows a state change.
type Pad struct {
	id      string
	pressed map[int]bool
	hatX    int32
	hatY    int32
	dirty   bool
}

// keyIndex maps evdev key codes to standard gamepad button indices.
var keyIndex = map[uint16]int{
	BTN_SOUTH:      sample.DefaultButtonX,
	BTN_EAST:       sample.DefaultButtonY,
	BTN_WEST:       2,
	BTN_NORTH:      3,
	BTN_TL:         4,
	BTN_TR:         5,
	BTN_SELECT:     8,
	BTN_START:      9,
	BTN_DPAD_UP:    sample.DefaultButtonUp,
	BTN_DPAD_DOWN:  sample.DefaultButtonDown,
	BTN_DPAD_LEFT:  sample.DefaultButtonLeft,
	BTN_DPAD_RIGHT: sample.DefaultButtonRight,
}

// NewPad returns a Pad whose samples carry id as their source.
func NewPad(id string) *Pad {
	return &Pad{id: id, pressed: make(map[int]bool)}
}

// Feed applies one event. It returns a sample when ev closes a frame that
// changed the pad state.
func (p *Pad) Feed(ev Event) (*sample.RawSample, bool) {
	switch ev.Type {
	case EV_KEY:
		idx, ok := keyIndex[ev.Code]
		if !ok || ev.Value == ValueRepeat {
			return nil, false
		}
		down := ev.Value == ValuePress
		if p.pressed[idx] != down {
			p.pressed[idx] = down
			p.dirty = true
		}
	case EV_ABS:
		switch ev.Code {
		case ABS_HAT0X:
			if p.hatX != ev.Value {
				p.hatX = ev.Value
				p.dirty = true
			}
		case ABS_HAT0Y:
			if p.hatY != ev.Value {
				p.hatY = ev.Value
				p.dirty = true
			}
		}
	case EV_SYN:
		if ev.Code != SYN_REPORT || !p.dirty {
			return nil, false
		}
		p.dirty = false
		return p.snapshot(ev), true
	}
	return nil, false
}

func (p *Pad) snapshot(ev Event) *sample.RawSample {
	buttons := make([]int, 0, len(p.pressed))
	for idx, down := range p.pressed {
		if down {
			buttons = append(buttons, idx)
		}
	}
	sort.Ints(buttons)
	return &sample.RawSample{
		TS:        ev.Time().UnixMilli(),
		SourceID:  p.id,
		Direction: hatDirection(p.hatX, p.hatY),
		Buttons:   buttons,
	}
}

func hatDirection(x, y int32) sample.Direction {
	switch {
	case y < 0 && x < 0:
		return sample.DirUpLeft
	case y < 0 && x > 0:
		return sample.DirUpRight
	case y > 0 && x < 0:
		return sample.DirDownLeft
	case y > 0 && x > 0:
		return sample.DirDownRight
	case y < 0:
		return sample.DirUp
	case y > 0:
		return sample.DirDown
	case x < 0:
		return sample.DirLeft
	case x > 0:
		return sample.DirRight
	}
	return sample.DirNone
}
