package actuator

import (
	"padbridge/internal/evdev"
	"padbridge/internal/sample"
)

// DefaultUInputName is the device name the virtual gamepad registers with.
const DefaultUInputName = "padbridge virtual gamepad"

// uinputKeys lists the key codes the virtual gamepad exposes.
var uinputKeys = []uint16{
	evdev.BTN_DPAD_UP,
	evdev.BTN_DPAD_DOWN,
	evdev.BTN_DPAD_LEFT,
	evdev.BTN_DPAD_RIGHT,
	evdev.BTN_X,
	evdev.BTN_Y,
}

// commandEvents renders cmd as one full input frame: every key's state
// followed by SYN_REPORT. The kernel drops key events that do not change
// state, so resending released keys is harmless.
func commandEvents(cmd sample.Command) []evdev.Event {
	return []evdev.Event{
		evdev.Key(evdev.BTN_DPAD_UP, cmd.Up),
		evdev.Key(evdev.BTN_DPAD_DOWN, cmd.Down),
		evdev.Key(evdev.BTN_DPAD_LEFT, cmd.Left),
		evdev.Key(evdev.BTN_DPAD_RIGHT, cmd.Right),
		evdev.Key(evdev.BTN_X, cmd.X),
		evdev.Key(evdev.BTN_Y, cmd.Y),
		evdev.Sync(),
	}
}
