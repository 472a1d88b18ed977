package evdev

// Linux input event types and codes (from <linux/input-event-codes.h>)
const (
	EV_SYN = 0x00
	EV_KEY = 0x01
	EV_ABS = 0x03

	SYN_REPORT = 0x00

	BTN_SOUTH = 0x130
	BTN_EAST  = 0x131
	BTN_NORTH = 0x133
	BTN_WEST  = 0x134
	BTN_X     = BTN_NORTH
	BTN_Y     = BTN_WEST

	BTN_TL     = 0x136
	BTN_TR     = 0x137
	BTN_SELECT = 0x13a
	BTN_START  = 0x13b

	BTN_DPAD_UP    = 0x220
	BTN_DPAD_DOWN  = 0x221
	BTN_DPAD_LEFT  = 0x222
	BTN_DPAD_RIGHT = 0x223

	ABS_X     = 0x00
	ABS_Y     = 0x01
	ABS_HAT0X = 0x10
	ABS_HAT0Y = 0x11
)

// Input event value constants
const (
	ValueRelease = 0
	ValuePress   = 1
	ValueRepeat  = 2
)
