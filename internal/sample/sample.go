// Package sample defines the inbound input-device sample, the canonical
// actuation Command, and the fixed mapping between the two.
//
// Everything in this package is pure: no I/O, no clocks, no goroutines.
package sample

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Direction is the discrete hat/d-pad direction reported by the transport.
//
// The numeric order matches the upstream transport's enum, so a JSON number
// decodes to the same direction the sender meant.
type Direction uint8

const (
	DirNone Direction = iota
	DirUp
	DirDown
	DirLeft
	DirRight
	DirUpLeft
	DirUpRight
	DirDownLeft
	DirDownRight
)

var directionNames = [...]string{
	DirNone:      "None",
	DirUp:        "Up",
	DirDown:      "Down",
	DirLeft:      "Left",
	DirRight:     "Right",
	DirUpLeft:    "UpLeft",
	DirUpRight:   "UpRight",
	DirDownLeft:  "DownLeft",
	DirDownRight: "DownRight",
}

func (d Direction) String() string {
	if d.Valid() {
		return directionNames[d]
	}
	return fmt.Sprintf("Direction(%d)", uint8(d))
}

// Valid reports whether d is one of the nine known directions.
func (d Direction) Valid() bool {
	return int(d) < len(directionNames)
}

// ParseDirection maps a direction name to a Direction.
// Matching is case-insensitive and ignores '-' and '_' ("up-left", "UpLeft").
func ParseDirection(s string) (Direction, bool) {
	key := strings.ToLower(strings.NewReplacer("-", "", "_", "", " ", "").Replace(s))
	for i, name := range directionNames {
		if strings.ToLower(name) == key {
			return Direction(i), true
		}
	}
	return DirNone, false
}

// vertical and horizontal split a direction into its two components.
// -1/+1 is Up/Down and Left/Right respectively; 0 means unset.
func (d Direction) vertical() int {
	switch d {
	case DirUp, DirUpLeft, DirUpRight:
		return -1
	case DirDown, DirDownLeft, DirDownRight:
		return 1
	}
	return 0
}

func (d Direction) horizontal() int {
	switch d {
	case DirLeft, DirUpLeft, DirDownLeft:
		return -1
	case DirRight, DirUpRight, DirDownRight:
		return 1
	}
	return 0
}

// MarshalJSON encodes the direction by number, like the transport does.
func (d Direction) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Itoa(int(d))), nil
}

// UnmarshalJSON accepts either the numeric enum value or its name.
// Unknown values decode to DirNone rather than failing the whole batch.
func (d *Direction) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" {
		*d = DirNone
		return nil
	}
	if s[0] == '"' {
		var name string
		if err := json.Unmarshal(b, &name); err != nil {
			return err
		}
		if n, err := strconv.Atoi(name); err == nil {
			*d = directionFromInt(n)
			return nil
		}
		dir, _ := ParseDirection(name)
		*d = dir
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		*d = DirNone
		return nil
	}
	*d = directionFromInt(n)
	return nil
}

func directionFromInt(n int) Direction {
	if n < 0 || n > math.MaxUint8 {
		return DirNone
	}
	if d := Direction(n); d.Valid() {
		return d
	}
	return DirNone
}

// RawSample is one observation from the input source.
//
// TS is the sender's clock and is not trusted for ordering across producers.
// Buttons lists pressed button indices (order irrelevant, may repeat).
// Axes are index-positional readings, nominally in [-1,1] but not validated.
type RawSample struct {
	TS        int64     `json:"ts"`
	SourceID  string    `json:"gamepadId"`
	Direction Direction `json:"direction"`
	Buttons   []int     `json:"buttons"`
	Axes      []float64 `json:"axes"`
}

// Command is the canonical actuation request.
//
// X and Y are abstract action slots, not axis names.
// The zero value is Neutral.
type Command struct {
	Up    bool `json:"up"`
	Down  bool `json:"down"`
	Left  bool `json:"left"`
	Right bool `json:"right"`
	X     bool `json:"x"`
	Y     bool `json:"y"`
}

// Neutral is the all-false command ("no input").
var Neutral = Command{}

// IsNeutral reports whether c equals Neutral.
func (c Command) IsNeutral() bool {
	return c == Neutral
}

func (c Command) String() string {
	var parts []string
	for _, f := range []struct {
		on   bool
		name string
	}{
		{c.Up, "up"}, {c.Down, "down"}, {c.Left, "left"}, {c.Right, "right"}, {c.X, "x"}, {c.Y, "y"},
	} {
		if f.on {
			parts = append(parts, f.name)
		}
	}
	if len(parts) == 0 {
		return "neutral"
	}
	return strings.Join(parts, "+")
}
