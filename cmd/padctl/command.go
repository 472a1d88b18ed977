package main

import (
	"fmt"
	"strings"

	"padbridge/internal/sample"
)

// parseCombo turns "up", "upleft", "x", "down+y" or "up-right+x+y" into a
// Command. Directions go through the same normalization the daemon uses.
func parseCombo(s string) (sample.Command, error) {
	var cmd sample.Command
	if strings.TrimSpace(s) == "" {
		return cmd, fmt.Errorf("empty combo")
	}
	for _, part := range strings.Split(s, "+") {
		part = strings.ToLower(strings.TrimSpace(part))
		switch part {
		case "x":
			cmd.X = true
			continue
		case "y":
			cmd.Y = true
			continue
		}
		d, ok := sample.ParseDirection(part)
		if !ok {
			return sample.Command{}, fmt.Errorf("unknown input %q", part)
		}
		dir := sample.Normalize(&sample.RawSample{Direction: d}, sample.DefaultMapping())
		cmd.Up = cmd.Up || dir.Up
		cmd.Down = cmd.Down || dir.Down
		cmd.Left = cmd.Left || dir.Left
		cmd.Right = cmd.Right || dir.Right
	}
	return cmd, nil
}
