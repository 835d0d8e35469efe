// Package safety answers whether the robot may drive or rotate given a
// sensor snapshot. Every function is pure and cheap, so callers evaluate it
// on each poll instead of caching a verdict.
package safety

import "github.com/AaronTheNerd/csce274-project1/internal/sensors"

// Hazard names one triggered safety input.
type Hazard string

const (
	WheelDropLeft   Hazard = "wheel_drop_left"
	WheelDropRight  Hazard = "wheel_drop_right"
	BumpLeft        Hazard = "bump_left"
	BumpRight       Hazard = "bump_right"
	CliffLeft       Hazard = "cliff_left"
	CliffFrontLeft  Hazard = "cliff_front_left"
	CliffFrontRight Hazard = "cliff_front_right"
	CliffRight      Hazard = "cliff_right"
)

// SafeToDrive is false while any wheel is dropped, any bumper is pressed or
// any cliff sensor is triggered.
func SafeToDrive(s sensors.Snapshot) bool {
	return !s.AnyWheelDrop() && !s.AnyBump() && !s.AnyCliff()
}

// SafeToTurn is false only while a wheel is dropped. Bumper contact and
// cliffs do not block rotating in place.
func SafeToTurn(s sensors.Snapshot) bool {
	return !s.AnyWheelDrop()
}

// TurnHazards lists the inputs that make SafeToTurn false.
func TurnHazards(s sensors.Snapshot) []Hazard {
	var out []Hazard
	if s.WheelDropLeft {
		out = append(out, WheelDropLeft)
	}
	if s.WheelDropRight {
		out = append(out, WheelDropRight)
	}
	return out
}

// DriveHazards lists the inputs that make SafeToDrive false.
func DriveHazards(s sensors.Snapshot) []Hazard {
	out := TurnHazards(s)
	flags := []struct {
		on bool
		h  Hazard
	}{
		{s.BumpLeft, BumpLeft},
		{s.BumpRight, BumpRight},
		{s.CliffLeft, CliffLeft},
		{s.CliffFrontLeft, CliffFrontLeft},
		{s.CliffFrontRight, CliffFrontRight},
		{s.CliffRight, CliffRight},
	}
	for _, f := range flags {
		if f.on {
			out = append(out, f.h)
		}
	}
	return out
}

// Strings converts hazards for logging and JSON.
func Strings(hs []Hazard) []string {
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = string(h)
	}
	return out
}
