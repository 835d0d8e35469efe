package motion

import (
	"time"

	"github.com/AaronTheNerd/csce274-project1/internal/oi"
	"github.com/AaronTheNerd/csce274-project1/internal/safety"
	"github.com/AaronTheNerd/csce274-project1/internal/sensors"
)

// Outcome is how a motion call ended. The wheels are halted in every case.
type Outcome int

const (
	Completed Outcome = iota
	AbortedUnsafe
	AbortedButton
	AbortedCanceled
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case AbortedUnsafe:
		return "aborted_unsafe"
	case AbortedButton:
		return "aborted_button"
	case AbortedCanceled:
		return "aborted_canceled"
	}
	return "unknown"
}

// MarshalText encodes the outcome by name.
func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// Result describes one finished motion.
type Result struct {
	Outcome Outcome         `json:"outcome"`
	Elapsed time.Duration   `json:"elapsed_ns"`
	Hazards []safety.Hazard `json:"hazards,omitempty"`
	// Button is the interrupting button when Outcome is AbortedButton.
	Button sensors.ButtonID `json:"button,omitempty"`
}

// Config tunes the commander. Speeds are in m/s and lengths in metres.
type Config struct {
	MaxSpeed         float64
	WheelTrack       float64
	PollInterval     time.Duration
	InterruptButtons []sensors.ButtonID
	AlertSong        []oi.Note
}

// Defaults for zero Config fields.
const (
	DefaultMaxSpeed     = 0.5
	DefaultWheelTrack   = 0.235
	DefaultPollInterval = 20 * time.Millisecond
)

func (c Config) withDefaults() Config {
	if c.MaxSpeed <= 0 || c.MaxSpeed > float64(oi.MaxVelocity)/1000 {
		c.MaxSpeed = DefaultMaxSpeed
	}
	if c.WheelTrack <= 0 {
		c.WheelTrack = DefaultWheelTrack
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}
