// Package wallfollow keeps the robot at a fixed distance from a wall on its
// right using the wall signal and a PD controller. It is a closed-loop
// consumer of the motion commander: every step goes through Steer, so the
// drive gate still applies.
package wallfollow

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/AaronTheNerd/csce274-project1/internal/monitoring"
	"github.com/AaronTheNerd/csce274-project1/internal/safety"
	"github.com/AaronTheNerd/csce274-project1/internal/sensors"
	"github.com/AaronTheNerd/csce274-project1/internal/timeutil"
)

// Steerer is the subset of the motion commander the follower drives with.
type Steerer interface {
	Steer(left, right float64) ([]safety.Hazard, error)
	StopDrive() error
}

// StateSource provides sensor snapshots.
type StateSource interface {
	Snapshot() sensors.Snapshot
}

// Config tunes the controller.
type Config struct {
	Setpoint int     // raw wall signal to hold
	Kp, Kd   float64 // gains, in m/s per signal unit (and per unit/s)
	Speed    float64 // forward speed, m/s
	Interval time.Duration
	Toggle   sensors.ButtonID
}

const defaultInterval = 50 * time.Millisecond

// Summary describes how well the follower tracked the setpoint.
type Summary struct {
	Steps     int     `json:"steps"`
	MeanError float64 `json:"mean_error"`
	StdDev    float64 `json:"stddev"`
	RMSError  float64 `json:"rms_error"`
	MaxAbs    float64 `json:"max_abs_error"`
}

// Follower runs the wall-following loop. It is idle until enabled, either
// with SetEnabled or by pressing the toggle button while WatchButton runs.
type Follower struct {
	cfg   Config
	steer Steerer
	st    StateSource
	clock timeutil.Clock

	enabled atomic.Bool

	mu       sync.Mutex
	prevErr  float64
	havePrev bool
	errs     []float64
}

// New returns a disabled follower. A nil clock uses real time.
func New(steer Steerer, st StateSource, cfg Config, clock timeutil.Clock) *Follower {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Follower{cfg: cfg, steer: steer, st: st, clock: clock}
}

// SetEnabled turns the loop on or off. Turning it on resets the derivative
// term so a stale error does not kick the first step.
func (f *Follower) SetEnabled(on bool) {
	if f.enabled.Swap(on) != on && on {
		f.mu.Lock()
		f.havePrev = false
		f.mu.Unlock()
	}
}

// Enabled reports whether the loop is driving.
func (f *Follower) Enabled() bool { return f.enabled.Load() }

// Toggle flips the enable flag and returns the new state.
func (f *Follower) Toggle() bool {
	on := !f.enabled.Load()
	f.SetEnabled(on)
	return on
}

// WatchButton toggles the follower each time the toggle button is released,
// until ctx is done or snapshots is closed.
func (f *Follower) WatchButton(ctx context.Context, snapshots <-chan sensors.Snapshot) {
	prev := false
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			b := snap.Buttons[f.cfg.Toggle]
			// A dropped snapshot can hide the pressed sample; the release
			// flag still marks the edge.
			if (prev && !b.Pressed) || (!prev && b.Released) {
				on := f.Toggle()
				monitoring.Logf("wallfollow: %s pressed, enabled=%v", f.cfg.Toggle, on)
			}
			prev = b.Pressed
		}
	}
}

// Step runs one control update and returns the wheel speeds it requested.
// The hazards are non-empty when the commander refused to drive.
func (f *Follower) Step() (left, right float64, hazards []safety.Hazard, err error) {
	snap := f.st.Snapshot()
	e := float64(f.cfg.Setpoint - snap.WallSignal)

	f.mu.Lock()
	deriv := 0.0
	if f.havePrev {
		deriv = (e - f.prevErr) / f.cfg.Interval.Seconds()
	}
	f.prevErr, f.havePrev = e, true
	f.errs = append(f.errs, e)
	f.mu.Unlock()

	// Positive error means the wall is too far: bear right.
	u := f.cfg.Kp*e + f.cfg.Kd*deriv
	u = math.Max(-f.cfg.Speed, math.Min(f.cfg.Speed, u))
	left, right = f.cfg.Speed+u, f.cfg.Speed-u

	hazards, err = f.steer.Steer(left, right)
	return left, right, hazards, err
}

// Run drives the loop until ctx is done, then halts the wheels. A hazard
// disables the follower; it stays idle until re-enabled.
func (f *Follower) Run(ctx context.Context) (Summary, error) {
	ticker := f.clock.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	driving := false
	for {
		select {
		case <-ctx.Done():
			err := f.steer.StopDrive()
			return f.Summary(), err
		case <-ticker.C():
		}

		if !f.Enabled() {
			if driving {
				driving = false
				if err := f.steer.StopDrive(); err != nil {
					return f.Summary(), err
				}
			}
			continue
		}

		_, _, hazards, err := f.Step()
		if err != nil {
			return f.Summary(), err
		}
		driving = len(hazards) == 0
		if !driving {
			f.SetEnabled(false)
			monitoring.Logf("wallfollow: stopped on %v", hazards)
		}
	}
}

// Summary computes tracking statistics over every step so far.
func (f *Follower) Summary() Summary {
	f.mu.Lock()
	errs := append([]float64(nil), f.errs...)
	f.mu.Unlock()

	s := Summary{Steps: len(errs)}
	if len(errs) == 0 {
		return s
	}
	if len(errs) > 1 {
		s.MeanError, s.StdDev = stat.MeanStdDev(errs, nil)
	} else {
		s.MeanError = errs[0]
	}
	s.RMSError = floats.Norm(errs, 2) / math.Sqrt(float64(len(errs)))
	abs := make([]float64, len(errs))
	for i, e := range errs {
		abs[i] = math.Abs(e)
	}
	s.MaxAbs = floats.Max(abs)
	return s
}
