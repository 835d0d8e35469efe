// Package motion issues drive commands that stay gated by the safety
// predicates for as long as they run. Every call polls the shared sensor
// state at a fixed interval, aborts on a hazard or an interrupt button and
// always finishes by halting the wheels.
package motion

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/AaronTheNerd/csce274-project1/internal/eventlog"
	"github.com/AaronTheNerd/csce274-project1/internal/monitoring"
	"github.com/AaronTheNerd/csce274-project1/internal/oi"
	"github.com/AaronTheNerd/csce274-project1/internal/safety"
	"github.com/AaronTheNerd/csce274-project1/internal/sensors"
	"github.com/AaronTheNerd/csce274-project1/internal/timeutil"
)

// Sender writes one command to the robot. serialmux.SerialMux implements it.
type Sender interface {
	SendCommand(oi.Command) error
}

// StateSource exposes the shared sensor state. *sensors.State implements it.
type StateSource interface {
	Snapshot() sensors.Snapshot
	ResetButton(sensors.ButtonID)
	TakeRelease(sensors.ButtonID) bool
}

// ErrInvalidArgument is returned for motion requests that cannot be executed.
var ErrInvalidArgument = errors.New("invalid motion argument")

// unbounded marks a motion with no target duration.
const unbounded time.Duration = -1

// alertSlot is the song slot reserved for the hazard alert.
const alertSlot = 3

// Commander runs safety-gated motions. It is meant for one foreground
// caller at a time; StopDrive may be called from anywhere.
type Commander struct {
	tx    Sender
	st    StateSource
	cfg   Config
	sink  eventlog.Sink
	clock timeutil.Clock

	alertLoaded bool
}

// Option customises a Commander.
type Option func(*Commander)

// WithSink records motion outcomes to sink.
func WithSink(sink eventlog.Sink) Option {
	return func(c *Commander) {
		if sink != nil {
			c.sink = sink
		}
	}
}

// WithClock replaces the wall clock, for tests.
func WithClock(clock timeutil.Clock) Option {
	return func(c *Commander) { c.clock = clock }
}

// New returns a Commander. Zero fields of cfg take their defaults.
func New(tx Sender, st StateSource, cfg Config, opts ...Option) *Commander {
	c := &Commander{
		tx:    tx,
		st:    st,
		cfg:   cfg.withDefaults(),
		sink:  eventlog.Discard,
		clock: timeutil.RealClock{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Config returns the effective configuration.
func (c *Commander) Config() Config { return c.cfg }

// LoadAlertSong programs the alert song that plays when a motion aborts on
// a hazard. It is a no-op when no song is configured.
func (c *Commander) LoadAlertSong() error {
	if len(c.cfg.AlertSong) == 0 {
		return nil
	}
	cmd, err := oi.Song(alertSlot, c.cfg.AlertSong)
	if err != nil {
		return fmt.Errorf("alert song: %w", err)
	}
	if err := c.tx.SendCommand(cmd); err != nil {
		return fmt.Errorf("load alert song: %w", err)
	}
	c.alertLoaded = true
	return nil
}

// StopDrive commands zero velocity. It is the only way to guarantee the
// wheels are halted and is sent on every exit path of every motion.
func (c *Commander) StopDrive() error {
	if err := c.tx.SendCommand(oi.Halt()); err != nil {
		return fmt.Errorf("stop drive: %w", err)
	}
	return nil
}

// DriveStraight drives distance metres at speed m/s. The sign of distance
// selects forward or reverse; only the magnitude of speed is used. An
// infinite distance drives until a hazard, an interrupt button or ctx ends
// the motion.
func (c *Commander) DriveStraight(ctx context.Context, distance, speed float64) (Result, error) {
	if math.IsNaN(distance) || math.IsNaN(speed) || speed == 0 {
		return Result{}, fmt.Errorf("drive straight %.3f m at %.3f m/s: %w", distance, speed, ErrInvalidArgument)
	}
	v := c.wheelSpeed(speed)
	if distance < 0 {
		v = -v
	}
	d := unbounded
	if !math.IsInf(distance, 0) {
		d = seconds(math.Abs(distance) / mps(v))
	}
	return c.run(ctx, "drive_straight", oi.Drive(v, oi.RadiusStraight), d, safety.DriveHazards)
}

// Turn rotates in place by degrees, counter-clockwise when positive, with
// each wheel moving at speed m/s. Only a wheel drop aborts a turn.
func (c *Commander) Turn(ctx context.Context, degrees, speed float64) (Result, error) {
	if math.IsNaN(degrees) || math.IsInf(degrees, 0) || math.IsNaN(speed) || speed == 0 {
		return Result{}, fmt.Errorf("turn %.1f deg at %.3f m/s: %w", degrees, speed, ErrInvalidArgument)
	}
	v := c.wheelSpeed(speed)
	radius := oi.RadiusTurnCCW
	if degrees < 0 {
		radius = oi.RadiusTurnCW
	}
	// Angular rate of an in-place rotation is wheel speed over half the track.
	rate := mps(v) / (c.cfg.WheelTrack / 2)
	d := seconds(math.Abs(degrees) * math.Pi / 180 / rate)
	return c.run(ctx, "turn", oi.Drive(v, radius), d, safety.TurnHazards)
}

// DriveDirect runs each wheel at its own speed (m/s) for duration. It is
// gated like a straight drive.
func (c *Commander) DriveDirect(ctx context.Context, duration time.Duration, left, right float64) (Result, error) {
	if duration < 0 || math.IsNaN(left) || math.IsNaN(right) {
		return Result{}, fmt.Errorf("drive direct for %v: %w", duration, ErrInvalidArgument)
	}
	cmd := oi.DriveDirect(c.signedWheelSpeed(left), c.signedWheelSpeed(right))
	return c.run(ctx, "drive_direct", cmd, duration, safety.DriveHazards)
}

// Steer sends a single drive-direct update for closed-loop callers that poll
// on their own schedule. When driving is unsafe it halts instead and returns
// the hazards.
func (c *Commander) Steer(left, right float64) ([]safety.Hazard, error) {
	if hs := safety.DriveHazards(c.st.Snapshot()); len(hs) > 0 {
		return hs, c.StopDrive()
	}
	cmd := oi.DriveDirect(c.signedWheelSpeed(left), c.signedWheelSpeed(right))
	if err := c.tx.SendCommand(cmd); err != nil {
		return nil, errors.Join(fmt.Errorf("steer: %w", err), c.StopDrive())
	}
	return nil, nil
}

// TracePolygon drives a regular polygon with the given number of sides and
// total perimeter (m), turning counter-clockwise at each corner. It stops at
// the first side or corner that does not complete.
func (c *Commander) TracePolygon(ctx context.Context, sides int, perimeter, speed float64) (Result, error) {
	if sides < 3 || perimeter <= 0 || math.IsInf(perimeter, 0) {
		return Result{}, fmt.Errorf("polygon with %d sides and perimeter %.2f m: %w", sides, perimeter, ErrInvalidArgument)
	}
	side := perimeter / float64(sides)
	corner := 360 / float64(sides)

	var total time.Duration
	for i := 0; i < sides; i++ {
		res, err := c.DriveStraight(ctx, side, speed)
		total += res.Elapsed
		if err != nil || res.Outcome != Completed {
			res.Elapsed = total
			return res, err
		}
		res, err = c.Turn(ctx, corner, speed)
		total += res.Elapsed
		if err != nil || res.Outcome != Completed {
			res.Elapsed = total
			return res, err
		}
		monitoring.Debugf("motion: polygon side %d/%d done", i+1, sides)
	}
	return Result{Outcome: Completed, Elapsed: total}, nil
}

// WaitForButton blocks until button id is pressed and released. A press
// already in progress when the call starts is ignored, so the release of a
// button that just interrupted a motion does not count.
func (c *Commander) WaitForButton(ctx context.Context, id sensors.ButtonID) error {
	ticker := c.clock.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	// The release flag only lives for one telemetry period, which can fall
	// between polls, so a press seen by an earlier poll also counts.
	armed, down := false, false
	for {
		pressed := c.st.Snapshot().Buttons[id].Pressed
		switch {
		case !armed:
			if !pressed {
				c.st.ResetButton(id)
				armed = true
			}
		case c.st.TakeRelease(id) || (down && !pressed):
			c.record(eventlog.KindButton, id.String())
			return nil
		}
		down = armed && pressed
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
		}
	}
}

// run issues cmd and monitors it until duration d elapses (never, when d is
// unbounded), hazards reports a condition, an interrupt button is pressed
// or ctx is done. The wheels are halted on every return.
func (c *Commander) run(ctx context.Context, name string, cmd oi.Command, d time.Duration, hazards func(sensors.Snapshot) []safety.Hazard) (Result, error) {
	ticker := c.clock.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	start := c.clock.Now()
	res, done := c.check(hazards)
	if !done {
		monitoring.Debugf("motion: %s %s for %v", name, cmd, d)
		if err := c.tx.SendCommand(cmd); err != nil {
			return Result{Elapsed: c.clock.Since(start)}, errors.Join(fmt.Errorf("%s: %w", name, err), c.StopDrive())
		}
	}

	var ctxErr error
	for !done {
		if d != unbounded && c.clock.Since(start) >= d {
			res = Result{Outcome: Completed}
			break
		}
		select {
		case <-ctx.Done():
			res, ctxErr, done = Result{Outcome: AbortedCanceled}, ctx.Err(), true
		case <-ticker.C():
			res, done = c.check(hazards)
		}
	}
	res.Elapsed = c.clock.Since(start)

	stopErr := c.StopDrive()
	c.finish(name, res)
	return res, errors.Join(ctxErr, stopErr)
}

// check evaluates the gate against a fresh snapshot.
func (c *Commander) check(hazards func(sensors.Snapshot) []safety.Hazard) (Result, bool) {
	snap := c.st.Snapshot()
	if hs := hazards(snap); len(hs) > 0 {
		return Result{Outcome: AbortedUnsafe, Hazards: hs}, true
	}
	for _, b := range c.cfg.InterruptButtons {
		if snap.Buttons[b].Pressed {
			return Result{Outcome: AbortedButton, Button: b}, true
		}
	}
	return Result{}, false
}

func (c *Commander) finish(name string, res Result) {
	switch res.Outcome {
	case Completed:
		monitoring.Debugf("motion: %s completed in %v", name, res.Elapsed)
	case AbortedUnsafe:
		monitoring.Logf("motion: %s aborted after %v: unsafe %v", name, res.Elapsed, res.Hazards)
		if c.alertLoaded {
			if err := c.tx.SendCommand(oi.Play(alertSlot)); err != nil {
				monitoring.Logf("motion: alert song: %v", err)
			}
		}
	default:
		monitoring.Logf("motion: %s %s after %v", name, res.Outcome, res.Elapsed)
	}
	c.record(eventlog.KindMotion, name+":"+res.Outcome.String())
}

func (c *Commander) record(kind eventlog.Kind, detail string) {
	if err := c.sink.Record(eventlog.At(c.clock.Now(), c.st.Snapshot(), kind, detail)); err != nil {
		monitoring.Logf("motion: record event: %v", err)
	}
}

// wheelSpeed converts |speed| m/s to mm/s, limited by the configured maximum.
func (c *Commander) wheelSpeed(speed float64) int16 {
	v := c.signedWheelSpeed(math.Abs(speed))
	if v == 0 {
		v = 1
	}
	return v
}

func (c *Commander) signedWheelSpeed(speed float64) int16 {
	limit := c.cfg.MaxSpeed
	speed = math.Max(-limit, math.Min(limit, speed))
	return oi.ClampVelocity(int(math.Round(speed * 1000)))
}

func mps(mmps int16) float64 {
	return math.Abs(float64(mmps)) / 1000
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
