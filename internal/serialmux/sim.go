package serialmux

import (
	"bytes"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/AaronTheNerd/csce274-project1/internal/framing"
	"github.com/AaronTheNerd/csce274-project1/internal/monitoring"
	"github.com/AaronTheNerd/csce274-project1/internal/oi"
	"github.com/AaronTheNerd/csce274-project1/internal/timeutil"
)

// StreamPeriod is how often the robot sends a telemetry frame.
const StreamPeriod = 15 * time.Millisecond

// simWheelTrack is the distance between the simulated wheels in mm.
const simWheelTrack = 235.0

// SimulatedRobot is an in-process stand-in for the robot used by -dev mode
// and tests. It parses written commands, integrates wheel motion into
// distance and angle, and streams checksummed frames once a stream has been
// requested. Sensor values other than odometry are set with SetSensor.
type SimulatedRobot struct {
	mu    sync.Mutex
	clock timeutil.Clock

	pending []byte
	out     bytes.Buffer
	cmds    []oi.Command

	mode      string
	plan      *oi.Plan
	streaming bool
	last      time.Time

	left, right float64 // mm/s
	distFrac    float64 // mm not yet reported
	angleFrac   float64 // degrees not yet reported
	values      map[oi.PacketID]int
	readTimeout time.Duration
	closed      bool
}

// NewSimulatedRobot returns a powered-off robot. A nil clock uses real time.
func NewSimulatedRobot(clock timeutil.Clock) *SimulatedRobot {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &SimulatedRobot{
		clock:       clock,
		mode:        "off",
		readTimeout: DefaultReadTimeout,
		values: map[oi.PacketID]int{
			oi.PacketBatteryCharge:   2600,
			oi.PacketBatteryCapacity: 2696,
			oi.PacketVoltage:         15800,
			oi.PacketTemperature:     24,
		},
	}
}

// SetSensor sets the raw value streamed for id, e.g. a bitfield for packet 7.
func (r *SimulatedRobot) SetSensor(id oi.PacketID, v int) {
	r.mu.Lock()
	r.values[id] = v
	r.mu.Unlock()
}

// InjectNoise appends raw bytes to the outgoing stream.
func (r *SimulatedRobot) InjectNoise(b []byte) {
	r.mu.Lock()
	r.out.Write(b)
	r.mu.Unlock()
}

// Commands returns every command the robot has received.
func (r *SimulatedRobot) Commands() []oi.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]oi.Command(nil), r.cmds...)
}

// Mode is the current OI mode: off, passive, safe or full.
func (r *SimulatedRobot) Mode() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// WheelSpeeds returns the commanded left and right wheel speeds in mm/s.
func (r *SimulatedRobot) WheelSpeeds() (left, right float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.left, r.right
}

func (r *SimulatedRobot) SetReadTimeout(timeout time.Duration) error {
	r.mu.Lock()
	r.readTimeout = timeout
	r.mu.Unlock()
	return nil
}

func (r *SimulatedRobot) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, errPortClosed
	}
	r.pending = append(r.pending, p...)
	for len(r.pending) > 0 {
		cmd, n, err := oi.NextCommand(r.pending)
		if errors.Is(err, oi.ErrShortCommand) {
			break
		}
		if err != nil {
			monitoring.Logf("sim: %v, skipping byte", err)
			r.pending = r.pending[1:]
			continue
		}
		r.pending = r.pending[n:]
		r.apply(cmd)
	}
	return len(p), nil
}

func (r *SimulatedRobot) apply(cmd oi.Command) {
	r.cmds = append(r.cmds, cmd)
	switch cmd.Op {
	case oi.OpStart:
		r.mode = "passive"
	case oi.OpSafe:
		r.mode = "safe"
	case oi.OpFull:
		r.mode = "full"
	case oi.OpStop, oi.OpReset:
		r.mode = "off"
		r.streaming = false
		r.left, r.right = 0, 0
	case oi.OpDrive:
		v, radius, _ := cmd.DriveOperands()
		r.left, r.right = arcWheelSpeeds(float64(v), radius)
	case oi.OpDriveDirect:
		l, rt, _ := cmd.WheelOperands()
		r.left, r.right = float64(l), float64(rt)
	case oi.OpStream:
		ids := make([]oi.PacketID, 0, len(cmd.Args))
		for _, b := range cmd.Args[1:] {
			ids = append(ids, oi.PacketID(b))
		}
		plan, err := oi.NewPlan(ids)
		if err != nil {
			monitoring.Logf("sim: rejecting stream request: %v", err)
			return
		}
		r.plan = plan
		r.streaming = true
		r.last = r.clock.Now()
	case oi.OpPauseResume:
		r.streaming = r.plan != nil && len(cmd.Args) == 1 && cmd.Args[0] == 1
		r.last = r.clock.Now()
	}
}

// arcWheelSpeeds converts a drive command into wheel speeds.
func arcWheelSpeeds(v float64, radius int16) (left, right float64) {
	switch radius {
	case oi.RadiusStraight, math.MinInt16:
		return v, v
	case oi.RadiusTurnCCW:
		return -v, v
	case oi.RadiusTurnCW:
		return v, -v
	}
	R := float64(radius)
	return v * (R - simWheelTrack/2) / R, v * (R + simWheelTrack/2) / R
}

func (r *SimulatedRobot) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, errPortClosed
	}

	r.generate()
	if r.out.Len() == 0 {
		wait := r.readTimeout
		if r.streaming {
			if next := StreamPeriod - r.clock.Since(r.last); next < wait {
				wait = next
			}
		}
		r.mu.Unlock()
		r.clock.Sleep(wait)
		r.mu.Lock()
		if r.closed {
			return 0, errPortClosed
		}
		r.generate()
		if r.out.Len() == 0 {
			return 0, nil
		}
	}
	return r.out.Read(p)
}

// generate appends one frame per stream period elapsed since the last one.
func (r *SimulatedRobot) generate() {
	if !r.streaming {
		return
	}
	now := r.clock.Now()
	for now.Sub(r.last) >= StreamPeriod {
		r.last = r.last.Add(StreamPeriod)
		r.step(StreamPeriod.Seconds())
		r.out.Write(framing.Encode(r.plan.EncodePayload(r.frameValues())))
	}
}

// step integrates wheel motion over dt seconds.
func (r *SimulatedRobot) step(dt float64) {
	r.distFrac += (r.left + r.right) / 2 * dt
	r.angleFrac += (r.right - r.left) / simWheelTrack * dt * 180 / math.Pi
}

func (r *SimulatedRobot) frameValues() map[oi.PacketID]int {
	vals := make(map[oi.PacketID]int, len(r.values)+2)
	for k, v := range r.values {
		vals[k] = v
	}
	d := math.Trunc(r.distFrac)
	a := math.Trunc(r.angleFrac)
	r.distFrac -= d
	r.angleFrac -= a
	vals[oi.PacketDistance] = int(d)
	vals[oi.PacketAngle] = int(a)
	vals[oi.PacketRequestedLeftVelocity] = int(r.left)
	vals[oi.PacketRequestedRightVelocity] = int(r.right)
	vals[oi.PacketOIMode] = map[string]int{"off": 0, "passive": 1, "safe": 2, "full": 3}[r.mode]
	return vals
}

func (r *SimulatedRobot) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
