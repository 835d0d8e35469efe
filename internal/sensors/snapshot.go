// Package sensors holds the decoded robot telemetry: a snapshot type, the
// lock-guarded process-wide state and the decoder that updates it from
// synchronized frames.
package sensors

import (
	"time"

	"github.com/AaronTheNerd/csce274-project1/internal/oi"
)

// Light bumper zones, in bit order of the light bumper packet.
const (
	LightLeft = iota
	LightFrontLeft
	LightCenterLeft
	LightCenterRight
	LightFrontRight
	LightRight

	NumLightZones = 6
)

// Snapshot is a copy of the robot's sensor state at one instant. Values for
// packets that are not part of the stream keep their zero value.
type Snapshot struct {
	WheelDropLeft  bool `json:"wheel_drop_left"`
	WheelDropRight bool `json:"wheel_drop_right"`
	BumpLeft       bool `json:"bump_left"`
	BumpRight      bool `json:"bump_right"`

	CliffLeft       bool `json:"cliff_left"`
	CliffFrontLeft  bool `json:"cliff_front_left"`
	CliffFrontRight bool `json:"cliff_front_right"`
	CliffRight      bool `json:"cliff_right"`

	Wall        bool                `json:"wall"`
	VirtualWall bool                `json:"virtual_wall"`
	WallSignal  int                 `json:"wall_signal"`
	LightBump   [NumLightZones]bool `json:"light_bump"`

	Buttons [NumButtons]Button `json:"buttons"`

	// Distance is the running sum of travelled millimetres.
	Distance int64 `json:"distance_mm"`
	// Angle is the accumulated heading in degrees, counter-clockwise
	// positive, always in [0,360).
	Angle int `json:"angle_deg"`

	IROmni  int `json:"ir_omni"`
	IRLeft  int `json:"ir_left"`
	IRRight int `json:"ir_right"`

	ChargingState   int `json:"charging_state"`
	Voltage         int `json:"voltage_mv"`
	Current         int `json:"current_ma"`
	Temperature     int `json:"temperature_c"`
	BatteryCharge   int `json:"battery_charge_mah"`
	BatteryCapacity int `json:"battery_capacity_mah"`
	OIMode          int `json:"oi_mode"`

	// Raw holds the last decoded value of every streamed packet, indexed by
	// packet ID.
	Raw  [oi.MaxPacketID + 1]int  `json:"-"`
	seen [oi.MaxPacketID + 1]bool

	Frames    uint64    `json:"frames"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Value returns the last raw value decoded for id, and whether the packet
// has been seen at all.
func (s Snapshot) Value(id oi.PacketID) (int, bool) {
	if id > oi.MaxPacketID || !s.seen[id] {
		return 0, false
	}
	return s.Raw[id], true
}

// AnyWheelDrop reports whether either wheel is dropped.
func (s Snapshot) AnyWheelDrop() bool { return s.WheelDropLeft || s.WheelDropRight }

// AnyBump reports whether either bumper is pressed.
func (s Snapshot) AnyBump() bool { return s.BumpLeft || s.BumpRight }

// AnyCliff reports whether any of the four cliff sensors is triggered.
func (s Snapshot) AnyCliff() bool {
	return s.CliffLeft || s.CliffFrontLeft || s.CliffFrontRight || s.CliffRight
}

// Battery returns the charge as a fraction of capacity, or -1 when the
// capacity is unknown.
func (s Snapshot) Battery() float64 {
	if s.BatteryCapacity <= 0 {
		return -1
	}
	return float64(s.BatteryCharge) / float64(s.BatteryCapacity)
}

// WrapAngle normalises degrees into [0,360).
func WrapAngle(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg
}
