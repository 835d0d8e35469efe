package sensors

import (
	"fmt"

	"github.com/AaronTheNerd/csce274-project1/internal/framing"
	"github.com/AaronTheNerd/csce274-project1/internal/oi"
)

// Packet 7 bit masks.
const (
	maskBumpRight      = 0x01
	maskBumpLeft       = 0x02
	maskWheelDropRight = 0x04
	maskWheelDropLeft  = 0x08
)

// Reading is one decoded packet value.
type Reading struct {
	Spec  oi.PacketSpec
	Value int
}

// Decoder turns frames into snapshot updates according to a decode plan.
type Decoder struct {
	plan    *oi.Plan
	entries []oi.PlanEntry
}

// NewDecoder returns a decoder for frames produced by plan's stream.
func NewDecoder(plan *oi.Plan) *Decoder {
	return &Decoder{plan: plan, entries: plan.Entries()}
}

// Readings verifies f and decodes every packet it carries, in plan order.
func (d *Decoder) Readings(f framing.Frame) ([]Reading, error) {
	if err := f.Verify(); err != nil {
		return nil, err
	}
	payload := f.Payload()
	if len(payload) != d.plan.PayloadLen() {
		return nil, fmt.Errorf("frame payload is %d bytes, stream expects %d", len(payload), d.plan.PayloadLen())
	}

	out := make([]Reading, 0, len(d.entries))
	for _, e := range d.entries {
		id := oi.PacketID(payload[e.Offset])
		if id != e.Spec.ID {
			return nil, &oi.UnknownPacketError{ID: id, Offset: e.Offset}
		}
		out = append(out, Reading{Spec: e.Spec, Value: e.Spec.Rule.Decode(payload[e.Offset+1:])})
	}
	return out, nil
}

// Decode applies f to st. A frame that fails verification or contains an
// unexpected packet leaves st untouched.
func (d *Decoder) Decode(f framing.Frame, st *State) error {
	readings, err := d.Readings(f)
	if err != nil {
		return err
	}
	st.update(func(s *Snapshot) {
		for _, r := range readings {
			apply(s, r.Spec.ID, r.Value)
		}
	})
	return nil
}

func apply(s *Snapshot, id oi.PacketID, v int) {
	s.Raw[id] = v
	s.seen[id] = true

	switch id {
	case oi.PacketBumpsWheelDrops:
		s.BumpRight = v&maskBumpRight != 0
		s.BumpLeft = v&maskBumpLeft != 0
		s.WheelDropRight = v&maskWheelDropRight != 0
		s.WheelDropLeft = v&maskWheelDropLeft != 0
	case oi.PacketWall:
		s.Wall = v != 0
	case oi.PacketCliffLeft:
		s.CliffLeft = v != 0
	case oi.PacketCliffFrontLeft:
		s.CliffFrontLeft = v != 0
	case oi.PacketCliffFrontRight:
		s.CliffFrontRight = v != 0
	case oi.PacketCliffRight:
		s.CliffRight = v != 0
	case oi.PacketVirtualWall:
		s.VirtualWall = v != 0
	case oi.PacketIROmni:
		s.IROmni = v
	case oi.PacketIRLeft:
		s.IRLeft = v
	case oi.PacketIRRight:
		s.IRRight = v
	case oi.PacketButtons:
		for i := range s.Buttons {
			s.Buttons[i].Update(v&(1<<i) != 0)
		}
	case oi.PacketDistance:
		s.Distance += int64(v)
	case oi.PacketAngle:
		s.Angle = WrapAngle(s.Angle + v)
	case oi.PacketChargingState:
		s.ChargingState = v
	case oi.PacketVoltage:
		s.Voltage = v
	case oi.PacketCurrent:
		s.Current = v
	case oi.PacketTemperature:
		s.Temperature = v
	case oi.PacketBatteryCharge:
		s.BatteryCharge = v
	case oi.PacketBatteryCapacity:
		s.BatteryCapacity = v
	case oi.PacketWallSignal:
		s.WallSignal = v
	case oi.PacketOIMode:
		s.OIMode = v
	case oi.PacketLightBumper:
		for i := range s.LightBump {
			s.LightBump[i] = v&(1<<i) != 0
		}
	}
}
