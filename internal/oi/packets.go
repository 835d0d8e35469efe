package oi

import (
	"encoding/binary"
	"fmt"
)

// PacketID identifies one sensor packet.
type PacketID byte

// Sensor packets (Create 2 numbering).
const (
	PacketBumpsWheelDrops        PacketID = 7
	PacketWall                   PacketID = 8
	PacketCliffLeft              PacketID = 9
	PacketCliffFrontLeft         PacketID = 10
	PacketCliffFrontRight        PacketID = 11
	PacketCliffRight             PacketID = 12
	PacketVirtualWall            PacketID = 13
	PacketWheelOvercurrents      PacketID = 14
	PacketDirtDetect             PacketID = 15
	PacketIROmni                 PacketID = 17
	PacketButtons                PacketID = 18
	PacketDistance               PacketID = 19
	PacketAngle                  PacketID = 20
	PacketChargingState          PacketID = 21
	PacketVoltage                PacketID = 22
	PacketCurrent                PacketID = 23
	PacketTemperature            PacketID = 24
	PacketBatteryCharge          PacketID = 25
	PacketBatteryCapacity        PacketID = 26
	PacketWallSignal             PacketID = 27
	PacketCliffLeftSignal        PacketID = 28
	PacketCliffFrontLeftSignal   PacketID = 29
	PacketCliffFrontRightSignal  PacketID = 30
	PacketCliffRightSignal       PacketID = 31
	PacketChargingSources        PacketID = 34
	PacketOIMode                 PacketID = 35
	PacketSongNumber             PacketID = 36
	PacketSongPlaying            PacketID = 37
	PacketStreamPackets          PacketID = 38
	PacketRequestedVelocity      PacketID = 39
	PacketRequestedRadius        PacketID = 40
	PacketRequestedRightVelocity PacketID = 41
	PacketRequestedLeftVelocity  PacketID = 42
	PacketLeftEncoder            PacketID = 43
	PacketRightEncoder           PacketID = 44
	PacketLightBumper            PacketID = 45
	PacketLightBumpLeft          PacketID = 46
	PacketLightBumpFrontLeft     PacketID = 47
	PacketLightBumpCenterLeft    PacketID = 48
	PacketLightBumpCenterRight   PacketID = 49
	PacketLightBumpFrontRight    PacketID = 50
	PacketLightBumpRight         PacketID = 51
	PacketIRLeft                 PacketID = 52
	PacketIRRight                PacketID = 53
	PacketLeftMotorCurrent       PacketID = 54
	PacketRightMotorCurrent      PacketID = 55
	PacketMainBrushCurrent       PacketID = 56
	PacketSideBrushCurrent       PacketID = 57
	PacketStasis                 PacketID = 58

	MaxPacketID = PacketStasis
)

// DecodeRule says how the data bytes of a packet become an integer value.
type DecodeRule int

const (
	// RuleBits is an 8-bit bitfield, decomposed by the sensor decoder.
	RuleBits DecodeRule = iota
	// RuleFlag is a single boolean byte.
	RuleFlag
	RuleUint8
	RuleInt8
	RuleUint16
	RuleInt16
)

// Width returns the number of data bytes the rule consumes.
func (r DecodeRule) Width() int {
	switch r {
	case RuleUint16, RuleInt16:
		return 2
	default:
		return 1
	}
}

// Decode converts raw big-endian data bytes into a value. b must hold at
// least Width() bytes.
func (r DecodeRule) Decode(b []byte) int {
	switch r {
	case RuleInt8:
		return int(int8(b[0]))
	case RuleUint16:
		return int(binary.BigEndian.Uint16(b))
	case RuleInt16:
		return int(int16(binary.BigEndian.Uint16(b)))
	case RuleFlag:
		if b[0] != 0 {
			return 1
		}
		return 0
	default:
		return int(b[0])
	}
}

// Encode writes v into b using the rule's width and byte order. Values out of
// range are truncated.
func (r DecodeRule) Encode(b []byte, v int) {
	switch r.Width() {
	case 2:
		binary.BigEndian.PutUint16(b, uint16(v))
	default:
		b[0] = byte(v)
	}
}

// PacketSpec is the static description of one telemetry field.
type PacketSpec struct {
	ID    PacketID
	Name  string
	Width int
	Rule  DecodeRule
}

func spec(id PacketID, name string, rule DecodeRule) PacketSpec {
	return PacketSpec{ID: id, Name: name, Width: rule.Width(), Rule: rule}
}

var catalog = func() map[PacketID]PacketSpec {
	specs := []PacketSpec{
		spec(PacketBumpsWheelDrops, "bumps_wheel_drops", RuleBits),
		spec(PacketWall, "wall", RuleFlag),
		spec(PacketCliffLeft, "cliff_left", RuleFlag),
		spec(PacketCliffFrontLeft, "cliff_front_left", RuleFlag),
		spec(PacketCliffFrontRight, "cliff_front_right", RuleFlag),
		spec(PacketCliffRight, "cliff_right", RuleFlag),
		spec(PacketVirtualWall, "virtual_wall", RuleFlag),
		spec(PacketWheelOvercurrents, "wheel_overcurrents", RuleBits),
		spec(PacketDirtDetect, "dirt_detect", RuleUint8),
		spec(PacketIROmni, "ir_omni", RuleUint8),
		spec(PacketButtons, "buttons", RuleBits),
		spec(PacketDistance, "distance", RuleInt16),
		spec(PacketAngle, "angle", RuleInt16),
		spec(PacketChargingState, "charging_state", RuleUint8),
		spec(PacketVoltage, "voltage", RuleUint16),
		spec(PacketCurrent, "current", RuleInt16),
		spec(PacketTemperature, "temperature", RuleInt8),
		spec(PacketBatteryCharge, "battery_charge", RuleUint16),
		spec(PacketBatteryCapacity, "battery_capacity", RuleUint16),
		spec(PacketWallSignal, "wall_signal", RuleUint16),
		spec(PacketCliffLeftSignal, "cliff_left_signal", RuleUint16),
		spec(PacketCliffFrontLeftSignal, "cliff_front_left_signal", RuleUint16),
		spec(PacketCliffFrontRightSignal, "cliff_front_right_signal", RuleUint16),
		spec(PacketCliffRightSignal, "cliff_right_signal", RuleUint16),
		spec(PacketChargingSources, "charging_sources", RuleBits),
		spec(PacketOIMode, "oi_mode", RuleUint8),
		spec(PacketSongNumber, "song_number", RuleUint8),
		spec(PacketSongPlaying, "song_playing", RuleFlag),
		spec(PacketStreamPackets, "stream_packets", RuleUint8),
		spec(PacketRequestedVelocity, "requested_velocity", RuleInt16),
		spec(PacketRequestedRadius, "requested_radius", RuleInt16),
		spec(PacketRequestedRightVelocity, "requested_right_velocity", RuleInt16),
		spec(PacketRequestedLeftVelocity, "requested_left_velocity", RuleInt16),
		spec(PacketLeftEncoder, "left_encoder", RuleUint16),
		spec(PacketRightEncoder, "right_encoder", RuleUint16),
		spec(PacketLightBumper, "light_bumper", RuleBits),
		spec(PacketLightBumpLeft, "light_bump_left", RuleUint16),
		spec(PacketLightBumpFrontLeft, "light_bump_front_left", RuleUint16),
		spec(PacketLightBumpCenterLeft, "light_bump_center_left", RuleUint16),
		spec(PacketLightBumpCenterRight, "light_bump_center_right", RuleUint16),
		spec(PacketLightBumpFrontRight, "light_bump_front_right", RuleUint16),
		spec(PacketLightBumpRight, "light_bump_right", RuleUint16),
		spec(PacketIRLeft, "ir_left", RuleUint8),
		spec(PacketIRRight, "ir_right", RuleUint8),
		spec(PacketLeftMotorCurrent, "left_motor_current", RuleInt16),
		spec(PacketRightMotorCurrent, "right_motor_current", RuleInt16),
		spec(PacketMainBrushCurrent, "main_brush_current", RuleInt16),
		spec(PacketSideBrushCurrent, "side_brush_current", RuleInt16),
		spec(PacketStasis, "stasis", RuleBits),
	}
	m := make(map[PacketID]PacketSpec, len(specs))
	for _, s := range specs {
		m[s.ID] = s
	}
	return m
}()

// Lookup returns the catalog entry for id.
func Lookup(id PacketID) (PacketSpec, bool) {
	s, ok := catalog[id]
	return s, ok
}

// DefaultPackets is the stream requested when no packet list is configured.
// It carries every safety input plus odometry, buttons and the wall signal.
var DefaultPackets = []PacketID{
	PacketBumpsWheelDrops,
	PacketCliffLeft,
	PacketCliffFrontLeft,
	PacketCliffFrontRight,
	PacketCliffRight,
	PacketVirtualWall,
	PacketIROmni,
	PacketButtons,
	PacketDistance,
	PacketAngle,
	PacketBatteryCharge,
	PacketBatteryCapacity,
	PacketWallSignal,
	PacketOIMode,
	PacketLightBumper,
}

// maxPayload is the largest payload the one-byte length field can describe.
const maxPayload = 255

// PlanEntry places one packet inside the stream payload. Offset points at
// the packet's ID byte; its data follows immediately.
type PlanEntry struct {
	Offset int
	Spec   PacketSpec
}

// Plan is the decode plan for one telemetry stream, computed once from the
// requested packet list.
type Plan struct {
	entries    []PlanEntry
	payloadLen int
}

// NewPlan builds the decode plan for ids in the order given. Duplicate or
// unknown IDs are rejected with a *ConfigError.
func NewPlan(ids []PacketID) (*Plan, error) {
	if len(ids) == 0 {
		return nil, &ConfigError{Reason: "no packets requested"}
	}
	seen := make(map[PacketID]bool, len(ids))
	p := &Plan{entries: make([]PlanEntry, 0, len(ids))}
	for _, id := range ids {
		s, ok := catalog[id]
		if !ok {
			return nil, &ConfigError{ID: id, Reason: "unknown packet id"}
		}
		if seen[id] {
			return nil, &ConfigError{ID: id, Reason: "requested more than once"}
		}
		seen[id] = true
		p.entries = append(p.entries, PlanEntry{Offset: p.payloadLen, Spec: s})
		p.payloadLen += 1 + s.Width
	}
	if p.payloadLen > maxPayload {
		return nil, &ConfigError{Reason: fmt.Sprintf("payload of %d bytes exceeds %d", p.payloadLen, maxPayload)}
	}
	return p, nil
}

// ParsePacketIDs converts configured integers into packet IDs and builds the
// plan. An empty list selects DefaultPackets.
func ParsePacketIDs(raw []int) (*Plan, error) {
	if len(raw) == 0 {
		return NewPlan(DefaultPackets)
	}
	ids := make([]PacketID, 0, len(raw))
	for _, v := range raw {
		if v < 0 || v > 255 {
			return nil, &ConfigError{Reason: fmt.Sprintf("packet id %d out of range", v)}
		}
		ids = append(ids, PacketID(v))
	}
	return NewPlan(ids)
}

// Entries returns the plan in request order.
func (p *Plan) Entries() []PlanEntry {
	out := make([]PlanEntry, len(p.entries))
	copy(out, p.entries)
	return out
}

// IDs returns the requested packet IDs in order.
func (p *Plan) IDs() []PacketID {
	ids := make([]PacketID, len(p.entries))
	for i, e := range p.entries {
		ids[i] = e.Spec.ID
	}
	return ids
}

// PayloadLen is the value of the length byte in every reply header.
func (p *Plan) PayloadLen() int { return p.payloadLen }

// FrameLen is the full reply size: header, length, payload and checksum.
func (p *Plan) FrameLen() int { return 2 + p.payloadLen + 1 }

// StreamCommand is the telemetry request that starts the stream.
func (p *Plan) StreamCommand() Command {
	return Stream(p.IDs()...)
}

// EncodePayload lays out values in plan order as the robot would stream
// them. Packets missing from values are sent as zero.
func (p *Plan) EncodePayload(values map[PacketID]int) []byte {
	b := make([]byte, p.payloadLen)
	for _, e := range p.entries {
		b[e.Offset] = byte(e.Spec.ID)
		e.Spec.Rule.Encode(b[e.Offset+1:], values[e.Spec.ID])
	}
	return b
}
