// Package oi describes the iRobot Open Interface wire protocol: opcodes,
// sensor packet catalog, outbound command encoding and the error taxonomy
// shared by the framing and decoding layers.
package oi

import "strconv"

// Opcode is the first byte of every outbound command.
type Opcode byte

const (
	OpReset       Opcode = 7
	OpStart       Opcode = 128
	OpSafe        Opcode = 131
	OpFull        Opcode = 132
	OpDrive       Opcode = 137
	OpSong        Opcode = 140
	OpPlay        Opcode = 141
	OpDriveDirect Opcode = 145
	OpStream      Opcode = 148
	OpPauseResume Opcode = 150
	OpStop        Opcode = 173
)

// ReplyHeader is the first byte of every streamed telemetry reply.
const ReplyHeader byte = 19

// Drive radius sentinels.
const (
	RadiusStraight int16 = 32767
	RadiusTurnCCW  int16 = 1
	RadiusTurnCW   int16 = -1
)

// MaxVelocity is the largest wheel or drive velocity the robot accepts, in mm/s.
const MaxVelocity = 500

// Mode is the operating mode the robot is put into after start.
type Mode string

const (
	ModeSafe Mode = "safe"
	ModeFull Mode = "full"
)

var opcodeNames = map[Opcode]string{
	OpReset:       "reset",
	OpStart:       "start",
	OpSafe:        "safe",
	OpFull:        "full",
	OpDrive:       "drive",
	OpSong:        "song",
	OpPlay:        "play",
	OpDriveDirect: "drive-direct",
	OpStream:      "stream",
	OpPauseResume: "pause-resume",
	OpStop:        "stop",
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return "opcode(" + strconv.Itoa(int(o)) + ")"
}
