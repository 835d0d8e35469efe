package oi

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Command is one outbound frame: an opcode followed by its operand bytes.
type Command struct {
	Op   Opcode
	Args []byte
}

// Bytes returns the wire encoding of c.
func (c Command) Bytes() []byte {
	b := make([]byte, 0, 1+len(c.Args))
	b = append(b, byte(c.Op))
	return append(b, c.Args...)
}

func (c Command) String() string {
	return fmt.Sprintf("%s % X", c.Op, c.Args)
}

// Int16 returns the i-th 16-bit big-endian operand.
func (c Command) Int16(i int) (int16, error) {
	if 2*i+2 > len(c.Args) {
		return 0, fmt.Errorf("%s: no 16-bit operand %d", c.Op, i)
	}
	return int16(binary.BigEndian.Uint16(c.Args[2*i:])), nil
}

func words(vs ...int16) []byte {
	b := make([]byte, 2*len(vs))
	for i, v := range vs {
		binary.BigEndian.PutUint16(b[2*i:], uint16(v))
	}
	return b
}

func Start() Command { return Command{Op: OpStart} }
func Reset() Command { return Command{Op: OpReset} }
func Safe() Command { return Command{Op: OpSafe} }
func Full() Command { return Command{Op: OpFull} }

// Stop ends the Open Interface session. It does not halt the wheels on its
// own; send Halt first.
func Stop() Command { return Command{Op: OpStop} }

// Drive sets the drive velocity (mm/s) and turn radius (mm).
func Drive(velocity, radius int16) Command {
	return Command{Op: OpDrive, Args: words(velocity, radius)}
}

// Halt is the zero-velocity drive command.
func Halt() Command { return Drive(0, RadiusStraight) }

// DriveDirect sets each wheel's velocity in mm/s. The robot expects the right
// wheel first on the wire.
func DriveDirect(left, right int16) Command {
	return Command{Op: OpDriveDirect, Args: words(right, left)}
}

// ModeCommand returns the command that enters mode m.
func ModeCommand(m Mode) (Command, error) {
	switch m {
	case ModeSafe:
		return Safe(), nil
	case ModeFull:
		return Full(), nil
	default:
		return Command{}, fmt.Errorf("unknown mode %q", m)
	}
}

// Note is one tone of a song: a MIDI note number and a duration in 1/64 s.
type Note struct {
	Number   byte
	Duration byte
}

// MaxSongLength is the number of notes a song slot holds.
const MaxSongLength = 16

// Song programs slot with notes.
func Song(slot byte, notes []Note) (Command, error) {
	if slot > 4 {
		return Command{}, fmt.Errorf("song slot %d out of range 0-4", slot)
	}
	if len(notes) == 0 || len(notes) > MaxSongLength {
		return Command{}, fmt.Errorf("song length %d out of range 1-%d", len(notes), MaxSongLength)
	}
	args := []byte{slot, byte(len(notes))}
	for _, n := range notes {
		args = append(args, n.Number, n.Duration)
	}
	return Command{Op: OpSong, Args: args}, nil
}

// Play plays a previously programmed song slot.
func Play(slot byte) Command { return Command{Op: OpPlay, Args: []byte{slot}} }

// Stream requests a continuous telemetry stream of ids.
func Stream(ids ...PacketID) Command {
	args := make([]byte, 0, 1+len(ids))
	args = append(args, byte(len(ids)))
	for _, id := range ids {
		args = append(args, byte(id))
	}
	return Command{Op: OpStream, Args: args}
}

// PauseStream pauses (false) or resumes (true) the telemetry stream.
func PauseStream(resume bool) Command {
	if resume {
		return Command{Op: OpPauseResume, Args: []byte{1}}
	}
	return Command{Op: OpPauseResume, Args: []byte{0}}
}

var ErrShortCommand = errors.New("command truncated")

// fixedArgs is the operand length of every opcode with a fixed layout.
var fixedArgs = map[Opcode]int{
	OpReset:       0,
	OpStart:       0,
	OpSafe:        0,
	OpFull:        0,
	OpStop:        0,
	OpDrive:       4,
	OpDriveDirect: 4,
	OpPlay:        1,
	OpPauseResume: 1,
}

// ParseCommand decodes exactly one command from b. Trailing bytes are an
// error, as are unknown opcodes.
func ParseCommand(b []byte) (Command, error) {
	cmd, n, err := NextCommand(b)
	if err != nil {
		return Command{}, err
	}
	if n < len(b) {
		return Command{}, fmt.Errorf("%s: %d trailing bytes", cmd.Op, len(b)-n)
	}
	return cmd, nil
}

// NextCommand decodes the command at the start of b and reports how many
// bytes it occupies. An incomplete command returns an error wrapping
// ErrShortCommand so stream readers can wait for more input.
func NextCommand(b []byte) (Command, int, error) {
	if len(b) == 0 {
		return Command{}, 0, ErrShortCommand
	}
	op := Opcode(b[0])
	rest := b[1:]

	want, ok := fixedArgs[op]
	switch {
	case ok:
	case op == OpSong:
		if len(rest) < 2 {
			return Command{}, 0, fmt.Errorf("%s: %w", op, ErrShortCommand)
		}
		want = 2 + 2*int(rest[1])
	case op == OpStream:
		if len(rest) < 1 {
			return Command{}, 0, fmt.Errorf("%s: %w", op, ErrShortCommand)
		}
		want = 1 + int(rest[0])
	default:
		return Command{}, 0, fmt.Errorf("unsupported opcode %d", byte(op))
	}

	if len(rest) < want {
		return Command{}, 0, fmt.Errorf("%s: %w: have %d operand bytes, want %d", op, ErrShortCommand, len(rest), want)
	}
	args := make([]byte, want)
	copy(args, rest)
	return Command{Op: op, Args: args}, 1 + want, nil
}

// DriveOperands returns the velocity and radius of a drive command.
func (c Command) DriveOperands() (velocity, radius int16, err error) {
	if c.Op != OpDrive {
		return 0, 0, fmt.Errorf("%s is not a drive command", c.Op)
	}
	if velocity, err = c.Int16(0); err != nil {
		return 0, 0, err
	}
	radius, err = c.Int16(1)
	return velocity, radius, err
}

// WheelOperands returns the left and right velocities of a drive-direct
// command.
func (c Command) WheelOperands() (left, right int16, err error) {
	if c.Op != OpDriveDirect {
		return 0, 0, fmt.Errorf("%s is not a drive-direct command", c.Op)
	}
	if right, err = c.Int16(0); err != nil {
		return 0, 0, err
	}
	left, err = c.Int16(1)
	return left, right, err
}

// Moves reports whether c sets a non-zero wheel speed. Halts and
// non-drive commands do not move; a malformed drive counts as moving.
func (c Command) Moves() bool {
	switch c.Op {
	case OpDrive:
		v, _, err := c.DriveOperands()
		return err != nil || v != 0
	case OpDriveDirect:
		l, r, err := c.WheelOperands()
		return err != nil || l != 0 || r != 0
	}
	return false
}

// ClampVelocity limits v to ±MaxVelocity.
func ClampVelocity(v int) int16 {
	if v > MaxVelocity {
		return MaxVelocity
	}
	if v < -MaxVelocity {
		return -MaxVelocity
	}
	return int16(v)
}
