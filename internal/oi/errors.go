package oi

import (
	"fmt"
	"time"
)

// ConfigError reports a bad packet catalog setup. It is fatal at startup.
type ConfigError struct {
	ID     PacketID
	Reason string
}

func (e *ConfigError) Error() string {
	if e.ID == 0 {
		return fmt.Sprintf("packet config: %s", e.Reason)
	}
	return fmt.Sprintf("packet config: packet %d: %s", e.ID, e.Reason)
}

// FrameSyncError is returned when no complete frame with a valid header was
// found before the read cycle timed out, e.g. after the robot power-cycled.
type FrameSyncError struct {
	Discarded int
	Waited    time.Duration
}

func (e *FrameSyncError) Error() string {
	return fmt.Sprintf("frame sync: no valid header within %v (%d bytes discarded)", e.Waited, e.Discarded)
}

// ChecksumError reports a frame whose bytes do not sum to zero mod 256.
type ChecksumError struct {
	Sum byte
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("frame checksum mismatch: sum is 0x%02x, want 0x00", e.Sum)
}

// UnknownPacketError reports a packet ID inside a frame that does not match
// the decode plan or has no decode rule.
type UnknownPacketError struct {
	ID     PacketID
	Offset int
}

func (e *UnknownPacketError) Error() string {
	return fmt.Sprintf("unknown packet id %d at payload offset %d", e.ID, e.Offset)
}
