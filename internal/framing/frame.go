// Package framing recovers telemetry frames from the unframed byte stream
// the robot sends once streaming is enabled.
package framing

import "github.com/AaronTheNerd/csce274-project1/internal/oi"

// Frame is one complete telemetry reply: header, length, payload, checksum.
type Frame []byte

// Length is the payload length announced in the header.
func (f Frame) Length() int {
	if len(f) < 2 {
		return 0
	}
	return int(f[1])
}

// Payload returns the packet bytes between the header and the checksum.
func (f Frame) Payload() []byte {
	if len(f) < 3 {
		return nil
	}
	return f[2 : len(f)-1]
}

// Verify checks that the frame is complete and its bytes sum to zero.
func (f Frame) Verify() error {
	if len(f) < 3 || len(f) != f.Length()+3 {
		return &oi.ChecksumError{Sum: Checksum(f)}
	}
	if sum := Checksum(f); sum != 0 {
		return &oi.ChecksumError{Sum: sum}
	}
	return nil
}

// Checksum is the additive sum of b modulo 256.
func Checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return sum
}

// Encode builds a well-formed frame around payload, appending the checksum
// byte that makes the whole frame sum to zero.
func Encode(payload []byte) Frame {
	f := make(Frame, 0, len(payload)+3)
	f = append(f, oi.ReplyHeader, byte(len(payload)))
	f = append(f, payload...)
	return append(f, -Checksum(f))
}

// Unwrap rotates a circular capture of exactly one frame so that the first
// position holding header followed by length becomes index 0. It reports
// false when no such position exists.
func Unwrap(raw []byte, header, length byte) ([]byte, bool) {
	n := len(raw)
	for i := 0; i < n; i++ {
		if raw[i] == header && raw[(i+1)%n] == length {
			out := make([]byte, n)
			for j := range out {
				out[j] = raw[(i+j)%n]
			}
			return out, true
		}
	}
	return nil, false
}
