package framing

import (
	"io"
	"time"

	"github.com/AaronTheNerd/csce274-project1/internal/oi"
)

// DefaultSyncTimeout bounds how long Next waits for a complete frame. The
// robot streams every 15 ms, so this covers dozens of missed periods.
const DefaultSyncTimeout = 500 * time.Millisecond

const readChunk = 64

// Synchronizer extracts frames from a continuous reply stream that may start
// anywhere inside a frame.
type Synchronizer struct {
	r          io.Reader
	payloadLen int
	frameLen   int
	timeout    time.Duration
	buf        []byte
	chunk      []byte
	now        func() time.Time
}

// NewSynchronizer reads frames with the given payload length from r. r should
// return within a bounded time (a serial port with a read timeout); Next only
// checks its deadline between reads.
func NewSynchronizer(r io.Reader, payloadLen int, timeout time.Duration) *Synchronizer {
	if timeout <= 0 {
		timeout = DefaultSyncTimeout
	}
	frameLen := payloadLen + 3
	return &Synchronizer{
		r:          r,
		payloadLen: payloadLen,
		frameLen:   frameLen,
		timeout:    timeout,
		buf:        make([]byte, 0, 2*frameLen+readChunk),
		chunk:      make([]byte, readChunk),
		now:        time.Now,
	}
}

// FrameLen is the size of every frame Next returns.
func (s *Synchronizer) FrameLen() int { return s.frameLen }

// Buffered is the number of bytes read but not yet consumed.
func (s *Synchronizer) Buffered() int { return len(s.buf) }

// Next returns the next frame whose checksum verifies. Errors:
//   - *oi.ChecksumError: a header was found but the frame failed its
//     checksum; only the header byte is consumed so a real frame hidden
//     inside can still be found by the following call.
//   - *oi.FrameSyncError: the timeout elapsed without a complete frame.
//   - any error from the underlying reader.
func (s *Synchronizer) Next() (Frame, error) {
	start := s.now()
	discarded := 0
	for {
		f, found, n, err := s.extract()
		discarded += n
		if found {
			return f, err
		}

		if waited := s.now().Sub(start); waited >= s.timeout {
			return nil, &oi.FrameSyncError{Discarded: discarded, Waited: waited}
		}

		n, rerr := s.r.Read(s.chunk)
		if n > 0 {
			s.buf = append(s.buf, s.chunk[:n]...)
		}
		if rerr != nil {
			if rerr == io.EOF && n > 0 {
				continue
			}
			return nil, rerr
		}
	}
}

// extract aligns the buffer on the first header and slices a frame out once
// enough bytes are present. It reports how many leading bytes were dropped.
func (s *Synchronizer) extract() (Frame, bool, int, error) {
	off := s.findHeader()
	if off < 0 {
		// The last byte may be the first half of a header.
		keep := 0
		if n := len(s.buf); n > 0 && s.buf[n-1] == oi.ReplyHeader {
			keep = 1
		}
		dropped := len(s.buf) - keep
		s.discard(dropped)
		return nil, false, dropped, nil
	}
	s.discard(off)
	if len(s.buf) < s.frameLen {
		return nil, false, off, nil
	}

	f := make(Frame, s.frameLen)
	copy(f, s.buf[:s.frameLen])
	if err := f.Verify(); err != nil {
		s.discard(1)
		return nil, true, off + 1, err
	}
	s.discard(s.frameLen)
	return f, true, off, nil
}

func (s *Synchronizer) findHeader() int {
	length := byte(s.payloadLen)
	for i := 0; i+1 < len(s.buf); i++ {
		if s.buf[i] == oi.ReplyHeader && s.buf[i+1] == length {
			return i
		}
	}
	return -1
}

// discard drops the first n bytes, shifting the remainder to the front so
// the backing array is reused.
func (s *Synchronizer) discard(n int) {
	if n <= 0 {
		return
	}
	if n >= len(s.buf) {
		s.buf = s.buf[:0]
		return
	}
	m := copy(s.buf, s.buf[n:])
	s.buf = s.buf[:m]
}
