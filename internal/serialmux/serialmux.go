// Serialmux owns the robot's serial port. It serialises outbound commands,
// runs the reader task that turns the telemetry stream into sensor state and
// fans each new snapshot out to subscribers.
package serialmux

import (
	"context"
	crand "crypto/rand"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AaronTheNerd/csce274-project1/internal/framing"
	"github.com/AaronTheNerd/csce274-project1/internal/monitoring"
	"github.com/AaronTheNerd/csce274-project1/internal/oi"
	"github.com/AaronTheNerd/csce274-project1/internal/sensors"
	"github.com/AaronTheNerd/csce274-project1/internal/timeutil"
)

var ErrWriteFailed = errors.New("failed to write to serial port")

// ErrClosed is returned by SendCommand after Close.
var ErrClosed = errors.New("serial mux closed")

//go:embed templates/*
var adminTemplateFS embed.FS

var sendCommandTemplate = template.Must(template.ParseFS(adminTemplateFS, "templates/send-command.html.tmpl"))

const (
	// DefaultSettleDelay is the pause after each command before the port is
	// released to the next writer.
	DefaultSettleDelay = 20 * time.Millisecond
	// DefaultReadTimeout bounds each Read on ports that support it, so the
	// reader task notices a silent robot.
	DefaultReadTimeout = 100 * time.Millisecond
)

// Options configures a SerialMux. A nil Plan selects oi.DefaultPackets.
type Options struct {
	Plan        *oi.Plan
	State       *sensors.State
	SettleDelay time.Duration
	SyncTimeout time.Duration
	ReadTimeout time.Duration
	Clock       timeutil.Clock
}

// Stats counts reader task activity.
type Stats struct {
	Frames         uint64 `json:"frames"`
	ChecksumErrors uint64 `json:"checksum_errors"`
	SyncTimeouts   uint64 `json:"sync_timeouts"`
	UnknownPackets uint64 `json:"unknown_packets"`
	CommandsSent   uint64 `json:"commands_sent"`
}

type counters struct {
	frames, checksum, sync, unknown, sent atomic.Uint64
}

// SerialMux multiplexes one robot connection between a single reader task,
// any number of command writers and any number of snapshot subscribers.
type SerialMux[T SerialPorter] struct {
	port    T
	plan    *oi.Plan
	decoder *sensors.Decoder
	state   *sensors.State
	settle  time.Duration
	timeout time.Duration
	clock   timeutil.Clock
	stats   counters

	subscribers  map[string]chan sensors.Snapshot
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
	closingMu    sync.Mutex
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Subscribe creates a new channel that receives every decoded snapshot.
	// Slow subscribers miss snapshots rather than stall the reader. The ID is
	// used to identify the channel when unsubscribing.
	Subscribe() (string, chan sensors.Snapshot)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// SendCommand writes one command to the robot.
	SendCommand(oi.Command) error
	// Monitor runs the reader task until ctx is done or the port fails.
	Monitor(context.Context) error
	// Close closes all subscribed channels and closes the serial port.
	Close() error
	// Initialize starts the OI, selects mode and requests the sensor stream.
	Initialize(oi.Mode) error
	// State is the shared sensor state updated by Monitor.
	State() *sensors.State
	Stats() Stats

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

var _ SerialMuxInterface = (*SerialMux[SerialPorter])(nil)

// NewSerialMux wraps an open port.
func NewSerialMux[T SerialPorter](port T, opts Options) *SerialMux[T] {
	plan := opts.Plan
	if plan == nil {
		var err error
		if plan, err = oi.NewPlan(oi.DefaultPackets); err != nil {
			panic(err)
		}
	}
	state := opts.State
	if state == nil {
		state = sensors.NewState()
	}
	settle := opts.SettleDelay
	if settle < 0 {
		settle = 0
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if tp, ok := any(port).(TimeoutSerialPorter); ok {
		timeout := opts.ReadTimeout
		if timeout <= 0 {
			timeout = DefaultReadTimeout
		}
		if err := tp.SetReadTimeout(timeout); err != nil {
			monitoring.Logf("serialmux: set read timeout: %v", err)
		}
	}
	return &SerialMux[T]{
		port:        port,
		plan:        plan,
		decoder:     sensors.NewDecoder(plan),
		state:       state,
		settle:      settle,
		timeout:     opts.SyncTimeout,
		clock:       clock,
		subscribers: make(map[string]chan sensors.Snapshot),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *SerialMux[T]) Subscribe() (string, chan sensors.Snapshot) {
	id := randomID()
	ch := make(chan sensors.Snapshot, 1)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

func (s *SerialMux[T]) State() *sensors.State { return s.state }

func (s *SerialMux[T]) Plan() *oi.Plan { return s.plan }

func (s *SerialMux[T]) Stats() Stats {
	return Stats{
		Frames:         s.stats.frames.Load(),
		ChecksumErrors: s.stats.checksum.Load(),
		SyncTimeouts:   s.stats.sync.Load(),
		UnknownPackets: s.stats.unknown.Load(),
		CommandsSent:   s.stats.sent.Load(),
	}
}

// inputResetter is implemented by go.bug.st/serial ports.
type inputResetter interface {
	ResetInputBuffer() error
}

// Initialize wakes the robot's Open Interface, selects mode and starts the
// telemetry stream described by the plan.
func (s *SerialMux[T]) Initialize(mode oi.Mode) error {
	if err := s.SendCommand(oi.Start()); err != nil {
		return fmt.Errorf("failed to start open interface: %w", err)
	}
	modeCmd, err := oi.ModeCommand(mode)
	if err != nil {
		return err
	}
	if err := s.SendCommand(modeCmd); err != nil {
		return fmt.Errorf("failed to enter %s mode: %w", mode, err)
	}

	// Drop anything buffered from a previous session so the synchronizer
	// starts on fresh data.
	if r, ok := any(s.port).(inputResetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			monitoring.Logf("serialmux: reset input buffer: %v", err)
		}
	}

	if err := s.SendCommand(s.plan.StreamCommand()); err != nil {
		return fmt.Errorf("failed to request sensor stream: %w", err)
	}
	return nil
}

// SendCommand writes cmd while holding the command lock, then waits for the
// settle delay before letting the next writer in.
func (s *SerialMux[T]) SendCommand(cmd oi.Command) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()

	if s.isClosing() {
		return ErrClosed
	}
	b := cmd.Bytes()
	n, err := s.port.Write(b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return ErrWriteFailed
	}
	s.stats.sent.Add(1)
	monitoring.Debugf("serialmux: sent %s", cmd)
	if s.settle > 0 {
		s.clock.Sleep(s.settle)
	}
	return nil
}

type frameOrErr struct {
	frame framing.Frame
	err   error
}

// Monitor reads the telemetry stream and keeps the shared state current.
// Checksum failures, sync timeouts and unexpected packets drop the frame and
// are logged; the loop only ends on ctx, Close or a transport error.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	syncer := framing.NewSynchronizer(s.port, s.plan.PayloadLen(), s.timeout)
	logf := monitoring.RateLimited(10*time.Second, 3)

	frames := make(chan frameOrErr)

	// The synchronizer blocks in Read, so it runs on its own goroutine and
	// the loop below stays responsive to ctx.
	go func() {
		defer close(frames)
		for {
			f, err := syncer.Next()
			if err != nil {
				var se *oi.FrameSyncError
				var ce *oi.ChecksumError
				switch {
				case errors.As(err, &se):
					s.stats.sync.Add(1)
					logf("serialmux: %v", err)
					if s.isClosing() || ctx.Err() != nil {
						return
					}
					continue
				case errors.As(err, &ce):
					s.stats.checksum.Add(1)
					logf("serialmux: dropped frame: %v", err)
					continue
				}
			}
			select {
			case frames <- frameOrErr{f, err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case fe, ok := <-frames:
			if !ok {
				return ctx.Err()
			}
			if s.isClosing() {
				return nil
			}
			if fe.err != nil {
				if errors.Is(fe.err, io.EOF) {
					return nil
				}
				return fe.err
			}

			if err := s.decoder.Decode(fe.frame, s.state); err != nil {
				var ue *oi.UnknownPacketError
				if errors.As(err, &ue) {
					s.stats.unknown.Add(1)
				}
				logf("serialmux: dropped frame: %v", err)
				continue
			}
			s.stats.frames.Add(1)
			s.publish(s.state.Snapshot())
		}
	}
}

func (s *SerialMux[T]) publish(snap sensors.Snapshot) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
			// if the channel is full skip so as not to block the reader
		}
	}
}

func (s *SerialMux[T]) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

// Close halts the wheels, stops the OI, closes every subscriber and then the
// port.
func (s *SerialMux[T]) Close() error {
	var errs []error
	if !s.isClosing() {
		errs = append(errs, s.SendCommand(oi.Halt()), s.SendCommand(oi.Stop()))
	}

	s.closingMu.Lock()
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()

	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	errs = append(errs, s.port.Close())
	return errors.Join(errs...)
}
