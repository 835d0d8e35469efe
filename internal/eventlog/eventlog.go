// Package eventlog records safety-relevant events (hazards, button presses,
// motion outcomes) together with the odometry at the time they happened.
package eventlog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/AaronTheNerd/csce274-project1/internal/monitoring"
	"github.com/AaronTheNerd/csce274-project1/internal/safety"
	"github.com/AaronTheNerd/csce274-project1/internal/sensors"
)

// Kind classifies an event.
type Kind string

const (
	KindHazard Kind = "hazard"
	KindClear  Kind = "clear"
	KindButton Kind = "button"
	KindMotion Kind = "motion"
)

// Event is one log entry.
type Event struct {
	Time     time.Time `json:"time"`
	RunID    string    `json:"run_id,omitempty"`
	Distance int64     `json:"distance_mm"`
	Angle    int       `json:"angle_deg"`
	Kind     Kind      `json:"kind"`
	Detail   string    `json:"detail,omitempty"`
}

// Label is the event column written to the CSV log, e.g. "hazard:cliff_left".
func (e Event) Label() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ":" + e.Detail
}

// At builds an event stamped t with the odometry from snap.
func At(t time.Time, snap sensors.Snapshot, kind Kind, detail string) Event {
	return Event{
		Time:     t,
		Distance: snap.Distance,
		Angle:    snap.Angle,
		Kind:     kind,
		Detail:   detail,
	}
}

// Sink receives events.
type Sink interface {
	Record(Event) error
}

// Discard drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Record(Event) error { return nil }

// CSVSink appends `timestamp,distance,angle,event` rows.
type CSVSink struct {
	mu sync.Mutex
	w  *csv.Writer
	c  io.Closer
}

// NewCSVSink writes rows to w. If w is also an io.Closer, Close closes it.
func NewCSVSink(w io.Writer) *CSVSink {
	s := &CSVSink{w: csv.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		s.c = c
	}
	return s
}

// Record writes and flushes one row.
func (s *CSVSink) Record(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := []string{
		e.Time.UTC().Format(time.RFC3339Nano),
		strconv.FormatInt(e.Distance, 10),
		strconv.Itoa(e.Angle),
		e.Label(),
	}
	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("write csv row: %w", err)
	}
	s.w.Flush()
	return s.w.Error()
}

// Close flushes pending rows and closes the underlying writer.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	err := s.w.Error()
	if s.c != nil {
		err = errors.Join(err, s.c.Close())
	}
	return err
}

// Multi fans each event out to every sink and joins their errors.
func Multi(sinks ...Sink) Sink {
	return multi(sinks)
}

type multi []Sink

func (m multi) Record(e Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WithRun stamps every event passed to sink with runID.
func WithRun(sink Sink, runID string) Sink {
	return runSink{sink: sink, runID: runID}
}

type runSink struct {
	sink  Sink
	runID string
}

func (r runSink) Record(e Event) error {
	if e.RunID == "" {
		e.RunID = r.runID
	}
	return r.sink.Record(e)
}

// Watch records an event each time a hazard appears or clears and each time
// a button goes down, until ctx is done or snapshots is closed.
func Watch(ctx context.Context, snapshots <-chan sensors.Snapshot, sink Sink) {
	var prevHazards []safety.Hazard
	var prevButtons [sensors.NumButtons]bool

	for {
		var snap sensors.Snapshot
		select {
		case <-ctx.Done():
			return
		case s, ok := <-snapshots:
			if !ok {
				return
			}
			snap = s
		}

		hazards := safety.DriveHazards(snap)
		for _, h := range hazards {
			if !slices.Contains(prevHazards, h) {
				record(sink, At(time.Now(), snap, KindHazard, string(h)))
			}
		}
		for _, h := range prevHazards {
			if !slices.Contains(hazards, h) {
				record(sink, At(time.Now(), snap, KindClear, string(h)))
			}
		}
		prevHazards = hazards

		for i, b := range snap.Buttons {
			if b.Pressed && !prevButtons[i] {
				record(sink, At(time.Now(), snap, KindButton, sensors.ButtonID(i).String()))
			}
			prevButtons[i] = b.Pressed
		}
	}
}

func record(sink Sink, e Event) {
	if err := sink.Record(e); err != nil {
		monitoring.Logf("eventlog: failed to record %s: %v", e.Label(), err)
	}
}
