package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/AaronTheNerd/csce274-project1/internal/config"
	"github.com/AaronTheNerd/csce274-project1/internal/db"
	"github.com/AaronTheNerd/csce274-project1/internal/eventlog"
	"github.com/AaronTheNerd/csce274-project1/internal/motion"
	"github.com/AaronTheNerd/csce274-project1/internal/sensors"
	"github.com/AaronTheNerd/csce274-project1/internal/serialmux"
	"github.com/AaronTheNerd/csce274-project1/internal/wallfollow"
)

// outcomeError is stored for runs that ended on an I/O failure.
const outcomeError = "error"

// robot ties one behaviour run to the serial mux, the motion commander and
// the event sinks.
type robot struct {
	mux       serialmux.SerialMuxInterface
	cfg       *config.RobotConfig
	store     *db.DB
	sink      eventlog.Sink
	cmdr      *motion.Commander
	behaviour string
	runID     string

	// odometry when the behaviour started moving
	start sensors.Snapshot
}

// newRobot opens a run in store (when there is one and the behaviour moves
// the robot) and builds a commander that records into store and csv.
func newRobot(m serialmux.SerialMuxInterface, cfg *config.RobotConfig, store *db.DB, csv *eventlog.CSVSink, behaviour string) (*robot, error) {
	r := &robot{mux: m, cfg: cfg, store: store, behaviour: behaviour}

	var sinks []eventlog.Sink
	if store != nil {
		sinks = append(sinks, store)
		if behaviour != behaviourIdle {
			id, err := store.StartRun(behaviour)
			if err != nil {
				return nil, err
			}
			r.runID = id
		}
	}
	if csv != nil {
		sinks = append(sinks, csv)
	}
	r.sink = eventlog.WithRun(eventlog.Multi(sinks...), r.runID)

	mcfg, err := cfg.MotionConfig()
	if err != nil {
		return nil, err
	}
	r.cmdr = motion.New(m, m.State(), mcfg, motion.WithSink(r.sink))
	if err := r.cmdr.LoadAlertSong(); err != nil {
		return nil, err
	}
	return r, nil
}

// watch records hazard and button edges until ctx is done or the mux closes.
func (r *robot) watch(ctx context.Context) {
	id, ch := r.mux.Subscribe()
	defer r.mux.Unsubscribe(id)
	eventlog.Watch(ctx, ch, r.sink)
}

// run executes the behaviour and stamps its run with the outcome and the
// odometry travelled since the behaviour started moving.
func (r *robot) run(ctx context.Context) (string, error) {
	r.start = r.mux.State().Snapshot()
	outcome, err := r.behave(ctx)
	if err != nil {
		outcome = outcomeError
	}
	if r.store != nil && r.runID != "" {
		snap := r.mux.State().Snapshot()
		distance := snap.Distance - r.start.Distance
		angle := sensors.WrapAngle(snap.Angle - r.start.Angle)
		if ferr := r.store.FinishRun(r.runID, outcome, distance, angle); ferr != nil {
			err = errors.Join(err, ferr)
		}
	}
	return outcome, err
}

func (r *robot) behave(ctx context.Context) (string, error) {
	switch r.behaviour {
	case behaviourPolygon, behaviourCruise:
		return r.drive(ctx)
	case behaviourWallFollow:
		return r.followWall(ctx)
	}
	return "", fmt.Errorf("behaviour %q does not drive", r.behaviour)
}

// drive waits for the start button, then traces a polygon or cruises
// forward until something stops it.
func (r *robot) drive(ctx context.Context) (string, error) {
	start := r.cfg.GetStartButton()
	log.Printf("%s: press %s to start", r.behaviour, start)
	if err := r.cmdr.WaitForButton(ctx, start); err != nil {
		if ctx.Err() != nil {
			return motion.AbortedCanceled.String(), nil
		}
		return "", err
	}
	r.start = r.mux.State().Snapshot()

	var res motion.Result
	var err error
	speed := r.cfg.GetDriveSpeed()
	if r.behaviour == behaviourPolygon {
		res, err = r.cmdr.TracePolygon(ctx, r.cfg.GetPolygonSides(), r.cfg.GetPolygonPerimeter(), speed)
	} else {
		res, err = r.cmdr.DriveStraight(ctx, math.Inf(1), speed)
	}
	if err != nil && !(errors.Is(err, context.Canceled) && res.Outcome == motion.AbortedCanceled) {
		return "", err
	}
	return res.Outcome.String(), nil
}

// followWall runs the wall follower until ctx is done. The start button
// toggles it on and off.
func (r *robot) followWall(ctx context.Context) (string, error) {
	f := wallfollow.New(r.cmdr, r.mux.State(), wallfollow.Config{
		Setpoint: r.cfg.GetWallSetpoint(),
		Kp:       r.cfg.GetWallKp(),
		Kd:       r.cfg.GetWallKd(),
		Speed:    r.cfg.GetDriveSpeed(),
		Toggle:   r.cfg.GetStartButton(),
	}, nil)
	log.Printf("%s: press %s to toggle", r.behaviour, r.cfg.GetStartButton())

	id, ch := r.mux.Subscribe()
	defer r.mux.Unsubscribe(id)
	go f.WatchButton(ctx, ch)

	sum, err := f.Run(ctx)
	detail := fmt.Sprintf("wallfollow:steps=%d mean=%.1f rms=%.1f max=%.0f", sum.Steps, sum.MeanError, sum.RMSError, sum.MaxAbs)
	if rerr := r.sink.Record(eventlog.At(time.Now(), r.mux.State().Snapshot(), eventlog.KindMotion, detail)); rerr != nil {
		log.Printf("failed to record wall follow summary: %v", rerr)
	}
	if err != nil {
		return "", err
	}
	return motion.Completed.String(), nil
}
