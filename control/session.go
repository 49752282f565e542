// Package control wires the Action Queue, Latency Tracker, Actuator Loop
// and Inference Loop into one runnable control session and owns its
// startup/shutdown lifecycle (spec §4 Component G, §5).
package control

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rtcore/rtc"
	"github.com/rtcore/rtc/actuator"
	"github.com/rtcore/rtc/inference"
	"github.com/rtcore/rtc/latency"
	"github.com/rtcore/rtc/policy"
	"github.com/rtcore/rtc/queue"
	"github.com/rtcore/rtc/robot"
)

// Session owns one control session's shared state: the Action Queue, the
// Latency Tracker, and the actuator/inference loops reading and writing
// them. Each Session is tagged with a uuid.UUID so its goroutines'
// log lines correlate, mirroring how Dragonfly tags entities and player
// sessions (server/world, server/session).
type Session struct {
	ID uuid.UUID

	cfg  rtc.Config
	rob  robot.Robot
	q    *queue.Queue
	act  *actuator.Loop
	infr *inference.Loop

	closeOnce sync.Once
}

// New builds a Session from cfg, a connected-on-Run Robot, a Policy, and
// optional pre/post processors (spec §6 "Pre/Post-processor capability").
// rob is wrapped with robot.Synchronized so the actuator and inference
// loops share one serialized handle (spec §5 "Robot handle: wrapped by a
// mutex").
func New(cfg rtc.Config, rob robot.Robot, pol policy.Policy, actionPost robot.ActionPostProcessor, obsPost robot.ObservationPostProcessor) (*Session, error) {
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	synced := robot.Synchronized(rob)
	q := queue.New(cfg.QueueHistory)
	tracker := latency.New(cfg.LatencyWindow)

	act := actuator.New(q, synced, actionPost, actuator.Config{FPS: cfg.FPS, Log: cfg.Log})
	infr := inference.New(q, synced, pol, tracker, obsPost, inference.Config{
		FPS:              cfg.FPS,
		Threshold:        cfg.QueueThreshold,
		ExecutionHorizon: cfg.RTC.ExecutionHorizon,
		Task:             cfg.Task,
		RobotType:        cfg.RobotType,
		Log:              cfg.Log,
	})

	return &Session{
		ID:   uuid.New(),
		cfg:  cfg,
		rob:  synced,
		q:    q,
		act:  act,
		infr: infr,
	}, nil
}

// Queue exposes the session's Action Queue, e.g. for a debug endpoint
// reading SizeHistory.
func (s *Session) Queue() *queue.Queue { return s.q }

// Run connects the robot, starts the actuator and inference loops, and
// blocks until ctx is canceled, cfg.Duration elapses (if non-zero), or
// either loop returns a fatal error. The first fatal error from either
// loop cancels the shared context so the other loop stops promptly,
// mirroring Dragonfly's running sync.WaitGroup/closing-channel pattern but
// using errgroup so the caller learns which loop failed (spec §5
// "Cancellation", §7 "any fatal in any worker sets the shutdown flag").
// Run guarantees the robot is disconnected before returning, regardless of
// outcome (spec §7 "guaranteed-release scope").
func (s *Session) Run(ctx context.Context) error {
	if s.cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Duration)
		defer cancel()
	}

	if err := s.rob.Connect(ctx); err != nil {
		return rtc.WrapRobotIO(err)
	}
	defer s.disconnect()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.act.Run(gctx) })
	g.Go(func() error { return s.infr.Run(gctx) })

	return g.Wait()
}

func (s *Session) disconnect() {
	s.closeOnce.Do(func() {
		if err := s.rob.Disconnect(); err != nil {
			s.cfg.Log.Error("control: robot disconnect failed", "session", s.ID, "err", err)
		}
	})
}
