package client

import (
	"context"
	"log/slog"
	"time"

	"github.com/rtcore/rtc"
	"github.com/rtcore/rtc/robot"
)

// jitterCompensation mirrors actuator.jitterCompensation (spec §4.5 step 4):
// duplicated rather than imported because it drives a structurally distinct
// loop (popping from a timestep-keyed ActionQueue, not queue.Queue) and the
// two packages share no common base to hang a shared constant off of.
const jitterCompensation = time.Millisecond

// ActuatorConfig holds the networked actuator's tunables; same shape as
// actuator.Config.
type ActuatorConfig struct {
	// FPS is the fixed control rate in Hz. Must be > 0.
	FPS float64
	// Log defaults to slog.Default() if nil.
	Log *slog.Logger
}

// ActuatorLoop drives a Robot at a fixed rate by popping one action per tick
// from a Client's ActionQueue (spec §4.5, adapted for the networked variant
// of §4.7: the per-timestep merge replaces the index-based Action Queue, but
// the actuator's fixed-rate dispatch contract is unchanged).
type ActuatorLoop struct {
	q    *ActionQueue
	rob  robot.Robot
	post robot.ActionPostProcessor
	cfg  ActuatorConfig
}

// NewActuatorLoop returns a Loop popping from q and dispatching to rob.
func NewActuatorLoop(q *ActionQueue, rob robot.Robot, post robot.ActionPostProcessor, cfg ActuatorConfig) *ActuatorLoop {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &ActuatorLoop{q: q, rob: rob, post: post, cfg: cfg}
}

// Run drives the loop until ctx is canceled or a dispatch fails, exactly
// matching actuator.Loop.Run's contract (spec §4.5).
func (l *ActuatorLoop) Run(ctx context.Context) error {
	period := time.Duration(float64(time.Second) / l.cfg.FPS)
	features := l.rob.ActionFeatures()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		t0 := time.Now()
		if err := l.tick(ctx, features); err != nil {
			return err
		}

		elapsed := time.Since(t0)
		sleepFor := period - elapsed - jitterCompensation
		if sleepFor < 0 {
			sleepFor = 0
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(sleepFor):
		}
	}
}

func (l *ActuatorLoop) tick(ctx context.Context, features []string) error {
	a, _, ok := l.q.Pop()
	if !ok {
		l.cfg.Log.Debug("client actuator: queue empty, skipping tick")
		return nil
	}

	vector := []float64(a)
	if l.post != nil {
		vector = l.post(vector)
	}
	action := robot.VectorToAction(features, vector)

	if _, err := l.rob.SendAction(ctx, action); err != nil {
		l.cfg.Log.Error("client actuator: send action failed", "err", err)
		return rtc.WrapRobotIO(err)
	}
	return nil
}
