// Package actuator implements the fixed-rate consumer side of the control
// pipeline (spec §4.5), grounded on the teacher's tick loop
// (server/world/tick.go's tickLoop): measure elapsed time each cycle, act,
// then sleep off the remainder of the period.
package actuator

import (
	"context"
	"log/slog"
	"time"

	"github.com/rtcore/rtc"
	"github.com/rtcore/rtc/queue"
	"github.com/rtcore/rtc/robot"
)

// jitterCompensation is the small fixed margin subtracted from the sleep
// duration each tick to absorb scheduler jitter (spec §4.5 step 4: "a small
// ε (≈ 1 ms)").
const jitterCompensation = time.Millisecond

// Config holds the Actuator Loop's tunables.
type Config struct {
	// FPS is the fixed control rate in Hz. Must be > 0.
	FPS float64
	// Log receives per-dispatch debug logging and the fatal RobotIO error
	// before it is returned. Defaults to slog.Default() if nil.
	Log *slog.Logger
}

// Loop drives Robot at a fixed rate, popping one action from Queue per tick
// and dispatching it (spec §4.5). The zero value is not usable; construct
// with New.
type Loop struct {
	q    *queue.Queue
	rob  robot.Robot
	post robot.ActionPostProcessor
	cfg  Config

	lastIndex int
	haveLast  bool
}

// New returns a Loop popping from q and dispatching to rob, with an
// optional post-processor applied to each popped vector before it is
// converted into a named-action mapping (spec §4.5 step 3). post may be
// nil, in which case the vector is used unchanged.
func New(q *queue.Queue, rob robot.Robot, post robot.ActionPostProcessor, cfg Config) *Loop {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Loop{q: q, rob: rob, post: post, cfg: cfg}
}

// Run drives the loop until ctx is canceled or a dispatch fails. A dispatch
// failure is fatal (spec §4.5 "Failure"): Run returns an error wrapping
// rtc.ErrRobotIO, and the caller is expected to treat that as the signal to
// begin session shutdown. A canceled ctx returns nil: the actuator finishes
// its current tick (it never aborts mid-dispatch) and exits cleanly.
func (l *Loop) Run(ctx context.Context) error {
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

// tick executes one control step: pop, convert, post-process, dispatch.
func (l *Loop) tick(ctx context.Context, features []string) error {
	a, ok := l.q.Pop()
	if !ok {
		l.cfg.Log.Debug("actuator: queue empty, skipping tick")
		return nil
	}

	vector := []float64(a)
	if l.post != nil {
		vector = l.post(vector)
	}
	action := robot.VectorToAction(features, vector)

	if _, err := l.rob.SendAction(ctx, action); err != nil {
		l.cfg.Log.Error("actuator: send action failed", "err", err)
		return rtc.WrapRobotIO(err)
	}
	return nil
}
