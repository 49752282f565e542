// Package inference implements the threshold-driven producer side of the
// control pipeline (spec §4.6), grounded on
// original_source/.../async_inference's get_actions thread function for the
// exact step sequencing (snapshot, observe, predict, measure, merge).
package inference

import (
	"context"
	"log/slog"
	"time"

	"github.com/rtcore/rtc"
	"github.com/rtcore/rtc/latency"
	"github.com/rtcore/rtc/policy"
	"github.com/rtcore/rtc/queue"
	"github.com/rtcore/rtc/robot"
)

// pollInterval is how long the loop sleeps when the queue is still above
// threshold (spec §4.6 step 1: "sleep briefly (e.g., 100 ms)").
const pollInterval = 100 * time.Millisecond

// Config holds the Inference Loop's tunables.
type Config struct {
	// FPS is the actuator's control rate, used to convert latency seconds
	// into ticks (spec §4.4, §4.6 steps 3/9).
	FPS float64
	// Threshold is the queue size at or below which a new inference is
	// triggered. Forced to 0 by rtc.Config.Normalized when RTC is disabled.
	Threshold int
	// ExecutionHorizon is RTC-only; used solely for the soft-warning check
	// at step 10.
	ExecutionHorizon int
	// Task and RobotType are attached to every observation (spec §4.6 step 4).
	Task, RobotType string
	// Log defaults to slog.Default() if nil.
	Log *slog.Logger
}

// Loop keeps Queue filled by calling Policy whenever its size drops to or
// below Threshold (spec §4.6). The zero value is not usable; construct
// with New.
type Loop struct {
	q       *queue.Queue
	rob     robot.Robot
	pol     policy.Policy
	tracker *latency.Tracker
	obsPost robot.ObservationPostProcessor
	cfg     Config
}

// New returns a Loop filling q by calling pol, observing through rob, and
// using tracker for delay compensation. obsPost may be nil.
func New(q *queue.Queue, rob robot.Robot, pol policy.Policy, tracker *latency.Tracker, obsPost robot.ObservationPostProcessor, cfg Config) *Loop {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Loop{q: q, rob: rob, pol: pol, tracker: tracker, obsPost: obsPost, cfg: cfg}
}

// Run drives the loop until ctx is canceled or the policy call fails.
// Shutdown is checked only between policy calls: a long in-flight call
// cannot be interrupted (spec §5, §9 Open Question "inference
// cancellation" — not preemptible by design).
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if l.q.Size() > l.cfg.Threshold {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(pollInterval):
			}
			continue
		}

		if err := l.step(ctx); err != nil {
			l.cfg.Log.Error("inference: step failed", "err", err)
			return err
		}
	}
}

// step runs one full inference iteration (spec §4.6 steps 2-11).
func (l *Loop) step(ctx context.Context) error {
	stepStart := time.Now()

	// Step 2: atomic snapshot.
	iBefore, tail := l.q.Snapshot()

	// Step 3: estimated delay from the latency tracker's conservative max.
	dEst := latency.Ticks(l.tracker.Max(), l.cfg.FPS)

	// Step 4: observe, post-process.
	obs, err := l.rob.GetObservation(ctx)
	if err != nil {
		return rtc.WrapRobotIO(err)
	}
	if l.obsPost != nil {
		obs = l.obsPost(obs)
	}

	// Steps 5-6: policy predicts a raw chunk, internally running the
	// guided denoise loop (§4.2) against tail.
	rawTensor, err := l.pol.PredictActionChunk(ctx, obs, l.cfg.Task, l.cfg.RobotType, dEst, tail)
	if err != nil {
		return rtc.WrapInferenceFailure(err)
	}

	// Step 7: raw is captured before post-processing.
	raw := rawTensor.ToActions()

	// Step 8: policy post-processor produces robot-command-space actions.
	post := l.pol.PostProcessAction(rawTensor).ToActions()

	// Step 9: actual measured latency, not the step-3 estimate, feeds both
	// the merge and the tracker (§4.6 Rationale).
	actualLatency := time.Since(stepStart)
	dActual := latency.Ticks(actualLatency, l.cfg.FPS)
	l.tracker.Add(actualLatency)

	// Step 10: soft warning, never fatal.
	if l.cfg.Threshold < l.cfg.ExecutionHorizon+dActual {
		l.cfg.Log.Warn("inference: threshold below execution_horizon + measured delay; queue may underflow",
			"threshold", l.cfg.Threshold, "execution_horizon", l.cfg.ExecutionHorizon, "measured_delay_ticks", dActual)
	}

	// Step 11: install the new chunk.
	l.q.Merge(raw, post, dActual, iBefore)
	return nil
}
