// Package server implements the policy-hosting side of the networked RTC
// variant (spec §4.7): a capacity-1 inbound observation queue with
// dedup/similarity filtering, and the predict->postprocess pipeline served
// over GetActions.
package server

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/rtcore/rtc/guidance"
	"github.com/rtcore/rtc/netrtc/proto"
	"github.com/rtcore/rtc/policy"
	"github.com/rtcore/rtc/queue"
	"github.com/rtcore/rtc/robot"
)

// Config holds the Server's tunables.
type Config struct {
	// SimilarityThreshold bounds the combined observation-distance score
	// below which a new observation is considered "too similar" to the
	// last accepted one and is dropped (spec §4.7, §9 Open Question:
	// per-channel-normalized L2 over numeric channels plus mean-absolute
	// difference over image channels).
	SimilarityThreshold float64
	// ObsQueueTimeout bounds how long GetActions waits for an inbound
	// observation before returning an empty reply (spec §4.7 "Action
	// channel").
	ObsQueueTimeout time.Duration
	// LatencyFloor, if non-zero, is the minimum total GetActions latency;
	// the server sleeps to pad up to it (spec §4.7 "optionally sleeps to
	// pad total latency up to a configured floor").
	LatencyFloor time.Duration
	// FPS is used to stamp per-action timestamps (spec §4.7, S5).
	FPS float64
	// ExecutionHorizon and Guidance are stored but not read by the server:
	// GetActions calls PredictActionChunk, which takes no guidance settings,
	// so the guided denoise loop runs with the configuration the policy was
	// loaded with.
	ExecutionHorizon int
	Guidance         guidance.Config
	Task, RobotType  string
	// WorkerPoolSize bounds the number of GetActions pipelines that may run
	// concurrently across all connections (spec §5: "the server
	// additionally has a bounded worker pool (small, e.g., 4) servicing RPC
	// calls"). Defaults to 4.
	WorkerPoolSize int
	Log            *slog.Logger
}

// obsQueue is a capacity-1 queue that drops the oldest item on overflow
// (spec §4.7 "capacity-1 inbound queue (dropping oldest on overflow)").
type obsQueue struct {
	ch chan proto.TimedObservation
}

func newObsQueue() *obsQueue {
	return &obsQueue{ch: make(chan proto.TimedObservation, 1)}
}

func (q *obsQueue) push(obs proto.TimedObservation) {
	select {
	case <-q.ch:
	default:
	}
	select {
	case q.ch <- obs:
	default:
	}
}

func (q *obsQueue) pop(ctx context.Context, timeout time.Duration) (proto.TimedObservation, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case obs := <-q.ch:
		return obs, true
	case <-timer.C:
		return proto.TimedObservation{}, false
	case <-ctx.Done():
		return proto.TimedObservation{}, false
	}
}

func (q *obsQueue) drain() {
	select {
	case <-q.ch:
	default:
	}
}

// Server hosts a Policy and serves the networked RTC handshake plus the
// observation/action streaming described in spec §4.7.
type Server struct {
	pol policy.Policy
	cfg Config

	mu             sync.Mutex
	policyCfg      proto.RemotePolicyConfig
	lastAccepted   *proto.TimedObservation
	lastHash       uint64
	predicted      map[int64]bool
	inbound        *obsQueue
	lastRawChunk   guidance.Tensor
	lastChunkFirst int64
	haveLastChunk  bool
}

// New returns a Server hosting pol.
func New(pol policy.Policy, cfg Config) *Server {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.ObsQueueTimeout <= 0 {
		cfg.ObsQueueTimeout = 200 * time.Millisecond
	}
	return &Server{
		pol:       pol,
		cfg:       cfg,
		predicted: make(map[int64]bool),
		inbound:   newObsQueue(),
	}
}

// Ready resets all per-session state (spec §4.7 "Handshake": "client calls
// Ready, server resets state").
func (s *Server) Ready() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAccepted = nil
	s.lastHash = 0
	s.predicted = make(map[int64]bool)
	s.haveLastChunk = false
	s.inbound.drain()
}

// SendPolicyInstructions completes the handshake: moves the policy to the
// requested device, puts it in eval mode, and records the chunking
// configuration (spec §4.7 "Handshake").
func (s *Server) SendPolicyInstructions(rc proto.RemotePolicyConfig) error {
	if err := s.pol.To(policy.Device(rc.Device)); err != nil {
		return fmt.Errorf("server: moving policy to device %q: %w", rc.Device, err)
	}
	s.pol.Eval()

	s.mu.Lock()
	s.policyCfg = rc
	s.mu.Unlock()
	return nil
}

// SendObservation applies the dedup/similarity filter (spec §4.7
// "Observation channel") and, if accepted, pushes obs onto the inbound
// queue. It reports whether obs was accepted.
func (s *Server) SendObservation(obs proto.TimedObservation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.acceptLocked(obs) {
		s.cfg.Log.Debug("server: dropped observation", "timestep", obs.Timestep)
		return false
	}
	s.lastAccepted = &obs
	s.lastHash = hashObservation(obs)
	s.inbound.push(obs)
	return true
}

// acceptLocked implements spec §4.7's three-way observation-acceptance
// rule. Callers must hold s.mu.
func (s *Server) acceptLocked(obs proto.TimedObservation) bool {
	if obs.MustGo {
		return true
	}
	if s.lastAccepted == nil {
		return true
	}
	if s.predicted[obs.Timestep] {
		return false
	}
	return !s.similarLocked(obs)
}

// similarLocked reports whether obs is "too similar" to the last accepted
// observation. The xxhash fast path short-circuits byte-identical repeats
// (the common case of a stalled camera/robot driver); otherwise it falls
// back to the documented per-channel-normalized L2 (numeric channels) plus
// mean-absolute-difference (image channels) test (SPEC_FULL.md §6).
func (s *Server) similarLocked(obs proto.TimedObservation) bool {
	if hashObservation(obs) == s.lastHash {
		return true
	}
	if s.lastAccepted == nil {
		return false
	}
	return observationDistance(obs, *s.lastAccepted) < s.cfg.SimilarityThreshold
}

// GetActions pops the next inbound observation (or returns an empty reply
// if none arrives within the configured timeout), marks its timestep
// predicted, runs the full predict->postprocess pipeline guided by the
// server's own record of its previously produced chunk, and stamps each
// resulting action with (timestamp, timestep) (spec §4.7 "Action channel").
func (s *Server) GetActions(ctx context.Context) (proto.TimedActionList, error) {
	obs, ok := s.inbound.pop(ctx, s.cfg.ObsQueueTimeout)
	if !ok {
		return proto.TimedActionList{}, nil
	}

	s.mu.Lock()
	if s.predicted[obs.Timestep] {
		s.mu.Unlock()
		return proto.TimedActionList{}, nil
	}
	s.predicted[obs.Timestep] = true
	task, robotType := s.cfg.Task, s.cfg.RobotType
	tail, delay := s.prefixTailLocked(obs.Timestep)
	s.mu.Unlock()

	start := time.Now()
	rawChunk, err := s.pol.PredictActionChunk(ctx, fromProtoObservation(obs), task, robotType, delay, tail)
	if err != nil {
		return proto.TimedActionList{}, fmt.Errorf("server: predict_action_chunk: %w", err)
	}
	postChunk := s.pol.PostProcessAction(rawChunk)

	s.mu.Lock()
	s.lastRawChunk = rawChunk
	s.lastChunkFirst = obs.Timestep
	s.haveLastChunk = true
	s.mu.Unlock()

	list := stampActions(postChunk, obs, s.cfg.FPS)

	if s.cfg.LatencyFloor > 0 {
		if remaining := s.cfg.LatencyFloor - time.Since(start); remaining > 0 {
			time.Sleep(remaining)
		}
	}
	return list, nil
}

// prefixTailLocked derives the previous chunk's unexecuted tail as seen
// from timestep: the portion of the last produced raw chunk whose
// positions are still at or ahead of timestep. Callers must hold s.mu.
func (s *Server) prefixTailLocked(timestep int64) ([]queue.Action, int) {
	if !s.haveLastChunk {
		return nil, 0
	}
	elapsed := int(timestep - s.lastChunkFirst)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed >= s.lastRawChunk.T {
		return nil, elapsed
	}
	return sliceTensorFrom(s.lastRawChunk, elapsed).ToActions(), elapsed
}

func sliceTensorFrom(x guidance.Tensor, start int) guidance.Tensor {
	out := guidance.NewTensor(x.B, x.T-start, x.A)
	for bi := 0; bi < x.B; bi++ {
		for ti := start; ti < x.T; ti++ {
			for ai := 0; ai < x.A; ai++ {
				out.Set(bi, ti-start, ai, x.Get(bi, ti, ai))
			}
		}
	}
	return out
}

// stampActions assigns each action in chunk an absolute timestep and
// timestamp relative to obs (spec §4.7 "Action channel"; S5).
func stampActions(chunk guidance.Tensor, obs proto.TimedObservation, fps float64) proto.TimedActionList {
	if fps <= 0 {
		fps = 1
	}
	actions := chunk.ToActions()
	list := proto.TimedActionList{Actions: make([]proto.TimedAction, len(actions))}
	for i, a := range actions {
		list.Actions[i] = proto.TimedAction{
			Timestep:  obs.Timestep + int64(i),
			Timestamp: obs.Timestamp + float64(i)/fps,
			Vector:    []float64(a),
		}
	}
	return list
}

func fromProtoObservation(obs proto.TimedObservation) robot.Observation {
	out := make(robot.Observation, len(obs.Names))
	for i, name := range obs.Names {
		out[name] = obs.Values[i]
	}
	return out
}

func hashObservation(obs proto.TimedObservation) uint64 {
	h := xxhash.New()
	var buf [8]byte
	for i, name := range obs.Names {
		_, _ = h.Write([]byte(name))
		for _, v := range obs.Values[i] {
			binary.BigEndian.PutUint64(buf[:], math.Float64bits(v))
			_, _ = h.Write(buf[:])
		}
	}
	return h.Sum64()
}

// observationDistance combines a per-channel-normalized L2 distance over
// numeric channels with a mean-absolute-difference over image channels
// (SPEC_FULL.md §6 Open Question resolution).
func observationDistance(a, b proto.TimedObservation) float64 {
	byName := make(map[string][]float64, len(b.Names))
	for i, name := range b.Names {
		byName[name] = b.Values[i]
	}

	var total float64
	for i, name := range a.Names {
		other, ok := byName[name]
		if !ok {
			continue
		}
		if robot.IsImage(name) {
			total += meanAbsDiff(a.Values[i], other)
		} else {
			total += normalizedL2(a.Values[i], other)
		}
	}
	return total
}

func normalizedL2(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(n))
}

func meanAbsDiff(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum / float64(n)
}
