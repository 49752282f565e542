// Package client implements the robot-side of the networked RTC variant
// (spec §4.7): observation streaming with the must_go liveness flag, and
// the per-timestep action merge that replaces the non-networked Action
// Queue's merge algorithm for this variant.
package client

import (
	"context"
	"log/slog"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rtcore/rtc/netrtc/proto"
	"github.com/rtcore/rtc/queue"
)

// AggregateFn combines an existing queued action with a newly arrived one
// sharing the same timestep (spec §4.7 "Client-side chunk merge"; §9
// "Aggregation function").
type AggregateFn func(existing, incoming queue.Action) queue.Action

// AggregateReplace keeps the newer action, the spec's default (spec §4.7:
// "combine via an aggregation function (default: replace with the
// newer)").
func AggregateReplace(existing, incoming queue.Action) queue.Action { return incoming }

// AggregateWeightedAverage averages overlapping timesteps elementwise
// (SPEC_FULL.md §4, named in the original as an alternative to
// "replace"). Vectors of mismatched length fall back to incoming.
func AggregateWeightedAverage(existing, incoming queue.Action) queue.Action {
	if len(existing) != len(incoming) {
		return incoming
	}
	out := make(queue.Action, len(incoming))
	for i := range out {
		out[i] = (existing[i] + incoming[i]) / 2
	}
	return out
}

// timedEntry is one timestep-keyed queue slot.
type timedEntry struct {
	timestep int64
	action   queue.Action
}

// ActionQueue is the networked variant's per-timestep action buffer,
// replacing queue.Queue's index-based merge with the timestep-keyed merge
// of spec §4.7.
type ActionQueue struct {
	mu             sync.Mutex
	entries        []timedEntry
	latestExecuted int64
	haveExecuted   bool
}

// NewActionQueue returns an empty ActionQueue.
func NewActionQueue() *ActionQueue { return &ActionQueue{} }

// Size returns the current number of queued entries.
func (q *ActionQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Pop returns the lowest-timestep action, or ok=false if empty.
func (q *ActionQueue) Pop() (action queue.Action, timestep int64, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return nil, 0, false
	}
	e := q.entries[0]
	q.entries = q.entries[1:]
	q.latestExecuted = e.timestep
	q.haveExecuted = true
	return e.action, e.timestep, true
}

// Merge installs a TimedActionList using spec §4.7's per-item rule: drop if
// timestep <= latest executed; append if unseen; otherwise combine via
// aggregate (nil defaults to AggregateReplace).
func (q *ActionQueue) Merge(list proto.TimedActionList, aggregate AggregateFn) {
	if aggregate == nil {
		aggregate = AggregateReplace
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, a := range list.Actions {
		if q.haveExecuted && a.Timestep <= q.latestExecuted {
			continue
		}
		if idx := q.indexOfLocked(a.Timestep); idx >= 0 {
			q.entries[idx].action = aggregate(q.entries[idx].action, queue.Action(a.Vector))
			continue
		}
		q.entries = append(q.entries, timedEntry{timestep: a.Timestep, action: queue.Action(a.Vector)})
	}
	sort.Slice(q.entries, func(i, j int) bool { return q.entries[i].timestep < q.entries[j].timestep })
}

func (q *ActionQueue) indexOfLocked(timestep int64) int {
	for i, e := range q.entries {
		if e.timestep == timestep {
			return i
		}
	}
	return -1
}

// FPSTracker estimates the rate of Tick calls over a bounded recent window
// (SPEC_FULL.md §4, ported from the original's calculate_fps_metrics).
type FPSTracker struct {
	mu     sync.Mutex
	window int
	ticks  []time.Time
}

// NewFPSTracker returns a tracker retaining the last window tick
// timestamps. window <= 0 defaults to 30.
func NewFPSTracker(window int) *FPSTracker {
	if window <= 0 {
		window = 30
	}
	return &FPSTracker{window: window}
}

// Tick records one event at the current time.
func (f *FPSTracker) Tick(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks = append(f.ticks, now)
	if len(f.ticks) > f.window {
		f.ticks = f.ticks[len(f.ticks)-f.window:]
	}
}

// FPS returns the estimated rate, or 0 if fewer than two ticks have been
// recorded.
func (f *FPSTracker) FPS() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ticks) < 2 {
		return 0
	}
	elapsed := f.ticks[len(f.ticks)-1].Sub(f.ticks[0]).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(len(f.ticks)-1) / elapsed
}

// barrier is a one-shot n-party rendezvous point: once n parties have
// arrived it stays open, and later Wait calls return immediately. The standard library has
// no direct equivalent (sync.WaitGroup is one-directional); this adapts the
// original's threading.Barrier(2) used to synchronize the action-receiver
// and observation-sender goroutines before steady-state streaming begins
// (SPEC_FULL.md §4 "Start barrier").
type barrier struct {
	mu    sync.Mutex
	n     int
	count int
	ch    chan struct{}
}

func newBarrier(n int) *barrier {
	return &barrier{n: n, ch: make(chan struct{})}
}

func (b *barrier) Wait() {
	b.mu.Lock()
	b.count++
	if b.count == b.n {
		close(b.ch)
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	<-b.ch
}

// Observation is one sample the caller's observation source produces:
// named channels plus the timestep/timestamp to stamp it with.
type Observation struct {
	Timestep  int64
	Timestamp float64
	Names     []string
	Values    [][]float64
}

// Config holds the Client's tunables (spec §6 networked CLI surface).
type Config struct {
	// FPS paces the observation-send loop.
	FPS float64
	// ChunkSizeThreshold is the queue-size fraction (of ActionsPerChunk)
	// below which the client sends observations; above it, sends are
	// throttled, the only client-side half of the backpressure contract
	// (spec §5 "Backpressure").
	ChunkSizeThreshold float64
	ActionsPerChunk    int
	Aggregate          AggregateFn
	Log                *slog.Logger
}

// Client streams observations to and receives action chunks from a
// networked policy server over a framed net.Conn (spec §4.7).
type Client struct {
	conn    net.Conn
	connMu  sync.Mutex // serializes the request/response exchanges below
	q       *ActionQueue
	cfg     Config
	mustGo  atomic.Bool
	obsRate *FPSTracker
}

// New returns a Client communicating over conn.
func New(conn net.Conn, cfg Config) *Client {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	c := &Client{conn: conn, q: NewActionQueue(), cfg: cfg, obsRate: NewFPSTracker(30)}
	c.mustGo.Store(true) // spec §4.7: liveness is unconditional before the first chunk ever arrives
	return c
}

// Queue exposes the client's per-timestep action buffer.
func (c *Client) Queue() *ActionQueue { return c.q }

// Ready performs the handshake's first step (spec §4.7 "Handshake").
func (c *Client) Ready() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if err := proto.WriteFrame(c.conn, proto.MsgReady, nil); err != nil {
		return err
	}
	_, _, err := proto.ReadFrame(c.conn)
	return err
}

// SendPolicyInstructions completes the handshake (spec §4.7 "Handshake").
func (c *Client) SendPolicyInstructions(rc proto.RemotePolicyConfig) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if err := proto.WriteFrame(c.conn, proto.MsgPolicyConfig, proto.EncodeRemotePolicyConfig(rc)); err != nil {
		return err
	}
	_, _, err := proto.ReadFrame(c.conn)
	return err
}

// sendObservation streams one observation (spec §4.7 "Observation
// channel"), applying and clearing must_go per spec's liveness rule.
func (c *Client) sendObservation(obs Observation) error {
	empty := c.q.Size() == 0
	mustGo := c.mustGo.Load() && empty
	if empty {
		c.mustGo.Store(false)
	}

	wire := proto.TimedObservation{
		Timestep:  obs.Timestep,
		Timestamp: obs.Timestamp,
		MustGo:    mustGo,
		Names:     obs.Names,
		Values:    obs.Values,
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.obsRate.Tick(time.Now())
	return proto.WriteFrame(c.conn, proto.MsgObservation, proto.EncodeTimedObservation(wire))
}

// fetchActions requests and decodes one GetActions round trip (spec §4.7
// "Action channel").
func (c *Client) fetchActions() (proto.TimedActionList, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if err := proto.WriteFrame(c.conn, proto.MsgActionList, nil); err != nil {
		return proto.TimedActionList{}, err
	}
	typ, payload, err := proto.ReadFrame(c.conn)
	if err != nil {
		return proto.TimedActionList{}, err
	}
	if typ != proto.MsgActionList {
		return proto.TimedActionList{}, nil
	}
	return proto.DecodeTimedActionList(payload)
}

// ObservationSource supplies the next observation to stream; it is the
// networked analogue of robot.Robot.GetObservation plus an
// application-assigned timestep/timestamp.
type ObservationSource func(ctx context.Context) (Observation, error)

// Run drives the client's two steady-state loops — observation sending and
// action receiving — until ctx is canceled. Send and fetch failures are
// logged and retried, so neither loop ends on its own; Run returns once both
// loops have exited, with the first non-nil error either returned. The two
// loops rendezvous at a start barrier before entering steady state,
// mirroring the original's threading.Barrier(2) (SPEC_FULL.md §4).
func (c *Client) Run(ctx context.Context, obsSource ObservationSource) error {
	bar := newBarrier(2)
	errCh := make(chan error, 2)

	go func() {
		bar.Wait()
		errCh <- c.runObservationLoop(ctx, obsSource)
	}()
	go func() {
		bar.Wait()
		errCh <- c.runActionLoop(ctx)
	}()

	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Client) runObservationLoop(ctx context.Context, obsSource ObservationSource) error {
	period := time.Second
	if c.cfg.FPS > 0 {
		period = time.Duration(float64(time.Second) / c.cfg.FPS)
	}
	threshold := c.cfg.ChunkSizeThreshold
	if threshold <= 0 {
		threshold = 1 // no throttling if unset
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		fraction := 0.0
		if c.cfg.ActionsPerChunk > 0 {
			fraction = float64(c.q.Size()) / float64(c.cfg.ActionsPerChunk)
		}
		if fraction < threshold || c.mustGo.Load() || c.q.Size() == 0 {
			obs, err := obsSource(ctx)
			if err == nil {
				if err := c.sendObservation(obs); err != nil {
					c.cfg.Log.Debug("client: observation send failed, will retry next tick", "err", err)
				}
			} else {
				c.cfg.Log.Warn("client: observation source failed", "err", err)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(period):
		}
	}
}

func (c *Client) runActionLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		list, err := c.fetchActions()
		if err != nil {
			c.cfg.Log.Debug("client: fetch actions failed, will retry", "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}
		if len(list.Actions) > 0 {
			c.q.Merge(list, c.cfg.Aggregate)
			c.mustGo.Store(true) // spec §4.7: set whenever a new chunk has just been received
		}
	}
}
