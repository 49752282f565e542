// Package queue implements the shared, time-indexed action buffer that sits
// between the inference producer and the actuator consumer (spec §4.1).
package queue

import (
	"sync"

	"github.com/rtcore/rtc/internal/sliceutil"
)

// Action is a single robot command vector, ordered per the robot's fixed
// action_dim feature layout.
type Action []float64

// Clone returns a copy of a, safe to retain after the queue releases it.
func (a Action) Clone() Action {
	return Action(sliceutil.Clone(a))
}

// entry is one queued control step: a postprocessed action ready for
// dispatch, and the raw-space action retained only so it can serve as part
// of the leftover tail fed back into the next inference.
type entry struct {
	index int
	post  Action
	raw   Action
}

// Queue is the thread-safe FIFO of indexed actions described in spec §4.1.
// It is mutated by exactly one actuator consumer (Pop) and one inference
// producer (Merge); LeftoverRaw and Size may be called concurrently with
// either. The zero value is not usable; construct with New.
type Queue struct {
	mu sync.Mutex

	entries []entry
	// lastPopped is the index most recently returned by Pop, or -1 if
	// nothing has been popped yet (so CurrentActionIndex starts at 0).
	lastPopped int

	// history is a bounded ring of (tick, size) samples for the debug
	// queue-size visualization hook carried over from the original
	// implementation's debug_visualize_queue_size (SPEC_FULL.md §4); it is
	// not consulted by any control-flow decision.
	history    []SizeSample
	historyCap int
	tick       int
}

// SizeSample is one recorded (tick, size) pair.
type SizeSample struct {
	Tick int
	Size int
}

// New returns an empty Queue. historyCap bounds the number of SizeHistory
// samples retained; 0 disables history recording.
func New(historyCap int) *Queue {
	return &Queue{
		lastPopped: -1,
		historyCap: historyCap,
	}
}

// Size returns the current number of queued entries.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// CurrentActionIndex returns the index the next Pop would return: one past
// the last popped index, or 0 if nothing has been popped yet (spec I1).
func (q *Queue) CurrentActionIndex() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastPopped + 1
}

// Pop returns the lowest-indexed postprocessed action and advances the
// actuator index, or returns ok=false if the queue is empty. Pop never
// blocks and never fails (spec §4.1 Failure semantics).
func (q *Queue) Pop() (action Action, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.recordSizeLocked()

	if len(q.entries) == 0 {
		return nil, false
	}
	e := q.entries[0]
	q.entries = q.entries[1:]
	q.lastPopped = e.index
	return e.post, true
}

// LeftoverRaw returns the raw-form sequence of all currently-queued entries,
// in index order: the input the RTC guidance step consumes as the previous
// chunk's unexecuted tail. Safe to call concurrently with Pop.
func (q *Queue) LeftoverRaw() []Action {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Action, len(q.entries))
	for i, e := range q.entries {
		out[i] = e.raw
	}
	return out
}

// Snapshot atomically captures (CurrentActionIndex, LeftoverRaw) as a single
// critical section, matching spec §4.6 step 2 / §5's requirement that the
// leftover tail be the leftover at precisely i_before.
func (q *Queue) Snapshot() (iBefore int, tail []Action) {
	q.mu.Lock()
	defer q.mu.Unlock()

	tail = make([]Action, len(q.entries))
	for i, e := range q.entries {
		tail[i] = e.raw
	}
	return q.lastPopped + 1, tail
}

// Merge installs a newly produced chunk, implementing the M1-M5 algorithm
// of spec §4.1.
//
// raw and post must have equal, non-zero length; they are the policy's
// normalized-space and robot-command-space views of the same chunk. d is
// the measured inference delay in ticks and iBefore is the
// CurrentActionIndex snapshotted before inference began (spec §4.6 step 2).
//
// The incoming chunk is notionally anchored at iBefore+d (M1). If the
// actuator has since advanced past that anchor, the overrun — the number of
// ticks by which the actuator outran the compensation estimate — is
// trimmed from the incoming chunk's leading edge (M2); the resulting first
// surviving index is max(iBefore+d, i_now) (M3), matching spec §8 P2. All
// queue entries at or above that index are replaced; entries below it are
// preserved. The whole operation is atomic (M5): Pop never observes an
// intermediate state.
func (q *Queue) Merge(raw, post []Action, d, iBefore int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	anchor := iBefore + d // M1: notional first index of the incoming chunk
	iNow := q.lastPopped + 1

	iNewFirst := anchor
	if iNow > iNewFirst {
		iNewFirst = iNow
	}
	drop := iNewFirst - anchor // M2: overrun trimmed from the chunk's leading edge
	if drop > len(post) {
		drop = len(post)
	}
	post = post[drop:]
	raw = raw[drop:]

	// M3: keep entries strictly below iNewFirst, drop the rest.
	q.entries = sliceutil.TakeWhile(q.entries, func(e entry) bool {
		return e.index < iNewFirst
	})

	// M4: append survivors with consecutive indices starting at iNewFirst.
	for i := range post {
		q.entries = append(q.entries, entry{
			index: iNewFirst + i,
			post:  post[i],
			raw:   raw[i],
		})
	}
}

// SizeHistory returns a copy of the recorded (tick, size) samples. It exists
// purely for offline debugging/visualization (SPEC_FULL.md §4) and has no
// effect on queue behavior.
func (q *Queue) SizeHistory() []SizeSample {
	q.mu.Lock()
	defer q.mu.Unlock()
	return sliceutil.Clone(q.history)
}

func (q *Queue) recordSizeLocked() {
	if q.historyCap <= 0 {
		return
	}
	q.tick++
	q.history = append(q.history, SizeSample{Tick: q.tick, Size: len(q.entries)})
	if len(q.history) > q.historyCap {
		q.history = q.history[len(q.history)-q.historyCap:]
	}
}
