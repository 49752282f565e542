package client

import (
	"net"
	"testing"

	"github.com/rtcore/rtc/netrtc/proto"
	"github.com/rtcore/rtc/queue"
)

func actionList(pairs ...struct {
	step int64
	val  float64
}) proto.TimedActionList {
	var list proto.TimedActionList
	for _, p := range pairs {
		list.Actions = append(list.Actions, proto.TimedAction{Timestep: p.step, Vector: []float64{p.val}})
	}
	return list
}

func TestActionQueueMergeAppendsNewTimesteps(t *testing.T) {
	q := NewActionQueue()
	q.Merge(proto.TimedActionList{Actions: []proto.TimedAction{
		{Timestep: 2, Vector: []float64{2}},
		{Timestep: 1, Vector: []float64{1}},
	}}, nil)

	if q.Size() != 2 {
		t.Fatalf("Size() = %d, want 2", q.Size())
	}
	a, step, ok := q.Pop()
	if !ok || step != 1 || a[0] != 1 {
		t.Fatalf("Pop() = %v, %d, %v, want [1], 1, true", a, step, ok)
	}
}

func TestActionQueueDropsAlreadyExecutedTimesteps(t *testing.T) {
	q := NewActionQueue()
	q.Merge(proto.TimedActionList{Actions: []proto.TimedAction{{Timestep: 5, Vector: []float64{5}}}}, nil)
	if _, step, ok := q.Pop(); !ok || step != 5 {
		t.Fatalf("Pop() step = %d, ok = %v, want 5, true", step, ok)
	}

	q.Merge(proto.TimedActionList{Actions: []proto.TimedAction{
		{Timestep: 5, Vector: []float64{99}},
		{Timestep: 6, Vector: []float64{6}},
	}}, nil)
	if q.Size() != 1 {
		t.Fatalf("Size() = %d, want 1 (timestep 5 should have been dropped)", q.Size())
	}
	_, step, _ := q.Pop()
	if step != 6 {
		t.Fatalf("remaining timestep = %d, want 6", step)
	}
}

func TestActionQueueMergeDefaultsToReplace(t *testing.T) {
	q := NewActionQueue()
	q.Merge(actionList(struct {
		step int64
		val  float64
	}{1, 10}), nil)
	q.Merge(actionList(struct {
		step int64
		val  float64
	}{1, 20}), nil)

	a, _, _ := q.Pop()
	if a[0] != 20 {
		t.Fatalf("action value = %v, want 20 (replace should keep the newer value)", a[0])
	}
}

func TestAggregateWeightedAverage(t *testing.T) {
	got := AggregateWeightedAverage(queue.Action{10}, queue.Action{20})
	if got[0] != 15 {
		t.Fatalf("AggregateWeightedAverage = %v, want [15]", got)
	}
}

func TestFPSTrackerReportsZeroBeforeTwoTicks(t *testing.T) {
	f := NewFPSTracker(5)
	if fps := f.FPS(); fps != 0 {
		t.Fatalf("FPS() = %v before any ticks, want 0", fps)
	}
}

// readObservationFrame reads one observation frame off conn and decodes it.
func readObservationFrame(t *testing.T, conn net.Conn) proto.TimedObservation {
	t.Helper()
	typ, payload, err := proto.ReadFrame(conn)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if typ != proto.MsgObservation {
		t.Fatalf("frame type = %v, want MsgObservation", typ)
	}
	obs, err := proto.DecodeTimedObservation(payload)
	if err != nil {
		t.Fatalf("DecodeTimedObservation: %v", err)
	}
	return obs
}

// must_go is the AND of the sticky flag and "queue currently empty" (spec
// §4.7: "set whenever a new chunk has just been received; cleared as soon
// as the client has sent an observation while its queue is empty"), not the
// OR of the two — an OR would pin must_go permanently whenever the queue
// happens to be empty, defeating the server's similarity/dedup filter.
func TestSendObservationMustGoIsStickyFlagAndQueueEmpty(t *testing.T) {
	cases := []struct {
		name          string
		stickyMustGo  bool
		queueNonEmpty bool
		wantMustGo    bool
	}{
		{"sticky set, queue empty", true, false, true},
		{"sticky set, queue non-empty", true, true, false},
		{"sticky clear, queue empty", false, false, false},
		{"sticky clear, queue non-empty", false, true, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clientConn, serverConn := net.Pipe()
			defer clientConn.Close()
			defer serverConn.Close()

			c := New(clientConn, Config{})
			c.mustGo.Store(tc.stickyMustGo)
			if tc.queueNonEmpty {
				c.q.Merge(proto.TimedActionList{Actions: []proto.TimedAction{{Timestep: 1, Vector: []float64{1}}}}, nil)
			}

			errCh := make(chan error, 1)
			go func() { errCh <- c.sendObservation(Observation{Timestep: 1}) }()

			obs := readObservationFrame(t, serverConn)
			if err := <-errCh; err != nil {
				t.Fatalf("sendObservation: %v", err)
			}
			if obs.MustGo != tc.wantMustGo {
				t.Fatalf("MustGo = %v, want %v", obs.MustGo, tc.wantMustGo)
			}
		})
	}
}

func TestBarrierReleasesAllWaitersTogether(t *testing.T) {
	b := newBarrier(2)
	done := make(chan struct{}, 2)
	go func() { b.Wait(); done <- struct{}{} }()
	go func() { b.Wait(); done <- struct{}{} }()

	<-done
	<-done // both must return; a hang here fails the test via the go test timeout
}
