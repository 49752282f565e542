package server

import (
	"context"
	"testing"
	"time"

	"github.com/rtcore/rtc/guidance"
	"github.com/rtcore/rtc/netrtc/proto"
	"github.com/rtcore/rtc/policy"
	"github.com/rtcore/rtc/queue"
	"github.com/rtcore/rtc/robot"
)

type countingPolicy struct {
	calls      int
	timesteps  []int64
	chunkSize  int
	actionSize int
}

func (p *countingPolicy) To(device policy.Device) error { return nil }
func (p *countingPolicy) Eval()                         {}
func (p *countingPolicy) PredictActionChunk(ctx context.Context, obs robot.Observation, task, robotType string, inferenceDelay int, prevChunkLeftOver []queue.Action) (guidance.Tensor, error) {
	p.calls++
	return guidance.NewTensor(1, p.chunkSize, p.actionSize), nil
}
func (p *countingPolicy) PostProcessAction(raw guidance.Tensor) guidance.Tensor { return raw }

func obs(timestep int64, mustGo bool, val float64) proto.TimedObservation {
	return proto.TimedObservation{
		Timestep:  timestep,
		Timestamp: float64(timestep) * 0.02,
		MustGo:    mustGo,
		Names:     []string{"observation.state"},
		Values:    [][]float64{{val}},
	}
}

// P9: the server never runs inference twice for the same timestep.
func TestServerNeverPredictsSameTimestepTwice_P9(t *testing.T) {
	pol := &countingPolicy{chunkSize: 3, actionSize: 1}
	s := New(pol, Config{SimilarityThreshold: 0.01, ObsQueueTimeout: 10 * time.Millisecond, FPS: 10})

	s.Ready()
	if !s.SendObservation(obs(1, true, 1.0)) {
		t.Fatal("first observation (must_go) should always be accepted")
	}
	if _, err := s.GetActions(context.Background()); err != nil {
		t.Fatalf("GetActions: %v", err)
	}

	// Re-push the exact same timestep, forcing it through via must_go so
	// it reaches the inbound queue despite already having been predicted.
	s.SendObservation(obs(1, true, 1.0))
	list, err := s.GetActions(context.Background())
	if err != nil {
		t.Fatalf("GetActions: %v", err)
	}
	if len(list.Actions) != 0 {
		t.Fatalf("expected an empty reply for an already-predicted timestep, got %d actions", len(list.Actions))
	}
	if pol.calls != 1 {
		t.Fatalf("policy was called %d times, want 1", pol.calls)
	}
}

func TestServerDropsSimilarObservations(t *testing.T) {
	pol := &countingPolicy{chunkSize: 2, actionSize: 1}
	s := New(pol, Config{SimilarityThreshold: 0.5, FPS: 10})
	s.Ready()

	if !s.SendObservation(obs(1, false, 1.0)) {
		t.Fatal("first observation should always be accepted")
	}
	if s.SendObservation(obs(2, false, 1.001)) {
		t.Fatal("near-identical observation should be dropped as too similar")
	}
	if !s.SendObservation(obs(3, false, 50.0)) {
		t.Fatal("sufficiently different observation should be accepted")
	}
}

func TestServerMustGoBypassesSimilarity(t *testing.T) {
	pol := &countingPolicy{chunkSize: 2, actionSize: 1}
	s := New(pol, Config{SimilarityThreshold: 1000, FPS: 10})
	s.Ready()

	s.SendObservation(obs(1, false, 1.0))
	if !s.SendObservation(obs(2, true, 1.0)) {
		t.Fatal("must_go observation must always be accepted, even if identical to the last one")
	}
}

func TestGetActionsEmptyReplyOnTimeout(t *testing.T) {
	pol := &countingPolicy{chunkSize: 2, actionSize: 1}
	s := New(pol, Config{ObsQueueTimeout: 5 * time.Millisecond, FPS: 10})
	s.Ready()

	list, err := s.GetActions(context.Background())
	if err != nil {
		t.Fatalf("GetActions: %v", err)
	}
	if len(list.Actions) != 0 {
		t.Fatalf("expected empty reply, got %d actions", len(list.Actions))
	}
}

// S5-equivalent: stamped actions carry consecutive timesteps and
// fps-spaced timestamps relative to the triggering observation.
func TestGetActionsStampsTimestepsAndTimestamps(t *testing.T) {
	pol := &countingPolicy{chunkSize: 4, actionSize: 1}
	s := New(pol, Config{FPS: 50, ObsQueueTimeout: 10 * time.Millisecond})
	s.Ready()
	s.SendObservation(obs(10, true, 1.0))

	list, err := s.GetActions(context.Background())
	if err != nil {
		t.Fatalf("GetActions: %v", err)
	}
	if len(list.Actions) != 4 {
		t.Fatalf("len(Actions) = %d, want 4", len(list.Actions))
	}
	for i, a := range list.Actions {
		wantStep := int64(10 + i)
		wantTs := 10*0.02 + float64(i)/50
		if a.Timestep != wantStep {
			t.Fatalf("Actions[%d].Timestep = %d, want %d", i, a.Timestep, wantStep)
		}
		if diff := a.Timestamp - wantTs; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("Actions[%d].Timestamp = %v, want %v", i, a.Timestamp, wantTs)
		}
	}
}
