package inference

import (
	"context"
	"testing"
	"time"

	"github.com/rtcore/rtc/guidance"
	"github.com/rtcore/rtc/latency"
	"github.com/rtcore/rtc/policy"
	"github.com/rtcore/rtc/queue"
	"github.com/rtcore/rtc/robot"
)

type fakeRobot struct{}

func (fakeRobot) Connect(ctx context.Context) error { return nil }
func (fakeRobot) Disconnect() error                 { return nil }
func (fakeRobot) Name() string                      { return "fake" }
func (fakeRobot) ObservationFeatures() []string      { return []string{"state"} }
func (fakeRobot) ActionFeatures() []string           { return []string{"x"} }
func (fakeRobot) GetObservation(ctx context.Context) (robot.Observation, error) {
	return robot.Observation{"state": {1, 2, 3}}, nil
}
func (fakeRobot) SendAction(ctx context.Context, action robot.Action) (robot.Action, error) {
	return nil, nil
}

// fakePolicy returns a fixed-size chunk of constant value and counts calls.
type fakePolicy struct {
	chunkSize int
	calls     int
}

func (p *fakePolicy) To(device policy.Device) error { return nil }

func (p *fakePolicy) Eval() {}

func (p *fakePolicy) PredictActionChunk(ctx context.Context, obs robot.Observation, task, robotType string, inferenceDelay int, prevChunkLeftOver []queue.Action) (guidance.Tensor, error) {
	p.calls++
	x := guidance.NewTensor(1, p.chunkSize, 1)
	for i := range x.Data {
		x.Data[i] = float64(p.calls)
	}
	return x, nil
}

func (p *fakePolicy) PostProcessAction(raw guidance.Tensor) guidance.Tensor { return raw }

func TestInferenceLoopFillsQueueAboveThreshold(t *testing.T) {
	q := queue.New(0)
	pol := &fakePolicy{chunkSize: 5}
	tracker := latency.New(3)

	loop := New(q, fakeRobot{}, pol, tracker, nil, Config{FPS: 30, Threshold: 0, ExecutionHorizon: 2})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = loop.Run(ctx)

	if pol.calls == 0 {
		t.Fatal("expected at least one PredictActionChunk call while queue was below threshold")
	}
	if q.Size() == 0 {
		t.Fatal("expected the queue to be filled after inference ran")
	}
}

func TestInferenceLoopWaitsAboveThreshold(t *testing.T) {
	q := queue.New(0)
	q.Merge([]queue.Action{{1}, {2}, {3}}, []queue.Action{{1}, {2}, {3}}, 0, 0)

	pol := &fakePolicy{chunkSize: 5}
	tracker := latency.New(3)
	loop := New(q, fakeRobot{}, pol, tracker, nil, Config{FPS: 30, Threshold: 1, ExecutionHorizon: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_ = loop.Run(ctx)

	if pol.calls != 0 {
		t.Fatalf("expected no PredictActionChunk calls while queue (%d) stayed above threshold (1)", 3)
	}
}
