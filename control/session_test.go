package control

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rtcore/rtc"
	"github.com/rtcore/rtc/guidance"
	"github.com/rtcore/rtc/policy"
	"github.com/rtcore/rtc/queue"
	"github.com/rtcore/rtc/robot"
)

type countingRobot struct {
	connected    atomic.Int32
	disconnected atomic.Int32
}

func (r *countingRobot) Connect(ctx context.Context) error {
	r.connected.Add(1)
	return nil
}
func (r *countingRobot) Disconnect() error {
	r.disconnected.Add(1)
	return nil
}
func (r *countingRobot) Name() string                 { return "counting" }
func (r *countingRobot) ObservationFeatures() []string { return []string{"s"} }
func (r *countingRobot) ActionFeatures() []string      { return []string{"x"} }
func (r *countingRobot) GetObservation(ctx context.Context) (robot.Observation, error) {
	return robot.Observation{"s": {0}}, nil
}
func (r *countingRobot) SendAction(ctx context.Context, action robot.Action) (robot.Action, error) {
	return nil, nil
}

type stubPolicy struct{}

func (stubPolicy) To(device policy.Device) error { return nil }
func (stubPolicy) Eval()                         {}
func (stubPolicy) PredictActionChunk(ctx context.Context, obs robot.Observation, task, robotType string, inferenceDelay int, prevChunkLeftOver []queue.Action) (guidance.Tensor, error) {
	return guidance.NewTensor(1, 4, 1), nil
}
func (stubPolicy) PostProcessAction(raw guidance.Tensor) guidance.Tensor { return raw }

func TestSessionConnectsRunsAndAlwaysDisconnects(t *testing.T) {
	rob := &countingRobot{}
	cfg := rtc.Config{
		Policy:   rtc.PolicyConfig{Type: "stub", Path: "stub"},
		Robot:    rtc.RobotConfig{Type: "counting"},
		FPS:      200,
		Duration: 30 * time.Millisecond,
	}

	sess, err := New(cfg, rob, stubPolicy{}, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := sess.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if rob.connected.Load() != 1 {
		t.Fatalf("connected %d times, want 1", rob.connected.Load())
	}
	if rob.disconnected.Load() != 1 {
		t.Fatalf("disconnected %d times, want 1", rob.disconnected.Load())
	}
}

func TestSessionRejectsInvalidConfig(t *testing.T) {
	rob := &countingRobot{}
	_, err := New(rtc.Config{}, rob, stubPolicy{}, nil, nil)
	if err == nil {
		t.Fatal("expected ErrConfigInvalid for an empty config")
	}
}
