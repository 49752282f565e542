package actuator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rtcore/rtc"
	"github.com/rtcore/rtc/queue"
	"github.com/rtcore/rtc/robot"
)

type fakeRobot struct {
	mu   sync.Mutex
	sent []robot.Action
}

func (f *fakeRobot) Connect(ctx context.Context) error { return nil }
func (f *fakeRobot) Disconnect() error                 { return nil }
func (f *fakeRobot) Name() string                      { return "fake" }
func (f *fakeRobot) ObservationFeatures() []string      { return nil }
func (f *fakeRobot) ActionFeatures() []string           { return []string{"x", "y"} }
func (f *fakeRobot) GetObservation(ctx context.Context) (robot.Observation, error) {
	return robot.Observation{}, nil
}

func (f *fakeRobot) SendAction(ctx context.Context, action robot.Action) (robot.Action, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, action)
	return nil, nil
}

func (f *fakeRobot) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// S6: a pre-filled queue of 20 actions, no further refills; the actuator
// dispatches exactly those 20 actions and then idles (further ticks pop
// none and skip dispatch). Runs at 200 Hz instead of the scenario's 10 Hz.
func TestActuatorDispatchesExactlyQueuedActions_S6(t *testing.T) {
	q := queue.New(0)
	raw := make([]queue.Action, 20)
	post := make([]queue.Action, 20)
	for i := range raw {
		raw[i] = queue.Action{float64(i), float64(i)}
		post[i] = queue.Action{float64(i), float64(i)}
	}
	q.Merge(raw, post, 0, 0)

	rob := &fakeRobot{}
	loop := New(q, rob, nil, Config{FPS: 200}) // fast tick so the test runs quickly

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	_ = loop.Run(ctx)

	if got := rob.count(); got != 20 {
		t.Fatalf("dispatched %d actions, want 20", got)
	}
}

// P1/ordering: a pop sequence observed through the actuator's dispatches is
// strictly increasing with no reordering (gaps allowed via queue-empty
// skips, never duplicate or out-of-order sends).
func TestActuatorDispatchOrderMatchesQueueOrder_P1(t *testing.T) {
	q := queue.New(0)
	raw := []queue.Action{{1}, {2}, {3}}
	post := []queue.Action{{10}, {20}, {30}}
	q.Merge(raw, post, 0, 0)

	rob := &fakeRobot{}
	loop := New(q, rob, nil, Config{FPS: 1000})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = loop.Run(ctx)

	rob.mu.Lock()
	defer rob.mu.Unlock()
	if len(rob.sent) < 3 {
		t.Fatalf("expected at least 3 dispatches, got %d", len(rob.sent))
	}
	want := []float64{10, 20, 30}
	for i, w := range want {
		if rob.sent[i]["x"] != w {
			t.Fatalf("dispatch %d = %v, want x=%v", i, rob.sent[i], w)
		}
	}
}

// A failing SendAction is fatal and its error unwraps to rtc.ErrRobotIO.
func TestActuatorStopsOnSendFailure(t *testing.T) {
	q := queue.New(0)
	q.Merge([]queue.Action{{1}}, []queue.Action{{1}}, 0, 0)

	rob := &failingRobot{fakeRobot: fakeRobot{}}
	loop := New(q, rob, nil, Config{FPS: 1000})

	err := loop.Run(context.Background())
	if err == nil {
		t.Fatal("expected an error from a failing SendAction")
	}
	if !errors.Is(err, rtc.ErrRobotIO) {
		t.Fatalf("error %v does not unwrap to rtc.ErrRobotIO", err)
	}
}

type failingRobot struct {
	fakeRobot
}

func (f *failingRobot) SendAction(ctx context.Context, action robot.Action) (robot.Action, error) {
	return nil, errSend
}

var errSend = &sendError{}

type sendError struct{}

func (*sendError) Error() string { return "simulated send failure" }
