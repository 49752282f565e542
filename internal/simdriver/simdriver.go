// Package simdriver registers a minimal in-process robot and policy under
// the "sim" type name, for smoke-testing the cmd/rtc-* binaries without real
// hardware or pretrained weights. Real deployments register their own
// drivers via robot.RegisterDriver / policy.RegisterLoader from a separate
// package's init() (spec §1: robot hardware drivers and the policy itself
// are external collaborators, characterized here only by their interfaces).
package simdriver

import (
	"context"
	"sync"

	"github.com/rtcore/rtc/guidance"
	"github.com/rtcore/rtc/policy"
	"github.com/rtcore/rtc/robot"
)

func init() {
	robot.RegisterDriver("sim", newRobot)
	policy.RegisterLoader("sim", newPolicy)
}

// simRobot is a single-joint loopback robot: SendAction's commanded value
// becomes the next GetObservation's "observation.state" reading.
type simRobot struct {
	mu    sync.Mutex
	state float64
}

func newRobot(port, id string) (robot.Robot, error) { return &simRobot{}, nil }

func (r *simRobot) Connect(ctx context.Context) error { return nil }
func (r *simRobot) Disconnect() error                 { return nil }
func (r *simRobot) Name() string                      { return "sim" }
func (r *simRobot) ObservationFeatures() []string      { return []string{"observation.state"} }
func (r *simRobot) ActionFeatures() []string           { return []string{"action.position"} }

func (r *simRobot) GetObservation(ctx context.Context) (robot.Observation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return robot.Observation{"observation.state": {r.state}}, nil
}

func (r *simRobot) SendAction(ctx context.Context, action robot.Action) (robot.Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = action["action.position"]
	return action, nil
}

// zeroDenoiser is a degenerate one-step denoiser (spec §9 "Policy plug-in
// surface"): it predicts zero velocity, so with a single Euler step the
// produced chunk equals the current latent (pure noise) minus nothing,
// i.e. whatever InitNoise supplied. It exists only so ChunkingPolicy has a
// BaseDenoiser to wrap for the sim policy; its Jacobian is the identity.
type zeroDenoiser struct{}

func (zeroDenoiser) Velocity(x guidance.Tensor) guidance.Tensor {
	return guidance.NewTensor(x.B, x.T, x.A)
}

func (zeroDenoiser) VJP(x guidance.Tensor, t float64, upstream guidance.Tensor) guidance.Tensor {
	return upstream
}

func newPolicy(path string, device policy.Device) (policy.Policy, error) {
	return &policy.ChunkingPolicy{
		NewDenoiser: func(obs robot.Observation, task, robotType string) (guidance.BaseDenoiser, error) {
			return zeroDenoiser{}, nil
		},
		InitNoise: func() guidance.Tensor {
			return guidance.NewTensor(1, 8, 1)
		},
		Steps: []float64{1, 0},
	}, nil
}
