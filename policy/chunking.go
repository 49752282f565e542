package policy

import (
	"context"

	"github.com/rtcore/rtc/guidance"
	"github.com/rtcore/rtc/queue"
	"github.com/rtcore/rtc/robot"
)

// ChunkingPolicy is a reference Policy built directly from a base denoiser
// factory and an explicit Euler integration schedule, wiring guidance.Step
// into the iterative denoise loop spec §4.2/§4.6 describe. Concrete policy
// bindings (e.g. a loaded model's Go inference wrapper) are expected to
// either implement Policy directly or compose ChunkingPolicy the way this
// package does, matching spec §9's "degenerate denoiser" guidance for
// non-iterative policies: a ChunkingPolicy with a single-element Steps and
// no prefix guidance reduces to one denoiser call.
type ChunkingPolicy struct {
	// NewDenoiser builds a BaseDenoiser conditioned on one observation,
	// task and robot type. Called once per PredictActionChunk.
	NewDenoiser func(obs robot.Observation, task, robotType string) (guidance.BaseDenoiser, error)
	// InitNoise returns the starting latent (B=1, chunk_size, action_dim)
	// for the denoise loop, normally sampled noise.
	InitNoise func() guidance.Tensor
	// Denormalize converts a raw (normalized) chunk into robot command
	// units. May be nil, in which case PostProcessAction is the identity.
	Denormalize func(raw guidance.Tensor) guidance.Tensor

	// Steps is the descending sequence of normalized times driving the
	// Euler integration from t=1 (noise) to t=0 (final action); the last
	// element should be 0.
	Steps []float64
	// Cfg is the guidance configuration applied at every step.
	Cfg guidance.Config
	// ExecutionHorizon bounds the prefix weight window (spec §4.2 Inputs;
	// clamped further to the prefix's own extent inside guidance.Step).
	ExecutionHorizon int

	device Device
}

// To records the target device. ChunkingPolicy does no device-specific
// dispatch itself; NewDenoiser/InitNoise closures are expected to honor it.
func (p *ChunkingPolicy) To(device Device) error {
	p.device = device
	return nil
}

// Eval is a no-op for ChunkingPolicy: the reference Euler loop has no
// training-mode behavior to disable.
func (p *ChunkingPolicy) Eval() {}

// PredictActionChunk runs the guided denoise loop (spec §4.2 step 6, §4.6
// step 6): builds the previous tail as a Tensor, then integrates Steps with
// an Euler update driven by the guided velocity at each step.
func (p *ChunkingPolicy) PredictActionChunk(ctx context.Context, obs robot.Observation, task, robotType string, inferenceDelay int, prevChunkLeftOver []queue.Action) (guidance.Tensor, error) {
	denoiser, err := p.NewDenoiser(obs, task, robotType)
	if err != nil {
		return guidance.Tensor{}, err
	}

	x := p.InitNoise()
	prefix := guidance.FromActions(prevChunkLeftOver)

	for i, t := range p.Steps {
		v := guidance.Step(denoiser, x, prefix, inferenceDelay, p.ExecutionHorizon, t, p.Cfg)
		dt := t
		if i+1 < len(p.Steps) {
			dt = t - p.Steps[i+1]
		}
		x = x.Combine(v, func(xx, vv float64) float64 { return xx - dt*vv })
	}
	return x, nil
}

// PostProcessAction applies Denormalize, or returns raw unchanged if none
// was configured.
func (p *ChunkingPolicy) PostProcessAction(raw guidance.Tensor) guidance.Tensor {
	if p.Denormalize == nil {
		return raw
	}
	return p.Denormalize(raw)
}
