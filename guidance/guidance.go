package guidance

import "math"

// BaseDenoiser is the opaque iterative-denoiser callable the RTC guidance
// step wraps (spec §4.2, §6 "Policy capability"). Velocity computes the
// base denoised velocity field v = f(x). VJP returns the vector-Jacobian
// product J^T·upstream where J = ∂(x - t·f(x))/∂x, evaluated at the same x
// and t used to compute v — the abstract contract spec §9's Design Notes
// assign to the policy author when no autodiff engine is linked (ports may
// instead differentiate Velocity directly if they do carry one).
type BaseDenoiser interface {
	Velocity(x Tensor) Tensor
	VJP(x Tensor, t float64, upstream Tensor) Tensor
}

// Config holds the tunables of the guidance step (spec §4.2 Inputs).
type Config struct {
	MaxGuidanceWeight float64
	Schedule          Schedule
}

// Step wraps a base denoiser with RTC prefix-attention guidance (spec
// §4.2). x is the current latent chunk; p is the previous chunk's
// unexecuted tail, or a zero-value Tensor (B==0) if there is none, in which
// case Step returns f(x) unmodified (P4). inferenceDelay and
// executionHorizon are the start/end of the prefix weight window; t is the
// normalized denoise time in [0, 1].
func Step(f BaseDenoiser, x Tensor, p Tensor, inferenceDelay, executionHorizon int, t float64, cfg Config) Tensor {
	v := f.Velocity(x)
	if p.B == 0 {
		return v
	}

	// execution_horizon is clamped down to T' (the tail's own time extent)
	// if larger (spec §4.2 Inputs).
	if executionHorizon > p.T {
		executionHorizon = p.T
	}

	// Right-pad p with zeros to x's shape (spec §4.2 Inputs): T' <= T, A' <= A.
	pPadded := p.PadTo(x.B, x.T, x.A)

	w := Weights(inferenceDelay, executionHorizon, x.T, cfg.Schedule)

	// x1 = x - t*v (step 4)
	x1 := x.Combine(v.Scale(t), func(a, b float64) float64 { return a - b })

	// e = (p - x1) * w, broadcast over (1, T, 1) (step 5)
	diff := pPadded.Combine(x1, func(a, b float64) float64 { return a - b })
	e := diff.BroadcastWeightT(w)

	// c = J^T . e where J = d(x1)/dx (step 6)
	c := f.VJP(x, t, e)

	// scalar guidance weight g (step 7)
	tau := 1 - t
	g := guidanceWeight(tau, cfg.MaxGuidanceWeight)

	// v* = v - g*c (step 8)
	return v.Combine(c, func(vv, cc float64) float64 { return vv - g*cc })
}

// guidanceWeight computes g = ((1-tau)^2 + tau^2)/(1-tau)^2 * (1-tau)/tau,
// replacing +Inf/NaN results with maxGuidanceWeight and finally clamping
// g <= maxGuidanceWeight (spec §4.2 step 7).
func guidanceWeight(tau, maxGuidanceWeight float64) float64 {
	oneMinusTau := 1 - tau
	squared := oneMinusTau * oneMinusTau

	// Natural IEEE-754 division already produces the +Inf/NaN spec §4.2
	// step 7 asks for at the tau=0 and tau=1 boundaries; no special-casing
	// is needed ahead of the final replacement/clamp.
	invR2 := (squared + tau*tau) / squared
	c := oneMinusTau / tau

	g := c * invR2
	if math.IsInf(g, 1) || math.IsNaN(g) {
		g = maxGuidanceWeight
	}
	if g > maxGuidanceWeight {
		g = maxGuidanceWeight
	}
	if g < 0 {
		g = 0
	}
	return g
}
