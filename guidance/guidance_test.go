package guidance

import "testing"

// identityDenoiser is a fake BaseDenoiser whose velocity field is constant
// and whose VJP is the identity map (J = I), letting tests isolate the
// weighting/padding arithmetic in Step from any particular Jacobian.
type identityDenoiser struct {
	v Tensor
}

func (d identityDenoiser) Velocity(x Tensor) Tensor { return d.v.Clone() }

func (d identityDenoiser) VJP(x Tensor, t float64, upstream Tensor) Tensor { return upstream.Clone() }

func constTensor(b, t, a int, val float64) Tensor {
	x := NewTensor(b, t, a)
	for i := range x.Data {
		x.Data[i] = val
	}
	return x
}

func tensorsEqual(a, b Tensor) bool {
	if a.B != b.B || a.T != b.T || a.A != b.A {
		return false
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			return false
		}
	}
	return true
}

// P4: with no previous tail (p.B == 0), Step returns the base denoiser's
// velocity unmodified.
func TestStepNoOpWithoutPrefix_P4(t *testing.T) {
	x := constTensor(1, 5, 2, 0.3)
	v := constTensor(1, 5, 2, 0.7)
	f := identityDenoiser{v: v}

	var noPrefix Tensor // zero value: B == 0
	got := Step(f, x, noPrefix, 0, 0, 0.5, Config{MaxGuidanceWeight: 5})

	if !tensorsEqual(got, v) {
		t.Fatalf("Step with no prefix = %+v, want base velocity %+v", got.Data, v.Data)
	}
}

// P5: if p == x - t*f(x) on positions where w == 1, the returned velocity
// equals f(x) exactly on those positions. Using the Ones schedule over the
// whole horizon makes w == 1 everywhere, so the whole output should match.
func TestStepMatchesBaseVelocityWhenPrefixIsExact_P5(t *testing.T) {
	const tt = 0.4
	x := constTensor(1, 6, 3, 1.25)
	v := constTensor(1, 6, 3, -0.6)
	f := identityDenoiser{v: v}

	// x1 = x - t*v
	x1 := x.Combine(v, func(xv, vv float64) float64 { return xv - tt*vv })

	got := Step(f, x, x1, 0, x.T, tt, Config{MaxGuidanceWeight: 10, Schedule: Ones})

	if !tensorsEqual(got, v) {
		t.Fatalf("Step = %+v, want base velocity %+v (e should be zero under w=1 everywhere)", got.Data, v.Data)
	}
}

// P6: the scalar guidance weight stays within [0, maxGuidanceWeight] for
// every tau in [0, 1], including both endpoints.
func TestGuidanceWeightStaysInBounds_P6(t *testing.T) {
	maxWeights := []float64{0.1, 1, 5, 100}
	taus := []float64{0, 0.001, 0.25, 0.5, 0.75, 0.999, 1}

	for _, max := range maxWeights {
		for _, tau := range taus {
			g := guidanceWeight(tau, max)
			if g < 0 || g > max {
				t.Errorf("guidanceWeight(tau=%v, max=%v) = %v, want in [0, %v]", tau, max, g, max)
			}
		}
	}
}

// P7: positions beyond the previous tail's own extent are unaffected by it.
// execution_horizon is clamped down to p.T (spec §4.2 Inputs), so passing a
// larger execution_horizon must not change the result.
func TestStepIgnoresExecutionHorizonBeyondPrefixExtent_P7(t *testing.T) {
	x := constTensor(1, 8, 2, 2.0)
	v := constTensor(1, 8, 2, 0.1)
	f := identityDenoiser{v: v}
	p := constTensor(1, 3, 2, 1.5) // p.T == 3, shorter than x.T == 8

	clamped := Step(f, x, p, 0, p.T, 0.6, Config{MaxGuidanceWeight: 4, Schedule: Linear})
	overshoot := Step(f, x, p, 0, 100, 0.6, Config{MaxGuidanceWeight: 4, Schedule: Linear})

	if !tensorsEqual(clamped, overshoot) {
		t.Fatalf("execution_horizon beyond p.T changed the result: clamped=%+v overshoot=%+v", clamped.Data, overshoot.Data)
	}
}

// S1: weights(2, 6, 8, LINEAR) == [1,1,0.8,0.6,0.4,0.2,0,0]
func TestWeightsScenarioS1(t *testing.T) {
	got := Weights(2, 6, 8, Linear)
	want := []float64{1, 1, 0.8, 0.6, 0.4, 0.2, 0, 0}
	for i := range want {
		if diff := got[i] - want[i]; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("Weights(2,6,8,LINEAR) = %v, want %v", got, want)
		}
	}
}

// S2: weights(3, 7, 10, ZEROS) == [1,1,1,0,0,0,0,0,0,0]
func TestWeightsScenarioS2(t *testing.T) {
	got := Weights(3, 7, 10, Zeros)
	want := []float64{1, 1, 1, 0, 0, 0, 0, 0, 0, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Weights(3,7,10,ZEROS) = %v, want %v", got, want)
		}
	}
}

func TestWeightsOnesCoversUpToEnd(t *testing.T) {
	got := Weights(0, 4, 6, Ones)
	want := []float64{1, 1, 1, 1, 0, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Weights(0,4,6,ONES) = %v, want %v", got, want)
		}
	}
}

func TestWeightsStartClampedToEnd(t *testing.T) {
	// start > end is clamped to end, so ZEROS degenerates to all-ones
	// up through end rather than overrunning past it.
	got := Weights(9, 4, 10, Zeros)
	want := Weights(4, 4, 10, Zeros)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Weights(9,4,10,ZEROS) = %v, want clamp-equivalent %v", got, want)
		}
	}
}
