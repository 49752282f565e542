package guidance

import "github.com/rtcore/rtc/queue"

// Tensor is a dense (batch, time, action) chunk, flattened row-major. The
// RTC domain's action_dim and chunk_size are runtime-configured (spec §3),
// so a plain slice indexed by shape is used rather than a fixed-arity
// vector type.
type Tensor struct {
	B, T, A int
	Data    []float64
}

// NewTensor allocates a zeroed Tensor of the given shape.
func NewTensor(b, t, a int) Tensor {
	return Tensor{B: b, T: t, A: a, Data: make([]float64, b*t*a)}
}

func (x Tensor) at(b, t, a int) int { return (b*x.T+t)*x.A + a }

// Get returns the element at (b, t, a).
func (x Tensor) Get(b, t, a int) float64 { return x.Data[x.at(b, t, a)] }

// Set assigns the element at (b, t, a).
func (x Tensor) Set(b, t, a int, v float64) { x.Data[x.at(b, t, a)] = v }

// Clone returns an independent copy of x.
func (x Tensor) Clone() Tensor {
	out := NewTensor(x.B, x.T, x.A)
	copy(out.Data, x.Data)
	return out
}

// WithBatch returns x with a leading batch dimension of 1 added if it
// doesn't already carry one (spec §9: "squeeze if 2D" accommodation
// performed only at the outer boundary). A 2D-origin Tensor is represented
// here with B already set to 1 by its constructor, so WithBatch returns x
// unchanged.
func (x Tensor) WithBatch() Tensor { return x }

// PadTo returns a copy of x right-padded with zeros to shape (b, t, a). It
// is an error to call PadTo with a target smaller than x in any dimension;
// callers (the guidance Step) always pad up, never down, per spec §4.2.
func (x Tensor) PadTo(b, t, a int) Tensor {
	if b == x.B && t == x.T && a == x.A {
		return x
	}
	out := NewTensor(b, t, a)
	for bi := 0; bi < x.B; bi++ {
		for ti := 0; ti < x.T; ti++ {
			for ai := 0; ai < x.A; ai++ {
				out.Set(bi, ti, ai, x.Get(bi, ti, ai))
			}
		}
	}
	return out
}

// Map returns a new Tensor with f applied elementwise.
func (x Tensor) Map(f func(float64) float64) Tensor {
	out := NewTensor(x.B, x.T, x.A)
	for i, v := range x.Data {
		out.Data[i] = f(v)
	}
	return out
}

// Combine returns a new Tensor combining x and y elementwise via f. x and y
// must share shape.
func (x Tensor) Combine(y Tensor, f func(a, b float64) float64) Tensor {
	out := NewTensor(x.B, x.T, x.A)
	for i := range x.Data {
		out.Data[i] = f(x.Data[i], y.Data[i])
	}
	return out
}

// Scale multiplies every element by s.
func (x Tensor) Scale(s float64) Tensor {
	return x.Map(func(v float64) float64 { return v * s })
}

// ToActions unpacks batch 0 of x into a sequence of per-timestep action
// vectors, the form the Action Queue and the networked wire protocol
// operate on (spec §3 "Chunk").
func (x Tensor) ToActions() []queue.Action {
	out := make([]queue.Action, x.T)
	for ti := 0; ti < x.T; ti++ {
		vec := make(queue.Action, x.A)
		for ai := 0; ai < x.A; ai++ {
			vec[ai] = x.Get(0, ti, ai)
		}
		out[ti] = vec
	}
	return out
}

// FromActions packs a sequence of equal-length action vectors into a
// batch-1 Tensor, the inverse of ToActions. Used to rebuild the previous
// chunk's unexecuted tail (queue.Queue.LeftoverRaw) into the (B, T', A')
// prefix guidance.Step expects.
func FromActions(actions []queue.Action) Tensor {
	if len(actions) == 0 {
		return Tensor{}
	}
	a := len(actions[0])
	x := NewTensor(1, len(actions), a)
	for ti, vec := range actions {
		for ai := 0; ai < a && ai < len(vec); ai++ {
			x.Set(0, ti, ai, vec[ai])
		}
	}
	return x
}

// BroadcastWeightT multiplies x elementwise by a length-T weight vector,
// broadcasting over batch and action dims (spec §4.2 step 2: broadcast w to
// (1, T, 1)).
func (x Tensor) BroadcastWeightT(w []float64) Tensor {
	out := NewTensor(x.B, x.T, x.A)
	for bi := 0; bi < x.B; bi++ {
		for ti := 0; ti < x.T; ti++ {
			wt := 0.0
			if ti < len(w) {
				wt = w[ti]
			}
			for ai := 0; ai < x.A; ai++ {
				out.Set(bi, ti, ai, x.Get(bi, ti, ai)*wt)
			}
		}
	}
	return out
}
