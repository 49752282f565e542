// Package policy defines the capability interfaces the RTC core consumes
// from a learned action-chunking policy. The policy itself, its weights,
// and its training are external collaborators (spec §1); this package only
// characterizes the interface the inference loop drives.
package policy

import (
	"context"

	"github.com/rtcore/rtc/guidance"
	"github.com/rtcore/rtc/queue"
	"github.com/rtcore/rtc/robot"
)

// Device selects the compute device a Policy runs on.
type Device string

const (
	CPU  Device = "cpu"
	CUDA Device = "cuda"
	MPS  Device = "mps"
)

// Policy is the capability surface the core requires of a loaded
// action-chunking policy (spec §6). A policy that is not an iterative
// denoiser (a single-shot action regressor) may implement this by wrapping
// itself as a degenerate one-step denoiser and always passing a nil prefix,
// which makes the internal RTC processor a no-op (spec §9, property P4).
type Policy interface {
	// To moves the policy to device. Calling it after Eval or after any
	// PredictActionChunk call is undefined; ports mirror the reference's
	// "configure once before the control loop starts" convention.
	To(device Device) error
	// Eval puts the policy into inference mode (disabling dropout/batchnorm
	// training behavior, in ports that carry such a distinction).
	Eval()

	// PredictActionChunk runs one full policy inference: observation
	// preprocessing (normalization statistics bundled with the policy),
	// the internal denoise loop guided per §4.2 using prevChunkLeftOver as
	// the previous chunk's unexecuted tail, and returns the resulting chunk
	// in the policy's raw (normalized) space — the form retained as the
	// next call's prevChunkLeftOver (spec §3 "raw chunk"). task and
	// robotType are attached to the model input alongside obs (spec §4.6
	// step 4).
	PredictActionChunk(ctx context.Context, obs robot.Observation, task, robotType string, inferenceDelay int, prevChunkLeftOver []queue.Action) (guidance.Tensor, error)

	// PostProcessAction converts a raw (normalized) chunk into robot
	// command units, using the denormalization statistics bundled with the
	// policy (spec §4.6 step 8).
	PostProcessAction(raw guidance.Tensor) guidance.Tensor
}

// Loader constructs a Policy from a pretrained identifier or path (spec §6
// "from_pretrained(path)"). Weight loading itself is named as an external
// collaborator out of this core's scope (spec §1); Loader only fixes the
// call shape the CLI surface drives.
type Loader func(path string, device Device) (Policy, error)
