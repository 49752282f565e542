// Package rtc is the root of the Real-Time Chunking action-execution core:
// it wires the Action Queue, Latency Tracker, RTC Guidance Step, Actuator
// Loop and Inference Loop into a runnable control session (spec §2, §5).
package rtc

import (
	"errors"
	"fmt"
)

// Sentinel error kinds, checked with errors.Is (spec §7).
var (
	// ErrConfigInvalid marks a missing policy path, missing robot config, or
	// an unsupported policy type. Surfaced at startup; always fatal.
	ErrConfigInvalid = errors.New("rtc: invalid configuration")
	// ErrRobotIO marks a hardware disconnect or send failure. Fatal to the
	// actuator loop; triggers session shutdown.
	ErrRobotIO = errors.New("rtc: robot I/O failure")
	// ErrInferenceFailure marks an error raised by the policy. Fatal to the
	// inference loop; the actuator continues draining the queue and gaps
	// once it runs dry.
	ErrInferenceFailure = errors.New("rtc: inference failure")
	// ErrNetworkFailure marks an RPC error in the networked variant. Logged,
	// not fatal: the control loop keeps executing queued actions and
	// observation sends retry on the next tick.
	ErrNetworkFailure = errors.New("rtc: network failure")
)

// WrapRobotIO wraps err as an ErrRobotIO failure, preserving err for
// errors.Is/As unwrapping alongside the sentinel.
func WrapRobotIO(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrRobotIO, err)
}

// WrapInferenceFailure wraps err as an ErrInferenceFailure failure.
func WrapInferenceFailure(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInferenceFailure, err)
}

// WrapNetworkFailure wraps err as an ErrNetworkFailure failure.
func WrapNetworkFailure(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrNetworkFailure, err)
}

// WrapConfigInvalid wraps err, or builds a new error from msg if err is nil,
// as an ErrConfigInvalid failure.
func WrapConfigInvalid(msg string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrConfigInvalid, msg)
	}
	return fmt.Errorf("%w: %s: %w", ErrConfigInvalid, msg, err)
}
