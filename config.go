package rtc

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	toml "github.com/pelletier/go-toml"

	"github.com/rtcore/rtc/guidance"
	"github.com/rtcore/rtc/policy"
)

// PolicyConfig configures which policy to load and where to run it (spec §6
// `--policy.*`).
type PolicyConfig struct {
	// Type names the policy.Loader registered to build this policy (spec §7
	// ConfigInvalid: "unsupported policy type; only specific chunking
	// policies supported"). Only chunking policies with a denoise-iteration
	// structure qualify (spec §9).
	Type string
	// Path is the pretrained policy identifier or filesystem path, passed to
	// a policy.Loader.
	Path string
	// Device selects cpu, cuda or mps. Defaults to policy.CPU.
	Device policy.Device
}

// RobotConfig configures which robot driver to connect and how (spec §6
// `--robot.*`).
type RobotConfig struct {
	// Type names the robot driver to construct.
	Type string
	// Port identifies the robot's physical connection (serial port,
	// network address, bus id — driver-specific).
	Port string
	// ID disambiguates multiple robots of the same Type.
	ID string
}

// RTCConfig configures Real-Time Chunking guidance (spec §6 `--rtc.*`). A
// zero-value RTCConfig has RTC disabled. A control session reads Enabled
// (through Normalized and Validate) and passes ExecutionHorizon to the
// inference loop's threshold warning; it does not pass ExecutionHorizon,
// MaxGuidanceWeight or Schedule to the policy, whose guidance step uses the
// settings it was loaded with.
type RTCConfig struct {
	// Enabled turns on prefix-attention guidance. When false, inference is
	// triggered only once the queue is empty and merge degenerates to a
	// plain replace (spec §4.1).
	Enabled bool
	// ExecutionHorizon bounds how many leading chunk positions prefix
	// guidance stays active over, beyond InferenceDelay. Ignored if
	// Enabled is false.
	ExecutionHorizon int
	// MaxGuidanceWeight bounds the scalar correction weight g (spec §4.2
	// step 7).
	MaxGuidanceWeight float64
	// Schedule selects the prefix-attention weighting curve (spec §4.3).
	Schedule guidance.Schedule
}

// Config holds every setting needed to run one control session (spec §6 CLI
// surface). Fields are grouped the way the CLI's dotted flags are
// (`--policy.*`, `--robot.*`, `--rtc.*`), mirroring how server.Config groups
// Minecraft server options by subsystem.
type Config struct {
	// Log is the Logger used for all session logging. If nil, Log is set to
	// slog.Default() by Session.
	Log *slog.Logger

	Policy PolicyConfig
	Robot  RobotConfig
	RTC    RTCConfig

	// Task names the instruction/task string attached to every observation
	// handed to the policy (spec §4.6 step 4).
	Task string
	// RobotType is attached alongside Task.
	RobotType string
	// Duration bounds how long the control session runs before a clean
	// shutdown; zero means run until canceled.
	Duration time.Duration
	// FPS is the actuator's fixed control rate in Hz.
	FPS float64
	// QueueThreshold is the queue size at or below which the inference loop
	// triggers a new policy call (spec §4.6; `--action_queue_size_to_get_new_actions`).
	// Forced to 0 when RTC.Enabled is false.
	QueueThreshold int
	// QueueHistory bounds the number of (tick, size) samples the Action
	// Queue retains for the debug size-history hook (SPEC_FULL.md §4). Zero
	// disables recording.
	QueueHistory int
	// LatencyWindow bounds how many recent inference-duration samples the
	// Latency Tracker retains (spec §4.4). Zero selects a small built-in
	// default.
	LatencyWindow int
}

// defaultFPS matches the reference's typical control-loop rate for
// chunking policies; CLI callers are expected to override it per robot.
const defaultFPS = 30.0

const defaultLatencyWindow = 5

// Normalized returns a copy of c with defaults filled in and the
// RTC-disabled threshold rule applied (spec §4.6: "threshold forced to 0
// when RTC is disabled").
func (c Config) Normalized() Config {
	out := c
	if out.Log == nil {
		out.Log = slog.Default()
	}
	if out.FPS <= 0 {
		out.FPS = defaultFPS
	}
	if out.Policy.Device == "" {
		out.Policy.Device = policy.CPU
	}
	if out.LatencyWindow <= 0 {
		out.LatencyWindow = defaultLatencyWindow
	}
	if !out.RTC.Enabled {
		out.QueueThreshold = 0
	}
	return out
}

// Validate reports ErrConfigInvalid if required fields are missing or
// internally inconsistent (spec §7 ConfigInvalid, §3 I4).
func (c Config) Validate() error {
	if c.Policy.Path == "" {
		return WrapConfigInvalid("policy.path is required", nil)
	}
	if c.Robot.Type == "" {
		return WrapConfigInvalid("robot.type is required", nil)
	}
	if c.Policy.Type == "" {
		return WrapConfigInvalid("policy.type is required", nil)
	}
	if c.RTC.Enabled && c.RTC.ExecutionHorizon < 1 {
		return WrapConfigInvalid("rtc.execution_horizon must be >= 1 when rtc is enabled", nil)
	}
	return nil
}

// ParseSchedule parses one of "zeros", "ones", "linear", "exp" (spec §6
// `--rtc.prefix_attention_schedule`).
func ParseSchedule(s string) (guidance.Schedule, error) {
	switch s {
	case "zeros":
		return guidance.Zeros, nil
	case "ones":
		return guidance.Ones, nil
	case "linear":
		return guidance.Linear, nil
	case "exp":
		return guidance.Exp, nil
	default:
		return 0, WrapConfigInvalid(fmt.Sprintf("unknown prefix attention schedule %q", s), nil)
	}
}

// fileConfig mirrors the subset of Config that round-trips through TOML;
// durations and enum-like fields are stored as plain strings/numbers and
// translated by LoadFile, matching Dragonfly's pattern of a lenient
// on-disk config shape feeding a stricter in-memory Config.
type fileConfig struct {
	Policy struct {
		Type   string `toml:"type"`
		Path   string `toml:"path"`
		Device string `toml:"device"`
	} `toml:"policy"`
	Robot struct {
		Type string `toml:"type"`
		Port string `toml:"port"`
		ID   string `toml:"id"`
	} `toml:"robot"`
	RTC struct {
		Enabled           bool    `toml:"enabled"`
		ExecutionHorizon  int     `toml:"execution_horizon"`
		MaxGuidanceWeight float64 `toml:"max_guidance_weight"`
		Schedule          string  `toml:"prefix_attention_schedule"`
	} `toml:"rtc"`
	Task           string  `toml:"task"`
	RobotType      string  `toml:"robot_type"`
	DurationSecs   float64 `toml:"duration"`
	FPS            float64 `toml:"fps"`
	QueueThreshold int     `toml:"action_queue_size_to_get_new_actions"`
	QueueHistory   int     `toml:"queue_history"`
	LatencyWindow  int     `toml:"latency_window"`
}

// LoadFile reads a TOML configuration file, mirroring the optional
// file-backed configuration Dragonfly's Config supports alongside its CLI
// flags.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, WrapConfigInvalid("reading config file", err)
	}
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return Config{}, WrapConfigInvalid("parsing config file", err)
	}

	var sched guidance.Schedule
	if fc.RTC.Schedule != "" {
		sched, err = ParseSchedule(fc.RTC.Schedule)
		if err != nil {
			return Config{}, err
		}
	}

	return Config{
		Policy: PolicyConfig{
			Type:   fc.Policy.Type,
			Path:   fc.Policy.Path,
			Device: policy.Device(fc.Policy.Device),
		},
		Robot: RobotConfig{
			Type: fc.Robot.Type,
			Port: fc.Robot.Port,
			ID:   fc.Robot.ID,
		},
		RTC: RTCConfig{
			Enabled:           fc.RTC.Enabled,
			ExecutionHorizon:  fc.RTC.ExecutionHorizon,
			MaxGuidanceWeight: fc.RTC.MaxGuidanceWeight,
			Schedule:          sched,
		},
		Task:           fc.Task,
		RobotType:      fc.RobotType,
		Duration:       time.Duration(fc.DurationSecs * float64(time.Second)),
		FPS:            fc.FPS,
		QueueThreshold: fc.QueueThreshold,
		QueueHistory:   fc.QueueHistory,
		LatencyWindow:  fc.LatencyWindow,
	}, nil
}
