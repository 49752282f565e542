// Package robot defines the capability interfaces the RTC core consumes
// from a robot hardware driver. The driver itself is an external
// collaborator; this package only characterizes its interface.
package robot

import (
	"context"
	"sync"
)

// Observation is a mapping from feature name to flattened tensor data, as
// returned by Robot.GetObservation. Image entries are stored under keys
// carrying the ImageFeaturePrefix and are flattened channel-first.
type Observation map[string][]float64

// IsImage reports whether name names an image observation channel.
func IsImage(name string) bool {
	return len(name) >= len(ImageFeaturePrefix) && name[:len(ImageFeaturePrefix)] == ImageFeaturePrefix
}

// ImageFeaturePrefix marks observation keys that carry image data rather
// than plain numeric channels (spec §6: "includes image entries with a
// known key prefix").
const ImageFeaturePrefix = "observation.image"

// Action is a mapping from feature name to a commanded value, in the units
// the robot driver expects (post robot action post-processing).
type Action map[string]float64

// Robot is the capability surface the core requires of a hardware driver
// (spec §6). Implementations are expected to serialize concurrent calls
// internally or rely on the caller holding a single external mutex, exactly
// as the core does for its one Robot handle (spec §5).
type Robot interface {
	// Connect establishes the underlying hardware connection.
	Connect(ctx context.Context) error
	// Disconnect releases the underlying hardware connection. It must be
	// safe to call even if Connect failed or was never called.
	Disconnect() error
	// Name identifies the robot instance for logging.
	Name() string

	// ObservationFeatures returns the ordered list of observation channel
	// names this robot produces.
	ObservationFeatures() []string
	// ActionFeatures returns the ordered list of action channel names this
	// robot accepts, matching the dimension order of every Action vector
	// the core builds.
	ActionFeatures() []string

	// GetObservation reads the robot's current sensor state.
	GetObservation(ctx context.Context) (Observation, error)
	// SendAction dispatches one action to the robot. The returned mapping,
	// if non-nil, reflects the action as actually applied (e.g. clamped to
	// joint limits); the actuator loop does not otherwise use it.
	SendAction(ctx context.Context, action Action) (Action, error)
}

// VectorToAction converts a dense action vector into a name->value mapping
// using the robot's ordered action feature names (spec §4.5 step 3).
func VectorToAction(features []string, vector []float64) Action {
	out := make(Action, len(features))
	for i, name := range features {
		if i >= len(vector) {
			break
		}
		out[name] = vector[i]
	}
	return out
}

// Synchronized wraps r so that GetObservation, SendAction and the feature
// list reads are serialized behind a single mutex, matching spec §5's
// "Robot handle: wrapped by a mutex" requirement for the one Robot instance
// shared between the actuator and inference loops.
func Synchronized(r Robot) Robot {
	return &synchronizedRobot{r: r}
}

type synchronizedRobot struct {
	mu sync.Mutex
	r  Robot
}

func (s *synchronizedRobot) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Connect(ctx)
}

func (s *synchronizedRobot) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Disconnect()
}

func (s *synchronizedRobot) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Name()
}

func (s *synchronizedRobot) ObservationFeatures() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.ObservationFeatures()
}

func (s *synchronizedRobot) ActionFeatures() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.ActionFeatures()
}

func (s *synchronizedRobot) GetObservation(ctx context.Context) (Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.GetObservation(ctx)
}

func (s *synchronizedRobot) SendAction(ctx context.Context, action Action) (Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.SendAction(ctx, action)
}

// ActionPostProcessor transforms a raw commanded vector into robot command
// units before dispatch (spec §6 "Pre/Post-processor capability").
type ActionPostProcessor func(vector []float64) []float64

// ObservationPostProcessor transforms a raw observation after it is read
// from the robot, before it is handed to the policy's own pre-processor
// (spec §6).
type ObservationPostProcessor func(Observation) Observation
