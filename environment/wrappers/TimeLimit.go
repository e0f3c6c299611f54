// Package wrappers provides environments that wrap other environments
// to change their behaviour
package wrappers

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/symloco/symloco/environment"
	"github.com/symloco/symloco/symmetry"
	"github.com/symloco/symloco/timestep"
)

// TimeLimit wraps an environment and cuts its episodes off after a
// fixed number of steps. A cut-off episode ends in a timestep of type
// Last with Truncated set, so that value bootstrapping can still
// cross the artificial boundary.
//
// TimeLimit itself implements the environment.Environment interface,
// and is therefore itself an Environment. If the wrapped environment
// is Mirrored, so is the TimeLimit.
type TimeLimit struct {
	environment.Environment
	limit int
	steps int
}

// NewTimeLimit creates and returns a new TimeLimit wrapping env, with
// episodes limited to limit steps.
func NewTimeLimit(env environment.Environment, limit int) (*TimeLimit, error) {
	if limit < 1 {
		return nil, fmt.Errorf("newTimeLimit: limit must be positive "+
			"\n\thave(%v)", limit)
	}
	return &TimeLimit{Environment: env, limit: limit}, nil
}

// Reset starts a new episode in the wrapped environment
func (t *TimeLimit) Reset() timestep.TimeStep {
	t.steps = 0
	return t.Environment.Reset()
}

// Step takes one environmental step, ending the episode by truncation
// if the step limit is reached. A step on which the wrapped
// environment itself terminates is reported as a true terminal, not a
// truncation, even when it coincides with the limit.
func (t *TimeLimit) Step(action mat.Vector) (timestep.TimeStep, error) {
	step, err := t.Environment.Step(action)
	if err != nil {
		return step, err
	}

	t.steps++
	if t.steps >= t.limit && !step.Last() {
		step.Type = timestep.Last
		step.Truncated = true
	}
	return step, nil
}

// MirrorSpec returns the wrapped environment's reflection structure.
// It panics if the wrapped environment is not Mirrored.
func (t *TimeLimit) MirrorSpec() symmetry.MirrorSpec {
	mirrored, ok := t.Environment.(environment.Mirrored)
	if !ok {
		panic("mirrorSpec: wrapped environment does not declare a " +
			"mirror specification")
	}
	return mirrored.MirrorSpec()
}
