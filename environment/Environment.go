// Package environment outlines the interfaces and structs needed to
// implement concrete environments
package environment

import (
	"gonum.org/v1/gonum/mat"

	"github.com/symloco/symloco/symmetry"
	"github.com/symloco/symloco/timestep"
)

// Starter implements a distribution of starting states and samples
// starting states for environments
type Starter interface {
	Start() *mat.VecDense
}

// Task implements the reward scheme for taking actions in some
// environment and decides when an episode reaches a terminal state.
// Tasks also determine the starting state distribution of episodes.
type Task interface {
	Starter
	GetReward(state mat.Vector, action mat.Vector, nextState mat.Vector) float64
	AtGoal(state mat.Vector) bool
}

// Environment implements a simulated environment. Reset starts a new
// episode and returns its first timestep. Step advances one timestep;
// simulator failures are returned as errors and are fatal to a
// training run, never masked.
type Environment interface {
	Reset() timestep.TimeStep
	Step(action mat.Vector) (timestep.TimeStep, error)
	ObservationSpec() Spec
	ActionSpec() Spec
}

// Mirrored is implemented by environments whose dynamics are
// left-right symmetric. The trainer requires it for any mirror-aware
// training method.
type Mirrored interface {
	Environment
	MirrorSpec() symmetry.MirrorSpec
}

// Maker constructs a fresh, independently seeded environment
// instance. A vectorized pool calls it once per parallel process.
type Maker func(seed uint64) (Environment, error)
