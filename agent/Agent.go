// Package agent defines the model interfaces consumed by the training
// loop
package agent

import (
	"github.com/symloco/symloco/symmetry"
)

// ActorCritic determines the implementation details of a policy and
// value function pair.
//
// An ActorCritic selects actions for a batch of parallel environments
// and predicts the value of the states those environments are in. All
// batched arguments are flat, row major slices with one row per
// environment. The recurrent state and mask arguments exist so that
// recurrent models share the same interface as feedforward models; a
// feedforward model ignores them and reports a StateSize of 0.
type ActorCritic interface {
	// Act selects one action per environment for a batch of
	// observations, returning the predicted state values, the selected
	// actions, the log probability of each selected action, and the
	// next recurrent state.
	Act(obs, state, mask []float64) (values, actions, logProbs,
		nextState []float64, err error)

	// Value predicts the state value for a batch of observations
	Value(obs, state, mask []float64) ([]float64, error)

	// StateSize returns the number of features in the recurrent state,
	// which is 0 for feedforward models
	StateSize() int

	// Features returns the number of features in a single observation
	Features() int

	// ActionDims returns the dimensionality of a single action
	ActionDims() int
}

// Mirrorer is implemented by models that know the reflection structure
// of their observation and action spaces. Data-augmenting symmetry
// methods use the returned reflection to mirror stored trajectories.
type Mirrorer interface {
	MirrorSpec() symmetry.MirrorSpec
	SymmetryMethod() symmetry.Method
}
