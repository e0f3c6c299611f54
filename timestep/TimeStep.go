// Package timestep implements timesteps of the agent-environment interaction
package timestep

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// StepType denotes the type of step that a TimeStep can be, either a first
// environmental step, a middle step, or a last step
type StepType int

const (
	First StepType = iota
	Mid
	Last
)

func (s StepType) String() string {
	switch s {
	case First:
		return "First"
	case Last:
		return "Last"
	default:
		return "Mid"
	}
}

// TimeStep packages together a single timestep in an environment.
//
// A TimeStep of type Last may end an episode in one of two distinct
// ways: the environment reached a terminal state, or an external time
// limit cut the episode off mid-trajectory. The Truncated flag
// distinguishes the two. Value bootstrapping must not cross a true
// terminal, while a truncated episode ends in an ordinary state whose
// value estimate is still meaningful.
type TimeStep struct {
	Type        StepType
	Reward      float64
	Observation mat.Vector
	Number      int
	Truncated   bool
}

// New returns a new TimeStep with the given fields
func New(t StepType, r float64, o mat.Vector, n int) TimeStep {
	return TimeStep{Type: t, Reward: r, Observation: o, Number: n}
}

// First returns whether a TimeStep is the first in an episode
func (t TimeStep) First() bool {
	return t.Type == First
}

// Mid returns whether a TimeStep is a middle step in an episode
func (t TimeStep) Mid() bool {
	return t.Type == Mid
}

// Last returns whether a TimeStep is the last step in an episode
func (t TimeStep) Last() bool {
	return t.Type == Last
}

// TerminalEnd returns whether a TimeStep ends its episode in a true
// terminal state, as opposed to a time-limit truncation.
func (t TimeStep) TerminalEnd() bool {
	return t.Type == Last && !t.Truncated
}

func (t TimeStep) String() string {
	str := "TimeStep | Type: %v  |  Reward:  %.2f  |  Truncated: %v  |  " +
		"Step Number:  %v"

	return fmt.Sprintf(str, t.Type, t.Reward, t.Truncated, t.Number)
}
