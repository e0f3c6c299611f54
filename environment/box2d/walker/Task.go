package walker

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"

	env "github.com/symloco/symloco/environment"
	"github.com/symloco/symloco/timestep"
	"github.com/symloco/symloco/utils/floatutils"
)

type walkerTask interface {
	env.Task
	registerEnv(*walker)
	reset()
}

// FallAngle is the hull pitch beyond which the walker counts as
// fallen
const FallAngle float64 = math.Pi / 4

// Walk implements the locomotion task for the walker. The agent is
// rewarded in proportion to the forward progress of the hull, with a
// small penalty on hull tilt and on motor torque. Falling over ends
// the episode with a large penalty; reaching the end of the track
// ends it successfully.
type Walk struct {
	env.Starter

	prevShaping *float64

	env *walker
}

// NewWalk creates and returns a new Walk task
func NewWalk(s env.Starter) *Walk {
	return &Walk{Starter: s, prevShaping: nil}
}

func (w *Walk) registerEnv(e *walker) {
	w.env = e
}

func (w *Walk) reset() {
	w.prevShaping = nil
}

// AtGoal returns whether the episode has ended, by falling or by
// reaching the end of the track. Falling is hull ground contact,
// leaving the track backward, or pitching past FallAngle.
func (w *Walk) AtGoal(state mat.Vector) bool {
	return w.fallen(state) ||
		w.env.HullX() > w.env.terrainLength-float64(TerrainStartPad)*
			TerrainStep
}

func (w *Walk) fallen(state mat.Vector) bool {
	return w.env.IsGameOver() || w.env.HullX() < 0 ||
		math.Abs(state.AtVec(0)) > FallAngle
}

// GetReward returns the reward for an action taken in some state,
// resulting in a transition to the next state nextState.
func (w *Walk) GetReward(s, a, nextState mat.Vector) float64 {
	reward := 0.0

	// Forward progress, with a penalty for tilting the hull
	shaping := 130.0*w.env.HullX()/Scale -
		5.0*math.Abs(nextState.AtVec(0))
	if w.prevShaping != nil {
		reward = shaping - *w.prevShaping
	}
	w.prevShaping = &shaping

	// Torque costs
	for i := 0; i < a.Len(); i++ {
		reward -= 0.00035 * MotorsTorque *
			floatutils.Clip(math.Abs(a.AtVec(i)), 0.0, 1.0)
	}

	if w.fallen(nextState) {
		reward = -100
	}
	return reward
}

// Min returns the minimum possible reward that can be received in the
// environment
func (w *Walk) Min() float64 {
	return -100.0
}

// Max returns the maximum possible reward that can be received in the
// environment
func (w *Walk) Max() float64 {
	return 130.0 * w.env.terrainLength / Scale
}

// Walker wraps the physics simulation with the environment interface
type Walker struct {
	*walker
}

// New returns a new Walker environment with the given task
func New(task env.Task, seed uint64) *Walker {
	w := newWalker(task, seed)
	w.Reset()
	return &Walker{w}
}

// NewWalkEnv constructs a Walker on the Walk task with a random
// initial push. It satisfies environment.Maker.
func NewWalkEnv(seed uint64) (env.Environment, error) {
	starter := env.NewUniformStarter([]r1.Interval{
		{Min: -InitialRandom, Max: InitialRandom},
	}, seed)

	return New(NewWalk(starter), seed), nil
}

// CurrentTimeStep returns the last timestep of the environment
func (w *Walker) CurrentTimeStep() timestep.TimeStep {
	return w.prevStep
}
