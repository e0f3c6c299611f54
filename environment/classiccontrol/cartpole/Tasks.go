package cartpole

import (
	"math"

	"gonum.org/v1/gonum/mat"

	env "github.com/symloco/symloco/environment"
)

const (
	// FailAngle is the pole angle beyond which the Balance task fails
	FailAngle float64 = 12 * 2 * math.Pi / 360

	// FailPosition is the cart displacement beyond which the Balance
	// task fails
	FailPosition float64 = 2.4
)

// balance implements the classic control Cartpole Balance task. The
// goal of the agent is to keep the pole in an upright position for as
// long as possible.
//
// The rewards are +1 for every timestep on which the pole is above
// the fail angle and the cart within the track, and -1 otherwise.
// Episodes end when either bound is broken.
type balance struct {
	env.Starter
	failAngle    float64
	failPosition float64
}

func newBalance(s env.Starter, failAngle, failPosition float64) *balance {
	return &balance{s, failAngle, failPosition}
}

// GetReward returns the reward for an action taken in some state,
// resulting in a transition to the next state nextState.
func (b *balance) GetReward(_ mat.Vector, _ mat.Vector,
	nextState mat.Vector) float64 {
	if b.failed(nextState) {
		return -1.0
	}
	return 1.0
}

// AtGoal returns whether the episode has reached a terminal state.
// Balance episodes terminate only on failure, so terminal states are
// exactly the failed ones.
func (b *balance) AtGoal(state mat.Vector) bool {
	return b.failed(state)
}

// failed returns whether the pole has fallen over or the cart has
// left the track.
//
// An angle of 0 is pointing straight up, so legal angles are those
// less than the fail angle in absolute value.
func (b *balance) failed(state mat.Vector) bool {
	return math.Abs(state.AtVec(2)) > b.failAngle ||
		math.Abs(state.AtVec(0)) > b.failPosition
}
