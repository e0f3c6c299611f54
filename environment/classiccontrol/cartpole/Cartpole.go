// Package cartpole implements the Cartpole classic control environment
// with a continuous action space
package cartpole

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"

	env "github.com/symloco/symloco/environment"
	"github.com/symloco/symloco/symmetry"
	ts "github.com/symloco/symloco/timestep"
	"github.com/symloco/symloco/utils/floatutils"
)

const (
	// Physical constants
	Gravity        float64 = 9.8
	CartMass       float64 = 1.0
	PoleMass       float64 = 0.1
	HalfPoleLength float64 = 0.5  // half of pole length
	ForceMag       float64 = 10.0 // Magnification of force applied
	Dt             float64 = 0.02 // seconds between state updates

	// Bounds (+/-) on state variables
	PositionBounds        float64 = 4.8
	SpeedBounds           float64 = math.MaxFloat64
	AngleBounds           float64 = math.Pi
	AngularVelocityBounds float64 = math.MaxFloat64

	// Continuous actions, scaled to the applied force
	MinContinuousAction float64 = -1.0
	MaxContinuousAction float64 = 1.0

	// Bounds (+/-) on the starting state features
	startBounds float64 = 0.05
)

// Cartpole implements the classic control environment Cartpole. In
// this environment, a pole is attached to a cart, which can move
// horizontally. The agent must keep the pole facing straight up for
// as long as possible.
//
// The state features are continuous and consist of the cart's x
// position and speed, as well as the pole's angle from the positive
// y-axis and the pole's angular velocity. All state features are
// bounded by the constants defined in this file.
//
// Actions are continuous in [-1, 1] and denote the direction and
// relative magnitude of the force applied to the cart.
//
// Cartpole's dynamics are symmetric under reflection about the
// vertical axis: negating every state feature and the action leaves
// the physics unchanged. The environment exposes this structure
// through its MirrorSpec.
type Cartpole struct {
	env.Task
	lastStep              ts.TimeStep
	gravity               float64
	forceMag              float64
	poleMass              float64
	halfPoleLength        float64
	cartMass              float64
	dt                    float64
	positionBounds        r1.Interval
	speedBounds           r1.Interval
	angleBounds           r1.Interval
	angularVelocityBounds r1.Interval
}

// New constructs a new Cartpole environment with the given task
func New(t env.Task) *Cartpole {
	positionBounds := r1.Interval{Min: -PositionBounds, Max: PositionBounds}
	speedBounds := r1.Interval{Min: -SpeedBounds, Max: SpeedBounds}
	angleBounds := r1.Interval{Min: -AngleBounds, Max: AngleBounds}
	angularVelocityBounds := r1.Interval{Min: -AngularVelocityBounds,
		Max: AngularVelocityBounds}

	cartpole := &Cartpole{t, ts.TimeStep{}, Gravity, ForceMag, PoleMass,
		HalfPoleLength, CartMass, Dt, positionBounds, speedBounds, angleBounds,
		angularVelocityBounds}
	cartpole.Reset()

	return cartpole
}

// NewBalance constructs a Cartpole on the Balance task with starting
// states sampled near the unstable equilibrium. It satisfies
// environment.Maker.
func NewBalance(seed uint64) (env.Environment, error) {
	bounds := make([]r1.Interval, 4)
	for i := range bounds {
		bounds[i] = r1.Interval{Min: -startBounds, Max: startBounds}
	}
	starter := env.NewUniformStarter(bounds, seed)

	return New(newBalance(starter, FailAngle, FailPosition)), nil
}

// Reset resets the environment and returns a starting state drawn from
// the environment Starter
func (c *Cartpole) Reset() ts.TimeStep {
	state := c.Start()
	startStep := ts.New(ts.First, 0, state, 0)
	c.lastStep = startStep

	return startStep
}

// ActionSpec returns the action specification of the environment
func (c *Cartpole) ActionSpec() env.Spec {
	shape := mat.NewVecDense(1, []float64{1})
	lowerBound := mat.NewVecDense(1, []float64{MinContinuousAction})
	upperBound := mat.NewVecDense(1, []float64{MaxContinuousAction})

	return env.NewSpec(shape, env.Action, lowerBound, upperBound,
		env.Continuous)
}

// ObservationSpec returns the observation specification of the
// environment
func (c *Cartpole) ObservationSpec() env.Spec {
	shape := mat.NewVecDense(4, []float64{4, 4, 4, 4})

	lower := []float64{c.positionBounds.Min, c.speedBounds.Min,
		c.angleBounds.Min, c.angularVelocityBounds.Min}
	lowerBound := mat.NewVecDense(4, lower)

	upper := []float64{c.positionBounds.Max, c.speedBounds.Max,
		c.angleBounds.Max, c.angularVelocityBounds.Max}
	upperBound := mat.NewVecDense(4, upper)

	return env.NewSpec(shape, env.Observation, lowerBound, upperBound,
		env.Continuous)
}

// MirrorSpec returns the reflection structure of the environment.
// Every state feature and the action flip sign under mirroring.
func (c *Cartpole) MirrorSpec() symmetry.MirrorSpec {
	return symmetry.MirrorSpec{
		NegObs: []int{0, 1, 2, 3},
		NegAct: []int{0},
	}
}

// Step takes one environmental step given a continuous action in
// [-1, 1] and returns the next state as a timestep.TimeStep
func (c *Cartpole) Step(a mat.Vector) (ts.TimeStep, error) {
	directionMagnitude := a.AtVec(0)
	if directionMagnitude < MinContinuousAction ||
		directionMagnitude > MaxContinuousAction {
		return ts.TimeStep{}, fmt.Errorf("step: illegal action %v "+
			"∉ [-1, 1]", directionMagnitude)
	}
	force := directionMagnitude * c.forceMag

	// Get state variables
	state := c.lastStep.Observation
	x, xDot := state.AtVec(0), state.AtVec(1)
	th, thDot := state.AtVec(2), state.AtVec(3)

	// Calculate physical variables to determine the next state
	cosTheta := math.Cos(th)
	sinTheta := math.Sin(th)

	totalMass := c.poleMass + c.cartMass
	poleMassLength := c.poleMass * c.halfPoleLength

	temp := (force + poleMassLength*thDot*thDot*sinTheta) / totalMass
	thAcc := (c.gravity*sinTheta - cosTheta*temp) / (c.halfPoleLength *
		(4.0/3.0 - c.poleMass*cosTheta*cosTheta/totalMass))
	xAcc := temp - poleMassLength*thAcc*cosTheta/totalMass

	// Update state variables using Euler kinematic integration
	x += (c.dt * xDot)
	x = floatutils.Clip(x, c.positionBounds.Min, c.positionBounds.Max)

	xDot += (c.dt * xAcc)

	th += (c.dt * thDot)
	th = normalizeAngle(th, c.angleBounds)

	thDot += (c.dt * thAcc)

	// Create the new timestep
	newState := mat.NewVecDense(4, []float64{x, xDot, th, thDot})
	reward := c.GetReward(c.lastStep.Observation, a, newState)
	nextStep := ts.New(ts.Mid, reward, newState, c.lastStep.Number+1)

	if c.AtGoal(newState) {
		nextStep.Type = ts.Last
	}

	c.lastStep = nextStep
	return nextStep, nil
}

func (c *Cartpole) String() string {
	msg := "Cartpole  |  Position: %v  | Speed: %v  |  Angle: %v" +
		"  |  Angular Velocity: %v"

	state := c.lastStep.Observation
	position, speed := state.AtVec(0), state.AtVec(1)
	angle, velocity := state.AtVec(2), state.AtVec(3)

	return fmt.Sprintf(msg, position, speed, angle, velocity)
}

// normalizeAngle normalizes the pole angle to the appropriate limits
func normalizeAngle(th float64, angleBounds r1.Interval) float64 {
	if angleBounds.Max != -angleBounds.Min {
		panic("normalizeAngle: angle bounds should be centered around 0")
	}

	if th > angleBounds.Max {
		divisor := int(th / angleBounds.Max)
		return -math.Pi + th - (angleBounds.Max * float64(divisor))
	} else if th < angleBounds.Min {
		divisor := int(th / angleBounds.Min)
		return math.Pi + th - (angleBounds.Min * float64(divisor))
	} else {
		return th
	}
}
