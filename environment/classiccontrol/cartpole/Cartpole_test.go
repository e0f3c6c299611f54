package cartpole

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"

	"github.com/symloco/symloco/environment"
)

// Tasks carry the starting state distribution, so the Task interface
// must expose Start alongside the reward scheme.
func TestTaskStartsEpisodes(t *testing.T) {
	bounds := make([]r1.Interval, 4)
	for i := range bounds {
		bounds[i] = r1.Interval{Min: -0.05, Max: 0.05}
	}

	var task environment.Task = newBalance(
		environment.NewUniformStarter(bounds, 1), FailAngle, FailPosition)

	start := task.Start()
	require.Equal(t, 4, start.Len())
	for i := 0; i < 4; i++ {
		assert.LessOrEqual(t, math.Abs(start.AtVec(i)), 0.05)
	}
}

func TestCartpoleStep(t *testing.T) {
	env, err := NewBalance(1)
	require.NoError(t, err)

	first := env.Reset()
	assert.True(t, first.First())
	require.Equal(t, 4, first.Observation.Len())

	step, err := env.Step(mat.NewVecDense(1, []float64{0.5}))
	require.NoError(t, err)
	assert.Equal(t, 1.0, step.Reward)
	assert.Equal(t, 1, step.Number)

	// Pushing right from near rest accelerates the cart right
	assert.Greater(t, step.Observation.AtVec(1), first.Observation.AtVec(1))
}

func TestCartpoleRejectsIllegalAction(t *testing.T) {
	env, err := NewBalance(1)
	require.NoError(t, err)
	env.Reset()

	_, err = env.Step(mat.NewVecDense(1, []float64{1.5}))
	assert.Error(t, err)
}

func TestCartpoleTerminatesOnFall(t *testing.T) {
	env, err := NewBalance(1)
	require.NoError(t, err)
	env.Reset()

	// Push hard in one direction until the pole falls past the fail
	// angle
	action := mat.NewVecDense(1, []float64{1.0})
	var last bool
	for i := 0; i < 500; i++ {
		step, err := env.Step(action)
		require.NoError(t, err)
		if step.Last() {
			last = true
			assert.Equal(t, -1.0, step.Reward)
			assert.False(t, step.Truncated)
			break
		}
	}
	assert.True(t, last, "pole never fell under constant force")
}

func TestCartpoleMirrorSymmetry(t *testing.T) {
	// Stepping a mirrored state with a mirrored action must produce
	// the mirror of stepping the original
	env1, err := NewBalance(1)
	require.NoError(t, err)
	env2, err := NewBalance(1)
	require.NoError(t, err)

	c1 := env1.(*Cartpole)
	c2 := env2.(*Cartpole)

	state := []float64{0.03, -0.01, 0.02, 0.04}
	mirrored := make([]float64, 4)
	for i, v := range state {
		mirrored[i] = -v
	}
	c1.lastStep.Observation = mat.NewVecDense(4, state)
	c2.lastStep.Observation = mat.NewVecDense(4, mirrored)

	step1, err := c1.Step(mat.NewVecDense(1, []float64{0.3}))
	require.NoError(t, err)
	step2, err := c2.Step(mat.NewVecDense(1, []float64{-0.3}))
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		assert.InDelta(t, step1.Observation.AtVec(i),
			-step2.Observation.AtVec(i), 1e-12)
	}
	assert.Equal(t, step1.Reward, step2.Reward)
}

func TestBalanceFailBounds(t *testing.T) {
	b := newBalance(nil, FailAngle, FailPosition)

	upright := mat.NewVecDense(4, []float64{0, 0, 0, 0})
	assert.False(t, b.AtGoal(upright))
	assert.Equal(t, 1.0, b.GetReward(nil, nil, upright))

	fallen := mat.NewVecDense(4, []float64{0, 0, FailAngle + 0.01, 0})
	assert.True(t, b.AtGoal(fallen))
	assert.Equal(t, -1.0, b.GetReward(nil, nil, fallen))

	offTrack := mat.NewVecDense(4, []float64{FailPosition + 0.1, 0, 0, 0})
	assert.True(t, b.AtGoal(offTrack))

	angled := mat.NewVecDense(4, []float64{0, 0, math.Pi / 32, 0})
	assert.False(t, b.AtGoal(angled))
}
