package walker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestWalkerReset(t *testing.T) {
	env, err := NewWalkEnv(1)
	require.NoError(t, err)

	first := env.Reset()
	assert.True(t, first.First())
	require.Equal(t, StateObservations, first.Observation.Len())

	// Both legs start in the air near the upright pose
	assert.InDelta(t, 0.0, first.Observation.AtVec(0), 0.5)
}

func TestWalkerStep(t *testing.T) {
	env, err := NewWalkEnv(1)
	require.NoError(t, err)
	env.Reset()

	step, err := env.Step(mat.NewVecDense(ActionDims, nil))
	require.NoError(t, err)
	assert.Equal(t, StateObservations, step.Observation.Len())
	assert.Equal(t, 1, step.Number)

	_, err = env.Step(mat.NewVecDense(2, nil))
	assert.Error(t, err)
}

func TestWalkerPitchTerminal(t *testing.T) {
	env, err := NewWalkEnv(1)
	require.NoError(t, err)
	env.Reset()

	w := env.(*Walker)
	action := mat.NewVecDense(ActionDims, nil)

	upright := make([]float64, StateObservations)
	assert.False(t, w.AtGoal(mat.NewVecDense(StateObservations, upright)))

	pitched := make([]float64, StateObservations)
	pitched[0] = FallAngle + 0.1
	pitchedVec := mat.NewVecDense(StateObservations, pitched)
	assert.True(t, w.AtGoal(pitchedVec))
	assert.Equal(t, -100.0, w.GetReward(pitchedVec, action, pitchedVec))
}

func TestWalkerHullContactEndsEpisode(t *testing.T) {
	env, err := NewWalkEnv(1)
	require.NoError(t, err)
	env.Reset()

	w := env.(*Walker)
	w.gameOver = true

	step, err := env.Step(mat.NewVecDense(ActionDims, nil))
	require.NoError(t, err)
	assert.True(t, step.Last())
	assert.Equal(t, -100.0, step.Reward)
}

func TestWalkerMirrorSpec(t *testing.T) {
	env, err := NewWalkEnv(1)
	require.NoError(t, err)

	w := env.(*Walker)
	spec := w.MirrorSpec()
	require.NoError(t, spec.Validate(StateObservations, ActionDims))

	// Mirroring an observation exchanges the two legs' channels
	obs := make([]float64, StateObservations)
	for i := range obs {
		obs[i] = float64(i)
	}
	mirrored := spec.MirrorObs(obs, StateObservations)
	assert.Equal(t, obs[8], mirrored[4])
	assert.Equal(t, obs[4], mirrored[8])
	assert.Equal(t, obs[13], mirrored[12])
	assert.Equal(t, obs[0], mirrored[0])

	act := []float64{1, 2, 3, 4}
	mirroredAct := spec.MirrorAct(act, ActionDims)
	assert.Equal(t, []float64{3, 4, 1, 2}, mirroredAct)
}
