package envpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/symloco/symloco/environment"
	"github.com/symloco/symloco/timestep"
)

// scriptedEnv counts steps, rewards each step with its own id, and
// ends episodes after episodeLen steps. Episodes truncate instead of
// terminating when truncate is set.
type scriptedEnv struct {
	id         float64
	steps      int
	episodeLen int
	truncate   bool
}

func (s *scriptedEnv) Reset() timestep.TimeStep {
	s.steps = 0
	return timestep.New(timestep.First, 0,
		mat.NewVecDense(2, []float64{s.id, 0}), 0)
}

func (s *scriptedEnv) Step(action mat.Vector) (timestep.TimeStep, error) {
	s.steps++
	stepType := timestep.Mid
	if s.steps >= s.episodeLen {
		stepType = timestep.Last
	}
	ts := timestep.New(stepType, s.id,
		mat.NewVecDense(2, []float64{s.id, float64(s.steps)}), s.steps)
	ts.Truncated = ts.Last() && s.truncate
	return ts, nil
}

func (s *scriptedEnv) ObservationSpec() environment.Spec {
	bounds := mat.NewVecDense(2, []float64{0, 0})
	return environment.NewSpec(mat.NewVecDense(2, []float64{2, 2}),
		environment.Observation, bounds, bounds, environment.Continuous)
}

func (s *scriptedEnv) ActionSpec() environment.Spec {
	bounds := mat.NewVecDense(1, []float64{0})
	return environment.NewSpec(mat.NewVecDense(1, []float64{1}),
		environment.Action, bounds, bounds, environment.Continuous)
}

func scriptedMaker(episodeLen int, truncate bool) environment.Maker {
	var next float64
	return func(seed uint64) (environment.Environment, error) {
		next++
		return &scriptedEnv{
			id:         next,
			episodeLen: episodeLen,
			truncate:   truncate,
		}, nil
	}
}

func TestPoolReset(t *testing.T) {
	pool, err := New(scriptedMaker(3, false), 2, 1)
	require.NoError(t, err)

	obs := pool.Reset()
	assert.Equal(t, []float64{1, 0, 2, 0}, obs)
	assert.Equal(t, 2, pool.NumProcs())
	assert.Equal(t, 2, pool.ObsDim())
	assert.Equal(t, 1, pool.ActDim())
}

func TestPoolStep(t *testing.T) {
	pool, err := New(scriptedMaker(3, false), 2, 1)
	require.NoError(t, err)
	pool.Reset()

	result, err := pool.Step([]float64{0, 0})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 2, 1}, result.Observations)
	assert.Equal(t, []float64{1, 2}, result.Rewards)
	assert.Equal(t, []float64{1, 1}, result.Masks)
	assert.Equal(t, []float64{1, 1}, result.BadMasks)
	assert.Empty(t, result.EpisodeRewards)
}

func TestPoolAutoReset(t *testing.T) {
	pool, err := New(scriptedMaker(2, false), 2, 1)
	require.NoError(t, err)
	pool.Reset()

	_, err = pool.Step([]float64{0, 0})
	require.NoError(t, err)

	// Second step ends both episodes: masks drop to 0, observations
	// come from the fresh episodes, and both returns are reported
	result, err := pool.Step([]float64{0, 0})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0}, result.Masks)
	assert.Equal(t, []float64{1, 1}, result.BadMasks)
	assert.Equal(t, []float64{1, 0, 2, 0}, result.Observations)
	assert.ElementsMatch(t, []float64{2, 4}, result.EpisodeRewards)

	// Returns were zeroed for the new episodes
	result, err = pool.Step([]float64{0, 0})
	require.NoError(t, err)
	assert.Empty(t, result.EpisodeRewards)
	assert.Equal(t, []float64{1, 2}, result.Rewards)
}

func TestPoolTruncation(t *testing.T) {
	pool, err := New(scriptedMaker(1, true), 1, 1)
	require.NoError(t, err)
	pool.Reset()

	result, err := pool.Step([]float64{0})
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, result.Masks)
	assert.Equal(t, []float64{0}, result.BadMasks)
	assert.Equal(t, []float64{1}, result.EpisodeRewards)
}

func TestPoolActionValidation(t *testing.T) {
	pool, err := New(scriptedMaker(3, false), 2, 1)
	require.NoError(t, err)
	pool.Reset()

	_, err = pool.Step([]float64{0, 0, 0})
	assert.Error(t, err)
}
