package trainer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/symloco/symloco/agent/ppo"
	"github.com/symloco/symloco/environment"
	"github.com/symloco/symloco/envpool"
	"github.com/symloco/symloco/storage"
	"github.com/symloco/symloco/symmetry"
	"github.com/symloco/symloco/timestep"
	"github.com/symloco/symloco/tracker"
)

// countingEnv rewards 1 per step and ends episodes every episodeLen
// steps
type countingEnv struct {
	steps      int
	episodeLen int
}

func (e *countingEnv) Reset() timestep.TimeStep {
	e.steps = 0
	return timestep.New(timestep.First, 0, mat.NewVecDense(2, nil), 0)
}

func (e *countingEnv) Step(action mat.Vector) (timestep.TimeStep, error) {
	e.steps++
	stepType := timestep.Mid
	if e.steps >= e.episodeLen {
		stepType = timestep.Last
	}
	obs := mat.NewVecDense(2, []float64{float64(e.steps), 0})
	return timestep.New(stepType, 1, obs, e.steps), nil
}

func (e *countingEnv) ObservationSpec() environment.Spec {
	b := mat.NewVecDense(2, nil)
	return environment.NewSpec(mat.NewVecDense(2, []float64{2, 2}),
		environment.Observation, b, b, environment.Continuous)
}

func (e *countingEnv) ActionSpec() environment.Spec {
	b := mat.NewVecDense(1, nil)
	return environment.NewSpec(mat.NewVecDense(1, []float64{1}),
		environment.Action, b, b, environment.Continuous)
}

// constantModel always selects the zero action
type constantModel struct{}

func (constantModel) Act(obs, state, mask []float64) ([]float64, []float64,
	[]float64, []float64, error) {
	n := len(mask)
	return make([]float64, n), make([]float64, n), make([]float64, n),
		nil, nil
}

func (constantModel) Value(obs, state, mask []float64) ([]float64, error) {
	return make([]float64, len(mask)), nil
}

func (constantModel) StateSize() int  { return 0 }
func (constantModel) Features() int   { return 2 }
func (constantModel) ActionDims() int { return 1 }

// recordingUpdater records what the trainer hands it
type recordingUpdater struct {
	lr      float64
	lrs     []float64
	updates int
	returns []float64
}

func (u *recordingUpdater) Update(r *storage.Rollouts) (ppo.Stats, error) {
	u.updates++
	u.returns = append([]float64(nil), r.Returns()...)
	return ppo.Stats{ValueLoss: 1, ActionLoss: 2, Entropy: 3}, nil
}

func (u *recordingUpdater) SetLR(lr float64) {
	u.lr = lr
	u.lrs = append(u.lrs, lr)
}

func (u *recordingUpdater) LR() float64 { return u.lr }

func testConfig(dir string) Config {
	c := DefaultConfig()
	c.Env = "counting"
	c.Method = symmetry.None
	c.NumProcesses = 2
	c.NumSteps = 4
	c.NumFrames = 4 * 2 * 3 // three updates
	c.SaveDir = dir
	c.SaveEvery = 0
	c.LRSchedule = Constant
	return c
}

func countingMaker(seed uint64) (environment.Environment, error) {
	return &countingEnv{episodeLen: 3}, nil
}

func TestTrainerStep(t *testing.T) {
	pool, err := envpool.New(countingMaker, 2, 1)
	require.NoError(t, err)

	c := testConfig(t.TempDir())
	updater := &recordingUpdater{}
	tr, err := New(c, pool, constantModel{}, updater, nil)
	require.NoError(t, err)

	rec, err := tr.Step()
	require.NoError(t, err)

	assert.Equal(t, 1, tr.Iteration())
	assert.Equal(t, 8, tr.TotalFrames())
	assert.Equal(t, 1, updater.updates)
	assert.Equal(t, c.PPO.LR, updater.lr)

	// Both environments complete one 3-step episode within 4 steps
	assert.Equal(t, 2, rec.Episodes)
	assert.Equal(t, 3.0, rec.Reward.Mean)
	assert.Equal(t, 1.0, rec.ValueLoss)
	assert.Equal(t, 2.0, rec.ActionLoss)
	assert.Equal(t, 3.0, rec.Entropy)

	// Returns were computed over the filled segment
	assert.NotEmpty(t, updater.returns)

	// The running checkpoint lands at {env}_{method}_latest.checkpoint
	_, err = os.Stat(filepath.Join(c.SaveDir,
		"counting_none_latest.checkpoint"))
	assert.NoError(t, err)
}

// A failed progress log writes a warning but never aborts training,
// the same policy checkpoint writes follow.
func TestTrainerStepSurvivesLogFailure(t *testing.T) {
	pool, err := envpool.New(countingMaker, 2, 1)
	require.NoError(t, err)

	dir := t.TempDir()
	logger, err := tracker.NewCSVLogger(filepath.Join(dir, "progress.csv"), 1)
	require.NoError(t, err)
	require.NoError(t, logger.Close())

	c := testConfig(dir)
	tr, err := New(c, pool, constantModel{}, &recordingUpdater{}, logger)
	require.NoError(t, err)

	rec, err := tr.Step()
	require.NoError(t, err)
	assert.Equal(t, 1, tr.Iteration())
	assert.Equal(t, 2, rec.Episodes)
}

func TestTrainerRun(t *testing.T) {
	pool, err := envpool.New(countingMaker, 2, 1)
	require.NoError(t, err)

	dir := t.TempDir()
	c := testConfig(dir)
	logPath := filepath.Join(dir, "progress.csv")
	logger, err := tracker.NewCSVLogger(logPath, 1)
	require.NoError(t, err)
	defer logger.Close()

	updater := &recordingUpdater{}
	tr, err := New(c, pool, constantModel{}, updater, logger)
	require.NoError(t, err)

	require.NoError(t, tr.Run())
	assert.Equal(t, 3, tr.Iteration())
	assert.Equal(t, 24, tr.TotalFrames())
	assert.Equal(t, 3, updater.updates)

	// The best-reward checkpoint tracked the windowed mean
	assert.Equal(t, 3.0, tr.BestReward())
}

func TestScheduledLR(t *testing.T) {
	pool, err := envpool.New(countingMaker, 2, 1)
	require.NoError(t, err)

	c := testConfig(t.TempDir())
	c.LRSchedule = Exponential
	updater := &recordingUpdater{}
	tr, err := New(c, pool, constantModel{}, updater, nil)
	require.NoError(t, err)

	_, err = tr.Step()
	require.NoError(t, err)
	_, err = tr.Step()
	require.NoError(t, err)

	require.Len(t, updater.lrs, 2)
	assert.Equal(t, c.PPO.LR, updater.lrs[0])
	assert.InDelta(t, c.PPO.LR*DecayFactor, updater.lrs[1], 1e-12)

	// The exponential schedule never decays below its floor
	tr.iteration = 1_000_000
	assert.Equal(t, MinLR, tr.scheduledLR())
}

func TestConfigValidate(t *testing.T) {
	c := DefaultConfig()
	require.NoError(t, c.Validate())

	c.NumProcesses = 0
	assert.Error(t, c.Validate())

	c = DefaultConfig()
	c.LRSchedule = "cosine"
	assert.Error(t, c.Validate())

	c = DefaultConfig()
	c.Gamma = 1.5
	assert.Error(t, c.Validate())
}
