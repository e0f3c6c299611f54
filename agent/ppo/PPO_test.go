package ppo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"github.com/symloco/symloco/agent/policy"
	"github.com/symloco/symloco/storage"
	"github.com/symloco/symloco/symmetry"
)

const (
	testObsDim   = 4
	testActDim   = 2
	testNumSteps = 4
	testNumProcs = 2
)

func testPolicyConfig() policy.Config {
	c := policy.DefaultConfig()
	c.ActorHiddenSizes = []int{8}
	c.ActorBiases = []bool{true}
	c.ActorActivations = c.ActorActivations[:1]
	c.CriticHiddenSizes = []int{8}
	c.CriticBiases = []bool{true}
	c.CriticActivations = c.CriticActivations[:1]
	return c
}

// fillSegment drives the model over random observations until the
// rollout segment is full and computes the returns.
func fillSegment(t *testing.T, p *policy.GaussianActorCritic,
	r *storage.Rollouts) {
	t.Helper()

	rng := rand.New(rand.NewSource(11))
	randObs := func() []float64 {
		obs := make([]float64, testNumProcs*testObsDim)
		for i := range obs {
			obs[i] = rng.Float64()*2 - 1
		}
		return obs
	}

	obs := randObs()
	require.NoError(t, r.SetFirst(obs, nil))

	masks := []float64{1, 1}
	for step := 0; step < testNumSteps; step++ {
		values, actions, logProbs, _, err := p.Act(obs, nil, masks)
		require.NoError(t, err)

		rewards := []float64{rng.Float64(), rng.Float64()}
		obs = randObs()
		require.NoError(t, r.Insert(obs, nil, actions, logProbs, values,
			rewards, masks, masks))
	}

	bootstrap, err := p.Value(obs, nil, masks)
	require.NoError(t, err)
	require.NoError(t, r.ComputeReturns(bootstrap, true, 0.99, 0.95))
}

// A full update over a segment of on-policy data must run every
// epoch and minibatch without corrupting the losses.
func TestUpdateFiniteLosses(t *testing.T) {
	c := DefaultConfig()
	c.PPOEpoch = 2
	c.NumMiniBatch = 1
	c.EntropyCoef = 0.01

	batch := testNumSteps * testNumProcs / c.NumMiniBatch
	p, err := policy.NewGaussianActorCritic(testPolicyConfig(),
		symmetry.None, symmetry.MirrorSpec{}, testObsDim, testActDim,
		testNumProcs, batch, 42)
	require.NoError(t, err)

	o, err := New(p, c, testNumSteps, testNumProcs, 7)
	require.NoError(t, err)

	r, err := storage.New(testNumSteps, testNumProcs, testObsDim,
		testActDim, 0)
	require.NoError(t, err)
	fillSegment(t, p, r)

	stats, err := o.Update(r)
	require.NoError(t, err)

	for name, v := range map[string]float64{
		"value loss":  stats.ValueLoss,
		"action loss": stats.ActionLoss,
		"entropy":     stats.Entropy,
	} {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0),
			"%v is not finite: %v", name, v)
	}
}

// The reported value loss is the raw critic loss; ValueLossCoef
// scales the gradient only, never the logged stat.
func TestValueLossStatUnscaled(t *testing.T) {
	run := func(coef float64) float64 {
		c := DefaultConfig()
		c.PPOEpoch = 1
		c.NumMiniBatch = 1
		c.ValueLossCoef = coef

		batch := testNumSteps * testNumProcs
		p, err := policy.NewGaussianActorCritic(testPolicyConfig(),
			symmetry.None, symmetry.MirrorSpec{}, testObsDim, testActDim,
			testNumProcs, batch, 42)
		require.NoError(t, err)

		o, err := New(p, c, testNumSteps, testNumProcs, 7)
		require.NoError(t, err)

		r, err := storage.New(testNumSteps, testNumProcs, testObsDim,
			testActDim, 0)
		require.NoError(t, err)
		fillSegment(t, p, r)

		stats, err := o.Update(r)
		require.NoError(t, err)
		return stats.ValueLoss
	}

	// A single epoch and minibatch evaluates the critic exactly once,
	// before any solver step, so the stat cannot depend on the
	// coefficient
	assert.InDelta(t, run(1.0), run(0.5), 1e-12)
}

// An update on a partially filled segment must be refused.
func TestUpdateRequiresFullSegment(t *testing.T) {
	c := DefaultConfig()
	c.NumMiniBatch = 1

	batch := testNumSteps * testNumProcs / c.NumMiniBatch
	p, err := policy.NewGaussianActorCritic(testPolicyConfig(),
		symmetry.None, symmetry.MirrorSpec{}, testObsDim, testActDim,
		testNumProcs, batch, 42)
	require.NoError(t, err)

	o, err := New(p, c, testNumSteps, testNumProcs, 7)
	require.NoError(t, err)

	r, err := storage.New(testNumSteps, testNumProcs, testObsDim,
		testActDim, 0)
	require.NoError(t, err)

	_, err = o.Update(r)
	assert.Error(t, err)
}

func TestSetLR(t *testing.T) {
	c := DefaultConfig()
	c.NumMiniBatch = 1

	batch := testNumSteps * testNumProcs / c.NumMiniBatch
	p, err := policy.NewGaussianActorCritic(testPolicyConfig(),
		symmetry.None, symmetry.MirrorSpec{}, testObsDim, testActDim,
		testNumProcs, batch, 42)
	require.NoError(t, err)

	o, err := New(p, c, testNumSteps, testNumProcs, 7)
	require.NoError(t, err)

	assert.InDelta(t, c.LR, o.LR(), 1e-12)
	o.SetLR(1e-4)
	assert.InDelta(t, 1e-4, o.LR(), 1e-12)
}
