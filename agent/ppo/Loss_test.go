package ppo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// When every ratio lies within the clipping radius the surrogate must
// equal the plain importance-weighted objective.
func TestActionLossUnclippedRegion(t *testing.T) {
	clip := 0.2
	ratios := []float64{1.0, 1.1, 0.85, 1.19, 0.81}
	advantages := []float64{0.5, -1.0, 2.0, -0.25, 1.5}

	want := 0.0
	for i := range ratios {
		want -= ratios[i] * advantages[i]
	}
	want /= float64(len(ratios))

	assert.InDelta(t, want, ActionLoss(ratios, advantages, clip), 1e-12)
}

// A ratio beyond the boundary on the side that reduces the objective
// must contribute the clipped branch instead.
func TestActionLossClippedRegion(t *testing.T) {
	clip := 0.2

	// Positive advantage with an inflated ratio: min picks the
	// clipped branch (1+ε)·A
	loss := ActionLoss([]float64{2.0}, []float64{1.0}, clip)
	assert.InDelta(t, -(1+clip)*1.0, loss, 1e-12)

	// Negative advantage with a collapsed ratio: min picks the
	// clipped branch (1-ε)·A
	loss = ActionLoss([]float64{0.1}, []float64{-1.0}, clip)
	assert.InDelta(t, -(1-clip)*(-1.0), loss, 1e-12)
}

func TestPolicyGradWeights(t *testing.T) {
	clip := 0.2
	ratios := []float64{1.0, 2.0, 0.1, 1.1}
	advantages := []float64{1.0, 1.0, -1.0, -2.0}

	weights := policyGradWeights(ratios, advantages, clip)
	require.Len(t, weights, len(ratios))

	// Inside the clip radius the gradient coefficient is r·A
	assert.InDelta(t, 1.0, weights[0], 1e-12)
	assert.InDelta(t, 1.1*(-2.0), weights[3], 1e-12)

	// Strictly clipped samples contribute no gradient
	assert.Zero(t, weights[1])
	assert.Zero(t, weights[2])
}

func TestValueLossTermsUnclipped(t *testing.T) {
	values := []float64{1.0, 2.0}
	oldValues := []float64{0.0, 0.0}
	returns := []float64{0.0, 1.0}

	loss, mask := ValueLossTerms(values, oldValues, returns, 0.2, false)
	assert.InDelta(t, 0.5*(1.0+1.0)/2, loss, 1e-12)
	assert.Equal(t, []float64{1.0, 1.0}, mask)
}

func TestValueLossTermsClipped(t *testing.T) {
	clip := 0.2

	// Sample 0: the value moved far past the clip radius toward the
	// return, so the clamped branch is worse and its gradient is zero.
	// Sample 1: the value stayed inside the radius, both branches
	// agree and the gradient flows.
	values := []float64{1.0, 0.1}
	oldValues := []float64{0.0, 0.0}
	returns := []float64{1.0, 1.0}

	loss, mask := ValueLossTerms(values, oldValues, returns, clip, true)

	wantClamped := (0.2 - 1.0) * (0.2 - 1.0)
	wantPlain := (0.1 - 1.0) * (0.1 - 1.0)
	assert.InDelta(t, 0.5*(wantClamped+wantPlain)/2, loss, 1e-12)
	assert.Equal(t, []float64{0.0, 1.0}, mask)
}

func TestConfigValidate(t *testing.T) {
	c := DefaultConfig()
	assert.NoError(t, c.Validate(32, 4))

	// 32*4 samples cannot be split into 5 equal minibatches
	c.NumMiniBatch = 5
	assert.Error(t, c.Validate(32, 4))

	c = DefaultConfig()
	c.ClipParam = 0
	assert.Error(t, c.Validate(32, 4))

	c = DefaultConfig()
	c.LR = -1
	assert.Error(t, c.Validate(32, 4))
}

func TestAllFinite(t *testing.T) {
	assert.True(t, allFinite([]float64{0, 1, -2}))
	assert.False(t, allFinite([]float64{0, math.NaN()}))
	assert.False(t, allFinite([]float64{math.Inf(1)}))
}
