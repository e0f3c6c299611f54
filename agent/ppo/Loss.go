package ppo

import (
	"github.com/symloco/symloco/utils/floatutils"
)

// ActionLoss returns the clipped surrogate objective over a batch:
// the mean of -min(r·A, clamp(r, 1-ε, 1+ε)·A).
func ActionLoss(ratios, advantages []float64, clipParam float64) float64 {
	if len(ratios) != len(advantages) {
		panic("actionloss: ratios and advantages must have equal lengths")
	}

	loss := 0.0
	for i := range ratios {
		unclipped := ratios[i] * advantages[i]
		clipped := floatutils.Clip(ratios[i], 1-clipParam, 1+clipParam) *
			advantages[i]
		loss -= floatutils.Min(unclipped, clipped)
	}
	return loss / float64(len(ratios))
}

// policyGradWeights returns the per-sample coefficient w such that the
// gradient of -mean(w ⊙ log π) with w held constant equals the
// gradient of the clipped surrogate objective. The gradient of sample
// i is r·A·∇log π when the unclipped branch attains the min, and zero
// when the clipped branch is strictly active, since the clamped ratio
// is constant with respect to the parameters there.
func policyGradWeights(ratios, advantages []float64,
	clipParam float64) []float64 {
	weights := make([]float64, len(ratios))
	for i := range ratios {
		unclipped := ratios[i] * advantages[i]
		clipped := floatutils.Clip(ratios[i], 1-clipParam, 1+clipParam) *
			advantages[i]
		if unclipped <= clipped {
			weights[i] = unclipped
		}
	}
	return weights
}

// ValueLossTerms returns the critic loss over a batch together with
// the per-sample gradient mask that reproduces its gradient through a
// masked squared error.
//
// Without clipping the loss is ½ mean (v - R)² and every mask entry is
// 1. With clipping, each sample contributes the worse of the unclipped
// squared error and the squared error of the value clamped to within
// clipParam of the stored value. When the clamped branch is strictly
// active the clamp saturates, the sample's gradient vanishes, and its
// mask entry is 0.
func ValueLossTerms(values, oldValues, returns []float64, clipParam float64,
	useClipped bool) (float64, []float64) {
	if len(values) != len(oldValues) || len(values) != len(returns) {
		panic("valuelossterms: batches must have equal lengths")
	}

	mask := make([]float64, len(values))
	loss := 0.0
	for i := range values {
		unclipped := (values[i] - returns[i]) * (values[i] - returns[i])
		if !useClipped {
			loss += 0.5 * unclipped
			mask[i] = 1.0
			continue
		}

		vClipped := oldValues[i] + floatutils.Clip(values[i]-oldValues[i],
			-clipParam, clipParam)
		clipped := (vClipped - returns[i]) * (vClipped - returns[i])
		if unclipped >= clipped {
			loss += 0.5 * unclipped
			mask[i] = 1.0
		} else {
			// The clamp saturated, so this sample's value gradient is
			// zero
			loss += 0.5 * clipped
		}
	}
	return loss / float64(len(values)), mask
}
