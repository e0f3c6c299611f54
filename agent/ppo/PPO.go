// Package ppo implements the Proximal Policy Optimization update over
// a collected rollout segment: multi-epoch shuffled minibatches,
// importance-ratio clipping, conservative value clipping, entropy
// regularization, and the optional mirror-symmetry augmentations.
package ppo

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	G "gorgonia.org/gorgonia"

	"github.com/symloco/symloco/agent/policy"
	"github.com/symloco/symloco/solver"
	"github.com/symloco/symloco/storage"
	"github.com/symloco/symloco/symmetry"
)

// Epsilon guarding the advantage normalization against zero-variance
// batches.
const advantageEps float64 = 1e-8

// Stats reports the mean losses of one update for logging. The values
// carry no control-flow significance.
type Stats struct {
	ValueLoss  float64
	ActionLoss float64
	Entropy    float64
}

// PPO optimizes a GaussianActorCritic from filled rollout segments.
// The actor and critic each have their own Adam solver; learning-rate
// schedules apply to both.
type PPO struct {
	policy *policy.GaussianActorCritic
	config Config

	policySolver *solver.Solver
	valueSolver  *solver.Solver

	rng *rand.Rand
}

// New returns a PPO optimizer for a model whose training graphs were
// compiled for segments of numSteps timesteps over numProcs parallel
// environments. The model's training batch size must match the
// minibatch size this configuration will produce, including the
// doubling introduced by data-mirroring symmetry methods.
func New(p *policy.GaussianActorCritic, c Config, numSteps, numProcs int,
	seed uint64) (*PPO, error) {
	if err := c.Validate(numSteps, numProcs); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	batch := numSteps * numProcs / c.NumMiniBatch
	if p.SymmetryMethod().MirrorsData() {
		batch *= 2
	}
	if p.TrainBatchSize() != batch {
		return nil, fmt.Errorf("new: model training batch size %v does not "+
			"match minibatch size %v", p.TrainBatchSize(), batch)
	}

	symCoef := 0.0
	if p.SymmetryMethod() == symmetry.Loss {
		symCoef = c.SymmetryCoef
	}
	if err := p.SetLossCoefs(c.EntropyCoef, symCoef,
		c.ValueLossCoef); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	policySolver, err := solver.NewAdam(c.LR, c.Eps, 0.9, 0.999, 1)
	if err != nil {
		return nil, fmt.Errorf("new: could not create policy solver: %v", err)
	}
	valueSolver, err := solver.NewAdam(c.LR, c.Eps, 0.9, 0.999, 1)
	if err != nil {
		return nil, fmt.Errorf("new: could not create value solver: %v", err)
	}

	return &PPO{
		policy:       p,
		config:       c,
		policySolver: policySolver,
		valueSolver:  valueSolver,
		rng:          rand.New(rand.NewSource(seed)),
	}, nil
}

// SetLR pushes a scheduled learning rate into both solvers, keeping
// their accumulated moment estimates.
func (o *PPO) SetLR(lr float64) {
	o.policySolver.SetStepSize(lr)
	o.valueSolver.SetStepSize(lr)
}

// LR returns the current learning rate.
func (o *PPO) LR() float64 {
	return o.policySolver.StepSize()
}

// Update runs the full PPO optimization over one filled segment and
// returns the mean losses across all epoch×minibatch steps. Numerical
// corruption, a NaN or Inf advantage, ratio, or loss, is returned as
// an error so the caller can terminate the run instead of continuing
// from a poisoned parameter state.
func (o *PPO) Update(rollouts *storage.Rollouts) (Stats, error) {
	if !rollouts.Full() {
		return Stats{}, fmt.Errorf("update: rollout segment is not full")
	}

	// Advantage estimates, normalized once per update so that every
	// minibatch sees the same gradient scale
	returns := rollouts.Returns()
	values := rollouts.Values()
	advantages := make([]float64, len(values))
	floats.SubTo(advantages, returns, values)
	if !allFinite(advantages) {
		return Stats{}, fmt.Errorf("update: non-finite advantage estimate")
	}

	mean, std := stat.MeanStdDev(advantages, nil)
	for i := range advantages {
		advantages[i] = (advantages[i] - mean) / (std + advantageEps)
	}

	var valueLossSum, actionLossSum, entropySum float64
	updates := 0

	for epoch := 0; epoch < o.config.PPOEpoch; epoch++ {
		gen, err := rollouts.FeedForwardGenerator(advantages,
			o.config.NumMiniBatch, o.rng)
		if err != nil {
			return Stats{}, fmt.Errorf("update: %v", err)
		}

		for {
			mb, ok := gen.Next()
			if !ok {
				break
			}

			obs := mb.Observations
			actions := mb.Actions
			oldLogProbs := mb.LogProbs
			oldValues := mb.Values
			rets := mb.Returns
			advs := mb.Advantages
			if o.policy.SymmetryMethod().MirrorsData() {
				obs, actions, oldLogProbs, oldValues, rets, advs =
					o.mirrorBatch(mb)
			}

			newLogProbs, newValues, entropy, err := o.policy.Evaluate(obs,
				actions)
			if err != nil {
				return Stats{}, fmt.Errorf("update: %v", err)
			}

			ratios := make([]float64, len(newLogProbs))
			for i := range ratios {
				ratios[i] = math.Exp(newLogProbs[i] - oldLogProbs[i])
			}
			if !allFinite(ratios) {
				return Stats{}, fmt.Errorf("update: non-finite importance " +
					"ratio")
			}

			actionLoss := ActionLoss(ratios, advs, o.config.ClipParam)
			weights := policyGradWeights(ratios, advs, o.config.ClipParam)
			valueLoss, valueMask := ValueLossTerms(newValues, oldValues,
				rets, o.config.ClipParam, o.config.UseClippedValueLoss)
			if !isFinite(actionLoss) || !isFinite(valueLoss) ||
				!isFinite(entropy) {
				return Stats{}, fmt.Errorf("update: non-finite loss "+
					"\n\taction(%v) \n\tvalue(%v) \n\tentropy(%v)",
					actionLoss, valueLoss, entropy)
			}

			if err := o.step(obs, actions, weights, valueMask,
				rets); err != nil {
				return Stats{}, fmt.Errorf("update: %v", err)
			}

			// Report the raw value loss; ValueLossCoef only scales
			// the gradient, not the logged stat
			valueLossSum += valueLoss
			actionLossSum += actionLoss
			entropySum += entropy
			updates++
		}
	}

	// Action selection during the next collection phase must see the
	// updated weights
	if err := o.policy.SyncBehaviour(); err != nil {
		return Stats{}, fmt.Errorf("update: %v", err)
	}

	n := float64(updates)
	return Stats{
		ValueLoss:  valueLossSum / n,
		ActionLoss: actionLossSum / n,
		Entropy:    entropySum / n,
	}, nil
}

// step runs one backward pass and one solver step with joint gradient
// norm clipping across the actor and critic.
func (o *PPO) step(obs, actions, weights, valueMask,
	targets []float64) error {
	if err := o.policy.Backward(obs, actions, weights, valueMask,
		targets); err != nil {
		return err
	}
	defer o.policy.EndUpdate()

	if err := o.clipGradients(); err != nil {
		return err
	}

	if err := o.policySolver.Step(o.policy.PolicyModel()); err != nil {
		return fmt.Errorf("step: could not step policy solver: %v", err)
	}
	if err := o.valueSolver.Step(o.policy.ValueModel()); err != nil {
		return fmt.Errorf("step: could not step value solver: %v", err)
	}
	return nil
}

// clipGradients rescales the bound gradients of every learnable in
// both training graphs so that their joint norm does not exceed
// MaxGradNorm.
func (o *PPO) clipGradients() error {
	if o.config.MaxGradNorm <= 0 {
		return nil
	}

	grads := make([][]float64, 0, len(o.policy.TrainLearnables()))
	sumSquares := 0.0
	for _, learnable := range o.policy.TrainLearnables() {
		grad, err := learnable.Grad()
		if err != nil {
			return fmt.Errorf("clipgradients: no gradient bound to %v: %v",
				learnable.Name(), err)
		}
		data := grad.Data().([]float64)
		if !allFinite(data) {
			return fmt.Errorf("clipgradients: non-finite gradient on %v",
				learnable.Name())
		}
		sumSquares += floats.Dot(data, data)
		grads = append(grads, data)
	}

	norm := math.Sqrt(sumSquares)
	if norm <= o.config.MaxGradNorm {
		return nil
	}

	scale := o.config.MaxGradNorm / (norm + 1e-6)
	for _, data := range grads {
		floats.Scale(scale, data)
	}
	return nil
}

// mirrorBatch doubles a minibatch with the mirrored copy of each
// transition. The stored log probs, values, returns, and advantages
// apply unchanged to the mirrored rows.
func (o *PPO) mirrorBatch(mb *storage.MiniBatch) (obs, actions, logProbs,
	values, returns, advantages []float64) {
	spec := o.policy.MirrorSpec()

	obs = append(append([]float64{}, mb.Observations...),
		spec.MirrorObs(mb.Observations, o.policy.Features())...)
	actions = append(append([]float64{}, mb.Actions...),
		spec.MirrorAct(mb.Actions, o.policy.ActionDims())...)
	logProbs = doubled(mb.LogProbs)
	values = doubled(mb.Values)
	returns = doubled(mb.Returns)
	advantages = doubled(mb.Advantages)
	return obs, actions, logProbs, values, returns, advantages
}

func doubled(xs []float64) []float64 {
	return append(append([]float64{}, xs...), xs...)
}

func allFinite(xs []float64) bool {
	for _, x := range xs {
		if !isFinite(x) {
			return false
		}
	}
	return true
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// Learnables exposes the nodes the optimizer updates, for tests.
func (o *PPO) Learnables() G.Nodes {
	return o.policy.TrainLearnables()
}
