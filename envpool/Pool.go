// Package envpool implements synchronous vectorized environment
// stepping: N independent environment instances advanced in lock-step,
// one batched step at a time. Environments that finish an episode are
// reset automatically so the batch never stalls.
package envpool

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/symloco/symloco/environment"
	"github.com/symloco/symloco/symmetry"
)

// StepResult carries the outcome of one lock-step batched step. All
// slices have one row or entry per environment.
type StepResult struct {
	// Observations holds the next observation of every environment.
	// An environment that terminated reports the first observation of
	// its fresh episode.
	Observations []float64

	Rewards []float64

	// Masks is 0 where the transition ended an episode, 1 elsewhere
	Masks []float64

	// BadMasks is 0 where the episode was cut off by a time limit
	// rather than reaching a true terminal state
	BadMasks []float64

	// EpisodeRewards lists the cumulative rewards of every episode
	// completed during this step
	EpisodeRewards []float64
}

// Pool advances N environments in lock-step. Each Step fans the batch
// of actions out to one goroutine per environment and blocks until
// every environment has returned; no environment runs ahead of the
// others.
type Pool struct {
	envs     []environment.Environment
	numProcs int
	obsDim   int
	actDim   int

	// Running cumulative reward of each environment's open episode
	episodeReturns []float64
}

// New builds a Pool of numProcs environments, each constructed by
// make with a distinct seed derived from seed.
func New(maker environment.Maker, numProcs int, seed uint64) (*Pool, error) {
	if numProcs < 1 {
		return nil, fmt.Errorf("new: need at least one environment "+
			"\n\thave(%v)", numProcs)
	}

	envs := make([]environment.Environment, numProcs)
	for i := range envs {
		env, err := maker(seed + uint64(i))
		if err != nil {
			return nil, fmt.Errorf("new: could not create environment %v: %v",
				i, err)
		}
		envs[i] = env
	}

	obsDim := envs[0].ObservationSpec().Shape.Len()
	actDim := envs[0].ActionSpec().Shape.Len()
	for i, env := range envs {
		if env.ObservationSpec().Shape.Len() != obsDim ||
			env.ActionSpec().Shape.Len() != actDim {
			return nil, fmt.Errorf("new: environment %v disagrees on "+
				"observation or action dimensions", i)
		}
	}

	return &Pool{
		envs:           envs,
		numProcs:       numProcs,
		obsDim:         obsDim,
		actDim:         actDim,
		episodeReturns: make([]float64, numProcs),
	}, nil
}

// NumProcs returns the number of parallel environments.
func (p *Pool) NumProcs() int { return p.numProcs }

// ObsDim returns the observation dimensionality of each environment.
func (p *Pool) ObsDim() int { return p.obsDim }

// ActDim returns the action dimensionality of each environment.
func (p *Pool) ActDim() int { return p.actDim }

// MirrorSpec returns the environments' shared reflection structure,
// or false if the environments do not declare one.
func (p *Pool) MirrorSpec() (symmetry.MirrorSpec, bool) {
	mirrored, ok := p.envs[0].(environment.Mirrored)
	if !ok {
		return symmetry.MirrorSpec{}, false
	}
	return mirrored.MirrorSpec(), true
}

// Reset starts a fresh episode in every environment and returns the
// batched first observations.
func (p *Pool) Reset() []float64 {
	obs := make([]float64, p.numProcs*p.obsDim)
	for i, env := range p.envs {
		step := env.Reset()
		copyObs(obs, i, p.obsDim, step.Observation)
		p.episodeReturns[i] = 0
	}
	return obs
}

// Step advances every environment by one timestep with its row of the
// batched actions. Environments whose episodes end are reset in the
// same call, with the episode's cumulative reward reported through
// EpisodeRewards. A failure in any environment aborts the whole step:
// a partially stepped batch cannot produce a coherent rollout
// transition.
func (p *Pool) Step(actions []float64) (*StepResult, error) {
	if len(actions) != p.numProcs*p.actDim {
		return nil, fmt.Errorf("step: invalid action batch \n\twant(%v) "+
			"\n\thave(%v)", p.numProcs*p.actDim, len(actions))
	}

	result := &StepResult{
		Observations: make([]float64, p.numProcs*p.obsDim),
		Rewards:      make([]float64, p.numProcs),
		Masks:        make([]float64, p.numProcs),
		BadMasks:     make([]float64, p.numProcs),
	}
	completed := make([]float64, p.numProcs)
	dones := make([]bool, p.numProcs)
	errs := make([]error, p.numProcs)

	var wg sync.WaitGroup
	wg.Add(p.numProcs)
	for i := range p.envs {
		go func(i int) {
			defer wg.Done()

			action := mat.NewVecDense(p.actDim,
				actions[i*p.actDim:(i+1)*p.actDim])
			step, err := p.envs[i].Step(action)
			if err != nil {
				errs[i] = fmt.Errorf("environment %v: %v", i, err)
				return
			}

			result.Rewards[i] = step.Reward
			result.Masks[i] = 1.0
			result.BadMasks[i] = 1.0
			p.episodeReturns[i] += step.Reward

			if step.Last() {
				result.Masks[i] = 0.0
				if step.Truncated {
					result.BadMasks[i] = 0.0
				}
				completed[i] = p.episodeReturns[i]
				dones[i] = true
				p.episodeReturns[i] = 0

				step = p.envs[i].Reset()
			}
			copyObs(result.Observations, i, p.obsDim, step.Observation)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("step: %v", err)
		}
	}
	for i, done := range dones {
		if done {
			result.EpisodeRewards = append(result.EpisodeRewards,
				completed[i])
		}
	}

	return result, nil
}

func copyObs(dst []float64, row, obsDim int, obs mat.Vector) {
	for j := 0; j < obsDim; j++ {
		dst[row*obsDim+j] = obs.AtVec(j)
	}
}
