// Package storage implements the fixed-horizon trajectory storage
// filled by vectorized environment interaction and consumed by the
// policy optimizer. It computes bootstrapped return and generalized
// advantage estimates over the stored segment.
package storage

import (
	"fmt"
)

// Rollouts holds one fixed-length trajectory segment across N
// parallel environments. All sequences are flat row-major float64
// slices: index [t*N + i] addresses timestep t of environment i, and
// vector-valued quantities additionally stride by their dimension.
//
// Observations, recurrent states, masks and bad masks span T+1 slots;
// slot 0 is the carry-over frame from the previous segment and slots
// 1..T are filled by Insert. Actions, log-probs, values and rewards
// span T slots. Returns are computed, never inserted.
//
// Masks are 1 except on episode-terminal transitions, where they are
// 0: the value bootstrap must not cross a terminal. Bad masks are 0
// only on transitions truncated by an external time limit. The two
// arrays are deliberately kept separate; conflating them into one
// "done" flag is a classic source of bootstrapping bugs. The return
// recursions here gate on masks only, matching the reference
// behaviour; bad masks are stored and surfaced to consumers
// unchanged.
//
// A Rollouts value is single-writer: the driver fills it during one
// collection phase, the optimizer reads it, AfterUpdate recycles it.
// No locking is needed or provided.
type Rollouts struct {
	numSteps  int // T, segment length
	numProcs  int // N, parallel environments
	obsDim    int
	actDim    int
	stateSize int

	step int // next Insert slot, in [0, T]

	observations []float64 // (T+1) * N * obsDim
	states       []float64 // (T+1) * N * stateSize
	masks        []float64 // (T+1) * N
	badMasks     []float64 // (T+1) * N
	actions      []float64 // T * N * actDim
	logProbs     []float64 // T * N
	values       []float64 // T * N
	rewards      []float64 // T * N
	returns      []float64 // (T+1) * N
}

// New creates an empty Rollouts for segments of numSteps timesteps
// over numProcs parallel environments. A stateSize of 0 is valid and
// denotes a stateless policy.
func New(numSteps, numProcs, obsDim, actDim, stateSize int) (*Rollouts, error) {
	if numSteps < 1 {
		return nil, fmt.Errorf("new: segment length must be positive "+
			"\n\thave(%v)", numSteps)
	}
	if numProcs < 1 {
		return nil, fmt.Errorf("new: need at least one parallel "+
			"environment \n\thave(%v)", numProcs)
	}
	if obsDim < 1 || actDim < 1 {
		return nil, fmt.Errorf("new: illegal observation/action "+
			"dimensions (%v, %v)", obsDim, actDim)
	}
	if stateSize < 0 {
		return nil, fmt.Errorf("new: negative recurrent state size %v",
			stateSize)
	}

	r := &Rollouts{
		numSteps:  numSteps,
		numProcs:  numProcs,
		obsDim:    obsDim,
		actDim:    actDim,
		stateSize: stateSize,

		observations: make([]float64, (numSteps+1)*numProcs*obsDim),
		states:       make([]float64, (numSteps+1)*numProcs*stateSize),
		masks:        make([]float64, (numSteps+1)*numProcs),
		badMasks:     make([]float64, (numSteps+1)*numProcs),
		actions:      make([]float64, numSteps*numProcs*actDim),
		logProbs:     make([]float64, numSteps*numProcs),
		values:       make([]float64, numSteps*numProcs),
		rewards:      make([]float64, numSteps*numProcs),
		returns:      make([]float64, (numSteps+1)*numProcs),
	}

	// The segment begins mid-run: slot 0 carries live episodes
	for i := 0; i < numProcs; i++ {
		r.masks[i] = 1.0
		r.badMasks[i] = 1.0
	}
	return r, nil
}

// NumSteps returns T, the segment length
func (r *Rollouts) NumSteps() int { return r.numSteps }

// NumProcs returns N, the number of parallel environments
func (r *Rollouts) NumProcs() int { return r.numProcs }

// ObsDim returns the observation dimensionality
func (r *Rollouts) ObsDim() int { return r.obsDim }

// ActDim returns the action dimensionality
func (r *Rollouts) ActDim() int { return r.actDim }

// StateSize returns the recurrent state width, possibly 0
func (r *Rollouts) StateSize() int { return r.stateSize }

// SetFirst seeds slot 0 with the batch of observations and recurrent
// states the segment starts from.
func (r *Rollouts) SetFirst(obs, states []float64) error {
	if len(obs) != r.numProcs*r.obsDim {
		return fmt.Errorf("setfirst: illegal observation batch length "+
			"\n\twant(%v)\n\thave(%v)", r.numProcs*r.obsDim, len(obs))
	}
	if len(states) != r.numProcs*r.stateSize {
		return fmt.Errorf("setfirst: illegal state batch length "+
			"\n\twant(%v)\n\thave(%v)", r.numProcs*r.stateSize, len(states))
	}
	copy(r.observations[:len(obs)], obs)
	copy(r.states[:len(states)], states)
	return nil
}

// Insert appends one timestep across all N environments: the
// observation, recurrent state, mask and bad mask land in slot
// step+1, while the action, log-prob, value estimate and reward land
// in slot step. Insert fails once the segment is full.
func (r *Rollouts) Insert(obs, states, actions, logProbs, values, rewards,
	masks, badMasks []float64) error {
	if r.step >= r.numSteps {
		return fmt.Errorf("insert: segment full after %v timesteps",
			r.numSteps)
	}

	n := r.numProcs
	for _, check := range []struct {
		name string
		have int
		want int
	}{
		{"observations", len(obs), n * r.obsDim},
		{"states", len(states), n * r.stateSize},
		{"actions", len(actions), n * r.actDim},
		{"logProbs", len(logProbs), n},
		{"values", len(values), n},
		{"rewards", len(rewards), n},
		{"masks", len(masks), n},
		{"badMasks", len(badMasks), n},
	} {
		if check.have != check.want {
			return fmt.Errorf("insert: illegal %v length \n\twant(%v)"+
				"\n\thave(%v)", check.name, check.want, check.have)
		}
	}

	t := r.step
	copy(r.observations[(t+1)*n*r.obsDim:(t+2)*n*r.obsDim], obs)
	copy(r.states[(t+1)*n*r.stateSize:(t+2)*n*r.stateSize], states)
	copy(r.masks[(t+1)*n:(t+2)*n], masks)
	copy(r.badMasks[(t+1)*n:(t+2)*n], badMasks)
	copy(r.actions[t*n*r.actDim:(t+1)*n*r.actDim], actions)
	copy(r.logProbs[t*n:(t+1)*n], logProbs)
	copy(r.values[t*n:(t+1)*n], values)
	copy(r.rewards[t*n:(t+1)*n], rewards)

	r.step++
	return nil
}

// Full returns whether the segment holds all T timesteps
func (r *Rollouts) Full() bool { return r.step == r.numSteps }

// ComputeReturns fills the return targets for the stored segment,
// bootstrapping from the value estimates of the final frame.
//
// With useGAE, the generalized advantage recursion runs backwards
// over the segment and returns[t] = gae[t] + values[t]. Without it,
// plain n-step discounted returns are computed. In both recursions
// masks[t+1] zeroes the bootstrap term across an episode boundary so
// no value information leaks over a terminal. Bad masks are not
// consulted.
func (r *Rollouts) ComputeReturns(bootstrap []float64, useGAE bool,
	gamma, lambda float64) error {
	n := r.numProcs
	if len(bootstrap) != n {
		return fmt.Errorf("computereturns: illegal bootstrap length "+
			"\n\twant(%v)\n\thave(%v)", n, len(bootstrap))
	}
	if !r.Full() {
		return fmt.Errorf("computereturns: segment only %v/%v full",
			r.step, r.numSteps)
	}

	T := r.numSteps
	copy(r.returns[T*n:(T+1)*n], bootstrap)

	if useGAE {
		for i := 0; i < n; i++ {
			gae := 0.0
			for t := T - 1; t >= 0; t-- {
				nextValue := bootstrap[i]
				if t < T-1 {
					nextValue = r.values[(t+1)*n+i]
				}
				m := r.masks[(t+1)*n+i]
				delta := r.rewards[t*n+i] + gamma*nextValue*m -
					r.values[t*n+i]
				gae = delta + gamma*lambda*m*gae
				r.returns[t*n+i] = gae + r.values[t*n+i]
			}
		}
		return nil
	}

	for i := 0; i < n; i++ {
		for t := T - 1; t >= 0; t-- {
			r.returns[t*n+i] = r.returns[(t+1)*n+i]*gamma*
				r.masks[(t+1)*n+i] + r.rewards[t*n+i]
		}
	}
	return nil
}

// AfterUpdate carries slot T of the observations, recurrent states,
// masks and bad masks into slot 0 and recycles the rest of the
// segment for the next collection phase.
func (r *Rollouts) AfterUpdate() {
	n := r.numProcs
	T := r.numSteps
	copy(r.observations[:n*r.obsDim],
		r.observations[T*n*r.obsDim:(T+1)*n*r.obsDim])
	copy(r.states[:n*r.stateSize],
		r.states[T*n*r.stateSize:(T+1)*n*r.stateSize])
	copy(r.masks[:n], r.masks[T*n:(T+1)*n])
	copy(r.badMasks[:n], r.badMasks[T*n:(T+1)*n])
	r.step = 0
}

// Observations returns the observation batch at slot t as a flat
// row-major slice of N rows. The slice aliases the buffer.
func (r *Rollouts) Observations(t int) []float64 {
	n := r.numProcs
	return r.observations[t*n*r.obsDim : (t+1)*n*r.obsDim]
}

// States returns the recurrent state batch at slot t
func (r *Rollouts) States(t int) []float64 {
	n := r.numProcs
	return r.states[t*n*r.stateSize : (t+1)*n*r.stateSize]
}

// Masks returns the mask batch at slot t
func (r *Rollouts) Masks(t int) []float64 {
	n := r.numProcs
	return r.masks[t*n : (t+1)*n]
}

// BadMasks returns the bad-mask batch at slot t
func (r *Rollouts) BadMasks(t int) []float64 {
	n := r.numProcs
	return r.badMasks[t*n : (t+1)*n]
}

// Values returns all T*N stored value estimates
func (r *Rollouts) Values() []float64 { return r.values }

// Returns returns the first T*N computed return targets, aligned
// with Values
func (r *Rollouts) Returns() []float64 {
	return r.returns[:r.numSteps*r.numProcs]
}
