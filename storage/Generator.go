package storage

import (
	"fmt"

	"golang.org/x/exp/rand"
)

// MiniBatch carries the flattened data for one randomized group of
// (timestep, environment) samples. All slices are row-major copies,
// safe to mutate.
type MiniBatch struct {
	Size int

	Observations []float64 // Size * obsDim
	States       []float64 // Size * stateSize
	Actions      []float64 // Size * actDim
	LogProbs     []float64
	Values       []float64
	Returns      []float64
	Masks        []float64
	BadMasks     []float64
	Advantages   []float64

	// Indices holds the flat t*N+i sample index each row came from
	Indices []int
}

// Generator lazily yields the minibatches of one shuffled partition
// of all T*N samples. It is one-shot: re-create it, through
// FeedForwardGenerator, for every optimization epoch to draw a fresh
// permutation.
type Generator struct {
	r          *Rollouts
	advantages []float64
	perm       []int
	batchSize  int
	pos        int
}

// FeedForwardGenerator returns a Generator partitioning the segment's
// T*N samples into numMiniBatch groups of ceil(T*N/numMiniBatch)
// samples drawn from a fresh random permutation. The advantages slice
// must hold one value per sample, aligned with Values().
func (r *Rollouts) FeedForwardGenerator(advantages []float64,
	numMiniBatch int, rng *rand.Rand) (*Generator, error) {
	total := r.numSteps * r.numProcs
	if len(advantages) != total {
		return nil, fmt.Errorf("feedforwardgenerator: illegal advantage "+
			"length \n\twant(%v)\n\thave(%v)", total, len(advantages))
	}
	if numMiniBatch < 1 || numMiniBatch > total {
		return nil, fmt.Errorf("feedforwardgenerator: illegal number of "+
			"minibatches %v for %v samples", numMiniBatch, total)
	}

	// ceil division
	batchSize := (total + numMiniBatch - 1) / numMiniBatch

	return &Generator{
		r:          r,
		advantages: advantages,
		perm:       rng.Perm(total),
		batchSize:  batchSize,
		pos:        0,
	}, nil
}

// Next returns the next minibatch, or false once the permutation is
// exhausted.
func (g *Generator) Next() (*MiniBatch, bool) {
	if g.pos >= len(g.perm) {
		return nil, false
	}

	end := g.pos + g.batchSize
	if end > len(g.perm) {
		end = len(g.perm)
	}
	indices := g.perm[g.pos:end]
	g.pos = end

	r := g.r
	n := r.numProcs
	size := len(indices)

	mb := &MiniBatch{
		Size:         size,
		Observations: make([]float64, size*r.obsDim),
		States:       make([]float64, size*r.stateSize),
		Actions:      make([]float64, size*r.actDim),
		LogProbs:     make([]float64, size),
		Values:       make([]float64, size),
		Returns:      make([]float64, size),
		Masks:        make([]float64, size),
		BadMasks:     make([]float64, size),
		Advantages:   make([]float64, size),
		Indices:      append([]int(nil), indices...),
	}

	for row, idx := range indices {
		t, i := idx/n, idx%n

		src := (t*n + i) * r.obsDim
		copy(mb.Observations[row*r.obsDim:(row+1)*r.obsDim],
			r.observations[src:src+r.obsDim])

		if r.stateSize > 0 {
			src = (t*n + i) * r.stateSize
			copy(mb.States[row*r.stateSize:(row+1)*r.stateSize],
				r.states[src:src+r.stateSize])
		}

		src = (t*n + i) * r.actDim
		copy(mb.Actions[row*r.actDim:(row+1)*r.actDim],
			r.actions[src:src+r.actDim])

		mb.LogProbs[row] = r.logProbs[idx]
		mb.Values[row] = r.values[idx]
		mb.Returns[row] = r.returns[idx]
		mb.Masks[row] = r.masks[idx]
		mb.BadMasks[row] = r.badMasks[idx]
		mb.Advantages[row] = g.advantages[idx]
	}

	return mb, true
}
