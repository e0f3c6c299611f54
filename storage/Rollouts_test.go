package storage

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

// fill inserts T timesteps with the given per-step scalar data
// broadcast across environments. Masks/badMasks default to 1 unless
// overridden through the mask function.
func fill(t *testing.T, r *Rollouts, rewards func(step, env int) float64,
	values func(step, env int) float64, mask func(step, env int) float64) {
	t.Helper()

	n := r.NumProcs()
	obs := make([]float64, n*r.ObsDim())
	states := make([]float64, n*r.StateSize())
	actions := make([]float64, n*r.ActDim())
	logProbs := make([]float64, n)

	require.NoError(t, r.SetFirst(obs, states))
	for step := 0; step < r.NumSteps(); step++ {
		rew := make([]float64, n)
		val := make([]float64, n)
		masks := make([]float64, n)
		badMasks := make([]float64, n)
		for i := 0; i < n; i++ {
			rew[i] = rewards(step, i)
			val[i] = values(step, i)
			masks[i] = mask(step, i)
			badMasks[i] = 1.0
		}
		require.NoError(t, r.Insert(obs, states, actions, logProbs, val,
			rew, masks, badMasks))
	}
}

func TestComputeReturnsNStepReduction(t *testing.T) {
	const T, N = 6, 3
	const gamma = 0.97

	r, err := New(T, N, 2, 1, 0)
	require.NoError(t, err)

	reward := func(step, env int) float64 {
		return float64(step+1) + 0.25*float64(env)
	}
	fill(t, r, reward,
		func(step, env int) float64 { return 0 },
		func(step, env int) float64 { return 1 })

	bootstrap := []float64{1.5, -0.5, 2.0}
	require.NoError(t, r.ComputeReturns(bootstrap, false, gamma, 0.95))

	// returns[t] = sum_k gamma^k r[t+k] + gamma^(T-t) bootstrap
	for i := 0; i < N; i++ {
		for step := 0; step < T; step++ {
			want := 0.0
			for k := 0; step+k < T; k++ {
				want += math.Pow(gamma, float64(k)) * reward(step+k, i)
			}
			want += math.Pow(gamma, float64(T-step)) * bootstrap[i]
			assert.InDelta(t, want, r.Returns()[step*N+i], 1e-12,
				"env %v step %v", i, step)
		}
	}
}

func TestComputeReturnsTerminalIsolation(t *testing.T) {
	const T, N = 5, 1
	const gamma, lambda = 0.99, 0.95
	const boundary = 2 // episode ends on the transition taken at t=2

	build := func(lateReward float64) *Rollouts {
		r, err := New(T, N, 2, 1, 0)
		require.NoError(t, err)
		fill(t, r,
			func(step, env int) float64 {
				if step > boundary {
					return lateReward
				}
				return 1.0
			},
			func(step, env int) float64 { return float64(step) * 0.3 },
			func(step, env int) float64 {
				if step == boundary {
					return 0.0
				}
				return 1.0
			})
		require.NoError(t, r.ComputeReturns([]float64{7.0}, true, gamma,
			lambda))
		return r
	}

	base := build(1.0)
	perturbed := build(1e6)

	// nothing at or before the boundary may see past it
	for step := 0; step <= boundary; step++ {
		assert.Equal(t, base.Returns()[step], perturbed.Returns()[step],
			"return at t=%v leaked across the terminal", step)
	}
}

func TestFeedForwardGeneratorPartitions(t *testing.T) {
	const T, N = 20, 5 // 100 samples
	const numMiniBatch = 5

	r, err := New(T, N, 3, 2, 0)
	require.NoError(t, err)
	fill(t, r,
		func(step, env int) float64 { return 1 },
		func(step, env int) float64 { return 0 },
		func(step, env int) float64 { return 1 })

	advantages := make([]float64, T*N)
	for i := range advantages {
		advantages[i] = float64(i)
	}

	for _, seed := range []uint64{1, 17, 982731} {
		rng := rand.New(rand.NewSource(seed))
		gen, err := r.FeedForwardGenerator(advantages, numMiniBatch, rng)
		require.NoError(t, err)

		seen := make(map[int]bool)
		batches := 0
		for {
			mb, ok := gen.Next()
			if !ok {
				break
			}
			batches++
			assert.Equal(t, 20, mb.Size)
			for row, idx := range mb.Indices {
				assert.False(t, seen[idx], "index %v delivered twice", idx)
				seen[idx] = true
				// rows must carry the data of their source index
				assert.Equal(t, advantages[idx], mb.Advantages[row])
			}
		}
		assert.Equal(t, numMiniBatch, batches)
		assert.Len(t, seen, T*N, "union must cover every sample")
	}
}

func TestGeneratorOneShot(t *testing.T) {
	r, err := New(2, 2, 1, 1, 0)
	require.NoError(t, err)
	fill(t, r,
		func(step, env int) float64 { return 1 },
		func(step, env int) float64 { return 0 },
		func(step, env int) float64 { return 1 })

	rng := rand.New(rand.NewSource(42))
	gen, err := r.FeedForwardGenerator(make([]float64, 4), 2, rng)
	require.NoError(t, err)

	_, ok := gen.Next()
	require.True(t, ok)
	_, ok = gen.Next()
	require.True(t, ok)
	_, ok = gen.Next()
	assert.False(t, ok, "generator must be exhausted after one pass")
}

func TestAfterUpdateContinuity(t *testing.T) {
	const T, N, obsDim = 3, 2, 2

	old, err := New(T, N, obsDim, 1, 1)
	require.NoError(t, err)

	// distinct observations per slot so slot T is identifiable
	states := make([]float64, N)
	require.NoError(t, old.SetFirst(make([]float64, N*obsDim), states))
	for step := 0; step < T; step++ {
		obs := make([]float64, N*obsDim)
		for i := range obs {
			obs[i] = float64(step*10 + i)
		}
		masks := []float64{1, 0}
		if step != T-1 {
			masks = []float64{1, 1}
		}
		require.NoError(t, old.Insert(obs, states, make([]float64, N),
			make([]float64, N), make([]float64, N), make([]float64, N),
			masks, []float64{1, 1}))
	}

	carryObs := append([]float64(nil), old.Observations(T)...)
	carryMasks := append([]float64(nil), old.Masks(T)...)
	old.AfterUpdate()

	fresh, err := New(T, N, obsDim, 1, 1)
	require.NoError(t, err)
	require.NoError(t, fresh.SetFirst(carryObs, states))
	copy(fresh.masks[:N], carryMasks)
	copy(fresh.badMasks[:N], []float64{1, 1})

	assert.Equal(t, fresh.Observations(0), old.Observations(0))
	assert.Equal(t, fresh.Masks(0), old.Masks(0))

	// both must accept a full segment and agree afterwards
	for step := 0; step < T; step++ {
		obs := make([]float64, N*obsDim)
		for i := range obs {
			obs[i] = float64(100 + step*10 + i)
		}
		for _, r := range []*Rollouts{old, fresh} {
			require.NoError(t, r.Insert(obs, states, make([]float64, N),
				make([]float64, N), make([]float64, N), make([]float64, N),
				[]float64{1, 1}, []float64{1, 1}))
		}
	}
	assert.Equal(t, fresh.observations, old.observations)
	assert.Equal(t, fresh.masks, old.masks)
}

// One environment terminates mid-segment; its advantage on the
// terminal transition must carry zero future credit while the other
// environment keeps its full bootstrapped lookahead.
func TestGAEMidSegmentTerminal(t *testing.T) {
	const T, N = 4, 2
	const gamma, lambda = 0.99, 0.95
	const terminalStep = 2 // env 0's episode ends on this transition

	values := func(step, env int) float64 {
		return 0.5 + 0.1*float64(step) + 0.05*float64(env)
	}

	r, err := New(T, N, 2, 1, 0)
	require.NoError(t, err)
	fill(t, r,
		func(step, env int) float64 { return 1.0 },
		values,
		func(step, env int) float64 {
			if env == 0 && step == terminalStep {
				return 0.0
			}
			return 1.0
		})

	bootstrap := []float64{0.9, 1.1}
	require.NoError(t, r.ComputeReturns(bootstrap, true, gamma, lambda))

	adv := make([]float64, T*N)
	for i := range adv {
		adv[i] = r.Returns()[i] - r.Values()[i]
	}

	// env 0, t=2: delta and gae both lose their bootstrap terms
	want0 := 1.0 - values(terminalStep, 0)
	assert.InDelta(t, want0, adv[terminalStep*N+0], 1e-12)

	// env 1, t=2: full generalized advantage with lookahead to t=3
	delta3 := 1.0 + gamma*bootstrap[1] - values(3, 1)
	delta2 := 1.0 + gamma*values(3, 1) - values(2, 1)
	want1 := delta2 + gamma*lambda*delta3
	assert.InDelta(t, want1, adv[terminalStep*N+1], 1e-12)
}

func TestInsertOverflow(t *testing.T) {
	r, err := New(1, 1, 1, 1, 0)
	require.NoError(t, err)
	fill(t, r,
		func(step, env int) float64 { return 1 },
		func(step, env int) float64 { return 0 },
		func(step, env int) float64 { return 1 })

	err = r.Insert([]float64{0}, nil, []float64{0}, []float64{0},
		[]float64{0}, []float64{0}, []float64{1}, []float64{1})
	assert.Error(t, err)
}

func TestWindow(t *testing.T) {
	w := NewWindow(3)
	assert.Equal(t, 0, w.Len())
	assert.Equal(t, 0.0, w.Mean())

	for _, r := range []float64{1, 2, 3} {
		w.Push(r)
	}
	assert.Equal(t, 2.0, w.Mean())

	w.Push(7) // evicts 1
	assert.Equal(t, 3, w.Len())
	assert.Equal(t, 4.0, w.Mean())

	s := w.Stats()
	assert.Equal(t, 2.0, s.Min)
	assert.Equal(t, 7.0, s.Max)
	assert.Equal(t, 3.0, s.Median)
}

func BenchmarkComputeReturns(b *testing.B) {
	const T, N = 256, 8
	r, err := New(T, N, 14, 4, 0)
	if err != nil {
		b.Fatal(err)
	}

	rng := rand.New(rand.NewSource(3))
	obs := make([]float64, N*14)
	actions := make([]float64, N*4)
	scalars := make([]float64, N)
	ones := make([]float64, N)
	for i := range ones {
		ones[i] = 1.0
	}

	if err := r.SetFirst(obs, nil); err != nil {
		b.Fatal(err)
	}
	for step := 0; step < T; step++ {
		for i := range scalars {
			scalars[i] = rng.Float64()
		}
		if err := r.Insert(obs, nil, actions, scalars, scalars, scalars,
			ones, ones); err != nil {
			b.Fatal(err)
		}
	}

	bootstrap := make([]float64, N)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := r.ComputeReturns(bootstrap, true, 0.99, 0.95); err != nil {
			b.Fatal(err)
		}
	}
}
