package storage

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Window is a bounded FIFO over the most recent completed-episode
// returns. It exists for reporting and best-checkpoint selection
// only; nothing in training reads it.
type Window struct {
	rewards []float64
	cap     int
}

// NewWindow returns a Window holding at most capacity episode returns
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		panic("newwindow: capacity must be positive")
	}
	return &Window{rewards: make([]float64, 0, capacity), cap: capacity}
}

// Push records one completed episode's cumulative reward, evicting
// the oldest entry when full
func (w *Window) Push(reward float64) {
	if len(w.rewards) == w.cap {
		copy(w.rewards, w.rewards[1:])
		w.rewards[len(w.rewards)-1] = reward
		return
	}
	w.rewards = append(w.rewards, reward)
}

// Len returns the number of episode returns currently held
func (w *Window) Len() int { return len(w.rewards) }

// Mean returns the mean of the held returns, or 0 when empty
func (w *Window) Mean() float64 {
	if len(w.rewards) == 0 {
		return 0
	}
	return stat.Mean(w.rewards, nil)
}

// Stats summarizes the window for logging
type Stats struct {
	Mean   float64
	Median float64
	Min    float64
	Max    float64
}

// Stats returns summary statistics over the held returns. The zero
// Stats is returned for an empty window.
func (w *Window) Stats() Stats {
	if len(w.rewards) == 0 {
		return Stats{}
	}
	sorted := append([]float64(nil), w.rewards...)
	sort.Float64s(sorted)
	return Stats{
		Mean:   stat.Mean(w.rewards, nil),
		Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
		Min:    floats.Min(w.rewards),
		Max:    floats.Max(w.rewards),
	}
}
