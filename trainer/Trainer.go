// Package trainer implements the training loop driver: it alternates
// between collecting fixed-length segments of experience from a
// vectorized environment pool and handing the filled segment to the
// policy optimizer, while scheduling the learning rate, tracking
// episode returns, checkpointing the model, and logging progress.
package trainer

import (
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/symloco/symloco/agent"
	"github.com/symloco/symloco/agent/ppo"
	"github.com/symloco/symloco/envpool"
	"github.com/symloco/symloco/storage"
	"github.com/symloco/symloco/tracker"
	"github.com/symloco/symloco/utils/progressbar"
)

// Updater optimizes the model from one filled rollout segment. It is
// satisfied by ppo.PPO.
type Updater interface {
	Update(*storage.Rollouts) (ppo.Stats, error)
	SetLR(lr float64)
	LR() float64
}

// Trainer drives a training run. Construct it with New and call
// either Run for a full run or Step for a single training iteration.
type Trainer struct {
	config  Config
	pool    *envpool.Pool
	model   agent.ActorCritic
	updater Updater
	logger  *tracker.CSVLogger

	rollouts *storage.Rollouts
	window   *storage.Window

	obs   []float64
	state []float64
	masks []float64

	iteration   int
	totalFrames int
	bestReward  float64
	nextSave    int
}

// New returns a Trainer over the given pool, model, and updater. The
// logger may be nil to disable progress logging.
func New(c Config, pool *envpool.Pool, model agent.ActorCritic,
	updater Updater, logger *tracker.CSVLogger) (*Trainer, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	if pool.NumProcs() != c.NumProcesses {
		return nil, fmt.Errorf("new: pool has %v processes, config "+
			"names %v", pool.NumProcs(), c.NumProcesses)
	}
	if model.Features() != pool.ObsDim() ||
		model.ActionDims() != pool.ActDim() {
		return nil, fmt.Errorf("new: model dimensions (%v, %v) do not "+
			"match environment dimensions (%v, %v)", model.Features(),
			model.ActionDims(), pool.ObsDim(), pool.ActDim())
	}

	rollouts, err := storage.New(c.NumSteps, c.NumProcesses, pool.ObsDim(),
		pool.ActDim(), model.StateSize())
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	t := &Trainer{
		config:   c,
		pool:     pool,
		model:    model,
		updater:  updater,
		logger:   logger,
		rollouts: rollouts,
		window:   storage.NewWindow(c.NumProcesses),

		state: make([]float64, c.NumProcesses*model.StateSize()),
		masks: make([]float64, c.NumProcesses),

		bestReward: math.Inf(-1),
		nextSave:   c.SaveEvery,
	}
	for i := range t.masks {
		t.masks[i] = 1.0
	}

	t.obs = pool.Reset()
	if err := rollouts.SetFirst(t.obs, t.state); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	return t, nil
}

// Step runs one training iteration: collect one segment, compute
// returns, optimize, checkpoint, and log. It returns the iteration's
// record.
func (t *Trainer) Step() (tracker.Record, error) {
	start := time.Now()

	t.updater.SetLR(t.scheduledLR())

	episodes := 0
	for s := 0; s < t.config.NumSteps; s++ {
		values, actions, logProbs, nextState, err := t.model.Act(t.obs,
			t.state, t.masks)
		if err != nil {
			return tracker.Record{}, fmt.Errorf("step: could not select "+
				"actions: %v", err)
		}

		result, err := t.pool.Step(actions)
		if err != nil {
			return tracker.Record{}, fmt.Errorf("step: %v", err)
		}
		for _, reward := range result.EpisodeRewards {
			t.window.Push(reward)
			episodes++
		}

		if err := t.rollouts.Insert(result.Observations, nextState,
			actions, logProbs, values, result.Rewards, result.Masks,
			result.BadMasks); err != nil {
			return tracker.Record{}, fmt.Errorf("step: %v", err)
		}

		t.obs = result.Observations
		t.state = nextState
		t.masks = result.Masks
	}

	bootstrap, err := t.model.Value(t.obs, t.state, t.masks)
	if err != nil {
		return tracker.Record{}, fmt.Errorf("step: could not bootstrap: %v",
			err)
	}
	if err := t.rollouts.ComputeReturns(bootstrap, t.config.UseGAE,
		t.config.Gamma, t.config.Lambda); err != nil {
		return tracker.Record{}, fmt.Errorf("step: %v", err)
	}

	stats, err := t.updater.Update(t.rollouts)
	if err != nil {
		return tracker.Record{}, fmt.Errorf("step: %v", err)
	}
	t.rollouts.AfterUpdate()

	t.iteration++
	frames := t.config.NumSteps * t.config.NumProcesses
	t.totalFrames += frames
	t.checkpoint()

	rec := tracker.Record{
		Iteration:  t.iteration,
		TotalSteps: t.totalFrames,
		FPS:        float64(frames) / time.Since(start).Seconds(),
		Entropy:    stats.Entropy,
		ValueLoss:  stats.ValueLoss,
		ActionLoss: stats.ActionLoss,
		Reward:     t.window.Stats(),
		Episodes:   episodes,
	}
	if t.logger != nil {
		// Progress logging is the same class of IO as checkpoint
		// writes: losing a record should not kill the run
		if err := t.logger.Log(rec); err != nil {
			fmt.Fprintf(os.Stderr, "step: could not log record: %v\n", err)
		}
	}
	return rec, nil
}

// Run trains until the frame budget is spent, then renders the
// reward curve next to the checkpoints.
func (t *Trainer) Run() error {
	numUpdates := t.config.NumUpdates()

	bar := progressbar.New(80, numUpdates)
	bar.Display()
	for t.iteration < numUpdates {
		if _, err := t.Step(); err != nil {
			return fmt.Errorf("run: iteration %v: %v", t.iteration+1, err)
		}
		bar.Increment()
		bar.Display()
	}
	fmt.Println()

	if t.logger != nil {
		steps, rewards := t.logger.RewardCurve()
		if len(steps) > 0 {
			curve := filepath.Join(t.config.SaveDir,
				fmt.Sprintf("%v_%v_rewards.png", t.config.Env,
					t.config.Method))
			if err := tracker.SaveRewardCurve(curve, steps,
				rewards); err != nil {
				fmt.Fprintf(os.Stderr, "run: could not render reward "+
					"curve: %v\n", err)
			}
		}
	}
	return nil
}

// Iteration returns the number of completed training iterations
func (t *Trainer) Iteration() int { return t.iteration }

// TotalFrames returns the number of environment frames consumed
func (t *Trainer) TotalFrames() int { return t.totalFrames }

// BestReward returns the best windowed mean episode reward observed,
// or -Inf before any episode completes.
func (t *Trainer) BestReward() float64 { return t.bestReward }

// scheduledLR returns the learning rate for the upcoming update
func (t *Trainer) scheduledLR() float64 {
	lr := t.config.PPO.LR
	j := t.iteration

	switch t.config.LRSchedule {
	case Linear:
		lr *= 1.0 - float64(j)/float64(t.config.NumUpdates())
	case Exponential:
		lr = math.Max(MinLR, lr*math.Pow(DecayFactor, float64(j)))
	}
	return lr
}

// checkpoint writes the latest, periodic and best-model checkpoints.
// A failed write warns and continues; losing a checkpoint should not
// kill a long training run.
func (t *Trainer) checkpoint() {
	t.save("latest")

	if t.config.SaveEvery > 0 && t.totalFrames >= t.nextSave {
		t.save(fmt.Sprintf("%v", t.totalFrames))
		t.nextSave += t.config.SaveEvery
	}

	if t.window.Len() > 0 {
		if mean := t.window.Mean(); mean > t.bestReward {
			t.bestReward = mean
			t.save("best")
		}
	}
}

func (t *Trainer) save(tag string) {
	if t.config.SaveDir == "" {
		return
	}
	if err := os.MkdirAll(t.config.SaveDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "save: could not create %v: %v\n",
			t.config.SaveDir, err)
		return
	}

	path := filepath.Join(t.config.SaveDir,
		fmt.Sprintf("%v_%v_%v.checkpoint", t.config.Env, t.config.Method,
			tag))
	file, err := os.Create(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "save: could not create %v: %v\n", path, err)
		return
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(t.model); err != nil {
		fmt.Fprintf(os.Stderr, "save: could not encode model to %v: %v\n",
			path, err)
	}
}
