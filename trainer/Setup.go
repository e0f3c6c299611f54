package trainer

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/symloco/symloco/agent/policy"
	"github.com/symloco/symloco/agent/ppo"
	"github.com/symloco/symloco/environment"
	"github.com/symloco/symloco/environment/box2d/walker"
	"github.com/symloco/symloco/environment/classiccontrol/cartpole"
	"github.com/symloco/symloco/environment/wrappers"
	"github.com/symloco/symloco/envpool"
	"github.com/symloco/symloco/symmetry"
	"github.com/symloco/symloco/tracker"
)

// makers maps environment names to their constructors
var makers = map[string]environment.Maker{
	"cartpole": cartpole.NewBalance,
	"walker":   walker.NewWalkEnv,
}

// EnvNames returns the names of the available environments, sorted
func EnvNames() []string {
	names := make([]string, 0, len(makers))
	for name := range makers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EnvMaker returns a Maker for the named environment with episodes
// cut off after episodeLimit steps.
func EnvMaker(name string, episodeLimit int) (environment.Maker, error) {
	maker, ok := makers[name]
	if !ok {
		return nil, fmt.Errorf("envmaker: no such environment %q, have %v",
			name, EnvNames())
	}

	return func(seed uint64) (environment.Environment, error) {
		env, err := maker(seed)
		if err != nil {
			return nil, err
		}
		return wrappers.NewTimeLimit(env, episodeLimit)
	}, nil
}

// NewFromConfig assembles a complete training run from a Config: the
// environment pool, the actor-critic model, the PPO optimizer, and a
// CSV logger in the save directory.
func NewFromConfig(c Config) (*Trainer, error) {
	c = c.WithDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("newfromconfig: %v", err)
	}

	maker, err := EnvMaker(c.Env, c.EpisodeLimit)
	if err != nil {
		return nil, fmt.Errorf("newfromconfig: %v", err)
	}
	pool, err := envpool.New(maker, c.NumProcesses, c.Seed)
	if err != nil {
		return nil, fmt.Errorf("newfromconfig: %v", err)
	}

	mirror, hasMirror := pool.MirrorSpec()
	if c.Method != symmetry.None && !hasMirror {
		return nil, fmt.Errorf("newfromconfig: environment %q declares no "+
			"mirror structure, cannot train with method %q", c.Env, c.Method)
	}

	trainBatch := c.NumSteps * c.NumProcesses / c.PPO.NumMiniBatch
	if c.Method.MirrorsData() {
		trainBatch *= 2
	}

	model, err := policy.NewGaussianActorCritic(c.Policy, c.Method, mirror,
		pool.ObsDim(), pool.ActDim(), c.NumProcesses, trainBatch, c.Seed)
	if err != nil {
		return nil, fmt.Errorf("newfromconfig: %v", err)
	}

	if c.LoadCheckpoint != "" {
		file, err := os.Open(c.LoadCheckpoint)
		if err != nil {
			return nil, fmt.Errorf("newfromconfig: could not open "+
				"checkpoint %v: %v", c.LoadCheckpoint, err)
		}
		err = gob.NewDecoder(file).Decode(model)
		file.Close()
		if err != nil {
			return nil, fmt.Errorf("newfromconfig: could not load "+
				"checkpoint %v: %v", c.LoadCheckpoint, err)
		}
	}

	updater, err := ppo.New(model, c.PPO, c.NumSteps, c.NumProcesses, c.Seed)
	if err != nil {
		return nil, fmt.Errorf("newfromconfig: %v", err)
	}

	var logger *tracker.CSVLogger
	if c.SaveDir != "" {
		if err := os.MkdirAll(c.SaveDir, 0755); err != nil {
			return nil, fmt.Errorf("newfromconfig: could not create %v: %v",
				c.SaveDir, err)
		}
		path := filepath.Join(c.SaveDir,
			fmt.Sprintf("%v_%v_progress.csv", c.Env, c.Method))
		logger, err = tracker.NewCSVLogger(path, c.LogInterval)
		if err != nil {
			return nil, fmt.Errorf("newfromconfig: %v", err)
		}
	}

	return New(c, pool, model, updater, logger)
}
