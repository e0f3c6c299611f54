package trainer

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/symloco/symloco/agent/policy"
	"github.com/symloco/symloco/agent/ppo"
	"github.com/symloco/symloco/symmetry"
)

// Schedule selects how the learning rate changes across updates
type Schedule string

const (
	// Constant keeps the initial learning rate for the whole run
	Constant Schedule = "constant"

	// Linear anneals the learning rate linearly to zero over the run
	Linear Schedule = "linear"

	// Exponential multiplies the learning rate by DecayFactor each
	// update, floored at MinLR
	Exponential Schedule = "exponential"
)

const (
	// MinLR floors the exponential learning rate schedule
	MinLR float64 = 3e-5

	// DecayFactor is the per-update multiplier of the exponential
	// learning rate schedule
	DecayFactor float64 = 0.99
)

// Config fully describes a training run
type Config struct {
	// Env names the environment to train on
	Env string `json:"env"`

	// Method selects the mirror symmetry method
	Method symmetry.Method `json:"method"`

	// EpisodeLimit cuts episodes off after this many steps
	EpisodeLimit int `json:"episode_limit"`

	NumFrames    int `json:"num_frames"`
	NumProcesses int `json:"num_processes"`
	NumSteps     int `json:"num_steps"`

	Gamma  float64 `json:"gamma"`
	Lambda float64 `json:"lambda"`
	UseGAE bool    `json:"use_gae"`

	LRSchedule Schedule `json:"lr_schedule"`

	// SaveEvery checkpoints the model every SaveEvery frames; 0
	// disables periodic checkpoints
	SaveEvery   int    `json:"save_every"`
	LogInterval int    `json:"log_interval"`
	SaveDir     string `json:"save_dir"`

	// LoadCheckpoint, when non-empty, initializes the model from the
	// checkpoint file at this path before training
	LoadCheckpoint string `json:"load_checkpoint"`

	Seed uint64 `json:"seed"`

	PPO    ppo.Config    `json:"ppo"`
	Policy policy.Config `json:"policy"`
}

// DefaultConfig returns the configuration used for the locomotion
// experiments
func DefaultConfig() Config {
	return Config{
		Env:          "walker",
		Method:       symmetry.None,
		EpisodeLimit: 1000,
		NumFrames:    6_000_000,
		NumProcesses: 8,
		NumSteps:     256,
		Gamma:        0.99,
		Lambda:       0.95,
		UseGAE:       true,
		LRSchedule:   Exponential,
		SaveEvery:    10_000_000,
		LogInterval:  1,
		SaveDir:      "trained_models",
		Seed:         1,
		PPO:          ppo.DefaultConfig(),
		Policy:       policy.DefaultConfig(),
	}
}

// LoadConfig reads a Config from the JSON file at path, layered over
// the defaults so that partial files are valid.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("loadconfig: could not read %v: %v",
			path, err)
	}
	if err := json.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("loadconfig: could not parse %v: %v",
			path, err)
	}
	return config, nil
}

// WithDefaults resolves derived fields: a zero NumSteps becomes one
// episode's worth of frames split across the processes.
func (c Config) WithDefaults() Config {
	if c.NumSteps == 0 && c.NumProcesses > 0 {
		c.NumSteps = c.EpisodeLimit / c.NumProcesses
	}
	return c
}

// Validate returns an error describing the first illegal field found
func (c Config) Validate() error {
	if c.Env == "" {
		return fmt.Errorf("validate: no environment named")
	}
	if _, err := symmetry.ParseMethod(string(c.Method)); err != nil {
		return fmt.Errorf("validate: %v", err)
	}
	if c.EpisodeLimit < 1 {
		return fmt.Errorf("validate: episode limit must be positive "+
			"\n\thave(%v)", c.EpisodeLimit)
	}
	if c.NumProcesses < 1 {
		return fmt.Errorf("validate: need at least one process "+
			"\n\thave(%v)", c.NumProcesses)
	}
	if c.NumSteps < 1 {
		return fmt.Errorf("validate: segment length must be positive "+
			"\n\thave(%v)", c.NumSteps)
	}
	if c.NumFrames < c.NumSteps*c.NumProcesses {
		return fmt.Errorf("validate: frame budget %v smaller than one "+
			"segment of %v frames", c.NumFrames, c.NumSteps*c.NumProcesses)
	}
	if c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("validate: discount must be in [0, 1] "+
			"\n\thave(%v)", c.Gamma)
	}
	if c.Lambda < 0 || c.Lambda > 1 {
		return fmt.Errorf("validate: GAE lambda must be in [0, 1] "+
			"\n\thave(%v)", c.Lambda)
	}
	switch c.LRSchedule {
	case Constant, Linear, Exponential:
	default:
		return fmt.Errorf("validate: unknown learning rate schedule %q",
			c.LRSchedule)
	}
	if c.LogInterval < 1 {
		return fmt.Errorf("validate: log interval must be positive "+
			"\n\thave(%v)", c.LogInterval)
	}
	if c.SaveEvery < 0 {
		return fmt.Errorf("validate: save interval must be non-negative "+
			"\n\thave(%v)", c.SaveEvery)
	}
	return nil
}

// NumUpdates returns the number of training iterations the frame
// budget affords
func (c Config) NumUpdates() int {
	return c.NumFrames / (c.NumSteps * c.NumProcesses)
}
