package ppo

import "fmt"

// Config holds the hyperparameters of a PPO optimizer
type Config struct {
	// ClipParam is the importance-ratio clipping radius ε of the
	// surrogate objective
	ClipParam float64

	// Loss coefficients. SymmetryCoef only applies when the model was
	// built with the loss-based symmetry method.
	ValueLossCoef float64
	EntropyCoef   float64
	SymmetryCoef  float64

	// PPOEpoch is the number of optimization passes over each
	// collected segment; NumMiniBatch the number of groups each pass
	// partitions the segment into
	PPOEpoch     int
	NumMiniBatch int

	// MaxGradNorm bounds the global gradient norm across the actor
	// and critic jointly. Non-positive disables clipping.
	MaxGradNorm float64

	// UseClippedValueLoss selects the conservative value update that
	// clips the predicted value to within ClipParam of the stored one
	UseClippedValueLoss bool

	// Adam step size and numerical stability constant
	LR  float64
	Eps float64
}

// DefaultConfig returns the hyperparameters used for locomotion
// training runs.
func DefaultConfig() Config {
	return Config{
		ClipParam:           0.2,
		ValueLossCoef:       1.0,
		EntropyCoef:         0.0,
		SymmetryCoef:        4.0,
		PPOEpoch:            10,
		NumMiniBatch:        4,
		MaxGradNorm:         2.0,
		UseClippedValueLoss: false,
		LR:                  3e-4,
		Eps:                 1e-5,
	}
}

// Validate fails fast on configurations that cannot produce a valid
// optimizer for a segment of numSteps timesteps over numProcs
// parallel environments.
func (c Config) Validate(numSteps, numProcs int) error {
	if c.ClipParam <= 0 {
		return fmt.Errorf("validate: clip parameter must be positive "+
			"\n\thave(%v)", c.ClipParam)
	}
	if c.PPOEpoch < 1 {
		return fmt.Errorf("validate: must run at least one optimization "+
			"epoch \n\thave(%v)", c.PPOEpoch)
	}
	if c.LR <= 0 {
		return fmt.Errorf("validate: learning rate must be positive "+
			"\n\thave(%v)", c.LR)
	}
	if c.Eps <= 0 {
		return fmt.Errorf("validate: Adam epsilon must be positive "+
			"\n\thave(%v)", c.Eps)
	}

	total := numSteps * numProcs
	if c.NumMiniBatch < 1 || c.NumMiniBatch > total {
		return fmt.Errorf("validate: illegal number of minibatches %v for "+
			"%v samples", c.NumMiniBatch, total)
	}

	// The training graphs are compiled for a fixed batch size, so
	// every minibatch must have exactly the same number of samples
	if total%c.NumMiniBatch != 0 {
		return fmt.Errorf("validate: number of minibatches %v must evenly "+
			"divide the %v samples per segment", c.NumMiniBatch, total)
	}
	return nil
}
