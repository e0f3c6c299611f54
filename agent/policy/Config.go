package policy

import (
	"fmt"

	"github.com/symloco/symloco/initwfn"
	"github.com/symloco/symloco/network"
)

// Config describes the network architecture of a GaussianActorCritic.
// The actor and critic are separate multi-layered perceptrons. The
// mean head of the actor gets an extra MeanActivation applied after
// the final linear layer so that predicted means stay bounded.
type Config struct {
	ActorHiddenSizes  []int
	ActorBiases       []bool
	ActorActivations  []*network.Activation
	CriticHiddenSizes []int
	CriticBiases      []bool
	CriticActivations []*network.Activation
	MeanActivation    *network.Activation
	Init              *initwfn.InitWFn
}

// DefaultConfig returns a Config with the architecture used for
// locomotion tasks: softsign hidden layers for the actor with a tanh
// squashed mean, and tanh hidden layers for the critic.
func DefaultConfig() Config {
	init, err := initwfn.NewGlorotN(1.0)
	if err != nil {
		panic(fmt.Sprintf("defaultconfig: could not create initializer: %v",
			err))
	}

	return Config{
		ActorHiddenSizes: []int{64, 64},
		ActorBiases:      []bool{true, true},
		ActorActivations: []*network.Activation{
			network.Softsign(),
			network.Softsign(),
		},
		CriticHiddenSizes: []int{64, 64},
		CriticBiases:      []bool{true, true},
		CriticActivations: []*network.Activation{
			network.TanH(),
			network.TanH(),
		},
		MeanActivation: network.TanH(),
		Init:           init,
	}
}

// Validate returns an error if the architecture description is
// internally inconsistent.
func (c Config) Validate() error {
	if len(c.ActorHiddenSizes) != len(c.ActorBiases) ||
		len(c.ActorHiddenSizes) != len(c.ActorActivations) {
		return fmt.Errorf("validate: actor hidden sizes, biases, and "+
			"activations must have equal lengths \n\thave(%v, %v, %v)",
			len(c.ActorHiddenSizes), len(c.ActorBiases),
			len(c.ActorActivations))
	}
	if len(c.CriticHiddenSizes) != len(c.CriticBiases) ||
		len(c.CriticHiddenSizes) != len(c.CriticActivations) {
		return fmt.Errorf("validate: critic hidden sizes, biases, and "+
			"activations must have equal lengths \n\thave(%v, %v, %v)",
			len(c.CriticHiddenSizes), len(c.CriticBiases),
			len(c.CriticActivations))
	}
	if c.Init == nil {
		return fmt.Errorf("validate: no weight initializer given")
	}
	return nil
}
