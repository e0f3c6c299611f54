// Package symmetry implements the mirror-symmetry machinery used by
// symmetric locomotion policies: the mirror method selector, mirror
// index specifications, and signed-permutation transforms over
// observation and action batches.
package symmetry

import "fmt"

// Method selects how left-right symmetry is exploited during training
type Method string

const (
	// None trains a plain policy with no symmetry handling
	None Method = "none"

	// Loss duplicates each minibatch with mirrored transitions and
	// adds an auxiliary consistency loss between the policy output on
	// original states and the mirrored output on mirrored states
	Loss Method = "loss"

	// Traj duplicates each minibatch with mirrored transitions only
	Traj Method = "traj"

	// Net builds the symmetry into the policy architecture by
	// averaging the network output with its mirrored evaluation
	Net Method = "net"

	// Net2 builds the symmetry into the policy architecture with
	// separate symmetric and antisymmetric branches
	Net2 Method = "net2"
)

// ParseMethod validates a mirror method selector. Unknown selectors,
// including methods the original system supported but that require
// environment features unavailable here, are configuration errors.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case None, Loss, Traj, Net, Net2:
		return Method(s), nil
	case "":
		return None, nil
	}
	return None, fmt.Errorf("parsemethod: no such mirror method %q", s)
}

// Architectural returns whether the method bakes the symmetry into
// the network architecture rather than the loss or the data.
func (m Method) Architectural() bool {
	return m == Net || m == Net2
}

// MirrorsCritic returns whether the value function should also be
// symmetrized. Architectural methods mirror the critic as well.
func (m Method) MirrorsCritic() bool {
	return m.Architectural()
}

// MirrorsData returns whether minibatches should be augmented with
// mirrored copies of each transition during optimization.
func (m Method) MirrorsData() bool {
	return m == Loss || m == Traj
}
