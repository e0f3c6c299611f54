package symmetry

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// MirrorSpec describes how to reflect an environment's observations
// and actions across the sagittal plane. NegObs/NegAct list indices
// whose sign flips under mirroring; SwapObsL/SwapObsR (and the action
// equivalents) list paired indices that exchange places, typically
// the left- and right-limb channels. The two lists must be the same
// length and pair up positionally.
//
// A mirror is a signed permutation, so applying it twice is the
// identity.
type MirrorSpec struct {
	NegObs   []int
	SwapObsL []int
	SwapObsR []int

	NegAct   []int
	SwapActL []int
	SwapActR []int
}

// Validate returns an error if any index is out of range for the
// given dimensions or if swap lists are mismatched.
func (m MirrorSpec) Validate(obsDim, actDim int) error {
	if len(m.SwapObsL) != len(m.SwapObsR) {
		return fmt.Errorf("validate: observation swap lists differ in "+
			"length \n\tleft(%v)\n\tright(%v)", len(m.SwapObsL), len(m.SwapObsR))
	}
	if len(m.SwapActL) != len(m.SwapActR) {
		return fmt.Errorf("validate: action swap lists differ in "+
			"length \n\tleft(%v)\n\tright(%v)", len(m.SwapActL), len(m.SwapActR))
	}
	for _, i := range m.NegObs {
		if i < 0 || i >= obsDim {
			return fmt.Errorf("validate: observation index %v out of "+
				"range [0, %v)", i, obsDim)
		}
	}
	for j := range m.SwapObsL {
		for _, i := range []int{m.SwapObsL[j], m.SwapObsR[j]} {
			if i < 0 || i >= obsDim {
				return fmt.Errorf("validate: observation index %v out of "+
					"range [0, %v)", i, obsDim)
			}
		}
	}
	for _, i := range m.NegAct {
		if i < 0 || i >= actDim {
			return fmt.Errorf("validate: action index %v out of range "+
				"[0, %v)", i, actDim)
		}
	}
	for j := range m.SwapActL {
		for _, i := range []int{m.SwapActL[j], m.SwapActR[j]} {
			if i < 0 || i >= actDim {
				return fmt.Errorf("validate: action index %v out of range "+
					"[0, %v)", i, actDim)
			}
		}
	}
	return nil
}

// obsPerm returns the signed permutation of the observation mirror as
// (destination index, sign) per source index.
func signedPerm(dim int, neg, swapL, swapR []int) ([]int, []float64) {
	perm := make([]int, dim)
	sign := make([]float64, dim)
	for i := 0; i < dim; i++ {
		perm[i] = i
		sign[i] = 1.0
	}
	for _, i := range neg {
		sign[i] = -1.0
	}
	for j := range swapL {
		perm[swapL[j]] = swapR[j]
		perm[swapR[j]] = swapL[j]
	}
	return perm, sign
}

// MirrorObs reflects one flattened row-major batch of observations in
// place-free fashion, returning a new slice. The batch length must be
// a multiple of obsDim.
func (m MirrorSpec) MirrorObs(batch []float64, obsDim int) []float64 {
	perm, sign := signedPerm(obsDim, m.NegObs, m.SwapObsL, m.SwapObsR)
	return applySignedPerm(batch, obsDim, perm, sign)
}

// MirrorAct reflects one flattened row-major batch of actions,
// returning a new slice.
func (m MirrorSpec) MirrorAct(batch []float64, actDim int) []float64 {
	perm, sign := signedPerm(actDim, m.NegAct, m.SwapActL, m.SwapActR)
	return applySignedPerm(batch, actDim, perm, sign)
}

func applySignedPerm(batch []float64, dim int, perm []int,
	sign []float64) []float64 {
	if len(batch)%dim != 0 {
		panic(fmt.Sprintf("mirror: batch length %v is not a multiple of "+
			"dimension %v", len(batch), dim))
	}

	out := make([]float64, len(batch))
	rows := len(batch) / dim
	for r := 0; r < rows; r++ {
		row := batch[r*dim : (r+1)*dim]
		dst := out[r*dim : (r+1)*dim]
		for i := 0; i < dim; i++ {
			dst[i] = sign[i] * row[perm[i]]
		}
	}
	return out
}

// matrix returns the dense signed permutation matrix P such that
// mirrored = row · P for row-major batches.
func matrix(dim int, perm []int, sign []float64) []float64 {
	p := make([]float64, dim*dim)
	for i := 0; i < dim; i++ {
		// column i of P is sourced from perm[i] with sign[i]
		p[perm[i]*dim+i] = sign[i]
	}
	return p
}

// ObsNode returns a constant Gorgonia node holding the observation
// mirror matrix, for mirroring a batch inside a computational graph
// via right-multiplication.
func (m MirrorSpec) ObsNode(g *G.ExprGraph, obsDim int) *G.Node {
	perm, sign := signedPerm(obsDim, m.NegObs, m.SwapObsL, m.SwapObsR)
	t := tensor.NewDense(
		tensor.Float64,
		[]int{obsDim, obsDim},
		tensor.WithBacking(matrix(obsDim, perm, sign)),
	)
	return G.NewConstant(t, G.WithName("ObsMirror"))
}

// ActNode returns a constant Gorgonia node holding the action mirror
// matrix.
func (m MirrorSpec) ActNode(g *G.ExprGraph, actDim int) *G.Node {
	perm, sign := signedPerm(actDim, m.NegAct, m.SwapActL, m.SwapActR)
	t := tensor.NewDense(
		tensor.Float64,
		[]int{actDim, actDim},
		tensor.WithBacking(matrix(actDim, perm, sign)),
	)
	return G.NewConstant(t, G.WithName("ActMirror"))
}

// AbsActNode returns the unsigned action permutation matrix. It is
// used to tie the learned standard deviations of paired action
// channels together in architecturally mirrored policies.
func (m MirrorSpec) AbsActNode(g *G.ExprGraph, actDim int) *G.Node {
	perm, _ := signedPerm(actDim, m.NegAct, m.SwapActL, m.SwapActR)
	sign := make([]float64, actDim)
	for i := range sign {
		sign[i] = 1.0
	}
	t := tensor.NewDense(
		tensor.Float64,
		[]int{actDim, actDim},
		tensor.WithBacking(matrix(actDim, perm, sign)),
	)
	return G.NewConstant(t, G.WithName("AbsActMirror"))
}
