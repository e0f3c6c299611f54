package symmetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func legSwapSpec() MirrorSpec {
	return MirrorSpec{
		NegObs:   []int{1},
		SwapObsL: []int{2, 3},
		SwapObsR: []int{4, 5},
		NegAct:   []int{0},
		SwapActL: []int{1},
		SwapActR: []int{2},
	}
}

func TestParseMethod(t *testing.T) {
	for _, s := range []string{"none", "loss", "traj", "net", "net2", ""} {
		_, err := ParseMethod(s)
		assert.NoError(t, err, s)
	}
	_, err := ParseMethod("phase")
	assert.Error(t, err, "unsupported methods must fail at parse time")
}

func TestMirrorObs(t *testing.T) {
	spec := legSwapSpec()
	require.NoError(t, spec.Validate(6, 3))

	obs := []float64{10, 11, 12, 13, 14, 15}
	got := spec.MirrorObs(obs, 6)
	assert.Equal(t, []float64{10, -11, 14, 15, 12, 13}, got)
}

func TestMirrorInvolution(t *testing.T) {
	spec := legSwapSpec()

	batch := []float64{
		1, 2, 3, 4, 5, 6,
		-1, 0.5, 7, 8, 9, 10,
	}
	twice := spec.MirrorObs(spec.MirrorObs(batch, 6), 6)
	assert.Equal(t, batch, twice)

	act := []float64{1, 2, 3, -4, -5, -6}
	assert.Equal(t, act, spec.MirrorAct(spec.MirrorAct(act, 3), 3))
}

func TestMirrorMatrixAgreesWithSliceForm(t *testing.T) {
	spec := legSwapSpec()
	perm, sign := signedPerm(6, spec.NegObs, spec.SwapObsL, spec.SwapObsR)
	m := matrix(6, perm, sign)

	row := []float64{1, 2, 3, 4, 5, 6}
	viaSlices := spec.MirrorObs(row, 6)

	// row · P
	viaMatrix := make([]float64, 6)
	for j := 0; j < 6; j++ {
		for i := 0; i < 6; i++ {
			viaMatrix[j] += row[i] * m[i*6+j]
		}
	}
	assert.InDeltaSlice(t, viaSlices, viaMatrix, 1e-14)
}

func TestValidateRejectsBadIndices(t *testing.T) {
	spec := MirrorSpec{NegObs: []int{9}}
	assert.Error(t, spec.Validate(4, 2))

	spec = MirrorSpec{SwapActL: []int{0}, SwapActR: []int{0, 1}}
	assert.Error(t, spec.Validate(4, 2))
}
