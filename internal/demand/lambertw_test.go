package demand

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLambertW0(t *testing.T) {
	tests := []struct {
		name     string
		x        float64
		expected float64
	}{
		{"zero", 0, 0},
		{"omega constant", 1, 0.5671432904097838},
		{"e", math.E, 1},
		{"ten", 10, 1.7455280027406994},
		{"negative moderate", -0.3, -0.4894022271802149},
		{"negative small", -0.1, -0.11183255915896297},
		{"branch point", -1 / math.E, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := LambertW0(tt.x)
			require.NoError(t, err)
			assert.InDelta(t, tt.expected, w, 1e-12)
		})
	}
}

func TestLambertW0_Identity(t *testing.T) {
	for _, x := range []float64{-0.36, -0.25, -1e-6, 1e-6, 0.5, 2, 50, 1e3, 1e6, 1e12} {
		w, err := LambertW0(x)
		require.NoError(t, err, "x=%g", x)
		assert.GreaterOrEqual(t, w, -1.0)
		assert.InDelta(t, x, w*math.Exp(w), 1e-9*math.Max(1, math.Abs(x)), "x=%g", x)
	}
}

func TestLambertW0_NearBranchPoint(t *testing.T) {
	// just inside the tolerance band below -1/e snaps to the branch point
	w, err := LambertW0(-1/math.E - 1e-14)
	require.NoError(t, err)
	assert.Equal(t, -1.0, w)

	w, err = LambertW0(-1/math.E + 1e-10)
	require.NoError(t, err)
	assert.InDelta(t, -0.99997668, w, 1e-7)
}

func TestLambertW0_Domain(t *testing.T) {
	for _, x := range []float64{-0.5, -1, math.NaN(), math.Inf(-1)} {
		_, err := LambertW0(x)
		assert.ErrorIs(t, err, ErrLambertDomain, "x=%g", x)
	}

	w, err := LambertW0(math.Inf(1))
	require.NoError(t, err)
	assert.True(t, math.IsInf(w, 1))
}

func TestUnitElasticityThreshold(t *testing.T) {
	assert.InDelta(t, 1.1805347983576449, UnitElasticityThreshold, 1e-15)

	// the Lambert argument at the threshold is the branch point itself
	arg := -1 / (UnitElasticityThreshold * math.Ln10)
	assert.InDelta(t, -1/math.E, arg, 1e-15)
}
