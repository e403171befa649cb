package demand

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate(t *testing.T) {
	t.Run("zero price yields log Q0", func(t *testing.T) {
		// logPrice of -inf is P = 0
		got := Evaluate(4.1849, 0.00518467, 5.31159, math.Inf(-1))
		assert.InDelta(t, math.Log10(4.1849), got, 1e-12)
	})

	t.Run("consumption decays with price", func(t *testing.T) {
		q1 := Evaluate(10, 0.001, 2, 0)
		q2 := Evaluate(10, 0.001, 2, 1)
		q3 := Evaluate(10, 0.001, 2, 2)
		assert.Greater(t, q1, q2)
		assert.Greater(t, q2, q3)
	})

	t.Run("floor at log Q0 minus K", func(t *testing.T) {
		got := Evaluate(10, 1, 2, 6)
		assert.InDelta(t, 1-2.0, got, 1e-9)
	})

	t.Run("non-finite propagates", func(t *testing.T) {
		assert.True(t, math.IsNaN(Evaluate(1, 1, 1, math.NaN())))
	})
}

func TestElasticity(t *testing.T) {
	// finite difference of Evaluate agrees with the closed form
	q0, alpha, k := 6.20081, 0.00315093, 5.31159
	for _, price := range []float64{1, 10, 50, 200} {
		h := 1e-6
		lp := math.Log10(price)
		numeric := (Evaluate(q0, alpha, k, lp+h) - Evaluate(q0, alpha, k, lp-h)) / (2 * h)
		assert.InDelta(t, numeric, Elasticity(q0, alpha, k, price), 1e-5, "price=%g", price)
	}
}

func TestMethodFor(t *testing.T) {
	tests := []struct {
		name     string
		k        float64
		expected Method
	}{
		{"well above threshold", 5.31159, MethodExact},
		{"exactly at threshold", math.E / math.Ln10, MethodExact},
		{"just below threshold", math.Nextafter(math.E/math.Ln10, 0), MethodDirect},
		{"below threshold", 0.5, MethodDirect},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MethodFor(tt.k))
		})
	}
}

func TestSolve(t *testing.T) {
	t.Run("exact branch sample row", func(t *testing.T) {
		res, err := Solve(4.1849, 0.00518467, 5.31159)
		require.NoError(t, err)

		assert.Equal(t, MethodExact, res.Method)
		assert.Equal(t, "4.1208", FormatValue(res.Analytic))
		assert.Equal(t, "4.107", FormatValue(res.Approximate))
		assert.Equal(t, RationaleExact, res.Method.Rationale())
	})

	t.Run("direct branch", func(t *testing.T) {
		res, err := Solve(1, 1, 0.5)
		require.NoError(t, err)

		assert.Equal(t, MethodDirect, res.Method)
		assert.Equal(t, 1.0, res.Analytic)
		assert.InDelta(t, 1.9559, res.Approximate, 1e-4)
		assert.Equal(t, RationaleDirect, res.Method.Rationale())
	})

	t.Run("threshold is inclusive", func(t *testing.T) {
		for _, p := range []Params{{1, 1, 0}, {10, 0.001, 0}, {4.1849, 0.00518467, 0}} {
			p.K = UnitElasticityThreshold
			res, err := SolveParams(p)
			require.NoError(t, err)
			assert.Equal(t, MethodExact, res.Method)
			// at the branch point W0 = -1 so both branches agree
			assert.InDelta(t, DirectPmax(p.Q0, p.Alpha), res.Analytic, 1e-9*res.Analytic)
		}
	})

	t.Run("pure function", func(t *testing.T) {
		first, err := Solve(6.19246, 0.00259647, 5.31159)
		require.NoError(t, err)
		for i := 0; i < 10; i++ {
			again, err := Solve(6.19246, 0.00259647, 5.31159)
			require.NoError(t, err)
			assert.Equal(t, math.Float64bits(first.Analytic), math.Float64bits(again.Analytic))
			assert.Equal(t, math.Float64bits(first.Approximate), math.Float64bits(again.Approximate))
			assert.Equal(t, first.Method, again.Method)
		}
	})

	t.Run("analytic Pmax has unit elasticity", func(t *testing.T) {
		for _, p := range []Params{
			{4.1849, 0.00518467, 5.31159},
			{10, 0.001, 2},
			{100, 1e-5, 3},
			{1, 0.01, 1.2},
		} {
			res, err := SolveParams(p)
			require.NoError(t, err)
			assert.InDelta(t, -1, Elasticity(p.Q0, p.Alpha, p.K, res.Analytic), 1e-9, "%+v", p)
		}
	})
}

func TestSolve_DomainErrors(t *testing.T) {
	tests := []struct {
		name  string
		p     Params
		field string
	}{
		{"zero q0", Params{0, 1, 2}, "q0"},
		{"negative alpha", Params{1, -1, 2}, "alpha"},
		{"zero k", Params{1, 1, 0}, "k"},
		{"nan q0", Params{math.NaN(), 1, 2}, "q0"},
		{"infinite k", Params{1, 1, math.Inf(1)}, "k"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SolveParams(tt.p)
			require.Error(t, err)

			var dErr *DomainError
			require.ErrorAs(t, err, &dErr)
			assert.Equal(t, DomainKindInput, dErr.Kind)
			assert.Equal(t, tt.field, dErr.Field)
			assert.True(t, IsDomainError(err))
		})
	}

	t.Run("overflow is non-finite", func(t *testing.T) {
		_, err := Solve(1e-300, 1e-300, 5)
		var dErr *DomainError
		require.ErrorAs(t, err, &dErr)
		assert.Equal(t, DomainKindNonFinite, dErr.Kind)
	})
}

func TestExactPmax_LambertDomain(t *testing.T) {
	// called directly below the threshold the argument is beyond -1/e
	_, err := ExactPmax(1, 1, 0.5)
	require.Error(t, err)

	var dErr *DomainError
	require.ErrorAs(t, err, &dErr)
	assert.Equal(t, DomainKindLambert, dErr.Kind)
	assert.ErrorIs(t, err, ErrLambertDomain)
}
