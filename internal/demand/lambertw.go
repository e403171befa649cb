package demand

import (
	"math"
)

const (
	// branchPoint is -1/e, the lower end of the real principal branch
	branchPoint = -1 / math.E

	// branchTolerance snaps arguments within rounding distance of -1/e onto
	// the branch point. K = e/ln(10) lands here after floating point.
	branchTolerance = 1e-12

	lambertMaxIterations = 64
	lambertTolerance     = 1e-15
)

// LambertW0 evaluates the real principal branch W0, the solution w >= -1 of
// w*exp(w) = x, using Halley iteration.
func LambertW0(x float64) (float64, error) {
	if math.IsNaN(x) || math.IsInf(x, -1) {
		return math.NaN(), ErrLambertDomain
	}
	if math.IsInf(x, 1) {
		return math.Inf(1), nil
	}

	offset := x - branchPoint
	if offset < -branchTolerance {
		return math.NaN(), ErrLambertDomain
	}
	if offset <= branchTolerance {
		return -1, nil
	}
	if x == 0 {
		return 0, nil
	}

	w := lambertSeed(x, offset)
	for i := 0; i < lambertMaxIterations; i++ {
		e := math.Exp(w)
		f := w*e - x
		den := e*(w+1) - (w+2)*f/(2*(w+1))
		if den == 0 {
			break
		}
		dw := f / den
		w -= dw
		if math.Abs(dw) < lambertTolerance*(1+math.Abs(w)) {
			break
		}
	}
	return w, nil
}

// lambertSeed picks a starting point close enough for Halley to converge
// quadratically: a branch-point series near -1/e, log1p for moderate x and
// the asymptotic log form for large x.
func lambertSeed(x, offset float64) float64 {
	switch {
	case offset < 0.25:
		p := math.Sqrt(2 * math.E * offset)
		return -1 + p - p*p/3 + 11.0/72.0*p*p*p
	case x < 3:
		return math.Log1p(x)
	default:
		l1 := math.Log(x)
		return l1 - math.Log(l1)
	}
}
