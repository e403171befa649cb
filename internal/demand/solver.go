package demand

import (
	"fmt"
	"math"
)

const (
	// approximation coefficients from Hursh & Roma (2013)
	approxSlope     = 0.083
	approxIntercept = 0.65
)

// Solve returns the analytic and approximate Pmax for one parameter set.
// It never panics; every failure is reported as a *DomainError.
func Solve(q0, alpha, k float64) (SolveResult, error) {
	return SolveParams(Params{Q0: q0, Alpha: alpha, K: k})
}

// SolveParams is Solve over a Params value
func SolveParams(p Params) (SolveResult, error) {
	if err := validateParams(p); err != nil {
		return SolveResult{}, err
	}

	method := MethodFor(p.K)

	var analytic float64
	var err error
	switch method {
	case MethodExact:
		analytic, err = ExactPmax(p.Q0, p.Alpha, p.K)
	default:
		analytic = DirectPmax(p.Q0, p.Alpha)
	}
	if err != nil {
		return SolveResult{}, err
	}

	approximate := ApproximatePmax(p.Q0, p.Alpha, p.K)

	if !isFinite(analytic) || analytic <= 0 {
		return SolveResult{}, &DomainError{
			Kind:    DomainKindNonFinite,
			Field:   "pmax_analytic",
			Value:   analytic,
			Message: "analytic solution is not a finite positive number",
		}
	}
	if !isFinite(approximate) || approximate <= 0 {
		return SolveResult{}, &DomainError{
			Kind:    DomainKindNonFinite,
			Field:   "pmax_approximate",
			Value:   approximate,
			Message: "approximate solution is not a finite positive number",
		}
	}

	return SolveResult{
		Analytic:    analytic,
		Approximate: approximate,
		Method:      method,
	}, nil
}

// ExactPmax solves elasticity = -1 in closed form (Gilroy et al., 2019):
//
//	Pmax = -W0(-1 / (K ln 10)) / (alpha Q0)
func ExactPmax(q0, alpha, k float64) (float64, error) {
	arg := -1 / (k * math.Ln10)
	w, err := LambertW0(arg)
	if err != nil {
		return math.NaN(), &DomainError{
			Kind:    DomainKindLambert,
			Field:   "k",
			Value:   k,
			Message: fmt.Sprintf("lambert argument %g has no real principal solution", arg),
			Cause:   err,
		}
	}
	return -w / (alpha * q0), nil
}

// DirectPmax returns the price of steepest slope, alpha*Q0*P = 1. Below the
// threshold the slope never reaches -1 and this is its closest approach.
func DirectPmax(q0, alpha float64) float64 {
	return 1 / (alpha * q0)
}

// ApproximatePmax is the legacy closed form of Hursh & Roma (2013)
func ApproximatePmax(q0, alpha, k float64) float64 {
	return (approxSlope*k + approxIntercept) / (q0 * alpha * math.Pow(k, 1.5))
}
