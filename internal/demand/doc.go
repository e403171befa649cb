// Package demand implements the analytic Pmax engine for the exponential model
// of operant demand.
//
// Pmax is the price at which a one log-unit increase in price produces a one
// log-unit decrease in consumption, i.e. the point of unit elasticity and of
// peak expenditure. Two estimates are produced for every parameter set:
//
//  1. Analytic: the exact solution of Gilroy et al. (2019) through the
//     principal branch of the Lambert W function. It only exists when
//     K >= e/ln(10); below that threshold the demand curve never reaches a
//     slope of -1 and the point of steepest slope is returned instead.
//  2. Approximate: the closed form of Hursh & Roma (2013), kept so the two
//     can be compared side by side.
//
// # Architecture
//
//   - types.go: parameter, result and report types
//   - evaluator.go: the exponential demand equation and its derivative
//   - lambertw.go: real principal branch of Lambert W
//   - solver.go: branch selection and the two Pmax estimates
//   - reporter.go: local log/log slope and rationale text for a solved row
//   - errors.go: domain errors
//
// # Usage Example
//
//	res, err := demand.Solve(4.1849, 0.00518467, 5.31159)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.Analytic, res.Approximate, res.Method)
//
// # Mathematical Foundation
//
// The exponential model (Hursh & Silberberg, 2008):
//
//	log10 Q = log10 Q0 + K * (exp(-alpha * Q0 * P) - 1)
//
// Its elasticity is
//
//	d log Q / d log P = -K * ln(10) * alpha * Q0 * P * exp(-alpha * Q0 * P)
//
// and setting it to -1 gives
//
//	Pmax = -W0(-1 / (K * ln(10))) / (alpha * Q0)
//
// # References
//
//   - Hursh, S. R., & Silberberg, A. (2008). Economic demand and essential value.
//   - Hursh, S. R., & Roma, P. G. (2013). Behavioral economics and empirical public policy.
//   - Gilroy, S. P., Kaplan, B. A., Reed, D. D., Hantula, D. A., & Hursh, S. R.
//     (2019). An exact solution for unit elasticity in the exponential model of demand.
package demand
