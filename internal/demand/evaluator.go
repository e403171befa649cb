package demand

import (
	"math"
)

// Evaluate returns log10 consumption under the exponential model at a price
// given in log10 units. Inputs are assumed validated; overflow and NaN are
// returned as-is for the caller to detect.
func Evaluate(q0, alpha, k, logPrice float64) float64 {
	price := math.Pow(10, logPrice)
	return math.Log10(q0) + k*(math.Exp(-alpha*q0*price)-1)
}

// Elasticity is the closed-form slope d(log Q)/d(log P) at a linear price
func Elasticity(q0, alpha, k, price float64) float64 {
	x := alpha * q0 * price
	return -k * math.Ln10 * x * math.Exp(-x)
}
