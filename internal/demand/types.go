package demand

import (
	"math"
)

// UnitElasticityThreshold is the smallest K for which the exponential model
// reaches a slope of -1. Equal to e / ln(10), roughly 1.1805.
var UnitElasticityThreshold = math.E / math.Ln10

// Method records which branch produced the analytic Pmax
type Method string

const (
	// MethodExact is the closed form through Lambert W
	MethodExact Method = "exact_lambert_w"
	// MethodDirect is the steepest-slope solve used below the threshold
	MethodDirect Method = "direct_slope"
)

// String returns the string representation of the method
func (m Method) String() string {
	return string(m)
}

// Rationale returns the note shown next to a row solved with this method
func (m Method) Rationale() string {
	switch m {
	case MethodExact:
		return RationaleExact
	case MethodDirect:
		return RationaleDirect
	default:
		return ""
	}
}

const (
	// RationaleExact is shown for rows solved on the Lambert W branch
	RationaleExact = "Note: Determined through exact solution using Lambert W function."
	// RationaleDirect is shown for rows solved from the empirical slope
	RationaleDirect = "Note: Solved directly referencing empirical slope."
)

// MethodFor selects the solve branch for a span constant. The boundary is
// inclusive on the exact side.
func MethodFor(k float64) Method {
	if k >= UnitElasticityThreshold {
		return MethodExact
	}
	return MethodDirect
}

// Params holds one set of fitted demand parameters
type Params struct {
	Q0    float64 `json:"q0"`
	Alpha float64 `json:"alpha"`
	K     float64 `json:"k"`
}

// IsValid checks that every parameter is finite and strictly positive
func (p Params) IsValid() bool {
	return validateParams(p) == nil
}

// SolveResult carries both Pmax estimates for one parameter set
type SolveResult struct {
	Analytic    float64 `json:"pmax_analytic"`
	Approximate float64 `json:"pmax_approximate"`
	Method      Method  `json:"method"`
}

// ReportInput is a solved row as seen by the reporter
type ReportInput struct {
	Index       int
	Params      Params
	Analytic    float64
	Approximate float64
}

// ReportEntry is the per-row display block
type ReportEntry struct {
	Row           int     `json:"row"` // 1-based
	Analytic      float64 `json:"pmax_analytic"`
	Approximate   float64 `json:"pmax_approximate"`
	QuantityDelta float64 `json:"quantity_delta"` // log units
	PriceDelta    float64 `json:"price_delta"`    // log units
	Slope         float64 `json:"slope"`
	Omax          float64 `json:"omax"`           // expenditure at the analytic Pmax
	Method        Method  `json:"method"`
	Rationale     string  `json:"rationale"`
}
