package demand

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// PriceDelta is the step in log10 price used for the local slope
	PriceDelta = 0.01

	// degenerateDelta is the magnitude below which both deltas are treated
	// as indeterminate and the slope is reported as -1
	degenerateDelta = 0.001
)

// Describe derives the local log/log slope around the analytic Pmax of an
// already solved row, using its fitted parameters, and attaches the
// rationale for the branch that produced it.
func Describe(in ReportInput) (ReportEntry, error) {
	if err := validateParams(in.Params); err != nil {
		return ReportEntry{}, err
	}
	if !isFinite(in.Analytic) || in.Analytic <= 0 {
		return ReportEntry{}, &DomainError{
			Kind:    DomainKindNonFinite,
			Field:   "pmax_analytic",
			Value:   in.Analytic,
			Message: "cannot describe a row without a positive analytic Pmax",
		}
	}

	p := in.Params
	p1 := math.Log10(in.Analytic)
	p2 := p1 + PriceDelta

	q1 := Evaluate(p.Q0, p.Alpha, p.K, p1)
	q2 := Evaluate(p.Q0, p.Alpha, p.K, p2)

	qd := q2 - q1
	pd := p2 - p1

	method := MethodFor(p.K)

	return ReportEntry{
		Row:           in.Index + 1,
		Analytic:      in.Analytic,
		Approximate:   in.Approximate,
		QuantityDelta: qd,
		PriceDelta:    pd,
		Slope:         LocalSlope(qd, pd),
		Omax:          in.Analytic * math.Pow(10, q1),
		Method:        method,
		Rationale:     method.Rationale(),
	}, nil
}

// LocalSlope divides the log deltas, returning the sentinel -1 when both
// are too small to be meaningful.
func LocalSlope(qd, pd float64) float64 {
	if math.Abs(qd) < degenerateDelta && math.Abs(pd) < degenerateDelta {
		return -1
	}
	return qd / pd
}

// SlopeText formats the slope the way the output log shows it
func (e ReportEntry) SlopeText() string {
	if math.Abs(e.QuantityDelta) < degenerateDelta && math.Abs(e.PriceDelta) < degenerateDelta {
		return "-1"
	}
	return strconv.FormatFloat(e.Slope, 'f', 8, 64)
}

// String renders the display block for the output log
func (e ReportEntry) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Row #%d\n", e.Row)
	fmt.Fprintf(&b, "Analytical Pmax = %s\n", FormatValue(e.Analytic))
	fmt.Fprintf(&b, "Approximate Pmax = %s\n", FormatValue(e.Approximate))
	fmt.Fprintf(&b, "ΔQ/ΔP (Log/Log) +/- 1%% Unit Price = %s / %s = %s\n",
		FormatValue(e.QuantityDelta), FormatValue(e.PriceDelta), e.SlopeText())
	b.WriteString(e.Rationale)
	return b.String()
}

// FormatValue renders a number with five significant digits
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', 5, 64)
}
