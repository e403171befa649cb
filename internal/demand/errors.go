package demand

import (
	"errors"
	"fmt"
	"math"
)

// ErrLambertDomain is returned when the argument lies outside the real
// principal branch of Lambert W (x < -1/e, NaN or infinite).
var ErrLambertDomain = errors.New("argument outside principal branch of Lambert W")

// DomainKind classifies a domain failure
type DomainKind string

const (
	DomainKindInput     DomainKind = "input"
	DomainKindLambert   DomainKind = "lambert_w"
	DomainKindNonFinite DomainKind = "non_finite"
)

// DomainError reports values outside the valid domain of the model
type DomainError struct {
	Kind    DomainKind
	Field   string
	Value   float64
	Message string
	Cause   error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e == nil {
		return "unknown domain error"
	}
	if e.Field != "" {
		return fmt.Sprintf("domain error (%s) on %s=%g: %s", e.Kind, e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("domain error (%s): %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsDomainError reports whether err is, or wraps, a *DomainError
func IsDomainError(err error) bool {
	var dErr *DomainError
	return errors.As(err, &dErr)
}

func validateParams(p Params) error {
	fields := []struct {
		name  string
		value float64
	}{
		{"q0", p.Q0},
		{"alpha", p.Alpha},
		{"k", p.K},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return &DomainError{
				Kind:    DomainKindInput,
				Field:   f.name,
				Value:   f.value,
				Message: "must be finite",
			}
		}
		if f.value <= 0 {
			return &DomainError{
				Kind:    DomainKindInput,
				Field:   f.name,
				Value:   f.value,
				Message: "must be greater than zero",
			}
		}
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
