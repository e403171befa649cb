package batch

import (
	"errors"
	"fmt"
)

// ErrorType represents the type of batch error
type ErrorType string

const (
	ErrorTypeParse        ErrorType = "parse"
	ErrorTypeDomain       ErrorType = "domain"
	ErrorTypeReentrancy   ErrorType = "reentrancy"
	ErrorTypeCancellation ErrorType = "cancellation"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeNotFound     ErrorType = "not_found"
)

var (
	// ErrBatchInFlight is returned when a batch is dispatched while another
	// one is running and the wait queue is full
	ErrBatchInFlight = errors.New("batch already in flight")

	// ErrBatchCancelled is returned by Handle.Wait when the batch was
	// cancelled before its completion message was sent
	ErrBatchCancelled = errors.New("batch cancelled")

	// ErrBatchNotFound is returned for unknown batch IDs
	ErrBatchNotFound = errors.New("batch not found")

	// ErrBatchFinished is returned when cancelling a batch that already ended
	ErrBatchFinished = errors.New("batch already finished")

	// ErrBatchNotCompleted is returned when a result is requested from a
	// batch that is still pending or running, or was cancelled
	ErrBatchNotCompleted = errors.New("batch has not completed")

	// ErrNonFinite marks a cell that parses to NaN or an infinity
	ErrNonFinite = errors.New("value is not finite")

	// ErrOrchestratorClosed is returned after Shutdown
	ErrOrchestratorClosed = errors.New("orchestrator closed")
)

// ParseError reports a required cell that is not a number
type ParseError struct {
	Row    int
	Column string
	Value  string
	Cause  error
}

// Error implements the error interface
func (e *ParseError) Error() string {
	if e == nil {
		return "unknown parse error"
	}
	if e.Value == "" {
		return fmt.Sprintf("row %d: %s is blank", e.Row+1, e.Column)
	}
	if errors.Is(e.Cause, ErrNonFinite) {
		return fmt.Sprintf("row %d: %s %q is not a finite number", e.Row+1, e.Column, e.Value)
	}
	return fmt.Sprintf("row %d: %s %q is not a number", e.Row+1, e.Column, e.Value)
}

// Unwrap returns the underlying error
func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// ReentrancyError is returned when a dispatch cannot be accepted because a
// batch is already in flight
type ReentrancyError struct {
	InFlightID string
	QueueDepth int
}

// Error implements the error interface
func (e *ReentrancyError) Error() string {
	if e == nil {
		return "unknown reentrancy error"
	}
	if e.QueueDepth > 0 {
		return fmt.Sprintf("batch %s in flight and %d queued: %s", e.InFlightID, e.QueueDepth, ErrBatchInFlight)
	}
	return fmt.Sprintf("batch %s in flight: %s", e.InFlightID, ErrBatchInFlight)
}

// Unwrap returns ErrBatchInFlight so callers can use errors.Is
func (e *ReentrancyError) Unwrap() error {
	return ErrBatchInFlight
}

// ValidationError reports a dispatch that breaks a configured limit
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// GetErrorType returns the type of the error
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ""
	}

	var parseErr *ParseError
	var reErr *ReentrancyError
	var valErr *ValidationError
	switch {
	case errors.As(err, &parseErr):
		return ErrorTypeParse
	case errors.As(err, &reErr), errors.Is(err, ErrBatchInFlight):
		return ErrorTypeReentrancy
	case errors.As(err, &valErr):
		return ErrorTypeValidation
	case errors.Is(err, ErrBatchCancelled), errors.Is(err, ErrBatchFinished):
		return ErrorTypeCancellation
	case errors.Is(err, ErrBatchNotFound):
		return ErrorTypeNotFound
	default:
		return ErrorTypeDomain
	}
}

// RowWarning is attached to a row whose outputs were left blank
type RowWarning struct {
	Row     int       `json:"row"` // 0-based grid index
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
}

func newRowWarning(row int, err error) RowWarning {
	return RowWarning{
		Row:     row,
		Type:    GetErrorType(err),
		Message: err.Error(),
	}
}
