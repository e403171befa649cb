package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"runtime/debug"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"pmaxtools/internal/batch"
	"pmaxtools/internal/demand"
	"pmaxtools/internal/sheets"
)

// Common error types following RFC 7807
const (
	TypeValidation      = "/errors/validation"
	TypeNotFound        = "/errors/not-found"
	TypeMethodNotAllow  = "/errors/method-not-allowed"
	TypeRateLimit       = "/errors/rate-limit"
	TypeInternal        = "/errors/internal"
	TypeServiceDown     = "/errors/service-unavailable"
	TypeTimeout         = "/errors/timeout"
	TypeConflict        = "/errors/conflict"
	TypePayloadTooLarge = "/errors/payload-too-large"
	TypeUnsupportedType = "/errors/unsupported-media-type"
)

// Domain-specific error types
const (
	TypeBatchInFlight  = "/errors/batch/in-flight"
	TypeBatchFinished  = "/errors/batch/finished"
	TypeBatchNotFound  = "/errors/batch/not-found"
	TypeBatchTooLarge  = "/errors/batch/too-large"
	TypeBatchNotReady  = "/errors/batch/not-ready"
	TypeSpreadsheet    = "/errors/pmax/spreadsheet"
	TypeDomain         = "/errors/pmax/domain"
	TypeParse          = "/errors/pmax/parse"
	TypeWebSocketError = "/errors/websocket/upgrade-failed"
)

// ErrorHandler provides centralized error handling
type ErrorHandler struct {
	logger       *slog.Logger
	includeStack bool
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *slog.Logger, includeStack bool) *ErrorHandler {
	return &ErrorHandler{
		logger:       logger.With(slog.String("component", "error_handler")),
		includeStack: includeStack,
	}
}

// HandleError converts any error to RFC 7807 format and responds
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	reqID := middleware.GetReqID(r.Context())
	problem := h.ErrorToProblem(err, r)
	problem.WithExtension("trace_id", reqID)

	level := slog.LevelWarn
	if problem.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "request failed",
		slog.String("error", err.Error()),
		slog.Int("status", problem.Status),
		slog.String("request_id", reqID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)

	if h.includeStack && problem.Status >= http.StatusInternalServerError {
		problem.WithExtension("stack", getStackTrace())
	}

	render.Render(w, r, problem)
}

// ErrorToProblem converts an error to RFC 7807 Problem Details
func (h *ErrorHandler) ErrorToProblem(err error, r *http.Request) *ProblemDetails {
	instance := r.URL.Path

	if errors.Is(err, context.DeadlineExceeded) {
		return NewProblemDetails(
			http.StatusGatewayTimeout,
			TypeTimeout,
			"Request Timeout",
			"The request took too long to process and was cancelled",
			instance,
		)
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return h.apiErrorToProblem(apiErr, r)
	}

	var reErr *batch.ReentrancyError
	if errors.As(err, &reErr) {
		return NewProblemDetails(
			http.StatusConflict,
			TypeBatchInFlight,
			"Batch In Flight",
			"Another batch is still being processed. Wait for its completion before dispatching again.",
			instance,
		).WithExtension("in_flight_id", reErr.InFlightID).
			WithExtension("queued", reErr.QueueDepth)
	}

	var valErr *batch.ValidationError
	if errors.As(err, &valErr) {
		return NewProblemDetails(
			http.StatusRequestEntityTooLarge,
			TypeBatchTooLarge,
			"Batch Rejected",
			valErr.Error(),
			instance,
		).WithExtension("errors", []ValidationError{{Field: valErr.Field, Message: valErr.Message}})
	}

	var domainErr *demand.DomainError
	if errors.As(err, &domainErr) {
		return NewProblemDetails(
			http.StatusUnprocessableEntity,
			TypeDomain,
			"Outside Model Domain",
			domainErr.Error(),
			instance,
		).WithExtension("kind", string(domainErr.Kind)).
			WithExtension("field", domainErr.Field)
	}

	var parseErr *batch.ParseError
	if errors.As(err, &parseErr) {
		return NewProblemDetails(
			http.StatusBadRequest,
			TypeParse,
			"Unparsable Cell",
			parseErr.Error(),
			instance,
		).WithExtension("column", parseErr.Column)
	}

	switch {
	case errors.Is(err, batch.ErrBatchNotFound):
		return NewProblemDetails(
			http.StatusNotFound,
			TypeBatchNotFound,
			"Batch Not Found",
			err.Error(),
			instance,
		)

	case errors.Is(err, batch.ErrBatchFinished):
		return NewProblemDetails(
			http.StatusConflict,
			TypeBatchFinished,
			"Batch Already Finished",
			err.Error(),
			instance,
		)

	case errors.Is(err, batch.ErrBatchNotCompleted):
		return NewProblemDetails(
			http.StatusConflict,
			TypeBatchNotReady,
			"Batch Not Completed",
			err.Error(),
			instance,
		)

	case errors.Is(err, sheets.ErrUnsupportedFormat):
		return NewProblemDetails(
			http.StatusUnsupportedMediaType,
			TypeUnsupportedType,
			"Unsupported Spreadsheet",
			err.Error(),
			instance,
		)

	case errors.Is(err, sheets.ErrEmptySheet):
		return NewProblemDetails(
			http.StatusBadRequest,
			TypeSpreadsheet,
			"Empty Spreadsheet",
			err.Error(),
			instance,
		)

	case errors.Is(err, batch.ErrOrchestratorClosed):
		return NewProblemDetails(
			http.StatusServiceUnavailable,
			TypeServiceDown,
			"Service Unavailable",
			"The server is shutting down",
			instance,
		)

	case errors.Is(err, context.Canceled):
		return NewProblemDetails(
			http.StatusServiceUnavailable,
			TypeServiceDown,
			"Request Cancelled",
			"The request was cancelled before it completed",
			instance,
		)

	default:
		return NewProblemDetails(
			http.StatusInternalServerError,
			TypeInternal,
			"Internal Server Error",
			"An unexpected error occurred while processing your request",
			instance,
		)
	}
}

// apiErrorToProblem converts APIError to ProblemDetails
func (h *ErrorHandler) apiErrorToProblem(apiErr *APIError, r *http.Request) *ProblemDetails {
	problemType := TypeInternal
	switch apiErr.ErrorCode {
	case "VALIDATION_FAILED", "INVALID_REQUEST":
		problemType = TypeValidation
	case "NOT_FOUND":
		problemType = TypeNotFound
	case "PAYLOAD_TOO_LARGE":
		problemType = TypePayloadTooLarge
	case "UNSUPPORTED_MEDIA_TYPE":
		problemType = TypeUnsupportedType
	case "RATE_LIMIT_EXCEEDED":
		problemType = TypeRateLimit
	case "SERVICE_UNAVAILABLE":
		problemType = TypeServiceDown
	case "WEBSOCKET_UPGRADE_FAILED":
		problemType = TypeWebSocketError
	}

	problem := NewProblemDetails(
		apiErr.StatusCode,
		problemType,
		http.StatusText(apiErr.StatusCode),
		apiErr.Message,
		r.URL.Path,
	).WithExtension("error_code", apiErr.ErrorCode)

	if apiErr.Details != nil {
		problem.WithExtension("details", apiErr.Details)
	}

	return problem
}

// HandlePanic responds to a recovered panic with a 500 problem
func (h *ErrorHandler) HandlePanic(w http.ResponseWriter, r *http.Request, recovered interface{}) {
	reqID := middleware.GetReqID(r.Context())

	h.logger.ErrorContext(r.Context(), "panic recovered",
		slog.Any("panic", recovered),
		slog.String("request_id", reqID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("stack", string(debug.Stack())),
	)

	problem := NewProblemDetails(
		http.StatusInternalServerError,
		TypeInternal,
		"Internal Server Error",
		"An unexpected error occurred",
		r.URL.Path,
	).WithExtension("trace_id", reqID)

	if h.includeStack {
		problem.WithExtension("panic", fmt.Sprintf("%v", recovered))
		problem.WithExtension("stack", getStackTrace())
	}

	render.Render(w, r, problem)
}

// NotFound returns a standard 404 error
func (h *ErrorHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	problem := NewProblemDetails(
		http.StatusNotFound,
		TypeNotFound,
		"Not Found",
		"The requested resource was not found",
		r.URL.Path,
	).WithExtension("trace_id", middleware.GetReqID(r.Context()))

	render.Render(w, r, problem)
}

// MethodNotAllowed returns a standard 405 error
func (h *ErrorHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	problem := NewProblemDetails(
		http.StatusMethodNotAllowed,
		TypeMethodNotAllow,
		"Method Not Allowed",
		fmt.Sprintf("Method %s is not allowed for this endpoint", r.Method),
		r.URL.Path,
	).WithExtension("trace_id", middleware.GetReqID(r.Context()))

	render.Render(w, r, problem)
}

func getStackTrace() string {
	buf := make([]byte, 1024*8)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// RecoveryMiddleware provides panic recovery with problem responses
func RecoveryMiddleware(handler *ErrorHandler) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					if rvr == http.ErrAbortHandler {
						panic(rvr)
					}
					handler.HandlePanic(w, r, rvr)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
