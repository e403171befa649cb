package http

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pmaxtools/internal/batch"
	"pmaxtools/internal/demand"
	apierrors "pmaxtools/internal/errors"
	"pmaxtools/internal/middleware"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// DispatchRequest is the body of POST /batches
type DispatchRequest struct {
	Data batch.Grid `json:"data" validate:"required,dive,gridrow"`
}

// SolveRequest is the body of POST /solve
type SolveRequest struct {
	Q0    float64 `json:"q0" validate:"gt=0"`
	Alpha float64 `json:"alpha" validate:"gt=0"`
	K     float64 `json:"k" validate:"gt=0"`
}

// ImportResponse is returned by POST /import
type ImportResponse struct {
	Filename string     `json:"filename"`
	Rows     int        `json:"rows"`
	Data     batch.Grid `json:"data"`
}

// PmaxHandler serves the solver and batch endpoints
type PmaxHandler struct {
	service        PmaxServiceInterface
	validator      *middleware.Validator
	errors         *apierrors.ErrorHandler
	maxUploadBytes int64
	tracer         trace.Tracer
	logger         *slog.Logger
}

// NewPmaxHandler creates a new Pmax handler
func NewPmaxHandler(service PmaxServiceInterface, validator *middleware.Validator, errHandler *apierrors.ErrorHandler, maxUploadBytes int64, logger *slog.Logger) *PmaxHandler {
	if service == nil {
		panic("service cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &PmaxHandler{
		service:        service,
		validator:      validator,
		errors:         errHandler,
		maxUploadBytes: maxUploadBytes,
		tracer:         otel.Tracer("pmax-handler"),
		logger:         logger.With(slog.String("handler", "pmax")),
	}
}

// Routes returns a chi router for the /api/pmax endpoints
func (h *PmaxHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/solve", h.Solve)
	r.Get("/example", h.Example)
	r.Post("/import", h.Import)

	r.Route("/batches", func(r chi.Router) {
		r.Post("/", h.Dispatch)
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Delete("/{id}", h.Cancel)
		r.Get("/{id}/export.xlsx", h.Export)
	})

	return r
}

// Solve handles POST /api/pmax/solve
func (h *PmaxHandler) Solve(w http.ResponseWriter, r *http.Request) {
	var req SolveRequest
	if err := h.validator.Decode(r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	view, err := h.service.Solve(r.Context(), demand.Params{Q0: req.Q0, Alpha: req.Alpha, K: req.K})
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, view)
}

// Dispatch handles POST /api/pmax/batches
func (h *PmaxHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "pmax_handler.dispatch",
		trace.WithAttributes(attribute.String("request_id", middleware.GetRequestID(r.Context()))))
	defer span.End()

	var req DispatchRequest
	if err := h.validator.Decode(r, &req); err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("error.type", "request_validation"))
		h.errors.HandleError(w, r, err)
		return
	}
	span.SetAttributes(attribute.Int("batch.rows", len(req.Data)))

	res, err := h.service.Dispatch(ctx, req.Data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch failed")
		h.errors.HandleError(w, r, err)
		return
	}
	span.SetAttributes(attribute.String("batch.id", res.ID))

	w.Header().Set("Location", fmt.Sprintf("%s/%s", r.URL.Path, res.ID))
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, res)
}

// List handles GET /api/pmax/batches
func (h *PmaxHandler) List(w http.ResponseWriter, r *http.Request) {
	filter := batch.Filter{Status: batch.Status(r.URL.Query().Get("status"))}

	switch filter.Status {
	case "", batch.StatusPending, batch.StatusRunning, batch.StatusCompleted, batch.StatusCancelled:
	default:
		h.errors.HandleError(w, r, apierrors.NewValidationErrors([]apierrors.ValidationError{
			{Field: "status", Message: fmt.Sprintf("unknown status %q", filter.Status)},
		}))
		return
	}

	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			h.errors.HandleError(w, r, apierrors.NewValidationErrors([]apierrors.ValidationError{
				{Field: "limit", Message: "limit must be a non-negative integer"},
			}))
			return
		}
		filter.Limit = limit
	}

	if v := r.URL.Query().Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.errors.HandleError(w, r, apierrors.NewValidationErrors([]apierrors.ValidationError{
				{Field: "since", Message: "since must be an RFC 3339 timestamp"},
			}))
			return
		}
		filter.Since = since
	}

	records, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	if records == nil {
		records = []*batch.Record{}
	}
	render.JSON(w, r, map[string]interface{}{
		"batches": records,
		"count":   len(records),
	})
}

// Get handles GET /api/pmax/batches/{id}
func (h *PmaxHandler) Get(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, view)
}

// Cancel handles DELETE /api/pmax/batches/{id}
func (h *PmaxHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.Cancel(r.Context(), id); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]string{
		"id":     id,
		"status": string(batch.StatusCancelled),
	})
}

// Export handles GET /api/pmax/batches/{id}/export.xlsx
func (h *PmaxHandler) Export(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Buffer so a failure can still be reported as a problem response
	var buf bytes.Buffer
	if err := h.service.Export(r.Context(), id, &buf); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="pmax-%s.xlsx"`, id))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.WarnContext(r.Context(), "export write failed",
			slog.String("batch_id", id),
			slog.String("error", err.Error()))
	}
}

// Example handles GET /api/pmax/example
func (h *PmaxHandler) Example(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, DispatchRequest{Data: h.service.Example()})
}

// Import handles POST /api/pmax/import with a multipart "file" field
func (h *PmaxHandler) Import(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.errors.HandleError(w, r, apierrors.ErrPayloadTooLarge)
			return
		}
		h.errors.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.errors.HandleError(w, r, apierrors.NewValidationErrors([]apierrors.ValidationError{
			{Field: "file", Message: "file is required"},
		}))
		return
	}
	defer file.Close()

	grid, err := h.service.Import(r.Context(), file, header.Filename)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, ImportResponse{
		Filename: header.Filename,
		Rows:     len(grid),
		Data:     grid,
	})
}
