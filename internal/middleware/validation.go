package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"pmaxtools/internal/batch"
	apierrors "pmaxtools/internal/errors"
)

// Validator decodes JSON request bodies and checks their struct tags
type Validator struct {
	validator   *validator.Validate
	maxBodySize int64
}

// NewValidator creates a validator that reports JSON field names
func NewValidator(maxBodySize int64) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterValidation("gridrow", isGridRow)

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	if maxBodySize <= 0 {
		maxBodySize = 10 * 1024 * 1024 // 10MB default
	}

	return &Validator{
		validator:   v,
		maxBodySize: maxBodySize,
	}
}

// Decode reads a JSON body into dst and validates it. The returned error
// is always an *apierrors.APIError.
func (v *Validator) Decode(r *http.Request, dst interface{}) error {
	if r.ContentLength > v.maxBodySize {
		return apierrors.NewWithDetails(
			http.StatusRequestEntityTooLarge,
			"PAYLOAD_TOO_LARGE",
			"Request body exceeds maximum allowed size",
			map[string]interface{}{"max_size": v.maxBodySize, "size": r.ContentLength},
		)
	}

	dec := json.NewDecoder(io.LimitReader(r.Body, v.maxBodySize))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apierrors.New(http.StatusBadRequest, "INVALID_REQUEST", "Request body is empty")
		}
		return apierrors.InvalidRequestWithError(err)
	}

	return v.ValidateStruct(dst)
}

// ValidateStruct validates a struct and returns validation errors
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validator.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apierrors.InvalidRequestWithError(err)
	}

	validationErrors := make([]apierrors.ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		validationErrors = append(validationErrors, apierrors.ValidationError{
			Field:   fieldPath(fe),
			Message: formatValidationError(fe),
		})
	}
	return apierrors.NewValidationErrors(validationErrors)
}

// fieldPath drops the top-level struct name from the namespace
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func formatValidationError(err validator.FieldError) string {
	field := err.Field()
	param := err.Param()

	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must have at least %s items", field, param)
	case "max":
		return fmt.Sprintf("%s must have at most %s items", field, param)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, param)
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, param)
	case "uuid4":
		return fmt.Sprintf("%s must be a valid UUID", field)
	case "gridrow":
		return fmt.Sprintf("%s must have at most %d cells", field, batch.NumColumns)
	default:
		return fmt.Sprintf("%s failed %s validation", field, err.Tag())
	}
}

// isGridRow accepts rows no wider than the grid
func isGridRow(fl validator.FieldLevel) bool {
	field := fl.Field()
	if field.Kind() != reflect.Slice {
		return false
	}
	return field.Len() <= batch.NumColumns
}
