package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a job, volume or record is absent on a mutation path.
var ErrNotFound = errors.New("not found")

// NotFoundf wraps ErrNotFound with context.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// FieldError names one invalid input field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError is returned when a request is rejected before any write.
type ValidationError struct {
	Fields []FieldError
}

// Error lists every invalid field.
func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records an invalid field.
func (e *ValidationError) Add(field, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// OrNil returns e when it carries at least one field error, otherwise nil.
func (e *ValidationError) OrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// IsValidationError reports whether err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ValidatePercentages checks that both assumption percentages lie within [0,100].
func ValidatePercentages(coolPct, retrievalPct float64) error {
	ve := &ValidationError{}
	if !(coolPct >= 0 && coolPct <= 100) {
		ve.Add("coolDataPercentage", "must be between 0 and 100, got %g", coolPct)
	}
	if !(retrievalPct >= 0 && retrievalPct <= 100) {
		ve.Add("coolDataRetrievalPercentage", "must be between 0 and 100, got %g", retrievalPct)
	}
	return ve.OrNil()
}
