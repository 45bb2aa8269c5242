package pipeline

import (
	"errors"
	"fmt"

	"docfields/internal/document"
)

// PipelineError wraps errors with the pipeline operation that failed.
type PipelineError struct {
	Op      string
	Err     error
	Details string
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("pipeline: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("pipeline: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is implements error matching.
func (e *PipelineError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// WrapPipelineError wraps err as a PipelineError unless it already is one.
func WrapPipelineError(op string, err error, details string) error {
	if err == nil {
		return nil
	}

	var pipeErr *PipelineError
	if errors.As(err, &pipeErr) {
		return err
	}

	return &PipelineError{Op: op, Err: err, Details: details}
}

// FailureReason maps a normalization error to a short machine-readable code.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, document.ErrUnsupportedMediaType):
		return "unsupported_media_type"
	case errors.Is(err, document.ErrUnsupportedPageCount):
		return "unsupported_page_count"
	case errors.Is(err, document.ErrDocumentTooLarge):
		return "document_too_large"
	case errors.Is(err, document.ErrEmptyDocument):
		return "empty_document"
	case errors.Is(err, document.ErrMalformedDocument):
		return "malformed_document"
	default:
		return "internal"
	}
}
