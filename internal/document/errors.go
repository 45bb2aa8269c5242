package document

import (
	"errors"
	"fmt"
)

// Normalization errors. They are fatal for a request: no engine is called.
var (
	// ErrUnsupportedMediaType is returned when the input is neither an image,
	// a PDF nor a CFDI XML document, or when its content cannot be decoded.
	ErrUnsupportedMediaType = errors.New("unsupported media type")

	// ErrUnsupportedPageCount is returned when a PDF exceeds the configured page limit.
	ErrUnsupportedPageCount = errors.New("unsupported page count")

	// ErrDocumentTooLarge is returned when the payload exceeds the configured byte ceiling.
	ErrDocumentTooLarge = errors.New("document exceeds the maximum size")

	// ErrEmptyDocument is returned for zero-byte payloads and PDFs without pages.
	ErrEmptyDocument = errors.New("document is empty")

	// ErrMalformedDocument is returned when a recognised format is corrupt.
	ErrMalformedDocument = errors.New("malformed document")
)

// NormalizeError wraps errors with the operation and detail that produced them.
type NormalizeError struct {
	Op      string
	Err     error
	Details string
}

// Error implements the error interface.
func (e *NormalizeError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("document: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("document: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *NormalizeError) Unwrap() error {
	return e.Err
}

// Is implements error matching.
func (e *NormalizeError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// WrapNormalizeError wraps err as a NormalizeError unless it already is one.
func WrapNormalizeError(op string, err error, details string) error {
	if err == nil {
		return nil
	}

	var normErr *NormalizeError
	if errors.As(err, &normErr) {
		return err
	}

	return &NormalizeError{Op: op, Err: err, Details: details}
}
