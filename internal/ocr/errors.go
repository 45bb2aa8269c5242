package ocr

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Common engine errors.
var (
	// ErrProviderFailed is returned when the OCR provider rejects or fails a request.
	ErrProviderFailed = errors.New("OCR provider failed")

	// ErrTimeout is returned when a recognition attempt exceeds its deadline.
	ErrTimeout = errors.New("OCR attempt timed out")

	// ErrMissingCredentials is returned when an engine has no usable credentials.
	ErrMissingCredentials = errors.New("missing OCR provider credentials")

	// ErrInvalidCredentials is returned when the provider refuses the credentials.
	ErrInvalidCredentials = errors.New("OCR provider rejected credentials")

	// ErrQuotaExceeded is returned when the provider throttles the request.
	ErrQuotaExceeded = errors.New("OCR provider quota exceeded")

	// ErrPayloadTooLarge is returned when a page cannot be encoded under the provider's upload limit.
	ErrPayloadTooLarge = errors.New("page image exceeds provider upload limit")

	// ErrEngineUnavailable is returned when a local engine binary cannot be run.
	ErrEngineUnavailable = errors.New("OCR engine unavailable")
)

// EngineError wraps errors with the engine and operation that failed.
type EngineError struct {
	// Engine is the engine name, e.g. "google-vision".
	Engine string

	// Op is the operation that failed (e.g., "Recognize", "NewGoogleVisionEngine").
	Op string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("ocr: %s %s failed: %s: %v", e.Engine, e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("ocr: %s %s failed: %v", e.Engine, e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error matching.
func (e *EngineError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// WrapEngineError wraps an error as an EngineError if it isn't already one.
func WrapEngineError(engine, op string, err error, details string) error {
	if err == nil {
		return nil
	}

	var engErr *EngineError
	if errors.As(err, &engErr) {
		return err
	}

	return &EngineError{Engine: engine, Op: op, Err: err, Details: details}
}

// IsTimeout reports whether err represents an exceeded deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// grpcError maps a Google API error onto the package sentinels.
func grpcError(engine, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return WrapEngineError(engine, op, ErrTimeout, err.Error())
	}

	st, ok := status.FromError(err)
	if !ok {
		return WrapEngineError(engine, op, ErrProviderFailed, err.Error())
	}

	switch st.Code() {
	case codes.DeadlineExceeded:
		return WrapEngineError(engine, op, ErrTimeout, st.Message())
	case codes.ResourceExhausted:
		return WrapEngineError(engine, op, ErrQuotaExceeded, st.Message())
	case codes.Unauthenticated, codes.PermissionDenied:
		return WrapEngineError(engine, op, ErrInvalidCredentials, st.Message())
	case codes.InvalidArgument:
		return WrapEngineError(engine, op, ErrProviderFailed, fmt.Sprintf("invalid request: %s", st.Message()))
	default:
		return WrapEngineError(engine, op, ErrProviderFailed, fmt.Sprintf("%s: %s", st.Code(), st.Message()))
	}
}
