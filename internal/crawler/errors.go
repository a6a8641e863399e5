package crawler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/JakeFAU/vinmonopol-crawler/internal/product"
)

var (
	// ErrExtractionAbsent marks pages without a usable product block.
	ErrExtractionAbsent = errors.New("no product data on page")
	// ErrResumePosition is returned when the last stored identifier is missing
	// from a fresh identifier list.
	ErrResumePosition = errors.New("resume position not found in identifier list")
	// ErrQueueClosed is returned by a Queue that is closed and drained.
	ErrQueueClosed = errors.New("queue closed")
)

// TransportError wraps network failures (unreachable host, timeout, cancel).
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error for %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPStatusError reports a non-success HTTP response.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d (%s) for %s", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
}

// Retryable reports whether the status is worth another attempt.
func (e *HTTPStatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// UnparsableSizeError is returned when a package size string cannot be
// converted to liters.
type UnparsableSizeError = product.UnparsableSizeError

// EncodingError is returned when the charset repair of a text field fails.
type EncodingError struct {
	Field string
	Err   error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("repair encoding of %s: %v", e.Field, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// PersistenceError is returned when the record store cannot be written.
type PersistenceError struct {
	Path     string
	Attempts int
	Err      error
}

func (e *PersistenceError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("persist %s after %d attempts: %v", e.Path, e.Attempts, e.Err)
	}
	return fmt.Sprintf("persist %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Classify maps a pipeline error to the terminal state it implies.
func Classify(err error) ItemState {
	if err == nil {
		return StateSaved
	}
	if errors.Is(err, ErrExtractionAbsent) {
		return StateSkipped
	}
	return StateFailed
}
