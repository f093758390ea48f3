package embedding

import (
	"errors"
	"fmt"
)

// Kind classifies an embedding failure.
type Kind int

const (
	// Transient failures (timeout, network, 5xx, 429, open breaker) may succeed on retry.
	Transient Kind = iota + 1
	// Permanent failures (4xx, malformed body, count mismatch) will not.
	Permanent
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ServiceError is the single error type returned by Client implementations.
// Batch holds the texts of the request that failed.
type ServiceError struct {
	Kind       Kind
	StatusCode int
	Batch      []string
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("embedding service error (%s, status %d, batch of %d): %v", e.Kind, e.StatusCode, len(e.Batch), e.Err)
	}
	return fmt.Sprintf("embedding service error (%s, batch of %d): %v", e.Kind, len(e.Batch), e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure is a candidate for retry.
func (e *ServiceError) Transient() bool {
	return e.Kind == Transient
}

// IsTransient reports whether err wraps a transient *ServiceError.
func IsTransient(err error) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.Transient()
}

func newTransient(batch []string, status int, err error) *ServiceError {
	return &ServiceError{Kind: Transient, StatusCode: status, Batch: batch, Err: err}
}

func newPermanent(batch []string, status int, err error) *ServiceError {
	return &ServiceError{Kind: Permanent, StatusCode: status, Batch: batch, Err: err}
}
