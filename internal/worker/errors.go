package worker

import "fmt"

// FailureKind splits delivery failures into ones worth retrying and ones
// that can never succeed.
type FailureKind int

const (
	// Transient failures consume an attempt and retry on the next tick
	// until the attempt cap.
	Transient FailureKind = iota
	// Fatal failures end the job on first occurrence regardless of the
	// attempt count. A missing template is the canonical case.
	Fatal
)

// DeliveryError tags a per-job failure with its kind.
type DeliveryError struct {
	Kind FailureKind
	Err  error
}

func (e *DeliveryError) Error() string { return e.Err.Error() }

func (e *DeliveryError) Unwrap() error { return e.Err }

func transientf(format string, args ...any) *DeliveryError {
	return &DeliveryError{Kind: Transient, Err: fmt.Errorf(format, args...)}
}

func fatalf(format string, args ...any) *DeliveryError {
	return &DeliveryError{Kind: Fatal, Err: fmt.Errorf(format, args...)}
}
