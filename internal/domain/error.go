package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrJobNotCompleted    = errors.New("job is not completed")
	ErrQueueStopped       = errors.New("queue is not running")
	ErrInvalidExecContext = errors.New("invalid execution context")

	// Pipeline error classes
	ErrInvalidJob         = errors.New("invalid job")
	ErrTransientInference = errors.New("transient inference error")
	ErrTransientIO        = errors.New("transient io error")
	ErrPermanentFile      = errors.New("permanent file error")
	ErrInfrastructure     = errors.New("infrastructure unavailable")
	ErrMalformedOutput    = errors.New("malformed model output")
)

// ClassifiedError ties a concrete cause to one of the pipeline error classes,
// so callers can branch with errors.Is on either.
type ClassifiedError struct {
	Class error
	Op    string
	Err   error
}

func (e *ClassifiedError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%v: %v", e.Class, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Class, e.Err)
}

func (e *ClassifiedError) Unwrap() []error { return []error{e.Class, e.Err} }

func classify(class error, op string, err error) error {
	if err == nil {
		err = class
	}
	return &ClassifiedError{Class: class, Op: op, Err: err}
}

func TransientInference(op string, err error) error { return classify(ErrTransientInference, op, err) }
func TransientIO(op string, err error) error        { return classify(ErrTransientIO, op, err) }
func PermanentFile(op string, err error) error      { return classify(ErrPermanentFile, op, err) }
func Infrastructure(op string, err error) error     { return classify(ErrInfrastructure, op, err) }

// InvalidJob reports a rejected submission with a human readable reason.
func InvalidJob(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidJob, reason)
}

// IsRetryable reports whether a per-file attempt failed with a transient cause.
// Attempt deadlines count as transient; caller cancellation does not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermanentFile) || errors.Is(err, ErrInfrastructure) || errors.Is(err, ErrInvalidJob) {
		return false
	}
	return errors.Is(err, ErrTransientInference) ||
		errors.Is(err, ErrTransientIO) ||
		errors.Is(err, context.DeadlineExceeded)
}

// ErrorClass returns a short label for metrics and logs.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrInfrastructure):
		return "infrastructure"
	case errors.Is(err, ErrPermanentFile):
		return "permanent"
	case errors.Is(err, ErrTransientInference):
		return "transient_inference"
	case errors.Is(err, ErrTransientIO):
		return "transient_io"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "unknown"
	}
}
