package worker

import (
	"errors"
	"fmt"

	"hlsflow/internal/model"
)

// ErrCircuitOpen is reported by a Loop that stopped itself after reaching its
// consecutive failure threshold.
var ErrCircuitOpen = errors.New("circuit open: consecutive infrastructure failure threshold reached")

// ValidationError marks a task that can never succeed. It is dropped and does
// not count toward the breaker.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "validation: " + e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

func Validation(err error) error {
	if err == nil {
		return nil
	}
	return &ValidationError{Err: err}
}

func Validationf(format string, args ...any) error {
	return &ValidationError{Err: fmt.Errorf(format, args...)}
}

// RetryScheduledError is an infrastructure failure for which the processor
// already queued its own follow-up. Broker transports ack it instead of
// requeueing the whole task.
type RetryScheduledError struct {
	Err error
}

func (e *RetryScheduledError) Error() string { return e.Err.Error() + " (retry scheduled)" }
func (e *RetryScheduledError) Unwrap() error { return e.Err }

func RetryScheduled(err error) error {
	if err == nil {
		return nil
	}
	return &RetryScheduledError{Err: err}
}

type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeValidation
	OutcomeInfrastructure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeValidation:
		return "validation"
	default:
		return "failure"
	}
}

// Classify maps a processing error onto the three outcomes. Anything that is
// not explicitly a validation error is infrastructure.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return OutcomeValidation
	}
	var malformed *model.MalformedTaskError
	if errors.As(err, &malformed) {
		return OutcomeValidation
	}
	return OutcomeInfrastructure
}

func IsRetryScheduled(err error) bool {
	var rs *RetryScheduledError
	return errors.As(err, &rs)
}
