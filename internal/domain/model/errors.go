package model

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrClaimConflict     = errors.New("entitlement code already claimed")
	ErrUnknownCode       = errors.New("entitlement code invalid")
	ErrAlreadyEntitled   = errors.New("user already holds an entitlement code")
	ErrNoCodesLeft       = errors.New("no entitlement codes available")
	ErrUnknownUser       = errors.New("user has no quota record")
	ErrChallengeUnsolved = errors.New("challenge unsolved")
	ErrElementTimeout    = errors.New("element wait timed out")
	ErrUnexpectedPage    = errors.New("unexpected page state")
)

type ValidationError struct {
	Line   int
	Input  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

type QuotaReason string

const (
	QuotaNotEntitled   QuotaReason = "not_entitled"
	QuotaBatchTooLarge QuotaReason = "batch_too_large"
	QuotaTotalLimit    QuotaReason = "total_limit"
	QuotaRateLimited   QuotaReason = "rate_limited"
)

// QuotaError rejects a whole batch before any job runs.
type QuotaError struct {
	Reason QuotaReason
	Limit  int
	Used   int
	Wait   time.Duration
}

func (e *QuotaError) Error() string {
	switch e.Reason {
	case QuotaNotEntitled:
		return "entitlement code required"
	case QuotaBatchTooLarge:
		return fmt.Sprintf("batch exceeds %d accounts per message", e.Limit)
	case QuotaTotalLimit:
		return fmt.Sprintf("total account limit reached (%d/%d)", e.Used, e.Limit)
	case QuotaRateLimited:
		return fmt.Sprintf("rate limited, retry in %s", e.Wait)
	}
	return string(e.Reason)
}

// AutomationError is a job-local failure at a named engine step.
type AutomationError struct {
	Step string
	Err  error
}

func (e *AutomationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *AutomationError) Unwrap() error { return e.Err }

func StepError(step string, err error) error {
	if err == nil {
		return nil
	}
	var ae *AutomationError
	if errors.As(err, &ae) {
		return err
	}
	return &AutomationError{Step: step, Err: err}
}

type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error { return e.Err }

func Infra(op string, err error) error {
	if err == nil {
		return nil
	}
	return &InfrastructureError{Op: op, Err: err}
}

// Classify maps a job error to the reason reported in Failed(reason).
// Raw error text never leaves this function.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrChallengeUnsolved) {
		return "challenge unsolved"
	}
	var ae *AutomationError
	if errors.As(err, &ae) {
		switch {
		case errors.Is(err, ErrElementTimeout), errors.Is(err, context.DeadlineExceeded):
			return fmt.Sprintf("timed out at %s", ae.Step)
		case errors.Is(err, context.Canceled):
			return "cancelled"
		default:
			return fmt.Sprintf("unexpected page state at %s", ae.Step)
		}
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return "processing error"
}
