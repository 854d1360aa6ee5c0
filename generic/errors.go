/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Input errors - malformed periods and abstraction periods
  2. Lookup errors - missing licences and bill runs
  3. Store errors - duplicate writes
  4. Billing errors - orchestration failures carrying an operator code

BUSINESS OUTCOMES ARE NOT ERRORS:
  A return that matches no charge element, or an element that receives no
  volume, is recorded in the relevant issues slice for a reviewer. Only
  genuinely invalid input is returned as an error.

SEE ALSO:
  - abstraction.go: raises AbstractionPeriodError
  - billrun/processor.go: wraps failures in BillingError
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrInvalidAbstractionPeriod is returned when day/month fields are missing or out of range.
	ErrInvalidAbstractionPeriod = errors.New("invalid abstraction period")

	// ErrLicenceNotFound is returned when a referenced licence doesn't exist.
	ErrLicenceNotFound = errors.New("licence not found")

	// ErrBillRunNotFound is returned when a referenced bill run doesn't exist.
	ErrBillRunNotFound = errors.New("bill run not found")

	// ErrDuplicateTransaction is returned when a transaction id is persisted twice.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrInvalidBillRun is returned when a bill run request is incomplete or of the wrong type.
	ErrInvalidBillRun = errors.New("invalid bill run")

	// ErrInvalidTransition is returned when a bill run cannot move to the requested status.
	ErrInvalidTransition = errors.New("invalid bill run status transition")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// AbstractionPeriodError names the offending field.
type AbstractionPeriodError struct {
	Field string
	Value int
}

func (e *AbstractionPeriodError) Error() string {
	return fmt.Sprintf("invalid abstraction period: %s=%d", e.Field, e.Value)
}

func (e *AbstractionPeriodError) Unwrap() error {
	return ErrInvalidAbstractionPeriod
}

// Billing error codes, used by operators to triage failed bill runs.
const (
	CodeChargePeriod        = 10
	CodeTwoPartTariff       = 20
	CodeSupplementary       = 30
	CodeLicenceFetch        = 40
	CodePersistTransactions = 50
)

// BillingError wraps a failure inside bill run processing.
type BillingError struct {
	Code    int
	Message string
	Err     error
}

func NewBillingError(code int, message string, err error) *BillingError {
	return &BillingError{Code: code, Message: message, Err: err}
}

func (e *BillingError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("billing error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("billing error %d: %s: %v", e.Code, e.Message, e.Err)
}

func (e *BillingError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidAbstractionPeriod) ||
		errors.Is(err, ErrInvalidBillRun)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLicenceNotFound) ||
		errors.Is(err, ErrBillRunNotFound)
}

// BillingErrorCode returns the code of the first BillingError in err's chain, or 0.
func BillingErrorCode(err error) int {
	var be *BillingError
	if errors.As(err, &be) {
		return be.Code
	}
	return 0
}
