package trading

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrConcurrentModification is returned by stores when an order update
// carries a stale version.
var ErrConcurrentModification = errors.New("order was modified concurrently")

// FieldError is one offending field of a validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports malformed or missing fields.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records a field failure.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// FieldNames returns the sorted names of the offending fields.
func (e *ValidationError) FieldNames() []string {
	names := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		names = append(names, f.Field)
	}
	sort.Strings(names)
	return names
}

// OrNil returns nil when no field failed.
func (e *ValidationError) OrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// NotFoundError is a lookup miss.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// InvalidStateError is an operation not permitted in the current status.
type InvalidStateError struct {
	OrderID   string
	Status    Status
	Operation string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("order %s is not %s in status %s", e.OrderID, e.Operation, e.Status)
}

// RiskRejectedError is a failed pre-trade check.
type RiskRejectedError struct {
	Reason string
}

func (e *RiskRejectedError) Error() string {
	return "order rejected by risk check: " + e.Reason
}

// ExchangeError is a failure talking to the venue.
type ExchangeError struct {
	Op        string
	Err       error
	Retryable bool
	Timeout   bool
}

func (e *ExchangeError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("exchange %s timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("exchange %s failed: %v", e.Op, e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// IsRetriable reports whether the caller may retry the same request.
func (e *ExchangeError) IsRetriable() bool { return e.Retryable || e.Timeout }

// ConsistencyError means an incoming fact would break an invariant. These
// are never applied and must reach an operator.
type ConsistencyError struct {
	OrderID string
	UserID  string
	Symbol  string
	Reason  string
}

func (e *ConsistencyError) Error() string {
	var b strings.Builder
	b.WriteString("consistency violation")
	if e.OrderID != "" {
		b.WriteString(" on order ")
		b.WriteString(e.OrderID)
	}
	if e.Symbol != "" {
		fmt.Fprintf(&b, " (%s/%s)", e.UserID, e.Symbol)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

// RetriableError is implemented by errors that know whether a retry helps.
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetryable reports whether err, or anything it wraps, is retriable.
func IsRetryable(err error) bool {
	var r RetriableError
	if errors.As(err, &r) {
		return r.IsRetriable()
	}
	return false
}

func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsInvalidState(err error) bool {
	var e *InvalidStateError
	return errors.As(err, &e)
}

func IsRiskRejected(err error) bool {
	var e *RiskRejectedError
	return errors.As(err, &e)
}

func IsExchange(err error) bool {
	var e *ExchangeError
	return errors.As(err, &e)
}

func IsConsistency(err error) bool {
	var e *ConsistencyError
	return errors.As(err, &e)
}
