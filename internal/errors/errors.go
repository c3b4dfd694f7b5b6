// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrEmptyTimeline     = errors.New("timeline is empty")
	ErrInvalidFrames     = errors.New("invalid frame batch")
	ErrMissingContext    = errors.New("decision context unavailable")
	ErrProviderTimeout   = errors.New("decision provider timed out")
	ErrInvalidPayload    = errors.New("invalid decision payload")
	ErrAgentNotFound     = errors.New("agent not found")
	ErrDuplicateDecision = errors.New("decision already applied")
	ErrSnapshotNotFound  = errors.New("snapshot not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNoPosition        = errors.New("no position to sell")
	ErrInvalidOrder      = errors.New("invalid order")
	ErrNoPrice           = errors.New("no price for symbol")
	ErrConfigInvalid     = errors.New("invalid configuration")
)

// DataError represents a malformed or empty frame batch.
type DataError struct {
	DataType string
	Symbol   string
	Message  string
	Err      error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data error [%s] %s: %s: %v", e.DataType, e.Symbol, e.Message, e.Err)
	}
	return fmt.Sprintf("data error [%s] %s: %s", e.DataType, e.Symbol, e.Message)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError creates a new DataError.
func NewDataError(dataType, symbol, message string, err error) *DataError {
	return &DataError{
		DataType: dataType,
		Symbol:   symbol,
		Message:  message,
		Err:      err,
	}
}

// ProviderError represents a failed evaluation of one agent in one cycle.
type ProviderError struct {
	AgentID string
	Cycle   int
	Reason  string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider error [%s#%d] %s: %v", e.AgentID, e.Cycle, e.Reason, e.Err)
	}
	return fmt.Sprintf("provider error [%s#%d] %s", e.AgentID, e.Cycle, e.Reason)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a new ProviderError.
func NewProviderError(agentID string, cycle int, reason string, err error) *ProviderError {
	return &ProviderError{
		AgentID: agentID,
		Cycle:   cycle,
		Reason:  reason,
		Err:     err,
	}
}

// AccountingError reports a ledger invariant that did not hold. It is a
// diagnostic: the ledger keeps going and callers log it.
type AccountingError struct {
	AgentID  string
	Symbol   string
	Rule     string
	Expected float64
	Actual   float64
}

func (e *AccountingError) Error() string {
	return fmt.Sprintf("accounting invariant [%s] %s %s: expected %.2f, got %.2f", e.Rule, e.AgentID, e.Symbol, e.Expected, e.Actual)
}

// NewAccountingError creates a new AccountingError.
func NewAccountingError(agentID, symbol, rule string, expected, actual float64) *AccountingError {
	return &AccountingError{
		AgentID:  agentID,
		Symbol:   symbol,
		Rule:     rule,
		Expected: expected,
		Actual:   actual,
	}
}

// PersistenceError represents a failed durable write or read.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error [%s] %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// NewPersistenceError creates a new PersistenceError.
func NewPersistenceError(op, path string, err error) *PersistenceError {
	return &PersistenceError{
		Op:   op,
		Path: path,
		Err:  err,
	}
}

// OrderError represents a rejected paper order.
type OrderError struct {
	OrderID string
	Symbol  string
	Action  string
	Reason  string
	Err     error
}

func (e *OrderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("order error [%s] %s %s: %s: %v", e.OrderID, e.Action, e.Symbol, e.Reason, e.Err)
	}
	return fmt.Sprintf("order error [%s] %s %s: %s", e.OrderID, e.Action, e.Symbol, e.Reason)
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

// NewOrderError creates a new OrderError.
func NewOrderError(orderID, symbol, action, reason string, err error) *OrderError {
	return &OrderError{
		OrderID: orderID,
		Symbol:  symbol,
		Action:  action,
		Reason:  reason,
		Err:     err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}
