// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrCircuitOpen        = errors.New("circuit breaker is open")
	ErrSyncInProgress     = errors.New("synchronization already in progress")
	ErrPositionNotFound   = errors.New("position not found")
	ErrTargetNotFound     = errors.New("target not found")
	ErrSymbolNotFound     = errors.New("symbol not found")
	ErrSymbolNotTradeable = errors.New("symbol not tradeable")
	ErrNotRunning         = errors.New("execution is not running")
	ErrAlreadyRunning     = errors.New("execution is already running")
	ErrUnhealthy          = errors.New("health checks failed")
	ErrStaleTarget        = errors.New("target is older than 24h")
)

// ConfigError represents an invalid configuration. It aborts the mutation or
// startup that produced it; configuration is never partially applied.
type ConfigError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field string, value interface{}, message string) *ConfigError {
	return &ConfigError{Field: field, Value: value, Message: message}
}

// ExecutionError represents a failed exchange call during trade execution.
// It is converted into a failed TradeResult plus an alert, never propagated
// to the execution loop.
type ExecutionError struct {
	Symbol    string
	Operation string
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution error [%s] %s: %v", e.Symbol, e.Operation, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// NewExecutionError creates a new ExecutionError.
func NewExecutionError(symbol, operation string, err error) *ExecutionError {
	return &ExecutionError{Symbol: symbol, Operation: operation, Err: err}
}

// ConsistencyError represents a reconciliation that could not complete or
// left unresolved drift between memory and the durable store.
type ConsistencyError struct {
	Owner   string
	Message string
	Err     error
}

func (e *ConsistencyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("consistency error [%s]: %s: %v", e.Owner, e.Message, e.Err)
	}
	return fmt.Sprintf("consistency error [%s]: %s", e.Owner, e.Message)
}

func (e *ConsistencyError) Unwrap() error {
	return e.Err
}

// NewConsistencyError creates a new ConsistencyError.
func NewConsistencyError(owner, message string, err error) *ConsistencyError {
	return &ConsistencyError{Owner: owner, Message: message, Err: err}
}

// CriticalError represents a safety-system critical state or an open breaker
// that must halt trading.
type CriticalError struct {
	Component string
	Reason    string
}

func (e *CriticalError) Error() string {
	return fmt.Sprintf("critical system error [%s]: %s", e.Component, e.Reason)
}

// NewCriticalError creates a new CriticalError.
func NewCriticalError(component, reason string) *CriticalError {
	return &CriticalError{Component: component, Reason: reason}
}

// StoreError represents a durable-store failure.
type StoreError struct {
	Operation string
	Err       error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error [%s]: %v", e.Operation, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError.
func NewStoreError(operation string, err error) *StoreError {
	return &StoreError{Operation: operation, Err: err}
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
