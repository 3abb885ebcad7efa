// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrInvalidOrder      = errors.New("invalid order")
	ErrSymbolNotFound    = errors.New("symbol not found")
	ErrRateLimited       = errors.New("rate limited")
	ErrConnectionFailed  = errors.New("connection failed")
	ErrConfigInvalid     = errors.New("invalid configuration")
	ErrDataNotFound      = errors.New("data not found")
	ErrDatabaseError     = errors.New("database error")
	ErrEncoding          = errors.New("encoding error")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrInvariant         = errors.New("invariant violation")
	ErrNotImplemented    = errors.New("not implemented")
	ErrTransport         = errors.New("transport failure")
	ErrUnmapped          = errors.New("unmapped wire value")
	ErrGatewayClosed     = errors.New("gateway closed")

	// ErrTradeNotFlat is returned when closing a trade whose net quantity is not zero.
	ErrTradeNotFlat = fmt.Errorf("%w: trade not flat", ErrInvalidTransition)
)

// BrokerError represents an error from the broker API.
type BrokerError struct {
	Code    string
	Message string
	Err     error
}

func (e *BrokerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker error [%s]: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("broker error [%s]: %s", e.Code, e.Message)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// NewBrokerError creates a new BrokerError.
func NewBrokerError(code, message string, err error) *BrokerError {
	return &BrokerError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// OrderError represents an error related to order operations.
type OrderError struct {
	OrderID string
	FIGI    string
	Action  string
	Reason  string
	Err     error
}

func (e *OrderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("order error [%s] %s %s: %s: %v", e.OrderID, e.Action, e.FIGI, e.Reason, e.Err)
	}
	return fmt.Sprintf("order error [%s] %s %s: %s", e.OrderID, e.Action, e.FIGI, e.Reason)
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

// NewOrderError creates a new OrderError.
func NewOrderError(orderID, figi, action, reason string, err error) *OrderError {
	return &OrderError{
		OrderID: orderID,
		FIGI:    figi,
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

// EncodingError reports a fixed-point value that cannot be represented.
type EncodingError struct {
	Value  string
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encoding error: %s: %s", e.Value, e.Reason)
}

func (e *EncodingError) Unwrap() error {
	return ErrEncoding
}

// NewEncodingError creates a new EncodingError.
func NewEncodingError(value, reason string) *EncodingError {
	return &EncodingError{Value: value, Reason: reason}
}

// TransitionError reports a state-machine operation invoked from a state
// that does not permit it.
type TransitionError struct {
	Entity string
	State  string
	Op     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: cannot %s %s in state %s", e.Op, e.Entity, e.State)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// NewTransitionError creates a new TransitionError.
func NewTransitionError(entity, state, op string) *TransitionError {
	return &TransitionError{Entity: entity, State: state, Op: op}
}

// InvariantError reports a violated quantity or consistency constraint.
type InvariantError struct {
	Entity string
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violation [%s]: %s", e.Entity, e.Reason)
}

func (e *InvariantError) Unwrap() error {
	return ErrInvariant
}

// NewInvariantError creates a new InvariantError.
func NewInvariantError(entity, reason string) *InvariantError {
	return &InvariantError{Entity: entity, Reason: reason}
}

// TransportError represents an RPC or stream failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error [%s]: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrTransport) match any TransportError.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

// NewTransportError creates a new TransportError.
func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}

// DataError represents a data-related error.
type DataError struct {
	DataType string
	FIGI     string
	Message  string
	Err      error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data error [%s] %s: %s: %v", e.DataType, e.FIGI, e.Message, e.Err)
	}
	return fmt.Sprintf("data error [%s] %s: %s", e.DataType, e.FIGI, e.Message)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError creates a new DataError.
func NewDataError(dataType, figi, message string, err error) *DataError {
	return &DataError{
		DataType: dataType,
		FIGI:     figi,
		Message:  message,
		Err:      err,
	}
}

// Unmapped reports a wire enum value with no domain counterpart.
func Unmapped(kind string, value interface{}) error {
	return fmt.Errorf("%w: %s %v", ErrUnmapped, kind, value)
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
