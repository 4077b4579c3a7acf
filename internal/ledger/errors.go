package ledger

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Common ledger errors.
var (
	// ErrNotFound is returned when a customer, invoice or product id is unknown.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument is returned for caller mistakes such as non-positive
	// amounts or negative credit limits.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInsufficientStock is a business rejection: the requested units are
	// not available.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInsufficientCredit is a business rejection: the customer's available
	// credit does not cover the amount.
	ErrInsufficientCredit = errors.New("insufficient credit")

	// ErrInvoiceSettled is a business rejection: the invoice is fully paid and
	// only accepts audit notes.
	ErrInvoiceSettled = errors.New("invoice already settled")

	// ErrSaleRejected is a business rejection of a multi-line sale.
	ErrSaleRejected = errors.New("sale rejected")
)

// Kind groups errors by how a caller should respond to them.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindInvalid
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalid:
		return "invalid_argument"
	case KindRejected:
		return "rejected"
	default:
		return "internal"
	}
}

// KindOf classifies err. Not found and invalid argument are caller errors;
// rejections are expected business outcomes.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalid
	case IsRejection(err):
		return KindRejected
	default:
		return KindInternal
	}
}

// IsRejection reports whether err is a business-rule rejection.
func IsRejection(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInsufficientCredit) ||
		errors.Is(err, ErrInvoiceSettled) ||
		errors.Is(err, ErrSaleRejected)
}

// GRPCCode maps err onto a gRPC status code.
func GRPCCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	switch KindOf(err) {
	case KindNotFound:
		return codes.NotFound
	case KindInvalid:
		return codes.InvalidArgument
	case KindRejected:
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}

// OpError wraps errors with the failed operation and the entity involved.
type OpError struct {
	// Op is the operation that failed (e.g., "SetCreditLimit", "AdjustStock").
	Op string

	// ID is the customer, invoice or product id the operation targeted.
	ID string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *OpError) Error() string {
	switch {
	case e.Details != "" && e.ID != "":
		return fmt.Sprintf("ledger: %s %s: %s: %v", e.Op, e.ID, e.Details, e.Err)
	case e.Details != "":
		return fmt.Sprintf("ledger: %s: %s: %v", e.Op, e.Details, e.Err)
	case e.ID != "":
		return fmt.Sprintf("ledger: %s %s: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("ledger: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *OpError) Unwrap() error {
	return e.Err
}

// Is implements error matching for Go 1.13+ error handling.
func (e *OpError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// GRPCStatus lets gRPC servers return an OpError directly.
func (e *OpError) GRPCStatus() *status.Status {
	return status.New(GRPCCode(e), e.Error())
}

// NewOpError creates a new OpError.
func NewOpError(op, id string, err error, details string) *OpError {
	return &OpError{Op: op, ID: id, Err: err, Details: details}
}

// WrapOpError wraps an error as an OpError if it isn't already one.
func WrapOpError(op, id string, err error) error {
	if err == nil {
		return nil
	}

	var opErr *OpError
	if errors.As(err, &opErr) {
		return err // Already wrapped
	}

	return NewOpError(op, id, err, "")
}

// NotFound builds the not-found error for an entity.
func NotFound(op, entity, id string) error {
	return NewOpError(op, id, ErrNotFound, entity+" does not exist")
}

// ValidationError represents an invalid argument.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s (value: %v)", e.Field, e.Message, e.Value)
}

// Unwrap makes every ValidationError match ErrInvalidArgument.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidArgument
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// Invalid wraps a ValidationError with the operation that rejected it.
func Invalid(op, id, field string, value interface{}, message string) error {
	return NewOpError(op, id, NewValidationError(field, value, message), "")
}
