package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"foodorder/internal/models"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrPayment         = errors.New("payment failed")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrAlreadyAssigned = errors.New("order already assigned to a driver")
	ErrNotEligible     = errors.New("order not eligible for assignment")
	ErrNotAssigned     = errors.New("order not assigned to this driver")
	ErrPersistence     = errors.New("persistence failed")
	ErrForbidden       = errors.New("forbidden")
	ErrRefundFailed    = errors.New("refund failed")
)

// ValidationError lists the offending input fields.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func newValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// PaymentError is a gateway decline or an unreachable gateway. No order is
// written when it is returned from CreateOrder.
type PaymentError struct {
	Status models.PaymentStatus
	Reason string
	Err    error
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrPayment, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrPayment, e.Reason)
}

func (e *PaymentError) Is(target error) bool { return target == ErrPayment }

func (e *PaymentError) Unwrap() error { return e.Err }

// PersistenceError is a storage failure that happened after a side effect.
// Compensated reports whether the side effect was undone.
type PersistenceError struct {
	Op              string
	Err             error
	Compensated     bool
	CompensationErr error
}

func (e *PersistenceError) Error() string {
	msg := fmt.Sprintf("%s: %s: %v", ErrPersistence, e.Op, e.Err)
	if e.CompensationErr != nil {
		msg += fmt.Sprintf(" (compensation failed: %v)", e.CompensationErr)
	} else if e.Compensated {
		msg += " (compensated)"
	}
	return msg
}

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

func (e *PersistenceError) Unwrap() error { return e.Err }

// ConflictError is an illegal transition. Current is the order as it was
// when the transition was refused.
type ConflictError struct {
	Kind    error
	Message string
	Current *models.Order
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ConflictError) Unwrap() error { return e.Kind }

func conflict(kind error, current *models.Order, format string, args ...interface{}) *ConflictError {
	return &ConflictError{Kind: kind, Message: fmt.Sprintf(format, args...), Current: current}
}
