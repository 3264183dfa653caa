package services

import (
	"errors"
	"fmt"

	"github.com/civic-cleanup/escrow/internal/repositories"
	"github.com/shopspring/decimal"
)

// Error kinds. Every error returned by a service operation matches exactly
// one of them through errors.Is.
var (
	ErrValidation          = errors.New("validation error")
	ErrForbidden           = errors.New("forbidden")
	ErrConflict            = errors.New("state conflict")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNotFound            = errors.New("not found")
	ErrInternal            = errors.New("internal consistency error")
)

// Error carries a user-visible reason together with its kind.
type Error struct {
	Kind   error
	Reason string
}

func (e *Error) Error() string { return e.Reason }
func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

func validationErr(format string, args ...any) error { return newError(ErrValidation, format, args...) }
func forbiddenErr(format string, args ...any) error  { return newError(ErrForbidden, format, args...) }
func conflictErr(format string, args ...any) error   { return newError(ErrConflict, format, args...) }
func notFoundErr(format string, args ...any) error   { return newError(ErrNotFound, format, args...) }
func internalErr(format string, args ...any) error   { return newError(ErrInternal, format, args...) }

// InsufficientBalanceError reports what the wallet had against what the
// operation needed.
type InsufficientBalanceError struct {
	Available decimal.Decimal
	Required  decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %s, required %s",
		e.Available.StringFixed(2), e.Required.StringFixed(2))
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

// mapNotFound turns a repository miss into a NotFound for the named entity
// and passes any other error through.
func mapNotFound(err error, entity string) error {
	if errors.Is(err, repositories.ErrNotFound) {
		return notFoundErr("%s not found", entity)
	}
	return err
}
