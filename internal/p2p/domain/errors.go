// Package domain contains the P2P entities and their state machines.
package domain

import (
	"errors"
	"fmt"
)

// Error categories. Every error produced by the engine wraps exactly one of these.
var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrBusinessRule = errors.New("business rule violation")
	ErrExternal     = errors.New("external service error")
)

// Error is a categorised engine error with a caller-safe message.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Kind }

// Refinements of ErrBusinessRule that callers may want to match on.
var (
	ErrInsufficientFunds = &Error{Kind: ErrBusinessRule, Msg: "insufficient funds"}
	ErrLinkCapacity      = &Error{Kind: ErrBusinessRule, Msg: "payment link has reached its usage limit"}
	ErrInvalidTransition = &Error{Kind: ErrBusinessRule, Msg: "state transition not allowed"}
	ErrAccountFrozen     = &Error{Kind: ErrBusinessRule, Msg: "account is frozen"}
)

// Validationf builds a validation error.
func Validationf(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Msg: fmt.Sprintf(format, args...)}
}

// BusinessRulef builds a business-rule error.
func BusinessRulef(format string, args ...any) error {
	return &Error{Kind: ErrBusinessRule, Msg: fmt.Sprintf(format, args...)}
}

// NotFound builds a not-found error for the named entity. It is returned both for
// missing entities and for entities the caller may not see.
func NotFound(entity string) error {
	return &Error{Kind: ErrNotFound, Msg: entity + " not found"}
}

// External wraps a collaborator failure.
func External(service string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrExternal, service, err)
}

// transitionError reports a disallowed transition while still matching ErrInvalidTransition.
func transitionError(entity string, from, to any) error {
	return fmt.Errorf("%w: %s cannot move from %v to %v", ErrInvalidTransition, entity, from, to)
}
