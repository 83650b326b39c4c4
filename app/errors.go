// Package app implements the like-quota and mutual-match rule engines behind
// the HTTP layer.
package app

import (
	"errors"
	"fmt"
)

// ValidationError reports missing or malformed caller input.
type ValidationError struct {
	Field string
}

func (e ValidationError) Error() string {
	return "missing or invalid " + e.Field
}

// NotFoundError reports a referenced user or invite that does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// DuplicateDeclarationError reports a (user, invite, name) combination that
// was already declared.
type DuplicateDeclarationError struct {
	TargetName string
}

func (e DuplicateDeclarationError) Error() string {
	return "target already declared: " + e.TargetName
}

// QuotaExceededError is the expected business outcome when a free user's
// monthly allowance is spent. RemainingLikes is always 0.
type QuotaExceededError struct {
	RemainingLikes int
}

func (e QuotaExceededError) Error() string {
	return "monthly like limit reached"
}

// PremiumConflictError rejects credit purchases while a premium plan is
// active; premium already includes unlimited likes.
type PremiumConflictError struct{}

func (e PremiumConflictError) Error() string {
	return "premium plan already includes unlimited likes"
}

// ErrConflict is returned when an atomic update kept losing races after the
// bounded retry budget. The whole request may be retried by the caller.
var ErrConflict = errors.New("conflicting concurrent update")

// StorageError wraps persistence failures so callers can distinguish
// infrastructure faults from business outcomes.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "storage: " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
