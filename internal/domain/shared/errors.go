// Package shared contains common domain types, errors and events used across
// the leveling packages.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// Infrastructure errors
	ErrPersistence        = errors.New("persistence failure")
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "progress", "group", "reward"
	Op      string // Operation that failed, e.g., "AddXP", "SetRate"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Progress domain errors
var (
	ErrProgressNotFound = NewDomainError("progress", "Find", ErrNotFound, "member progress not found")
	ErrInvalidMemberID  = NewDomainError("progress", "Validate", ErrInvalidID, "member ID is required")
	ErrInvalidGroupID   = NewDomainError("progress", "Validate", ErrInvalidID, "group ID is required")
	ErrNegativeAmount   = NewDomainError("progress", "Validate", ErrNegativeValue, "XP amount cannot be negative")
	ErrZeroAmount       = NewDomainError("progress", "Validate", ErrValueOutOfRange, "XP amount must be at least 1")
	ErrBotMember        = NewDomainError("progress", "Validate", ErrForbidden, "cannot modify bot XP")
)

// Query errors
var (
	ErrSameMember      = NewDomainError("query", "Compare", ErrInvalidInput, "cannot compare a member with themself")
	ErrPageOutOfRange  = NewDomainError("query", "Leaderboard", ErrValueOutOfRange, "leaderboard page does not exist")
	ErrInvalidCategory = NewDomainError("query", "Top", ErrInvalidInput, "unknown leaderboard category")
)

// Group configuration errors
var (
	ErrInvalidXPRate      = NewDomainError("group", "SetXPRate", ErrValueOutOfRange, "XP rate must be between 0.1 and 10 in steps of 0.01")
	ErrEmptyTemplate      = NewDomainError("group", "SetTemplate", ErrInvalidInput, "announcement template cannot be empty")
	ErrChannelIgnored     = NewDomainError("group", "IgnoreChannel", ErrAlreadyExists, "channel is already ignored")
	ErrChannelNotIgnored  = NewDomainError("group", "UnignoreChannel", ErrNotFound, "channel is not in the ignore list")
	ErrInvalidChannelID   = NewDomainError("group", "Validate", ErrInvalidID, "channel ID is required")
	ErrInvalidRewardLevel = NewDomainError("reward", "Validate", ErrValueOutOfRange, "reward level must be at least 1")
	ErrInvalidRoleID      = NewDomainError("reward", "Validate", ErrInvalidID, "role ID is required")
	ErrRewardNotFound     = NewDomainError("reward", "Remove", ErrNotFound, "no role reward configured for level")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsForbidden checks if the error is an authorization error.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden)
}

// IsPersistence checks if the error came from the storage layer.
func IsPersistence(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout)
}
