// internal/errors/errors.go
package errors

import (
	stderrors "errors"
	"fmt"
)

// Sentinels for errors.Is checks across the storage, source and sync layers.
var (
	ErrNotFound           = stderrors.New("not found")
	ErrAlreadyExists      = stderrors.New("already exists")
	ErrValidation         = stderrors.New("validation error")
	ErrReferenceIntegrity = stderrors.New("reference integrity error")
	ErrHasDependents      = stderrors.New("entity has dependents")
	ErrSource             = stderrors.New("source error")
)

// ErrInvalidRepoFormat is returned when a repository string is not in 'owner/name' format.
type ErrInvalidRepoFormat struct {
	Repo string
}

func (e *ErrInvalidRepoFormat) Error() string {
	return fmt.Sprintf("invalid repository format: %q, expected 'owner/name'", e.Repo)
}

func (e *ErrInvalidRepoFormat) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports an entity absent by id or name.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotFound builds a NotFoundError for any printable id.
func NotFound(entity string, id any) error {
	return &NotFoundError{Entity: entity, ID: fmt.Sprint(id)}
}

// AlreadyExistsError reports a write that would duplicate a logically unique entity.
type AlreadyExistsError struct {
	Entity string
	ID     string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Entity, e.ID)
}

func (e *AlreadyExistsError) Is(target error) bool { return target == ErrAlreadyExists }

// ValidationError reports a malformed identifier or field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ReferenceIntegrityError reports a write whose parent reference does not resolve.
type ReferenceIntegrityError struct {
	Entity string
	Ref    string
	RefID  string
}

func (e *ReferenceIntegrityError) Error() string {
	return fmt.Sprintf("reference integrity error: %s references missing %s %s", e.Entity, e.Ref, e.RefID)
}

func (e *ReferenceIntegrityError) Is(target error) bool { return target == ErrReferenceIntegrity }

// DependentsError is returned when a direct delete is refused because
// dependents exist. A cascade delete removes them instead.
type DependentsError struct {
	Entity        string
	ID            string
	Subscriptions int
	Updates       int
}

func (e *DependentsError) Error() string {
	return fmt.Sprintf("%s %s has %d dependent subscriptions and %d dependent updates; use cascade delete",
		e.Entity, e.ID, e.Subscriptions, e.Updates)
}

func (e *DependentsError) Is(target error) bool { return target == ErrHasDependents }

// SourceErrorKind classifies upstream failures.
type SourceErrorKind string

const (
	SourceAPI       SourceErrorKind = "api"
	SourceAuth      SourceErrorKind = "auth"
	SourceRateLimit SourceErrorKind = "rate_limit"
	SourceNetwork   SourceErrorKind = "network"
	SourceParse     SourceErrorKind = "parse"
	SourceNotFound  SourceErrorKind = "not_found"
)

// SourceError wraps any failure of a source adapter fetch.
type SourceError struct {
	Kind   SourceErrorKind
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s: %s error: %v", e.Source, e.Kind, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

func (e *SourceError) Is(target error) bool { return target == ErrSource }

// NewSourceError builds a SourceError.
func NewSourceError(kind SourceErrorKind, source string, err error) *SourceError {
	return &SourceError{Kind: kind, Source: source, Err: err}
}
