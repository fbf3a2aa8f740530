package models

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType int

const (
	ErrTransport ErrorType = iota
	ErrMalformedManifest
	ErrMalformedStatus
	ErrSignatureUnverifiable
	ErrServerMetadata
	ErrInvalidConfig
)

// String returns the string representation of ErrorType
func (e ErrorType) String() string {
	switch e {
	case ErrTransport:
		return "Transport"
	case ErrMalformedManifest:
		return "MalformedManifest"
	case ErrMalformedStatus:
		return "MalformedStatus"
	case ErrSignatureUnverifiable:
		return "SignatureUnverifiable"
	case ErrServerMetadata:
		return "ServerMetadata"
	case ErrInvalidConfig:
		return "InvalidConfig"
	default:
		return "Unknown"
	}
}

// ScrapeError represents an error while scraping a server or one of its repositories
type ScrapeError struct {
	Type       ErrorType
	Repository string
	Err        error
}

// Error implements the error interface
func (e *ScrapeError) Error() string {
	if e.Repository != "" {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Repository, e.Err)
	}
	return fmt.Sprintf("[%s] %v", e.Type, e.Err)
}

// Unwrap returns the wrapped error
func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// NewError builds a ScrapeError from a format string.
func NewError(t ErrorType, format string, args ...any) *ScrapeError {
	return &ScrapeError{Type: t, Err: fmt.Errorf(format, args...)}
}

// WithRepository returns a copy of the error attributed to a repository.
func (e *ScrapeError) WithRepository(repo string) *ScrapeError {
	cp := *e
	cp.Repository = repo
	return &cp
}

// IsType reports whether err is, or wraps, a ScrapeError of type t.
func IsType(err error, t ErrorType) bool {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Type == t
	}
	return false
}

// TypeOf returns the ErrorType of err. ok is false if err carries none.
func TypeOf(err error) (t ErrorType, ok bool) {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Type, true
	}
	return 0, false
}
