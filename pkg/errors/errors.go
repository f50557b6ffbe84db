package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation      ErrorType = "validation"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeParse           ErrorType = "parse"
	ErrorTypeConflict        ErrorType = "conflict"
	ErrorTypePortUnavailable ErrorType = "port_unavailable"
	ErrorTypeNoFreePort      ErrorType = "no_free_port"
	ErrorTypeSpawn           ErrorType = "spawn"
	ErrorTypeProcess         ErrorType = "process"
	ErrorTypeTimeout         ErrorType = "timeout"
	ErrorTypeIO              ErrorType = "io"
	ErrorTypeNetwork         ErrorType = "network"
	ErrorTypeInternal        ErrorType = "internal"
	ErrorTypeCancelled       ErrorType = "cancelled"
)

// DomainError represents a structured error with type and context
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches any DomainError of the same type
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext adds context information to the error
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

// NewNotFoundError is used for missing config files and unknown emulators
func NewNotFoundError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNotFound, message, cause)
}

// NewParseError is used for malformed config files
func NewParseError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeParse, message, cause)
}

// NewConflictError is used for registry single-occupancy violations
func NewConflictError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConflict, message, cause)
}

func NewPortUnavailableError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypePortUnavailable, message, cause)
}

func NewNoFreePortError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNoFreePort, message, cause)
}

func NewSpawnError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeSpawn, message, cause)
}

func NewProcessError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProcess, message, cause)
}

func NewTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeTimeout, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

func NewNetworkError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNetwork, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

func NewCancelledError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCancelled, message, cause)
}

// IsType reports whether any error in the chain is a DomainError of the given type
func IsType(err error, errorType ErrorType) bool {
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		return false
	}
	for domainErr != nil {
		if domainErr.Type == errorType {
			return true
		}
		next := domainErr.Cause
		domainErr = nil
		if next != nil {
			errors.As(next, &domainErr)
		}
	}
	return false
}

func IsValidationError(err error) bool {
	return IsType(err, ErrorTypeValidation)
}

func IsNotFoundError(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

func IsParseError(err error) bool {
	return IsType(err, ErrorTypeParse)
}

func IsConflictError(err error) bool {
	return IsType(err, ErrorTypeConflict)
}

func IsPortUnavailableError(err error) bool {
	return IsType(err, ErrorTypePortUnavailable)
}

func IsNoFreePortError(err error) bool {
	return IsType(err, ErrorTypeNoFreePort)
}

func IsSpawnError(err error) bool {
	return IsType(err, ErrorTypeSpawn)
}

func IsProcessError(err error) bool {
	return IsType(err, ErrorTypeProcess)
}

func IsTimeoutError(err error) bool {
	return IsType(err, ErrorTypeTimeout)
}

func IsIOError(err error) bool {
	return IsType(err, ErrorTypeIO)
}

func IsNetworkError(err error) bool {
	return IsType(err, ErrorTypeNetwork)
}

func IsInternalError(err error) bool {
	return IsType(err, ErrorTypeInternal)
}

func IsCancelledError(err error) bool {
	return IsType(err, ErrorTypeCancelled)
}

// ErrorCollection aggregates errors from bulk operations such as stopping every emulator
type ErrorCollection struct {
	Errors []error
}

func (e *ErrorCollection) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred: %v", len(e.Errors), e.Errors[0])
}

func (e *ErrorCollection) Unwrap() []error {
	return e.Errors
}

func (e *ErrorCollection) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

func (e *ErrorCollection) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ErrorCollection) ToError() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{
		Errors: make([]error, 0),
	}
}
