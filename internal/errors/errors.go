// Package errors provides the error taxonomy shared by the optimizer core and its adapters.
package errors

import (
	goerrors "errors"
	"fmt"
	"sort"
	"strings"
)

// Type identifies the category of error
type Type string

const (
	// TypeValidation indicates malformed or out-of-bound input
	TypeValidation Type = "VALIDATION_ERROR"

	// TypeCyclicDependency indicates a precedence cycle between projects
	TypeCyclicDependency Type = "CYCLIC_DEPENDENCY"

	// TypeInfeasible indicates constraints admit no allocation for a mandatory project
	TypeInfeasible Type = "INFEASIBLE"

	// TypeConfig indicates a configuration error
	TypeConfig Type = "CONFIG_ERROR"

	// TypeStorage indicates an audit storage error
	TypeStorage Type = "STORAGE_ERROR"

	// TypeSuperseded indicates a solve was replaced by a newer request
	TypeSuperseded Type = "SUPERSEDED"

	// TypeInternal indicates an internal error
	TypeInternal Type = "INTERNAL_ERROR"

	// TypeNotFound indicates a resource not found error
	TypeNotFound Type = "NOT_FOUND"
)

// Typed is implemented by every error in this package
type Typed interface {
	error
	ErrorType() Type
}

// Error represents a domain error with context
type Error struct {
	Type    Type                   `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorType implements Typed
func (e *Error) ErrorType() Type {
	return e.Type
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new error
func New(errType Type, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
	}
}

// Newf creates a new formatted error
func Newf(errType Type, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an error with context
func Wrap(errType Type, message string, cause error) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Cause:   cause,
	}
}

// Wrapf wraps an error with formatted context
func Wrapf(errType Type, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// IsType reports whether any error in err's chain carries type t
func IsType(err error, t Type) bool {
	for err != nil {
		if typed, ok := err.(Typed); ok && typed.ErrorType() == t {
			return true
		}
		err = goerrors.Unwrap(err)
	}
	return false
}

// TypeOf returns the type of the first typed error in err's chain
func TypeOf(err error) (Type, bool) {
	var typed Typed
	if goerrors.As(err, &typed) {
		return typed.ErrorType(), true
	}
	return "", false
}

// ValidationError rejects a raw project record. The caller must fix and resubmit.
type ValidationError struct {
	ProjectID string `json:"project_id,omitempty"`
	Field     string `json:"field"`
	Reason    string `json:"reason"`
}

func (e *ValidationError) Error() string {
	if e.ProjectID == "" {
		return fmt.Sprintf("[%s] %s: %s", TypeValidation, e.Field, e.Reason)
	}
	return fmt.Sprintf("[%s] project %s: %s: %s", TypeValidation, e.ProjectID, e.Field, e.Reason)
}

// ErrorType implements Typed
func (e *ValidationError) ErrorType() Type {
	return TypeValidation
}

// Validation creates a validation error
func Validation(projectID, field, reason string) *ValidationError {
	return &ValidationError{ProjectID: projectID, Field: field, Reason: reason}
}

// CyclicDependencyError names the projects forming a precedence cycle.
// Cycle lists the members in traversal order starting from the smallest ID.
type CyclicDependencyError struct {
	Cycle []string `json:"cycle"`
}

func (e *CyclicDependencyError) Error() string {
	if len(e.Cycle) == 0 {
		return fmt.Sprintf("[%s] dependency cycle detected", TypeCyclicDependency)
	}
	path := append(append([]string{}, e.Cycle...), e.Cycle[0])
	return fmt.Sprintf("[%s] dependency cycle detected: %s", TypeCyclicDependency, strings.Join(path, " -> "))
}

// ErrorType implements Typed
func (e *CyclicDependencyError) ErrorType() Type {
	return TypeCyclicDependency
}

// Members returns the cycle members as a sorted set
func (e *CyclicDependencyError) Members() []string {
	out := append([]string{}, e.Cycle...)
	sort.Strings(out)
	return out
}

// InfeasibleError reports a mandatory project that cannot receive any allocation
type InfeasibleError struct {
	ProjectID  string `json:"project_id"`
	Constraint string `json:"constraint"`
	Detail     string `json:"detail"`
}

func (e *InfeasibleError) Error() string {
	return fmt.Sprintf("[%s] mandatory project %s cannot be allocated (%s): %s",
		TypeInfeasible, e.ProjectID, e.Constraint, e.Detail)
}

// ErrorType implements Typed
func (e *InfeasibleError) ErrorType() Type {
	return TypeInfeasible
}

// Infeasible creates an infeasibility error
func Infeasible(projectID, constraint, detail string) *InfeasibleError {
	return &InfeasibleError{ProjectID: projectID, Constraint: constraint, Detail: detail}
}

// ErrSuperseded is returned to callers whose solve was replaced by a newer request
var ErrSuperseded = New(TypeSuperseded, "optimization superseded by a newer request")

// Config creates a configuration error
func Config(message string, cause error) *Error {
	return Wrap(TypeConfig, message, cause)
}

// Storage creates a storage error
func Storage(message string, cause error) *Error {
	return Wrap(TypeStorage, message, cause)
}

// NotFound creates a not found error
func NotFound(resourceType, identifier string) *Error {
	return Newf(TypeNotFound, "%s not found: %s", resourceType, identifier)
}

// Internal creates an internal error
func Internal(message string, cause error) *Error {
	return Wrap(TypeInternal, message, cause)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return goerrors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return goerrors.As(err, target)
}
