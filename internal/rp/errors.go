package rp

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ResponseError represents a failed Report Portal response: a non-2xx status,
// one or more structured error codes in the body, or a body that could not be
// parsed. Callers should prefer the predicate functions (IsNotFound,
// IsUnauthorized, etc.) to inspect errors rather than asserting on this type
// directly.
type ResponseError struct {
	operation  string
	statusCode int
	errors     []ErrorRS
	message    string
	malformed  bool
}

func (e *ResponseError) Error() string {
	switch len(e.errors) {
	case 0:
		return fmt.Sprintf("%s: HTTP %d: %s", e.operation, e.statusCode, e.message)
	case 1:
		return fmt.Sprintf("%s: HTTP %d: [%d] %s", e.operation, e.statusCode, e.errors[0].ErrorCode, e.errors[0].Message)
	}
	parts := make([]string, 0, len(e.errors)+1)
	parts = append(parts, "multiple errors:")
	for _, er := range e.errors {
		parts = append(parts, fmt.Sprintf("[%d] %s", er.ErrorCode, er.Message))
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.operation, e.statusCode, strings.Join(parts, "\n  - "))
}

func newResponseError(operation string, statusCode int, errs []ErrorRS, message string) *ResponseError {
	return &ResponseError{
		operation:  operation,
		statusCode: statusCode,
		errors:     errs,
		message:    message,
	}
}

func newMalformedError(operation string, statusCode int, message string) *ResponseError {
	e := newResponseError(operation, statusCode, nil, message)
	e.malformed = true
	return e
}

// StatusCode returns the HTTP status code from the response.
func (e *ResponseError) StatusCode() int { return e.statusCode }

// ErrorCode returns the first Report Portal application error code, or 0.
func (e *ResponseError) ErrorCode() int {
	if len(e.errors) == 0 {
		return 0
	}
	return e.errors[0].ErrorCode
}

// Errors returns every structured error reported in the body.
func (e *ResponseError) Errors() []ErrorRS { return e.errors }

// Message returns the human-readable error message.
func (e *ResponseError) Message() string {
	if len(e.errors) > 0 {
		return e.errors[0].Message
	}
	return e.message
}

// Operation returns a short description of the API call that failed.
func (e *ResponseError) Operation() string { return e.operation }

// Malformed reports whether a 2xx response carried an empty or unparseable body.
func (e *ResponseError) Malformed() bool { return e.malformed }

// EntryCreatedError is returned when a create response lacks the new entity's id.
type EntryCreatedError struct {
	Operation string
	Body      string
}

func (e *EntryCreatedError) Error() string {
	return fmt.Sprintf("%s: no 'id' in response: %s", e.Operation, e.Body)
}

// OperationCompletionError is returned when an update, finish or batch
// response lacks its acknowledgement field.
type OperationCompletionError struct {
	Operation string
	Body      string
	Err       error
}

func (e *OperationCompletionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: incomplete acknowledgement: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("%s: incomplete acknowledgement: %s", e.Operation, e.Body)
}

func (e *OperationCompletionError) Unwrap() error { return e.Err }

// NotFoundError is returned when a lookup finds no matching entity.
type NotFoundError struct {
	Entity string
	Key    string
	Err    error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.Key)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a *NotFoundError or a response error with
// HTTP 404 status.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return true
	}
	return HasStatusCode(err, http.StatusNotFound)
}

// IsUnauthorized reports whether err is a response error with HTTP 401 status.
func IsUnauthorized(err error) bool { return HasStatusCode(err, http.StatusUnauthorized) }

// IsForbidden reports whether err is a response error with HTTP 403 status.
func IsForbidden(err error) bool { return HasStatusCode(err, http.StatusForbidden) }

// IsTransientAck reports whether err is an incomplete acknowledgement, the
// only failure class the log batcher retries.
func IsTransientAck(err error) bool {
	var oc *OperationCompletionError
	return errors.As(err, &oc)
}

// HasStatusCode reports whether err is a response error whose HTTP status code matches.
func HasStatusCode(err error, code int) bool {
	var respErr *ResponseError
	return errors.As(err, &respErr) && respErr.statusCode == code
}

// HasErrorCode reports whether err is a response error carrying the RP error code.
func HasErrorCode(err error, code int) bool {
	var respErr *ResponseError
	if !errors.As(err, &respErr) {
		return false
	}
	for _, e := range respErr.errors {
		if e.ErrorCode == code {
			return true
		}
	}
	return false
}
