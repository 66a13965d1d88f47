package main

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrConflict     = errors.New("record already exists")
	ErrForbidden    = errors.New("permission denied")
	ErrUnauthorized = errors.New("api: user unauthorized")
)

// ErrorKind is the closed set of failures a handler can report.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindConflict
	KindUnauthorized
	KindForbidden
	KindNotFound
)

func (k ErrorKind) Status() int {
	switch k {
	case KindValidation, KindConflict:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

func (k ErrorKind) defaultMessage() string {
	switch k {
	case KindValidation:
		return "Invalid request"
	case KindConflict:
		return "User already exists"
	case KindUnauthorized:
		return "Invalid credentials"
	case KindForbidden:
		return "Permission denied"
	case KindNotFound:
		return "Not found"
	default:
		return "Internal server error"
	}
}

// APIError is what handlers return. Message is shown to the client, Err is
// only logged.
type APIError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.message(), e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.message())
}

func (e *APIError) Unwrap() error { return e.Err }

func (e *APIError) message() string {
	if e.Message != "" {
		return e.Message
	}

	return e.Kind.defaultMessage()
}

func newError(kind ErrorKind, msg string, err error) *APIError {
	return &APIError{Kind: kind, Message: msg, Err: err}
}

// toAPIError classifies any error coming out of a handler.
func toAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return newError(KindNotFound, "", err)
	case errors.Is(err, ErrConflict):
		return newError(KindConflict, "", err)
	case errors.Is(err, ErrForbidden):
		return newError(KindForbidden, "", err)
	case errors.Is(err, ErrUnauthorized):
		return newError(KindUnauthorized, "", err)
	default:
		return newError(KindInternal, "", err)
	}
}
