// Package apperr classifies domain errors so transports can map them without
// knowing every sentinel.
package apperr

import (
	"errors"
	"net/http"
)

type Kind int

const (
	Internal Kind = iota
	Validation
	Integrity
	Transient
	State
	NotFound
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Integrity:
		return "integrity"
	case Transient:
		return "transient"
	case State:
		return "state"
	case NotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// HTTPStatus is the status code used when an error of this kind reaches the API.
func (k Kind) HTTPStatus() int {
	switch k {
	case Validation:
		return http.StatusBadRequest
	case Integrity:
		return http.StatusUnprocessableEntity
	case Transient:
		return http.StatusServiceUnavailable
	case State:
		return http.StatusConflict
	case NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error is a sentinel with a kind attached.
type Error struct {
	kind Kind
	msg  string
}

func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string { return e.msg }
func (e *Error) Kind() Kind    { return e.kind }

type kinded interface {
	Kind() Kind
}

// KindOf walks the wrap chain and returns the first kind found.
func KindOf(err error) Kind {
	if err == nil {
		return Internal
	}
	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
