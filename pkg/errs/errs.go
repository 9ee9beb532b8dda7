// Package errs defines the error taxonomy shared by every store and service.
// Callers inspect the Kind to decide whether to retry, report or map the
// error onto a transport status.
package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies an error.
type Kind string

const (
	KindNotFound          Kind = "NotFound"
	KindConflict          Kind = "Conflict"
	KindInvalidArgument   Kind = "InvalidArgument"
	KindInvalidTransition Kind = "InvalidTransition"
	KindDependencyFailure Kind = "DependencyFailure"
	KindInternal          Kind = "Internal"
)

// Error is a classified error with enough context for a caller to retry or
// report it.
type Error struct {
	Kind    Kind   `json:"kind"`
	Op      string `json:"op,omitempty"`
	Entity  string `json:"entity,omitempty"`
	ID      string `json:"id,omitempty"`
	Service string `json:"service,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Entity != "" || e.ID != "" {
		fmt.Fprintf(&b, " (%s %s)", e.Entity, e.ID)
	}
	if e.Service != "" {
		fmt.Fprintf(&b, " [service=%s]", e.Service)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// ErrKind reports the error's classification.
func (e *Error) ErrKind() Kind { return e.Kind }

// Context returns the non-empty context fields for transport payloads.
func (e *Error) Context() map[string]string {
	ctx := map[string]string{}
	if e.Op != "" {
		ctx["op"] = e.Op
	}
	if e.Entity != "" {
		ctx["entity"] = e.Entity
	}
	if e.ID != "" {
		ctx["id"] = e.ID
	}
	if e.Service != "" {
		ctx["service"] = e.Service
	}
	return ctx
}

// kinded is implemented by errors from other packages that carry a Kind,
// such as lifecycle.TransitionError.
type kinded interface {
	ErrKind() Kind
}

// NotFound reports a missing entity.
func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, ID: id, Message: entity + " not found"}
}

// Conflict reports a uniqueness, dependency or concurrency conflict.
func Conflict(entity, id, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Entity: entity, ID: id, Message: fmt.Sprintf(format, args...)}
}

// InvalidArgument reports malformed caller input.
func InvalidArgument(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// DependencyFailure reports that an external collaborator failed.
func DependencyFailure(service string, err error) *Error {
	msg := "dependency failure"
	if err != nil {
		msg = service + " unavailable"
	}
	return &Error{Kind: KindDependencyFailure, Service: service, Message: msg, Err: err}
}

// Internal wraps an unexpected error.
func Internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Op: op, Message: "internal error", Err: err}
}

// WithOp sets the operation name and returns the same error.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// WithID sets the entity and id and returns the same error.
func (e *Error) WithID(entity, id string) *Error {
	e.Entity = entity
	e.ID = id
	return e
}

// KindOf returns the Kind of the first classified error in err's chain,
// or KindInternal when none is classified.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var k kinded
	if errors.As(err, &k) {
		return k.ErrKind()
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a Kind to an HTTP status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindInvalidTransition:
		return http.StatusUnprocessableEntity
	case KindDependencyFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
