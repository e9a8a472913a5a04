// Package apperr is the error taxonomy shared by the workflow services and
// the HTTP layer. Every business failure carries a Kind that decides the HTTP
// status, plus the entity and action that failed so user-facing messages read
// "Failed to cancel delivery order: ...".
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind int

const (
	KindInternal Kind = iota
	// KindValidation is bad input shape or range.
	KindValidation
	KindNotFound
	// KindInvalidState is an illegal transition for the entity's current status.
	KindInvalidState
	// KindConflict is a duplicate or disagreeing terminal mutation.
	KindConflict
	// KindExternal is an unreachable or failing collaborator (gateway, ledger).
	// Local state is unchanged and the caller may retry.
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindConflict:
		return "conflict"
	case KindExternal:
		return "external_service"
	}
	return "internal"
}

// ErrNotFound is the sentinel wrapped by NotFound.
var ErrNotFound = errors.New("not found")

// Error is a classified business error.
type Error struct {
	Kind   Kind
	Entity string
	Action string
	Field  string
	// Service names the collaborator behind a KindExternal failure.
	Service string
	Err     error
}

// Error is the log form and keeps the full wrapped chain.
func (e *Error) Error() string {
	detail := e.Kind.String()
	if e.Err != nil {
		detail = e.Err.Error()
	}
	if e.Action != "" && e.Entity != "" {
		return fmt.Sprintf("%s %s: %s", e.Action, e.Entity, detail)
	}
	return detail
}

func (e *Error) Unwrap() error {
	return e.Err
}

// PublicMessager is implemented by collaborator errors whose text is safe to
// show to users, such as a ledger refusing an entry with its own reason.
type PublicMessager interface {
	PublicMessage() string
}

// Detail is the user-safe reason without the entity/action prefix. External
// failures never surface the wrapped transport error.
func (e *Error) Detail() string {
	if e.Kind == KindExternal {
		var pm PublicMessager
		if errors.As(e.Err, &pm) {
			return pm.PublicMessage()
		}
		service := e.Service
		if service == "" {
			service = "external service"
		}
		return service + " unavailable, please retry"
	}
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Err.Error()
}

// Message is the user-facing form. It never includes anything below the
// wrapped business reason.
func (e *Error) Message() string {
	if e.Action != "" && e.Entity != "" {
		return fmt.Sprintf("Failed to %s %s: %s", e.Action, e.Entity, e.Detail())
	}
	d := e.Detail()
	if d == "" {
		return d
	}
	return strings.ToUpper(d[:1]) + d[1:]
}

// Op records which operation failed. Fields already set are kept, so the
// innermost caller wins.
func (e *Error) Op(entity, action string) *Error {
	if e.Entity == "" {
		e.Entity = entity
	}
	if e.Action == "" {
		e.Action = action
	}
	return e
}

func Validation(field string, err error) *Error {
	return &Error{Kind: KindValidation, Field: field, Err: err}
}

func NotFound(entity string) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, Err: fmt.Errorf("%s %w", entity, ErrNotFound)}
}

func InvalidState(entity, action string, err error) *Error {
	return &Error{Kind: KindInvalidState, Entity: entity, Action: action, Err: err}
}

func Conflict(entity, action string, err error) *Error {
	return &Error{Kind: KindConflict, Entity: entity, Action: action, Err: err}
}

// External wraps a collaborator failure. service is what users are told is
// unavailable; err is kept for logs only.
func External(service, entity, action string, err error) *Error {
	return &Error{Kind: KindExternal, Service: service, Entity: entity, Action: action, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// As unwraps the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
