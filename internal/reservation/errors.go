package reservation

import (
	"errors"
	"fmt"
)

// Kind classifies a business failure. Anything that is not an *Error is an
// infrastructure failure and should be retried by the caller.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindInvalidTransition Kind = "invalid_transition"
	KindInvalidRange      Kind = "invalid_range"
	KindInvalidInput      Kind = "invalid_input"
)

type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrConflict) works
// for every conflict regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrNotFound          = &Error{Kind: KindNotFound, Message: "not found"}
	ErrConflict          = &Error{Kind: KindConflict, Message: "conflict"}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition, Message: "invalid transition"}
	ErrInvalidRange      = &Error{Kind: KindInvalidRange, Message: "invalid range"}
	ErrInvalidInput      = &Error{Kind: KindInvalidInput, Message: "invalid input"}
)

// Store sentinels. Repositories return these; services translate them.
var (
	ErrProfileNotFound     = &Error{Kind: KindNotFound, Message: "profile not found"}
	ErrServiceNotFound     = &Error{Kind: KindNotFound, Message: "service not found"}
	ErrSlotNotFound        = &Error{Kind: KindNotFound, Message: "slot not found"}
	ErrRequestNotFound     = &Error{Kind: KindNotFound, Message: "reservation request not found"}
	ErrReservationNotFound = &Error{Kind: KindNotFound, Message: "reservation not found"}

	// ErrStaleState means a guarded update matched no row: the row changed
	// under the caller or its guard (status, capacity) no longer holds.
	ErrStaleState = errors.New("row not in expected state")
)

func notFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func invalidTransition(from, to SlotStatus) *Error {
	return &Error{Kind: KindInvalidTransition, Message: fmt.Sprintf("cannot transition slot from %s to %s", from, to)}
}

func invalidRange(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidRange, Message: fmt.Sprintf(format, args...)}
}

func invalidInput(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the business kind of err, if it carries one.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
