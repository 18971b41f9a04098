package booking

import (
	"errors"
	"fmt"
)

// Kind is the closed set of failure categories surfaced by this core.
// Conflict is the only retryable kind; retry policy belongs to the caller.
type Kind int

const (
	KindNotFound Kind = iota + 1
	KindInvalid
	KindConflict
	KindForbidden
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalid:
		return "invalid"
	case KindConflict:
		return "conflict"
	case KindForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Named business-rule reasons. Every Invalid error carries exactly one.
const (
	ReasonBadDate           = "bad-date"
	ReasonBadSlot           = "bad-slot"
	ReasonServiceNotOffered = "service-not-offered-here"
	ReasonQuotaExceeded     = "quota-exceeded"
	ReasonDuplicate         = "duplicate-reservation"
	ReasonNotCancellable    = "not-cancellable"
	ReasonPastCancelWindow  = "past-cancel-window"
)

type Error struct {
	Kind    Kind
	Reason  string
	Message string
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Reason, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func Invalid(reason, message string) *Error {
	return &Error{Kind: KindInvalid, Reason: reason, Message: message}
}

func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Message: message}
}

// KindOf extracts the failure category, or 0 for errors outside the taxonomy.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// ReasonOf extracts the named reason, if any.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// Sentinels returned by Ledger implementations from inside the reservation
// critical section; the engine translates them into taxonomy errors.
var (
	ErrCapacityExhausted = errors.New("slot capacity exhausted")
	ErrQuotaExhausted    = errors.New("pending quota exhausted")
	ErrDuplicateStart    = errors.New("client already holds this start tick")
	ErrStateChanged      = errors.New("appointment state changed concurrently")
)
