// Package apperr defines the error kinds shared by the booking and billing
// services. Callers branch on the kind, never on message text.
package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type Kind string

const (
	KindInvalidArgument    Kind = "invalid_argument"
	KindNotFound           Kind = "not_found"
	KindSlotConflict       Kind = "slot_conflict"
	KindExceedsBalance     Kind = "exceeds_balance"
	KindGatewayDeclined    Kind = "gateway_declined"
	KindGatewayUnavailable Kind = "gateway_unavailable"
	KindUnauthorized       Kind = "unauthorized"
	KindForbidden          Kind = "forbidden"
	KindInternal           Kind = "internal"
)

// Kind-only sentinels, for errors.Is(err, apperr.NotFound) style checks.
var (
	InvalidArgument    = &Error{Kind: KindInvalidArgument}
	NotFound           = &Error{Kind: KindNotFound}
	SlotConflict       = &Error{Kind: KindSlotConflict}
	ExceedsBalance     = &Error{Kind: KindExceedsBalance}
	GatewayDeclined    = &Error{Kind: KindGatewayDeclined}
	GatewayUnavailable = &Error{Kind: KindGatewayUnavailable}
	Unauthorized       = &Error{Kind: KindUnauthorized}
	Forbidden          = &Error{Kind: KindForbidden}
	Internal           = &Error{Kind: KindInternal}
)

type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]string
	Err     error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and a client-safe message to an underlying error.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Invalid builds an InvalidArgument error carrying per-field messages.
func Invalid(fields map[string]string) *Error {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+fields[k])
	}

	return &Error{
		Kind:    KindInvalidArgument,
		Message: strings.Join(parts, ", "),
		Fields:  fields,
	}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind; a target with a message must also match the message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the client-safe message of err. Errors without a kind
// get a generic message so storage details never reach the caller.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		if e.Message != "" {
			return e.Message
		}
		return string(e.Kind)
	}
	return "something went wrong, please try again later"
}

// FieldsOf returns per-field details of an InvalidArgument error.
func FieldsOf(err error) map[string]string {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}

// Retryable reports whether the operation may be retried with the same
// idempotency key.
func Retryable(err error) bool {
	return KindOf(err) == KindGatewayUnavailable
}
