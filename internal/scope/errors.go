package scope

import (
	"errors"
	"fmt"
)

// Kind classifies scope failures. Callers branch on kinds, never on error text:
// database error text must not reach the API boundary.
type Kind int

const (
	// KindUnknown unclassified failure.
	KindUnknown Kind = iota
	// KindUnauthorized no identity was supplied at all. A programmer error;
	// impossible past the authentication boundary.
	KindUnauthorized
	// KindForbidden an identity was supplied but policy denies the operation.
	KindForbidden
	// KindNotFound the row is absent or denied. The two cases are deliberately
	// indistinguishable so that callers cannot probe for other tenants' data.
	KindNotFound
	// KindResourceExhausted the pool did not yield a connection before the deadline.
	KindResourceExhausted
	// KindTransactionConflict a nested scope attempted to run as a different
	// identity than the enclosing transaction. Fatal, never retried.
	KindTransactionConflict
)

// String returns string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindResourceExhausted:
		return "resource_exhausted"
	case KindTransactionConflict:
		return "transaction_conflict"
	default:
		return "unknown"
	}
}

// Error is a kind-classified scope failure.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("scope: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}

	return fmt.Sprintf("scope: %s: %s", e.Kind, e.Message)
}

// Is matches errors by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return e.Kind == t.Kind
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a scope error.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError wraps cause as a scope error.
func WrapError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindUnknown
}

// IsUnauthorized reports whether err is an Unauthorized scope error.
func IsUnauthorized(err error) bool { return KindOf(err) == KindUnauthorized }

// IsForbidden reports whether err is a Forbidden scope error.
func IsForbidden(err error) bool { return KindOf(err) == KindForbidden }

// IsNotFound reports whether err is a NotFound scope error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsResourceExhausted reports whether err is a ResourceExhausted scope error.
func IsResourceExhausted(err error) bool { return KindOf(err) == KindResourceExhausted }

// IsTransactionConflict reports whether err is a TransactionConflict scope error.
func IsTransactionConflict(err error) bool { return KindOf(err) == KindTransactionConflict }

// Sanitize maps err to its user-visible form at the API boundary. Forbidden and
// NotFound collapse into one generic NotFound with no underlying cause, so no
// error text can leak row existence or SQL. Other kinds keep their kind with a
// generic message.
func Sanitize(err error) error {
	if err == nil {
		return nil
	}

	switch KindOf(err) {
	case KindForbidden, KindNotFound:
		return NewError(KindNotFound, "not found")
	case KindUnauthorized:
		return NewError(KindUnauthorized, "unauthorized")
	case KindResourceExhausted:
		return NewError(KindResourceExhausted, "temporarily unavailable, retry later")
	case KindTransactionConflict:
		return NewError(KindTransactionConflict, "conflicting transaction scope")
	default:
		return NewError(KindUnknown, "internal error")
	}
}
