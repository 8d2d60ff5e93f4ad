package types

import (
	"errors"
	"fmt"
)

// Sentinel causes that adapters wrap so the outcome classifier can recover
// the kind without importing the adapter package.
var (
	ErrMalformed = errors.New("malformed response")
	ErrEmpty     = errors.New("empty input")
)

// ErrorKind classifies why an adapter call failed. The session controller
// picks its substitution policy per kind.
type ErrorKind int

const (
	// KindNone marks a successful outcome.
	KindNone ErrorKind = iota

	// KindTimeout means the call exceeded its deadline.
	KindTimeout

	// KindUnavailable covers transport failures, open circuits and exhausted
	// fallback groups.
	KindUnavailable

	// KindMalformed means the provider answered but the reply could not be
	// interpreted.
	KindMalformed

	// KindEmpty means there was nothing to process (e.g. blank transcript).
	KindEmpty

	// KindInternal is everything else.
	KindInternal
)

// String returns the lower-case kind name used in logs and metric attributes.
func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTimeout:
		return "timeout"
	case KindUnavailable:
		return "unavailable"
	case KindMalformed:
		return "malformed"
	case KindEmpty:
		return "empty"
	case KindInternal:
		return "internal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the result of an adapter call: either Ok with a value, or a
// failure carrying its [ErrorKind] and the underlying error.
type Outcome[T any] struct {
	Value T
	Kind  ErrorKind
	Err   error
}

// Ok wraps a successful value.
func Ok[T any](v T) Outcome[T] {
	return Outcome[T]{Value: v}
}

// Fail builds a failed outcome. A KindNone kind is promoted to KindInternal so
// that a failure can never look successful.
func Fail[T any](kind ErrorKind, err error) Outcome[T] {
	if kind == KindNone {
		kind = KindInternal
	}
	return Outcome[T]{Kind: kind, Err: err}
}

// OK reports whether the outcome succeeded.
func (o Outcome[T]) OK() bool { return o.Kind == KindNone }

// ValueOr returns the value when the outcome succeeded and def otherwise.
func (o Outcome[T]) ValueOr(def T) T {
	if o.OK() {
		return o.Value
	}
	return def
}
