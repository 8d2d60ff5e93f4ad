package resilience

import (
	"context"
	"errors"
	"net"
	"syscall"

	"github.com/MrWong99/callpilot/pkg/types"
)

// Classify maps an adapter error to the [types.ErrorKind] the session
// controller uses to pick a substitution policy. A nil error is [types.KindNone].
//
// Causes are checked in priority order: deadline, malformed reply, empty
// input, then anything that means the provider could not be reached (open
// circuit, exhausted group, network failure). Everything else is internal.
func Classify(err error) types.ErrorKind {
	switch {
	case err == nil:
		return types.KindNone
	case errors.Is(err, context.DeadlineExceeded), isNetTimeout(err):
		return types.KindTimeout
	case errors.Is(err, types.ErrMalformed):
		return types.KindMalformed
	case errors.Is(err, types.ErrEmpty):
		return types.KindEmpty
	case errors.Is(err, ErrCircuitOpen), errors.Is(err, ErrAllFailed):
		return types.KindUnavailable
	case isNetworkError(err):
		return types.KindUnavailable
	default:
		return types.KindInternal
	}
}

// isNetTimeout catches HTTP client timeouts, which surface as net.Error
// rather than context.DeadlineExceeded.
func isNetTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}

// Outcome runs fn and wraps its result as a [types.Outcome], classifying any
// error with [Classify].
func Outcome[T any](fn func() (T, error)) types.Outcome[T] {
	v, err := fn()
	if err != nil {
		return types.Fail[T](Classify(err), err)
	}
	return types.Ok(v)
}
