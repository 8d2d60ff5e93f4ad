package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/MrWong99/callpilot/pkg/types"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want types.ErrorKind
	}{
		{"nil", nil, types.KindNone},
		{"deadline", fmt.Errorf("whisper: %w", context.DeadlineExceeded), types.KindTimeout},
		{"net timeout", &net.OpError{Op: "read", Err: timeoutErr{}}, types.KindTimeout},
		{"malformed", fmt.Errorf("analysis: %w", types.ErrMalformed), types.KindMalformed},
		{"empty", fmt.Errorf("analysis: %w", types.ErrEmpty), types.KindEmpty},
		{"circuit open", ErrCircuitOpen, types.KindUnavailable},
		{"all failed", fmt.Errorf("%w: %w", ErrAllFailed, errors.New("boom")), types.KindUnavailable},
		{"all failed by deadline", fmt.Errorf("%w: %w", ErrAllFailed, context.DeadlineExceeded), types.KindTimeout},
		{"connection refused", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, types.KindUnavailable},
		{"other", errors.New("json: cannot unmarshal"), types.KindInternal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Classify(tc.err); got != tc.want {
				t.Errorf("Classify(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestOutcome(t *testing.T) {
	t.Parallel()
	ok := Outcome(func() (string, error) { return "hi", nil })
	if !ok.OK() || ok.Value != "hi" {
		t.Fatalf("ok outcome = %+v", ok)
	}

	failed := Outcome(func() (string, error) { return "ignored", ErrCircuitOpen })
	if failed.OK() || failed.Kind != types.KindUnavailable || !errors.Is(failed.Err, ErrCircuitOpen) {
		t.Fatalf("failed outcome = %+v", failed)
	}
	if got := failed.ValueOr("default"); got != "default" {
		t.Errorf("ValueOr = %q, want default", got)
	}
}
