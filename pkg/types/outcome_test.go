package types

import (
	"errors"
	"testing"
)

func TestOutcome(t *testing.T) {
	t.Parallel()

	ok := Ok(42)
	if !ok.OK() || ok.ValueOr(0) != 42 || ok.Err != nil {
		t.Errorf("Ok(42) = %+v", ok)
	}

	boom := errors.New("boom")
	failed := Fail[int](KindTimeout, boom)
	if failed.OK() || failed.ValueOr(7) != 7 || !errors.Is(failed.Err, boom) {
		t.Errorf("Fail = %+v", failed)
	}

	if got := Fail[int](KindNone, boom); got.OK() || got.Kind != KindInternal {
		t.Errorf("Fail(KindNone) kind = %v, want internal", got.Kind)
	}
}

func TestErrorKind_String(t *testing.T) {
	t.Parallel()

	tests := map[ErrorKind]string{
		KindNone:        "none",
		KindTimeout:     "timeout",
		KindUnavailable: "unavailable",
		KindMalformed:   "malformed",
		KindEmpty:       "empty",
		KindInternal:    "internal",
		ErrorKind(99):   "kind(99)",
	}
	for k, want := range tests {
		if got := k.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(k), got, want)
		}
	}
}
