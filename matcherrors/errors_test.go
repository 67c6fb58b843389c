package matcherrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesByKind(t *testing.T) {
	err := NotFoundf("match %q not found", "abc")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected errors.Is(err, ErrNotFound)")
	}
	if errors.Is(err, ErrConflict) {
		t.Fatalf("not-found error should not match ErrConflict")
	}
}

func TestWrappedChain(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("record: %w", Wrap(KindTransaction, "insert stats", cause))

	if !errors.Is(err, ErrTransaction) {
		t.Fatalf("expected transaction kind through fmt wrapping")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to stay reachable")
	}
	if got := KindOf(err); got != KindTransaction {
		t.Fatalf("KindOf = %q, want %q", got, KindTransaction)
	}
	if got := err.Error(); got != "record: insert stats: disk full" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestKindOfPlainError(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != "" {
		t.Fatalf("KindOf(plain) = %q, want empty", got)
	}
	if got := KindOf(nil); got != "" {
		t.Fatalf("KindOf(nil) = %q, want empty", got)
	}
}

func TestSentinelMessage(t *testing.T) {
	if ErrValidation.Error() != "validation" {
		t.Fatalf("sentinel message = %q", ErrValidation.Error())
	}
}
