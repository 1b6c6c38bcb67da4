package errs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestCodeOf(t *testing.T) {
	if got := CodeOf(nil); got != "" {
		t.Errorf("CodeOf(nil) = %q, want empty", got)
	}
	if got := CodeOf(NotFound("item", "x")); got != CodeNotFound {
		t.Errorf("CodeOf = %q, want %q", got, CodeNotFound)
	}
	if got := CodeOf(errors.New("boom")); got != CodeInternal {
		t.Errorf("unclassified error = %q, want %q", got, CodeInternal)
	}

	// Codes survive wrapping.
	wrapped := fmt.Errorf("outer: %w", DuplicateClaim("item-1"))
	if !HasCode(wrapped, CodeDuplicateClaim) {
		t.Errorf("wrapped error lost its code: %v", wrapped)
	}
}

func TestInternalPassthrough(t *testing.T) {
	if got := Internal("op", nil); got != nil {
		t.Errorf("Internal(nil) = %v, want nil", got)
	}

	// Already classified errors pass through unchanged.
	classified := Forbidden("not yours")
	if got := Internal("op", classified); got != classified {
		t.Errorf("Internal re-wrapped a classified error: %v", got)
	}

	wrapped := fmt.Errorf("layer: %w", SelfClaimForbidden("item-1"))
	if !HasCode(Internal("op", wrapped), CodeSelfClaimForbidden) {
		t.Error("Internal should preserve codes of wrapped classified errors")
	}

	// Deadline expiry becomes a timeout, not an internal error.
	if !HasCode(Internal("op", context.DeadlineExceeded), CodeTimeout) {
		t.Error("DeadlineExceeded should classify as timeout")
	}

	// Everything else is internal and keeps its cause.
	cause := errors.New("pq: connection reset")
	err := Internal("enqueue claim", cause)
	if !HasCode(err, CodeInternal) {
		t.Errorf("got code %q, want internal", CodeOf(err))
	}
	if !errors.Is(err, cause) {
		t.Error("cause should be reachable via errors.Is")
	}
}

func TestErrorMessageIncludesFields(t *testing.T) {
	err := InvalidInput("invalid item",
		FieldViolation{Field: "title", Reason: "too short"},
		FieldViolation{Field: "zip_code", Reason: "bad format"},
	)
	msg := err.Error()
	for _, want := range []string{"invalid_input", "title: too short", "zip_code: bad format"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}
