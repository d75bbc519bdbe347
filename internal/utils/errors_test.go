package utils

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindPredicates(t *testing.T) {
	cases := []struct {
		err  error
		pred func(error) bool
		name string
	}{
		{NotFoundError("missing"), IsNotFound, "not found"},
		{AuthError("denied"), IsAuth, "auth"},
		{SecurityError("escape"), IsSecurity, "security"},
		{UnsupportedError("encrypted"), IsUnsupported, "unsupported"},
		{ConcurrencyError("busy"), IsConcurrency, "concurrency"},
		{ValidationError("bad input"), IsValidation, "validation"},
	}

	for _, c := range cases {
		if !c.pred(c.err) {
			t.Errorf("%s predicate false for its own error", c.name)
		}
	}

	if IsNotFound(AuthError("denied")) {
		t.Error("IsNotFound matched an auth error")
	}
	if IsAuth(nil) {
		t.Error("IsAuth matched nil")
	}
	if IsSecurity(errors.New("plain")) {
		t.Error("IsSecurity matched an unclassified error")
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("while restoring: %w", SecurityError("entry escapes target"))
	if !IsSecurity(err) {
		t.Error("classification lost through wrapping")
	}
	if KindOf(err) != KindSecurity {
		t.Errorf("KindOf = %q, want %q", KindOf(err), KindSecurity)
	}
}

func TestIOErrorWrapsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := IOError(cause, "failed to write %s", "tasks.json")

	if !errors.Is(err, cause) {
		t.Error("cause not reachable through Unwrap")
	}
	if got := err.Error(); got != "failed to write tasks.json: disk full" {
		t.Errorf("message = %q", got)
	}
}

func TestErrorWithSuggestion(t *testing.T) {
	err := WrapWithSuggestion(NotFoundError("backup not found"), "run the list command")

	var suggest *ErrorWithSuggestion
	if !errors.As(err, &suggest) {
		t.Fatal("suggestion type not reachable via errors.As")
	}
	if suggest.Suggestion != "run the list command" {
		t.Errorf("suggestion = %q", suggest.Suggestion)
	}
	// The classified kind survives the extra layer.
	if !IsNotFound(err) {
		t.Error("kind lost under suggestion wrapper")
	}
}

func TestErrBackupNotFound(t *testing.T) {
	err := ErrBackupNotFound("backup-20260101-000000")
	if !IsNotFound(err) {
		t.Error("not classified as not found")
	}

	var suggest *ErrorWithSuggestion
	if !errors.As(err, &suggest) || suggest.Suggestion == "" {
		t.Error("missing suggestion")
	}
}
