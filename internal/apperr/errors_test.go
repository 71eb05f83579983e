package apperr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestConflictErrorIs(t *testing.T) {
	err := fmt.Errorf("write index: %w", &ConflictError{Path: "docs/index.json", ExpectedVersion: "abc"})
	if !errors.Is(err, ErrConflict) {
		t.Fatal("wrapped ConflictError should match ErrConflict")
	}
	if errors.Is(err, ErrTransport) {
		t.Error("ConflictError must not match ErrTransport")
	}
}

func TestTransportErrorUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: no such host")
	err := &TransportError{Op: "GET", Path: "docs/index.json", Err: cause}
	if !errors.Is(err, ErrTransport) {
		t.Error("expected ErrTransport")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable through Unwrap")
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&ConflictError{Path: "a"}, true},
		{&TransportError{Op: "PUT", Path: "a", Status: 502, Err: errors.New("bad gateway")}, true},
		{fmt.Errorf("%w: slug", ErrInvalidInput), false},
		{ErrNotFound, false},
		{ErrDuplicate, false},
	}
	for _, c := range cases {
		if got := Retryable(c.err); got != c.want {
			t.Errorf("Retryable(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestUserMessage(t *testing.T) {
	msg := UserMessage(&ConflictError{Path: "kanban/index.json", ExpectedVersion: "x"})
	if !strings.Contains(msg, "try again") {
		t.Errorf("conflict message should invite a retry: %q", msg)
	}
	msg = UserMessage(fmt.Errorf("%w: bad slug", ErrInvalidInput))
	if strings.Contains(msg, "try again") {
		t.Errorf("validation message should not invite a retry: %q", msg)
	}
	if UserMessage(nil) != "" {
		t.Error("nil error should render empty")
	}
}
