package provider

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "with provider",
			err:  NewError("local", "stream", errors.New("connection refused"), true),
			want: "local stream: connection refused",
		},
		{
			name: "without provider",
			err:  &Error{Op: "complete", Err: errors.New("boom")},
			want: "complete: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	wrapped := NewError("remote", "stream", ErrTimeout, true)
	if !errors.Is(wrapped, ErrTimeout) {
		t.Error("errors.Is should see through Error wrapper")
	}

	var provErr *Error
	if !errors.As(wrapped, &provErr) {
		t.Fatal("errors.As should find *Error")
	}
	if provErr.Provider != "remote" {
		t.Errorf("Provider = %q, want %q", provErr.Provider, "remote")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"retryable wrapped", NewError("local", "stream", errors.New("busy"), true), true},
		{"non-retryable wrapped", NewError("local", "stream", errors.New("bad model"), false), false},
		{"bare timeout", ErrTimeout, true},
		{"wrapped timeout", fmt.Errorf("op failed: %w", ErrTimeout), true},
		{"plain error", errors.New("nope"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}
