package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestLeadlineError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *LeadlineError
		want string
	}{
		{
			name: "with cause",
			err:  NewError(CodeValidation, "cannot save lead", ErrPhoneIncomplete),
			want: "[VALIDATION] cannot save lead: phone number must have exactly 10 digits",
		},
		{
			name: "without cause",
			err:  NewError(CodeNotFound, "lead missing", nil),
			want: "[NOT_FOUND] lead missing",
		},
		{
			name: "remote error",
			err:  NewError(CodeRemote, "insert failed", ErrRemoteUnavailable),
			want: "[REMOTE] insert failed: remote store unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLeadlineError_Unwrap(t *testing.T) {
	err := Validation("cannot save lead", ErrAssigneeRequired)
	wrapped := fmt.Errorf("submit: %w", err)

	if !Is(wrapped, ErrAssigneeRequired) {
		t.Error("expected wrapped error to match ErrAssigneeRequired")
	}

	var le *LeadlineError
	if !As(wrapped, &le) {
		t.Fatal("expected errors.As to find LeadlineError")
	}
	if le.Code != CodeValidation {
		t.Errorf("code = %s, want %s", le.Code, CodeValidation)
	}
}

func TestWithContext(t *testing.T) {
	err := NewError(CodeStorage, "put failed", nil)
	err.Context = nil

	got := WithContext(WithContext(err, "table", "leads"), "id", "abc")
	if got.Context["table"] != "leads" || got.Context["id"] != "abc" {
		t.Errorf("unexpected context: %v", got.Context)
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"coded", NewError(CodeState, "busy", ErrSessionBusy), CodeState},
		{"wrapped", fmt.Errorf("outer: %w", NewError(CodeRemote, "x", nil)), CodeRemote},
		{"plain", errors.New("plain"), ""},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}
