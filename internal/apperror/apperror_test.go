package apperror

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{
			name:      "NotFound wraps ErrNotFound",
			err:       NotFound("profile", "abc123"),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "EmptyText is a validation error",
			err:       EmptyText(),
			target:    ErrValidation,
			wantMatch: true,
		},
		{
			name:      "WeakCredential is a validation error",
			err:       WeakCredential("too short"),
			target:    ErrValidation,
			wantMatch: true,
		},
		{
			name:      "UsernameTaken wraps ErrConflict",
			err:       UsernameTaken("alice"),
			target:    ErrConflict,
			wantMatch: true,
		},
		{
			name:      "InvalidCredentials wraps ErrAuth",
			err:       InvalidCredentials(),
			target:    ErrAuth,
			wantMatch: true,
		},
		{
			name:      "SyncFailed wraps ErrSync",
			err:       SyncFailed("backfill incomplete", errors.New("disk full")),
			target:    ErrSync,
			wantMatch: true,
		},
		{
			name:      "wrapped with fmt.Errorf still matches",
			err:       fmt.Errorf("service: registering: %w", UsernameTaken("bob")),
			target:    ErrConflict,
			wantMatch: true,
		},
		{
			name:      "NotFound does NOT match ErrValidation",
			err:       NotFound("profile", "abc123"),
			target:    ErrValidation,
			wantMatch: false,
		},
		{
			name:      "Conflict does NOT match ErrAuth",
			err:       UsernameTaken("alice"),
			target:    ErrAuth,
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errors.Is(tt.err, tt.target)
			if got != tt.wantMatch {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.wantMatch)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		wantMessage string
	}{
		{
			name:        "NotFound message includes resource and id",
			err:         NotFound("profile", "abc123"),
			wantMessage: "profile not found with id abc123",
		},
		{
			name:        "UsernameTaken quotes the username",
			err:         UsernameTaken("alice"),
			wantMessage: `username "alice" is already taken`,
		},
		{
			name:        "InvalidCredentials does not say which part was wrong",
			err:         InvalidCredentials(),
			wantMessage: "invalid username or password",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMessage {
				t.Errorf("Error() = %q, want %q", got, tt.wantMessage)
			}
		})
	}
}

func TestUnwrap_KeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Auth(CodeNetwork, "network error", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
	if !errors.Is(err, ErrAuth) {
		t.Error("errors.Is(err, ErrAuth) = false, want true")
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(fmt.Errorf("wrapped: %w", EmptyText())); got != CodeEmptyText {
		t.Errorf("CodeOf() = %q, want %q", got, CodeEmptyText)
	}
	if got := CodeOf(errors.New("plain")); got != "" {
		t.Errorf("CodeOf(plain) = %q, want empty", got)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network auth failure", Auth(CodeNetwork, "network", nil), true},
		{"cancelled popup", Auth(CodeCancelled, "cancelled", nil), false},
		{"wrong password", InvalidCredentials(), false},
		{"conflict", UsernameTaken("x"), false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidationFailedField(t *testing.T) {
	err := InvalidFormat("username", "bad username")

	if err.Field != "username" {
		t.Errorf("Field = %q, want %q", err.Field, "username")
	}
	if err.Code != CodeInvalidFormat {
		t.Errorf("Code = %q, want %q", err.Code, CodeInvalidFormat)
	}
}
