// Package apperror defines the error taxonomy shared by every layer.
//
// Each failure kind is a sentinel (ErrValidation, ErrConflict, ...) wrapped by an
// *AppError that carries a human-readable message. Callers branch with errors.Is
// on the sentinel and show AppError.Message to the user:
//
//	if errors.Is(err, apperror.ErrConflict) { ... }
//
// Auth failures additionally carry a Code naming the subkind (wrong credential,
// cancelled popup, network trouble) so the UI can pick a message and decide
// whether a retry makes sense.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")
	ErrAuth       = errors.New("authentication error")
	ErrSync       = errors.New("sync error")
)

// Auth subkinds. Only CodeNetwork is transient.
const (
	CodeInvalidCredentials = "invalid_credentials"
	CodeCancelled          = "cancelled"
	CodeNetwork            = "network"
	CodeNotAuthenticated   = "not_authenticated"
	CodeTokenExpired       = "token_expired"
	CodeWeakCredential     = "weak_credential"
	CodeInvalidFormat      = "invalid_format"
	CodeUsernameTaken      = "username_taken"
	CodeEmptyText          = "empty_text"
)

type AppError struct {
	Err     error  // sentinel kind
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
	Code    string // Optional: machine-readable subkind
	Cause   error  // Optional: underlying error, kept for logs
}

func (e *AppError) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and the underlying cause to errors.Is / errors.As.
func (e *AppError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// InvalidFormat is a validation failure for a malformed field.
func InvalidFormat(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
		Code:    CodeInvalidFormat,
	}
}

// WeakCredential rejects a password the provider would not accept.
func WeakCredential(message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   "password",
		Code:    CodeWeakCredential,
	}
}

// EmptyText rejects a blank chat message.
func EmptyText() *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: "message text must not be empty",
		Field:   "text",
		Code:    CodeEmptyText,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// UsernameTaken is the conflict returned when a username already belongs to
// another account.
func UsernameTaken(username string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("username %q is already taken", username),
		Field:   "username",
		Code:    CodeUsernameTaken,
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Auth returns an authentication failure of the given subkind.
func Auth(code, message string, cause error) *AppError {
	return &AppError{
		Err:     ErrAuth,
		Message: message,
		Code:    code,
		Cause:   cause,
	}
}

// InvalidCredentials is the single failure for both "no such username" and
// "wrong password" so the two cannot be told apart.
func InvalidCredentials() *AppError {
	return Auth(CodeInvalidCredentials, "invalid username or password", nil)
}

// NotAuthenticated is returned when an operation needs a signed-in account.
func NotAuthenticated() *AppError {
	return Auth(CodeNotAuthenticated, "sign in required", nil)
}

// SyncFailed wraps a partial backfill failure. It is logged, never fatal.
func SyncFailed(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrSync,
		Message: message,
		Cause:   cause,
	}
}

// CodeOf returns the subkind of err, or "" when err is not an AppError.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// Retryable reports whether the caller may retry the same attempt.
// Network trouble is transient; everything else is terminal for that attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrAuth) && CodeOf(err) == CodeNetwork
}
