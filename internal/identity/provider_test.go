package identity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/fleetchat/internal/apperror"
	"github.com/sakif/fleetchat/internal/auth"
	"github.com/sakif/fleetchat/internal/model"
	"github.com/sakif/fleetchat/internal/repository/sqlite"
)

// fakeOAuth is an OAuthProvider whose Exchange returns a fixed user or error.
type fakeOAuth struct {
	name string
	user *auth.FederatedUser
	err  error
}

func (f *fakeOAuth) Name() string                { return f.name }
func (f *fakeOAuth) AuthURL(state string) string { return "https://example.test/consent?state=" + state }
func (f *fakeOAuth) Exchange(ctx context.Context, code string) (*auth.FederatedUser, error) {
	return f.user, f.err
}

func newTestLocal(t *testing.T, federated ...auth.OAuthProvider) *Local {
	t.Helper()
	db, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewLocal(db, auth.NewPasswordServiceForTest(bcrypt.MinCost), logger, federated...)
}

func nextEvent(t *testing.T, w *AccountWatch) AccountEvent {
	t.Helper()
	select {
	case ev := <-w.C():
		return ev
	case <-time.After(time.Second):
		t.Fatal("expected an account event")
		return AccountEvent{}
	}
}

// =========================================================================
// PASSWORD ACCOUNTS
// =========================================================================

func TestCreateAccount_ThenAuthenticate(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	created, err := l.CreateAccount(ctx, "alice@fleetcom7.com", "secret1")
	if err != nil {
		t.Fatalf("CreateAccount() error = %v", err)
	}

	got, err := l.Authenticate(ctx, "alice@fleetcom7.com", "secret1")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("Authenticate() ID = %q, want %q", got.ID, created.ID)
	}
}

func TestCreateAccount_Failures(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()
	if _, err := l.CreateAccount(ctx, "taken@fleetcom7.com", "secret1"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		handle string
		secret string
		want   error
	}{
		{"handle in use", "taken@fleetcom7.com", "secret1", apperror.ErrConflict},
		{"weak secret", "new@fleetcom7.com", "123", apperror.ErrValidation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := l.CreateAccount(ctx, tc.handle, tc.secret)
			if !errors.Is(err, tc.want) {
				t.Errorf("CreateAccount() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestAuthenticate_NoEnumeration(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()
	if _, err := l.CreateAccount(ctx, "alice@fleetcom7.com", "secret1"); err != nil {
		t.Fatal(err)
	}

	_, wrongPassword := l.Authenticate(ctx, "alice@fleetcom7.com", "nope-nope")
	_, unknownUser := l.Authenticate(ctx, "ghost@fleetcom7.com", "secret1")

	for _, err := range []error{wrongPassword, unknownUser} {
		if apperror.CodeOf(err) != apperror.CodeInvalidCredentials {
			t.Errorf("error = %v, want invalid_credentials", err)
		}
	}
	if wrongPassword.Error() != unknownUser.Error() {
		t.Errorf("messages differ: %q vs %q", wrongPassword, unknownUser)
	}
}

// =========================================================================
// FEDERATED SIGN-IN
// =========================================================================

func TestFederatedSignIn(t *testing.T) {
	google := &fakeOAuth{name: "google", user: &auth.FederatedUser{
		Provider: "google", Subject: "g-1", DisplayName: "Alice", PhotoURL: "https://g/a.png",
	}}
	l := newTestLocal(t, google)
	w := l.Watch()
	defer w.Close()

	account, err := l.FederatedSignIn(context.Background(), "google", "code")
	if err != nil {
		t.Fatalf("FederatedSignIn() error = %v", err)
	}
	if account.Provider != model.ProviderGoogle || account.DisplayName != "Alice" {
		t.Errorf("account = %+v", account)
	}

	ev := nextEvent(t, w)
	if ev.Kind != SignedIn || ev.Account.ID != account.ID {
		t.Errorf("event = %+v, want SignedIn for %s", ev, account.ID)
	}
}

func TestFederatedSignIn_Failures(t *testing.T) {
	broken := &fakeOAuth{name: "github", err: errors.New("connection reset")}
	l := newTestLocal(t, broken)
	ctx := context.Background()

	tests := []struct {
		name      string
		provider  string
		code      string
		want      error
		code2     string
		retryable bool
	}{
		{"cancelled", "github", "", apperror.ErrAuth, apperror.CodeCancelled, false},
		{"network", "github", "code", apperror.ErrAuth, apperror.CodeNetwork, true},
		{"unknown provider", "myspace", "code", apperror.ErrNotFound, "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := l.FederatedSignIn(ctx, tc.provider, tc.code)
			if !errors.Is(err, tc.want) {
				t.Fatalf("FederatedSignIn() error = %v, want %v", err, tc.want)
			}
			if apperror.CodeOf(err) != tc.code2 {
				t.Errorf("CodeOf() = %q, want %q", apperror.CodeOf(err), tc.code2)
			}
			if apperror.Retryable(err) != tc.retryable {
				t.Errorf("Retryable() = %v, want %v", apperror.Retryable(err), tc.retryable)
			}
		})
	}
}

func TestFederatedAuthURL(t *testing.T) {
	l := newTestLocal(t, &fakeOAuth{name: "github"})

	u, err := l.FederatedAuthURL("github", "s1")
	if err != nil {
		t.Fatalf("FederatedAuthURL() error = %v", err)
	}
	if u != "https://example.test/consent?state=s1" {
		t.Errorf("FederatedAuthURL() = %q", u)
	}
	if _, err := l.FederatedAuthURL("google", "s1"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("unconfigured provider error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// LIFECYCLE CHANNEL
// =========================================================================

func TestWatch_SignInThenSignOut(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()
	account, err := l.CreateAccount(ctx, "bob@fleetcom7.com", "secret1")
	if err != nil {
		t.Fatal(err)
	}

	w := l.Watch()
	defer w.Close()

	if _, err := l.Authenticate(ctx, "bob@fleetcom7.com", "secret1"); err != nil {
		t.Fatal(err)
	}
	if err := l.SignOut(ctx, account.ID); err != nil {
		t.Fatalf("SignOut() error = %v", err)
	}

	if ev := nextEvent(t, w); ev.Kind != SignedIn {
		t.Errorf("first event = %v, want signed_in", ev.Kind)
	}
	if ev := nextEvent(t, w); ev.Kind != SignedOut || ev.Account.ID != account.ID {
		t.Errorf("second event = %+v, want signed_out for %s", ev, account.ID)
	}
}

func TestWatch_CloseClosesChannel(t *testing.T) {
	l := newTestLocal(t)
	w := l.Watch()

	w.Close()
	w.Close()

	if _, ok := <-w.C(); ok {
		t.Error("C() still open after Close")
	}
	// emitting after close must not panic
	l.emit(AccountEvent{Kind: SignedOut})
}
