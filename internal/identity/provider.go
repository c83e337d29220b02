// Package identity is the identity-provider capability: it creates and
// verifies credentials, completes federated sign-in and announces account
// lifecycle changes (sign-in, sign-out) on an explicit channel.
//
// The rest of the app never touches password hashes or OAuth tokens; it only
// sees model.Account values and typed apperror failures:
//
//	CreateAccount   -> ErrConflict (handle in use), ErrValidation (weak/oversized secret)
//	Authenticate    -> ErrAuth/invalid_credentials
//	FederatedSignIn -> ErrAuth/cancelled, ErrAuth/network, ErrNotFound (unknown provider)
package identity

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/sakif/fleetchat/internal/apperror"
	"github.com/sakif/fleetchat/internal/auth"
	"github.com/sakif/fleetchat/internal/model"
	"github.com/sakif/fleetchat/internal/repository"
)

// EventKind says what happened to an account.
type EventKind int

const (
	SignedIn EventKind = iota + 1
	SignedOut
)

func (k EventKind) String() string {
	switch k {
	case SignedIn:
		return "signed_in"
	case SignedOut:
		return "signed_out"
	default:
		return "unknown"
	}
}

// AccountEvent is one lifecycle change.
type AccountEvent struct {
	Kind    EventKind
	Account model.Account
}

// Provider is the identity capability the services depend on.
type Provider interface {
	CreateAccount(ctx context.Context, handle, secret string) (*model.Account, error)
	Authenticate(ctx context.Context, handle, secret string) (*model.Account, error)
	LookupAccount(ctx context.Context, accountID string) (*model.Account, error)
	// FederatedAuthURL returns the consent-screen URL for provider.
	FederatedAuthURL(provider, state string) (string, error)
	// FederatedSignIn completes the code exchange. An empty code means the
	// user closed or declined the consent screen.
	FederatedSignIn(ctx context.Context, provider, code string) (*model.Account, error)
	SignOut(ctx context.Context, accountID string) error
	// Watch subscribes to lifecycle events until the returned watch is closed.
	Watch() *AccountWatch
}

// watchBuffer bounds how far a slow watcher may fall behind before events are dropped.
const watchBuffer = 64

// AccountWatch delivers lifecycle events in the order they happened.
type AccountWatch struct {
	c     chan AccountEvent
	local *Local
	once  sync.Once
}

// C is closed when the watch is closed.
func (w *AccountWatch) C() <-chan AccountEvent {
	return w.c
}

// Close detaches the watch and closes C. Safe to call more than once.
func (w *AccountWatch) Close() {
	w.once.Do(func() {
		w.local.mu.Lock()
		delete(w.local.watches, w)
		close(w.c)
		w.local.mu.Unlock()
	})
}

var _ Provider = (*Local)(nil)

// Local is the built-in provider backed by the accounts table.
type Local struct {
	accounts  repository.AccountRepository
	passwords *auth.PasswordService
	oauth     map[string]auth.OAuthProvider
	logger    *slog.Logger

	mu      sync.Mutex
	watches map[*AccountWatch]struct{}
}

// NewLocal creates the provider. Federated providers are optional; only the
// ones passed here can be used with FederatedSignIn.
func NewLocal(
	accounts repository.AccountRepository,
	passwords *auth.PasswordService,
	logger *slog.Logger,
	federated ...auth.OAuthProvider,
) *Local {
	l := &Local{
		accounts:  accounts,
		passwords: passwords,
		oauth:     make(map[string]auth.OAuthProvider, len(federated)),
		logger:    logger,
		watches:   make(map[*AccountWatch]struct{}),
	}
	for _, p := range federated {
		l.oauth[p.Name()] = p
	}
	return l
}

// CreateAccount registers a password credential under handle.
// No lifecycle event is emitted: the caller writes the profile itself.
func (l *Local) CreateAccount(ctx context.Context, handle, secret string) (*model.Account, error) {
	hash, err := l.passwords.Hash(secret)
	if err != nil {
		return nil, err
	}

	account := &model.Account{Provider: model.ProviderPassword, LoginHandle: handle}
	if err := l.accounts.CreateAccount(ctx, account, hash); err != nil {
		return nil, err
	}
	return account, nil
}

// Authenticate verifies handle/secret. Unknown handle and wrong secret are
// indistinguishable to the caller.
func (l *Local) Authenticate(ctx context.Context, handle, secret string) (*model.Account, error) {
	account, hash, err := l.accounts.GetByLoginHandle(ctx, handle)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.InvalidCredentials()
		}
		return nil, err
	}
	if err := l.passwords.Verify(hash, secret); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			l.logger.Error("verifying password hash",
				slog.String("accountID", account.ID),
				slog.String("error", err.Error()),
			)
		}
		return nil, apperror.InvalidCredentials()
	}

	l.emit(AccountEvent{Kind: SignedIn, Account: *account})
	return account, nil
}

func (l *Local) LookupAccount(ctx context.Context, accountID string) (*model.Account, error) {
	return l.accounts.GetAccount(ctx, accountID)
}

func (l *Local) FederatedAuthURL(provider, state string) (string, error) {
	p, ok := l.oauth[provider]
	if !ok {
		return "", apperror.NotFound("identity provider", provider)
	}
	return p.AuthURL(state), nil
}

// FederatedSignIn exchanges code with provider and creates or refreshes the
// linked account. Exchange failures are reported as retryable network errors.
func (l *Local) FederatedSignIn(ctx context.Context, provider, code string) (*model.Account, error) {
	p, ok := l.oauth[provider]
	if !ok {
		return nil, apperror.NotFound("identity provider", provider)
	}
	if code == "" {
		return nil, apperror.Auth(apperror.CodeCancelled, "sign-in was cancelled", nil)
	}

	user, err := p.Exchange(ctx, code)
	if err != nil {
		return nil, apperror.Auth(apperror.CodeNetwork, "could not reach the sign-in provider", err)
	}

	account := &model.Account{DisplayName: user.DisplayName, PhotoURL: user.PhotoURL}
	if err := l.accounts.UpsertFederated(ctx, user.Provider, user.Subject, account); err != nil {
		return nil, err
	}

	l.emit(AccountEvent{Kind: SignedIn, Account: *account})
	return account, nil
}

// SignOut announces that the account's session ended.
func (l *Local) SignOut(ctx context.Context, accountID string) error {
	account, err := l.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	l.emit(AccountEvent{Kind: SignedOut, Account: *account})
	return nil
}

func (l *Local) Watch() *AccountWatch {
	w := &AccountWatch{c: make(chan AccountEvent, watchBuffer), local: l}
	l.mu.Lock()
	l.watches[w] = struct{}{}
	l.mu.Unlock()
	return w
}

// emit never blocks. A watcher whose buffer is full misses the event.
func (l *Local) emit(ev AccountEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for w := range l.watches {
		select {
		case w.c <- ev:
		default:
			l.logger.Warn("account watcher is full, dropping event",
				slog.String("event", ev.Kind.String()),
				slog.String("accountID", ev.Account.ID),
			)
		}
	}
}
