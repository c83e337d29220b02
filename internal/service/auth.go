// Package service: session orchestration.
//
// AuthService sits between the HTTP handlers and the identity layer:
//
//	AuthHandler (HTTP) → AuthService → Registry / identity.Provider
//	                                 ↘ TokenService (JWT)
//
// It turns a successful registration, login or federated callback into a
// signed session token so handlers only deal with cookies.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/fleetchat/internal/apperror"
	"github.com/sakif/fleetchat/internal/auth"
	"github.com/sakif/fleetchat/internal/identity"
	"github.com/sakif/fleetchat/internal/model"
	"github.com/sakif/fleetchat/internal/repository"
)

type AuthService struct {
	registry *Registry
	provider identity.Provider
	profiles repository.ProfileRepository
	tokens   *auth.TokenService
	logger   *slog.Logger
}

func NewAuthService(
	registry *Registry,
	provider identity.Provider,
	profiles repository.ProfileRepository,
	tokens *auth.TokenService,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		registry: registry,
		provider: provider,
		profiles: profiles,
		tokens:   tokens,
		logger:   logger,
	}
}

// AuthResult bundles the signed-in profile and its session token so the
// handler can set the cookie and respond in one step.
type AuthResult struct {
	Profile *model.Profile
	Token   string
}

// Register creates the account and profile, then signs the new user in.
func (s *AuthService) Register(ctx context.Context, username, password string) (*AuthResult, error) {
	accountID, err := s.registry.Register(ctx, username, password)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user registered",
		slog.String("accountID", accountID),
		slog.String("username", username),
	)
	return s.issue(ctx, accountID)
}

// Login checks the credential and issues a session.
func (s *AuthService) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	accountID, err := s.registry.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, accountID)
}

// FederatedLogin completes a federated sign-in: it exchanges the provider's
// code, provisions a profile on first sign-in and issues a session.
//
// An empty code means the user backed out of the consent screen and comes
// back as a cancelled auth error.
func (s *AuthService) FederatedLogin(ctx context.Context, providerName, code string) (*AuthResult, error) {
	account, err := s.provider.FederatedSignIn(ctx, providerName, code)
	if err != nil {
		return nil, err
	}
	if _, err := s.registry.EnsureFederated(ctx, *account); err != nil {
		return nil, fmt.Errorf("service/auth: provisioning profile for %s: %w", account.ID, err)
	}

	s.logger.Info("user authenticated via federated provider",
		slog.String("accountID", account.ID),
		slog.String("provider", providerName),
	)
	return s.issue(ctx, account.ID)
}

// FederatedAuthURL returns the consent URL for providerName.
func (s *AuthService) FederatedAuthURL(providerName, state string) (string, error) {
	return s.provider.FederatedAuthURL(providerName, state)
}

// SignOut tells the provider the account left. Session tokens are stateless,
// so the caller also clears the cookie.
func (s *AuthService) SignOut(ctx context.Context, accountID string) error {
	if accountID == "" {
		return nil
	}
	return s.provider.SignOut(ctx, accountID)
}

// CurrentProfile returns the signed-in account's profile.
func (s *AuthService) CurrentProfile(ctx context.Context, accountID string) (*model.Profile, error) {
	if accountID == "" {
		return nil, apperror.NotAuthenticated()
	}
	p, err := s.profiles.GetProfile(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching profile %s: %w", accountID, err)
	}
	return p, nil
}

// SessionTTL is how long issued tokens stay valid.
func (s *AuthService) SessionTTL() int {
	return int(s.tokens.TTL().Seconds())
}

func (s *AuthService) issue(ctx context.Context, accountID string) (*AuthResult, error) {
	p, err := s.profiles.GetProfile(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching profile %s: %w", accountID, err)
	}
	token, err := s.tokens.Generate(accountID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for %s: %w", accountID, err)
	}
	return &AuthResult{Profile: p, Token: token}, nil
}
