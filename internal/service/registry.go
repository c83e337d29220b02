// Package service contains the business logic of the chat.
//
// THE LAYERS:
//
//	Handler (HTTP / WebSocket) → parses requests, writes responses and frames
//	Service                    → validates, enforces the username rules, owns streams
//	Repository / identity      → the document store and the identity provider
//
// Services take interfaces (repository.*, identity.Provider) so tests can
// run them against an in-memory SQLite store or hand-written fakes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/fleetchat/internal/apperror"
	"github.com/sakif/fleetchat/internal/auth"
	"github.com/sakif/fleetchat/internal/identity"
	"github.com/sakif/fleetchat/internal/model"
	"github.com/sakif/fleetchat/internal/repository"
)

const (
	MinUsernameLength = 3
	MaxUsernameLength = 32

	// DefaultLoginDomain is appended to a username to form the provider login handle.
	DefaultLoginDomain = "fleetcom7.com"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidateUsername trims username and checks its length and character set.
// It never touches the store.
func ValidateUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if n := len(username); n < MinUsernameLength || n > MaxUsernameLength {
		return "", apperror.InvalidFormat("username",
			fmt.Sprintf("username must be %d to %d characters", MinUsernameLength, MaxUsernameLength))
	}
	if !usernamePattern.MatchString(username) {
		return "", apperror.InvalidFormat("username",
			"username may only contain letters, digits, dot, underscore and dash")
	}
	return username, nil
}

// NormalizeUsername is the claim key: "Alice " and "alice" collide.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// RegistryConfig tunes the Registry.
type RegistryConfig struct {
	// LoginDomain forms the provider handle lowercase(username)+"@"+LoginDomain.
	LoginDomain string
	// Claims enables the create-once claim row that closes the
	// check-then-create race. With Claims off only the profile query guards
	// uniqueness and two concurrent registrations of one name can both pass.
	Claims bool
}

// Registry maps usernames onto provider accounts and keeps them unique.
type Registry struct {
	profiles repository.ProfileRepository
	claims   repository.ClaimRepository
	provider identity.Provider
	cfg      RegistryConfig
	logger   *slog.Logger
}

func NewRegistry(
	profiles repository.ProfileRepository,
	claims repository.ClaimRepository,
	provider identity.Provider,
	cfg RegistryConfig,
	logger *slog.Logger,
) *Registry {
	if cfg.LoginDomain == "" {
		cfg.LoginDomain = DefaultLoginDomain
	}
	return &Registry{
		profiles: profiles,
		claims:   claims,
		provider: provider,
		cfg:      cfg,
		logger:   logger,
	}
}

// LoginHandle derives the provider handle for a username.
func (r *Registry) LoginHandle(username string) string {
	return NormalizeUsername(username) + "@" + r.cfg.LoginDomain
}

// Register creates an account and its profile for a new username.
//
// Steps: validate locally → query profiles → claim (claim mode) → create the
// provider credential → write the profile. A claim taken before a later step
// fails is released again. Registration is not atomic as a whole: if the
// profile write fails after the credential exists, the credential is orphaned
// and the name stays free.
func (r *Registry) Register(ctx context.Context, username, password string) (string, error) {
	username, err := ValidateUsername(username)
	if err != nil {
		return "", err
	}
	if err := auth.CheckStrength(password); err != nil {
		return "", err
	}

	reservation := "pending:" + xid.New().String()
	if err := r.reserve(ctx, username, reservation); err != nil {
		return "", err
	}

	account, err := r.provider.CreateAccount(ctx, r.LoginHandle(username), password)
	if err != nil {
		r.release(ctx, username, reservation)
		if errors.Is(err, apperror.ErrConflict) {
			return "", apperror.UsernameTaken(username)
		}
		return "", err
	}

	if r.cfg.Claims {
		if err := r.claims.TransferClaim(ctx, NormalizeUsername(username), reservation, account.ID); err != nil {
			r.logger.Error("transferring username claim",
				slog.String("username", username),
				slog.String("accountID", account.ID),
				slog.String("error", err.Error()),
			)
			r.release(ctx, username, reservation)
			return "", fmt.Errorf("registering %s: %w", username, err)
		}
	}

	profile := &model.Profile{
		AccountID:      account.ID,
		Username:       username,
		UsernameSource: model.UsernameChosen,
	}
	if err := r.profiles.CreateProfile(ctx, profile); err != nil {
		r.release(ctx, username, account.ID)
		r.logger.Error("writing profile after account creation",
			slog.String("username", username),
			slog.String("accountID", account.ID),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("registering %s: %w", username, err)
	}

	r.logger.Info("user registered",
		slog.String("accountID", account.ID),
		slog.String("username", username),
	)
	return account.ID, nil
}

// Resolve returns the account that currently owns username (exact match).
func (r *Registry) Resolve(ctx context.Context, username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", apperror.NotFound("username", username)
	}

	found, err := r.profiles.FindProfilesByUsername(ctx, username)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", username, err)
	}
	switch len(found) {
	case 0:
		return "", apperror.NotFound("username", username)
	case 1:
		return found[0].AccountID, nil
	default:
		// Only possible when claims are off and two registrations raced.
		r.logger.Warn("username held by more than one profile",
			slog.String("username", username),
			slog.Int("count", len(found)),
		)
		return found[0].AccountID, nil
	}
}

// Login resolves username and authenticates against the account's own login
// handle, so logins keep working after a rename. A missing username and a
// wrong password fail identically.
func (r *Registry) Login(ctx context.Context, username, password string) (string, error) {
	accountID, err := r.Resolve(ctx, username)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return "", apperror.InvalidCredentials()
		}
		return "", err
	}

	account, err := r.provider.LookupAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return "", apperror.InvalidCredentials()
		}
		return "", err
	}
	if account.LoginHandle == "" {
		// federated accounts have no password
		return "", apperror.InvalidCredentials()
	}

	signedIn, err := r.provider.Authenticate(ctx, account.LoginHandle, password)
	if err != nil {
		return "", err
	}
	if signedIn.ID != accountID {
		return "", apperror.InvalidCredentials()
	}
	return accountID, nil
}

// EnsureFederated returns the account's profile, creating it on first
// federated sign-in. The default username is the provider display name (or
// "Anonymous"); if it is taken, "#" plus the last four characters of the
// account ID is appended and the write is tried once more.
func (r *Registry) EnsureFederated(ctx context.Context, account model.Account) (*model.Profile, error) {
	existing, err := r.profiles.GetProfile(ctx, account.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, err
	}

	name := strings.TrimSpace(account.DisplayName)
	if name == "" {
		name = model.DefaultUsername
	}

	profile, err := r.provisionFederated(ctx, account, name)
	if errors.Is(err, apperror.ErrConflict) && apperror.CodeOf(err) == apperror.CodeUsernameTaken {
		profile, err = r.provisionFederated(ctx, account, name+"#"+suffix(account.ID))
	}
	if err != nil {
		return nil, err
	}

	r.logger.Info("federated profile provisioned",
		slog.String("accountID", account.ID),
		slog.String("username", profile.Username),
		slog.String("provider", account.Provider),
	)
	return profile, nil
}

func (r *Registry) provisionFederated(ctx context.Context, account model.Account, username string) (*model.Profile, error) {
	if err := r.reserve(ctx, username, account.ID); err != nil {
		return nil, err
	}

	profile := &model.Profile{
		AccountID:      account.ID,
		Username:       username,
		UsernameSource: model.UsernameProvider,
		ProfilePic:     account.PhotoURL,
	}
	err := r.profiles.CreateProfile(ctx, profile)
	if err == nil {
		return profile, nil
	}

	if !errors.Is(err, apperror.ErrConflict) {
		r.release(ctx, username, account.ID)
		return nil, fmt.Errorf("provisioning profile for %s: %w", account.ID, err)
	}

	// A concurrent sign-in of the same account got there first. The claim is
	// shared with that winner and stays unless the winner took another name.
	existing, getErr := r.profiles.GetProfile(ctx, account.ID)
	if getErr != nil {
		return nil, fmt.Errorf("provisioning profile for %s: %w", account.ID, getErr)
	}
	if NormalizeUsername(existing.Username) != NormalizeUsername(username) {
		r.release(ctx, username, account.ID)
	}
	return existing, nil
}

// reserve checks that username is free for holder and, in claim mode, takes
// the claim. A profile already owned by holder does not count as taken.
func (r *Registry) reserve(ctx context.Context, username, holder string) error {
	found, err := r.profiles.FindProfilesByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("checking username %s: %w", username, err)
	}
	for _, p := range found {
		if p.AccountID != holder {
			return apperror.UsernameTaken(username)
		}
	}

	if !r.cfg.Claims {
		return nil
	}
	if err := r.claims.ClaimUsername(ctx, NormalizeUsername(username), holder); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return apperror.UsernameTaken(username)
		}
		return fmt.Errorf("claiming username %s: %w", username, err)
	}
	return nil
}

// release drops holder's claim on username. Failures are logged only.
func (r *Registry) release(ctx context.Context, username, holder string) {
	if !r.cfg.Claims {
		return
	}
	if err := r.claims.ReleaseUsername(ctx, NormalizeUsername(username), holder); err != nil {
		r.logger.Warn("releasing username claim",
			slog.String("username", username),
			slog.String("holder", holder),
			slog.String("error", err.Error()),
		)
	}
}

func suffix(accountID string) string {
	if len(accountID) <= 4 {
		return accountID
	}
	return accountID[len(accountID)-4:]
}
