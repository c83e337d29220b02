package auth

// Federated sign-in over the OAuth2 authorization-code flow.
//
// FLOW:
//  1. GET /auth/{provider}/login redirects to AuthURL(state).
//  2. The user approves on the provider's site; the provider redirects to the
//     callback with ?code=...&state=... (or ?error=access_denied if they
//     closed/declined the consent screen).
//  3. Exchange trades the code for an access token and reads the user's
//     profile from the provider's userinfo endpoint.
//
// Both providers are reduced to a FederatedUser so the identity layer does
// not care which one the user picked.

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"

	"github.com/sakif/fleetchat/internal/model"
)

const (
	githubUserURL = "https://api.github.com/user"
	googleUserURL = "https://www.googleapis.com/oauth2/v3/userinfo"
)

// FederatedUser is what a provider tells us about the person signing in.
type FederatedUser struct {
	Provider    string
	Subject     string // provider's stable user id
	DisplayName string
	PhotoURL    string
}

// OAuthProvider is one federated sign-in option.
type OAuthProvider interface {
	Name() string
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*FederatedUser, error)
}

var (
	_ OAuthProvider = (*GitHubProvider)(nil)
	_ OAuthProvider = (*GoogleProvider)(nil)
)

// =========================================================================
// GitHub
// =========================================================================

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

type GitHubProvider struct {
	config  *oauth2.Config
	userURL string
}

func NewGitHubProvider(clientID, clientSecret, callbackURL string) *GitHubProvider {
	return &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"read:user"},
			Endpoint:     github.Endpoint,
		},
		userURL: githubUserURL,
	}
}

func (p *GitHubProvider) Name() string { return model.ProviderGitHub }

func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades code for a token and fetches /user.
// The display name falls back to the login when the GitHub profile has no name.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*FederatedUser, error) {
	var u githubUser
	if err := exchangeAndFetch(ctx, p.config, code, p.userURL, &u); err != nil {
		return nil, err
	}
	if u.ID == 0 {
		return nil, fmt.Errorf("auth: GitHub returned an invalid user (ID = 0)")
	}

	name := u.Name
	if name == "" {
		name = u.Login
	}
	return &FederatedUser{
		Provider:    model.ProviderGitHub,
		Subject:     strconv.FormatInt(u.ID, 10),
		DisplayName: name,
		PhotoURL:    u.AvatarURL,
	}, nil
}

// =========================================================================
// Google
// =========================================================================

type googleUser struct {
	Sub     string `json:"sub"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

type GoogleProvider struct {
	config  *oauth2.Config
	userURL string
}

func NewGoogleProvider(clientID, clientSecret, callbackURL string) *GoogleProvider {
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"openid", "https://www.googleapis.com/auth/userinfo.profile"},
			Endpoint:     google.Endpoint,
		},
		userURL: googleUserURL,
	}
}

func (p *GoogleProvider) Name() string { return model.ProviderGoogle }

func (p *GoogleProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*FederatedUser, error) {
	var u googleUser
	if err := exchangeAndFetch(ctx, p.config, code, p.userURL, &u); err != nil {
		return nil, err
	}
	if u.Sub == "" {
		return nil, fmt.Errorf("auth: Google returned a user without a subject")
	}
	return &FederatedUser{
		Provider:    model.ProviderGoogle,
		Subject:     u.Sub,
		DisplayName: u.Name,
		PhotoURL:    u.Picture,
	}, nil
}

// exchangeAndFetch runs the code exchange and decodes the userinfo response into dst.
// The client returned by config.Client attaches the bearer token and refreshes it if needed.
func exchangeAndFetch(ctx context.Context, config *oauth2.Config, code, userURL string, dst any) error {
	token, err := config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("auth: exchanging OAuth code: %w", err)
	}

	client := config.Client(ctx, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userURL, nil)
	if err != nil {
		return fmt.Errorf("auth: building userinfo request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("auth: calling userinfo API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth: userinfo API returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("auth: decoding userinfo response: %w", err)
	}
	return nil
}
