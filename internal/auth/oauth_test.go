package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// fakeOAuthServer serves a token endpoint and a userinfo endpoint returning userJSON.
func fakeOAuthServer(t *testing.T, userJSON string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok","token_type":"bearer"}`))
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			http.Error(w, "no token", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(userJSON))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(srv *httptest.Server) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "id",
		ClientSecret: "secret",
		Endpoint: oauth2.Endpoint{
			AuthURL:  srv.URL + "/authorize",
			TokenURL: srv.URL + "/token",
		},
	}
}

func TestGitHubProvider_Exchange(t *testing.T) {
	srv := fakeOAuthServer(t, `{"id":42,"login":"octo","name":"","avatar_url":"https://a/42.png"}`)
	p := &GitHubProvider{config: testConfig(srv), userURL: srv.URL + "/user"}

	u, err := p.Exchange(context.Background(), "code")
	require.NoError(t, err)

	assert.Equal(t, "github", u.Provider)
	assert.Equal(t, "42", u.Subject)
	assert.Equal(t, "octo", u.DisplayName, "falls back to login when name is empty")
	assert.Equal(t, "https://a/42.png", u.PhotoURL)
}

func TestGoogleProvider_Exchange(t *testing.T) {
	srv := fakeOAuthServer(t, `{"sub":"g-1","name":"Alice","picture":"https://g/a.png"}`)
	p := &GoogleProvider{config: testConfig(srv), userURL: srv.URL + "/user"}

	u, err := p.Exchange(context.Background(), "code")
	require.NoError(t, err)

	assert.Equal(t, "google", u.Provider)
	assert.Equal(t, "g-1", u.Subject)
	assert.Equal(t, "Alice", u.DisplayName)
}

func TestGoogleProvider_MissingSubject(t *testing.T) {
	srv := fakeOAuthServer(t, `{"name":"Nobody"}`)
	p := &GoogleProvider{config: testConfig(srv), userURL: srv.URL + "/user"}

	_, err := p.Exchange(context.Background(), "code")
	assert.Error(t, err)
}

func TestAuthURL_CarriesState(t *testing.T) {
	p := NewGitHubProvider("cid", "secret", "http://localhost/auth/github/callback")

	u := p.AuthURL("state-123")

	assert.True(t, strings.HasPrefix(u, "https://github.com/login/oauth/authorize"))
	assert.Contains(t, u, "state=state-123")
	assert.Equal(t, "github", p.Name())
}
