package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/xid"

	"github.com/sakif/fleetchat/internal/apperror"
	"github.com/sakif/fleetchat/internal/auth"
	"github.com/sakif/fleetchat/internal/service"
)

// stateCookie carries the OAuth CSRF state between login and callback.
const stateCookie = "oauth_state"

// AuthHandler manages sign-up, sign-in (password and federated) and sign-out.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister / HandleLogin  → username + password, issue the session cookie
//   - HandleFederatedLogin          → redirect to the provider's consent page
//   - HandleFederatedCallback       → finish the provider flow, issue the session cookie
//   - HandleLogout                  → announce sign-out and clear the cookie
//   - HandleMe                      → the signed-in user's profile
type AuthHandler struct {
	auth   *service.AuthService
	logger *slog.Logger
}

func NewAuthHandler(svc *service.AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		auth:   svc,
		logger: logger,
	}
}

// CredentialsRequest is the body of /auth/register and /auth/login.
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HandleRegister creates an account and signs it in.
//
// HTTP: POST /auth/register
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.ValidationFailed("body", "invalid JSON"))
		return
	}

	result, err := h.auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		h.logger.Info("registration rejected",
			slog.String("username", req.Username),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}

	h.setSession(w, result.Token)
	writeJSON(w, http.StatusCreated, result.Profile)
}

// HandleLogin signs in with username and password.
//
// HTTP: POST /auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.ValidationFailed("body", "invalid JSON"))
		return
	}

	result, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	h.setSession(w, result.Token)
	writeJSON(w, http.StatusOK, result.Profile)
}

// HandleFederatedLogin redirects the browser to the provider's consent page.
//
// HTTP: GET /auth/{provider}/login
//
// A random state is stored in a short-lived HttpOnly cookie and checked on
// callback, which proves the callback was started by this server.
func (h *AuthHandler) HandleFederatedLogin(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	state := xid.New().String()

	target, err := h.auth.FederatedAuthURL(provider, state)
	if err != nil {
		writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10 minutes
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// HandleFederatedCallback completes the provider flow.
//
// HTTP: GET /auth/{provider}/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter (CSRF check)
//  2. Exchange the code, provision the profile on first sign-in
//  3. Issue the session cookie and redirect to the app
//
// A denied consent screen arrives as ?error=... and is reported as a
// cancelled sign-in.
func (h *AuthHandler) HandleFederatedCallback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")

	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || r.URL.Query().Get("state") != cookie.Value {
		h.logger.Warn("auth callback: state mismatch", slog.String("provider", provider))
		writeError(w, apperror.ValidationFailed("state", "invalid OAuth state"))
		return
	}

	// single-use
	http.SetCookie(w, &http.Cookie{
		Name:   stateCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	code := r.URL.Query().Get("code")
	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("auth callback: user denied authorization",
			slog.String("provider", provider),
			slog.String("error", errParam),
		)
		code = ""
	}

	result, err := h.auth.FederatedLogin(r.Context(), provider, code)
	if err != nil {
		h.logger.Warn("auth callback: sign-in failed",
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}

	h.setSession(w, result.Token)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// HandleLogout announces the sign-out and clears the session cookie. Live
// profile streams for the account end when the provider reports it.
//
// HTTP: POST /auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if accountID, ok := auth.AccountIDFromContext(r.Context()); ok {
		if err := h.auth.SignOut(r.Context(), accountID); err != nil {
			h.logger.Warn("sign-out announcement failed",
				slog.String("accountID", accountID),
				slog.String("error", err.Error()),
			)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// HandleMe returns the signed-in user's profile.
//
// HTTP: GET /api/me
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	accountID, _ := auth.AccountIDFromContext(r.Context())

	p, err := h.auth.CurrentProfile(r.Context(), accountID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *AuthHandler) setSession(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   h.auth.SessionTTL(),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
