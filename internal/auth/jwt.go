// Package auth holds the credential primitives behind the built-in identity
// provider: session tokens, password hashing and the OAuth2 clients for
// federated sign-in.
//
// SESSION FLOW:
//  1. The client registers or logs in (POST /auth/register, /auth/login), or
//     completes a federated sign-in (/auth/{provider}/callback).
//  2. The server issues a JWT whose subject is the account ID and stores it
//     in the HttpOnly "token" cookie.
//  3. Every /api and /ws request goes through RequireAuth, which validates the
//     cookie and puts the account ID in the request context.
//
// The token is stateless: no DB lookup happens to validate it. Signing out
// clears the cookie and notifies the account-lifecycle channel so open live
// streams for the account are torn down.
//
// JWT STRUCTURE:
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: {"alg":"HS256","typ":"JWT"}
//	- Payload: {"sub":"<accountID>","iss":"fleetchat","exp":...}
//	- Signature: HMAC-SHA256(header+"."+payload, secret)
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/fleetchat/internal/apperror"
)

const (
	issuer = "fleetchat"

	// DefaultSessionTTL is used when NewTokenService is given a zero TTL.
	DefaultSessionTTL = 7 * 24 * time.Hour
)

// TokenService signs and validates session tokens with an HMAC secret.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a TokenService. The secret must be at least 16
// characters; in production use JWT_SECRET=$(openssl rand -hex 32).
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl}, nil
}

// TTL is the lifetime of tokens issued by Generate. Handlers use it for the cookie MaxAge.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

type claims struct {
	jwt.RegisteredClaims
}

// Generate issues a session token for accountID with the configured TTL.
func (s *TokenService) Generate(accountID string) (string, error) {
	return s.GenerateWithDuration(accountID, s.ttl)
}

// GenerateWithDuration issues a token that expires after d.
// Tests use a negative d to produce an already-expired token.
func (s *TokenService) GenerateWithDuration(accountID string, d time.Duration) (string, error) {
	now := time.Now()

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Validate parses tokenStr and returns the account ID it was issued for.
//
// Errors are apperror.ErrAuth: CodeTokenExpired for an expired token,
// CodeNotAuthenticated for anything else (bad signature, wrong issuer,
// wrong algorithm, missing subject).
func (s *TokenService) Validate(tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			// Reject "alg: none" and RSA/HMAC confusion before touching the secret.
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", apperror.Auth(apperror.CodeTokenExpired, "session expired", err)
		}
		return "", apperror.Auth(apperror.CodeNotAuthenticated, "invalid session token", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid || c.Subject == "" {
		return "", apperror.NotAuthenticated()
	}
	return c.Subject, nil
}
