package auth

// Password hashing for the built-in identity provider.
//
// bcrypt embeds a random salt and the work factor in its output, so the whole
// hash string goes in accounts.password_hash and nothing else is stored.
//
//	$2a$12$<22-char salt><31-char hash>
//	 ^   ^
//	 |   cost
//	 version

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/fleetchat/internal/apperror"
)

const (
	defaultCost = 12

	// MinPasswordLength is the shortest secret the provider accepts.
	MinPasswordLength = 6
	// MaxPasswordLength is bcrypt's input limit; longer input would be silently truncated.
	MaxPasswordLength = 72
)

// ErrPasswordMismatch is returned by Verify when the plaintext does not match.
var ErrPasswordMismatch = errors.New("auth: invalid password")

// PasswordService provides bcrypt hashing and verification.
// The cost is a field so tests can use the bcrypt minimum.
type PasswordService struct {
	cost int
}

func NewPasswordService() *PasswordService {
	return &PasswordService{cost: defaultCost}
}

// NewPasswordServiceForTest creates a PasswordService with a custom cost.
// Use bcrypt.MinCost (4) in tests; never in production.
func NewPasswordServiceForTest(cost int) *PasswordService {
	return &PasswordService{cost: cost}
}

// CheckStrength reports whether plaintext is acceptable as a new secret.
// Too short is a WeakCredential; too long for bcrypt is an InvalidFormat.
func CheckStrength(plaintext string) error {
	switch {
	case len(plaintext) < MinPasswordLength:
		return apperror.WeakCredential(fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	case len(plaintext) > MaxPasswordLength:
		return apperror.InvalidFormat("password", fmt.Sprintf("password must be %d bytes or fewer", MaxPasswordLength))
	}
	return nil
}

// Hash hashes plaintext with bcrypt. Secrets failing CheckStrength are rejected.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if err := CheckStrength(plaintext); err != nil {
		return "", err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify checks plaintext against a stored hash in constant time.
// A wrong password yields ErrPasswordMismatch; a corrupt hash yields a wrapped bcrypt error.
func (p *PasswordService) Verify(hash, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}
