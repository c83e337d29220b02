package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/fleetchat/internal/apperror"
	"github.com/sakif/fleetchat/internal/model"
	"github.com/sakif/fleetchat/internal/repository"
)

// compile-time check that *DB implements repository.AccountRepository
var _ repository.AccountRepository = (*DB)(nil)

const accountColumns = `id, provider, login_handle, display_name, photo_url`

// CreateAccount inserts a username/password account.
// A duplicate login handle is reported as apperror.ErrConflict.
func (db *DB) CreateAccount(ctx context.Context, account *model.Account, passwordHash string) error {
	account.ID = xid.New().String()
	if account.Provider == "" {
		account.Provider = model.ProviderPassword
	}
	now := time.Now()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO accounts (id, provider, login_handle, password_hash, display_name, photo_url, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		account.ID,
		account.Provider,
		account.LoginHandle,
		passwordHash,
		account.DisplayName,
		account.PhotoURL,
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("account", account.LoginHandle)
		}
		return fmt.Errorf("sqlite: inserting account %s: %w", account.LoginHandle, err)
	}
	return nil
}

// GetByLoginHandle returns the account and its password hash.
func (db *DB) GetByLoginHandle(ctx context.Context, handle string) (*model.Account, string, error) {
	var hash string
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+accountColumns+`, password_hash FROM accounts WHERE login_handle = ?`,
		handle,
	)
	account, err := scanAccount(row, &hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", apperror.NotFound("account", handle)
		}
		return nil, "", fmt.Errorf("sqlite: getting account by handle %s: %w", handle, err)
	}
	return account, hash, nil
}

// GetAccount retrieves an account by id.
func (db *DB) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`,
		id,
	)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("account", id)
		}
		return nil, fmt.Errorf("sqlite: getting account %s: %w", id, err)
	}
	return account, nil
}

// UpsertFederated inserts or refreshes the account linked to provider/subject.
//
// The internal ID is generated on first sign-in and kept on every later one;
// display name and photo are refreshed from the provider each time.
func (db *DB) UpsertFederated(ctx context.Context, provider, subject string, account *model.Account) error {
	var existingID string
	err := db.conn.QueryRowContext(ctx,
		`SELECT id FROM accounts WHERE provider = ? AND provider_subject = ?`,
		provider, subject,
	).Scan(&existingID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("sqlite: looking up %s account %s: %w", provider, subject, err)
	}

	account.Provider = provider
	now := time.Now()

	if existingID != "" {
		account.ID = existingID
		_, err = db.conn.ExecContext(ctx,
			`UPDATE accounts SET display_name = ?, photo_url = ?, updated_at = ? WHERE id = ?`,
			account.DisplayName,
			account.PhotoURL,
			now,
			account.ID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: updating account %s: %w", account.ID, err)
		}
		return nil
	}

	account.ID = xid.New().String()
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO accounts (id, provider, provider_subject, display_name, photo_url, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		account.ID,
		provider,
		subject,
		account.DisplayName,
		account.PhotoURL,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting %s account %s: %w", provider, subject, err)
	}
	return nil
}

// scanAccount reads accountColumns followed by any extra destinations.
func scanAccount(row *sql.Row, extra ...any) (*model.Account, error) {
	var (
		a      model.Account
		handle sql.NullString
	)
	dest := append([]any{&a.ID, &a.Provider, &handle, &a.DisplayName, &a.PhotoURL}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	a.LoginHandle = handle.String
	return &a, nil
}
