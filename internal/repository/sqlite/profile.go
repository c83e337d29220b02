package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sakif/fleetchat/internal/apperror"
	"github.com/sakif/fleetchat/internal/model"
	"github.com/sakif/fleetchat/internal/repository"
)

var _ repository.ProfileRepository = (*DB)(nil)

const profileColumns = `account_id, username, username_source, profile_pic, created_at, updated_at`

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// GetProfile retrieves the profile owned by accountID.
// Returns apperror.ErrNotFound if the account has no profile yet.
func (db *DB) GetProfile(ctx context.Context, accountID string) (*model.Profile, error) {
	return getProfile(ctx, db.conn, accountID)
}

func getProfile(ctx context.Context, q queryer, accountID string) (*model.Profile, error) {
	var p model.Profile
	err := q.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE account_id = ?`,
		accountID,
	).Scan(
		&p.AccountID,
		&p.Username,
		&p.UsernameSource,
		&p.ProfilePic,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("profile", accountID)
		}
		return nil, fmt.Errorf("sqlite: getting profile %s: %w", accountID, err)
	}
	return &p, nil
}

// FindProfilesByUsername returns every profile whose username matches exactly.
func (db *DB) FindProfilesByUsername(ctx context.Context, username string) ([]model.Profile, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE username = ? ORDER BY created_at`,
		username,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: finding profiles by username: %w", err)
	}
	defer rows.Close()

	var profiles []model.Profile
	for rows.Next() {
		var p model.Profile
		if err := rows.Scan(
			&p.AccountID,
			&p.Username,
			&p.UsernameSource,
			&p.ProfilePic,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scanning profile row: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating profile rows: %w", err)
	}
	return profiles, nil
}

// CreateProfile writes a new profile document keyed by its account ID.
func (db *DB) CreateProfile(ctx context.Context, profile *model.Profile) error {
	if profile.UsernameSource == "" {
		profile.UsernameSource = model.UsernameChosen
	}
	now := time.Now()
	profile.CreatedAt = now
	profile.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO profiles (account_id, username, username_source, profile_pic, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		profile.AccountID,
		profile.Username,
		profile.UsernameSource,
		profile.ProfilePic,
		profile.CreatedAt,
		profile.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("profile", profile.AccountID)
		}
		return fmt.Errorf("sqlite: creating profile %s: %w", profile.AccountID, err)
	}

	db.hub.Publish(repository.ProfileTopic(profile.AccountID))
	return nil
}

// MergeProfile applies the non-nil fields of patch to an existing profile.
//
// MERGE, NOT REPLACE:
// Only the columns present in the patch appear in the UPDATE, so a picture
// change can never reset the username and vice versa. The read-back happens in
// the same transaction so the caller sees exactly what was committed.
func (db *DB) MergeProfile(ctx context.Context, accountID string, patch model.ProfilePatch) (*model.Profile, error) {
	sets := []string{"updated_at = ?"}
	args := []any{time.Now()}
	if patch.Username != nil {
		sets = append(sets, "username = ?")
		args = append(args, *patch.Username)
	}
	if patch.UsernameSource != nil {
		sets = append(sets, "username_source = ?")
		args = append(args, *patch.UsernameSource)
	}
	if patch.ProfilePic != nil {
		sets = append(sets, "profile_pic = ?")
		args = append(args, *patch.ProfilePic)
	}
	args = append(args, accountID)

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: beginning profile merge: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE profiles SET `+strings.Join(sets, ", ")+` WHERE account_id = ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: merging profile %s: %w", accountID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return nil, apperror.NotFound("profile", accountID)
	}

	profile, err := getProfile(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: committing profile merge: %w", err)
	}

	db.hub.Publish(repository.ProfileTopic(accountID))
	return profile, nil
}
