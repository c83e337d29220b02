package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/fleetchat/internal/apperror"
	"github.com/sakif/fleetchat/internal/repository"
)

var _ repository.ClaimRepository = (*DB)(nil)

// ClaimUsername inserts the create-once claim row for a normalized username.
//
// The PRIMARY KEY on normalized is what closes the check-then-act window:
// two concurrent registrations of "Alice" and "alice" race on the same row and
// exactly one INSERT wins. Re-claiming a name the caller already holds is a no-op.
func (db *DB) ClaimUsername(ctx context.Context, normalized, accountID string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO username_claims (normalized, account_id, claimed_at) VALUES (?, ?, ?)`,
		normalized, accountID, time.Now(),
	)
	if err == nil {
		return nil
	}
	if !isUniqueViolation(err) {
		return fmt.Errorf("sqlite: claiming username %s: %w", normalized, err)
	}

	var holder string
	err = db.conn.QueryRowContext(ctx,
		`SELECT account_id FROM username_claims WHERE normalized = ?`, normalized,
	).Scan(&holder)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("sqlite: reading claim %s: %w", normalized, err)
	}
	if holder == accountID {
		return nil
	}
	return apperror.UsernameTaken(normalized)
}

// TransferClaim re-points a claim from a temporary reservation to the account
// that now owns the name.
func (db *DB) TransferClaim(ctx context.Context, normalized, from, to string) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE username_claims SET account_id = ? WHERE normalized = ? AND account_id = ?`,
		to, normalized, from,
	)
	if err != nil {
		return fmt.Errorf("sqlite: transferring claim %s: %w", normalized, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.Conflict("username claim", normalized)
	}
	return nil
}

// ReleaseUsername deletes the claim if accountID holds it. Releasing a claim
// held by someone else, or one that does not exist, does nothing.
func (db *DB) ReleaseUsername(ctx context.Context, normalized, accountID string) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM username_claims WHERE normalized = ? AND account_id = ?`,
		normalized, accountID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: releasing username %s: %w", normalized, err)
	}
	return nil
}
