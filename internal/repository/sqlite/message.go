package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/fleetchat/internal/model"
	"github.com/sakif/fleetchat/internal/repository"
)

var _ repository.MessageRepository = (*DB)(nil)

const messageColumns = `seq, id, sender_account_id, client_message_id, text, username, profile_pic, server_time_ns, display_time, device_tag`

type rowScanner interface {
	Scan(dest ...any) error
}

// AppendMessage commits msg to the end of the feed.
//
// ORDERING KEY:
// server_time_ns is max(now, last+1) computed inside the same transaction as
// the INSERT. With a single connection no other append can interleave, so the
// key is strictly increasing in commit order even if the wall clock steps
// backwards. seq (the AUTOINCREMENT rowid) is stored alongside as a tiebreak
// for rows imported from elsewhere.
//
// IDEMPOTENT SENDS:
// A non-empty ClientMessageID is looked up first, scoped to msg.SenderID. If
// that sender already committed it, msg is overwritten with the stored copy
// and created is false.
func (db *DB) AppendMessage(ctx context.Context, msg *model.Message) (bool, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("sqlite: beginning append: %w", err)
	}
	defer tx.Rollback()

	if msg.ClientMessageID != "" {
		existing, err := scanMessage(tx.QueryRowContext(ctx,
			`SELECT `+messageColumns+` FROM messages WHERE sender_account_id = ? AND client_message_id = ?`,
			msg.SenderID,
			msg.ClientMessageID,
		))
		switch {
		case err == nil:
			*msg = *existing
			return false, nil
		case !errors.Is(err, sql.ErrNoRows):
			return false, fmt.Errorf("sqlite: looking up client message %s: %w", msg.ClientMessageID, err)
		}
	}

	var last int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(server_time_ns), 0) FROM messages`,
	).Scan(&last); err != nil {
		return false, fmt.Errorf("sqlite: reading last server time: %w", err)
	}
	ts := time.Now().UnixNano()
	if ts <= last {
		ts = last + 1
	}

	id := xid.New().String()
	result, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, sender_account_id, client_message_id, text, username, profile_pic, server_time_ns, display_time, device_tag)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		msg.SenderID,
		msg.ClientMessageID,
		msg.Text,
		msg.Username,
		msg.ProfilePic,
		ts,
		msg.DisplayTimestamp,
		msg.DeviceTag,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: inserting message: %w", err)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("sqlite: reading message seq: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("sqlite: committing message: %w", err)
	}

	msg.ID = id
	msg.Seq = seq
	msg.ServerTimestamp = time.Unix(0, ts).UTC()

	db.hub.Publish(repository.TopicMessages)
	return true, nil
}

// ListMessages returns the whole feed in ascending (server_time_ns, seq) order.
func (db *DB) ListMessages(ctx context.Context) ([]model.Message, error) {
	return db.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages ORDER BY server_time_ns, seq`,
	)
}

// FindMessagesByUsername returns every message whose username snapshot equals username.
func (db *DB) FindMessagesByUsername(ctx context.Context, username string) ([]model.Message, error) {
	return db.queryMessages(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE username = ? ORDER BY server_time_ns, seq`,
		username,
	)
}

// RenameMessageUsername rewrites a single message's username snapshot.
//
// The WHERE clause includes the old name, which makes the update conditional:
// a message already renamed (or renamed by someone else in between) is left
// alone and reported as unchanged. Re-running a backfill therefore converges.
func (db *DB) RenameMessageUsername(ctx context.Context, id, oldName, newName string) (bool, error) {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE messages SET username = ? WHERE id = ? AND username = ?`,
		newName, id, oldName,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: renaming message %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n > 0 {
		db.hub.Publish(repository.TopicMessages)
	}
	return n > 0, nil
}

func (db *DB) queryMessages(ctx context.Context, query string, args ...any) ([]model.Message, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: querying messages: %w", err)
	}
	defer rows.Close()

	messages := []model.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning message row: %w", err)
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating message rows: %w", err)
	}
	return messages, nil
}

func scanMessage(row rowScanner) (*model.Message, error) {
	var (
		m  model.Message
		ns int64
	)
	if err := row.Scan(
		&m.Seq,
		&m.ID,
		&m.SenderID,
		&m.ClientMessageID,
		&m.Text,
		&m.Username,
		&m.ProfilePic,
		&ns,
		&m.DisplayTimestamp,
		&m.DeviceTag,
	); err != nil {
		return nil, err
	}
	m.ServerTimestamp = time.Unix(0, ns).UTC()
	return &m, nil
}
