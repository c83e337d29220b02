// Package repository declares the storage contracts the services depend on.
//
// The store behaves like a document store: every method is a single atomic
// write or read of one document (or one indexed query), and changes are
// announced through ChangeNotifier so services can offer live subscriptions.
// No method spans more than one document in a transaction; multi-step flows
// (registration, backfill) live in the service layer and are best-effort.
package repository

import (
	"context"

	"github.com/sakif/fleetchat/internal/model"
	"github.com/sakif/fleetchat/internal/watch"
)

// Change topics published after a write commits.
const (
	TopicMessages = "messages"
)

// ProfileTopic is the change topic for one account's profile document.
func ProfileTopic(accountID string) string {
	return "profile/" + accountID
}

// ChangeNotifier hands out change listeners for a topic.
type ChangeNotifier interface {
	Subscribe(topic string) *watch.Listener
}

type ProfileRepository interface {
	// GetProfile returns apperror.ErrNotFound when no profile exists.
	GetProfile(ctx context.Context, accountID string) (*model.Profile, error)
	// FindProfilesByUsername is an exact-match query; it may return more than
	// one profile if a check-then-act race slipped through.
	FindProfilesByUsername(ctx context.Context, username string) ([]model.Profile, error)
	// CreateProfile fails with apperror.ErrConflict if the account already has one.
	CreateProfile(ctx context.Context, profile *model.Profile) error
	// MergeProfile applies the non-nil fields of patch and returns the result.
	MergeProfile(ctx context.Context, accountID string, patch model.ProfilePatch) (*model.Profile, error)
}

// ClaimRepository stores create-once username claims keyed by normalized name.
type ClaimRepository interface {
	// ClaimUsername fails with apperror.ErrConflict when another account holds the name.
	// Claiming a name the same account already holds succeeds.
	ClaimUsername(ctx context.Context, normalized, accountID string) error
	// TransferClaim moves a claim from one holder to another. It fails with
	// apperror.ErrConflict when from no longer holds the name.
	TransferClaim(ctx context.Context, normalized, from, to string) error
	// ReleaseUsername drops the claim only if accountID holds it.
	ReleaseUsername(ctx context.Context, normalized, accountID string) error
}

type MessageRepository interface {
	// AppendMessage assigns ID, Seq and ServerTimestamp. When ClientMessageID
	// is set and the same SenderID already stored it, the stored message is
	// returned with created=false.
	AppendMessage(ctx context.Context, msg *model.Message) (created bool, err error)
	// ListMessages returns every message in ascending feed order.
	ListMessages(ctx context.Context) ([]model.Message, error)
	FindMessagesByUsername(ctx context.Context, username string) ([]model.Message, error)
	// RenameMessageUsername rewrites one message if it still carries oldName.
	// It reports whether a row changed.
	RenameMessageUsername(ctx context.Context, id, oldName, newName string) (bool, error)
}

// AccountRepository backs the built-in identity provider.
type AccountRepository interface {
	CreateAccount(ctx context.Context, account *model.Account, passwordHash string) error
	// GetByLoginHandle returns the account and its password hash.
	GetByLoginHandle(ctx context.Context, handle string) (*model.Account, string, error)
	GetAccount(ctx context.Context, id string) (*model.Account, error)
	// UpsertFederated creates or refreshes the account linked to provider/subject.
	UpsertFederated(ctx context.Context, provider, subject string, account *model.Account) error
}
