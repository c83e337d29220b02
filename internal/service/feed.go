package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sakif/fleetchat/internal/apperror"
	"github.com/sakif/fleetchat/internal/model"
	"github.com/sakif/fleetchat/internal/repository"
)

// MaxMessageLength is counted in characters, not bytes.
const MaxMessageLength = 4000

// FeedConfig tunes the Feed.
type FeedConfig struct {
	// SpoofAccountID always gets the "Sent from iPhone" tag.
	SpoofAccountID string
	// Location renders DisplayTimestamp when the request carries none.
	Location *time.Location
}

// SendRequest is one chat message about to be sent.
type SendRequest struct {
	Text string
	// Sender is the sender's profile as of now; its username and picture are
	// copied onto the message.
	Sender          *model.Profile
	ClientMessageID string
	UserAgent       string
	// Location is the sender's time zone; nil falls back to FeedConfig.Location.
	Location *time.Location
}

// Feed is the shared, append-only message room.
type Feed struct {
	messages repository.MessageRepository
	notifier repository.ChangeNotifier
	cfg      FeedConfig
	logger   *slog.Logger
	now      func() time.Time
}

func NewFeed(
	messages repository.MessageRepository,
	notifier repository.ChangeNotifier,
	cfg FeedConfig,
	logger *slog.Logger,
) *Feed {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Feed{
		messages: messages,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Send validates and appends a message.
//
// Validation happens before any I/O: blank text is an EmptyText error and a
// missing sender is NotAuthenticated. The store assigns ID and the ordering
// timestamp; a retried send with the same ClientMessageID from the same
// sender returns the message committed the first time.
func (f *Feed) Send(ctx context.Context, req SendRequest) (*model.Message, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, apperror.EmptyText()
	}
	if utf8.RuneCountInString(req.Text) > MaxMessageLength {
		return nil, apperror.ValidationFailed("text",
			fmt.Sprintf("message must be %d characters or fewer", MaxMessageLength))
	}
	if req.Sender == nil || req.Sender.AccountID == "" {
		return nil, apperror.NotAuthenticated()
	}

	loc := req.Location
	if loc == nil {
		loc = f.cfg.Location
	}

	msg := &model.Message{
		SenderID:         req.Sender.AccountID,
		ClientMessageID:  strings.TrimSpace(req.ClientMessageID),
		Text:             req.Text,
		Username:         req.Sender.Username,
		ProfilePic:       req.Sender.ProfilePic,
		DisplayTimestamp: DisplayTime(f.now(), loc),
		DeviceTag:        DeviceTag(req.UserAgent, req.Sender.AccountID, f.cfg.SpoofAccountID),
	}

	created, err := f.messages.AppendMessage(ctx, msg)
	if err != nil {
		f.logger.Error("failed to append message",
			slog.String("accountID", req.Sender.AccountID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("sending message: %w", err)
	}

	if created {
		f.logger.Info("message sent",
			slog.String("id", msg.ID),
			slog.String("username", msg.Username),
			slog.String("device", msg.DeviceTag),
		)
	} else {
		f.logger.Info("duplicate send ignored",
			slog.String("id", msg.ID),
			slog.String("clientMessageID", msg.ClientMessageID),
		)
	}
	return msg, nil
}

// Snapshot returns the whole feed in order.
func (f *Feed) Snapshot(ctx context.Context) ([]model.Message, error) {
	msgs, err := f.messages.ListMessages(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading feed: %w", err)
	}
	return msgs, nil
}

// Subscribe opens a live feed: the full history first, then a fresh full
// snapshot after every committed change.
//
// The listener is registered before the first load, so a message committed
// between the load and the wait still wakes the stream.
func (f *Feed) Subscribe(ctx context.Context) *FeedStream {
	listener := f.notifier.Subscribe(repository.TopicMessages)
	return startStream(ctx, listener, f.Snapshot, nil, f.logger.With(slog.String("stream", "feed")))
}
