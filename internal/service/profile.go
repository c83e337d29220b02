package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/sakif/fleetchat/internal/apperror"
	"github.com/sakif/fleetchat/internal/identity"
	"github.com/sakif/fleetchat/internal/model"
	"github.com/sakif/fleetchat/internal/repository"
)

// renameTries bounds the attempts per message during a backfill.
const renameTries = 3

// BackfillResult counts what a backfill run did.
type BackfillResult struct {
	Matched int `json:"matched"` // messages carrying the old username when the run started
	Updated int `json:"updated"` // messages this run rewrote
	Failed  int `json:"failed"`  // messages left unchanged after retries
}

// ProfileSync keeps profiles in step with the identity provider and with
// self-service edits, and rewrites historical messages on request.
type ProfileSync struct {
	profiles repository.ProfileRepository
	messages repository.MessageRepository
	notifier repository.ChangeNotifier
	provider identity.Provider
	registry *Registry
	logger   *slog.Logger

	// renameBackoff is the per-message retry policy; tests shrink it.
	renameBackoff func() backoff.BackOff
}

func NewProfileSync(
	profiles repository.ProfileRepository,
	messages repository.MessageRepository,
	notifier repository.ChangeNotifier,
	provider identity.Provider,
	registry *Registry,
	logger *slog.Logger,
) *ProfileSync {
	return &ProfileSync{
		profiles: profiles,
		messages: messages,
		notifier: notifier,
		provider: provider,
		registry: registry,
		logger:   logger,
		renameBackoff: func() backoff.BackOff {
			return &backoff.ExponentialBackOff{
				InitialInterval:     50 * time.Millisecond,
				RandomizationFactor: backoff.DefaultRandomizationFactor,
				Multiplier:          2,
				MaxInterval:         time.Second,
			}
		},
	}
}

// CurrentProfile opens a live stream of accountID's profile. It ends on
// Close, on ctx cancellation, or when the provider reports that the account
// signed out.
func (s *ProfileSync) CurrentProfile(ctx context.Context, accountID string) *ProfileStream {
	listener := s.notifier.Subscribe(repository.ProfileTopic(accountID))
	accounts := s.provider.Watch()
	signedOut := make(chan struct{})

	load := func(ctx context.Context) (model.Profile, error) {
		p, err := s.profiles.GetProfile(ctx, accountID)
		if err != nil {
			return model.Profile{}, err
		}
		return *p, nil
	}
	stream := startStream(ctx, listener, load, signedOut,
		s.logger.With(slog.String("stream", "profile"), slog.String("accountID", accountID)))

	go func() {
		defer accounts.Close()
		for {
			select {
			case ev, ok := <-accounts.C():
				if !ok {
					return
				}
				if ev.Kind == identity.SignedOut && ev.Account.ID == accountID {
					close(signedOut)
					return
				}
			case <-stream.Done():
				return
			}
		}
	}()

	return stream
}

// Run applies SyncFromProvider to every sign-in the provider reports until
// ctx is cancelled.
func (s *ProfileSync) Run(ctx context.Context) error {
	accounts := s.provider.Watch()
	defer accounts.Close()

	for {
		select {
		case ev, ok := <-accounts.C():
			if !ok {
				return nil
			}
			if ev.Kind != identity.SignedIn {
				continue
			}
			if _, err := s.SyncFromProvider(ctx, ev.Account); err != nil {
				s.logger.Error("profile sync failed",
					slog.String("accountID", ev.Account.ID),
					slog.String("error", err.Error()),
				)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// SyncFromProvider upserts the profile from the provider's view of the account.
//
// MERGE RULES:
//   - no profile yet: a federated account gets one (see Registry.EnsureFederated);
//     a password account is left alone, its profile is written by Register.
//   - photoUrl replaces profilePic only when the provider reports one.
//   - displayName replaces the username only while the username is
//     provider-sourced and the new name is free. A chosen username is never
//     overwritten.
//
// Running it twice with the same account changes nothing the second time.
func (s *ProfileSync) SyncFromProvider(ctx context.Context, account model.Account) (*model.Profile, error) {
	current, err := s.profiles.GetProfile(ctx, account.ID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) && account.Provider != model.ProviderPassword {
			return s.registry.EnsureFederated(ctx, account)
		}
		return nil, err
	}

	var (
		patch   model.ProfilePatch
		dirty   bool
		renamed string
	)
	if account.PhotoURL != "" && account.PhotoURL != current.ProfilePic {
		patch.ProfilePic = &account.PhotoURL
		dirty = true
	}
	if current.UsernameSource == model.UsernameProvider {
		name := strings.TrimSpace(account.DisplayName)
		if name != "" && name != current.Username {
			err := s.registry.reserve(ctx, name, account.ID)
			switch {
			case err == nil:
				patch.Username = &name
				renamed = name
				dirty = true
			case apperror.CodeOf(err) == apperror.CodeUsernameTaken:
				s.logger.Info("provider display name is taken, keeping username",
					slog.String("accountID", account.ID),
					slog.String("displayName", name),
				)
			default:
				return nil, err
			}
		}
	}
	if !dirty {
		return current, nil
	}

	updated, err := s.profiles.MergeProfile(ctx, account.ID, patch)
	if err != nil {
		if renamed != "" && !sameClaim(renamed, current.Username) {
			s.registry.release(ctx, renamed, account.ID)
		}
		return nil, fmt.Errorf("syncing profile %s: %w", account.ID, err)
	}
	if renamed != "" && !sameClaim(renamed, current.Username) {
		s.registry.release(ctx, current.Username, account.ID)
	}

	s.logger.Info("profile synced from provider",
		slog.String("accountID", account.ID),
		slog.String("username", updated.Username),
	)
	return updated, nil
}

// ChangeUsername renames the account's profile.
//
// The new name is validated and reserved like a registration, the profile
// becomes "chosen", and the old claim is released. Historical messages keep
// the old name unless backfill is true, in which case BackfillUsername runs
// after the rename; its failures are logged and reported in the result but
// do not undo the rename.
func (s *ProfileSync) ChangeUsername(ctx context.Context, accountID, newUsername string, backfill bool) (*model.Profile, *BackfillResult, error) {
	name, err := ValidateUsername(newUsername)
	if err != nil {
		return nil, nil, err
	}

	current, err := s.profiles.GetProfile(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}
	if current.Username == name {
		return current, nil, nil
	}

	if err := s.registry.reserve(ctx, name, accountID); err != nil {
		return nil, nil, err
	}

	chosen := model.UsernameChosen
	updated, err := s.profiles.MergeProfile(ctx, accountID, model.ProfilePatch{
		Username:       &name,
		UsernameSource: &chosen,
	})
	if err != nil {
		if !sameClaim(name, current.Username) {
			s.registry.release(ctx, name, accountID)
		}
		return nil, nil, fmt.Errorf("renaming %s: %w", accountID, err)
	}
	if !sameClaim(name, current.Username) {
		s.registry.release(ctx, current.Username, accountID)
	}

	s.logger.Info("username changed",
		slog.String("accountID", accountID),
		slog.String("from", current.Username),
		slog.String("to", name),
	)

	if !backfill {
		return updated, nil, nil
	}
	result, err := s.BackfillUsername(ctx, current.Username, name)
	if err != nil {
		s.logger.Warn("backfill after rename incomplete",
			slog.String("accountID", accountID),
			slog.String("error", err.Error()),
		)
	}
	return updated, &result, nil
}

// ChangePicture sets or clears the profile picture. Messages already sent
// keep the picture they were sent with.
func (s *ProfileSync) ChangePicture(ctx context.Context, accountID, pictureURL string) (*model.Profile, error) {
	pictureURL = strings.TrimSpace(pictureURL)
	if pictureURL != "" {
		u, err := url.Parse(pictureURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, apperror.InvalidFormat("profilePic", "picture must be an http(s) URL")
		}
	}

	updated, err := s.profiles.MergeProfile(ctx, accountID, model.ProfilePatch{ProfilePic: &pictureURL})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// BackfillUsername rewrites the username snapshot on every message that
// still carries oldName.
//
// Each message is its own conditional write (only if it still says oldName),
// retried a few times with backoff. The run as a whole is not atomic: on
// failure some messages are renamed and some are not, and running it again
// finishes the job. A second run after a clean one matches nothing.
func (s *ProfileSync) BackfillUsername(ctx context.Context, oldName, newName string) (BackfillResult, error) {
	var result BackfillResult
	if oldName == "" || newName == "" {
		return result, apperror.ValidationFailed("username", "backfill needs both the old and the new username")
	}
	if oldName == newName {
		return result, nil
	}

	msgs, err := s.messages.FindMessagesByUsername(ctx, oldName)
	if err != nil {
		return result, apperror.SyncFailed("could not list messages to backfill", err)
	}
	result.Matched = len(msgs)

	var errs []error
	for i, m := range msgs {
		id := m.ID
		changed, err := backoff.Retry(ctx, func() (bool, error) {
			return s.messages.RenameMessageUsername(ctx, id, oldName, newName)
		},
			backoff.WithBackOff(s.renameBackoff()),
			backoff.WithMaxTries(renameTries),
		)
		if err != nil {
			result.Failed++
			errs = append(errs, fmt.Errorf("message %s: %w", id, err))
			if ctx.Err() != nil {
				// the rest were never attempted
				result.Failed += len(msgs) - i - 1
				break
			}
			continue
		}
		if changed {
			result.Updated++
		}
	}

	s.logger.Info("username backfill finished",
		slog.String("from", oldName),
		slog.String("to", newName),
		slog.Int("matched", result.Matched),
		slog.Int("updated", result.Updated),
		slog.Int("failed", result.Failed),
	)

	if result.Failed > 0 {
		return result, apperror.SyncFailed(
			fmt.Sprintf("%d of %d messages could not be renamed; run the backfill again", result.Failed, result.Matched),
			errors.Join(errs...),
		)
	}
	return result, nil
}

// sameClaim reports whether a and b share a claim row.
func sameClaim(a, b string) bool {
	return NormalizeUsername(a) == NormalizeUsername(b)
}
