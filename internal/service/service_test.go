package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/fleetchat/internal/auth"
	"github.com/sakif/fleetchat/internal/identity"
	"github.com/sakif/fleetchat/internal/model"
	"github.com/sakif/fleetchat/internal/repository/sqlite"
)

// harness wires every service against one in-memory database.
type harness struct {
	db       *sqlite.DB
	provider *identity.Local
	registry *Registry
	sync     *ProfileSync
	feed     *Feed
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, claims bool) *harness {
	t.Helper()
	db, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := testLogger()
	provider := identity.NewLocal(db, auth.NewPasswordServiceForTest(bcrypt.MinCost), logger)
	registry := NewRegistry(db, db, provider, RegistryConfig{Claims: claims}, logger)
	return &harness{
		db:       db,
		provider: provider,
		registry: registry,
		sync:     NewProfileSync(db, db, db, provider, registry, logger),
		feed:     NewFeed(db, db, FeedConfig{SpoofAccountID: "spoofed"}, logger),
	}
}

// register creates a user and returns its account ID.
func (h *harness) register(t *testing.T, username string) string {
	t.Helper()
	id, err := h.registry.Register(context.Background(), username, "secret-pw")
	if err != nil {
		t.Fatalf("Register(%q) error = %v", username, err)
	}
	return id
}

func (h *harness) profile(t *testing.T, accountID string) *model.Profile {
	t.Helper()
	p, err := h.db.GetProfile(context.Background(), accountID)
	if err != nil {
		t.Fatalf("GetProfile(%q) error = %v", accountID, err)
	}
	return p
}

func (h *harness) send(t *testing.T, accountID, text string) *model.Message {
	t.Helper()
	msg, err := h.feed.Send(context.Background(), SendRequest{
		Text:   text,
		Sender: h.profile(t, accountID),
	})
	if err != nil {
		t.Fatalf("Send(%q) error = %v", text, err)
	}
	return msg
}

// recv waits for the next value on a stream.
func recv[T any](t *testing.T, s *Stream[T]) T {
	t.Helper()
	select {
	case v, ok := <-s.C():
		if !ok {
			t.Fatal("stream closed, expected a value")
		}
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a stream value")
	}
	var zero T
	return zero
}
