package sqlite

import (
	"context"
	"testing"

	"github.com/sakif/fleetchat/internal/model"
)

func appendTestMessage(t *testing.T, db *DB, username, text string) *model.Message {
	t.Helper()
	msg := &model.Message{
		Text:             text,
		Username:         username,
		DisplayTimestamp: "09:15 AM",
		DeviceTag:        "Sent from Web",
	}
	if _, err := db.AppendMessage(context.Background(), msg); err != nil {
		t.Fatalf("failed to append test message: %v", err)
	}
	return msg
}

// =========================================================================
// APPEND TESTS
// =========================================================================

func TestAppendMessage_AssignsIdentity(t *testing.T) {
	db := newTestDB(t)

	msg := &model.Message{Text: "hello", Username: "alice", ProfilePic: "https://x/p.png"}
	created, err := db.AppendMessage(context.Background(), msg)
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	if !created {
		t.Error("AppendMessage() created = false, want true")
	}
	if msg.ID == "" {
		t.Error("AppendMessage() did not set ID")
	}
	if msg.Seq == 0 {
		t.Error("AppendMessage() did not set Seq")
	}
	if !msg.Committed() {
		t.Error("AppendMessage() did not set ServerTimestamp")
	}
}

func TestAppendMessage_StrictlyIncreasingTimestamps(t *testing.T) {
	db := newTestDB(t)

	var prev *model.Message
	for i := 0; i < 50; i++ {
		m := appendTestMessage(t, db, "alice", "burst")
		if prev != nil && !m.ServerTimestamp.After(prev.ServerTimestamp) {
			t.Fatalf("message %d timestamp %v not after %v", i, m.ServerTimestamp, prev.ServerTimestamp)
		}
		prev = m
	}
}

func TestAppendMessage_ClientMessageIDIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := &model.Message{Text: "once", Username: "alice", ClientMessageID: "c-1"}
	if _, err := db.AppendMessage(ctx, first); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	retry := &model.Message{Text: "once", Username: "alice", ClientMessageID: "c-1"}
	created, err := db.AppendMessage(ctx, retry)
	if err != nil {
		t.Fatalf("AppendMessage() retry error = %v", err)
	}
	if created {
		t.Error("retry created = true, want false")
	}
	if retry.ID != first.ID {
		t.Errorf("retry ID = %q, want %q", retry.ID, first.ID)
	}

	all, err := db.ListMessages(ctx)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(all) != 1 {
		t.Errorf("ListMessages() returned %d messages, want 1", len(all))
	}
}

func TestAppendMessage_ClientMessageIDScopedToSender(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	fromAlice := &model.Message{SenderID: "acct-alice", Text: "from alice", Username: "alice", ClientMessageID: "c-1"}
	if _, err := db.AppendMessage(ctx, fromAlice); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	fromCarol := &model.Message{SenderID: "acct-carol", Text: "from carol", Username: "carol", ClientMessageID: "c-1"}
	created, err := db.AppendMessage(ctx, fromCarol)
	if err != nil {
		t.Fatalf("AppendMessage() second sender error = %v", err)
	}
	if !created {
		t.Error("second sender created = false, want true")
	}
	if fromCarol.ID == fromAlice.ID || fromCarol.Text != "from carol" {
		t.Errorf("second sender got %+v", fromCarol)
	}

	all, err := db.ListMessages(ctx)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ListMessages() returned %d messages, want 2", len(all))
	}
	if all[1].SenderID != "acct-carol" {
		t.Errorf("stored SenderID = %q, want acct-carol", all[1].SenderID)
	}
}

// =========================================================================
// LIST / FIND TESTS
// =========================================================================

func TestListMessages_Empty(t *testing.T) {
	db := newTestDB(t)

	msgs, err := db.ListMessages(context.Background())
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if msgs == nil || len(msgs) != 0 {
		t.Errorf("ListMessages() = %v, want empty non-nil slice", msgs)
	}
}

func TestListMessages_AscendingOrder(t *testing.T) {
	db := newTestDB(t)
	a := appendTestMessage(t, db, "alice", "one")
	b := appendTestMessage(t, db, "bob", "two")
	c := appendTestMessage(t, db, "alice", "three")

	msgs, err := db.ListMessages(context.Background())
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	want := []string{a.ID, b.ID, c.ID}
	if len(msgs) != len(want) {
		t.Fatalf("ListMessages() returned %d messages, want %d", len(msgs), len(want))
	}
	for i, id := range want {
		if msgs[i].ID != id {
			t.Errorf("msgs[%d].ID = %q, want %q", i, msgs[i].ID, id)
		}
	}
	if msgs[0].DisplayTimestamp != "09:15 AM" || msgs[0].DeviceTag != "Sent from Web" {
		t.Errorf("display fields not round-tripped: %+v", msgs[0])
	}
}

func TestFindMessagesByUsername(t *testing.T) {
	db := newTestDB(t)
	appendTestMessage(t, db, "alice", "one")
	appendTestMessage(t, db, "bob", "two")
	appendTestMessage(t, db, "alice", "three")

	msgs, err := db.FindMessagesByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatalf("FindMessagesByUsername() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("FindMessagesByUsername() returned %d, want 2", len(msgs))
	}
}

// =========================================================================
// RENAME TESTS
// =========================================================================

func TestRenameMessageUsername_Conditional(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	m := appendTestMessage(t, db, "alice", "hi")

	changed, err := db.RenameMessageUsername(ctx, m.ID, "alice", "alicia")
	if err != nil {
		t.Fatalf("RenameMessageUsername() error = %v", err)
	}
	if !changed {
		t.Error("first rename changed = false, want true")
	}

	changed, err = db.RenameMessageUsername(ctx, m.ID, "alice", "alicia")
	if err != nil {
		t.Fatalf("RenameMessageUsername() second error = %v", err)
	}
	if changed {
		t.Error("second rename changed = true, want false")
	}

	msgs, _ := db.ListMessages(ctx)
	got := msgs[0]
	if got.Username != "alicia" {
		t.Errorf("Username = %q, want alicia", got.Username)
	}
	if got.ID != m.ID || !got.ServerTimestamp.Equal(m.ServerTimestamp) {
		t.Error("rename changed id or server timestamp")
	}
}
