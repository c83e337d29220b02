package model

import "time"

// Message is one chat line in the shared room.
//
// SNAPSHOT FIELDS:
// Username and ProfilePic are copied from the sender's Profile when the message
// is sent. They are NOT references: renaming a user leaves old messages with
// the old name unless a backfill is run explicitly.
//
// ORDERING:
// ServerTimestamp is assigned by the store and is strictly increasing in commit
// order; Seq is the store's commit counter and breaks any tie. Neither ever
// changes after the message is created. DisplayTimestamp is the sender's local
// clock string ("03:04 PM") and is for display only.
type Message struct {
	ID               string    `json:"id"`
	Seq              int64     `json:"seq"`
	ClientMessageID  string    `json:"clientMessageId,omitempty"`
	Text             string    `json:"text"`
	Username         string    `json:"username"`
	ProfilePic       string    `json:"profilePic,omitempty"`
	ServerTimestamp  time.Time `json:"serverTimestamp"`
	DisplayTimestamp string    `json:"displayTimestamp"`
	DeviceTag        string    `json:"deviceTag"`
}

// Committed reports whether the store has assigned the message its server timestamp.
func (m Message) Committed() bool {
	return !m.ServerTimestamp.IsZero()
}
