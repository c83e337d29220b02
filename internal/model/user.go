// Package model defines the data structures used throughout the application.
package model

import "time"

// Account is an identity issued by the identity provider.
//
// The provider owns this record: the rest of the app only ever reads it.
// ID is opaque and stable for the life of the account. DisplayName and
// PhotoURL come from a federated provider (Google, GitHub) and are empty for
// username/password accounts.
type Account struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	PhotoURL    string `json:"photoUrl,omitempty"`
	Provider    string `json:"provider"`              // "password", "google", "github"
	LoginHandle string `json:"loginHandle,omitempty"` // e.g. "alice@fleetcom7.com"
}

// Provider names stored on Account.Provider.
const (
	ProviderPassword = "password"
	ProviderGoogle   = "google"
	ProviderGitHub   = "github"
)

// UsernameSource records where a profile's current username came from.
//
// A "chosen" username was picked by the user (registration or rename) and is
// never overwritten by provider sync. A "provider" username was copied from the
// federated display name and follows it until the user picks their own.
type UsernameSource string

const (
	UsernameChosen   UsernameSource = "chosen"
	UsernameProvider UsernameSource = "provider"
)

// DefaultUsername is used when a federated account reports no display name.
const DefaultUsername = "Anonymous"

// Profile is the mutable display identity attached to an Account.
//
// Username is unique across all profiles; ProfilePic is an optional URL.
// Messages copy both fields at send time (see Message), so editing a Profile
// never changes history on its own.
type Profile struct {
	AccountID      string         `json:"accountId"`
	Username       string         `json:"username"`
	UsernameSource UsernameSource `json:"usernameSource"`
	ProfilePic     string         `json:"profilePic,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// ProfilePatch is a merge-write: nil fields are left untouched.
type ProfilePatch struct {
	Username       *string
	UsernameSource *UsernameSource
	ProfilePic     *string
}
