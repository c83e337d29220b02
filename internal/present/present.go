// Package present turns the ordered message list into what the chat UI
// renders: date headers, link tokens, captions and own/other alignment.
//
// Everything here is pure. Given the same messages, viewer, clock and
// location it returns the same Feed.
package present

import (
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/sakif/fleetchat/internal/model"
)

// Header labels.
const (
	Today          = "Today"
	Yesterday      = "Yesterday"
	DateHeaderForm = "January 02, 2006"
)

// SendingLabel stands in for the time on a message the store has not committed.
const SendingLabel = "Sending..."

// A token is a link only when the whole whitespace-separated word is a URL.
// "seehttp://a.com" is therefore plain text.
var linkPattern = regexp.MustCompile(`^https?://\S+$`)

// DateGroup is one run of same-day messages under a single header.
type DateGroup struct {
	Header   string          `json:"header"`
	Messages []model.Message `json:"messages"`
}

// Token is one word of a message body.
type Token struct {
	IsLink bool   `json:"isLink"`
	Value  string `json:"value"`
}

// Item is a message ready to draw.
type Item struct {
	model.Message
	Own     bool    `json:"own"`
	Caption string  `json:"caption"`
	Initial string  `json:"initial,omitempty"`
	Tokens  []Token `json:"tokens"`
}

// Section is a dated block of items.
type Section struct {
	Header string `json:"header"`
	Items  []Item `json:"items"`
}

// Feed is the whole projected view.
type Feed struct {
	Viewer   string    `json:"viewer"`
	Sections []Section `json:"sections"`
}

// BucketByDate groups messages, in the order given, by the calendar day of
// their server timestamp in loc. Each run of same-day messages gets one
// header, so sorted input yields one header per distinct day. Messages with
// no server timestamp are skipped.
func BucketByDate(messages []model.Message, now time.Time, loc *time.Location) []DateGroup {
	if loc == nil {
		loc = time.UTC
	}
	today := dayOf(now, loc)
	yesterday := today.AddDate(0, 0, -1)

	var groups []DateGroup
	var current time.Time
	for _, m := range messages {
		if !m.Committed() {
			continue
		}
		day := dayOf(m.ServerTimestamp, loc)
		if len(groups) == 0 || !day.Equal(current) {
			groups = append(groups, DateGroup{Header: header(day, today, yesterday)})
			current = day
		}
		last := &groups[len(groups)-1]
		last.Messages = append(last.Messages, m)
	}
	return groups
}

func dayOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func header(day, today, yesterday time.Time) string {
	switch {
	case day.Equal(today):
		return Today
	case day.Equal(yesterday):
		return Yesterday
	default:
		return day.Format(DateHeaderForm)
	}
}

// DetectLinks splits text on whitespace and marks the words that are URLs.
func DetectLinks(text string) []Token {
	words := strings.Fields(text)
	tokens := make([]Token, 0, len(words))
	for _, w := range words {
		tokens = append(tokens, Token{IsLink: linkPattern.MatchString(w), Value: w})
	}
	return tokens
}

// IsOwnMessage decides which side of the feed a message is drawn on. It
// compares usernames only and must not be used for authorization.
func IsOwnMessage(msg model.Message, viewerUsername string) bool {
	return viewerUsername != "" && msg.Username == viewerUsername
}

// Caption is the line under a message bubble.
func Caption(msg model.Message) string {
	when := msg.DisplayTimestamp
	if !msg.Committed() {
		when = SendingLabel
	}
	return when + " • " + msg.DeviceTag
}

// Initial is the avatar letter used when a profile has no picture.
func Initial(username string) string {
	r, _ := utf8.DecodeRuneInString(strings.TrimSpace(username))
	if r == utf8.RuneError {
		return "?"
	}
	return string(unicode.ToUpper(r))
}

// Project builds the full view for viewer.
func Project(messages []model.Message, viewer string, now time.Time, loc *time.Location) Feed {
	feed := Feed{Viewer: viewer, Sections: []Section{}}
	for _, g := range BucketByDate(messages, now, loc) {
		section := Section{Header: g.Header, Items: make([]Item, 0, len(g.Messages))}
		for _, m := range g.Messages {
			item := Item{
				Message: m,
				Own:     IsOwnMessage(m, viewer),
				Caption: Caption(m),
				Tokens:  DetectLinks(m.Text),
			}
			if m.ProfilePic == "" {
				item.Initial = Initial(m.Username)
			}
			section.Items = append(section.Items, item)
		}
		feed.Sections = append(feed.Sections, section)
	}
	return feed
}
