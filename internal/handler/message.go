package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/fleetchat/internal/apperror"
	"github.com/sakif/fleetchat/internal/auth"
	"github.com/sakif/fleetchat/internal/present"
	"github.com/sakif/fleetchat/internal/service"
)

// TimezoneHeader names the viewer's IANA zone, e.g. "Asia/Dhaka".
const TimezoneHeader = "X-Timezone"

// MessageHandler serves the shared feed over plain HTTP.
type MessageHandler struct {
	feed     *service.Feed
	sessions *service.AuthService
	location *time.Location
	logger   *slog.Logger
	now      func() time.Time
}

// NewMessageHandler creates a MessageHandler. location is used when a
// request does not name its own zone.
func NewMessageHandler(feed *service.Feed, sessions *service.AuthService, location *time.Location, logger *slog.Logger) *MessageHandler {
	if location == nil {
		location = time.UTC
	}
	return &MessageHandler{
		feed:     feed,
		sessions: sessions,
		location: location,
		logger:   logger,
		now:      time.Now,
	}
}

// SendMessageRequest is the body of POST /api/messages.
type SendMessageRequest struct {
	Text            string `json:"text"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

// HandleList returns the projected feed for the signed-in viewer.
//
// HTTP: GET /api/messages
func (h *MessageHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	accountID, _ := auth.AccountIDFromContext(r.Context())
	viewer, err := h.sessions.CurrentProfile(r.Context(), accountID)
	if err != nil {
		writeError(w, err)
		return
	}

	msgs, err := h.feed.Snapshot(r.Context())
	if err != nil {
		h.logger.Error("failed to load feed", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, present.Project(msgs, viewer.Username, h.now(), requestLocation(r, h.location)))
}

// HandleSend appends a message as the signed-in user.
//
// HTTP: POST /api/messages
// REQUEST BODY: {"text": "hello", "clientMessageId": "c-123"}
//
// The device tag comes from the User-Agent header and the display time from
// the X-Timezone header.
func (h *MessageHandler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.ValidationFailed("body", "invalid JSON"))
		return
	}

	accountID, _ := auth.AccountIDFromContext(r.Context())
	sender, err := h.sessions.CurrentProfile(r.Context(), accountID)
	if err != nil {
		writeError(w, err)
		return
	}

	msg, err := h.feed.Send(r.Context(), service.SendRequest{
		Text:            req.Text,
		Sender:          sender,
		ClientMessageID: req.ClientMessageID,
		UserAgent:       r.UserAgent(),
		Location:        requestLocation(r, h.location),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// requestLocation reads the request's zone from the X-Timezone header or the
// tz query parameter (browsers cannot set headers on a WebSocket upgrade),
// falling back when neither names a known zone.
func requestLocation(r *http.Request, fallback *time.Location) *time.Location {
	name := r.Header.Get(TimezoneHeader)
	if name == "" {
		name = r.URL.Query().Get("tz")
	}
	if name == "" {
		return fallback
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fallback
	}
	return loc
}
