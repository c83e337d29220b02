package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/fleetchat/internal/apperror"
	"github.com/sakif/fleetchat/internal/auth"
	"github.com/sakif/fleetchat/internal/model"
	"github.com/sakif/fleetchat/internal/service"
)

// ProfileHandler serves self-service profile edits and username lookups.
type ProfileHandler struct {
	sync     *service.ProfileSync
	registry *service.Registry
	logger   *slog.Logger
}

func NewProfileHandler(sync *service.ProfileSync, registry *service.Registry, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{
		sync:     sync,
		registry: registry,
		logger:   logger,
	}
}

// ChangeUsernameRequest is the body of PUT /api/me/username.
type ChangeUsernameRequest struct {
	Username string `json:"username"`
	Backfill bool   `json:"backfill"`
}

// ChangeUsernameResponse reports the new profile and, when requested, what
// the message backfill did.
type ChangeUsernameResponse struct {
	Profile  *model.Profile          `json:"profile"`
	Backfill *service.BackfillResult `json:"backfill,omitempty"`
}

// HandleChangeUsername renames the signed-in user.
//
// HTTP: PUT /api/me/username
func (h *ProfileHandler) HandleChangeUsername(w http.ResponseWriter, r *http.Request) {
	accountID, _ := auth.AccountIDFromContext(r.Context())

	var req ChangeUsernameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.ValidationFailed("body", "invalid JSON"))
		return
	}

	p, result, err := h.sync.ChangeUsername(r.Context(), accountID, req.Username, req.Backfill)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ChangeUsernameResponse{Profile: p, Backfill: result})
}

// ChangePictureRequest is the body of PUT /api/me/picture. An empty
// profilePic removes the picture.
type ChangePictureRequest struct {
	ProfilePic string `json:"profilePic"`
}

// HandleChangePicture sets or clears the signed-in user's picture.
//
// HTTP: PUT /api/me/picture
func (h *ProfileHandler) HandleChangePicture(w http.ResponseWriter, r *http.Request) {
	accountID, _ := auth.AccountIDFromContext(r.Context())

	var req ChangePictureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperror.ValidationFailed("body", "invalid JSON"))
		return
	}

	p, err := h.sync.ChangePicture(r.Context(), accountID, req.ProfilePic)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleResolve maps a username to its account.
//
// HTTP: GET /api/users/{username}
func (h *ProfileHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	accountID, err := h.registry.Resolve(r.Context(), username)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"username":  username,
		"accountId": accountID,
	})
}
