package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sakif/fleetchat/internal/auth"
	"github.com/sakif/fleetchat/internal/model"
	"github.com/sakif/fleetchat/internal/present"
	"github.com/sakif/fleetchat/internal/service"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	// clients only send control frames
	maxReadSize = 512
)

// StreamHandler pushes live feed and profile updates over WebSockets, one
// JSON frame per change.
type StreamHandler struct {
	feed     *service.Feed
	sync     *service.ProfileSync
	sessions *service.AuthService
	location *time.Location
	upgrader *websocket.Upgrader
	logger   *slog.Logger
	now      func() time.Time
}

func NewStreamHandler(
	feed *service.Feed,
	sync *service.ProfileSync,
	sessions *service.AuthService,
	location *time.Location,
	logger *slog.Logger,
) *StreamHandler {
	if location == nil {
		location = time.UTC
	}
	return &StreamHandler{
		feed:     feed,
		sync:     sync,
		sessions: sessions,
		location: location,
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
		now:    time.Now,
	}
}

// HandleFeed streams the projected feed: the whole history first, then a
// fresh projection after every new or edited message.
//
// HTTP: GET /ws/feed?tz=Asia/Dhaka
func (h *StreamHandler) HandleFeed(w http.ResponseWriter, r *http.Request) {
	accountID, _ := auth.AccountIDFromContext(r.Context())
	if _, err := h.sessions.CurrentProfile(r.Context(), accountID); err != nil {
		writeError(w, err)
		return
	}
	loc := requestLocation(r, h.location)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stream := h.feed.Subscribe(ctx)
	defer stream.Close()

	// The viewer is re-read per frame so a rename flips alignment right away.
	render := func(msgs []model.Message) (any, error) {
		viewer, err := h.sessions.CurrentProfile(ctx, accountID)
		if err != nil {
			return nil, err
		}
		return present.Project(msgs, viewer.Username, h.now(), loc), nil
	}
	pump(ctx, cancel, conn, stream.C(), render, h.logger.With(slog.String("ws", "feed")))
}

// HandleProfile streams the signed-in user's profile. The socket is closed
// when the account signs out.
//
// HTTP: GET /ws/profile
func (h *StreamHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	accountID, _ := auth.AccountIDFromContext(r.Context())
	if _, err := h.sessions.CurrentProfile(r.Context(), accountID); err != nil {
		writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stream := h.sync.CurrentProfile(ctx, accountID)
	defer stream.Close()

	render := func(p model.Profile) (any, error) { return p, nil }
	pump(ctx, cancel, conn, stream.C(), render, h.logger.With(slog.String("ws", "profile")))
}

// pump writes every value from values to conn until the stream ends, the
// client goes away or ctx is cancelled. It owns conn and closes it.
func pump[T any](
	ctx context.Context,
	cancel context.CancelFunc,
	conn *websocket.Conn,
	values <-chan T,
	render func(T) (any, error),
	logger *slog.Logger,
) {
	defer conn.Close()
	go readUntilClosed(conn, cancel)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case v, ok := <-values:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"),
					time.Now().Add(writeWait))
				return
			}
			frame, err := render(v)
			if err != nil {
				logger.Warn("failed to render frame", slog.String("error", err.Error()))
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frame); err != nil {
				logger.Debug("websocket write failed", slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// readUntilClosed drains client frames so pongs and the close handshake are
// processed, and cancels the stream once the client is gone.
func readUntilClosed(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(maxReadSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
