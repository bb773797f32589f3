package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/poputchik/chat-server/internal/notify"
)

// WSHandler streams live notifications to an authenticated user. The
// stream is one-way: clients receive message events, they never send.
type WSHandler struct {
	notifier *notify.Notifier
	log      *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(notifier *notify.Notifier, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{notifier: notifier, log: logger}
}

// Handle upgrades the connection and relays the user's notifier channel
// until either side goes away.
// GET /ws
func (h *WSHandler) Handle(c *gin.Context) {
	uid, ok := requesterID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	events, unsubscribe := h.notifier.Subscribe(uid)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// The client sends nothing meaningful; reading just detects the close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	h.log.Debug().Int64("user_id", uid).Msg("notification stream opened")

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "closing")
			return
		case ev := <-events:
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				if !errors.Is(err, context.Canceled) {
					h.log.Warn().Err(err).Int64("user_id", uid).Msg("write ws event")
				}
				return
			}
		}
	}
}
