package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/poputchik/chat-server/internal/domain"
	"github.com/poputchik/chat-server/internal/service/messages"
)

// MessageHandlers provides HTTP handlers for message endpoints.
type MessageHandlers struct {
	messages *messages.Service
	log      *zerolog.Logger
}

// NewMessageHandlers creates a new message handlers instance.
func NewMessageHandlers(svc *messages.Service, logger *zerolog.Logger) *MessageHandlers {
	return &MessageHandlers{messages: svc, log: logger}
}

// SendMessageRequest represents the send message request body.
type SendMessageRequest struct {
	ChatID  int64  `json:"chat_id" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// UpdateContentRequest represents the edit request body.
type UpdateContentRequest struct {
	Content string `json:"content" binding:"required"`
}

// MessageResponse represents a message in API responses.
type MessageResponse struct {
	ID        int64   `json:"id"`
	ChatID    int64   `json:"chat_id"`
	AuthorID  int64   `json:"author_id"`
	Content   string  `json:"content"`
	ReadBy    []int64 `json:"read_by"`
	CreatedAt string  `json:"created_at"`
}

func messageResponse(msg *domain.Message) MessageResponse {
	return MessageResponse{
		ID:        msg.ID,
		ChatID:    msg.ChatID,
		AuthorID:  msg.AuthorID,
		Content:   msg.Content,
		ReadBy:    msg.ReadBy(),
		CreatedAt: msg.CreatedAt.Format(time.RFC3339Nano),
	}
}

func messageResponses(msgs []*domain.Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, messageResponse(msg))
	}
	return out
}

// SendMessage posts a message to a chat.
// POST /api/messages
func (h *MessageHandlers) SendMessage(c *gin.Context) {
	uid, ok := requesterID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	msg, err := h.messages.SendMessage(c.Request.Context(), req.ChatID, uid, req.Content)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusCreated, messageResponse(msg))
}

// GetChatMessages lists all messages of a chat in insertion order.
// GET /api/messages/chat/:chatID
func (h *MessageHandlers) GetChatMessages(c *gin.Context) {
	uid, ok := requesterID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	chatID, ok := pathID(c, "chatID")
	if !ok {
		return
	}

	msgs, err := h.messages.GetChatMessages(c.Request.Context(), chatID, uid)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, messageResponses(msgs))
}

// UpdateContent edits a message's content.
// PUT /api/messages/:id/content
func (h *MessageHandlers) UpdateContent(c *gin.Context) {
	uid, ok := requesterID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	messageID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req UpdateContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	msg, err := h.messages.UpdateMessageContent(c.Request.Context(), messageID, req.Content, uid)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, messageResponse(msg))
}

// MarkAsRead acknowledges a single message.
// POST /api/messages/:id/read
func (h *MessageHandlers) MarkAsRead(c *gin.Context) {
	uid, ok := requesterID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	messageID, ok := pathID(c, "id")
	if !ok {
		return
	}

	msg, err := h.messages.MarkMessageAsRead(c.Request.Context(), messageID, uid)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, messageResponse(msg))
}

// DeleteMessage removes a message authored by the requester.
// DELETE /api/messages/:id
func (h *MessageHandlers) DeleteMessage(c *gin.Context) {
	uid, ok := requesterID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	messageID, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.messages.DeleteMessage(c.Request.Context(), messageID, uid); err != nil {
		respondError(c, h.log, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// Search finds messages in a chat by content substring, newest first.
// GET /api/messages/search?chat_id=...&q=...
func (h *MessageHandlers) Search(c *gin.Context) {
	uid, ok := requesterID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	chatID, ok := queryID(c, "chat_id")
	if !ok {
		return
	}

	msgs, err := h.messages.SearchByContent(c.Request.Context(), c.Query("q"), chatID, uid)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, messageResponses(msgs))
}

// LastFromUser returns the newest message a user sent in a chat.
// GET /api/messages/last?chat_id=...&user_id=...
func (h *MessageHandlers) LastFromUser(c *gin.Context) {
	uid, ok := requesterID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	chatID, ok := queryID(c, "chat_id")
	if !ok {
		return
	}
	userID, ok := queryID(c, "user_id")
	if !ok {
		return
	}

	msg, err := h.messages.GetLastMessageFromUser(c.Request.Context(), userID, chatID, uid)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, messageResponse(msg))
}

// queryID parses an int64 query parameter, answering 400 on garbage.
func queryID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Query(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid " + name})
		return 0, false
	}
	return id, true
}
