package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/poputchik/chat-server/internal/domain"
	"github.com/poputchik/chat-server/internal/service/directory"
)

// ChatHandlers provides HTTP handlers for chat directory endpoints.
type ChatHandlers struct {
	directory *directory.Service
	log       *zerolog.Logger
}

// NewChatHandlers creates a new chat handlers instance.
func NewChatHandlers(dir *directory.Service, logger *zerolog.Logger) *ChatHandlers {
	return &ChatHandlers{directory: dir, log: logger}
}

// CreateSingleChatRequest represents the direct chat request body.
type CreateSingleChatRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
}

// CreateGroupChatRequest represents the group chat request body.
type CreateGroupChatRequest struct {
	Name    string  `json:"name" binding:"required,min=1,max=128"`
	UserIDs []int64 `json:"user_ids"`
}

// RenameGroupRequest represents the rename request body.
type RenameGroupRequest struct {
	Name string `json:"name" binding:"required,min=1,max=128"`
}

// ChatResponse represents a chat in API responses.
type ChatResponse struct {
	ID        int64   `json:"id"`
	Kind      string  `json:"kind"`
	Name      string  `json:"name,omitempty"`
	OwnerID   int64   `json:"owner_id"`
	Members   []int64 `json:"members"`
	Admins    []int64 `json:"admins"`
	CreatedAt string  `json:"created_at"`
}

func chatResponse(chat *domain.Chat) ChatResponse {
	return ChatResponse{
		ID:        chat.ID,
		Kind:      string(chat.Kind),
		Name:      chat.Name,
		OwnerID:   chat.OwnerID,
		Members:   chat.Members(),
		Admins:    chat.Admins(),
		CreatedAt: chat.CreatedAt.Format(time.RFC3339),
	}
}

func chatResponses(chats []*domain.Chat) []ChatResponse {
	out := make([]ChatResponse, 0, len(chats))
	for _, chat := range chats {
		out = append(out, chatResponse(chat))
	}
	return out
}

// CreateSingleChat opens (or returns) the direct chat with another user.
// POST /api/chats/single
func (h *ChatHandlers) CreateSingleChat(c *gin.Context) {
	uid, ok := requesterID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req CreateSingleChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	chat, err := h.directory.CreateSingleChat(c.Request.Context(), uid, req.UserID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, chatResponse(chat))
}

// CreateGroupChat creates a named group chat.
// POST /api/chats/group
func (h *ChatHandlers) CreateGroupChat(c *gin.Context) {
	uid, ok := requesterID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req CreateGroupChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	chat, err := h.directory.CreateGroupChat(c.Request.Context(), uid, req.Name, req.UserIDs)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	h.log.Info().Int64("chat_id", chat.ID).Int64("owner_id", uid).Msg("group chat created")
	c.JSON(http.StatusCreated, chatResponse(chat))
}

// GetChat returns a single chat by id.
// GET /api/chats/:id
func (h *ChatHandlers) GetChat(c *gin.Context) {
	chatID, ok := pathID(c, "id")
	if !ok {
		return
	}

	chat, err := h.directory.FindByID(c.Request.Context(), chatID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, chatResponse(chat))
}

// ListMyChats returns the requester's chats, most recently messaged first.
// GET /api/chats
func (h *ChatHandlers) ListMyChats(c *gin.Context) {
	uid, ok := requesterID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	chats, err := h.directory.FindAllByUser(c.Request.Context(), uid)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, chatResponses(chats))
}

// AddMember adds a user to a group chat.
// PUT /api/chats/:id/members/:userID
func (h *ChatHandlers) AddMember(c *gin.Context) {
	uid, ok := requesterID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	chatID, ok := pathID(c, "id")
	if !ok {
		return
	}
	userID, ok := pathID(c, "userID")
	if !ok {
		return
	}

	chat, err := h.directory.AddMember(c.Request.Context(), chatID, uid, userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, chatResponse(chat))
}

// RemoveMember removes a user from a group chat.
// DELETE /api/chats/:id/members/:userID
func (h *ChatHandlers) RemoveMember(c *gin.Context) {
	uid, ok := requesterID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	chatID, ok := pathID(c, "id")
	if !ok {
		return
	}
	userID, ok := pathID(c, "userID")
	if !ok {
		return
	}

	chat, err := h.directory.RemoveMember(c.Request.Context(), chatID, uid, userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, chatResponse(chat))
}

// RenameGroup changes a group chat's name.
// PUT /api/chats/:id/name
func (h *ChatHandlers) RenameGroup(c *gin.Context) {
	uid, ok := requesterID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	chatID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req RenameGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	chat, err := h.directory.RenameGroup(c.Request.Context(), chatID, uid, req.Name)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, chatResponse(chat))
}

// PromoteToAdmin grants admin status to a chat member.
// POST /api/chats/:id/admins/:userID
func (h *ChatHandlers) PromoteToAdmin(c *gin.Context) {
	uid, ok := requesterID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	chatID, ok := pathID(c, "id")
	if !ok {
		return
	}
	userID, ok := pathID(c, "userID")
	if !ok {
		return
	}

	chat, err := h.directory.PromoteToAdmin(c.Request.Context(), chatID, uid, userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, chatResponse(chat))
}

// TransferOwnership hands the chat to another member.
// POST /api/chats/:id/owner/:userID
func (h *ChatHandlers) TransferOwnership(c *gin.Context) {
	uid, ok := requesterID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	chatID, ok := pathID(c, "id")
	if !ok {
		return
	}
	userID, ok := pathID(c, "userID")
	if !ok {
		return
	}

	chat, err := h.directory.TransferOwnership(c.Request.Context(), chatID, uid, userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, chatResponse(chat))
}

// GetAdmins returns the admin set of a group chat.
// GET /api/chats/:id/admins
func (h *ChatHandlers) GetAdmins(c *gin.Context) {
	uid, ok := requesterID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	chatID, ok := pathID(c, "id")
	if !ok {
		return
	}

	admins, err := h.directory.GetAdmins(c.Request.Context(), chatID, uid)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"admins": admins})
}

// MarkAsRead marks every message in the chat as read by the requester.
// POST /api/chats/:id/read
func (h *ChatHandlers) MarkAsRead(c *gin.Context) {
	uid, ok := requesterID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	chatID, ok := pathID(c, "id")
	if !ok {
		return
	}

	chat, err := h.directory.MarkAsRead(c.Request.Context(), chatID, uid)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, chatResponse(chat))
}

// DeleteChat removes a chat and everything it contains.
// DELETE /api/chats/:id
func (h *ChatHandlers) DeleteChat(c *gin.Context) {
	uid, ok := requesterID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	chatID, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.directory.DeleteChat(c.Request.Context(), chatID, uid); err != nil {
		respondError(c, h.log, err)
		return
	}

	h.log.Info().Int64("chat_id", chatID).Int64("user_id", uid).Msg("chat deleted")
	c.Status(http.StatusNoContent)
}

// SearchByName finds the requester's group chats by name substring.
// GET /api/chats/search?name=...
func (h *ChatHandlers) SearchByName(c *gin.Context) {
	uid, ok := requesterID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	chats, err := h.directory.SearchByName(c.Request.Context(), c.Query("name"), uid)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, chatResponses(chats))
}

// FindChatsWithUser returns chats shared with another user.
// GET /api/chats/with/:userID
func (h *ChatHandlers) FindChatsWithUser(c *gin.Context) {
	uid, ok := requesterID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}
	userID, ok := pathID(c, "userID")
	if !ok {
		return
	}

	chats, err := h.directory.FindChatsWithUser(c.Request.Context(), userID, uid)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, chatResponses(chats))
}

// pathID parses an int64 path parameter, answering 400 on garbage.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid " + name})
		return 0, false
	}
	return id, true
}
