package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/poputchik/chat-server/internal/auth"
	"github.com/poputchik/chat-server/internal/config"
	"github.com/poputchik/chat-server/internal/notify"
	"github.com/poputchik/chat-server/internal/service/directory"
	"github.com/poputchik/chat-server/internal/service/messages"
)

// NewServer builds the HTTP server with all routes registered.
func NewServer(
	cfg config.Config,
	authService *auth.Service,
	dir *directory.Service,
	msgs *messages.Service,
	notifier *notify.Notifier,
	logger *zerolog.Logger,
) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), LoggerMiddleware(logger))

	r.GET("/health", func(c *gin.Context) {
		c.String(stdhttp.StatusOK, "ok")
	})

	chatHandlers := NewChatHandlers(dir, logger)
	messageHandlers := NewMessageHandlers(msgs, logger)
	wsHandler := NewWSHandler(notifier, logger)

	authed := r.Group("/", AuthMiddleware(authService, logger))

	chats := authed.Group("/api/chats")
	{
		chats.POST("/single", chatHandlers.CreateSingleChat)
		chats.POST("/group", chatHandlers.CreateGroupChat)
		chats.GET("", chatHandlers.ListMyChats)
		chats.GET("/search", chatHandlers.SearchByName)
		chats.GET("/with/:userID", chatHandlers.FindChatsWithUser)
		chats.GET("/:id", chatHandlers.GetChat)
		chats.DELETE("/:id", chatHandlers.DeleteChat)
		chats.PUT("/:id/name", chatHandlers.RenameGroup)
		chats.PUT("/:id/members/:userID", chatHandlers.AddMember)
		chats.DELETE("/:id/members/:userID", chatHandlers.RemoveMember)
		chats.GET("/:id/admins", chatHandlers.GetAdmins)
		chats.POST("/:id/admins/:userID", chatHandlers.PromoteToAdmin)
		chats.POST("/:id/owner/:userID", chatHandlers.TransferOwnership)
		chats.POST("/:id/read", chatHandlers.MarkAsRead)
	}

	msgRoutes := authed.Group("/api/messages")
	{
		msgRoutes.POST("", messageHandlers.SendMessage)
		msgRoutes.GET("/chat/:chatID", messageHandlers.GetChatMessages)
		msgRoutes.GET("/search", messageHandlers.Search)
		msgRoutes.GET("/last", messageHandlers.LastFromUser)
		msgRoutes.PUT("/:id/content", messageHandlers.UpdateContent)
		msgRoutes.POST("/:id/read", messageHandlers.MarkAsRead)
		msgRoutes.DELETE("/:id", messageHandlers.DeleteMessage)
	}

	authed.GET("/ws", wsHandler.Handle)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
