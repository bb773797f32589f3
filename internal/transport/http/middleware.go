package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/poputchik/chat-server/internal/auth"
)

const (
	// ContextKeyUserID is the context key for storing the resolved user ID.
	ContextKeyUserID = "user_id"
	// ContextKeyUsername is the context key for storing the username.
	ContextKeyUsername = "username"
)

// AuthMiddleware resolves the bearer credential to a user identity and
// stores it on the request context. Handlers never look further than this
// resolved id.
func AuthMiddleware(authService *auth.Service, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			logger.Debug().Msg("missing or malformed authorization header")
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "missing bearer token"})
			c.Abort()
			return
		}

		user, err := authService.Resolve(c.Request.Context(), token)
		if err != nil {
			logger.Debug().Err(err).Msg("credential rejected")
			respondError(c, logger, err)
			c.Abort()
			return
		}

		c.Set(ContextKeyUserID, user.ID)
		c.Set(ContextKeyUsername, user.Username)

		c.Next()
	}
}

// LoggerMiddleware logs every HTTP request after it completes.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		// WebSocket clients cannot set headers from browsers; accept a
		// query parameter there.
		return c.Query("token")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

// requesterID retrieves the authenticated user id set by AuthMiddleware.
func requesterID(c *gin.Context) (int64, bool) {
	v, exists := c.Get(ContextKeyUserID)
	if !exists {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
