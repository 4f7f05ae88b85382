package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"socialchat/services"

	"github.com/gin-gonic/gin"
)

// TokenResolver находит владельца bearer-токена
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (int64, error)
}

func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	// браузерный websocket не умеет ставить заголовки
	return c.Query("token")
}

// AuthMiddleware кладёт user_id в контекст gin.
// Поддерживает:
// 1. Authorization: Bearer <token> или ?token=<token>
// 2. X-User-ID заголовок, только если trustUserHeader (тестовые стенды)
func AuthMiddleware(tokens TokenResolver, trustUserHeader bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if trustUserHeader {
			if userIDHeader := c.GetHeader("X-User-ID"); userIDHeader != "" {
				userID, err := strconv.ParseInt(userIDHeader, 10, 64)
				if err != nil || userID <= 0 {
					c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid X-User-ID format"})
					c.Abort()
					return
				}
				c.Set("user_id", userID)
				c.Next()
				return
			}
		}

		token := bearerToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required: provide Authorization Bearer token"})
			c.Abort()
			return
		}
		userID, err := tokens.Resolve(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, services.ErrUnauthorized) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			} else {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			}
			c.Abort()
			return
		}
		c.Set("user_id", userID)
		c.Next()
	}
}
