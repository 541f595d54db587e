package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/qader-platform/challenge-gateway/internal/pkg/errors"
	"github.com/qader-platform/challenge-gateway/pkg/auth/manager"
)

// SessionContextKey — ключ, под которым живая сессия кладется в контекст Gin
const SessionContextKey = "qaderSession"

// AuthMiddleware обеспечивает аутентификацию для защищенных маршрутов:
// резолвит session id шлюза в живую сессию с парой upstream-токенов
type AuthMiddleware struct {
	sessions *manager.SessionManager
}

// NewAuthMiddleware создает новый middleware аутентификации
func NewAuthMiddleware(sessions *manager.SessionManager) *AuthMiddleware {
	return &AuthMiddleware{sessions: sessions}
}

// RequireSession проверяет наличие действующей сессии шлюза.
// Session id передается в заголовке Bearer, либо в query-параметре
// "session" (WebSocket-рукопожатия из браузера не несут заголовков).
func (m *AuthMiddleware) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		var sessionID string

		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header format must be Bearer {session}", "error_type": "token_format"})
				c.Abort()
				return
			}
			sessionID = parts[1]
		} else {
			sessionID = c.Query("session")
		}

		if sessionID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized", "error_type": "session_missing"})
			c.Abort()
			return
		}

		sess, err := m.sessions.Resolve(sessionID)
		if err != nil {
			if errors.Is(err, apperrors.ErrSessionTerminated) {
				// Сессия принудительно завершена — клиент должен перелогиниться
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Session terminated", "error_type": "session_terminated"})
			} else {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired session", "error_type": "session_invalid"})
			}
			c.Abort()
			return
		}

		c.Set(SessionContextKey, sess)
		c.Next()
	}
}
