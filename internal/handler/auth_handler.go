package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/qader-platform/challenge-gateway/internal/middleware"
	apperrors "github.com/qader-platform/challenge-gateway/internal/pkg/errors"
	"github.com/qader-platform/challenge-gateway/internal/qader"
	"github.com/qader-platform/challenge-gateway/pkg/auth"
	"github.com/qader-platform/challenge-gateway/pkg/auth/manager"
)

// AuthHandler обрабатывает вход и выход через шлюз: логин проксируется на
// upstream, пара токенов прячется за session id шлюза
type AuthHandler struct {
	client   *qader.Client
	sessions *manager.SessionManager
}

// NewAuthHandler создает новый обработчик аутентификации
func NewAuthHandler(client *qader.Client, sessions *manager.SessionManager) *AuthHandler {
	return &AuthHandler{
		client:   client,
		sessions: sessions,
	}
}

// LoginRequest представляет запрос на вход
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login выполняет вход через upstream и создает сессию шлюза.
// Клиент получает session id, пара upstream-токенов наружу не отдается.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pair, err := h.client.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.handleAuthError(c, err)
		return
	}

	sess, err := h.sessions.Create(pair)
	if err != nil {
		log.Printf("[AuthHandler] Не удалось создать сессию для %s: %v", req.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create session"})
		return
	}

	claims, _ := auth.ParseAccessClaims(pair.Access)
	username := req.Username
	if claims != nil && claims.Username != "" {
		username = claims.Username
	}

	c.JSON(http.StatusOK, gin.H{
		"session":  sess.ID,
		"user_id":  sess.UserID,
		"username": username,
	})
}

// Logout инвалидирует refresh-токен на upstream и терминирует сессию шлюза.
// Сессия терминируется даже при ошибке upstream.
func (h *AuthHandler) Logout(c *gin.Context) {
	sess := c.MustGet(middleware.SessionContextKey).(*qader.Session)

	if err := h.client.Logout(c.Request.Context(), sess); err != nil {
		log.Printf("[AuthHandler] Ошибка logout на upstream для сессии %s: %v", sess.ID, err)
	}
	h.sessions.Terminate(sess.ID)

	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// Me возвращает сведения о текущей сессии
func (h *AuthHandler) Me(c *gin.Context) {
	sess := c.MustGet(middleware.SessionContextKey).(*qader.Session)

	c.JSON(http.StatusOK, gin.H{
		"session": sess.ID,
		"user_id": sess.UserID,
	})
}

// handleAuthError обрабатывает ошибки аутентификации
func (h *AuthHandler) handleAuthError(c *gin.Context, err error) {
	if errors.Is(err, apperrors.ErrUnauthorized) || errors.Is(err, apperrors.ErrValidation) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
	} else if errors.Is(err, apperrors.ErrForbidden) {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	} else {
		log.Printf("ERROR: Internal server error in AuthHandler: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
