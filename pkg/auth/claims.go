package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// AccessClaims — claims access-токена upstream API. Шлюз не владеет ключом
// подписи upstream, поэтому токен разбирается без проверки подписи: подпись
// проверяет сам upstream на каждом запросе, шлюзу claims нужны только для
// идентификации пользователя и срока действия.
type AccessClaims struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// ParseAccessClaims разбирает claims access-токена без проверки подписи
func ParseAccessClaims(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("failed to parse access token claims: %w", err)
	}
	if claims.UserID == 0 {
		return nil, fmt.Errorf("access token has no user_id claim")
	}
	return claims, nil
}

// IsExpired проверяет, истек ли токен на момент now
func (c *AccessClaims) IsExpired(now time.Time) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return c.ExpiresAt.Before(now)
}
