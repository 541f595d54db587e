package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, claims *AccessClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("upstream-secret"))
	require.NoError(t, err)
	return token
}

func TestParseAccessClaims(t *testing.T) {
	// Arrange
	expires := time.Now().Add(time.Hour).Truncate(time.Second)
	raw := signedToken(t, &AccessClaims{
		UserID:   42,
		Username: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})

	// Act
	claims, err := ParseAccessClaims(raw)

	// Assert: claims читаются без ключа подписи upstream
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.False(t, claims.IsExpired(time.Now()))
	assert.True(t, claims.IsExpired(expires.Add(time.Second)))
}

func TestParseAccessClaims_MissingUserID(t *testing.T) {
	raw := signedToken(t, &AccessClaims{Username: "ghost"})

	_, err := ParseAccessClaims(raw)
	assert.Error(t, err, "токен без user_id бесполезен для шлюза")
}

func TestParseAccessClaims_Garbage(t *testing.T) {
	_, err := ParseAccessClaims("not-a-jwt")
	assert.Error(t, err)
}

func TestAccessClaims_IsExpired_NoExpiry(t *testing.T) {
	claims := &AccessClaims{UserID: 1}
	assert.False(t, claims.IsExpired(time.Now()), "токен без exp считается неистекшим")
}
