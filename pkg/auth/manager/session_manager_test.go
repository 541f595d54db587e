package manager

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/qader-platform/challenge-gateway/internal/pkg/errors"
	"github.com/qader-platform/challenge-gateway/internal/qader"
	"github.com/qader-platform/challenge-gateway/pkg/auth"
)

// ============================================================================
// In-memory кеш для тестов менеджера сессий
// ============================================================================

type memCache struct {
	mu    sync.Mutex
	store map[string]string
}

func newMemCache() *memCache {
	return &memCache{store: make(map[string]string)}
}

func (m *memCache) Set(key string, value interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[key] = value.(string)
	return nil
}

func (m *memCache) Get(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.store[key]
	if !ok {
		return "", apperrors.ErrNotFound
	}
	return v, nil
}

func (m *memCache) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, key)
	return nil
}

func (m *memCache) DeleteByPattern(pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range m.store {
		if strings.HasPrefix(key, prefix) {
			delete(m.store, key)
		}
	}
	return nil
}

func (m *memCache) SetJSON(key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return m.Set(key, string(data), ttl)
}

func (m *memCache) GetJSON(key string, dest interface{}) error {
	raw, err := m.Get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), dest)
}

func (m *memCache) Exists(key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.store[key]
	return ok, nil
}

func (m *memCache) SetNX(key string, value interface{}, ttl time.Duration) (bool, error) {
	if ok, _ := m.Exists(key); ok {
		return false, nil
	}
	return true, m.Set(key, value.(string), ttl)
}

func testTokenPair(t *testing.T, userID uint, username string) qader.TokenPair {
	t.Helper()
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.AccessClaims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("upstream-secret"))
	require.NoError(t, err)
	return qader.TokenPair{Access: access, Refresh: "refresh-token"}
}

// ============================================================================
// Менеджер сессий
// ============================================================================

func TestSessionManager_CreateAndResolve(t *testing.T) {
	// Arrange
	cache := newMemCache()
	mgr, err := NewSessionManager(cache, time.Hour)
	require.NoError(t, err)

	// Act
	sess, err := mgr.Create(testTokenPair(t, 42, "alice"))
	require.NoError(t, err)

	// Assert: личность взята из claims, сессия резолвится в тот же объект
	assert.Equal(t, uint(42), sess.UserID)
	assert.NotEmpty(t, sess.ID)

	resolved, err := mgr.Resolve(sess.ID)
	require.NoError(t, err)
	assert.Same(t, sess, resolved, "живая сессия — синглтон в памяти процесса")

	// Запись персистится в кеш
	ok, err := cache.Exists("session:" + sess.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSessionManager_Create_BadToken(t *testing.T) {
	mgr, err := NewSessionManager(newMemCache(), time.Hour)
	require.NoError(t, err)

	_, err = mgr.Create(qader.TokenPair{Access: "garbage", Refresh: "r"})
	assert.Error(t, err, "сессия без читаемых claims не создается")
}

func TestSessionManager_Resolve_RestoresFromCache(t *testing.T) {
	// Arrange: сессия создана одним процессом, резолвится «после рестарта»
	cache := newMemCache()
	mgr1, err := NewSessionManager(cache, time.Hour)
	require.NoError(t, err)
	sess, err := mgr1.Create(testTokenPair(t, 42, "alice"))
	require.NoError(t, err)

	mgr2, err := NewSessionManager(cache, time.Hour)
	require.NoError(t, err)

	// Act
	restored, err := mgr2.Resolve(sess.ID)

	// Assert: личность и токены восстановлены из Redis-записи
	require.NoError(t, err)
	assert.Equal(t, uint(42), restored.UserID)
	token, err := restored.AccessToken(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestSessionManager_Resolve_Unknown(t *testing.T) {
	mgr, err := NewSessionManager(newMemCache(), time.Hour)
	require.NoError(t, err)

	_, err = mgr.Resolve("no-such-session")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestSessionManager_Terminate_RemovesEverywhere(t *testing.T) {
	// Arrange
	cache := newMemCache()
	mgr, err := NewSessionManager(cache, time.Hour)
	require.NoError(t, err)
	sess, err := mgr.Create(testTokenPair(t, 42, "alice"))
	require.NoError(t, err)

	// Act
	mgr.Terminate(sess.ID)

	// Assert: сессия терминирована, запись удалена, повторный резолв — 401
	assert.True(t, sess.IsTerminated())
	ok, _ := cache.Exists("session:" + sess.ID)
	assert.False(t, ok, "запись сессии должна быть удалена из кеша")

	_, err = mgr.Resolve(sess.ID)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestSessionManager_RefreshedPairPersisted(t *testing.T) {
	// Arrange
	cache := newMemCache()
	mgr, err := NewSessionManager(cache, time.Hour)
	require.NoError(t, err)
	sess, err := mgr.Create(testTokenPair(t, 42, "alice"))
	require.NoError(t, err)

	staleToken, err := sess.AccessToken(context.Background())
	require.NoError(t, err)

	// Act: успешное обновление пары (например, после 401).
	// Иной срок жизни гарантирует, что новый access-токен отличается от старого.
	newAccess, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.AccessClaims{
		UserID:   42,
		Username: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(2 * time.Hour)),
		},
	}).SignedString([]byte("upstream-secret"))
	require.NoError(t, err)
	newPair := qader.TokenPair{Access: newAccess, Refresh: "refresh-token-2"}
	_, err = sess.RefreshAfter401(context.Background(), staleToken,
		func(ctx context.Context, refreshToken string) (qader.TokenPair, error) {
			return newPair, nil
		})
	require.NoError(t, err)

	// Assert: свежая пара переживает рестарт шлюза
	mgr2, err := NewSessionManager(cache, time.Hour)
	require.NoError(t, err)
	restored, err := mgr2.Resolve(sess.ID)
	require.NoError(t, err)
	token, err := restored.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, newPair.Access, token, "обновленная пара должна быть персистирована")
}

func TestSessionManager_FatalRefreshTerminatesAndCleansUp(t *testing.T) {
	// Arrange
	cache := newMemCache()
	mgr, err := NewSessionManager(cache, time.Hour)
	require.NoError(t, err)
	sess, err := mgr.Create(testTokenPair(t, 42, "alice"))
	require.NoError(t, err)

	staleToken, err := sess.AccessToken(context.Background())
	require.NoError(t, err)

	// Act: refresh-токен мертв — обновление проваливается
	_, err = sess.RefreshAfter401(context.Background(), staleToken,
		func(ctx context.Context, refreshToken string) (qader.TokenPair, error) {
			return qader.TokenPair{}, assert.AnError
		})

	// Assert: сессия терминирована и вычищена из кеша
	assert.ErrorIs(t, err, apperrors.ErrSessionTerminated)
	ok, _ := cache.Exists("session:" + sess.ID)
	assert.False(t, ok)

	_, err = mgr.Resolve(sess.ID)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}
