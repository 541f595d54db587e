package qader

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qader-platform/challenge-gateway/internal/domain/entity"
	apperrors "github.com/qader-platform/challenge-gateway/internal/pkg/errors"
)

// ============================================================================
// Тестовый upstream: принимает только токен goodToken, остальным отвечает 401.
// /auth/token/refresh/ выдает новую пару и считает обращения.
// ============================================================================

type fakeUpstream struct {
	server *httptest.Server

	goodToken    string
	refreshCalls int32
	apiCalls     int32
	refreshFail  bool

	mu         sync.Mutex
	seenTokens []string
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()

	fu := &fakeUpstream{goodToken: "fresh-access"}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/token/refresh/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fu.refreshCalls, 1)
		if fu.refreshFail {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"detail": "Token is invalid or expired"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"access": fu.goodToken, "refresh": "fresh-refresh"})
	})
	mux.HandleFunc("/challenges/challenges/7/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fu.apiCalls, 1)
		token := r.Header.Get("Authorization")
		fu.mu.Lock()
		fu.seenTokens = append(fu.seenTokens, token)
		fu.mu.Unlock()

		if token != "Bearer "+fu.goodToken {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"detail": "Given token not valid"})
			return
		}
		json.NewEncoder(w).Encode(entity.Challenge{ID: 7, Status: entity.StatusOngoing})
	})
	mux.HandleFunc("/challenges/challenges/404/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"detail": "Not found."})
	})

	fu.server = httptest.NewServer(mux)
	t.Cleanup(fu.server.Close)
	return fu
}

func (fu *fakeUpstream) client() *Client {
	return NewClient(fu.server.URL, 0)
}

// ============================================================================
// Обновление токена по 401
// ============================================================================

func TestClient_Do_Success(t *testing.T) {
	// Arrange
	fu := newFakeUpstream(t)
	sess := NewSession("s1", 1, TokenPair{Access: "fresh-access", Refresh: "r"})

	// Act
	ch, err := fu.client().GetChallenge(context.Background(), sess, 7)

	// Assert: корректный токен — один запрос, без refresh
	require.NoError(t, err)
	assert.Equal(t, uint(7), ch.ID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fu.apiCalls))
	assert.Equal(t, int32(0), atomic.LoadInt32(&fu.refreshCalls))
}

func TestClient_Do_RefreshOn401_ExactlyOneRetry(t *testing.T) {
	// Arrange: сессия с протухшим access-токеном
	fu := newFakeUpstream(t)
	sess := NewSession("s1", 1, TokenPair{Access: "stale-access", Refresh: "r"})

	// Act
	ch, err := fu.client().GetChallenge(context.Background(), sess, 7)

	// Assert: 401 -> один refresh -> ровно один повтор со свежим токеном
	require.NoError(t, err)
	assert.Equal(t, uint(7), ch.ID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fu.refreshCalls), "refresh должен быть вызван ровно один раз")
	assert.Equal(t, int32(2), atomic.LoadInt32(&fu.apiCalls), "запрос должен быть повторен ровно один раз")

	fu.mu.Lock()
	defer fu.mu.Unlock()
	require.Len(t, fu.seenTokens, 2)
	assert.Equal(t, "Bearer stale-access", fu.seenTokens[0])
	assert.Equal(t, "Bearer fresh-access", fu.seenTokens[1])

	// Пара в сессии обновлена
	token, err := sess.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", token)
}

func TestClient_Do_ConcurrentRequests_SingleRefresh(t *testing.T) {
	// Arrange: пачка конкурентных запросов с одним и тем же протухшим токеном
	fu := newFakeUpstream(t)
	sess := NewSession("s1", 1, TokenPair{Access: "stale-access", Refresh: "r"})
	client := fu.client()

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)

	// Act
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = client.GetChallenge(context.Background(), sess, 7)
		}(i)
	}
	wg.Wait()

	// Assert: все запросы завершились успехом через ОДНО обновление пары
	for i, err := range errs {
		assert.NoError(t, err, "запрос %d должен завершиться успехом", i)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&fu.refreshCalls), "конкурентные 401 должны ждать одно общее обновление")
}

func TestClient_Do_RefreshFailure_TerminatesSession(t *testing.T) {
	// Arrange: refresh-токен тоже протух
	fu := newFakeUpstream(t)
	fu.refreshFail = true
	sess := NewSession("s1", 1, TokenPair{Access: "stale-access", Refresh: "dead"})

	terminated := make(chan struct{})
	sess.SetCallbacks(nil, func() { close(terminated) })

	// Act
	_, err := fu.client().GetChallenge(context.Background(), sess, 7)

	// Assert: явный сигнал прерывания вместо повисшего запроса
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSessionTerminated)

	select {
	case <-terminated:
	default:
		t.Fatal("onTerminate должен быть вызван при фатальном сбое обновления")
	}

	// Все последующие вызовы немедленно прерываются
	_, err = sess.AccessToken(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrSessionTerminated)

	_, err = fu.client().GetChallenge(context.Background(), sess, 7)
	assert.ErrorIs(t, err, apperrors.ErrSessionTerminated)
}

func TestClient_Do_ConcurrentRefreshFailure_AllAborted(t *testing.T) {
	// Arrange: конкурентные запросы, обновление проваливается
	fu := newFakeUpstream(t)
	fu.refreshFail = true
	sess := NewSession("s1", 1, TokenPair{Access: "stale-access", Refresh: "dead"})
	client := fu.client()

	const workers = 6
	var wg sync.WaitGroup
	errs := make([]error, workers)

	// Act
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = client.GetChallenge(context.Background(), sess, 7)
		}(i)
	}
	wg.Wait()

	// Assert: никто не повис — каждый получил явную ошибку терминации
	for i, err := range errs {
		assert.ErrorIs(t, err, apperrors.ErrSessionTerminated, "запрос %d должен быть прерван", i)
	}
}

// ============================================================================
// Маппинг ошибок upstream
// ============================================================================

func TestClient_Do_NotFoundMapsToSentinel(t *testing.T) {
	// Arrange
	fu := newFakeUpstream(t)
	sess := NewSession("s1", 1, TokenPair{Access: "fresh-access", Refresh: "r"})

	// Act
	_, err := fu.client().GetChallenge(context.Background(), sess, 404)

	// Assert
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "Not found.", apiErr.Detail)
}

func TestDecodeAPIError_FieldMap(t *testing.T) {
	// Arrange: DRF-стиль карты ошибок по полям
	body := []byte(`{"opponent_username": ["User not found."], "challenge_type": "invalid"}`)

	// Act
	apiErr := decodeAPIError(http.StatusBadRequest, body)

	// Assert
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Empty(t, apiErr.Detail)
	assert.Equal(t, []string{"User not found."}, apiErr.Fields["opponent_username"])
	assert.Equal(t, []string{"invalid"}, apiErr.Fields["challenge_type"])
	assert.ErrorIs(t, apiErr, apperrors.ErrValidation)
}

func TestDecodeAPIError_EmptyBody(t *testing.T) {
	apiErr := decodeAPIError(http.StatusBadGateway, nil)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "upstream responded 502", apiErr.Error())
}

// ============================================================================
// Терминация по инициативе пользователя
// ============================================================================

func TestSession_Terminate_Explicit(t *testing.T) {
	// Arrange
	sess := NewSession("s1", 1, TokenPair{Access: "a", Refresh: "r"})
	calls := 0
	sess.SetCallbacks(nil, func() { calls++ })

	// Act: повторная терминация — no-op
	sess.Terminate()
	sess.Terminate()

	// Assert
	assert.Equal(t, 1, calls, "onTerminate должен быть вызван ровно один раз")
	assert.True(t, sess.IsTerminated())

	_, err := sess.AccessToken(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrSessionTerminated)
}
