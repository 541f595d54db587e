package manager

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qader-platform/challenge-gateway/internal/domain/repository"
	apperrors "github.com/qader-platform/challenge-gateway/internal/pkg/errors"
	"github.com/qader-platform/challenge-gateway/internal/qader"
	"github.com/qader-platform/challenge-gateway/pkg/auth"
)

// sessionRecord — персистентная часть сессии в Redis
type sessionRecord struct {
	UserID   uint             `json:"user_id"`
	Username string           `json:"username"`
	Tokens   qader.TokenPair  `json:"tokens"`
}

// SessionManager управляет сессиями шлюза: сопоставляет session id (uuid)
// с парой upstream-токенов. Живые объекты сессий — синглтоны в памяти
// процесса (обновление токена сериализуется per-session), пары токенов
// персистятся в Redis и переживают рестарт.
type SessionManager struct {
	cache      repository.CacheRepository
	sessionTTL time.Duration

	mu       sync.Mutex
	sessions map[string]*qader.Session
}

// NewSessionManager создает менеджер сессий
func NewSessionManager(cache repository.CacheRepository, sessionTTL time.Duration) (*SessionManager, error) {
	if cache == nil {
		return nil, fmt.Errorf("cache repository cannot be nil for SessionManager")
	}
	return &SessionManager{
		cache:      cache,
		sessionTTL: sessionTTL,
		sessions:   make(map[string]*qader.Session),
	}, nil
}

func sessionKey(id string) string {
	return "session:" + id
}

// Create создает сессию шлюза для пары upstream-токенов.
// Личность пользователя берется из claims access-токена.
func (m *SessionManager) Create(pair qader.TokenPair) (*qader.Session, error) {
	claims, err := auth.ParseAccessClaims(pair.Access)
	if err != nil {
		return nil, fmt.Errorf("cannot create session: %w", err)
	}

	id := uuid.New().String()
	record := sessionRecord{
		UserID:   claims.UserID,
		Username: claims.Username,
		Tokens:   pair,
	}
	if err := m.cache.SetJSON(sessionKey(id), record, m.sessionTTL); err != nil {
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}

	sess := qader.NewSession(id, claims.UserID, pair)
	m.wire(sess, record)

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	log.Printf("[SessionManager] Создана сессия %s для пользователя #%d", id, claims.UserID)
	return sess, nil
}

// Resolve возвращает живую сессию по id. Если процесс сессию еще не видел
// (рестарт шлюза), она восстанавливается из Redis.
func (m *SessionManager) Resolve(id string) (*qader.Session, error) {
	m.mu.Lock()
	if sess, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		if sess.IsTerminated() {
			return nil, apperrors.ErrSessionTerminated
		}
		return sess, nil
	}
	m.mu.Unlock()

	var record sessionRecord
	if err := m.cache.GetJSON(sessionKey(id), &record); err != nil {
		if err == apperrors.ErrNotFound {
			return nil, apperrors.ErrUnauthorized
		}
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}

	sess := qader.NewSession(id, record.UserID, record.Tokens)
	m.wire(sess, record)

	m.mu.Lock()
	// Повторная проверка: сессию могли восстановить конкурентно
	if existing, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.sessions[id] = sess
	m.mu.Unlock()

	log.Printf("[SessionManager] Сессия %s восстановлена из Redis", id)
	return sess, nil
}

// Terminate принудительно завершает сессию (logout)
func (m *SessionManager) Terminate(id string) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()

	if ok {
		sess.Terminate() // onTerminate удалит сессию из памяти и Redis
		return
	}
	// Процесс сессию не видел — чистим только Redis
	if err := m.cache.Delete(sessionKey(id)); err != nil {
		log.Printf("[SessionManager] Не удалось удалить сессию %s из Redis: %v", id, err)
	}
}

// wire подключает к сессии хуки персиста и терминации
func (m *SessionManager) wire(sess *qader.Session, record sessionRecord) {
	id := sess.ID
	sess.SetCallbacks(
		func(pair qader.TokenPair) {
			record.Tokens = pair
			if err := m.cache.SetJSON(sessionKey(id), record, m.sessionTTL); err != nil {
				log.Printf("[SessionManager] Не удалось персистить обновленные токены сессии %s: %v", id, err)
			}
		},
		func() {
			m.mu.Lock()
			delete(m.sessions, id)
			m.mu.Unlock()
			if err := m.cache.Delete(sessionKey(id)); err != nil {
				log.Printf("[SessionManager] Не удалось удалить сессию %s из Redis: %v", id, err)
			}
			log.Printf("[SessionManager] Сессия %s терминирована", id)
		},
	)
}
