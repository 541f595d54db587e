package qader

import (
	"context"
	"log"
	"sync"

	apperrors "github.com/qader-platform/challenge-gateway/internal/pkg/errors"
)

// TokenPair — пара токенов upstream API
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Session хранит пару токенов одного пользователя и сериализует их обновление.
// Инвариант: на сессию одновременно выполняется не более одного обновления
// токена; конкурентные запросы, поймавшие 401, встают в очередь за ним.
// Фатальный сбой обновления терминирует сессию: все ожидающие и последующие
// вызовы немедленно прерываются ErrSessionTerminated — вместо «повисших»
// запросов используется явный сигнал прерывания.
type Session struct {
	// ID сессии шлюза (uuid)
	ID string

	// UserID пользователя upstream, известен из claims access-токена
	UserID uint

	mu         sync.Mutex
	pair       TokenPair
	refreshing chan struct{} // не nil, пока идет обновление; закрывается по завершении
	terminated bool

	// onUpdate вызывается после успешного обновления пары (персист в хранилище)
	onUpdate func(TokenPair)

	// onTerminate вызывается один раз при терминации сессии (удаление из хранилища)
	onTerminate func()
}

// NewSession создает сессию с начальной парой токенов
func NewSession(id string, userID uint, pair TokenPair) *Session {
	return &Session{ID: id, UserID: userID, pair: pair}
}

// SetCallbacks устанавливает хуки персиста и терминации
func (s *Session) SetCallbacks(onUpdate func(TokenPair), onTerminate func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpdate = onUpdate
	s.onTerminate = onTerminate
}

// AccessToken возвращает текущий access-токен. Если идет обновление,
// вызов ждет его исхода, чтобы не уходить на upstream с заведомо
// протухшим токеном.
func (s *Session) AccessToken(ctx context.Context) (string, error) {
	for {
		s.mu.Lock()
		if s.terminated {
			s.mu.Unlock()
			return "", apperrors.ErrSessionTerminated
		}
		refreshing := s.refreshing
		if refreshing == nil {
			token := s.pair.Access
			s.mu.Unlock()
			return token, nil
		}
		s.mu.Unlock()

		select {
		case <-refreshing:
			// Обновление завершилось, перечитываем состояние
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// IsTerminated проверяет, терминирована ли сессия
func (s *Session) IsTerminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

// refreshFunc выполняет сетевое обновление пары токенов
type refreshFunc func(ctx context.Context, refreshToken string) (TokenPair, error)

// RefreshAfter401 обрабатывает 401 для запроса, выполненного с staleToken.
// Ровно одно обновление на сессию: первый вызов выполняет refresh, остальные
// ждут его исхода. Возвращает свежий access-токен для ЕДИНСТВЕННОГО повтора
// запроса, либо ErrSessionTerminated, если обновление провалилось.
func (s *Session) RefreshAfter401(ctx context.Context, staleToken string, refresh refreshFunc) (string, error) {
	s.mu.Lock()

	if s.terminated {
		s.mu.Unlock()
		return "", apperrors.ErrSessionTerminated
	}

	// Кто-то уже обновил пару, пока запрос был в полете — повторяем с ней
	if s.pair.Access != staleToken {
		token := s.pair.Access
		s.mu.Unlock()
		return token, nil
	}

	// Обновление уже идет — встаем в очередь за его исходом
	if s.refreshing != nil {
		refreshing := s.refreshing
		s.mu.Unlock()

		select {
		case <-refreshing:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		return s.AccessToken(ctx)
	}

	// Мы первые: начинаем обновление
	done := make(chan struct{})
	s.refreshing = done
	refreshToken := s.pair.Refresh
	s.mu.Unlock()

	newPair, err := refresh(ctx, refreshToken)

	s.mu.Lock()
	s.refreshing = nil
	if err != nil {
		// Фатально для сессии: принудительный выход
		s.terminated = true
		onTerminate := s.onTerminate
		s.mu.Unlock()
		close(done)

		log.Printf("[Session %s] Обновление токена провалилось, сессия терминирована: %v", s.ID, err)
		if onTerminate != nil {
			onTerminate()
		}
		return "", apperrors.ErrSessionTerminated
	}

	s.pair = newPair
	onUpdate := s.onUpdate
	s.mu.Unlock()
	close(done)

	log.Printf("[Session %s] Пара токенов успешно обновлена", s.ID)
	if onUpdate != nil {
		onUpdate(newPair)
	}
	return newPair.Access, nil
}

// Terminate принудительно завершает сессию (logout по инициативе пользователя)
func (s *Session) Terminate() {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	s.terminated = true
	onTerminate := s.onTerminate
	s.mu.Unlock()

	if onTerminate != nil {
		onTerminate()
	}
}
