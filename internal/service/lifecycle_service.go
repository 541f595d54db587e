package service

import (
	"context"
	"log"

	"github.com/qader-platform/challenge-gateway/internal/domain/entity"
	"github.com/qader-platform/challenge-gateway/internal/qader"
)

// LifecycleService — тонкие обертки команд жизненного цикла челленджа.
// Одна команда — один REST-вызов на upstream, ответ сервера авторитетен.
// Ошибки терминальны для попытки и НЕ ретраятся: повтор только явным
// действием пользователя. Успех инвалидирует кеш справочника участников.
type LifecycleService struct {
	client    *qader.Client
	directory *DirectoryService
}

// NewLifecycleService создает сервис команд жизненного цикла
func NewLifecycleService(client *qader.Client, directory *DirectoryService) *LifecycleService {
	return &LifecycleService{
		client:    client,
		directory: directory,
	}
}

// invalidateParticipants сбрасывает кеш справочника обоих участников
func (s *LifecycleService) invalidateParticipants(ch *entity.Challenge) {
	s.directory.Invalidate(ch.Challenger.ID)
	if ch.Opponent != nil {
		s.directory.Invalidate(ch.Opponent.ID)
	}
}

// Create отправляет приглашение на новый челлендж
func (s *LifecycleService) Create(ctx context.Context, sess *qader.Session, opponentUsername, challengeType string) (*entity.Challenge, error) {
	ch, err := s.client.CreateChallenge(ctx, sess, qader.CreateChallengeRequest{
		OpponentUsername: opponentUsername,
		ChallengeType:    challengeType,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[Lifecycle] Пользователь #%d создал челлендж #%d (%s)", sess.UserID, ch.ID, challengeType)
	s.invalidateParticipants(ch)
	return ch, nil
}

// Accept принимает приглашение
func (s *LifecycleService) Accept(ctx context.Context, sess *qader.Session, id uint) (*entity.Challenge, error) {
	ch, err := s.client.AcceptChallenge(ctx, sess, id)
	if err != nil {
		return nil, err
	}
	s.invalidateParticipants(ch)
	return ch, nil
}

// Decline отклоняет приглашение
func (s *LifecycleService) Decline(ctx context.Context, sess *qader.Session, id uint) (*entity.Challenge, error) {
	ch, err := s.client.DeclineChallenge(ctx, sess, id)
	if err != nil {
		return nil, err
	}
	s.invalidateParticipants(ch)
	return ch, nil
}

// Cancel отменяет отправленное приглашение
func (s *LifecycleService) Cancel(ctx context.Context, sess *qader.Session, id uint) (*entity.Challenge, error) {
	ch, err := s.client.CancelChallenge(ctx, sess, id)
	if err != nil {
		return nil, err
	}
	s.invalidateParticipants(ch)
	return ch, nil
}

// Ready отмечает готовность участника. Переход комнаты в in_progress
// произойдет ТОЛЬКО по серверному challenge.start, не по локальным флагам.
func (s *LifecycleService) Ready(ctx context.Context, sess *qader.Session, id uint) (*entity.Challenge, error) {
	return s.client.MarkReady(ctx, sess, id)
}

// Rematch создает челлендж-реванш на основе завершенного
func (s *LifecycleService) Rematch(ctx context.Context, sess *qader.Session, id uint) (*entity.Challenge, error) {
	ch, err := s.client.Rematch(ctx, sess, id)
	if err != nil {
		return nil, err
	}
	log.Printf("[Lifecycle] Пользователь #%d создал реванш #%d по челленджу #%d", sess.UserID, ch.ID, id)
	s.invalidateParticipants(ch)
	return ch, nil
}
