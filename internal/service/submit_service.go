package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/qader-platform/challenge-gateway/internal/domain/entity"
	apperrors "github.com/qader-platform/challenge-gateway/internal/pkg/errors"
	"github.com/qader-platform/challenge-gateway/internal/qader"
	"github.com/qader-platform/challenge-gateway/internal/room"
)

// AnswerSubmitter отправляет ответы одного участника в одном челлендже.
// Оптимистичный оверлей: выбранный вопрос немедленно помечается pending,
// снимается ТОЛЬКО авторитетным ответом сервера (успех подтверждает,
// ошибка откатывает в unanswered) — никогда по локальному тайм-ауту.
// На вопрос допускается ровно одна незавершенная отправка.
type AnswerSubmitter struct {
	client      *qader.Client
	sess        *qader.Session
	challengeID uint
	room        *room.Room

	// clock подменяется в тестах
	clock func() time.Time

	mu           sync.Mutex
	currentID    uint
	currentSince time.Time
	statuses     map[uint]entity.AnswerStatus
}

// NewAnswerSubmitter создает отправитель ответов для участника сессии
func NewAnswerSubmitter(client *qader.Client, sess *qader.Session, challengeID uint, rm *room.Room) *AnswerSubmitter {
	return &AnswerSubmitter{
		client:      client,
		sess:        sess,
		challengeID: challengeID,
		room:        rm,
		clock:       time.Now,
		statuses:    make(map[uint]entity.AnswerStatus),
	}
}

// StartQuestion отмечает вопрос текущим: от этого момента считается
// затраченное время. Повторная отметка того же вопроса не сбрасывает отсчет.
func (s *AnswerSubmitter) StartQuestion(questionID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentID == questionID {
		return
	}
	s.currentID = questionID
	s.currentSince = s.clock()
}

// Status возвращает локальный статус вопроса
func (s *AnswerSubmitter) Status(questionID uint) entity.AnswerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.statuses[questionID]; ok {
		return st
	}
	return entity.AnswerStatusUnanswered
}

// Submit отправляет ответ на вопрос. Повторный выбор до разрешения
// предыдущей отправки — защищенный no-op (ErrConflict). При сетевой
// ошибке вопрос откатывается в unanswered, повторная отправка разрешена.
func (s *AnswerSubmitter) Submit(ctx context.Context, questionID uint, selectedAnswer string) (*qader.AnswerResponse, error) {
	s.mu.Lock()
	switch s.statuses[questionID] {
	case entity.AnswerStatusPending:
		s.mu.Unlock()
		return nil, fmt.Errorf("submission for question %d already in flight: %w", questionID, apperrors.ErrConflict)
	case entity.AnswerStatusAnswered:
		s.mu.Unlock()
		return nil, fmt.Errorf("question %d already answered: %w", questionID, apperrors.ErrConflict)
	}

	// Затраченное время — от момента, когда вопрос стал текущим
	elapsed := 0
	if s.currentID == questionID && !s.currentSince.IsZero() {
		elapsed = int(s.clock().Sub(s.currentSince) / time.Second)
	}

	// Оптимистичная отметка
	s.statuses[questionID] = entity.AnswerStatusPending
	s.mu.Unlock()

	verdict, err := s.client.SubmitAnswer(ctx, s.sess, s.challengeID, qader.AnswerRequest{
		QuestionID:       questionID,
		SelectedAnswer:   selectedAnswer,
		TimeTakenSeconds: elapsed,
	})

	s.mu.Lock()
	if err != nil {
		// Откат: пользователь может попробовать снова
		delete(s.statuses, questionID)
		s.mu.Unlock()
		log.Printf("[Submitter] Отправка ответа на вопрос #%d провалилась, откат в unanswered: %v", questionID, err)
		return nil, err
	}
	s.statuses[questionID] = entity.AnswerStatusAnswered
	s.mu.Unlock()

	// Вердикт сервера фолдится в кешированный снапшот комнаты.
	// Правильность — только из вердикта, клиент ее не угадывает.
	if s.room != nil {
		s.room.ApplyVerdict(s.sess.UserID, questionID, entity.UserAnswerDetails{
			SelectedChoice:   selectedAnswer,
			IsCorrect:        verdict.IsCorrect,
			TimeTakenSeconds: elapsed,
		}, verdict.CorrectAnswer, verdict.Explanation)
	}

	return verdict, nil
}
