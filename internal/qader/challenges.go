package qader

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/qader-platform/challenge-gateway/internal/domain/entity"
)

// CreateChallengeRequest — запрос на создание челленджа (приглашение)
type CreateChallengeRequest struct {
	OpponentUsername string `json:"opponent_username"`
	ChallengeType    string `json:"challenge_type"`
}

// AnswerRequest — отправка ответа на вопрос с тайминг-метаданными
type AnswerRequest struct {
	QuestionID       uint   `json:"question_id"`
	SelectedAnswer   string `json:"selected_answer"`
	TimeTakenSeconds int    `json:"time_taken_seconds"`
}

// AnswerResponse — авторитетный вердикт сервера по отправленному ответу
type AnswerResponse struct {
	QuestionID    uint   `json:"question_id"`
	IsCorrect     bool   `json:"is_correct"`
	CorrectAnswer string `json:"correct_answer"`
	Explanation   string `json:"explanation,omitempty"`
	ScoreAwarded  int    `json:"score_awarded"`
}

// ListChallenges возвращает страницу списка челленджей пользователя.
// statuses ограничивает выборку статусной корзиной (пустой срез — все).
func (c *Client) ListChallenges(ctx context.Context, sess *Session, statuses []string, page int) (*entity.ChallengeList, error) {
	query := url.Values{}
	for _, s := range statuses {
		query.Add("status", s)
	}
	if page > 1 {
		query.Set("page", strconv.Itoa(page))
	}

	var list entity.ChallengeList
	if err := c.do(ctx, sess, http.MethodGet, "/challenges/challenges/", query, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// CreateChallenge отправляет приглашение на новый челлендж
func (c *Client) CreateChallenge(ctx context.Context, sess *Session, req CreateChallengeRequest) (*entity.Challenge, error) {
	var ch entity.Challenge
	if err := c.do(ctx, sess, http.MethodPost, "/challenges/challenges/", nil, req, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// GetChallenge возвращает полный снапшот челленджа
func (c *Client) GetChallenge(ctx context.Context, sess *Session, id uint) (*entity.Challenge, error) {
	var ch entity.Challenge
	path := fmt.Sprintf("/challenges/challenges/%d/", id)
	if err := c.do(ctx, sess, http.MethodGet, path, nil, nil, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// lifecycleCommand выполняет одну команду жизненного цикла челленджа.
// Одна команда — один REST-вызов, ответ сервера авторитетен; без ретраев.
func (c *Client) lifecycleCommand(ctx context.Context, sess *Session, id uint, command string) (*entity.Challenge, error) {
	var ch entity.Challenge
	path := fmt.Sprintf("/challenges/challenges/%d/%s/", id, command)
	if err := c.do(ctx, sess, http.MethodPost, path, nil, nil, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// AcceptChallenge принимает приглашение
func (c *Client) AcceptChallenge(ctx context.Context, sess *Session, id uint) (*entity.Challenge, error) {
	return c.lifecycleCommand(ctx, sess, id, "accept")
}

// DeclineChallenge отклоняет приглашение
func (c *Client) DeclineChallenge(ctx context.Context, sess *Session, id uint) (*entity.Challenge, error) {
	return c.lifecycleCommand(ctx, sess, id, "decline")
}

// CancelChallenge отменяет отправленное приглашение
func (c *Client) CancelChallenge(ctx context.Context, sess *Session, id uint) (*entity.Challenge, error) {
	return c.lifecycleCommand(ctx, sess, id, "cancel")
}

// MarkReady отмечает готовность участника
func (c *Client) MarkReady(ctx context.Context, sess *Session, id uint) (*entity.Challenge, error) {
	return c.lifecycleCommand(ctx, sess, id, "ready")
}

// Rematch создает новый челлендж-реванш на основе завершенного
func (c *Client) Rematch(ctx context.Context, sess *Session, id uint) (*entity.Challenge, error) {
	return c.lifecycleCommand(ctx, sess, id, "rematch")
}

// SubmitAnswer отправляет ответ участника на вопрос челленджа
func (c *Client) SubmitAnswer(ctx context.Context, sess *Session, id uint, req AnswerRequest) (*AnswerResponse, error) {
	var verdict AnswerResponse
	path := fmt.Sprintf("/challenges/challenges/%d/answer/", id)
	if err := c.do(ctx, sess, http.MethodPost, path, nil, req, &verdict); err != nil {
		return nil, err
	}
	return &verdict, nil
}

// ChallengeTypes возвращает каталог доступных типов челленджей
func (c *Client) ChallengeTypes(ctx context.Context, sess *Session) ([]entity.ChallengeType, error) {
	var types []entity.ChallengeType
	if err := c.do(ctx, sess, http.MethodGet, "/challenges/types/", nil, nil, &types); err != nil {
		return nil, err
	}
	return types, nil
}
