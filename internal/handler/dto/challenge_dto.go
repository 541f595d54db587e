package dto

import (
	"github.com/qader-platform/challenge-gateway/internal/domain/entity"
)

// UserResponse представляет участника в ответе API
type UserResponse struct {
	ID             uint   `json:"id"`
	Username       string `json:"username"`
	ProfilePicture string `json:"profile_picture,omitempty"`
}

// NewUserResponse создает DTO участника
func NewUserResponse(u *entity.UserInfo) *UserResponse {
	if u == nil {
		return nil
	}
	return &UserResponse{
		ID:             u.ID,
		Username:       u.Username,
		ProfilePicture: u.ProfilePicture,
	}
}

// AttemptResponse представляет прогресс участника в ответе API
type AttemptResponse struct {
	User                UserResponse `json:"user"`
	IsReady             bool         `json:"is_ready"`
	Score               int          `json:"score"`
	AnsweredQuestionIDs []uint       `json:"answered_question_ids"`
}

// QuestionResponse представляет вопрос в ответе API.
// Правильный ответ и объяснение отдаются только после вердикта сервера.
type QuestionResponse struct {
	ID                uint                      `json:"id"`
	Text              string                    `json:"question_text"`
	Options           map[string]string         `json:"options"`
	UserAnswerDetails *entity.UserAnswerDetails `json:"user_answer_details,omitempty"`
	CorrectAnswer     string                    `json:"correct_answer,omitempty"`
	Explanation       string                    `json:"explanation,omitempty"`
}

// ChallengeResponse представляет челлендж в ответе API
type ChallengeResponse struct {
	ID            uint                 `json:"id"`
	Challenger    UserResponse         `json:"challenger"`
	Opponent      *UserResponse        `json:"opponent,omitempty"`
	Status        string               `json:"status"`
	Phase         entity.RoomPhase     `json:"phase"`
	ChallengeType entity.ChallengeType `json:"challenge_type"`
	Questions     []QuestionResponse   `json:"questions,omitempty"`
	Attempts      []AttemptResponse    `json:"attempts"`
	WinnerID      *uint                `json:"winner_id,omitempty"`
	CreatedAt     string               `json:"created_at"`
	CompletedAt   string               `json:"completed_at,omitempty"`
}

// NewChallengeResponse создает DTO челленджа.
// includeQuestions управляет включением вопросов: списки справочника
// отдаются без них, детали комнаты — с ними.
func NewChallengeResponse(ch *entity.Challenge, includeQuestions bool) *ChallengeResponse {
	if ch == nil {
		return nil
	}

	resp := &ChallengeResponse{
		ID:            ch.ID,
		Challenger:    *NewUserResponse(&ch.Challenger),
		Opponent:      NewUserResponse(ch.Opponent),
		Status:        ch.Status,
		Phase:         ch.Phase(),
		ChallengeType: ch.ChallengeType,
		WinnerID:      ch.WinnerID,
		CreatedAt:     ch.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if ch.CompletedAt != nil {
		resp.CompletedAt = ch.CompletedAt.Format("2006-01-02T15:04:05Z07:00")
	}

	resp.Attempts = make([]AttemptResponse, len(ch.Attempts))
	for i, a := range ch.Attempts {
		resp.Attempts[i] = AttemptResponse{
			User:                *NewUserResponse(&a.User),
			IsReady:             a.IsReady,
			Score:               a.Score,
			AnsweredQuestionIDs: a.AnsweredQuestionIDs,
		}
	}

	if includeQuestions {
		resp.Questions = make([]QuestionResponse, len(ch.Questions))
		for i, q := range ch.Questions {
			resp.Questions[i] = QuestionResponse{
				ID:                q.ID,
				Text:              q.Text,
				Options:           q.Options,
				UserAnswerDetails: q.UserAnswerDetails,
				CorrectAnswer:     q.CorrectAnswer,
				Explanation:       q.Explanation,
			}
		}
	}

	return resp
}

// ChallengeListResponse представляет пагинированный список челленджей
type ChallengeListResponse struct {
	Count    int64               `json:"count"`
	Next     *string             `json:"next,omitempty"`
	Previous *string             `json:"previous,omitempty"`
	Results  []ChallengeResponse `json:"results"`
}

// NewChallengeListResponse создает DTO страницы справочника
func NewChallengeListResponse(list *entity.ChallengeList) *ChallengeListResponse {
	resp := &ChallengeListResponse{
		Count:    list.Count,
		Next:     list.Next,
		Previous: list.Previous,
		Results:  make([]ChallengeResponse, len(list.Results)),
	}
	for i := range list.Results {
		resp.Results[i] = *NewChallengeResponse(&list.Results[i], false)
	}
	return resp
}
