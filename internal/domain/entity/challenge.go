package entity

import "time"

// Статусы челленджа. Переходы монотонны: возврат из ongoing в accepted невозможен.
const (
	StatusPendingInvite = "pending_invite"
	StatusAccepted      = "accepted"
	StatusOngoing       = "ongoing"
	StatusCompleted     = "completed"
	StatusDeclined      = "declined"
	StatusCancelled     = "cancelled"
	StatusExpired       = "expired"
)

// RoomPhase — производное состояние комнаты челленджа для отображения
type RoomPhase string

const (
	// PhaseLobby — ожидание соперника или готовности (pending_invite, accepted)
	PhaseLobby RoomPhase = "lobby"

	// PhaseInProgress — челлендж идет (ongoing)
	PhaseInProgress RoomPhase = "in_progress"

	// PhaseResults — челлендж завершен, доступны результаты (completed)
	PhaseResults RoomPhase = "results"

	// PhaseEnded — челлендж закрыт без результатов (declined, cancelled, expired)
	PhaseEnded RoomPhase = "ended"

	// PhaseUnknown — неизвестный статус от сервера. Явное состояние вместо паники.
	PhaseUnknown RoomPhase = "unknown"
)

// PhaseForStatus возвращает производную фазу комнаты для статуса челленджа.
// Переходы между фазами инициируются ТОЛЬКО сервером (полная замена снапшота
// или свежий REST-снапшот), клиентских переходов нет.
func PhaseForStatus(status string) RoomPhase {
	switch status {
	case StatusPendingInvite, StatusAccepted:
		return PhaseLobby
	case StatusOngoing:
		return PhaseInProgress
	case StatusCompleted:
		return PhaseResults
	case StatusDeclined, StatusCancelled, StatusExpired:
		return PhaseEnded
	default:
		return PhaseUnknown
	}
}

// UserInfo представляет участника челленджа
type UserInfo struct {
	ID             uint   `json:"id"`
	Username       string `json:"username"`
	ProfilePicture string `json:"profile_picture,omitempty"`
}

// ChallengeType описывает тип челленджа из каталога
type ChallengeType struct {
	Key              string `json:"key"`
	Name             string `json:"name"`
	Description      string `json:"description,omitempty"`
	NumQuestions     int    `json:"num_questions"`
	TimeLimitSeconds int    `json:"time_limit_seconds"`
}

// Attempt представляет прогресс одного участника внутри челленджа
type Attempt struct {
	User                UserInfo `json:"user"`
	IsReady             bool     `json:"is_ready"`
	Score               int      `json:"score"`
	AnsweredQuestionIDs []uint   `json:"answered_question_ids"`
}

// HasAnswered проверяет, отвечал ли участник на указанный вопрос.
// Участник отвечает на вопрос не более одного раза.
func (a *Attempt) HasAnswered(questionID uint) bool {
	for _, id := range a.AnsweredQuestionIDs {
		if id == questionID {
			return true
		}
	}
	return false
}

// Challenge представляет снапшот челленджа — полное серверное состояние
// на момент времени. У челленджа не более двух попыток.
type Challenge struct {
	ID            uint          `json:"id"`
	Challenger    UserInfo      `json:"challenger"`
	Opponent      *UserInfo     `json:"opponent,omitempty"` // отсутствует до принятия приглашения
	Status        string        `json:"status"`
	ChallengeType ChallengeType `json:"challenge_type"`
	Questions     []Question    `json:"questions"`
	Attempts      []Attempt     `json:"attempts"`
	WinnerID      *uint         `json:"winner_id,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
}

// Phase возвращает производную фазу комнаты для снапшота
func (c *Challenge) Phase() RoomPhase {
	return PhaseForStatus(c.Status)
}

// IsTerminal проверяет, находится ли челлендж в терминальном статусе.
// После терминального статуса остается только чтение.
func (c *Challenge) IsTerminal() bool {
	switch c.Status {
	case StatusCompleted, StatusDeclined, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// AttemptOf возвращает попытку участника по его ID
func (c *Challenge) AttemptOf(userID uint) (*Attempt, bool) {
	for i := range c.Attempts {
		if c.Attempts[i].User.ID == userID {
			return &c.Attempts[i], true
		}
	}
	return nil, false
}

// QuestionByID возвращает вопрос по его ID
func (c *Challenge) QuestionByID(questionID uint) (*Question, bool) {
	for i := range c.Questions {
		if c.Questions[i].ID == questionID {
			return &c.Questions[i], true
		}
	}
	return nil, false
}

// IsParticipant проверяет, участвует ли пользователь в челлендже
func (c *Challenge) IsParticipant(userID uint) bool {
	if c.Challenger.ID == userID {
		return true
	}
	return c.Opponent != nil && c.Opponent.ID == userID
}

// Clone возвращает глубокую копию снапшота. Читатели комнаты получают
// только копии, поэтому закоммиченное состояние нельзя испортить извне.
func (c *Challenge) Clone() *Challenge {
	if c == nil {
		return nil
	}
	cp := *c

	if c.Opponent != nil {
		opp := *c.Opponent
		cp.Opponent = &opp
	}
	if c.WinnerID != nil {
		w := *c.WinnerID
		cp.WinnerID = &w
	}
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		cp.CompletedAt = &t
	}

	if c.Questions != nil {
		cp.Questions = make([]Question, len(c.Questions))
		for i := range c.Questions {
			cp.Questions[i] = *c.Questions[i].Clone()
		}
	}

	if c.Attempts != nil {
		cp.Attempts = make([]Attempt, len(c.Attempts))
		for i := range c.Attempts {
			cp.Attempts[i] = c.Attempts[i]
			if c.Attempts[i].AnsweredQuestionIDs != nil {
				ids := make([]uint, len(c.Attempts[i].AnsweredQuestionIDs))
				copy(ids, c.Attempts[i].AnsweredQuestionIDs)
				cp.Attempts[i].AnsweredQuestionIDs = ids
			}
		}
	}

	return &cp
}
