package entity

// AnswerStatus — локальный статус вопроса относительно участника
type AnswerStatus string

const (
	// AnswerStatusUnanswered — ответ еще не дан
	AnswerStatusUnanswered AnswerStatus = "unanswered"

	// AnswerStatusPending — оптимистичная отметка: ответ отправлен, вердикт сервера не получен
	AnswerStatusPending AnswerStatus = "pending"

	// AnswerStatusAnswered — сервер подтвердил прием ответа и вернул вердикт
	AnswerStatusAnswered AnswerStatus = "answered"
)

// UserAnswerDetails содержит авторитетный вердикт сервера по ответу участника.
// Правильность НИКОГДА не угадывается клиентом.
type UserAnswerDetails struct {
	SelectedChoice   string `json:"selected_choice"`
	IsCorrect        bool   `json:"is_correct"`
	TimeTakenSeconds int    `json:"time_taken_seconds"`
}

// Question представляет вопрос челленджа. Варианты ответа ключуются буквами
// (A, B, C, D). Правильный ответ и объяснение раскрываются сервером только
// после отправки ответа.
type Question struct {
	ID                uint               `json:"id"`
	Text              string             `json:"text"`
	Options           map[string]string  `json:"options"`
	CorrectAnswer     string             `json:"correct_answer,omitempty"`
	Explanation       string             `json:"explanation,omitempty"`
	UserAnswerDetails *UserAnswerDetails `json:"user_answer_details,omitempty"`
}

// IsValidChoice проверяет, является ли буква допустимым вариантом ответа
func (q *Question) IsValidChoice(choice string) bool {
	_, ok := q.Options[choice]
	return ok
}

// IsAnswered проверяет, есть ли у вопроса серверный вердикт
func (q *Question) IsAnswered() bool {
	return q.UserAnswerDetails != nil
}

// Clone возвращает глубокую копию вопроса
func (q *Question) Clone() *Question {
	cp := *q

	if q.Options != nil {
		cp.Options = make(map[string]string, len(q.Options))
		for k, v := range q.Options {
			cp.Options[k] = v
		}
	}
	if q.UserAnswerDetails != nil {
		d := *q.UserAnswerDetails
		cp.UserAnswerDetails = &d
	}

	return &cp
}
