package entity

import "encoding/json"

// Типы событий realtime-канала челленджа.
// Конверт сообщения: {"type": "...", "payload": {...}}
const (
	// EventChallengeUpdate — полная замена снапшота челленджа
	EventChallengeUpdate = "challenge.update"

	// EventChallengeStart — челлендж стартовал; полная замена снапшота
	EventChallengeStart = "challenge.start"

	// EventChallengeEnd — челлендж завершен; полная замена снапшота
	EventChallengeEnd = "challenge.end"

	// EventParticipantUpdate — частичное обновление: заменяется только попытка участника
	EventParticipantUpdate = "participant.update"

	// EventAnswerResult — вердикт по одному ответу; снапшот НЕ мутирует
	EventAnswerResult = "answer.result"

	// EventError — ошибка канала; снапшот НЕ мутирует
	EventError = "error"
)

// RealtimeEvent — конверт события realtime-канала.
// Version проставляется синхронизатором в порядке прибытия: устаревшая
// полная замена, пришедшая после более нового частичного обновления,
// отбрасывается при фолде вместо тихой регрессии состояния.
type RealtimeEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Version uint64          `json:"-"`
}

// IsFullReplace проверяет, заменяет ли событие снапшот целиком
func (e *RealtimeEvent) IsFullReplace() bool {
	switch e.Type {
	case EventChallengeUpdate, EventChallengeStart, EventChallengeEnd:
		return true
	}
	return false
}

// ParticipantUpdatePayload — полезная нагрузка события participant.update
type ParticipantUpdatePayload struct {
	ChallengeID uint    `json:"challenge_id"`
	Attempt     Attempt `json:"attempt"`
}

// AnswerResultPayload — полезная нагрузка события answer.result.
// Информационный сигнал для участника, отправившего ответ; фильтруется
// по UserID и не попадает в снапшот.
type AnswerResultPayload struct {
	UserID        uint   `json:"user_id"`
	QuestionID    uint   `json:"question_id"`
	IsCorrect     bool   `json:"is_correct"`
	CorrectAnswer string `json:"correct_answer"`
	Explanation   string `json:"explanation,omitempty"`
	ScoreAwarded  int    `json:"score_awarded"`
}

// ErrorPayload — полезная нагрузка события error
type ErrorPayload struct {
	Detail string `json:"detail"`
}
