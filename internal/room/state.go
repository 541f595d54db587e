package room

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/qader-platform/challenge-gateway/internal/domain/entity"
	"github.com/qader-platform/challenge-gateway/internal/realtime"
)

// View — опубликованное состояние комнаты для читателей. Читатели видят
// только полностью сфолженные снапшоты, промежуточных состояний не бывает.
type View struct {
	ChallengeID uint                `json:"challenge_id"`
	Phase       entity.RoomPhase    `json:"phase"`
	Version     uint64              `json:"version"`
	Snapshot    *entity.Challenge   `json:"snapshot,omitempty"`
	Channel     realtime.State      `json:"channel"`
	LoadError   string              `json:"load_error,omitempty"`
}

// Signal — транзиентный сигнал, не мутирующий снапшот (вердикт по ответу,
// ошибка канала). Вердикты фильтруются по участнику, отправившему ответ.
type Signal struct {
	Type         string                      `json:"type"`
	UserID       uint                        `json:"user_id,omitempty"`
	AnswerResult *entity.AnswerResultPayload `json:"answer_result,omitempty"`
	ErrorDetail  string                      `json:"error_detail,omitempty"`
}

// state — каноническое состояние комнаты. Владеет им ровно одна горутина
// (Room.Run); все мутации проходят через fold, поэтому писатель один.
type state struct {
	challengeID uint

	snapshot *entity.Challenge

	// seq — монотонный счетчик версий в порядке применения.
	// lastApplied — версия последней примененной мутации снапшота.
	// Фолд с версией меньше lastApplied отбрасывается: устаревшая полная
	// замена (например, медленный REST-снапшот) не регрессирует состояние.
	seq         uint64
	lastApplied uint64

	channel   realtime.State
	loadError string
}

func newState(challengeID uint) *state {
	return &state{
		challengeID: challengeID,
		channel:     realtime.StateConnecting,
	}
}

// nextSeq выдает следующую версию в порядке прибытия
func (s *state) nextSeq() uint64 {
	s.seq++
	return s.seq
}

// view публикует копию текущего состояния
func (s *state) view() View {
	return View{
		ChallengeID: s.challengeID,
		Phase:       s.phase(),
		Version:     s.lastApplied,
		Snapshot:    s.snapshot.Clone(),
		Channel:     s.channel,
		LoadError:   s.loadError,
	}
}

// phase возвращает производную фазу. Без снапшота фаза неизвестна.
func (s *state) phase() entity.RoomPhase {
	if s.snapshot == nil {
		return entity.PhaseUnknown
	}
	return s.snapshot.Phase()
}

// applySnapshot фолдит полный снапшот (REST или полная замена из канала).
// version — место снапшота в порядке прибытия. Возвращает true, если
// состояние изменилось.
func (s *state) applySnapshot(snapshot *entity.Challenge, version uint64) bool {
	if version < s.lastApplied {
		log.Printf("[Room %d] Отброшена устаревшая полная замена: версия %d < %d", s.challengeID, version, s.lastApplied)
		return false
	}
	s.snapshot = snapshot
	s.lastApplied = version
	return true
}

// fold применяет одно событие канала к состоянию. Запускается до завершения
// на каждое событие без вытеснения, поэтому фолд атомарен относительно
// других фолдов. Возвращает признак изменения снапшота и транзиентный
// сигнал (если событие информационное).
func (s *state) fold(event entity.RealtimeEvent) (changed bool, signal *Signal, err error) {
	if event.Version == 0 {
		event.Version = s.nextSeq()
	}

	switch event.Type {
	case entity.EventChallengeUpdate, entity.EventChallengeStart, entity.EventChallengeEnd:
		// Полная замена: снапшот перезаписывается целиком и безусловно
		// (с точностью до защиты от устаревших версий)
		var snapshot entity.Challenge
		if jsonErr := json.Unmarshal(event.Payload, &snapshot); jsonErr != nil {
			return false, nil, fmt.Errorf("failed to decode %s payload: %w", event.Type, jsonErr)
		}
		return s.applySnapshot(&snapshot, event.Version), nil, nil

	case entity.EventParticipantUpdate:
		// Частичное обновление: заменяется только попытка указанного
		// участника, все остальные поля снапшота не трогаются
		var payload entity.ParticipantUpdatePayload
		if jsonErr := json.Unmarshal(event.Payload, &payload); jsonErr != nil {
			return false, nil, fmt.Errorf("failed to decode participant.update payload: %w", jsonErr)
		}
		if event.Version < s.lastApplied {
			log.Printf("[Room %d] Отброшено устаревшее participant.update: версия %d < %d", s.challengeID, event.Version, s.lastApplied)
			return false, nil, nil
		}
		if s.snapshot == nil {
			// Частичное обновление без снапшота применять не к чему
			log.Printf("[Room %d] participant.update до получения снапшота проигнорировано", s.challengeID)
			return false, nil, nil
		}
		replaced := false
		for i := range s.snapshot.Attempts {
			if s.snapshot.Attempts[i].User.ID == payload.Attempt.User.ID {
				s.snapshot.Attempts[i] = payload.Attempt
				replaced = true
				break
			}
		}
		if !replaced {
			// Попытка нового участника (например, соперник принял приглашение)
			if len(s.snapshot.Attempts) >= 2 {
				log.Printf("[Room %d] participant.update для неизвестного участника #%d при двух попытках — проигнорировано", s.challengeID, payload.Attempt.User.ID)
				return false, nil, nil
			}
			s.snapshot.Attempts = append(s.snapshot.Attempts, payload.Attempt)
		}
		s.lastApplied = event.Version
		return true, nil, nil

	case entity.EventAnswerResult:
		// Информационный сигнал: снапшот НЕ мутирует, доставляется
		// только участнику, отправившему ответ
		var payload entity.AnswerResultPayload
		if jsonErr := json.Unmarshal(event.Payload, &payload); jsonErr != nil {
			return false, nil, fmt.Errorf("failed to decode answer.result payload: %w", jsonErr)
		}
		return false, &Signal{
			Type:         entity.EventAnswerResult,
			UserID:       payload.UserID,
			AnswerResult: &payload,
		}, nil

	case entity.EventError:
		// Ошибка канала поднимается наверх без мутации состояния
		var payload entity.ErrorPayload
		if jsonErr := json.Unmarshal(event.Payload, &payload); jsonErr != nil {
			return false, nil, fmt.Errorf("failed to decode error payload: %w", jsonErr)
		}
		return false, &Signal{
			Type:        entity.EventError,
			ErrorDetail: payload.Detail,
		}, nil

	default:
		log.Printf("[Room %d] Событие неизвестного типа '%s' проигнорировано", s.challengeID, event.Type)
		return false, nil, nil
	}
}

// applyVerdict фолдит авторитетный REST-вердикт по ответу участника в
// кеш вопроса. Выбор и правильность берутся ТОЛЬКО из ответа сервера.
func (s *state) applyVerdict(userID uint, questionID uint, details entity.UserAnswerDetails, correctAnswer, explanation string) bool {
	if s.snapshot == nil {
		return false
	}

	question, ok := s.snapshot.QuestionByID(questionID)
	if !ok {
		log.Printf("[Room %d] Вердикт по неизвестному вопросу #%d проигнорирован", s.challengeID, questionID)
		return false
	}

	question.UserAnswerDetails = &details
	if correctAnswer != "" {
		question.CorrectAnswer = correctAnswer
	}
	if explanation != "" {
		question.Explanation = explanation
	}

	// Отмечаем вопрос отвеченным в попытке участника
	if attempt, ok := s.snapshot.AttemptOf(userID); ok && !attempt.HasAnswered(questionID) {
		attempt.AnsweredQuestionIDs = append(attempt.AnsweredQuestionIDs, questionID)
	}

	s.lastApplied = s.nextSeq()
	return true
}
