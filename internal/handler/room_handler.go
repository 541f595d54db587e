package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"

	apperrors "github.com/qader-platform/challenge-gateway/internal/pkg/errors"
	"github.com/qader-platform/challenge-gateway/internal/room"
	"github.com/qader-platform/challenge-gateway/internal/service"
	"github.com/qader-platform/challenge-gateway/internal/websocket"
)

// RoomHandler обрабатывает WebSocket-соединения комнат челленджей:
// поднимает соединение, подписывает клиента на комнату и гоняет обновления
// комнаты вниз, а команды клиента (просмотр вопроса, отправка ответа) вверх
type RoomHandler struct {
	rooms *service.RoomService
	wsCfg websocket.ClientConfig
}

// NewRoomHandler создает новый обработчик комнат
func NewRoomHandler(rooms *service.RoomService, wsCfg websocket.ClientConfig) *RoomHandler {
	return &RoomHandler{
		rooms: rooms,
		wsCfg: wsCfg,
	}
}

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		// Пустой Origin - не браузерный клиент (мобильное приложение, curl и т.д.)
		if origin == "" {
			return true
		}

		// Список разрешенных origin (синхронизирован с CORS в main.go)
		allowedOrigins := []string{
			"https://qader.vip",
			"https://www.qader.vip",
			"http://localhost:5173",
			"http://localhost:3000",
		}

		for _, allowed := range allowedOrigins {
			if origin == allowed {
				return true
			}
		}

		log.Printf("WebSocket: rejected unauthorized origin: %s", origin)
		return false
	},
	EnableCompression: true,
}

// HandleConnection обрабатывает входящее WebSocket-соединение комнаты.
// GET /api/challenges/:id/room?session=...
func (h *RoomHandler) HandleConnection(c *gin.Context) {
	sess := sessionFromContext(c)
	challengeID := c.MustGet("challengeID").(uint)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Error upgrading connection: %v", err)
		return
	}

	log.Printf("WebSocket: Connection upgraded for UserID: %d, ChallengeID: %d", sess.UserID, challengeID)

	rm, release := h.rooms.Acquire(sess, challengeID)
	submitter := h.rooms.Submitter(sess, challengeID, rm)

	client := websocket.NewClient(conn, sess.UserID, h.wsCfg)
	sub := rm.Subscribe(sess.UserID, h.wsCfg.BufferSize)

	go client.WritePump()
	go h.pumpRoomUpdates(client, sub)

	// ReadPump блокирует до разрыва соединения
	client.ReadPump(func(message []byte, cl *websocket.Client) error {
		return h.handleClientMessage(c.Request.Context(), message, cl, submitter)
	})

	sub.Close()
	client.CloseSend()
	release()
	log.Printf("WebSocket: Connection closed for UserID: %d, ChallengeID: %d", sess.UserID, challengeID)
}

// pumpRoomUpdates гонит обновления комнаты в канал отправки клиента.
// Завершается при закрытии подписки или остановке комнаты.
func (h *RoomHandler) pumpRoomUpdates(client *websocket.Client, sub *room.Subscription) {
	for update := range sub.Updates() {
		var (
			message []byte
			err     error
		)

		switch {
		case update.View != nil:
			message, err = websocket.NewEvent(websocket.ROOM_STATE, update.View)
		case update.Signal != nil && update.Signal.AnswerResult != nil:
			message, err = websocket.NewEvent(websocket.ANSWER_RESULT, update.Signal.AnswerResult)
		case update.Signal != nil:
			message, err = websocket.NewEvent(websocket.ROOM_ERROR, gin.H{"detail": update.Signal.ErrorDetail})
		default:
			continue
		}

		if err != nil {
			log.Printf("[RoomHandler] Ошибка сборки сообщения для UserID %d: %v", client.UserID, err)
			continue
		}
		client.Send(message)
	}
}

// handleClientMessage обрабатывает одно входящее сообщение клиента комнаты
func (h *RoomHandler) handleClientMessage(ctx context.Context, message []byte, client *websocket.Client, submitter *service.AnswerSubmitter) error {
	var event websocket.Event
	if err := json.Unmarshal(message, &event); err != nil {
		h.sendError(client, fmt.Sprintf("invalid message format: %v", err))
		return nil
	}

	switch event.Type {
	case websocket.QUESTION_VIEW:
		var payload struct {
			QuestionID uint `json:"question_id"`
		}
		if err := json.Unmarshal(event.Data, &payload); err != nil || payload.QuestionID == 0 {
			h.sendError(client, "invalid QUESTION_VIEW payload")
			return nil
		}
		submitter.StartQuestion(payload.QuestionID)
		return nil

	case websocket.ANSWER_SUBMIT:
		var payload struct {
			QuestionID     uint   `json:"question_id"`
			SelectedAnswer string `json:"selected_answer"`
		}
		if err := json.Unmarshal(event.Data, &payload); err != nil || payload.QuestionID == 0 || payload.SelectedAnswer == "" {
			h.sendError(client, "invalid ANSWER_SUBMIT payload")
			return nil
		}

		// Отправка идет в фоне: чтение следующих сообщений не блокируется.
		// Вердикт придет подписчику через комнату (ApplyVerdict -> ROOM_STATE).
		go func() {
			if _, err := submitter.Submit(ctx, payload.QuestionID, payload.SelectedAnswer); err != nil {
				if errors.Is(err, apperrors.ErrSessionTerminated) {
					// Фатально для соединения: клиент должен перелогиниться
					h.sendError(client, "session terminated")
					client.CloseSend()
					return
				}
				log.Printf("[RoomHandler] Отправка ответа провалилась (UserID: %d, QuestionID: %d): %v", client.UserID, payload.QuestionID, err)
				h.sendError(client, err.Error())
			}
		}()
		return nil

	default:
		h.sendError(client, fmt.Sprintf("unknown message type: %s", event.Type))
		return nil
	}
}

// sendError отправляет клиенту сообщение об ошибке
func (h *RoomHandler) sendError(client *websocket.Client, detail string) {
	message, err := websocket.NewEvent(websocket.ROOM_ERROR, gin.H{"detail": detail})
	if err != nil {
		return
	}
	client.Send(message)
}
