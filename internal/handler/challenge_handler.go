package handler

import (
	"encoding/csv"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"

	"github.com/qader-platform/challenge-gateway/internal/domain/entity"
	"github.com/qader-platform/challenge-gateway/internal/handler/dto"
	"github.com/qader-platform/challenge-gateway/internal/middleware"
	apperrors "github.com/qader-platform/challenge-gateway/internal/pkg/errors"
	"github.com/qader-platform/challenge-gateway/internal/qader"
	"github.com/qader-platform/challenge-gateway/internal/service"
)

// ChallengeHandler обрабатывает запросы справочника и команды жизненного
// цикла челленджей
type ChallengeHandler struct {
	client    *qader.Client
	directory *service.DirectoryService
	lifecycle *service.LifecycleService
}

// NewChallengeHandler создает новый обработчик челленджей
func NewChallengeHandler(client *qader.Client, directory *service.DirectoryService, lifecycle *service.LifecycleService) *ChallengeHandler {
	return &ChallengeHandler{
		client:    client,
		directory: directory,
		lifecycle: lifecycle,
	}
}

func sessionFromContext(c *gin.Context) *qader.Session {
	return c.MustGet(middleware.SessionContextKey).(*qader.Session)
}

// ListChallenges возвращает страницу справочника челленджей пользователя.
// GET /api/challenges?filter=invites|ongoing|history&page=N
func (h *ChallengeHandler) ListChallenges(c *gin.Context) {
	sess := sessionFromContext(c)

	filter := c.Query("filter")
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}

	list, err := h.directory.List(c.Request.Context(), sess, filter, page)
	if err != nil {
		h.handleChallengeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewChallengeListResponse(list))
}

// GetChallengeTypes возвращает каталог типов челленджей
func (h *ChallengeHandler) GetChallengeTypes(c *gin.Context) {
	sess := sessionFromContext(c)

	types, err := h.directory.Types(c.Request.Context(), sess)
	if err != nil {
		h.handleChallengeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"types": types})
}

// GetChallenge возвращает полный снапшот челленджа (с вопросами).
// Проксируется на upstream без кеша: детали комнаты всегда свежие.
func (h *ChallengeHandler) GetChallenge(c *gin.Context) {
	sess := sessionFromContext(c)
	challengeID := c.MustGet("challengeID").(uint)

	ch, err := h.client.GetChallenge(c.Request.Context(), sess, challengeID)
	if err != nil {
		h.handleChallengeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewChallengeResponse(ch, true))
}

// SubmitAnswerRequest представляет запрос на отправку ответа
type SubmitAnswerRequest struct {
	QuestionID       uint   `json:"question_id" binding:"required"`
	SelectedAnswer   string `json:"selected_answer" binding:"required,oneof=A B C D"`
	TimeTakenSeconds int    `json:"time_taken_seconds" binding:"omitempty,min=0"`
}

// SubmitAnswer отправляет ответ участника через REST (без открытой комнаты).
// Вердикт сервера возвращается как есть; правильность определяет только сервер.
func (h *ChallengeHandler) SubmitAnswer(c *gin.Context) {
	sess := sessionFromContext(c)
	challengeID := c.MustGet("challengeID").(uint)

	var req SubmitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	verdict, err := h.client.SubmitAnswer(c.Request.Context(), sess, challengeID, qader.AnswerRequest{
		QuestionID:       req.QuestionID,
		SelectedAnswer:   req.SelectedAnswer,
		TimeTakenSeconds: req.TimeTakenSeconds,
	})
	if err != nil {
		h.handleChallengeError(c, err)
		return
	}

	c.JSON(http.StatusOK, verdict)
}

// CreateChallengeRequest представляет запрос на создание челленджа
type CreateChallengeRequest struct {
	OpponentUsername string `json:"opponent_username" binding:"required"`
	ChallengeType    string `json:"challenge_type" binding:"required"`
}

// CreateChallenge отправляет приглашение на новый челлендж
func (h *ChallengeHandler) CreateChallenge(c *gin.Context) {
	sess := sessionFromContext(c)

	var req CreateChallengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ch, err := h.lifecycle.Create(c.Request.Context(), sess, req.OpponentUsername, req.ChallengeType)
	if err != nil {
		h.handleChallengeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.NewChallengeResponse(ch, false))
}

// lifecycleHandler собирает обработчик одной команды жизненного цикла
func (h *ChallengeHandler) lifecycleHandler(command func(c *gin.Context, sess *qader.Session, id uint) (*entity.Challenge, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessionFromContext(c)
		challengeID := c.MustGet("challengeID").(uint)

		ch, err := command(c, sess, challengeID)
		if err != nil {
			h.handleChallengeError(c, err)
			return
		}

		c.JSON(http.StatusOK, dto.NewChallengeResponse(ch, false))
	}
}

// AcceptChallenge принимает приглашение
func (h *ChallengeHandler) AcceptChallenge() gin.HandlerFunc {
	return h.lifecycleHandler(func(c *gin.Context, sess *qader.Session, id uint) (*entity.Challenge, error) {
		return h.lifecycle.Accept(c.Request.Context(), sess, id)
	})
}

// DeclineChallenge отклоняет приглашение
func (h *ChallengeHandler) DeclineChallenge() gin.HandlerFunc {
	return h.lifecycleHandler(func(c *gin.Context, sess *qader.Session, id uint) (*entity.Challenge, error) {
		return h.lifecycle.Decline(c.Request.Context(), sess, id)
	})
}

// CancelChallenge отменяет отправленное приглашение
func (h *ChallengeHandler) CancelChallenge() gin.HandlerFunc {
	return h.lifecycleHandler(func(c *gin.Context, sess *qader.Session, id uint) (*entity.Challenge, error) {
		return h.lifecycle.Cancel(c.Request.Context(), sess, id)
	})
}

// MarkReady отмечает готовность участника в лобби
func (h *ChallengeHandler) MarkReady() gin.HandlerFunc {
	return h.lifecycleHandler(func(c *gin.Context, sess *qader.Session, id uint) (*entity.Challenge, error) {
		return h.lifecycle.Ready(c.Request.Context(), sess, id)
	})
}

// Rematch создает челлендж-реванш на основе завершенного
func (h *ChallengeHandler) Rematch(c *gin.Context) {
	sess := sessionFromContext(c)
	challengeID := c.MustGet("challengeID").(uint)

	ch, err := h.lifecycle.Rematch(c.Request.Context(), sess, challengeID)
	if err != nil {
		h.handleChallengeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.NewChallengeResponse(ch, false))
}

// ExportHistory экспортирует историю челленджей пользователя в CSV или Excel
// GET /api/challenges/export?format=csv|xlsx
func (h *ChallengeHandler) ExportHistory(c *gin.Context) {
	sess := sessionFromContext(c)
	format := c.DefaultQuery("format", "csv")

	history, err := h.directory.History(c.Request.Context(), sess, 0)
	if err != nil {
		h.handleChallengeError(c, err)
		return
	}

	filename := fmt.Sprintf("challenges_%d_history_%s", sess.UserID, time.Now().Format("2006-01-02"))

	switch format {
	case "xlsx":
		h.exportXLSX(c, sess.UserID, history, filename)
	default:
		h.exportCSV(c, sess.UserID, history, filename)
	}
}

// historyRow собирает одну строку экспорта для участника userID
func historyRow(userID uint, ch *entity.Challenge) (opponent, result string, myScore, oppScore int) {
	opponentInfo := ch.Opponent
	if ch.Challenger.ID != userID {
		opponentInfo = &ch.Challenger
	}
	if opponentInfo != nil {
		opponent = opponentInfo.Username
	}

	if my, ok := ch.AttemptOf(userID); ok {
		myScore = my.Score
	}
	if opponentInfo != nil {
		if theirs, ok := ch.AttemptOf(opponentInfo.ID); ok {
			oppScore = theirs.Score
		}
	}

	switch {
	case ch.Status != entity.StatusCompleted:
		result = translateStatus(ch.Status)
	case ch.WinnerID == nil:
		result = "Ничья"
	case *ch.WinnerID == userID:
		result = "Победа"
	default:
		result = "Поражение"
	}
	return opponent, result, myScore, oppScore
}

// exportCSV экспортирует историю в CSV с правильным экранированием спецсимволов
func (h *ChallengeHandler) exportCSV(c *gin.Context, userID uint, history []entity.Challenge, filename string) {
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s.csv\"", filename))

	// BOM для корректного отображения UTF-8 в Excel
	c.Writer.Write([]byte{0xEF, 0xBB, 0xBF})

	writer := csv.NewWriter(c.Writer)
	defer writer.Flush()

	writer.Write([]string{"ID", "Соперник", "Тип", "Результат", "Мои очки", "Очки соперника", "Дата"})

	for i := range history {
		ch := &history[i]
		opponent, result, myScore, oppScore := historyRow(userID, ch)

		writer.Write([]string{
			strconv.FormatUint(uint64(ch.ID), 10),
			sanitizeForExcel(opponent),
			sanitizeForExcel(ch.ChallengeType.Name),
			result,
			strconv.Itoa(myScore),
			strconv.Itoa(oppScore),
			ch.CreatedAt.Format("2006-01-02 15:04"),
		})
	}
}

// exportXLSX экспортирует историю в Excel с использованием StreamWriter
func (h *ChallengeHandler) exportXLSX(c *gin.Context, userID uint, history []entity.Challenge, filename string) {
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s.xlsx\"", filename))

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "История"
	f.SetSheetName("Sheet1", sheetName)

	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		log.Printf("[ChallengeHandler] Ошибка создания StreamWriter: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create Excel file"})
		return
	}

	headers := []interface{}{"ID", "Соперник", "Тип", "Результат", "Мои очки", "Очки соперника", "Дата"}
	if err := sw.SetRow("A1", headers); err != nil {
		log.Printf("[ChallengeHandler] Ошибка записи заголовков: %v", err)
	}

	for i := range history {
		ch := &history[i]
		opponent, result, myScore, oppScore := historyRow(userID, ch)

		rowNum := i + 2
		cell := fmt.Sprintf("A%d", rowNum)
		row := []interface{}{ch.ID, sanitizeForExcel(opponent), sanitizeForExcel(ch.ChallengeType.Name), result, myScore, oppScore, ch.CreatedAt.Format("2006-01-02 15:04")}
		if err := sw.SetRow(cell, row); err != nil {
			log.Printf("[ChallengeHandler] Ошибка записи строки %d: %v", rowNum, err)
		}
	}

	if err := sw.Flush(); err != nil {
		log.Printf("[ChallengeHandler] Ошибка при Flush: %v", err)
	}

	if err := f.Write(c.Writer); err != nil {
		log.Printf("[ChallengeHandler] Ошибка записи Excel в response: %v", err)
	}
}

// sanitizeForExcel экранирует данные для защиты от formula injection в Excel/CSV
func sanitizeForExcel(s string) string {
	if len(s) == 0 {
		return s
	}
	// Символы, начинающие формулу в Excel/LibreOffice: = + - @ \t \r
	if s[0] == '=' || s[0] == '+' || s[0] == '-' || s[0] == '@' || s[0] == '\t' || s[0] == '\r' {
		return "'" + s
	}
	return s
}

// translateStatus переводит статус челленджа на русский для экспорта
func translateStatus(status string) string {
	switch status {
	case entity.StatusDeclined:
		return "Отклонен"
	case entity.StatusCancelled:
		return "Отменен"
	case entity.StatusExpired:
		return "Истек"
	default:
		return status
	}
}

// handleChallengeError обрабатывает ошибки от сервисов челленджей и отправляет соответствующий HTTP ответ
func (h *ChallengeHandler) handleChallengeError(c *gin.Context, err error) {
	if errors.Is(err, apperrors.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	} else if errors.Is(err, apperrors.ErrConflict) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	} else if errors.Is(err, apperrors.ErrValidation) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	} else if errors.Is(err, apperrors.ErrSessionTerminated) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Session terminated", "error_type": "session_terminated"})
	} else if errors.Is(err, apperrors.ErrUnauthorized) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	} else if errors.Is(err, apperrors.ErrForbidden) {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	} else {
		log.Printf("ERROR: Internal server error in ChallengeHandler: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
