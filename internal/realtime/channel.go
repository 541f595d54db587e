package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qader-platform/challenge-gateway/internal/domain/entity"
	apperrors "github.com/qader-platform/challenge-gateway/internal/pkg/errors"
)

// State — состояние realtime-канала. Отображается отдельно от данных:
// потеря канала НЕ инвалидирует последний хороший снапшот.
type State string

const (
	// StateConnecting — идет подключение или переподключение
	StateConnecting State = "connecting"

	// StateOpen — канал открыт, события доставляются
	StateOpen State = "open"

	// StateClosed — канал закрыт (разрыв или завершение)
	StateClosed State = "closed"
)

// Config содержит настройки канала
type Config struct {
	// HandshakeTimeout — тайм-аут рукопожатия WebSocket
	HandshakeTimeout time.Duration

	// ReconnectMin — начальная задержка переподключения
	ReconnectMin time.Duration

	// ReconnectMax — потолок экспоненциального backoff-а
	ReconnectMax time.Duration
}

// DefaultConfig возвращает конфигурацию канала по умолчанию
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		ReconnectMin:     500 * time.Millisecond,
		ReconnectMax:     30 * time.Second,
	}
}

// TokenFunc возвращает действующий access-токен для рукопожатия
type TokenFunc func(ctx context.Context) (string, error)

// Channel — переподключающийся realtime-канал одного челленджа.
// URL: {wsBase}/ws/challenges/{id}/. События и переходы состояния
// доставляются в каналы Events и States в порядке прибытия.
type Channel struct {
	challengeID uint
	url         string
	token       TokenFunc
	dialer      *websocket.Dialer
	cfg         Config

	events chan entity.RealtimeEvent
	states chan State
}

// NewChannel создает канал для челленджа. Run должен быть вызван отдельно.
func NewChannel(wsBaseURL string, challengeID uint, token TokenFunc, cfg Config) *Channel {
	return &Channel{
		challengeID: challengeID,
		url:         fmt.Sprintf("%s/ws/challenges/%d/", strings.TrimRight(wsBaseURL, "/"), challengeID),
		token:       token,
		cfg:         cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		events: make(chan entity.RealtimeEvent, 64),
		states: make(chan State, 16),
	}
}

// Events возвращает канал типизированных событий
func (ch *Channel) Events() <-chan entity.RealtimeEvent {
	return ch.events
}

// States возвращает канал переходов состояния подключения
func (ch *Channel) States() <-chan State {
	return ch.states
}

// Run держит канал открытым до отмены контекста: подключается, читает
// события, при разрыве переподключается с экспоненциальным backoff-ом.
// По завершении закрывает каналы Events и States.
func (ch *Channel) Run(ctx context.Context) {
	defer func() {
		ch.pushState(StateClosed)
		close(ch.events)
		close(ch.states)
		log.Printf("[Realtime %d] Канал остановлен", ch.challengeID)
	}()

	backoff := ch.cfg.ReconnectMin

	for {
		if ctx.Err() != nil {
			return
		}

		ch.pushState(StateConnecting)

		conn, err := ch.dial(ctx)
		if err != nil {
			if errors.Is(err, apperrors.ErrSessionTerminated) || ctx.Err() != nil {
				// Сессия завершена — переподключаться бессмысленно
				return
			}
			log.Printf("[Realtime %d] Ошибка подключения: %v (повтор через %v)", ch.challengeID, err, backoff)
			ch.pushState(StateClosed)

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > ch.cfg.ReconnectMax {
				backoff = ch.cfg.ReconnectMax
			}
			continue
		}

		log.Printf("[Realtime %d] Канал открыт", ch.challengeID)
		ch.pushState(StateOpen)
		backoff = ch.cfg.ReconnectMin // Успешное подключение сбрасывает backoff

		ch.readLoop(ctx, conn)
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		log.Printf("[Realtime %d] Канал разорван, переподключение", ch.challengeID)
		ch.pushState(StateClosed)
	}
}

// dial выполняет одно рукопожатие с bearer-токеном сессии
func (ch *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	token, err := ch.token(ctx)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := ch.dialer.DialContext(ctx, ch.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	return conn, nil
}

// readLoop читает события до разрыва соединения или отмены контекста
func (ch *Channel) readLoop(ctx context.Context, conn *websocket.Conn) {
	// Закрываем соединение при отмене контекста, чтобы разблокировать ReadMessage
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				log.Printf("[Realtime %d] Ошибка чтения: %v", ch.challengeID, err)
			}
			return
		}

		var event entity.RealtimeEvent
		if err := json.Unmarshal(message, &event); err != nil {
			log.Printf("[Realtime %d] Не удалось разобрать событие: %v, сообщение: %s", ch.challengeID, err, string(message))
			continue // Нечитаемое событие пропускаем, канал не рвем
		}
		if event.Type == "" {
			log.Printf("[Realtime %d] Событие без типа проигнорировано", ch.challengeID)
			continue
		}

		select {
		case ch.events <- event:
		case <-ctx.Done():
			return
		}
	}
}

// pushState доставляет переход состояния, не блокируясь на медленном читателе:
// при переполнении буфера самый старый переход вытесняется
func (ch *Channel) pushState(s State) {
	select {
	case ch.states <- s:
	default:
		select {
		case <-ch.states:
		default:
		}
		select {
		case ch.states <- s:
		default:
		}
	}
}
