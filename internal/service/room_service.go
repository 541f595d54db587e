package service

import (
	"context"
	"fmt"

	"github.com/qader-platform/challenge-gateway/internal/domain/entity"
	"github.com/qader-platform/challenge-gateway/internal/qader"
	"github.com/qader-platform/challenge-gateway/internal/realtime"
	"github.com/qader-platform/challenge-gateway/internal/room"
)

// RoomService открывает синхронизированные комнаты челленджей: на пару
// (сессия, челлендж) — одна комната с одним писателем, один upstream
// realtime-канал и REST-снапшот. Комната живет, пока ее держит хотя бы
// один подписчик.
type RoomService struct {
	client    *qader.Client
	registry  *room.Registry
	wsBaseURL string
	rtCfg     realtime.Config
}

// NewRoomService создает сервис комнат
func NewRoomService(client *qader.Client, registry *room.Registry, wsBaseURL string, rtCfg realtime.Config) *RoomService {
	return &RoomService{
		client:    client,
		registry:  registry,
		wsBaseURL: wsBaseURL,
		rtCfg:     rtCfg,
	}
}

// Acquire возвращает комнату челленджа для сессии, создавая ее при первом
// обращении. release обязателен: после ухода последнего держателя комната
// и ее realtime-канал останавливаются.
func (s *RoomService) Acquire(sess *qader.Session, challengeID uint) (*room.Room, func()) {
	// Снапшот и канал аутентифицируются сессией, поэтому комната per-сессия
	key := fmt.Sprintf("%s:%d", sess.ID, challengeID)

	return s.registry.Acquire(key, func(ctx context.Context) *room.Room {
		channel := realtime.NewChannel(s.wsBaseURL, challengeID, sess.AccessToken, s.rtCfg)

		fetch := func(fetchCtx context.Context) (*entity.Challenge, error) {
			return s.client.GetChallenge(fetchCtx, sess, challengeID)
		}

		rm := room.New(challengeID, fetch, channel.Events(), channel.States())
		go channel.Run(ctx)
		go rm.Run(ctx)
		return rm
	})
}

// Submitter создает отправитель ответов участника для открытой комнаты
func (s *RoomService) Submitter(sess *qader.Session, challengeID uint, rm *room.Room) *AnswerSubmitter {
	return NewAnswerSubmitter(s.client, sess, challengeID, rm)
}
