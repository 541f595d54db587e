package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/qader-platform/challenge-gateway/internal/domain/entity"
	"github.com/qader-platform/challenge-gateway/internal/domain/repository"
	apperrors "github.com/qader-platform/challenge-gateway/internal/pkg/errors"
	"github.com/qader-platform/challenge-gateway/internal/qader"
)

// DirectoryService — read-side справочника челленджей: пагинированные
// списки по статусным корзинам и каталог типов. Страницы кешируются в
// Redis с коротким TTL и инвалидируются командами жизненного цикла.
type DirectoryService struct {
	client *qader.Client
	cache  repository.CacheRepository

	directoryTTL time.Duration
	typesTTL     time.Duration
}

// NewDirectoryService создает сервис справочника
func NewDirectoryService(client *qader.Client, cache repository.CacheRepository, directoryTTL, typesTTL time.Duration) *DirectoryService {
	return &DirectoryService{
		client:       client,
		cache:        cache,
		directoryTTL: directoryTTL,
		typesTTL:     typesTTL,
	}
}

func directoryPageKey(userID uint, filter string, page int) string {
	if filter == "" {
		filter = "all"
	}
	return fmt.Sprintf("directory:user:%d:%s:page:%d", userID, filter, page)
}

// List возвращает страницу списка челленджей пользователя.
// filter ∈ {invites, ongoing, history, ""} — статусная корзина.
func (s *DirectoryService) List(ctx context.Context, sess *qader.Session, filter string, page int) (*entity.ChallengeList, error) {
	if page < 1 {
		page = 1
	}

	key := directoryPageKey(sess.UserID, filter, page)
	var cached entity.ChallengeList
	if err := s.cache.GetJSON(key, &cached); err == nil {
		return &cached, nil
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		// Проблемы Redis не блокируют справочник — идем на upstream
		log.Printf("[Directory] Ошибка чтения кеша %s: %v", key, err)
	}

	list, err := s.client.ListChallenges(ctx, sess, entity.StatusesForFilter(filter), page)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetJSON(key, list, s.directoryTTL); err != nil {
		log.Printf("[Directory] Ошибка записи кеша %s: %v", key, err)
	}
	return list, nil
}

// Invalidate сбрасывает все кешированные страницы справочника пользователя.
// Вызывается после каждой команды жизненного цикла: зависимые списки
// должны быть перечитаны.
func (s *DirectoryService) Invalidate(userID uint) {
	pattern := fmt.Sprintf("directory:user:%d:*", userID)
	if err := s.cache.DeleteByPattern(pattern); err != nil {
		log.Printf("[Directory] Ошибка инвалидации кеша по шаблону %s: %v", pattern, err)
	}
}

// Types возвращает каталог типов челленджей (кеш общий для всех пользователей)
func (s *DirectoryService) Types(ctx context.Context, sess *qader.Session) ([]entity.ChallengeType, error) {
	const key = "challenge_types"

	var cached []entity.ChallengeType
	if err := s.cache.GetJSON(key, &cached); err == nil {
		return cached, nil
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		log.Printf("[Directory] Ошибка чтения кеша %s: %v", key, err)
	}

	types, err := s.client.ChallengeTypes(ctx, sess)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetJSON(key, types, s.typesTTL); err != nil {
		log.Printf("[Directory] Ошибка записи кеша %s: %v", key, err)
	}
	return types, nil
}

// History возвращает все завершенные челленджи пользователя (для экспорта).
// Страницы вычитываются последовательно; maxPages — защитный потолок.
func (s *DirectoryService) History(ctx context.Context, sess *qader.Session, maxPages int) ([]entity.Challenge, error) {
	if maxPages <= 0 {
		maxPages = 50
	}

	var all []entity.Challenge
	for page := 1; page <= maxPages; page++ {
		list, err := s.client.ListChallenges(ctx, sess, entity.StatusesForFilter(entity.FilterHistory), page)
		if err != nil {
			return nil, err
		}
		all = append(all, list.Results...)
		if list.Next == nil || len(list.Results) == 0 {
			break
		}
	}
	return all, nil
}
