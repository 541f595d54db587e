package room

import (
	"context"
	"log"
	"sync"
)

// Registry — keyed-хранилище комнат с единственным писателем на ключ.
// Комната создается при первом обращении и останавливается, когда ее
// отпустил последний держатель.
type Registry struct {
	base context.Context

	mu      sync.Mutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	room   *Room
	cancel context.CancelFunc
	refs   int
}

// NewRegistry создает пустой реестр комнат. base ограничивает жизнь всех
// комнат: его отмена останавливает каждую открытую комнату.
func NewRegistry(base context.Context) *Registry {
	if base == nil {
		base = context.Background()
	}
	return &Registry{
		base:    base,
		entries: make(map[string]*registryEntry),
	}
}

// Acquire возвращает комнату по ключу, создавая и запуская ее через open
// при первом обращении. open получает контекст жизни комнаты и обязан
// запустить Room.Run (и транспорт) сам. Возвращенный release обязателен:
// когда комнату отпустил последний держатель, она останавливается.
func (reg *Registry) Acquire(key string, open func(ctx context.Context) *Room) (*Room, func()) {
	reg.mu.Lock()

	ent, ok := reg.entries[key]
	if ok {
		select {
		case <-ent.room.Done():
			// Комната умерла сама (например, контекст приложения) — пересоздаем
			delete(reg.entries, key)
			ok = false
		default:
		}
	}

	if !ok {
		ctx, cancel := context.WithCancel(reg.base)
		ent = &registryEntry{
			room:   open(ctx),
			cancel: cancel,
		}
		reg.entries[key] = ent
		log.Printf("[RoomRegistry] Открыта комната %s", key)
	}

	ent.refs++
	room := ent.room
	reg.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			reg.mu.Lock()
			defer reg.mu.Unlock()
			ent.refs--
			if ent.refs <= 0 {
				ent.cancel()
				if reg.entries[key] == ent {
					delete(reg.entries, key)
				}
				log.Printf("[RoomRegistry] Закрыта комната %s", key)
			}
		})
	}
	return room, release
}

// Len возвращает количество открытых комнат
func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.entries)
}
