package room

import (
	"context"
	"log"

	"github.com/qader-platform/challenge-gateway/internal/domain/entity"
	"github.com/qader-platform/challenge-gateway/internal/realtime"
)

// SnapshotFetcher получает начальный REST-снапшот челленджа
type SnapshotFetcher func(ctx context.Context) (*entity.Challenge, error)

// Update — одно обновление для подписчика: либо новое состояние комнаты,
// либо транзиентный сигнал
type Update struct {
	View   *View   `json:"view,omitempty"`
	Signal *Signal `json:"signal,omitempty"`
}

// Subscription — подписка одного читателя на обновления комнаты
type Subscription struct {
	// UserID подписчика; вердикты answer.result доставляются только ему
	UserID uint

	updates chan Update
	room    *Room
}

// Updates возвращает канал обновлений подписки
func (s *Subscription) Updates() <-chan Update {
	return s.updates
}

// Close отписывает читателя от комнаты
func (s *Subscription) Close() {
	s.room.enqueue(func(r *Room) {
		if _, ok := r.subs[s]; ok {
			delete(r.subs, s)
			close(s.updates)
		}
	})
}

// Room — синхронизатор комнаты одного челленджа. Снапшотом владеет
// исключительно горутина Run; все мутации проходят через фолд, читатели
// получают только закоммиченные состояния.
type Room struct {
	id     uint
	fetch  SnapshotFetcher
	events <-chan entity.RealtimeEvent
	states <-chan realtime.State

	commands chan func(*Room)
	done     chan struct{}

	// Поля ниже принадлежат горутине Run
	st   *state
	subs map[*Subscription]struct{}
}

// New создает комнату. events и states — каналы realtime-транспорта,
// fetch — REST-снапшот. Run должен быть запущен отдельно.
func New(id uint, fetch SnapshotFetcher, events <-chan entity.RealtimeEvent, states <-chan realtime.State) *Room {
	return &Room{
		id:       id,
		fetch:    fetch,
		events:   events,
		states:   states,
		commands: make(chan func(*Room), 32),
		done:     make(chan struct{}),
		st:       newState(id),
		subs:     make(map[*Subscription]struct{}),
	}
}

type fetchResult struct {
	snapshot *entity.Challenge
	version  uint64
	err      error
}

// Run — цикл владельца состояния. Сначала запускается получение REST-снапшота,
// параллельно принимаются события канала; снапшот фолдится со своей версией
// (взятой ДО запуска запроса), поэтому он не перезапишет более новые события.
func (r *Room) Run(ctx context.Context) {
	defer func() {
		for sub := range r.subs {
			close(sub.updates)
			delete(r.subs, sub)
		}
		close(r.done)
		log.Printf("[Room %d] Остановлена", r.id)
	}()

	// Версия снапшота фиксируется до запроса: события, прибывшие во время
	// запроса, будут новее и не дадут медленному снапшоту их затереть
	fetchCh := make(chan fetchResult, 1)
	version := r.st.nextSeq()
	go func() {
		snapshot, err := r.fetch(ctx)
		fetchCh <- fetchResult{snapshot: snapshot, version: version, err: err}
	}()

	events := r.events
	states := r.states

	for {
		select {
		case <-ctx.Done():
			return

		case res := <-fetchCh:
			fetchCh = nil // Одноразовый: автоматического reconcile-опроса нет
			if res.err != nil {
				if r.st.snapshot == nil {
					// Провал начальной загрузки терминален для комнаты
					log.Printf("[Room %d] Начальная загрузка снапшота провалилась: %v", r.id, res.err)
					r.st.loadError = res.err.Error()
					r.broadcastView()
				} else {
					// Канал уже принес полную замену — комната жива
					log.Printf("[Room %d] REST-снапшот не получен (%v), но канал уже дал состояние", r.id, res.err)
				}
				continue
			}
			if r.st.applySnapshot(res.snapshot, res.version) {
				r.broadcastView()
			}

		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			changed, signal, err := r.st.fold(event)
			if err != nil {
				log.Printf("[Room %d] Ошибка фолда события %s: %v", r.id, event.Type, err)
				continue
			}
			if changed {
				r.broadcastView()
			}
			if signal != nil {
				r.broadcastSignal(signal)
			}

		case chState, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			if r.st.channel != chState {
				// Обрыв канала не инвалидирует последний хороший снапшот:
				// меняется только индикатор подключения
				r.st.channel = chState
				r.broadcastView()
			}

		case cmd := <-r.commands:
			cmd(r)
		}
	}
}

// enqueue передает команду горутине-владельцу. После остановки комнаты
// команды тихо отбрасываются.
func (r *Room) enqueue(cmd func(*Room)) {
	select {
	case r.commands <- cmd:
	case <-r.done:
	}
}

// Subscribe подписывает читателя на обновления комнаты. Текущее состояние
// доставляется первым обновлением.
func (r *Room) Subscribe(userID uint, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 16
	}
	sub := &Subscription{
		UserID:  userID,
		updates: make(chan Update, buffer),
		room:    r,
	}
	select {
	case r.commands <- func(r *Room) {
		r.subs[sub] = struct{}{}
		view := r.st.view()
		sub.push(Update{View: &view})
	}:
	case <-r.done:
		// Комната уже остановлена — подписка сразу закрыта
		close(sub.updates)
	}
	return sub
}

// View возвращает копию текущего состояния комнаты
func (r *Room) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	r.enqueue(func(r *Room) {
		reply <- r.st.view()
	})
	select {
	case v := <-reply:
		return v, nil
	case <-r.done:
		return View{}, context.Canceled
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

// ApplyVerdict фолдит авторитетный REST-вердикт по ответу участника
// (успешная отправка ответа) в кешированный снапшот
func (r *Room) ApplyVerdict(userID uint, questionID uint, details entity.UserAnswerDetails, correctAnswer, explanation string) {
	r.enqueue(func(r *Room) {
		if r.st.applyVerdict(userID, questionID, details, correctAnswer, explanation) {
			r.broadcastView()
		}
	})
}

// Done закрывается после остановки комнаты
func (r *Room) Done() <-chan struct{} {
	return r.done
}

// broadcastView рассылает новое состояние всем подписчикам
func (r *Room) broadcastView() {
	view := r.st.view()
	for sub := range r.subs {
		sub.push(Update{View: &view})
	}
}

// broadcastSignal рассылает транзиентный сигнал. Вердикты answer.result
// доставляются только участнику, отправившему ответ; ошибки — всем.
func (r *Room) broadcastSignal(signal *Signal) {
	for sub := range r.subs {
		if signal.Type == entity.EventAnswerResult && sub.UserID != signal.UserID {
			continue
		}
		sub.push(Update{Signal: signal})
	}
}

// push доставляет обновление, не блокируя владельца комнаты: при
// переполнении буфера медленного подписчика вытесняется самое старое
// обновление (новое состояние его суперсидирует)
func (s *Subscription) push(u Update) {
	select {
	case s.updates <- u:
		return
	default:
	}
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- u:
	default:
	}
}
