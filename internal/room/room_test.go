package room

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qader-platform/challenge-gateway/internal/domain/entity"
	"github.com/qader-platform/challenge-gateway/internal/realtime"
)

// ============================================================================
// Хелперы
// ============================================================================

// testRoom собирает комнату с управляемыми каналами и фетчером
type testRoom struct {
	room    *Room
	events  chan entity.RealtimeEvent
	states  chan realtime.State
	fetchCh chan fetchReply // тест кладет сюда результат REST-снапшота
	cancel  context.CancelFunc
}

type fetchReply struct {
	snapshot *entity.Challenge
	err      error
}

func newTestRoom(t *testing.T, id uint) *testRoom {
	t.Helper()

	tr := &testRoom{
		events:  make(chan entity.RealtimeEvent, 16),
		states:  make(chan realtime.State, 16),
		fetchCh: make(chan fetchReply, 1),
	}

	fetch := func(ctx context.Context) (*entity.Challenge, error) {
		select {
		case reply := <-tr.fetchCh:
			return reply.snapshot, reply.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	tr.cancel = cancel
	tr.room = New(id, fetch, tr.events, tr.states)
	go tr.room.Run(ctx)

	t.Cleanup(func() {
		cancel()
		close(tr.events)
		close(tr.states)
	})
	return tr
}

func (tr *testRoom) sendEvent(t *testing.T, eventType string, payload interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	tr.events <- entity.RealtimeEvent{Type: eventType, Payload: raw}
}

// waitUpdate ждет следующее обновление подписки
func waitUpdate(t *testing.T, sub *Subscription) Update {
	t.Helper()
	select {
	case update, ok := <-sub.Updates():
		require.True(t, ok, "подписка закрылась раньше ожидаемого обновления")
		return update
	case <-time.After(2 * time.Second):
		t.Fatal("обновление подписки не пришло за 2 секунды")
		return Update{}
	}
}

// waitViewWhere ждет состояние комнаты, удовлетворяющее условию,
// пропуская промежуточные обновления
func waitViewWhere(t *testing.T, sub *Subscription, cond func(View) bool) View {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case update, ok := <-sub.Updates():
			require.True(t, ok, "подписка закрылась раньше ожидаемого состояния")
			if update.View != nil && cond(*update.View) {
				return *update.View
			}
		case <-deadline:
			t.Fatal("ожидаемое состояние комнаты не пришло за 2 секунды")
		}
	}
}

// ============================================================================
// Жизненный цикл комнаты
// ============================================================================

func TestRoom_SubscribeDeliversCurrentState(t *testing.T) {
	// Arrange
	tr := newTestRoom(t, 7)
	sub := tr.room.Subscribe(1, 16)
	defer sub.Close()

	// Assert: первое обновление — текущее (пустое) состояние
	update := waitUpdate(t, sub)
	require.NotNil(t, update.View)
	assert.Equal(t, uint(7), update.View.ChallengeID)
	assert.Equal(t, entity.PhaseUnknown, update.View.Phase, "до снапшота фаза неизвестна")
	assert.Nil(t, update.View.Snapshot)
}

func TestRoom_RestSnapshotPublished(t *testing.T) {
	// Arrange
	tr := newTestRoom(t, 7)
	sub := tr.room.Subscribe(1, 16)
	defer sub.Close()
	waitUpdate(t, sub) // начальное пустое состояние

	// Act: REST-снапшот получен
	tr.fetchCh <- fetchReply{snapshot: lobbyChallenge(7)}

	// Assert
	view := waitViewWhere(t, sub, func(v View) bool { return v.Snapshot != nil })
	assert.Equal(t, entity.PhaseLobby, view.Phase)
	assert.Equal(t, entity.StatusAccepted, view.Snapshot.Status)
}

func TestRoom_SlowSnapshotDoesNotOverwriteNewerEvents(t *testing.T) {
	// Arrange: канал принес challenge.start, пока REST-снапшот был в полете
	tr := newTestRoom(t, 7)
	sub := tr.room.Subscribe(1, 16)
	defer sub.Close()
	waitUpdate(t, sub)

	started := lobbyChallenge(7)
	started.Status = entity.StatusOngoing
	tr.sendEvent(t, entity.EventChallengeStart, started)
	waitViewWhere(t, sub, func(v View) bool { return v.Phase == entity.PhaseInProgress })

	// Act: медленный REST-снапшот с устаревшим (lobby) состоянием
	tr.fetchCh <- fetchReply{snapshot: lobbyChallenge(7)}

	// Assert: комната не регрессировала — запрос текущего состояния
	// сериализуется с фолдами, поэтому после него порядок гарантирован
	view, err := tr.room.View(context.Background())
	require.NoError(t, err)
	assert.Equal(t, entity.PhaseInProgress, view.Phase, "устаревший снапшот не должен затереть более новое событие")
}

func TestRoom_InitialFetchFailure_TerminalWithoutSnapshot(t *testing.T) {
	// Arrange
	tr := newTestRoom(t, 7)
	sub := tr.room.Subscribe(1, 16)
	defer sub.Close()
	waitUpdate(t, sub)

	// Act: начальная загрузка провалилась, состояния из канала нет
	tr.fetchCh <- fetchReply{err: fmt.Errorf("upstream is down")}

	// Assert: ошибка загрузки опубликована
	view := waitViewWhere(t, sub, func(v View) bool { return v.LoadError != "" })
	assert.Contains(t, view.LoadError, "upstream is down")
	assert.Nil(t, view.Snapshot)
}

func TestRoom_InitialFetchFailure_SurvivesIfChannelDeliveredState(t *testing.T) {
	// Arrange: канал уже дал полную замену
	tr := newTestRoom(t, 7)
	sub := tr.room.Subscribe(1, 16)
	defer sub.Close()
	waitUpdate(t, sub)

	tr.sendEvent(t, entity.EventChallengeUpdate, lobbyChallenge(7))
	waitViewWhere(t, sub, func(v View) bool { return v.Snapshot != nil })

	// Act: REST-снапшот провалился
	tr.fetchCh <- fetchReply{err: fmt.Errorf("timeout")}

	// Assert: комната жива, ошибка загрузки не выставлена
	view, err := tr.room.View(context.Background())
	require.NoError(t, err)
	assert.Empty(t, view.LoadError, "при живом состоянии из канала комната не становится терминальной")
	require.NotNil(t, view.Snapshot)
}

func TestRoom_AnswerResultDeliveredOnlyToActingUser(t *testing.T) {
	// Arrange: два подписчика — участники #1 и #2
	tr := newTestRoom(t, 7)
	subActing := tr.room.Subscribe(1, 16)
	defer subActing.Close()
	subOther := tr.room.Subscribe(2, 16)
	defer subOther.Close()
	waitUpdate(t, subActing)
	waitUpdate(t, subOther)

	tr.fetchCh <- fetchReply{snapshot: lobbyChallenge(7)}
	waitViewWhere(t, subActing, func(v View) bool { return v.Snapshot != nil })
	waitViewWhere(t, subOther, func(v View) bool { return v.Snapshot != nil })

	// Act: вердикт по ответу участника #1
	tr.sendEvent(t, entity.EventAnswerResult, entity.AnswerResultPayload{
		UserID:     1,
		QuestionID: 10,
		IsCorrect:  true,
	})

	// Assert: участник #1 получил сигнал
	update := waitUpdate(t, subActing)
	require.NotNil(t, update.Signal)
	assert.Equal(t, entity.EventAnswerResult, update.Signal.Type)
	require.NotNil(t, update.Signal.AnswerResult)
	assert.Equal(t, uint(10), update.Signal.AnswerResult.QuestionID)

	// Участник #2 сигнал не получает
	select {
	case stray, ok := <-subOther.Updates():
		if ok && stray.Signal != nil {
			t.Fatalf("вердикт чужого ответа доставлен постороннему подписчику: %+v", stray.Signal)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRoom_ChannelStateChange_KeepsSnapshot(t *testing.T) {
	// Arrange
	tr := newTestRoom(t, 7)
	sub := tr.room.Subscribe(1, 16)
	defer sub.Close()
	waitUpdate(t, sub)

	tr.fetchCh <- fetchReply{snapshot: lobbyChallenge(7)}
	waitViewWhere(t, sub, func(v View) bool { return v.Snapshot != nil })

	// Act: канал разорвался
	tr.states <- realtime.StateClosed

	// Assert: индикатор подключения сменился, снапшот остался
	view := waitViewWhere(t, sub, func(v View) bool { return v.Channel == realtime.StateClosed })
	require.NotNil(t, view.Snapshot, "обрыв канала не инвалидирует последний хороший снапшот")
	assert.Equal(t, entity.PhaseLobby, view.Phase)
}

func TestRoom_StopClosesSubscriptions(t *testing.T) {
	// Arrange
	tr := newTestRoom(t, 7)
	sub := tr.room.Subscribe(1, 16)
	waitUpdate(t, sub)

	// Act
	tr.cancel()

	// Assert: канал подписки закрывается
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.Updates():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("подписка не закрылась после остановки комнаты")
		}
	}
}

// ============================================================================
// Реестр комнат
// ============================================================================

func TestRegistry_SharesRoomAndClosesOnLastRelease(t *testing.T) {
	// Arrange
	reg := NewRegistry(context.Background())
	opened := 0
	open := func(ctx context.Context) *Room {
		opened++
		events := make(chan entity.RealtimeEvent)
		states := make(chan realtime.State)
		rm := New(7, func(context.Context) (*entity.Challenge, error) {
			return lobbyChallenge(7), nil
		}, events, states)
		go rm.Run(ctx)
		return rm
	}

	// Act: два держателя одного ключа
	rm1, release1 := reg.Acquire("sess:7", open)
	rm2, release2 := reg.Acquire("sess:7", open)

	// Assert: комната одна
	assert.Same(t, rm1, rm2, "держатели одного ключа делят одну комнату")
	assert.Equal(t, 1, opened, "open должен быть вызван один раз")
	assert.Equal(t, 1, reg.Len())

	// Первый release комнату не трогает
	release1()
	select {
	case <-rm1.Done():
		t.Fatal("комната остановлена, пока ее держит второй держатель")
	case <-time.After(50 * time.Millisecond):
	}

	// Последний release останавливает комнату
	release2()
	select {
	case <-rm1.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("комната не остановилась после ухода последнего держателя")
	}
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_ReleaseIdempotent(t *testing.T) {
	// Arrange
	reg := NewRegistry(context.Background())
	open := func(ctx context.Context) *Room {
		rm := New(7, func(context.Context) (*entity.Challenge, error) {
			return lobbyChallenge(7), nil
		}, make(chan entity.RealtimeEvent), make(chan realtime.State))
		go rm.Run(ctx)
		return rm
	}

	rm1, release1 := reg.Acquire("sess:7", open)
	_, release2 := reg.Acquire("sess:7", open)

	// Act: двойной вызов первого release не крадет ссылку второго держателя
	release1()
	release1()

	select {
	case <-rm1.Done():
		t.Fatal("повторный release уронил комнату второго держателя")
	case <-time.After(50 * time.Millisecond):
	}

	release2()
	select {
	case <-rm1.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("комната не остановилась")
	}
}

func TestRegistry_RecreatesDeadRoom(t *testing.T) {
	// Arrange: комната умерла сама (отмена базового контекста)
	baseCtx, baseCancel := context.WithCancel(context.Background())
	reg := NewRegistry(baseCtx)
	open := func(ctx context.Context) *Room {
		rm := New(7, func(context.Context) (*entity.Challenge, error) {
			return lobbyChallenge(7), nil
		}, make(chan entity.RealtimeEvent), make(chan realtime.State))
		go rm.Run(ctx)
		return rm
	}

	rm1, release1 := reg.Acquire("sess:7", open)
	baseCancel()
	select {
	case <-rm1.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("комната не остановилась по базовому контексту")
	}

	// Act: новый держатель приходит, пока запись о мертвой комнате еще
	// в реестре (первый держатель ее не отпускал)
	rm2, release2 := reg.Acquire("sess:7", open)

	// Assert
	assert.NotSame(t, rm1, rm2, "мертвая комната должна быть пересоздана")

	release1()
	release2()
}
