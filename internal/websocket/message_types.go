package websocket

// Типы исходящих сообщений комнаты (шлюз -> клиент)
const (
	// ROOM_STATE несет полное опубликованное состояние комнаты (фаза, версия, снапшот)
	ROOM_STATE = "ROOM_STATE"

	// ANSWER_RESULT несет вердикт сервера по ответу участника
	ANSWER_RESULT = "ANSWER_RESULT"

	// ROOM_ERROR несет ошибку realtime-канала или отклоненную команду
	ROOM_ERROR = "ROOM_ERROR"
)

// Типы входящих сообщений комнаты (клиент -> шлюз)
const (
	// QUESTION_VIEW отмечает вопрос текущим (старт отсчета времени ответа)
	QUESTION_VIEW = "QUESTION_VIEW"

	// ANSWER_SUBMIT отправляет выбранный вариант ответа
	ANSWER_SUBMIT = "ANSWER_SUBMIT"
)
