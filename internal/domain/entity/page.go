package entity

// ChallengeList — пагинированный список челленджей в формате upstream API
// (count/next/previous/results)
type ChallengeList struct {
	Count    int64       `json:"count"`
	Next     *string     `json:"next,omitempty"`
	Previous *string     `json:"previous,omitempty"`
	Results  []Challenge `json:"results"`
}

// Фильтры списка челленджей по статусной корзине
const (
	// FilterInvites — входящие приглашения (pending_invite)
	FilterInvites = "invites"

	// FilterOngoing — активные челленджи (accepted, ongoing)
	FilterOngoing = "ongoing"

	// FilterHistory — завершенные и закрытые (completed, declined, cancelled, expired)
	FilterHistory = "history"
)

// StatusesForFilter возвращает статусы, входящие в статусную корзину фильтра.
// Пустой или неизвестный фильтр означает все статусы.
func StatusesForFilter(filter string) []string {
	switch filter {
	case FilterInvites:
		return []string{StatusPendingInvite}
	case FilterOngoing:
		return []string{StatusAccepted, StatusOngoing}
	case FilterHistory:
		return []string{StatusCompleted, StatusDeclined, StatusCancelled, StatusExpired}
	default:
		return nil
	}
}
