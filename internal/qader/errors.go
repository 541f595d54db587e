package qader

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	apperrors "github.com/qader-platform/challenge-gateway/internal/pkg/errors"
)

// APIError представляет структурированную ошибку upstream API.
// Тело ошибки — либо {"detail": "..."}, либо карта ошибок по полям.
type APIError struct {
	StatusCode int
	Detail     string
	Fields     map[string][]string
}

// Error реализует интерфейс error
func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("upstream responded %d: %s", e.StatusCode, e.Detail)
	}
	if len(e.Fields) > 0 {
		parts := make([]string, 0, len(e.Fields))
		for field, msgs := range e.Fields {
			parts = append(parts, fmt.Sprintf("%s: %s", field, strings.Join(msgs, "; ")))
		}
		return fmt.Sprintf("upstream responded %d: %s", e.StatusCode, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("upstream responded %d", e.StatusCode)
}

// Unwrap сводит HTTP-статус к сентинельной ошибке приложения,
// чтобы вызывающий код мог использовать errors.Is.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return apperrors.ErrNotFound
	case http.StatusUnauthorized:
		return apperrors.ErrUnauthorized
	case http.StatusForbidden:
		return apperrors.ErrForbidden
	case http.StatusBadRequest:
		return apperrors.ErrValidation
	case http.StatusConflict:
		return apperrors.ErrConflict
	}
	return nil
}

// decodeAPIError разбирает тело ошибочного ответа upstream.
// Неразборчивое тело не считается ошибкой: возвращается APIError только со статусом.
func decodeAPIError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: statusCode}

	if len(body) == 0 {
		return apiErr
	}

	// Сначала пробуем {"detail": "..."}
	var detail struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &detail); err == nil && detail.Detail != "" {
		apiErr.Detail = detail.Detail
		return apiErr
	}

	// Затем карту ошибок по полям: {"field": ["msg", ...], ...}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err == nil {
		parsed := make(map[string][]string, len(fields))
		for field, raw := range fields {
			var msgs []string
			if err := json.Unmarshal(raw, &msgs); err == nil {
				parsed[field] = msgs
				continue
			}
			var msg string
			if err := json.Unmarshal(raw, &msg); err == nil {
				parsed[field] = []string{msg}
			}
		}
		if len(parsed) > 0 {
			apiErr.Fields = parsed
		}
	}

	return apiErr
}
