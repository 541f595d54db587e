package qader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client — клиент REST API Qader. Потокобезопасен; аутентификация
// выполняется per-request через переданную сессию.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создает клиент upstream API
func NewClient(baseURL string, requestTimeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// do выполняет один аутентифицированный запрос к upstream.
// При 401 токен обновляется ровно один раз (через сессию) и запрос
// повторяется ровно один раз. Команды НЕ ретраятся автоматически:
// любая другая ошибка терминальна для этой попытки.
func (c *Client) do(ctx context.Context, sess *Session, method, path string, query url.Values, body interface{}, out interface{}) error {
	token, err := sess.AccessToken(ctx)
	if err != nil {
		return err
	}

	resp, respBody, err := c.roundTrip(ctx, method, path, query, body, token)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		// Единственная попытка обновления и единственный повтор
		token, err = sess.RefreshAfter401(ctx, token, c.refreshTokens)
		if err != nil {
			return err
		}
		resp, respBody, err = c.roundTrip(ctx, method, path, query, body, token)
		if err != nil {
			return err
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp.StatusCode, respBody)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode upstream response for %s %s: %w", method, path, err)
		}
	}
	return nil
}

// roundTrip выполняет один HTTP-запрос и полностью вычитывает тело ответа
func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, body interface{}, token string) (*http.Response, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("upstream request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read upstream response: %w", err)
	}
	return resp, respBody, nil
}

// refreshTokens обновляет пару токенов по refresh-токену.
// Вызывается только из Session.RefreshAfter401.
func (c *Client) refreshTokens(ctx context.Context, refreshToken string) (TokenPair, error) {
	payload := map[string]string{"refresh": refreshToken}

	resp, respBody, err := c.roundTrip(ctx, http.MethodPost, "/auth/token/refresh/", nil, payload, "")
	if err != nil {
		return TokenPair{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return TokenPair{}, decodeAPIError(resp.StatusCode, respBody)
	}

	var pair TokenPair
	if err := json.Unmarshal(respBody, &pair); err != nil {
		return TokenPair{}, fmt.Errorf("failed to decode refreshed token pair: %w", err)
	}
	if pair.Access == "" {
		return TokenPair{}, fmt.Errorf("upstream returned empty access token on refresh")
	}
	// Некоторые бэкенды не ротируют refresh-токен — сохраняем старый
	if pair.Refresh == "" {
		pair.Refresh = refreshToken
	}

	log.Printf("[QaderClient] Пара токенов обновлена через upstream")
	return pair, nil
}

// Login выполняет вход пользователя и возвращает пару токенов
func (c *Client) Login(ctx context.Context, username, password string) (TokenPair, error) {
	payload := map[string]string{"username": username, "password": password}

	resp, respBody, err := c.roundTrip(ctx, http.MethodPost, "/auth/login/", nil, payload, "")
	if err != nil {
		return TokenPair{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return TokenPair{}, decodeAPIError(resp.StatusCode, respBody)
	}

	var pair TokenPair
	if err := json.Unmarshal(respBody, &pair); err != nil {
		return TokenPair{}, fmt.Errorf("failed to decode login response: %w", err)
	}
	return pair, nil
}

// Logout инвалидирует refresh-токен на upstream. Ошибки не фатальны:
// сессия шлюза терминируется в любом случае.
func (c *Client) Logout(ctx context.Context, sess *Session) error {
	return c.do(ctx, sess, http.MethodPost, "/auth/logout/", nil, nil, nil)
}
