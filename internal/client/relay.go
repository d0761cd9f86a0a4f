// Package client talks to the relay: it streams chat exchanges, reassembles
// the assistant reply and persists finished turns through the history API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"relay-api/internal/shared"
)

// HTTPClient abstracts the Do method for easier testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError is a non-success answer from the relay
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("relay responded with status %d", e.StatusCode)
	}
	return fmt.Sprintf("relay responded with status %d: %s", e.StatusCode, e.Message)
}

type RelayClient struct {
	baseURL    *url.URL
	token      string
	httpClient HTTPClient
}

// NewRelayClient builds a client for the relay at baseURL. The default http
// client has no overall timeout since chat streams are long lived.
func NewRelayClient(baseURL, token string, httpClient HTTPClient) (*RelayClient, error) {
	parsed, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Transport: &http.Transport{
			DialContext:           (&net.Dialer{Timeout: shared.DefaultRelayDialTimeout}).DialContext,
			TLSHandshakeTimeout:   shared.UpstreamTLSTimeout,
			ResponseHeaderTimeout: shared.UpstreamHeaderTimeout,
		}}
	}
	return &RelayClient{baseURL: parsed, token: token, httpClient: httpClient}, nil
}

func (c *RelayClient) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *RelayClient) newRequest(ctx context.Context, method, path string, query url.Values, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// OpenChat posts the history and returns the response as is. The caller owns
// the body and must check the status.
func (c *RelayClient) OpenChat(ctx context.Context, messages []shared.ChatMessage) (*http.Response, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/chat", nil, shared.ChatBody{Messages: messages})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	return c.httpClient.Do(req)
}

func (c *RelayClient) AppendHistory(ctx context.Context, chatID string, messages []shared.ChatMessage) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/chat/history", nil, shared.HistoryBody{ChatID: chatID, Messages: messages})
	if err != nil {
		return err
	}
	return c.doJSON(req, http.StatusCreated, nil)
}

func (c *RelayClient) LoadHistory(ctx context.Context, chatID string) ([]shared.ChatMessage, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/chat/history", url.Values{"chat_id": {chatID}}, nil)
	if err != nil {
		return nil, err
	}
	var res shared.HistoryResponse
	if err := c.doJSON(req, http.StatusOK, &res); err != nil {
		return nil, err
	}
	return res.Messages, nil
}

func (c *RelayClient) ClearHistory(ctx context.Context, chatID string) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodDelete, "/v1/chat/history", url.Values{"chat_id": {chatID}}, nil)
	if err != nil {
		return 0, err
	}
	var res struct {
		Deleted int64 `json:"deleted"`
	}
	if err := c.doJSON(req, http.StatusOK, &res); err != nil {
		return 0, err
	}
	return res.Deleted, nil
}

func (c *RelayClient) doJSON(req *http.Request, want int, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != want {
		return readStatusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// readStatusError pulls the `{"error": ...}` message out of a failed response
func readStatusError(resp *http.Response) *StatusError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, int64(shared.MaxLoggedBodyLength)))
	var body shared.ErrorResponse
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: msg}
}
