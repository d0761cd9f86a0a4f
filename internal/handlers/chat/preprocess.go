package chat

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"relay-api/internal/metrics"
	"relay-api/internal/shared"
)

type PreprocessInput struct {
	Body      []byte
	UserID    uint64
	RequestID string
}

type RequestInfo struct {
	ID        string
	UserID    uint64
	Account   *shared.Account
	Model     string
	Messages  []shared.ChatMessage
	Body      []byte
	StartTime time.Time
}

// Preprocess applies account policy and message validation, in that order,
// and builds the upstream body. Nothing is written anywhere before it
// returns successfully.
func (h *ChatHandler) Preprocess(ctx context.Context, input PreprocessInput) (*RequestInfo, error) {
	startTime := time.Now()

	account, err := h.Accounts.GetAccount(ctx, input.UserID)
	if err != nil {
		metrics.RejectedRequests.WithLabelValues("account_lookup").Inc()
		return nil, errors.Join(shared.ErrInternalServerError, shared.ErrAccountLookup, err)
	}
	if account.Banned {
		metrics.RejectedRequests.WithLabelValues("banned").Inc()
		return nil, shared.ErrAccountBanned
	}
	if !account.HasCredit() {
		metrics.RejectedRequests.WithLabelValues("insufficient_credits").Inc()
		return nil, shared.ErrInsufficientCredits
	}

	var payload struct {
		Messages json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(input.Body, &payload); err != nil {
		metrics.RejectedRequests.WithLabelValues("invalid_body").Inc()
		return nil, errors.Join(shared.ErrInvalidMessages, err)
	}
	messages, err := shared.ValidateMessages(payload.Messages, shared.MaxContentLength)
	if err != nil {
		metrics.RejectedRequests.WithLabelValues("invalid_messages").Inc()
		return nil, err
	}

	upstreamMessages := make([]shared.ChatMessage, 0, len(messages)+1)
	upstreamMessages = append(upstreamMessages, shared.ChatMessage{Role: shared.RoleSystem, Content: shared.PersonaPrompt})
	upstreamMessages = append(upstreamMessages, messages...)

	body, err := json.Marshal(shared.UpstreamBody{
		Model:    h.Upstream.Model,
		Messages: upstreamMessages,
		Stream:   true,
	})
	if err != nil {
		return nil, errors.Join(shared.ErrInternalServerError, err)
	}

	return &RequestInfo{
		ID:        input.RequestID,
		UserID:    input.UserID,
		Account:   account,
		Model:     h.Upstream.Model,
		Messages:  messages,
		Body:      body,
		StartTime: startTime,
	}, nil
}
