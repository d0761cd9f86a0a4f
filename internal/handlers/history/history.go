// Package history appends, lists and clears finished chat turns
package history

import (
	"context"
	"encoding/json"
	"errors"

	"relay-api/internal/shared"

	"go.uber.org/zap"
)

type Store interface {
	AppendMessages(ctx context.Context, userID uint64, chatID string, messages []shared.ChatMessage) error
	ListMessages(ctx context.Context, userID uint64, chatID string) ([]shared.ChatMessage, error)
	ClearMessages(ctx context.Context, userID uint64, chatID string) (int64, error)
}

type HistoryHandler struct {
	Store Store
	Log   *zap.SugaredLogger
}

func NewHistoryHandler(store Store, log *zap.SugaredLogger) (*HistoryHandler, error) {
	if store == nil {
		return nil, errors.New("history store is required")
	}
	return &HistoryHandler{Store: store, Log: log}, nil
}

type AppendOutput struct {
	ChatID string
	Count  int
}

// AppendLogic validates a `{chat_id, messages}` body with the relay's message
// rules and stores the messages in order
func (h *HistoryHandler) AppendLogic(ctx context.Context, userID uint64, body []byte) (*AppendOutput, error) {
	var payload struct {
		ChatID   string          `json:"chat_id"`
		Messages json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Join(shared.ErrInvalidMessages, err)
	}
	if err := ValidateChatID(payload.ChatID); err != nil {
		return nil, err
	}
	messages, err := shared.ValidateMessages(payload.Messages, shared.MaxStoredContentLength)
	if err != nil {
		return nil, err
	}

	if err := h.Store.AppendMessages(ctx, userID, payload.ChatID, messages); err != nil {
		return nil, errors.Join(shared.ErrInternalServerError, err)
	}
	return &AppendOutput{ChatID: payload.ChatID, Count: len(messages)}, nil
}

func (h *HistoryHandler) ListLogic(ctx context.Context, userID uint64, chatID string) (*shared.HistoryResponse, error) {
	if err := ValidateChatID(chatID); err != nil {
		return nil, err
	}
	messages, err := h.Store.ListMessages(ctx, userID, chatID)
	if err != nil {
		return nil, errors.Join(shared.ErrInternalServerError, err)
	}
	return &shared.HistoryResponse{ChatID: chatID, Messages: messages}, nil
}

func (h *HistoryHandler) ClearLogic(ctx context.Context, userID uint64, chatID string) (int64, error) {
	if err := ValidateChatID(chatID); err != nil {
		return 0, err
	}
	deleted, err := h.Store.ClearMessages(ctx, userID, chatID)
	if err != nil {
		return 0, errors.Join(shared.ErrInternalServerError, err)
	}
	return deleted, nil
}

// ValidateChatID accepts short ids made of letters, digits, '-' and '_'
func ValidateChatID(chatID string) error {
	if chatID == "" || len(chatID) > shared.MaxChatIDLength {
		return shared.ErrInvalidChatID
	}
	for _, r := range chatID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return shared.ErrInvalidChatID
		}
	}
	return nil
}
