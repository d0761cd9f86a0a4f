package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"relay-api/internal/shared"
)

// HistoryStore persists finished chat turns in chat_messages
type HistoryStore struct {
	wdb *sql.DB
	rdb *sql.DB
}

func NewHistoryStore(wdb, rdb *sql.DB) *HistoryStore {
	return &HistoryStore{wdb: wdb, rdb: rdb}
}

// AppendMessages inserts messages in order inside one transaction, so a chat
// never holds half of a turn
func (s *HistoryStore) AppendMessages(ctx context.Context, userID uint64, chatID string, messages []shared.ChatMessage) error {
	if len(messages) == 0 {
		return nil
	}
	now := time.Now().UTC()
	fns := make([]func(*sql.Tx) error, 0, len(messages))
	for _, m := range messages {
		fns = append(fns, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO chat_messages (user_id, chat_id, role, content, created_at)
				VALUES (?, ?, ?, ?, ?)
			`, userID, chatID, m.Role, m.Content, now)
			if err != nil {
				return fmt.Errorf("failed to insert message: %w", err)
			}
			return nil
		})
	}
	return ExecuteTransaction(ctx, s.wdb, fns)
}

// ListMessages returns the chat's messages in creation order. Rows written in
// the same instant keep their insert order through the auto increment id.
func (s *HistoryStore) ListMessages(ctx context.Context, userID uint64, chatID string) ([]shared.ChatMessage, error) {
	rows, err := s.rdb.QueryContext(ctx, `
		SELECT role, content
		FROM chat_messages
		WHERE user_id = ? AND chat_id = ?
		ORDER BY created_at, id
	`, userID, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	messages := []shared.ChatMessage{}
	for rows.Next() {
		var m shared.ChatMessage
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed reading messages: %w", err)
	}
	return messages, nil
}

func (s *HistoryStore) ClearMessages(ctx context.Context, userID uint64, chatID string) (int64, error) {
	res, err := s.wdb.ExecContext(ctx, "DELETE FROM chat_messages WHERE user_id = ? AND chat_id = ?", userID, chatID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear messages: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read delete result: %w", err)
	}
	return deleted, nil
}
