// Package database defines the insertions and transactions to the database
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RequestRecord is the usage row written once per relayed request
type RequestRecord struct {
	RequestID        string
	UserID           uint64
	Model            string
	Credits          uint64
	TimeToFirstToken time.Duration
	TotalTime        time.Duration
	Completed        bool
	Canceled         bool
	CreatedAt        time.Time
}

type RequestStore struct {
	wdb *sql.DB
}

func NewRequestStore(wdb *sql.DB) *RequestStore {
	return &RequestStore{wdb: wdb}
}

// SaveRequest saves the request row and rolls it into the user's daily stats
func (s *RequestStore) SaveRequest(ctx context.Context, rec RequestRecord) error {
	canceled := 0
	if rec.Canceled {
		canceled = 1
	}
	day := rec.CreatedAt.UTC().Format("2006-01-02")

	return ExecuteTransaction(ctx, s.wdb, []func(*sql.Tx) error{
		func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `INSERT INTO request (
				request_id, user_id, model, credits,
				time_to_first_token, total_time, completed, canceled, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				rec.RequestID, rec.UserID, rec.Model, rec.Credits,
				rec.TimeToFirstToken.Milliseconds(), rec.TotalTime.Milliseconds(),
				rec.Completed, rec.Canceled, rec.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("failed to save request: %w", err)
			}
			return nil
		},
		func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `INSERT INTO daily_stats (
				date, user_id, model, request_count, total_spend,
				time_to_first_token, total_time, canceled_requests
			) VALUES (?, ?, ?, 1, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				request_count = request_count + VALUES(request_count),
				total_spend = total_spend + VALUES(total_spend),
				time_to_first_token = time_to_first_token + VALUES(time_to_first_token),
				total_time = total_time + VALUES(total_time),
				canceled_requests = canceled_requests + VALUES(canceled_requests)`,
				day, rec.UserID, rec.Model, rec.Credits,
				rec.TimeToFirstToken.Milliseconds(), rec.TotalTime.Milliseconds(), canceled,
			)
			if err != nil {
				return fmt.Errorf("failed to update daily stats: %w", err)
			}
			return nil
		},
	})
}

// ExecuteTransaction executes one transaction with one or multiple database executions.
func ExecuteTransaction(ctx context.Context, writeDB *sql.DB, fns []func(*sql.Tx) error) error {
	tx, err := writeDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, fn := range fns {
		if err := fn(tx); err != nil {
			return fmt.Errorf("failed to execute transaction function: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
