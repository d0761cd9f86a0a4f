package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"relay-api/internal/shared"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrNothingDebited  = errors.New("no credits debited")
)

// AccountStore reads accounts from the read replica and debits through the
// write db
type AccountStore struct {
	wdb *sql.DB
	rdb *sql.DB
}

func NewAccountStore(wdb, rdb *sql.DB) *AccountStore {
	return &AccountStore{wdb: wdb, rdb: rdb}
}

func (s *AccountStore) GetAccount(ctx context.Context, userID uint64) (*shared.Account, error) {
	account := shared.Account{UserID: userID}
	err := s.rdb.QueryRowContext(ctx, `
		SELECT user.credits, user.unlimited, user.banned
		FROM user
		WHERE user.id = ?
	`, userID).Scan(&account.Credits, &account.Unlimited, &account.Banned)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %d: %w", userID, ErrAccountNotFound)
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// DebitCredit removes a single credit. Balances never go below zero; a debit
// against an empty balance returns ErrNothingDebited.
func (s *AccountStore) DebitCredit(ctx context.Context, userID uint64) error {
	res, err := s.wdb.ExecContext(ctx, "UPDATE user SET credits = credits - 1 WHERE id = ? AND credits > 0", userID)
	if err != nil {
		return fmt.Errorf("failed to debit credit: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read debit result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("user %d: %w", userID, ErrNothingDebited)
	}
	return nil
}
