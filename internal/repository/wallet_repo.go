package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kyaro/vps-broker/internal/models"
)

// ErrInsufficientFunds is returned when an adjustment would drive a
// balance below zero.
var ErrInsufficientFunds = errors.New("insufficient funds")

type WalletRepository struct {
	pool *pgxpool.Pool
}

func NewWalletRepository(pool *pgxpool.Pool) *WalletRepository {
	return &WalletRepository{pool: pool}
}

// Get returns the wallet for a user. A user who has never been touched by
// the ledger reads as a zero balance.
func (r *WalletRepository) Get(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	query := `SELECT user_id, balance, created_at, updated_at FROM wallets WHERE user_id = $1`

	w := &models.Wallet{}
	err := r.pool.QueryRow(ctx, query, userID).Scan(&w.UserID, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &models.Wallet{UserID: userID, Balance: 0}, nil
		}
		return nil, fmt.Errorf("scan wallet: %w", err)
	}
	return w, nil
}

// Adjust applies a balance change and appends its ledger entry in a single
// transaction. This is the only sanctioned way to change a balance.
func (r *WalletRepository) Adjust(ctx context.Context, userID uuid.UUID, delta int64, entryType string, refID *uuid.UUID, meta map[string]any) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	balance, err := r.AdjustInTx(ctx, tx, userID, delta, entryType, refID, meta)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return balance, nil
}

// AdjustInTx is Adjust running inside a caller-owned transaction, so a
// debit can commit or roll back together with the rows it funds.
//
// The wallet row is taken FOR UPDATE: two concurrent adjustments for the
// same user serialize instead of both reading a stale balance.
func (r *WalletRepository) AdjustInTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, delta int64, entryType string, refID *uuid.UUID, meta map[string]any) (int64, error) {
	// First touch creates the wallet row so the lock below always has a target.
	_, err := tx.Exec(ctx,
		`INSERT INTO wallets (user_id, balance) VALUES ($1, 0) ON CONFLICT (user_id) DO NOTHING`,
		userID)
	if err != nil {
		return 0, fmt.Errorf("seed wallet: %w", err)
	}

	var current int64
	err = tx.QueryRow(ctx,
		`SELECT balance FROM wallets WHERE user_id = $1 FOR UPDATE`,
		userID).Scan(&current)
	if err != nil {
		return 0, fmt.Errorf("lock wallet: %w", err)
	}

	newBalance := current + delta
	if newBalance < 0 {
		return 0, ErrInsufficientFunds
	}

	_, err = tx.Exec(ctx,
		`UPDATE wallets SET balance = $1, updated_at = now() WHERE user_id = $2`,
		newBalance, userID)
	if err != nil {
		return 0, fmt.Errorf("update balance: %w", err)
	}

	if meta == nil {
		meta = map[string]any{}
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO ledger_entries (id, user_id, type, amount, balance_after, ref_id, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.New(), userID, entryType, delta, newBalance, refID, meta)
	if err != nil {
		return 0, fmt.Errorf("insert ledger entry: %w", err)
	}

	return newBalance, nil
}

// Entries returns the user's ledger, newest first.
func (r *WalletRepository) Entries(ctx context.Context, userID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, user_id, type, amount, balance_after, ref_id, meta, created_at
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.LedgerEntry
	for rows.Next() {
		e := &models.LedgerEntry{}
		err := rows.Scan(
			&e.ID, &e.UserID, &e.Type, &e.Amount, &e.BalanceAfter, &e.RefID, &e.Meta, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
