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

type SessionRepository struct {
	pool    *pgxpool.Pool
	wallets *WalletRepository
}

// NewSessionRepository wires the wallet repository in so purchase and
// refund can share one transaction with the session row.
func NewSessionRepository(pool *pgxpool.Pool, wallets *WalletRepository) *SessionRepository {
	return &SessionRepository{pool: pool, wallets: wallets}
}

const sessionColumns = `
	id, user_id, product_id, worker_id, session_token, status, checklist,
	rdp_host, rdp_port, rdp_user, rdp_password, log_url,
	idempotency_key, created_at, updated_at, expires_at`

// GetByID retrieves a session by ID.
func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.VpsSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM vps_sessions WHERE id = $1`
	return r.scanSession(r.pool.QueryRow(ctx, query, id))
}

// GetByUserAndKey retrieves the session created under an idempotency key.
func (r *SessionRepository) GetByUserAndKey(ctx context.Context, userID uuid.UUID, key string) (*models.VpsSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM vps_sessions WHERE user_id = $1 AND idempotency_key = $2`
	return r.scanSession(r.pool.QueryRow(ctx, query, userID, key))
}

// ListByUser returns a user's sessions, newest first.
func (r *SessionRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.VpsSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM vps_sessions WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	return r.scanSessions(rows)
}

// List returns recent sessions across all users (admin view).
func (r *SessionRepository) List(ctx context.Context, limit int) ([]*models.VpsSession, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + sessionColumns + ` FROM vps_sessions ORDER BY created_at DESC LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	return r.scanSessions(rows)
}

// CreateWithDebit inserts the session and debits the product price in a
// single transaction. If the (user, idempotency_key) pair already exists the
// insert fails with ErrDuplicate and the debit rolls back, so a retried
// purchase can never charge twice.
func (r *SessionRepository) CreateWithDebit(ctx context.Context, s *models.VpsSession, price int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if s.UserID != nil && price > 0 {
		_, err = r.wallets.AdjustInTx(ctx, tx, *s.UserID, -price, models.LedgerTypePurchase, &s.ID,
			map[string]any{"product_id": s.ProductID})
		if err != nil {
			return err
		}
	}

	query := `
		INSERT INTO vps_sessions (
			id, user_id, product_id, session_token, status, checklist,
			idempotency_key, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = tx.Exec(ctx, query,
		s.ID, s.UserID, s.ProductID, s.SessionToken, s.Status, s.Checklist,
		s.IdempotencyKey, s.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert session: %w", err)
	}

	return tx.Commit(ctx)
}

// MarkProvisioning records the dispatched worker and moves pending → provisioning.
func (r *SessionRepository) MarkProvisioning(ctx context.Context, id, workerID uuid.UUID) error {
	query := `
		UPDATE vps_sessions SET
			status = 'provisioning',
			worker_id = $1,
			updated_at = now()
		WHERE id = $2 AND status = 'pending'
	`

	tag, err := r.pool.Exec(ctx, query, workerID, id)
	if err != nil {
		return fmt.Errorf("mark provisioning: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FailWithRefund marks the session failed and credits the price back in the
// same transaction. Used both when dispatch fails and when the worker
// reports a failed result.
func (r *SessionRepository) FailWithRefund(ctx context.Context, s *models.VpsSession, price int64, reason string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE vps_sessions SET status = 'failed', updated_at = now() WHERE id = $1 AND status IN ('pending', 'provisioning')`,
		s.ID)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if s.UserID != nil && price > 0 {
		_, err = r.wallets.AdjustInTx(ctx, tx, *s.UserID, price, models.LedgerTypeRefund, &s.ID,
			map[string]any{"reason": reason})
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// SetChecklist overwrites the checklist with the worker-supplied list.
func (r *SessionRepository) SetChecklist(ctx context.Context, id uuid.UUID, items models.Checklist) error {
	if items == nil {
		items = models.Checklist{}
	}
	query := `UPDATE vps_sessions SET checklist = $1, updated_at = now() WHERE id = $2`

	tag, err := r.pool.Exec(ctx, query, items, id)
	if err != nil {
		return fmt.Errorf("set checklist: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetReady attaches connection attributes and moves provisioning → ready.
func (r *SessionRepository) SetReady(ctx context.Context, id uuid.UUID, res *models.SessionResult) error {
	query := `
		UPDATE vps_sessions SET
			status = 'ready',
			rdp_host = $1,
			rdp_port = $2,
			rdp_user = $3,
			rdp_password = $4,
			log_url = $5,
			updated_at = now()
		WHERE id = $6 AND status = 'provisioning'
	`

	tag, err := r.pool.Exec(ctx, query,
		res.RdpHost, res.RdpPort, res.RdpUser, res.RdpPassword, res.LogURL, id,
	)
	if err != nil {
		return fmt.Errorf("set ready: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ExpireDue stamps expired on every non-terminal session past its expiry.
func (r *SessionRepository) ExpireDue(ctx context.Context) (int64, error) {
	query := `
		UPDATE vps_sessions SET status = 'expired', updated_at = now()
		WHERE expires_at IS NOT NULL
		  AND expires_at < now()
		  AND status IN ('pending', 'provisioning', 'ready')
	`

	tag, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("expire sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *SessionRepository) scanSession(row pgx.Row) (*models.VpsSession, error) {
	s := &models.VpsSession{}
	err := row.Scan(
		&s.ID, &s.UserID, &s.ProductID, &s.WorkerID, &s.SessionToken, &s.Status, &s.Checklist,
		&s.RdpHost, &s.RdpPort, &s.RdpUser, &s.RdpPassword, &s.LogURL,
		&s.IdempotencyKey, &s.CreatedAt, &s.UpdatedAt, &s.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return s, nil
}

func (r *SessionRepository) scanSessions(rows pgx.Rows) ([]*models.VpsSession, error) {
	var sessions []*models.VpsSession
	for rows.Next() {
		s := &models.VpsSession{}
		err := rows.Scan(
			&s.ID, &s.UserID, &s.ProductID, &s.WorkerID, &s.SessionToken, &s.Status, &s.Checklist,
			&s.RdpHost, &s.RdpPort, &s.RdpUser, &s.RdpPassword, &s.LogURL,
			&s.IdempotencyKey, &s.CreatedAt, &s.UpdatedAt, &s.ExpiresAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
