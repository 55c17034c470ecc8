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

type CredentialRepository struct {
	pool *pgxpool.Pool
}

func NewCredentialRepository(pool *pgxpool.Pool) *CredentialRepository {
	return &CredentialRepository{pool: pool}
}

// Create stores a new encrypted worker credential.
func (r *CredentialRepository) Create(ctx context.Context, c *models.WorkerCredential) error {
	query := `
		INSERT INTO worker_credentials (id, label, token_ciphertext, token_prefix, created_by)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.pool.Exec(ctx, query,
		c.ID, c.Label, c.TokenCiphertext, c.TokenPrefix, c.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

// GetByID retrieves a credential by ID.
func (r *CredentialRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.WorkerCredential, error) {
	query := `
		SELECT id, label, token_ciphertext, token_prefix, created_by, created_at, revoked_at
		FROM worker_credentials
		WHERE id = $1
	`

	c := &models.WorkerCredential{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.Label, &c.TokenCiphertext, &c.TokenPrefix, &c.CreatedBy, &c.CreatedAt, &c.RevokedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan credential: %w", err)
	}
	return c, nil
}

// List returns all credentials, newest first.
func (r *CredentialRepository) List(ctx context.Context) ([]*models.WorkerCredential, error) {
	query := `
		SELECT id, label, token_ciphertext, token_prefix, created_by, created_at, revoked_at
		FROM worker_credentials
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query credentials: %w", err)
	}
	defer rows.Close()

	var creds []*models.WorkerCredential
	for rows.Next() {
		c := &models.WorkerCredential{}
		err := rows.Scan(
			&c.ID, &c.Label, &c.TokenCiphertext, &c.TokenPrefix, &c.CreatedBy, &c.CreatedAt, &c.RevokedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan credential row: %w", err)
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

// Revoke stamps revoked_at. Revoking an already-revoked credential is a no-op.
func (r *CredentialRepository) Revoke(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE worker_credentials SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish missing from already revoked.
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
	}
	return nil
}
