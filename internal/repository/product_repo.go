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

type ProductRepository struct {
	pool *pgxpool.Pool
}

func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// Create persists a product and its worker assignments in one transaction.
func (r *ProductRepository) Create(ctx context.Context, p *models.VpsProduct) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO vps_products (id, name, description, price_coins, provision_action, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = tx.Exec(ctx, query,
		p.ID, p.Name, p.Description, p.PriceCoins, p.ProvisionAction, p.IsActive,
	)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}

	if err := r.replaceWorkers(ctx, tx, p.ID, p.WorkerIDs); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GetByID retrieves a product with its assigned worker ids.
func (r *ProductRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.VpsProduct, error) {
	query := `
		SELECT id, name, description, price_coins, provision_action, is_active, created_at, updated_at
		FROM vps_products
		WHERE id = $1
	`

	p := &models.VpsProduct{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.Description, &p.PriceCoins, &p.ProvisionAction, &p.IsActive,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan product: %w", err)
	}

	p.WorkerIDs, err = r.workerIDs(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// List returns products, optionally restricted to active ones.
func (r *ProductRepository) List(ctx context.Context, activeOnly bool) ([]*models.VpsProduct, error) {
	query := `
		SELECT id, name, description, price_coins, provision_action, is_active, created_at, updated_at
		FROM vps_products
	`
	if activeOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	var products []*models.VpsProduct
	for rows.Next() {
		p := &models.VpsProduct{}
		err := rows.Scan(
			&p.ID, &p.Name, &p.Description, &p.PriceCoins, &p.ProvisionAction, &p.IsActive,
			&p.CreatedAt, &p.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// Update persists the product fields and, when workerIDs is non-nil,
// replaces the worker assignment set.
func (r *ProductRepository) Update(ctx context.Context, p *models.VpsProduct, replaceWorkers bool) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE vps_products SET
			name = $1,
			description = $2,
			price_coins = $3,
			provision_action = $4,
			is_active = $5,
			updated_at = now()
		WHERE id = $6
	`
	tag, err := tx.Exec(ctx, query,
		p.Name, p.Description, p.PriceCoins, p.ProvisionAction, p.IsActive, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if replaceWorkers {
		if err := r.replaceWorkers(ctx, tx, p.ID, p.WorkerIDs); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// Delete removes a product; the join rows cascade.
func (r *ProductRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM vps_products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ProductRepository) workerIDs(ctx context.Context, productID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT worker_id FROM vps_product_workers WHERE product_id = $1`, productID)
	if err != nil {
		return nil, fmt.Errorf("query product workers: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan product worker: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *ProductRepository) replaceWorkers(ctx context.Context, tx pgx.Tx, productID uuid.UUID, workerIDs []uuid.UUID) error {
	if _, err := tx.Exec(ctx, `DELETE FROM vps_product_workers WHERE product_id = $1`, productID); err != nil {
		return fmt.Errorf("clear product workers: %w", err)
	}
	for _, workerID := range workerIDs {
		_, err := tx.Exec(ctx,
			`INSERT INTO vps_product_workers (product_id, worker_id) VALUES ($1, $2)`,
			productID, workerID)
		if err != nil {
			return fmt.Errorf("assign worker %s: %w", workerID, err)
		}
	}
	return nil
}
