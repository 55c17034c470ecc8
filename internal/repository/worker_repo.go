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

type WorkerRepository struct {
	pool *pgxpool.Pool
}

func NewWorkerRepository(pool *pgxpool.Pool) *WorkerRepository {
	return &WorkerRepository{pool: pool}
}

const workerColumns = `
	id, name, base_url, status, max_sessions, credential_id,
	current_jobs, last_net_mbps, last_req_rate, last_heartbeat,
	created_at, updated_at`

// Create persists a new worker.
func (r *WorkerRepository) Create(ctx context.Context, w *models.Worker) error {
	query := `
		INSERT INTO workers (id, name, base_url, status, max_sessions, credential_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		w.ID, w.Name, w.BaseURL, w.Status, w.MaxSessions, w.CredentialID,
	)
	if err != nil {
		return fmt.Errorf("insert worker: %w", err)
	}
	return nil
}

// GetByID retrieves a worker by ID.
func (r *WorkerRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Worker, error) {
	query := `SELECT ` + workerColumns + ` FROM workers WHERE id = $1`
	return r.scanWorker(r.pool.QueryRow(ctx, query, id))
}

// GetByCredentialAndURL finds a worker previously self-registered with the
// same credential and base URL, used to make re-registration idempotent.
func (r *WorkerRepository) GetByCredentialAndURL(ctx context.Context, credentialID uuid.UUID, baseURL string) (*models.Worker, error) {
	query := `SELECT ` + workerColumns + ` FROM workers WHERE credential_id = $1 AND base_url = $2`
	return r.scanWorker(r.pool.QueryRow(ctx, query, credentialID, baseURL))
}

// List returns all workers, newest first.
func (r *WorkerRepository) List(ctx context.Context) ([]*models.Worker, error) {
	query := `SELECT ` + workerColumns + ` FROM workers ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query workers: %w", err)
	}
	defer rows.Close()

	return r.scanWorkers(rows)
}

// EligibleForProduct returns the product's assigned workers with status active.
// Capacity filtering happens in the service layer against live session counts.
func (r *WorkerRepository) EligibleForProduct(ctx context.Context, productID uuid.UUID) ([]*models.Worker, error) {
	query := `
		SELECT ` + workerColumns + `
		FROM workers w
		JOIN vps_product_workers pw ON pw.worker_id = w.id
		WHERE pw.product_id = $1 AND w.status = 'active'
		ORDER BY w.created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("query eligible workers: %w", err)
	}
	defer rows.Close()

	return r.scanWorkers(rows)
}

// ActiveSessionCounts counts sessions in pending/provisioning/ready per worker.
// Computed from session rows on demand, never from the self-reported counter.
func (r *WorkerRepository) ActiveSessionCounts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int, error) {
	counts := make(map[uuid.UUID]int, len(ids))
	if len(ids) == 0 {
		return counts, nil
	}

	query := `
		SELECT worker_id, COUNT(*)::int
		FROM vps_sessions
		WHERE worker_id = ANY($1)
		  AND status IN ('pending', 'provisioning', 'ready')
		GROUP BY worker_id
	`

	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("query session counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var workerID uuid.UUID
		var count int
		if err := rows.Scan(&workerID, &count); err != nil {
			return nil, fmt.Errorf("scan session count: %w", err)
		}
		counts[workerID] = count
	}
	return counts, rows.Err()
}

// Update persists the mutable worker fields.
func (r *WorkerRepository) Update(ctx context.Context, w *models.Worker) error {
	query := `
		UPDATE workers SET
			name = $1,
			base_url = $2,
			status = $3,
			max_sessions = $4,
			credential_id = $5,
			updated_at = now()
		WHERE id = $6
	`

	tag, err := r.pool.Exec(ctx, query,
		w.Name, w.BaseURL, w.Status, w.MaxSessions, w.CredentialID, w.ID,
	)
	if err != nil {
		return fmt.Errorf("update worker: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateTelemetry records a worker's self-reported load and heartbeat.
// Nil fields keep their previous value.
func (r *WorkerRepository) UpdateTelemetry(ctx context.Context, id uuid.UUID, currentJobs *int, netMbps, reqRate *float64) error {
	query := `
		UPDATE workers SET
			current_jobs = COALESCE($1, current_jobs),
			last_net_mbps = COALESCE($2, last_net_mbps),
			last_req_rate = COALESCE($3, last_req_rate),
			last_heartbeat = now(),
			updated_at = now()
		WHERE id = $4
	`

	tag, err := r.pool.Exec(ctx, query, currentJobs, netMbps, reqRate, id)
	if err != nil {
		return fmt.Errorf("update worker telemetry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DecrementJobs lowers the self-reported in-flight counter, floored at zero.
// Atomic in SQL so two concurrent result callbacks cannot race the read.
func (r *WorkerRepository) DecrementJobs(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE workers SET
			current_jobs = GREATEST(current_jobs - 1, 0),
			last_heartbeat = now(),
			updated_at = now()
		WHERE id = $1
	`

	if _, err := r.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("decrement worker jobs: %w", err)
	}
	return nil
}

func (r *WorkerRepository) scanWorker(row pgx.Row) (*models.Worker, error) {
	w := &models.Worker{}
	err := row.Scan(
		&w.ID, &w.Name, &w.BaseURL, &w.Status, &w.MaxSessions, &w.CredentialID,
		&w.CurrentJobs, &w.LastNetMbps, &w.LastReqRate, &w.LastHeartbeat,
		&w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan worker: %w", err)
	}
	return w, nil
}

func (r *WorkerRepository) scanWorkers(rows pgx.Rows) ([]*models.Worker, error) {
	var workers []*models.Worker
	for rows.Next() {
		w := &models.Worker{}
		err := rows.Scan(
			&w.ID, &w.Name, &w.BaseURL, &w.Status, &w.MaxSessions, &w.CredentialID,
			&w.CurrentJobs, &w.LastNetMbps, &w.LastReqRate, &w.LastHeartbeat,
			&w.CreatedAt, &w.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan worker row: %w", err)
		}
		workers = append(workers, w)
	}
	return workers, rows.Err()
}
