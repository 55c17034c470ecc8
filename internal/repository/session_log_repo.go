package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kyaro/vps-broker/internal/models"
)

type SessionLogRepository struct {
	pool *pgxpool.Pool
}

func NewSessionLogRepository(pool *pgxpool.Pool) *SessionLogRepository {
	return &SessionLogRepository{pool: pool}
}

// Create appends a diagnostic log entry for a session.
func (r *SessionLogRepository) Create(ctx context.Context, logEntry *models.SessionLog) error {
	if logEntry.ID == uuid.Nil {
		logEntry.ID = uuid.New()
	}

	query := `
		INSERT INTO session_logs (id, session_id, action, status, message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		logEntry.ID, logEntry.SessionID, logEntry.Action, logEntry.Status, logEntry.Message, logEntry.Metadata,
	)
	if err != nil {
		return fmt.Errorf("insert session log: %w", err)
	}
	return nil
}

// GetBySessionID retrieves log entries for a session.
func (r *SessionLogRepository) GetBySessionID(ctx context.Context, sessionID uuid.UUID, limit int) ([]*models.SessionLog, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, session_id, action, status, message, metadata, created_at
		FROM session_logs
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query session logs: %w", err)
	}
	defer rows.Close()

	var logEntries []*models.SessionLog
	for rows.Next() {
		logEntry := &models.SessionLog{}
		err := rows.Scan(
			&logEntry.ID, &logEntry.SessionID, &logEntry.Action, &logEntry.Status,
			&logEntry.Message, &logEntry.Metadata, &logEntry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan session log: %w", err)
		}
		logEntries = append(logEntries, logEntry)
	}
	return logEntries, rows.Err()
}

// LogAction is a helper to log an action
func (r *SessionLogRepository) LogAction(ctx context.Context, sessionID uuid.UUID, action, status, message string) error {
	return r.Create(ctx, &models.SessionLog{
		SessionID: sessionID,
		Action:    action,
		Status:    status,
		Message:   message,
	})
}
