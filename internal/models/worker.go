package models

import (
	"time"

	"github.com/google/uuid"
)

// Worker status constants
const (
	WorkerStatusActive   = "active"
	WorkerStatusDisabled = "disabled"
)

// Worker load states derived from self-reported job counts. These are
// display-only; capacity decisions always use live session counts.
const (
	WorkerLoadIdle = "idle"
	WorkerLoadBusy = "busy"
)

// Worker represents a remote execution node that provisions sessions
// and reports back via signed callbacks.
type Worker struct {
	ID           uuid.UUID
	Name         *string
	BaseURL      string
	Status       string
	MaxSessions  int
	CredentialID *uuid.UUID

	// Self-reported telemetry from status callbacks. Never used for
	// dispatch capacity checks (the counter drifts), only for display.
	CurrentJobs   int
	LastNetMbps   *float64
	LastReqRate   *float64
	LastHeartbeat *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// LoadState derives busy/idle from the self-reported job count.
func (w *Worker) LoadState() string {
	if w.CurrentJobs > 0 {
		return WorkerLoadBusy
	}
	return WorkerLoadIdle
}

// WorkerCredential is the durable, revocable shared secret a worker
// signs its callbacks with. The secret is stored AES-GCM encrypted.
type WorkerCredential struct {
	ID              uuid.UUID
	Label           string
	TokenCiphertext string
	TokenPrefix     string
	CreatedBy       *uuid.UUID
	CreatedAt       time.Time
	RevokedAt       *time.Time
}

// Revoked reports whether the credential has been revoked.
func (c *WorkerCredential) Revoked() bool {
	return c.RevokedAt != nil
}
