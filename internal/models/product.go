package models

import (
	"time"

	"github.com/google/uuid"
)

// VpsProduct is a purchasable catalog entry. ProvisionAction is an opaque
// selector telling the worker which provisioning routine to run.
type VpsProduct struct {
	ID              uuid.UUID
	Name            string
	Description     *string
	PriceCoins      int64
	ProvisionAction int
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time

	// Assigned worker pool. Only active workers may be assigned.
	WorkerIDs []uuid.UUID
}
