package models

import (
	"time"

	"github.com/google/uuid"
)

// Session status constants
const (
	SessionStatusPending      = "pending"
	SessionStatusProvisioning = "provisioning"
	SessionStatusReady        = "ready"
	SessionStatusFailed       = "failed"
	SessionStatusExpired      = "expired"
	SessionStatusDeleted      = "deleted"
)

// ActiveSessionStatuses are the states that count against a worker's
// max_sessions capacity.
var ActiveSessionStatuses = []string{
	SessionStatusPending,
	SessionStatusProvisioning,
	SessionStatusReady,
}

// Checklist is the worker-supplied ordered list of provisioning steps.
// The items are free-form; the control plane stores and streams them
// without interpreting their shape.
type Checklist []map[string]any

// VpsSession is one tracked provisioning attempt.
type VpsSession struct {
	ID        uuid.UUID
	UserID    *uuid.UUID
	ProductID *uuid.UUID
	WorkerID  *uuid.UUID

	// SessionToken is the opaque capability handed to the worker so it
	// can authenticate itself as the legitimate handler of this session.
	SessionToken string

	Status    string
	Checklist Checklist

	// Connection attributes, populated only when the session is ready.
	RdpHost     *string
	RdpPort     *int
	RdpUser     *string
	RdpPassword *string
	LogURL      *string

	IdempotencyKey *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ExpiresAt      *time.Time
}

// Terminal reports whether the session can no longer transition.
func (s *VpsSession) Terminal() bool {
	switch s.Status {
	case SessionStatusReady, SessionStatusFailed, SessionStatusExpired, SessionStatusDeleted:
		return true
	}
	return false
}

// Expired reports whether the session is past its expiry time. Read paths
// must treat connection credentials of an expired session as invalid even
// before the sweeper has stamped the status.
func (s *VpsSession) Expired(now time.Time) bool {
	if s.Status == SessionStatusExpired {
		return true
	}
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

// SessionResult carries the connection fields a worker reports on success.
type SessionResult struct {
	RdpHost     *string
	RdpPort     *int
	RdpUser     *string
	RdpPassword *string
	LogURL      *string
}

// SessionLog is one diagnostic trail entry for a session.
type SessionLog struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	Action    string
	Status    string
	Message   string
	Metadata  map[string]any
	CreatedAt time.Time
}
