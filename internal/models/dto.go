package models

// ==================== User API DTOs ====================

// PurchaseRequest starts (or idempotently retries) a session purchase
type PurchaseRequest struct {
	ProductID      string `json:"product_id" binding:"required"`
	IdempotencyKey string `json:"idempotency_key" binding:"required"`
}

// SessionResponse is the user-facing view of a session
type SessionResponse struct {
	SessionID   string    `json:"session_id"`
	ProductID   string    `json:"product_id,omitempty"`
	Status      string    `json:"status"`
	Checklist   Checklist `json:"checklist"`
	RdpHost     *string   `json:"rdp_host,omitempty"`
	RdpPort     *int      `json:"rdp_port,omitempty"`
	RdpUser     *string   `json:"rdp_user,omitempty"`
	RdpPassword *string   `json:"rdp_password,omitempty"`
	LogURL      *string   `json:"log_url,omitempty"`
	CreatedAt   string    `json:"created_at"`
	UpdatedAt   string    `json:"updated_at"`
	ExpiresAt   *string   `json:"expires_at,omitempty"`
}

// ProductResponse is one catalog entry as shown to users
type ProductResponse struct {
	ProductID   string  `json:"product_id"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	PriceCoins  int64   `json:"price_coins"`
	IsActive    bool    `json:"is_active"`
}

// WalletResponse is the current balance
type WalletResponse struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

// LedgerEntryResponse is one balance adjustment record
type LedgerEntryResponse struct {
	EntryID      string  `json:"entry_id"`
	Type         string  `json:"type"`
	Amount       int64   `json:"amount"`
	BalanceAfter int64   `json:"balance_after"`
	RefID        *string `json:"ref_id,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

// ==================== Worker protocol DTOs ====================

// WorkerRegisterRequest is sent by a worker presenting its credential
type WorkerRegisterRequest struct {
	TokenID    string `json:"token_id" binding:"required"`
	AdminToken string `json:"admin_token" binding:"required"`
	BaseURL    string `json:"base_url" binding:"required"`
	Name       string `json:"name"`
}

// JobProduct is the product descriptor embedded in a dispatch payload
type JobProduct struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	PriceCoins  int64   `json:"price_coins"`
	Description *string `json:"description"`
}

// JobCallbackURLs tells the worker where to report progress
type JobCallbackURLs struct {
	Status    string `json:"status"`
	Checklist string `json:"checklist"`
	Result    string `json:"result"`
}

// JobCreateRequest is the payload POSTed to {worker}/job/create
type JobCreateRequest struct {
	WorkerID        string          `json:"worker_id"`
	SessionID       string          `json:"session_id"`
	SessionToken    string          `json:"session_token"`
	ProvisionAction int             `json:"provision_action"`
	Product         JobProduct      `json:"product"`
	CallbackURLs    JobCallbackURLs `json:"callback_urls"`
}

// StatusCallback is the body of POST /workers/callback/status
type StatusCallback struct {
	CurrentJobs *int     `json:"current_jobs"`
	NetMbps     *float64 `json:"net_mbps"`
	ReqRate     *float64 `json:"req_rate"`
}

// ChecklistCallback is the body of POST /workers/callback/checklist
type ChecklistCallback struct {
	SessionID string    `json:"session_id"`
	Items     Checklist `json:"items"`
}

// ResultCallback is the body of POST /workers/callback/result
type ResultCallback struct {
	SessionID   string  `json:"session_id"`
	Status      string  `json:"status"`
	Message     string  `json:"message"`
	RdpHost     *string `json:"rdp_host"`
	RdpPort     *int    `json:"rdp_port"`
	RdpUser     *string `json:"rdp_user"`
	RdpPassword *string `json:"rdp_password"`
	LogURL      *string `json:"log_url"`
}

// ==================== Admin API DTOs ====================

// WorkerRegisterAdminRequest registers a worker from the admin surface.
// The base URL is health-probed before the worker is persisted.
type WorkerRegisterAdminRequest struct {
	Name         string  `json:"name"`
	BaseURL      string  `json:"base_url" binding:"required"`
	MaxSessions  int     `json:"max_sessions"`
	CredentialID *string `json:"credential_id"`
}

// WorkerUpdateRequest is a partial worker update
type WorkerUpdateRequest struct {
	Name         *string `json:"name"`
	BaseURL      *string `json:"base_url"`
	Status       *string `json:"status"`
	MaxSessions  *int    `json:"max_sessions"`
	CredentialID *string `json:"credential_id"`
}

// WorkerResponse is the admin view of a worker with live session count
type WorkerResponse struct {
	WorkerID       string   `json:"worker_id"`
	Name           *string  `json:"name"`
	BaseURL        string   `json:"base_url"`
	Status         string   `json:"status"`
	LoadState      string   `json:"load_state"`
	MaxSessions    int      `json:"max_sessions"`
	ActiveSessions int      `json:"active_sessions"`
	CurrentJobs    int      `json:"current_jobs"`
	LastNetMbps    *float64 `json:"last_net_mbps,omitempty"`
	LastReqRate    *float64 `json:"last_req_rate,omitempty"`
	LastHeartbeat  *string  `json:"last_heartbeat,omitempty"`
	CredentialID   *string  `json:"credential_id,omitempty"`
	CreatedAt      string   `json:"created_at"`
}

// ProductCreateRequest creates a catalog entry
type ProductCreateRequest struct {
	Name            string   `json:"name" binding:"required"`
	Description     *string  `json:"description"`
	PriceCoins      int64    `json:"price_coins"`
	ProvisionAction int      `json:"provision_action"`
	IsActive        *bool    `json:"is_active"`
	WorkerIDs       []string `json:"worker_ids"`
}

// ProductUpdateRequest is a partial product update
type ProductUpdateRequest struct {
	Name            *string  `json:"name"`
	Description     *string  `json:"description"`
	PriceCoins      *int64   `json:"price_coins"`
	ProvisionAction *int     `json:"provision_action"`
	IsActive        *bool    `json:"is_active"`
	WorkerIDs       []string `json:"worker_ids"`
}

// CredentialCreateRequest mints a new worker signing secret
type CredentialCreateRequest struct {
	Label string `json:"label" binding:"required"`
	Token string `json:"token" binding:"required"`
}

// CredentialResponse never exposes the secret, only its prefix
type CredentialResponse struct {
	CredentialID string  `json:"credential_id"`
	Label        string  `json:"label"`
	TokenPrefix  string  `json:"token_prefix"`
	CreatedAt    string  `json:"created_at"`
	RevokedAt    *string `json:"revoked_at,omitempty"`
}

// WalletCreditRequest is an admin-initiated balance grant
type WalletCreditRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Amount int64  `json:"amount" binding:"required"`
	Type   string `json:"type" binding:"required"`
	Note   string `json:"note"`
}

// SessionLogResponse is one diagnostic trail entry
type SessionLogResponse struct {
	LogID     string `json:"log_id"`
	Action    string `json:"action"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}
