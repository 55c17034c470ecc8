package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kyaro/vps-broker/internal/models"
	"github.com/kyaro/vps-broker/internal/service"
)

// AdminHandler serves the operator API: fleet, credentials, catalog,
// sessions and wallet grants.
type AdminHandler struct {
	registryService   *service.RegistryService
	credentialService *service.CredentialService
	productService    *service.ProductService
	sessionService    *service.SessionService
	walletService     *service.WalletService
}

func NewAdminHandler(registryService *service.RegistryService, credentialService *service.CredentialService, productService *service.ProductService, sessionService *service.SessionService, walletService *service.WalletService) *AdminHandler {
	return &AdminHandler{
		registryService:   registryService,
		credentialService: credentialService,
		productService:    productService,
		sessionService:    sessionService,
		walletService:     walletService,
	}
}

// ==================== Workers ====================

// RegisterWorker adds a worker after probing its health endpoint
func (h *AdminHandler) RegisterWorker(c *gin.Context) {
	var req models.WorkerRegisterAdminRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	worker, err := h.registryService.Register(c.Request.Context(), &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toWorkerResponse(worker, 0))
}

// ListWorkers returns the fleet with live session counts
func (h *AdminHandler) ListWorkers(c *gin.Context) {
	workers, counts, err := h.registryService.List(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	out := make([]models.WorkerResponse, 0, len(workers))
	for _, w := range workers {
		out = append(out, toWorkerResponse(w, counts[w.ID]))
	}
	c.JSON(http.StatusOK, gin.H{"workers": out})
}

// GetWorker returns one worker with its live session count
func (h *AdminHandler) GetWorker(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid worker id"})
		return
	}

	worker, active, err := h.registryService.Get(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, toWorkerResponse(worker, active))
}

// UpdateWorker applies a partial worker update
func (h *AdminHandler) UpdateWorker(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid worker id"})
		return
	}

	var req models.WorkerUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	worker, err := h.registryService.Update(c.Request.Context(), id, &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, toWorkerResponse(worker, 0))
}

// ==================== Credentials ====================

// CreateCredential mints a worker signing secret
func (h *AdminHandler) CreateCredential(c *gin.Context) {
	var req models.CredentialCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cred, err := h.credentialService.Create(c.Request.Context(), req.Label, req.Token, nil)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toCredentialResponse(cred))
}

// ListCredentials returns all credentials, secrets never included
func (h *AdminHandler) ListCredentials(c *gin.Context) {
	creds, err := h.credentialService.List(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	out := make([]models.CredentialResponse, 0, len(creds))
	for _, cred := range creds {
		out = append(out, toCredentialResponse(cred))
	}
	c.JSON(http.StatusOK, gin.H{"credentials": out})
}

// RevokeCredential permanently revokes a signing secret
func (h *AdminHandler) RevokeCredential(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid credential id"})
		return
	}

	if err := h.credentialService.Revoke(c.Request.Context(), id); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

// ==================== Products ====================

// CreateProduct adds a catalog entry
func (h *AdminHandler) CreateProduct(c *gin.Context) {
	var req models.ProductCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	product, err := h.productService.Create(c.Request.Context(), &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toAdminProductResponse(product))
}

// ListProducts returns the full catalog including inactive entries
func (h *AdminHandler) ListProducts(c *gin.Context) {
	products, err := h.productService.List(c.Request.Context(), false)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	out := make([]gin.H, 0, len(products))
	for _, p := range products {
		out = append(out, toAdminProductResponse(p))
	}
	c.JSON(http.StatusOK, gin.H{"products": out})
}

// UpdateProduct applies a partial product update
func (h *AdminHandler) UpdateProduct(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product id"})
		return
	}

	var req models.ProductUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	product, err := h.productService.Update(c.Request.Context(), id, &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, toAdminProductResponse(product))
}

// DeleteProduct removes a catalog entry
func (h *AdminHandler) DeleteProduct(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product id"})
		return
	}

	if err := h.productService.Delete(c.Request.Context(), id); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// ==================== Sessions ====================

// ListSessions returns recent sessions across all users
func (h *AdminHandler) ListSessions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	sessions, err := h.sessionService.List(c.Request.Context(), limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	out := make([]models.SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toSessionResponse(s))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

// GetSession returns any session by id
func (h *AdminHandler) GetSession(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	session, err := h.sessionService.Get(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(session))
}

// ExpireSessions runs the expiry sweep immediately
func (h *AdminHandler) ExpireSessions(c *gin.Context) {
	n, err := h.sessionService.ExpireDue(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expired": n})
}

// ==================== Wallet ====================

// CreditWallet grants coins to a user
func (h *AdminHandler) CreditWallet(c *gin.Context) {
	var req models.WalletCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	uid, err := uuid.Parse(req.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
		return
	}

	balance, err := h.walletService.Credit(c.Request.Context(), uid, req.Amount, req.Type, req.Note)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user_id": req.UserID, "balance": balance})
}

// ==================== Response mapping ====================

func toWorkerResponse(w *models.Worker, active int) models.WorkerResponse {
	resp := models.WorkerResponse{
		WorkerID:       w.ID.String(),
		Name:           w.Name,
		BaseURL:        w.BaseURL,
		Status:         w.Status,
		LoadState:      w.LoadState(),
		MaxSessions:    w.MaxSessions,
		ActiveSessions: active,
		CurrentJobs:    w.CurrentJobs,
		LastNetMbps:    w.LastNetMbps,
		LastReqRate:    w.LastReqRate,
		CreatedAt:      w.CreatedAt.Format(time.RFC3339),
	}
	if w.LastHeartbeat != nil {
		hb := w.LastHeartbeat.Format(time.RFC3339)
		resp.LastHeartbeat = &hb
	}
	if w.CredentialID != nil {
		cred := w.CredentialID.String()
		resp.CredentialID = &cred
	}
	return resp
}

func toCredentialResponse(cred *models.WorkerCredential) models.CredentialResponse {
	resp := models.CredentialResponse{
		CredentialID: cred.ID.String(),
		Label:        cred.Label,
		TokenPrefix:  cred.TokenPrefix,
		CreatedAt:    cred.CreatedAt.Format(time.RFC3339),
	}
	if cred.RevokedAt != nil {
		revoked := cred.RevokedAt.Format(time.RFC3339)
		resp.RevokedAt = &revoked
	}
	return resp
}

func toAdminProductResponse(p *models.VpsProduct) gin.H {
	workerIDs := make([]string, 0, len(p.WorkerIDs))
	for _, id := range p.WorkerIDs {
		workerIDs = append(workerIDs, id.String())
	}
	return gin.H{
		"product_id":       p.ID.String(),
		"name":             p.Name,
		"description":      p.Description,
		"price_coins":      p.PriceCoins,
		"provision_action": p.ProvisionAction,
		"is_active":        p.IsActive,
		"worker_ids":       workerIDs,
		"created_at":       p.CreatedAt.Format(time.RFC3339),
	}
}
