package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kyaro/vps-broker/internal/eventbus"
	"github.com/kyaro/vps-broker/internal/models"
	"github.com/kyaro/vps-broker/internal/repository"
	"github.com/kyaro/vps-broker/internal/service"
)

// ssePingInterval keeps idle streams alive through proxies.
const ssePingInterval = 25 * time.Second

// Handler serves the user-facing API.
type Handler struct {
	sessionService *service.SessionService
	productService *service.ProductService
	walletService  *service.WalletService
	bus            *eventbus.Bus
}

func NewHandler(sessionService *service.SessionService, productService *service.ProductService, walletService *service.WalletService, bus *eventbus.Bus) *Handler {
	return &Handler{
		sessionService: sessionService,
		productService: productService,
		walletService:  walletService,
		bus:            bus,
	}
}

// userID extracts the authenticated user from the JWT middleware context.
func userID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.GetString("userID"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid user identity"})
		return uuid.Nil, false
	}
	return id, true
}

// respondServiceError maps service and repository sentinels to HTTP codes.
func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, repository.ErrInsufficientFunds):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient balance"})
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, service.ErrConflict), errors.Is(err, repository.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict"})
	case errors.Is(err, service.ErrNoCapacity):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no worker capacity available, purchase refunded"})
	case errors.Is(err, service.ErrDispatchFailed), errors.Is(err, service.ErrUpstreamUnreachable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "worker unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// ==================== Catalog ====================

// ListProducts returns the active catalog
func (h *Handler) ListProducts(c *gin.Context) {
	products, err := h.productService.List(c.Request.Context(), true)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	out := make([]models.ProductResponse, 0, len(products))
	for _, p := range products {
		out = append(out, toProductResponse(p))
	}
	c.JSON(http.StatusOK, gin.H{"products": out})
}

// ==================== Sessions ====================

// Purchase buys a product and dispatches a provisioning session
func (h *Handler) Purchase(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	var req models.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.sessionService.Purchase(c.Request.Context(), uid, &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toSessionResponse(session))
}

// ListSessions returns the current user's sessions
func (h *Handler) ListSessions(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	sessions, err := h.sessionService.ListForUser(c.Request.Context(), uid)
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

// GetSession returns one session owned by the current user
func (h *Handler) GetSession(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	session, err := h.sessionService.GetForUser(c.Request.Context(), uid, sessionID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, toSessionResponse(session))
}

// GetSessionLogs returns the diagnostic trail of a session
func (h *Handler) GetSessionLogs(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	logs, err := h.sessionService.LogsForUser(c.Request.Context(), uid, sessionID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	out := make([]models.SessionLogResponse, 0, len(logs))
	for _, entry := range logs {
		out = append(out, models.SessionLogResponse{
			LogID:     entry.ID.String(),
			Action:    entry.Action,
			Status:    entry.Status,
			Message:   entry.Message,
			CreatedAt: entry.CreatedAt.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"logs": out})
}

// StreamSession streams session lifecycle events over SSE. The first event
// is always a full snapshot; subscribers that join late or lose events to
// queue eviction resynchronize from it.
func (h *Handler) StreamSession(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	session, err := h.sessionService.GetForUser(c.Request.Context(), uid, sessionID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	sub := h.bus.Subscribe(sessionID)
	defer h.bus.Unsubscribe(sessionID, sub)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	writeSSE(c, eventbus.EventSnapshot, toSessionResponse(session))

	// A terminal session still gets its snapshot, then the stream ends.
	if session.Terminal() {
		return
	}

	ticker := time.NewTicker(ssePingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case event := <-sub.C:
			writeSSE(c, event.Type, event.Data)
			if event.Type == eventbus.EventReady || event.Type == eventbus.EventFailed {
				return
			}
		case <-ticker.C:
			fmt.Fprint(c.Writer, ": ping\n\n")
			c.Writer.Flush()
		}
	}
}

func writeSSE(c *gin.Context, eventType string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", eventType, payload)
	c.Writer.Flush()
}

// ==================== Wallet ====================

// GetWallet returns the current balance
func (h *Handler) GetWallet(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	wallet, err := h.walletService.Balance(c.Request.Context(), uid)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.WalletResponse{
		UserID:  wallet.UserID.String(),
		Balance: wallet.Balance,
	})
}

// GetLedger returns the balance adjustment history
func (h *Handler) GetLedger(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	entries, err := h.walletService.History(c.Request.Context(), uid, 0)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	out := make([]models.LedgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp := models.LedgerEntryResponse{
			EntryID:      e.ID.String(),
			Type:         e.Type,
			Amount:       e.Amount,
			BalanceAfter: e.BalanceAfter,
			CreatedAt:    e.CreatedAt.Format(time.RFC3339),
		}
		if e.RefID != nil {
			ref := e.RefID.String()
			resp.RefID = &ref
		}
		out = append(out, resp)
	}
	c.JSON(http.StatusOK, gin.H{"entries": out})
}

// ==================== Response mapping ====================

func toSessionResponse(s *models.VpsSession) models.SessionResponse {
	resp := models.SessionResponse{
		SessionID:   s.ID.String(),
		Status:      s.Status,
		Checklist:   s.Checklist,
		RdpHost:     s.RdpHost,
		RdpPort:     s.RdpPort,
		RdpUser:     s.RdpUser,
		RdpPassword: s.RdpPassword,
		LogURL:      s.LogURL,
		CreatedAt:   s.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   s.UpdatedAt.Format(time.RFC3339),
	}
	if resp.Checklist == nil {
		resp.Checklist = models.Checklist{}
	}
	if s.ProductID != nil {
		resp.ProductID = s.ProductID.String()
	}
	if s.ExpiresAt != nil {
		expires := s.ExpiresAt.Format(time.RFC3339)
		resp.ExpiresAt = &expires
	}
	return resp
}

func toProductResponse(p *models.VpsProduct) models.ProductResponse {
	return models.ProductResponse{
		ProductID:   p.ID.String(),
		Name:        p.Name,
		Description: p.Description,
		PriceCoins:  p.PriceCoins,
		IsActive:    p.IsActive,
	}
}
