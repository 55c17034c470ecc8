package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kyaro/vps-broker/internal/models"
	"github.com/kyaro/vps-broker/internal/service"
)

// WorkerHandler serves the worker-facing protocol: self-registration plus
// the three signed callbacks.
type WorkerHandler struct {
	credentialService *service.CredentialService
	callbackService   *service.CallbackService
}

func NewWorkerHandler(credentialService *service.CredentialService, callbackService *service.CallbackService) *WorkerHandler {
	return &WorkerHandler{
		credentialService: credentialService,
		callbackService:   callbackService,
	}
}

// callbackWorkerID reads the worker identity the signature middleware verified.
func callbackWorkerID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.GetString("workerID"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing worker identity"})
		return uuid.Nil, false
	}
	return id, true
}

// Register authenticates a worker's credential and upserts its fleet entry
func (h *WorkerHandler) Register(c *gin.Context) {
	var req models.WorkerRegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	worker, err := h.credentialService.VerifyAndRegister(c.Request.Context(), &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"worker_id": worker.ID.String(),
		"status":    worker.Status,
	})
}

// Status records worker telemetry
func (h *WorkerHandler) Status(c *gin.Context) {
	workerID, ok := callbackWorkerID(c)
	if !ok {
		return
	}

	var req models.StatusCallback
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.callbackService.Status(c.Request.Context(), workerID, &req); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Checklist replaces a session's provisioning step list
func (h *WorkerHandler) Checklist(c *gin.Context) {
	workerID, ok := callbackWorkerID(c)
	if !ok {
		return
	}

	var req models.ChecklistCallback
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.callbackService.Checklist(c.Request.Context(), workerID, &req); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Result finalizes a session as ready or failed
func (h *WorkerHandler) Result(c *gin.Context) {
	workerID, ok := callbackWorkerID(c)
	if !ok {
		return
	}

	var req models.ResultCallback
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.callbackService.Result(c.Request.Context(), workerID, &req); err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
