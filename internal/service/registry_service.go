package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/kyaro/vps-broker/internal/models"
	"github.com/kyaro/vps-broker/internal/repository"
)

// HealthProber checks that a worker answers on its base URL before the
// registry accepts it.
type HealthProber interface {
	Health(ctx context.Context, baseURL string) error
}

// RegistryService manages the worker fleet.
type RegistryService struct {
	workers     *repository.WorkerRepository
	credentials *repository.CredentialRepository
	prober      HealthProber

	defaultMaxSessions int
}

func NewRegistryService(workers *repository.WorkerRepository, credentials *repository.CredentialRepository, prober HealthProber, defaultMaxSessions int) *RegistryService {
	return &RegistryService{
		workers:            workers,
		credentials:        credentials,
		prober:             prober,
		defaultMaxSessions: defaultMaxSessions,
	}
}

// Register adds a worker from the admin surface. The base URL is probed
// first; an unreachable worker is rejected rather than persisted.
func (s *RegistryService) Register(ctx context.Context, req *models.WorkerRegisterAdminRequest) (*models.Worker, error) {
	baseURL, err := normalizeBaseURL(req.BaseURL)
	if err != nil {
		return nil, err
	}

	if err := s.prober.Health(ctx, baseURL); err != nil {
		log.Printf("[Registry] Health probe failed for %s: %v", baseURL, err)
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
	}

	w := &models.Worker{
		ID:          uuid.New(),
		BaseURL:     baseURL,
		Status:      models.WorkerStatusActive,
		MaxSessions: req.MaxSessions,
	}
	if req.Name != "" {
		w.Name = &req.Name
	}
	if w.MaxSessions <= 0 {
		w.MaxSessions = s.defaultMaxSessions
	}
	if req.CredentialID != nil {
		credID, err := uuid.Parse(*req.CredentialID)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid credential_id", ErrValidation)
		}
		if _, err := s.credentials.GetByID(ctx, credID); err != nil {
			return nil, err
		}
		w.CredentialID = &credID
	}

	if err := s.workers.Create(ctx, w); err != nil {
		return nil, err
	}

	log.Printf("[Registry] Worker registered: id=%s url=%s max_sessions=%d", w.ID, w.BaseURL, w.MaxSessions)
	return w, nil
}

// Update applies a partial update to a worker.
func (s *RegistryService) Update(ctx context.Context, id uuid.UUID, req *models.WorkerUpdateRequest) (*models.Worker, error) {
	w, err := s.workers.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		w.Name = req.Name
	}
	if req.BaseURL != nil {
		baseURL, err := normalizeBaseURL(*req.BaseURL)
		if err != nil {
			return nil, err
		}
		w.BaseURL = baseURL
	}
	if req.Status != nil {
		if *req.Status != models.WorkerStatusActive && *req.Status != models.WorkerStatusDisabled {
			return nil, fmt.Errorf("%w: status must be active or disabled", ErrValidation)
		}
		w.Status = *req.Status
	}
	if req.MaxSessions != nil {
		if *req.MaxSessions < 0 {
			return nil, fmt.Errorf("%w: max_sessions must be >= 0", ErrValidation)
		}
		w.MaxSessions = *req.MaxSessions
	}
	if req.CredentialID != nil {
		if *req.CredentialID == "" {
			w.CredentialID = nil
		} else {
			credID, err := uuid.Parse(*req.CredentialID)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid credential_id", ErrValidation)
			}
			if _, err := s.credentials.GetByID(ctx, credID); err != nil {
				return nil, err
			}
			w.CredentialID = &credID
		}
	}

	if err := s.workers.Update(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// Get returns a worker with its live active-session count.
func (s *RegistryService) Get(ctx context.Context, id uuid.UUID) (*models.Worker, int, error) {
	w, err := s.workers.GetByID(ctx, id)
	if err != nil {
		return nil, 0, err
	}

	counts, err := s.workers.ActiveSessionCounts(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, 0, err
	}
	return w, counts[id], nil
}

// List returns all workers plus their live active-session counts.
func (s *RegistryService) List(ctx context.Context) ([]*models.Worker, map[uuid.UUID]int, error) {
	workers, err := s.workers.List(ctx)
	if err != nil {
		return nil, nil, err
	}

	ids := make([]uuid.UUID, len(workers))
	for i, w := range workers {
		ids[i] = w.ID
	}

	counts, err := s.workers.ActiveSessionCounts(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	return workers, counts, nil
}

// normalizeBaseURL strips trailing slashes so dispatch URL joins are stable.
func normalizeBaseURL(raw string) (string, error) {
	url := strings.TrimRight(strings.TrimSpace(raw), "/")
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "", fmt.Errorf("%w: base_url must start with http:// or https://", ErrValidation)
	}
	return url, nil
}
