package service

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/kyaro/vps-broker/internal/models"
	"github.com/kyaro/vps-broker/internal/repository"
)

// ProductService manages the purchasable catalog.
type ProductService struct {
	products *repository.ProductRepository
	workers  *repository.WorkerRepository
}

func NewProductService(products *repository.ProductRepository, workers *repository.WorkerRepository) *ProductService {
	return &ProductService{products: products, workers: workers}
}

// Create adds a catalog entry. Assigned workers must exist.
func (s *ProductService) Create(ctx context.Context, req *models.ProductCreateRequest) (*models.VpsProduct, error) {
	if req.PriceCoins < 0 {
		return nil, fmt.Errorf("%w: price_coins must be >= 0", ErrValidation)
	}

	workerIDs, err := s.resolveWorkerIDs(ctx, req.WorkerIDs)
	if err != nil {
		return nil, err
	}

	p := &models.VpsProduct{
		ID:              uuid.New(),
		Name:            req.Name,
		Description:     req.Description,
		PriceCoins:      req.PriceCoins,
		ProvisionAction: req.ProvisionAction,
		IsActive:        true,
		WorkerIDs:       workerIDs,
	}
	if req.IsActive != nil {
		p.IsActive = *req.IsActive
	}

	if err := s.products.Create(ctx, p); err != nil {
		return nil, err
	}

	log.Printf("[Product] Created product id=%s name=%s price=%d workers=%d", p.ID, p.Name, p.PriceCoins, len(p.WorkerIDs))
	return p, nil
}

// Update applies a partial update. A non-nil worker_ids list replaces the
// assignment set wholesale.
func (s *ProductService) Update(ctx context.Context, id uuid.UUID, req *models.ProductUpdateRequest) (*models.VpsProduct, error) {
	p, err := s.products.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		p.Name = *req.Name
	}
	if req.Description != nil {
		p.Description = req.Description
	}
	if req.PriceCoins != nil {
		if *req.PriceCoins < 0 {
			return nil, fmt.Errorf("%w: price_coins must be >= 0", ErrValidation)
		}
		p.PriceCoins = *req.PriceCoins
	}
	if req.ProvisionAction != nil {
		p.ProvisionAction = *req.ProvisionAction
	}
	if req.IsActive != nil {
		p.IsActive = *req.IsActive
	}

	replaceWorkers := req.WorkerIDs != nil
	if replaceWorkers {
		workerIDs, err := s.resolveWorkerIDs(ctx, req.WorkerIDs)
		if err != nil {
			return nil, err
		}
		p.WorkerIDs = workerIDs
	}

	if err := s.products.Update(ctx, p, replaceWorkers); err != nil {
		return nil, err
	}
	return p, nil
}

// Delete removes a product from the catalog.
func (s *ProductService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.products.Delete(ctx, id)
}

// Get returns one product with its worker assignments.
func (s *ProductService) Get(ctx context.Context, id uuid.UUID) (*models.VpsProduct, error) {
	return s.products.GetByID(ctx, id)
}

// List returns the catalog; activeOnly hides disabled entries for the
// user-facing surface.
func (s *ProductService) List(ctx context.Context, activeOnly bool) ([]*models.VpsProduct, error) {
	return s.products.List(ctx, activeOnly)
}

func (s *ProductService) resolveWorkerIDs(ctx context.Context, raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, v := range raw {
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid worker id %q", ErrValidation, v)
		}
		if _, err := s.workers.GetByID(ctx, id); err != nil {
			if err == repository.ErrNotFound {
				return nil, fmt.Errorf("%w: worker %s not found", ErrValidation, id)
			}
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
