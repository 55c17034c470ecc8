package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/kyaro/vps-broker/internal/eventbus"
	"github.com/kyaro/vps-broker/internal/models"
	"github.com/kyaro/vps-broker/internal/repository"
)

// SessionStore is the session persistence surface the services need.
// Satisfied by repository.SessionRepository.
type SessionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.VpsSession, error)
	GetByUserAndKey(ctx context.Context, userID uuid.UUID, key string) (*models.VpsSession, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.VpsSession, error)
	List(ctx context.Context, limit int) ([]*models.VpsSession, error)
	CreateWithDebit(ctx context.Context, s *models.VpsSession, price int64) error
	MarkProvisioning(ctx context.Context, id, workerID uuid.UUID) error
	FailWithRefund(ctx context.Context, s *models.VpsSession, price int64, reason string) error
	SetChecklist(ctx context.Context, id uuid.UUID, items models.Checklist) error
	SetReady(ctx context.Context, id uuid.UUID, res *models.SessionResult) error
	ExpireDue(ctx context.Context) (int64, error)
}

// WorkerStore is the worker persistence surface the services need.
// Satisfied by repository.WorkerRepository.
type WorkerStore interface {
	EligibleForProduct(ctx context.Context, productID uuid.UUID) ([]*models.Worker, error)
	ActiveSessionCounts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int, error)
	UpdateTelemetry(ctx context.Context, id uuid.UUID, currentJobs *int, netMbps, reqRate *float64) error
	DecrementJobs(ctx context.Context, id uuid.UUID) error
}

// ProductStore is satisfied by repository.ProductRepository.
type ProductStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.VpsProduct, error)
}

// LogStore is satisfied by repository.SessionLogRepository.
type LogStore interface {
	LogAction(ctx context.Context, sessionID uuid.UUID, action, status, message string) error
	GetBySessionID(ctx context.Context, sessionID uuid.UUID, limit int) ([]*models.SessionLog, error)
}

// Dispatcher hands jobs to workers. Satisfied by client.WorkerClient.
type Dispatcher interface {
	DispatchJob(ctx context.Context, baseURL string, job *models.JobCreateRequest) error
}

// SessionService runs the purchase flow and the user-facing session reads.
type SessionService struct {
	sessions   SessionStore
	products   ProductStore
	workers    WorkerStore
	logs       LogStore
	dispatcher Dispatcher
	bus        *eventbus.Bus
	strategy   SelectionStrategy
	sessionTTL time.Duration
}

func NewSessionService(sessions SessionStore, products ProductStore, workers WorkerStore, logs LogStore, dispatcher Dispatcher, bus *eventbus.Bus, sessionTTL time.Duration) *SessionService {
	return &SessionService{
		sessions:   sessions,
		products:   products,
		workers:    workers,
		logs:       logs,
		dispatcher: dispatcher,
		bus:        bus,
		strategy:   LeastLoaded,
		sessionTTL: sessionTTL,
	}
}

// Purchase debits the product price, creates the session and dispatches it
// to a worker. The debit and the session row commit in one transaction; if
// anything after that fails the session is marked failed and the price
// refunded, so money and sessions never diverge.
//
// Repeating a purchase with the same idempotency key returns the original
// session without charging again.
func (s *SessionService) Purchase(ctx context.Context, userID uuid.UUID, req *models.PurchaseRequest) (*models.VpsSession, error) {
	productID, err := uuid.Parse(req.ProductID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid product_id", ErrValidation)
	}

	product, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !product.IsActive {
		return nil, repository.ErrNotFound
	}

	expiresAt := time.Now().Add(s.sessionTTL)
	session := &models.VpsSession{
		ID:             uuid.New(),
		UserID:         &userID,
		ProductID:      &productID,
		SessionToken:   newSessionToken(),
		Status:         models.SessionStatusPending,
		Checklist:      models.Checklist{},
		IdempotencyKey: &req.IdempotencyKey,
		ExpiresAt:      &expiresAt,
	}

	err = s.sessions.CreateWithDebit(ctx, session, product.PriceCoins)
	if err == repository.ErrDuplicate {
		existing, getErr := s.sessions.GetByUserAndKey(ctx, userID, req.IdempotencyKey)
		if getErr != nil {
			return nil, getErr
		}
		// Same key with a different product is a reused key, not a retry.
		if existing.ProductID == nil || *existing.ProductID != productID {
			return nil, fmt.Errorf("%w: idempotency key already used for another product", ErrConflict)
		}
		log.Printf("[Session] Purchase replay user=%s key=%s session=%s", userID, req.IdempotencyKey, existing.ID)
		return existing, nil
	}
	if err != nil {
		return nil, err
	}

	_ = s.logs.LogAction(ctx, session.ID, "purchase", "ok",
		fmt.Sprintf("debited %d coins for product %s", product.PriceCoins, product.Name))

	// From here on the debit is committed: every failure path must run
	// through abandon so the price is credited back.
	worker, err := s.pickWorker(ctx, productID)
	if err != nil {
		s.abandon(ctx, session, product.PriceCoins, "worker selection failed")
		return nil, err
	}
	if worker == nil {
		s.abandon(ctx, session, product.PriceCoins, "no worker capacity")
		return nil, ErrNoCapacity
	}

	if err := s.sessions.MarkProvisioning(ctx, session.ID, worker.ID); err != nil {
		s.abandon(ctx, session, product.PriceCoins, "could not assign worker")
		return nil, err
	}
	session.Status = models.SessionStatusProvisioning
	session.WorkerID = &worker.ID

	job := &models.JobCreateRequest{
		WorkerID:        worker.ID.String(),
		SessionID:       session.ID.String(),
		SessionToken:    session.SessionToken,
		ProvisionAction: product.ProvisionAction,
		Product: models.JobProduct{
			ID:          product.ID.String(),
			Name:        product.Name,
			PriceCoins:  product.PriceCoins,
			Description: product.Description,
		},
	}
	if err := s.dispatcher.DispatchJob(ctx, worker.BaseURL, job); err != nil {
		log.Printf("[Session] Dispatch failed session=%s worker=%s: %v", session.ID, worker.ID, err)
		s.abandon(ctx, session, product.PriceCoins, "dispatch failed: "+err.Error())
		return nil, fmt.Errorf("%w: %v", ErrDispatchFailed, err)
	}

	_ = s.logs.LogAction(ctx, session.ID, "dispatch", "ok",
		fmt.Sprintf("job dispatched to worker %s", worker.ID))
	s.bus.Publish(session.ID, eventbus.Event{
		Type: eventbus.EventStatus,
		Data: map[string]any{"status": session.Status},
	})

	log.Printf("[Session] Purchase complete session=%s user=%s worker=%s", session.ID, userID, worker.ID)
	return session, nil
}

// abandon fails the session and refunds the price, logging but not
// returning secondary errors: the caller already has a primary failure.
func (s *SessionService) abandon(ctx context.Context, session *models.VpsSession, price int64, reason string) {
	if err := s.sessions.FailWithRefund(ctx, session, price, reason); err != nil {
		log.Printf("[Session] Refund failed session=%s: %v", session.ID, err)
		return
	}
	session.Status = models.SessionStatusFailed

	_ = s.logs.LogAction(ctx, session.ID, "refund", "ok", reason)
	s.bus.Publish(session.ID, eventbus.Event{
		Type: eventbus.EventStatus,
		Data: map[string]any{"status": models.SessionStatusFailed},
	})
	s.bus.Publish(session.ID, eventbus.Event{
		Type: eventbus.EventFailed,
		Data: map[string]any{"status": models.SessionStatusFailed, "message": reason},
	})
}

// pickWorker returns the strategy's choice among eligible workers with
// spare capacity, or nil when the fleet is saturated.
func (s *SessionService) pickWorker(ctx context.Context, productID uuid.UUID) (*models.Worker, error) {
	workers, err := s.workers.EligibleForProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if len(workers) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, len(workers))
	for i, w := range workers {
		ids[i] = w.ID
	}
	counts, err := s.workers.ActiveSessionCounts(ctx, ids)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, len(workers))
	for i, w := range workers {
		candidates[i] = Candidate{Worker: w, Active: counts[w.ID]}
	}
	return s.strategy(candidates), nil
}

// GetForUser returns a session owned by the user. Connection credentials of
// an expired session are withheld even before the sweeper stamps it.
func (s *SessionService) GetForUser(ctx context.Context, userID, sessionID uuid.UUID) (*models.VpsSession, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID == nil || *session.UserID != userID {
		return nil, repository.ErrNotFound
	}

	maskIfExpired(session)
	return session, nil
}

// ListForUser returns the user's sessions, newest first, with expired
// credentials masked.
func (s *SessionService) ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.VpsSession, error) {
	sessions, err := s.sessions.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, session := range sessions {
		maskIfExpired(session)
	}
	return sessions, nil
}

// LogsForUser returns the diagnostic trail of a session the user owns.
func (s *SessionService) LogsForUser(ctx context.Context, userID, sessionID uuid.UUID) ([]*models.SessionLog, error) {
	if _, err := s.GetForUser(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return s.logs.GetBySessionID(ctx, sessionID, 0)
}

// List returns recent sessions across all users (admin surface).
func (s *SessionService) List(ctx context.Context, limit int) ([]*models.VpsSession, error) {
	return s.sessions.List(ctx, limit)
}

// Get returns any session by id (admin surface).
func (s *SessionService) Get(ctx context.Context, sessionID uuid.UUID) (*models.VpsSession, error) {
	return s.sessions.GetByID(ctx, sessionID)
}

// ExpireDue stamps expired on every session past its expiry time.
func (s *SessionService) ExpireDue(ctx context.Context) (int64, error) {
	n, err := s.sessions.ExpireDue(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("[Session] Expired %d sessions", n)
	}
	return n, nil
}

// RunExpirySweeper expires due sessions on a fixed interval until the
// context is cancelled.
func (s *SessionService) RunExpirySweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ExpireDue(ctx); err != nil {
				log.Printf("[Session] Expiry sweep failed: %v", err)
			}
		}
	}
}

func maskIfExpired(session *models.VpsSession) {
	if !session.Expired(time.Now()) {
		return
	}
	session.RdpHost = nil
	session.RdpPort = nil
	session.RdpUser = nil
	session.RdpPassword = nil
}

func newSessionToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return hex.EncodeToString(buf)
}
