package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/kyaro/vps-broker/internal/models"
	"github.com/kyaro/vps-broker/internal/repository"
)

// fakeSessionStore keeps sessions and wallet balances in memory with the
// same transactional semantics as the real repository: debit and insert
// succeed or fail together, refund and fail-stamp likewise.
type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.VpsSession
	balances map[uuid.UUID]int64
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{
		sessions: make(map[uuid.UUID]*models.VpsSession),
		balances: make(map[uuid.UUID]int64),
	}
}

func (f *fakeSessionStore) balance(userID uuid.UUID) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[userID]
}

func (f *fakeSessionStore) GetByID(_ context.Context, id uuid.UUID) (*models.VpsSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *s
	return &copied, nil
}

func (f *fakeSessionStore) GetByUserAndKey(_ context.Context, userID uuid.UUID, key string) (*models.VpsSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sessions {
		if s.UserID != nil && *s.UserID == userID && s.IdempotencyKey != nil && *s.IdempotencyKey == key {
			copied := *s
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeSessionStore) ListByUser(_ context.Context, userID uuid.UUID) ([]*models.VpsSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.VpsSession
	for _, s := range f.sessions {
		if s.UserID != nil && *s.UserID == userID {
			copied := *s
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeSessionStore) List(_ context.Context, _ int) ([]*models.VpsSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.VpsSession
	for _, s := range f.sessions {
		copied := *s
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakeSessionStore) CreateWithDebit(_ context.Context, s *models.VpsSession, price int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.sessions {
		if existing.UserID != nil && s.UserID != nil && *existing.UserID == *s.UserID &&
			existing.IdempotencyKey != nil && s.IdempotencyKey != nil && *existing.IdempotencyKey == *s.IdempotencyKey {
			return repository.ErrDuplicate
		}
	}
	if s.UserID != nil && price > 0 {
		if f.balances[*s.UserID] < price {
			return repository.ErrInsufficientFunds
		}
		f.balances[*s.UserID] -= price
	}
	copied := *s
	f.sessions[s.ID] = &copied
	return nil
}

func (f *fakeSessionStore) MarkProvisioning(_ context.Context, id, workerID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.Status != models.SessionStatusPending {
		return repository.ErrNotFound
	}
	s.Status = models.SessionStatusProvisioning
	s.WorkerID = &workerID
	return nil
}

func (f *fakeSessionStore) FailWithRefund(_ context.Context, session *models.VpsSession, price int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[session.ID]
	if !ok || (s.Status != models.SessionStatusPending && s.Status != models.SessionStatusProvisioning) {
		return repository.ErrNotFound
	}
	s.Status = models.SessionStatusFailed
	if s.UserID != nil && price > 0 {
		f.balances[*s.UserID] += price
	}
	return nil
}

func (f *fakeSessionStore) SetChecklist(_ context.Context, id uuid.UUID, items models.Checklist) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return repository.ErrNotFound
	}
	s.Checklist = items
	return nil
}

func (f *fakeSessionStore) SetReady(_ context.Context, id uuid.UUID, res *models.SessionResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.Status != models.SessionStatusProvisioning {
		return repository.ErrNotFound
	}
	s.Status = models.SessionStatusReady
	s.RdpHost = res.RdpHost
	s.RdpPort = res.RdpPort
	s.RdpUser = res.RdpUser
	s.RdpPassword = res.RdpPassword
	s.LogURL = res.LogURL
	return nil
}

func (f *fakeSessionStore) ExpireDue(_ context.Context) (int64, error) {
	return 0, nil
}

type fakeProductStore struct {
	products map[uuid.UUID]*models.VpsProduct
}

func (f *fakeProductStore) GetByID(_ context.Context, id uuid.UUID) (*models.VpsProduct, error) {
	p, ok := f.products[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p, nil
}

type telemetryRecord struct {
	currentJobs *int
	netMbps     *float64
	reqRate     *float64
}

type fakeWorkerStore struct {
	workers    []*models.Worker
	counts     map[uuid.UUID]int
	countsErr  error
	telemetry  map[uuid.UUID]telemetryRecord
	decrements map[uuid.UUID]int
}

func newFakeWorkerStore(workers ...*models.Worker) *fakeWorkerStore {
	return &fakeWorkerStore{
		workers:    workers,
		counts:     make(map[uuid.UUID]int),
		telemetry:  make(map[uuid.UUID]telemetryRecord),
		decrements: make(map[uuid.UUID]int),
	}
}

func (f *fakeWorkerStore) EligibleForProduct(_ context.Context, _ uuid.UUID) ([]*models.Worker, error) {
	return f.workers, nil
}

func (f *fakeWorkerStore) ActiveSessionCounts(_ context.Context, _ []uuid.UUID) (map[uuid.UUID]int, error) {
	if f.countsErr != nil {
		return nil, f.countsErr
	}
	return f.counts, nil
}

func (f *fakeWorkerStore) UpdateTelemetry(_ context.Context, id uuid.UUID, currentJobs *int, netMbps, reqRate *float64) error {
	f.telemetry[id] = telemetryRecord{currentJobs: currentJobs, netMbps: netMbps, reqRate: reqRate}
	return nil
}

func (f *fakeWorkerStore) DecrementJobs(_ context.Context, id uuid.UUID) error {
	f.decrements[id]++
	return nil
}

type fakeLogStore struct {
	entries []*models.SessionLog
}

func (f *fakeLogStore) LogAction(_ context.Context, sessionID uuid.UUID, action, status, message string) error {
	f.entries = append(f.entries, &models.SessionLog{
		SessionID: sessionID,
		Action:    action,
		Status:    status,
		Message:   message,
	})
	return nil
}

func (f *fakeLogStore) GetBySessionID(_ context.Context, sessionID uuid.UUID, _ int) ([]*models.SessionLog, error) {
	var out []*models.SessionLog
	for _, e := range f.entries {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeDispatcher struct {
	err  error
	jobs []*models.JobCreateRequest
	urls []string
}

func (f *fakeDispatcher) DispatchJob(_ context.Context, baseURL string, job *models.JobCreateRequest) error {
	if f.err != nil {
		return fmt.Errorf("dispatch: %w", f.err)
	}
	f.urls = append(f.urls, baseURL)
	f.jobs = append(f.jobs, job)
	return nil
}
