package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyaro/vps-broker/internal/eventbus"
	"github.com/kyaro/vps-broker/internal/models"
	"github.com/kyaro/vps-broker/internal/repository"
)

type purchaseFixture struct {
	svc        *SessionService
	store      *fakeSessionStore
	products   *fakeProductStore
	workers    *fakeWorkerStore
	dispatcher *fakeDispatcher
	logs       *fakeLogStore
	bus        *eventbus.Bus

	userID  uuid.UUID
	product *models.VpsProduct
	worker  *models.Worker
}

func newPurchaseFixture(t *testing.T, balance int64) *purchaseFixture {
	t.Helper()

	worker := &models.Worker{
		ID:          uuid.New(),
		BaseURL:     "http://worker-1.local",
		Status:      models.WorkerStatusActive,
		MaxSessions: 3,
		CreatedAt:   time.Now(),
	}
	desc := "entry-level box"
	product := &models.VpsProduct{
		ID:          uuid.New(),
		Name:        "starter",
		Description: &desc,
		PriceCoins:  25,
		IsActive:    true,
		WorkerIDs:   []uuid.UUID{worker.ID},
	}

	f := &purchaseFixture{
		store:      newFakeSessionStore(),
		dispatcher: &fakeDispatcher{},
		logs:       &fakeLogStore{},
		bus:        eventbus.New(0),
		userID:     uuid.New(),
		product:    product,
		worker:     worker,
	}
	f.store.balances[f.userID] = balance

	f.products = &fakeProductStore{products: map[uuid.UUID]*models.VpsProduct{product.ID: product}}
	f.workers = newFakeWorkerStore(worker)
	f.svc = NewSessionService(f.store, f.products, f.workers, f.logs, f.dispatcher, f.bus, time.Hour)
	return f
}

func (f *purchaseFixture) purchase(t *testing.T, key string) (*models.VpsSession, error) {
	t.Helper()
	return f.svc.Purchase(context.Background(), f.userID, &models.PurchaseRequest{
		ProductID:      f.product.ID.String(),
		IdempotencyKey: key,
	})
}

func TestPurchase(t *testing.T) {
	t.Run("debits wallet and dispatches", func(t *testing.T) {
		f := newPurchaseFixture(t, 100)

		session, err := f.purchase(t, "key-1")
		require.NoError(t, err)

		assert.Equal(t, models.SessionStatusProvisioning, session.Status)
		assert.Equal(t, int64(75), f.store.balance(f.userID))
		require.Len(t, f.dispatcher.jobs, 1)

		job := f.dispatcher.jobs[0]
		assert.Equal(t, session.ID.String(), job.SessionID)
		assert.Equal(t, f.worker.ID.String(), job.WorkerID)
		assert.Equal(t, session.SessionToken, job.SessionToken)
		assert.Equal(t, int64(25), job.Product.PriceCoins)
		assert.Equal(t, "http://worker-1.local", f.dispatcher.urls[0])
	})

	t.Run("repeat with same key returns original without charging", func(t *testing.T) {
		f := newPurchaseFixture(t, 100)

		first, err := f.purchase(t, "key-1")
		require.NoError(t, err)

		second, err := f.purchase(t, "key-1")
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, int64(75), f.store.balance(f.userID))
		assert.Len(t, f.dispatcher.jobs, 1)
	})

	t.Run("different keys create separate sessions", func(t *testing.T) {
		f := newPurchaseFixture(t, 100)

		first, err := f.purchase(t, "key-1")
		require.NoError(t, err)
		second, err := f.purchase(t, "key-2")
		require.NoError(t, err)

		assert.NotEqual(t, first.ID, second.ID)
		assert.Equal(t, int64(50), f.store.balance(f.userID))
	})

	t.Run("insufficient funds leaves no session", func(t *testing.T) {
		f := newPurchaseFixture(t, 10)

		_, err := f.purchase(t, "key-1")
		assert.ErrorIs(t, err, repository.ErrInsufficientFunds)
		assert.Equal(t, int64(10), f.store.balance(f.userID))
		assert.Empty(t, f.store.sessions)
	})

	t.Run("no capacity refunds the debit", func(t *testing.T) {
		f := newPurchaseFixture(t, 100)
		f.worker.MaxSessions = 0

		_, err := f.purchase(t, "key-1")
		assert.ErrorIs(t, err, ErrNoCapacity)
		assert.Equal(t, int64(100), f.store.balance(f.userID))

		session, err := f.store.GetByUserAndKey(context.Background(), f.userID, "key-1")
		require.NoError(t, err)
		assert.Equal(t, models.SessionStatusFailed, session.Status)
	})

	t.Run("dispatch failure refunds the debit", func(t *testing.T) {
		f := newPurchaseFixture(t, 100)
		f.dispatcher.err = errors.New("connection refused")

		_, err := f.purchase(t, "key-1")
		assert.ErrorIs(t, err, ErrDispatchFailed)
		assert.Equal(t, int64(100), f.store.balance(f.userID))

		session, err := f.store.GetByUserAndKey(context.Background(), f.userID, "key-1")
		require.NoError(t, err)
		assert.Equal(t, models.SessionStatusFailed, session.Status)
	})

	t.Run("selection query failure refunds the debit", func(t *testing.T) {
		f := newPurchaseFixture(t, 100)
		f.workers.countsErr = errors.New("connection reset")

		_, err := f.purchase(t, "key-1")
		require.Error(t, err)
		assert.Equal(t, int64(100), f.store.balance(f.userID))

		session, err := f.store.GetByUserAndKey(context.Background(), f.userID, "key-1")
		require.NoError(t, err)
		assert.Equal(t, models.SessionStatusFailed, session.Status)
		assert.Empty(t, f.dispatcher.jobs)
	})

	t.Run("same key for a different product conflicts", func(t *testing.T) {
		f := newPurchaseFixture(t, 100)

		_, err := f.purchase(t, "key-1")
		require.NoError(t, err)

		other := &models.VpsProduct{
			ID:         uuid.New(),
			Name:       "premium",
			PriceCoins: 50,
			IsActive:   true,
			WorkerIDs:  []uuid.UUID{f.worker.ID},
		}
		f.products.products[other.ID] = other

		_, err = f.svc.Purchase(context.Background(), f.userID, &models.PurchaseRequest{
			ProductID:      other.ID.String(),
			IdempotencyKey: "key-1",
		})
		assert.ErrorIs(t, err, ErrConflict)
		// 原购买不受影响
		assert.Equal(t, int64(75), f.store.balance(f.userID))
		assert.Len(t, f.dispatcher.jobs, 1)
	})

	t.Run("inactive product is not purchasable", func(t *testing.T) {
		f := newPurchaseFixture(t, 100)
		f.product.IsActive = false

		_, err := f.purchase(t, "key-1")
		assert.ErrorIs(t, err, repository.ErrNotFound)
		assert.Equal(t, int64(100), f.store.balance(f.userID))
	})

	t.Run("free product skips the wallet", func(t *testing.T) {
		f := newPurchaseFixture(t, 0)
		f.product.PriceCoins = 0

		session, err := f.purchase(t, "key-1")
		require.NoError(t, err)
		assert.Equal(t, models.SessionStatusProvisioning, session.Status)
		assert.Equal(t, int64(0), f.store.balance(f.userID))
	})
}

func TestSessionReads(t *testing.T) {
	t.Run("other users cannot see the session", func(t *testing.T) {
		f := newPurchaseFixture(t, 100)

		session, err := f.purchase(t, "key-1")
		require.NoError(t, err)

		_, err = f.svc.GetForUser(context.Background(), uuid.New(), session.ID)
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("expired session hides connection credentials", func(t *testing.T) {
		f := newPurchaseFixture(t, 100)

		session, err := f.purchase(t, "key-1")
		require.NoError(t, err)

		host := "10.0.0.5"
		pass := "hunter2"
		stored := f.store.sessions[session.ID]
		stored.Status = models.SessionStatusReady
		stored.RdpHost = &host
		stored.RdpPassword = &pass
		past := time.Now().Add(-time.Minute)
		stored.ExpiresAt = &past

		got, err := f.svc.GetForUser(context.Background(), f.userID, session.ID)
		require.NoError(t, err)
		assert.Nil(t, got.RdpHost)
		assert.Nil(t, got.RdpPassword)
	})

	t.Run("live session keeps connection credentials", func(t *testing.T) {
		f := newPurchaseFixture(t, 100)

		session, err := f.purchase(t, "key-1")
		require.NoError(t, err)

		host := "10.0.0.5"
		stored := f.store.sessions[session.ID]
		stored.Status = models.SessionStatusReady
		stored.RdpHost = &host

		got, err := f.svc.GetForUser(context.Background(), f.userID, session.ID)
		require.NoError(t, err)
		require.NotNil(t, got.RdpHost)
		assert.Equal(t, host, *got.RdpHost)
	})
}
