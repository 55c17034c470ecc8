package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyaro/vps-broker/internal/eventbus"
	"github.com/kyaro/vps-broker/internal/models"
)

type callbackFixture struct {
	svc     *CallbackService
	store   *fakeSessionStore
	workers *fakeWorkerStore
	logs    *fakeLogStore
	bus     *eventbus.Bus

	userID    uuid.UUID
	workerID  uuid.UUID
	sessionID uuid.UUID
	product   *models.VpsProduct
}

// newCallbackFixture seeds one provisioning session dispatched to one worker.
func newCallbackFixture(t *testing.T) *callbackFixture {
	t.Helper()

	f := &callbackFixture{
		store:    newFakeSessionStore(),
		logs:     &fakeLogStore{},
		bus:      eventbus.New(0),
		userID:   uuid.New(),
		workerID: uuid.New(),
	}
	f.workers = newFakeWorkerStore(&models.Worker{ID: f.workerID, Status: models.WorkerStatusActive})

	f.product = &models.VpsProduct{
		ID:         uuid.New(),
		Name:       "starter",
		PriceCoins: 25,
		IsActive:   true,
	}
	products := &fakeProductStore{products: map[uuid.UUID]*models.VpsProduct{f.product.ID: f.product}}

	f.sessionID = uuid.New()
	f.store.sessions[f.sessionID] = &models.VpsSession{
		ID:        f.sessionID,
		UserID:    &f.userID,
		ProductID: &f.product.ID,
		WorkerID:  &f.workerID,
		Status:    models.SessionStatusProvisioning,
	}

	f.svc = NewCallbackService(f.store, f.workers, products, f.logs, f.bus)
	return f
}

func TestStatusCallback(t *testing.T) {
	f := newCallbackFixture(t)

	jobs := 2
	mbps := 120.5
	err := f.svc.Status(context.Background(), f.workerID, &models.StatusCallback{
		CurrentJobs: &jobs,
		NetMbps:     &mbps,
	})
	require.NoError(t, err)

	rec := f.workers.telemetry[f.workerID]
	require.NotNil(t, rec.currentJobs)
	assert.Equal(t, 2, *rec.currentJobs)
	require.NotNil(t, rec.netMbps)
	assert.Equal(t, 120.5, *rec.netMbps)
	assert.Nil(t, rec.reqRate)
}

func TestChecklistCallback(t *testing.T) {
	t.Run("stores items and notifies subscribers", func(t *testing.T) {
		f := newCallbackFixture(t)
		sub := f.bus.Subscribe(f.sessionID)

		items := models.Checklist{
			{"step": "create_vm", "done": true},
			{"step": "install_agent", "done": false},
		}
		err := f.svc.Checklist(context.Background(), f.workerID, &models.ChecklistCallback{
			SessionID: f.sessionID.String(),
			Items:     items,
		})
		require.NoError(t, err)

		stored, _ := f.store.GetByID(context.Background(), f.sessionID)
		assert.Len(t, stored.Checklist, 2)

		event := <-sub.C
		assert.Equal(t, eventbus.EventChecklist, event.Type)
	})

	t.Run("rejects a worker that does not own the session", func(t *testing.T) {
		f := newCallbackFixture(t)

		err := f.svc.Checklist(context.Background(), uuid.New(), &models.ChecklistCallback{
			SessionID: f.sessionID.String(),
			Items:     models.Checklist{{"step": "create_vm"}},
		})
		assert.ErrorIs(t, err, ErrUnauthorized)

		stored, _ := f.store.GetByID(context.Background(), f.sessionID)
		assert.Empty(t, stored.Checklist)
	})

	t.Run("rejects terminal sessions", func(t *testing.T) {
		f := newCallbackFixture(t)
		f.store.sessions[f.sessionID].Status = models.SessionStatusFailed

		err := f.svc.Checklist(context.Background(), f.workerID, &models.ChecklistCallback{
			SessionID: f.sessionID.String(),
			Items:     models.Checklist{{"step": "create_vm"}},
		})
		assert.ErrorIs(t, err, ErrConflict)
	})
}

func TestResultCallback(t *testing.T) {
	host := "10.0.0.5"
	port := 3389
	user := "admin"
	pass := "hunter2"

	t.Run("ready attaches connection attributes", func(t *testing.T) {
		f := newCallbackFixture(t)
		sub := f.bus.Subscribe(f.sessionID)

		err := f.svc.Result(context.Background(), f.workerID, &models.ResultCallback{
			SessionID:   f.sessionID.String(),
			Status:      "ready",
			RdpHost:     &host,
			RdpPort:     &port,
			RdpUser:     &user,
			RdpPassword: &pass,
		})
		require.NoError(t, err)

		stored, _ := f.store.GetByID(context.Background(), f.sessionID)
		assert.Equal(t, models.SessionStatusReady, stored.Status)
		require.NotNil(t, stored.RdpHost)
		assert.Equal(t, host, *stored.RdpHost)
		assert.Equal(t, 1, f.workers.decrements[f.workerID])

		// status.update precedes the terminal event
		first := <-sub.C
		assert.Equal(t, eventbus.EventStatus, first.Type)
		second := <-sub.C
		assert.Equal(t, eventbus.EventReady, second.Type)
	})

	t.Run("failure refunds the purchase", func(t *testing.T) {
		f := newCallbackFixture(t)
		sub := f.bus.Subscribe(f.sessionID)

		err := f.svc.Result(context.Background(), f.workerID, &models.ResultCallback{
			SessionID: f.sessionID.String(),
			Status:    "failed",
			Message:   "hypervisor out of disk",
		})
		require.NoError(t, err)

		stored, _ := f.store.GetByID(context.Background(), f.sessionID)
		assert.Equal(t, models.SessionStatusFailed, stored.Status)
		assert.Equal(t, int64(25), f.store.balance(f.userID))
		assert.Equal(t, 1, f.workers.decrements[f.workerID])

		first := <-sub.C
		assert.Equal(t, eventbus.EventStatus, first.Type)
		second := <-sub.C
		assert.Equal(t, eventbus.EventFailed, second.Type)
	})

	t.Run("result on a terminal session conflicts", func(t *testing.T) {
		f := newCallbackFixture(t)
		f.store.sessions[f.sessionID].Status = models.SessionStatusReady

		err := f.svc.Result(context.Background(), f.workerID, &models.ResultCallback{
			SessionID: f.sessionID.String(),
			Status:    "ready",
		})
		assert.ErrorIs(t, err, ErrConflict)
		assert.Zero(t, f.workers.decrements[f.workerID])
	})

	t.Run("rejects statuses outside ready/failed", func(t *testing.T) {
		f := newCallbackFixture(t)

		for _, status := range []string{"success", "done", "pending", ""} {
			err := f.svc.Result(context.Background(), f.workerID, &models.ResultCallback{
				SessionID: f.sessionID.String(),
				Status:    status,
			})
			assert.ErrorIs(t, err, ErrValidation, "status %q", status)
		}

		stored, _ := f.store.GetByID(context.Background(), f.sessionID)
		assert.Equal(t, models.SessionStatusProvisioning, stored.Status)
	})

	t.Run("rejects a worker that does not own the session", func(t *testing.T) {
		f := newCallbackFixture(t)

		err := f.svc.Result(context.Background(), uuid.New(), &models.ResultCallback{
			SessionID: f.sessionID.String(),
			Status:    "ready",
		})
		assert.ErrorIs(t, err, ErrUnauthorized)

		stored, _ := f.store.GetByID(context.Background(), f.sessionID)
		assert.Equal(t, models.SessionStatusProvisioning, stored.Status)
	})
}
