package service

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/kyaro/vps-broker/internal/eventbus"
	"github.com/kyaro/vps-broker/internal/models"
	"github.com/kyaro/vps-broker/internal/repository"
)

// CallbackService applies worker progress reports. Every callback arrives
// already authenticated by the signature middleware; this layer enforces
// that a worker only touches sessions dispatched to it.
type CallbackService struct {
	sessions SessionStore
	workers  WorkerStore
	products ProductStore
	logs     LogStore
	bus      *eventbus.Bus
}

func NewCallbackService(sessions SessionStore, workers WorkerStore, products ProductStore, logs LogStore, bus *eventbus.Bus) *CallbackService {
	return &CallbackService{
		sessions: sessions,
		workers:  workers,
		products: products,
		logs:     logs,
		bus:      bus,
	}
}

// Status records worker telemetry. It carries no session reference and
// never touches session state.
func (s *CallbackService) Status(ctx context.Context, workerID uuid.UUID, cb *models.StatusCallback) error {
	return s.workers.UpdateTelemetry(ctx, workerID, cb.CurrentJobs, cb.NetMbps, cb.ReqRate)
}

// Checklist replaces the session's provisioning step list and fans it out
// to stream subscribers.
func (s *CallbackService) Checklist(ctx context.Context, workerID uuid.UUID, cb *models.ChecklistCallback) error {
	session, err := s.ownedSession(ctx, workerID, cb.SessionID)
	if err != nil {
		return err
	}
	if session.Terminal() {
		return ErrConflict
	}

	if err := s.sessions.SetChecklist(ctx, session.ID, cb.Items); err != nil {
		return err
	}

	s.bus.Publish(session.ID, eventbus.Event{
		Type: eventbus.EventChecklist,
		Data: map[string]any{"items": cb.Items},
	})
	return nil
}

// Result finalizes a session. Success attaches connection attributes and
// moves it to ready; failure refunds the purchase. Either way the worker's
// in-flight counter drops by one.
func (s *CallbackService) Result(ctx context.Context, workerID uuid.UUID, cb *models.ResultCallback) error {
	session, err := s.ownedSession(ctx, workerID, cb.SessionID)
	if err != nil {
		return err
	}
	if session.Terminal() {
		return ErrConflict
	}

	switch cb.Status {
	case models.SessionStatusReady:
		err = s.succeed(ctx, session, cb)
	case models.SessionStatusFailed:
		err = s.fail(ctx, session, cb)
	default:
		return fmt.Errorf("%w: result status must be ready or failed", ErrValidation)
	}
	if err != nil {
		return err
	}

	if err := s.workers.DecrementJobs(ctx, workerID); err != nil {
		log.Printf("[Callback] Decrement jobs failed worker=%s: %v", workerID, err)
	}
	return nil
}

func (s *CallbackService) succeed(ctx context.Context, session *models.VpsSession, cb *models.ResultCallback) error {
	result := &models.SessionResult{
		RdpHost:     cb.RdpHost,
		RdpPort:     cb.RdpPort,
		RdpUser:     cb.RdpUser,
		RdpPassword: cb.RdpPassword,
		LogURL:      cb.LogURL,
	}
	if err := s.sessions.SetReady(ctx, session.ID, result); err != nil {
		if err == repository.ErrNotFound {
			return ErrConflict
		}
		return err
	}

	_ = s.logs.LogAction(ctx, session.ID, "result", "ok", cb.Message)

	// Status transition first, then the terminal event with the payload.
	s.bus.Publish(session.ID, eventbus.Event{
		Type: eventbus.EventStatus,
		Data: map[string]any{"status": models.SessionStatusReady},
	})
	s.bus.Publish(session.ID, eventbus.Event{
		Type: eventbus.EventReady,
		Data: map[string]any{
			"status":       models.SessionStatusReady,
			"rdp_host":     cb.RdpHost,
			"rdp_port":     cb.RdpPort,
			"rdp_user":     cb.RdpUser,
			"rdp_password": cb.RdpPassword,
			"log_url":      cb.LogURL,
		},
	})

	log.Printf("[Callback] Session ready session=%s", session.ID)
	return nil
}

func (s *CallbackService) fail(ctx context.Context, session *models.VpsSession, cb *models.ResultCallback) error {
	var price int64
	if session.ProductID != nil {
		product, err := s.products.GetByID(ctx, *session.ProductID)
		if err != nil {
			return err
		}
		price = product.PriceCoins
	}

	reason := cb.Message
	if reason == "" {
		reason = "provisioning failed"
	}
	if err := s.sessions.FailWithRefund(ctx, session, price, reason); err != nil {
		if err == repository.ErrNotFound {
			return ErrConflict
		}
		return err
	}

	_ = s.logs.LogAction(ctx, session.ID, "result", "failed", reason)

	s.bus.Publish(session.ID, eventbus.Event{
		Type: eventbus.EventStatus,
		Data: map[string]any{"status": models.SessionStatusFailed},
	})
	s.bus.Publish(session.ID, eventbus.Event{
		Type: eventbus.EventFailed,
		Data: map[string]any{"status": models.SessionStatusFailed, "message": reason},
	})

	log.Printf("[Callback] Session failed and refunded session=%s reason=%s", session.ID, reason)
	return nil
}

// ownedSession resolves the callback's session and checks it was dispatched
// to the calling worker.
func (s *CallbackService) ownedSession(ctx context.Context, workerID uuid.UUID, rawSessionID string) (*models.VpsSession, error) {
	sessionID, err := uuid.Parse(rawSessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid session_id", ErrValidation)
	}

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.WorkerID == nil || *session.WorkerID != workerID {
		return nil, ErrUnauthorized
	}
	return session, nil
}
