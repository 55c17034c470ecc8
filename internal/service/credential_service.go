package service

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/kyaro/vps-broker/internal/models"
	"github.com/kyaro/vps-broker/internal/repository"
	"github.com/kyaro/vps-broker/internal/security"
)

// CredentialService is the vault for worker signing secrets. Secrets are
// stored AES-GCM encrypted and only ever leave the vault to verify a
// callback signature or a self-registration.
type CredentialService struct {
	credentials *repository.CredentialRepository
	workers     *repository.WorkerRepository
	cipher      *security.Cipher

	defaultMaxSessions int
}

func NewCredentialService(credentials *repository.CredentialRepository, workers *repository.WorkerRepository, cipher *security.Cipher, defaultMaxSessions int) *CredentialService {
	return &CredentialService{
		credentials:        credentials,
		workers:            workers,
		cipher:             cipher,
		defaultMaxSessions: defaultMaxSessions,
	}
}

// Create mints a credential from an admin-supplied secret.
func (s *CredentialService) Create(ctx context.Context, label, token string, createdBy *uuid.UUID) (*models.WorkerCredential, error) {
	if len(token) < 16 {
		return nil, fmt.Errorf("%w: token must be at least 16 characters", ErrValidation)
	}

	ciphertext, err := s.cipher.EncryptSecret(token)
	if err != nil {
		return nil, fmt.Errorf("encrypt token: %w", err)
	}

	cred := &models.WorkerCredential{
		ID:              uuid.New(),
		Label:           label,
		TokenCiphertext: ciphertext,
		TokenPrefix:     token[:4],
		CreatedBy:       createdBy,
	}
	if err := s.credentials.Create(ctx, cred); err != nil {
		return nil, err
	}

	log.Printf("[Credential] Created credential id=%s label=%s token=%s", cred.ID, cred.Label, security.MaskToken(token))
	return cred, nil
}

// List returns all credentials, secrets never included.
func (s *CredentialService) List(ctx context.Context) ([]*models.WorkerCredential, error) {
	return s.credentials.List(ctx)
}

// Revoke marks a credential revoked. Workers bound to it can no longer
// authenticate callbacks or re-register.
func (s *CredentialService) Revoke(ctx context.Context, id uuid.UUID) error {
	if err := s.credentials.Revoke(ctx, id); err != nil {
		return err
	}
	log.Printf("[Credential] Revoked credential id=%s", id)
	return nil
}

// VerifyAndRegister authenticates a worker presenting its credential and
// upserts its registry entry. Re-registering with the same credential and
// base URL reactivates the existing worker instead of creating a duplicate.
func (s *CredentialService) VerifyAndRegister(ctx context.Context, req *models.WorkerRegisterRequest) (*models.Worker, error) {
	credID, err := uuid.Parse(req.TokenID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid token_id", ErrValidation)
	}

	cred, err := s.credentials.GetByID(ctx, credID)
	if err != nil {
		return nil, ErrUnauthorized
	}
	if cred.Revoked() {
		return nil, ErrUnauthorized
	}

	secret, err := s.cipher.DecryptSecret(cred.TokenCiphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypt credential: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(req.AdminToken)) != 1 {
		return nil, ErrUnauthorized
	}

	baseURL, err := normalizeBaseURL(req.BaseURL)
	if err != nil {
		return nil, err
	}

	w, err := s.workers.GetByCredentialAndURL(ctx, credID, baseURL)
	if err == nil {
		w.Status = models.WorkerStatusActive
		if req.Name != "" {
			w.Name = &req.Name
		}
		if err := s.workers.Update(ctx, w); err != nil {
			return nil, err
		}
		log.Printf("[Credential] Worker re-registered: id=%s url=%s", w.ID, w.BaseURL)
		return w, nil
	}
	if err != repository.ErrNotFound {
		return nil, err
	}

	w = &models.Worker{
		ID:           uuid.New(),
		BaseURL:      baseURL,
		Status:       models.WorkerStatusActive,
		MaxSessions:  s.defaultMaxSessions,
		CredentialID: &credID,
	}
	if req.Name != "" {
		w.Name = &req.Name
	}
	if err := s.workers.Create(ctx, w); err != nil {
		return nil, err
	}

	log.Printf("[Credential] Worker self-registered: id=%s url=%s", w.ID, w.BaseURL)
	return w, nil
}

// WorkerSecret resolves the plaintext signing secret for a worker, used to
// verify callback signatures. A worker without a live credential cannot
// authenticate anything.
func (s *CredentialService) WorkerSecret(ctx context.Context, workerID uuid.UUID) (string, error) {
	w, err := s.workers.GetByID(ctx, workerID)
	if err != nil {
		return "", err
	}
	if w.CredentialID == nil {
		return "", ErrUnauthorized
	}

	cred, err := s.credentials.GetByID(ctx, *w.CredentialID)
	if err != nil {
		return "", err
	}
	if cred.Revoked() {
		return "", ErrUnauthorized
	}

	return s.cipher.DecryptSecret(cred.TokenCiphertext)
}
