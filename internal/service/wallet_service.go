package service

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/kyaro/vps-broker/internal/models"
	"github.com/kyaro/vps-broker/internal/repository"
)

// WalletService exposes balances, ledger history and admin credits. All
// balance changes flow through the ledger; there is no direct balance write.
type WalletService struct {
	wallets *repository.WalletRepository
}

func NewWalletService(wallets *repository.WalletRepository) *WalletService {
	return &WalletService{wallets: wallets}
}

// Balance returns the user's wallet, zero for users never touched by the ledger.
func (s *WalletService) Balance(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	return s.wallets.Get(ctx, userID)
}

// History returns the user's ledger entries, newest first.
func (s *WalletService) History(ctx context.Context, userID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	return s.wallets.Entries(ctx, userID, limit)
}

// Credit applies an admin-initiated balance grant.
func (s *WalletService) Credit(ctx context.Context, userID uuid.UUID, amount int64, entryType, note string) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	switch entryType {
	case models.LedgerTypeReward, models.LedgerTypeGiftcode:
	default:
		return 0, fmt.Errorf("%w: unsupported credit type %q", ErrValidation, entryType)
	}

	meta := map[string]any{}
	if note != "" {
		meta["note"] = note
	}

	balance, err := s.wallets.Adjust(ctx, userID, amount, entryType, nil, meta)
	if err != nil {
		return 0, err
	}

	log.Printf("[Wallet] Credited user=%s amount=%d type=%s balance=%d", userID, amount, entryType, balance)
	return balance, nil
}
