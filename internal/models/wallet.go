package models

import (
	"time"

	"github.com/google/uuid"
)

// Ledger entry type constants
const (
	LedgerTypePurchase = "vps.purchase"
	LedgerTypeRefund   = "vps.refund"
	LedgerTypeReward   = "ads.reward"
	LedgerTypeGiftcode = "giftcode.redeem"
)

// Wallet is a per-user integer coin balance. The balance is only ever
// mutated together with a ledger entry in the same transaction.
type Wallet struct {
	UserID    uuid.UUID
	Balance   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LedgerEntry is an immutable record of a single balance change and the
// sole audit trail for wallet state.
type LedgerEntry struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Type         string
	Amount       int64
	BalanceAfter int64
	RefID        *uuid.UUID
	Meta         map[string]any
	CreatedAt    time.Time
}
