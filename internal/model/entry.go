package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Entry kinds.
const (
	KindDeposit    = "deposit"
	KindWithdrawal = "withdrawal"
	KindTransfer   = "transfer"
)

// Entry statuses. The synchronous paths write entries directly as
// completed; pending and failed exist for externally-settled flows.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// LedgerEntry is an immutable record of a single balance-affecting event.
// Amount is signed: deposits and incoming transfer legs are positive,
// withdrawals and outgoing legs negative. BalanceAfter snapshots the wallet
// balance immediately after the entry was applied. A transfer produces two
// rows linked through PairedEntryID whose amounts sum to zero.
type LedgerEntry struct {
	ID            string          `gorm:"type:uuid;primaryKey"`
	WalletID      string          `gorm:"type:uuid;not null;index"`
	Amount        decimal.Decimal `gorm:"type:numeric(18,4);not null"`
	BalanceAfter  decimal.Decimal `gorm:"type:numeric(18,4);not null"`
	Kind          string          `gorm:"size:32;not null"`
	Status        string          `gorm:"size:16;not null;default:'pending'"`
	ReferenceID   *string         `gorm:"size:64;uniqueIndex"`
	PairedEntryID *string         `gorm:"type:uuid"`
	Description   string
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     *time.Time
}

func (LedgerEntry) TableName() string { return "ledger_entry" }
