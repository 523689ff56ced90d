package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet is a balance record scoped to one owner and one currency.
// At most one wallet may exist per (owner, currency) pair; retired
// wallets are deactivated, never deleted.
type Wallet struct {
	ID        string          `gorm:"type:uuid;primaryKey"`
	OwnerID   string          `gorm:"type:uuid;not null;uniqueIndex:uniq_owner_currency"`
	Currency  string          `gorm:"size:3;not null;uniqueIndex:uniq_owner_currency"`
	Balance   decimal.Decimal `gorm:"type:numeric(18,4);not null;default:'0'"`
	Active    bool            `gorm:"not null;default:true"`
	CreatedAt time.Time       `gorm:"autoCreateTime"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime"`
}

func (Wallet) TableName() string { return "wallet" }

// SupportedCurrency reports whether code is one of the currencies the
// ledger accepts. Codes are compared as stored, i.e. upper-case.
func SupportedCurrency(code string) bool {
	switch code {
	case "EGP", "USD", "EUR", "SAR":
		return true
	}
	return false
}
