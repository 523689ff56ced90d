package model

import "time"

// Account is the minimal slice of the identity system the ledger needs:
// enough to resolve a transfer receiver by email. Account lifecycle is
// owned by the upstream identity service.
type Account struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	Email     string    `gorm:"size:255;not null;uniqueIndex"`
	Active    bool      `gorm:"not null;default:true"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (Account) TableName() string { return "account" }
