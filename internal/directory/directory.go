// Package directory resolves transfer counterparties. It reads the account
// table maintained by the upstream identity service; the ledger never
// writes to it.
package directory

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/nbarakat/ledger-service/internal/model"
)

// ErrAccountNotFound is returned when no active account matches.
var ErrAccountNotFound = errors.New("account not found")

// Resolver maps receiver identifiers to account ids.
type Resolver interface {
	Resolve(ctx context.Context, email string) (string, error)
	EmailOf(ctx context.Context, accountID string) (string, error)
}

// Service is the GORM-backed Resolver.
type Service struct {
	db *gorm.DB
}

// NewService builds a directory service over the shared database handle.
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Resolve returns the account id for an email-like handle. Inactive
// accounts resolve like missing ones.
func (s *Service) Resolve(ctx context.Context, email string) (string, error) {
	var a model.Account
	err := s.db.WithContext(ctx).
		Where("email = ? AND active = ?", email, true).
		First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrAccountNotFound
	}
	if err != nil {
		return "", err
	}
	return a.ID, nil
}

// EmailOf returns the email of an account id, for entry descriptions.
func (s *Service) EmailOf(ctx context.Context, accountID string) (string, error) {
	var a model.Account
	err := s.db.WithContext(ctx).Where("id = ?", accountID).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrAccountNotFound
	}
	if err != nil {
		return "", err
	}
	return a.Email, nil
}
