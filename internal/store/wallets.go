package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/nbarakat/ledger-service/internal/model"
)

// ErrWalletNotFound is returned when no wallet matches the lookup.
var ErrWalletNotFound = errors.New("wallet not found")

// ErrWalletExists is returned on a duplicate (owner, currency) pair.
var ErrWalletExists = errors.New("wallet already exists for this currency")

// CreateWallet inserts a wallet row. The unique index over
// (owner_id, currency) is the authority on duplicates.
func (s *Store) CreateWallet(ctx context.Context, tx *gorm.DB, w *model.Wallet) error {
	var count int64
	if err := s.tx(ctx, tx).Model(&model.Wallet{}).
		Where("owner_id = ? AND currency = ?", w.OwnerID, w.Currency).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrWalletExists
	}
	if err := s.tx(ctx, tx).Create(w).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrWalletExists
		}
		return err
	}
	return nil
}

// GetWallet looks a wallet up by its (owner, currency) key.
func (s *Store) GetWallet(ctx context.Context, tx *gorm.DB, ownerID, currency string) (*model.Wallet, error) {
	var w model.Wallet
	err := s.tx(ctx, tx).
		Where("owner_id = ? AND currency = ?", ownerID, currency).
		First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetWalletByID fetches a wallet by surrogate id.
func (s *Store) GetWalletByID(ctx context.Context, tx *gorm.DB, walletID string) (*model.Wallet, error) {
	var w model.Wallet
	err := s.tx(ctx, tx).Where("id = ?", walletID).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// ListWallets returns the owner's wallets in creation order.
func (s *Store) ListWallets(ctx context.Context, ownerID string) ([]model.Wallet, error) {
	var ws []model.Wallet
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at asc").
		Find(&ws).Error
	return ws, err
}

// UpdateWalletBalance writes the new balance. Exclusivity is the lock
// manager's job; callers must hold the wallet's lock.
func (s *Store) UpdateWalletBalance(ctx context.Context, tx *gorm.DB, walletID string, balance decimal.Decimal) error {
	res := s.tx(ctx, tx).Model(&model.Wallet{}).
		Where("id = ?", walletID).
		Updates(map[string]interface{}{
			"balance":    balance,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrWalletNotFound
	}
	return nil
}
