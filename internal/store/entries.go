package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/nbarakat/ledger-service/internal/model"
)

// ErrEntryNotFound is returned when no ledger entry matches the lookup.
var ErrEntryNotFound = errors.New("ledger entry not found")

// CreateEntry appends a ledger entry. Entries are never updated or
// deleted once written.
func (s *Store) CreateEntry(ctx context.Context, tx *gorm.DB, e *model.LedgerEntry) error {
	return s.tx(ctx, tx).Create(e).Error
}

// FindEntryByReference probes the idempotency key. Reference ids are
// unique across all entries, so a hit means the request was already
// applied.
func (s *Store) FindEntryByReference(ctx context.Context, tx *gorm.DB, referenceID string) (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	err := s.tx(ctx, tx).Where("reference_id = ?", referenceID).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEntry fetches an entry by id.
func (s *Store) GetEntry(ctx context.Context, tx *gorm.DB, entryID string) (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	err := s.tx(ctx, tx).Where("id = ?", entryID).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListEntries returns a wallet's entries since the given time, oldest first.
func (s *Store) ListEntries(ctx context.Context, walletID string, limit int, since time.Time) ([]model.LedgerEntry, error) {
	var es []model.LedgerEntry
	err := s.db.WithContext(ctx).
		Where("wallet_id = ? AND created_at >= ?", walletID, since).
		Order("created_at asc").
		Limit(limit).
		Find(&es).Error
	return es, err
}

// SumCompleted adds up the signed amounts of a wallet's completed entries.
// The result must equal the wallet's stored balance; the engine's tests
// audit that. Summation happens in Go to keep decimal arithmetic exact
// across SQL dialects.
func (s *Store) SumCompleted(ctx context.Context, walletID string) (decimal.Decimal, error) {
	var es []model.LedgerEntry
	err := s.db.WithContext(ctx).
		Where("wallet_id = ? AND status = ?", walletID, model.StatusCompleted).
		Find(&es).Error
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, e := range es {
		sum = sum.Add(e.Amount)
	}
	return sum, nil
}
