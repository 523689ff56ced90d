package store

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nbarakat/ledger-service/internal/model"
)

// Interface restricts Store methods for unit-test mocking.
type Interface interface {
	DB(ctx context.Context) *gorm.DB

	CreateWallet(ctx context.Context, tx *gorm.DB, w *model.Wallet) error
	GetWallet(ctx context.Context, tx *gorm.DB, ownerID, currency string) (*model.Wallet, error)
	GetWalletByID(ctx context.Context, tx *gorm.DB, walletID string) (*model.Wallet, error)
	ListWallets(ctx context.Context, ownerID string) ([]model.Wallet, error)
	UpdateWalletBalance(ctx context.Context, tx *gorm.DB, walletID string, balance decimal.Decimal) error

	CreateEntry(ctx context.Context, tx *gorm.DB, e *model.LedgerEntry) error
	FindEntryByReference(ctx context.Context, tx *gorm.DB, referenceID string) (*model.LedgerEntry, error)
	GetEntry(ctx context.Context, tx *gorm.DB, entryID string) (*model.LedgerEntry, error)
	ListEntries(ctx context.Context, walletID string, limit int, since time.Time) ([]model.LedgerEntry, error)
	SumCompleted(ctx context.Context, walletID string) (decimal.Decimal, error)

	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error

	CacheBalance(ctx context.Context, walletID string, bal decimal.Decimal) error
	GetCachedBalance(ctx context.Context, walletID string) (decimal.Decimal, error)
}

// Store persists wallets, ledger entries and outbox events through GORM,
// with a Redis balance cache and a Kafka writer for published events.
type Store struct {
	db     *gorm.DB
	rdb    *redis.Client
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

// New constructs a Store. rdb and writer may be nil in tests; the cache
// and publish methods then degrade to no-ops or errors respectively.
func New(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, logger *zap.SugaredLogger) *Store {
	return &Store{db: db, rdb: rdb, writer: w, log: logger}
}

// DB returns the underlying *gorm.DB bound to ctx.
func (s *Store) DB(ctx context.Context) *gorm.DB { return s.db.WithContext(ctx) }

// tx falls back to the store's own handle when the caller is not running
// inside a transaction.
func (s *Store) tx(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return s.db.WithContext(ctx)
}
