// Package ledger implements the transaction engine: deposit, withdraw and
// transfer over per-owner, per-currency wallets, executed under per-wallet
// exclusive locks so balances never go negative and no update is lost.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nbarakat/ledger-service/internal/directory"
	"github.com/nbarakat/ledger-service/internal/locker"
	"github.com/nbarakat/ledger-service/internal/model"
	"github.com/nbarakat/ledger-service/internal/store"
)

// Engine orchestrates ledger operations: it resolves wallets through the
// store, takes locks through the lock manager, validates, mutates balances
// and writes entries plus outbox events in one database transaction.
type Engine struct {
	store    store.Interface
	locks    *locker.Manager
	dir      directory.Resolver
	log      *zap.SugaredLogger
	lockWait time.Duration
}

// NewEngine constructs an Engine. lockWait bounds the time an operation
// may block waiting for wallet locks; zero means wait as long as the
// request context allows.
func NewEngine(st store.Interface, locks *locker.Manager, dir directory.Resolver, logger *zap.SugaredLogger, lockWait time.Duration) *Engine {
	return &Engine{store: st, locks: locks, dir: dir, log: logger, lockWait: lockWait}
}

// passthrough lists the failures callers are expected to match on.
// Anything else is logged and collapsed into ErrInternal.
var passthrough = []error{
	ErrInvalidAmount,
	ErrInvalidCurrency,
	ErrInsufficientFunds,
	ErrSelfTransfer,
	ErrReceiverNotFound,
	ErrReceiverWalletNotFound,
	ErrConcurrencyAborted,
	store.ErrWalletNotFound,
	store.ErrWalletExists,
}

func (e *Engine) fail(op string, err error) error {
	for _, known := range passthrough {
		if errors.Is(err, known) {
			return err
		}
	}
	e.log.Errorw("ledger operation failed", "op", op, "err", err)
	return ErrInternal
}

func (e *Engine) lockCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.lockWait > 0 {
		return context.WithTimeout(ctx, e.lockWait)
	}
	return ctx, func() {}
}

func refPtr(referenceID string) *string {
	if referenceID == "" {
		return nil
	}
	return &referenceID
}

// CreateWallet provisions a zero-balance wallet for the owner. At most one
// wallet per currency may exist per owner.
func (e *Engine) CreateWallet(ctx context.Context, ownerID, currency string) (*model.Wallet, error) {
	currency = strings.ToUpper(currency)
	if !model.SupportedCurrency(currency) {
		return nil, ErrInvalidCurrency
	}
	w := &model.Wallet{
		ID:       uuid.NewString(),
		OwnerID:  ownerID,
		Currency: currency,
		Balance:  decimal.Zero,
		Active:   true,
	}
	if err := e.store.CreateWallet(ctx, nil, w); err != nil {
		return nil, e.fail("create_wallet", err)
	}
	return w, nil
}

// Wallet returns the owner's wallet for a currency.
func (e *Engine) Wallet(ctx context.Context, ownerID, currency string) (*model.Wallet, error) {
	w, err := e.store.GetWallet(ctx, nil, ownerID, strings.ToUpper(currency))
	if err != nil {
		return nil, e.fail("get_wallet", err)
	}
	return w, nil
}

// Wallets lists the owner's wallets in creation order.
func (e *Engine) Wallets(ctx context.Context, ownerID string) ([]model.Wallet, error) {
	ws, err := e.store.ListWallets(ctx, ownerID)
	if err != nil {
		return nil, e.fail("list_wallets", err)
	}
	return ws, nil
}

// Deposit credits the owner's currency wallet and records a completed
// entry. A non-empty referenceID makes the call idempotent: a replay
// returns the original entry without touching the balance.
func (e *Engine) Deposit(ctx context.Context, ownerID, currency string, amount decimal.Decimal, description, referenceID string) (*model.LedgerEntry, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	if description == "" {
		description = "Deposit"
	}
	w, err := e.store.GetWallet(ctx, nil, ownerID, strings.ToUpper(currency))
	if err != nil {
		return nil, e.fail("deposit", err)
	}

	lctx, cancel := e.lockCtx(ctx)
	defer cancel()
	if err := e.locks.Acquire(lctx, w.ID); err != nil {
		return nil, ErrConcurrencyAborted
	}
	defer e.locks.Release(w.ID)

	var entry *model.LedgerEntry
	var replayed bool
	err = e.store.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if referenceID != "" {
			prior, err := e.store.FindEntryByReference(ctx, tx, referenceID)
			if err == nil {
				entry, replayed = prior, true
				return nil
			}
			if !errors.Is(err, store.ErrEntryNotFound) {
				return err
			}
		}
		cur, err := e.store.GetWalletByID(ctx, tx, w.ID)
		if err != nil {
			return err
		}
		if !cur.Active {
			return store.ErrWalletNotFound
		}
		newBal := cur.Balance.Add(amount)
		if err := e.store.UpdateWalletBalance(ctx, tx, cur.ID, newBal); err != nil {
			return err
		}
		entry = &model.LedgerEntry{
			ID:           uuid.NewString(),
			WalletID:     cur.ID,
			Amount:       amount,
			BalanceAfter: newBal,
			Kind:         model.KindDeposit,
			Status:       model.StatusCompleted,
			ReferenceID:  refPtr(referenceID),
			Description:  description,
		}
		if err := e.store.CreateEntry(ctx, tx, entry); err != nil {
			return err
		}
		return e.writeOutbox(ctx, tx, "Deposit", entry)
	})
	if err != nil {
		return nil, e.fail("deposit", err)
	}
	if !replayed {
		e.cacheBalance(ctx, entry.WalletID, entry.BalanceAfter)
	}
	return entry, nil
}

// Withdraw debits the owner's currency wallet. The balance check and the
// mutation run inside the same held lock, so of two racing withdrawals
// that together exceed the balance exactly one succeeds.
func (e *Engine) Withdraw(ctx context.Context, ownerID, currency string, amount decimal.Decimal, description, referenceID string) (*model.LedgerEntry, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	if description == "" {
		description = "Withdrawal"
	}
	w, err := e.store.GetWallet(ctx, nil, ownerID, strings.ToUpper(currency))
	if err != nil {
		return nil, e.fail("withdraw", err)
	}

	lctx, cancel := e.lockCtx(ctx)
	defer cancel()
	if err := e.locks.Acquire(lctx, w.ID); err != nil {
		return nil, ErrConcurrencyAborted
	}
	defer e.locks.Release(w.ID)

	var entry *model.LedgerEntry
	var replayed bool
	err = e.store.DB(ctx).Transaction(func(tx *gorm.DB) error {
		if referenceID != "" {
			prior, err := e.store.FindEntryByReference(ctx, tx, referenceID)
			if err == nil {
				entry, replayed = prior, true
				return nil
			}
			if !errors.Is(err, store.ErrEntryNotFound) {
				return err
			}
		}
		cur, err := e.store.GetWalletByID(ctx, tx, w.ID)
		if err != nil {
			return err
		}
		if !cur.Active {
			return store.ErrWalletNotFound
		}
		if cur.Balance.LessThan(amount) {
			return ErrInsufficientFunds
		}
		newBal := cur.Balance.Sub(amount)
		if err := e.store.UpdateWalletBalance(ctx, tx, cur.ID, newBal); err != nil {
			return err
		}
		entry = &model.LedgerEntry{
			ID:           uuid.NewString(),
			WalletID:     cur.ID,
			Amount:       amount.Neg(),
			BalanceAfter: newBal,
			Kind:         model.KindWithdrawal,
			Status:       model.StatusCompleted,
			ReferenceID:  refPtr(referenceID),
			Description:  description,
		}
		if err := e.store.CreateEntry(ctx, tx, entry); err != nil {
			return err
		}
		return e.writeOutbox(ctx, tx, "Withdraw", entry)
	})
	if err != nil {
		return nil, e.fail("withdraw", err)
	}
	if !replayed {
		e.cacheBalance(ctx, entry.WalletID, entry.BalanceAfter)
	}
	return entry, nil
}

// Transfer moves amount from the sender's currency wallet to the
// receiver's. Both wallet locks are taken in canonical ascending-id order
// before any validation, and both balance mutations plus both linked
// entries commit as one unit. The returned entry is the sender's outgoing
// leg.
func (e *Engine) Transfer(ctx context.Context, senderID, receiverEmail string, amount decimal.Decimal, currency string) (*model.LedgerEntry, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	currency = strings.ToUpper(currency)

	receiverID, err := e.dir.Resolve(ctx, receiverEmail)
	if err != nil {
		if errors.Is(err, directory.ErrAccountNotFound) {
			return nil, ErrReceiverNotFound
		}
		return nil, e.fail("transfer", err)
	}
	if receiverID == senderID {
		return nil, ErrSelfTransfer
	}

	senderWallet, err := e.store.GetWallet(ctx, nil, senderID, currency)
	if err != nil {
		return nil, e.fail("transfer", err)
	}
	receiverWallet, err := e.store.GetWallet(ctx, nil, receiverID, currency)
	if err != nil {
		if errors.Is(err, store.ErrWalletNotFound) {
			return nil, ErrReceiverWalletNotFound
		}
		return nil, e.fail("transfer", err)
	}

	senderEmail, err := e.dir.EmailOf(ctx, senderID)
	if err != nil {
		senderEmail = senderID
	}

	lctx, cancel := e.lockCtx(ctx)
	defer cancel()
	ids := []string{senderWallet.ID, receiverWallet.ID}
	if err := e.locks.AcquireOrdered(lctx, ids...); err != nil {
		return nil, ErrConcurrencyAborted
	}
	defer e.locks.ReleaseAll(ids...)

	var outgoing *model.LedgerEntry
	var receiverBalance decimal.Decimal
	err = e.store.DB(ctx).Transaction(func(tx *gorm.DB) error {
		// re-validate under the locks: either wallet may have been
		// deactivated since the unlocked resolution above
		from, err := e.store.GetWalletByID(ctx, tx, senderWallet.ID)
		if err != nil {
			return err
		}
		to, err := e.store.GetWalletByID(ctx, tx, receiverWallet.ID)
		if err != nil {
			if errors.Is(err, store.ErrWalletNotFound) {
				return ErrReceiverWalletNotFound
			}
			return err
		}
		if !from.Active {
			return store.ErrWalletNotFound
		}
		if !to.Active {
			return ErrReceiverWalletNotFound
		}
		if from.Balance.LessThan(amount) {
			return ErrInsufficientFunds
		}

		newFrom := from.Balance.Sub(amount)
		newTo := to.Balance.Add(amount)
		receiverBalance = newTo
		if err := e.store.UpdateWalletBalance(ctx, tx, from.ID, newFrom); err != nil {
			return err
		}
		if err := e.store.UpdateWalletBalance(ctx, tx, to.ID, newTo); err != nil {
			return err
		}

		// both ids are assigned up front so the legs can point at each
		// other before either row exists
		outID, inID := uuid.NewString(), uuid.NewString()
		outgoing = &model.LedgerEntry{
			ID:            outID,
			WalletID:      from.ID,
			Amount:        amount.Neg(),
			BalanceAfter:  newFrom,
			Kind:          model.KindTransfer,
			Status:        model.StatusCompleted,
			PairedEntryID: &inID,
			Description:   "Transfer to " + receiverEmail,
		}
		incoming := &model.LedgerEntry{
			ID:            inID,
			WalletID:      to.ID,
			Amount:        amount,
			BalanceAfter:  newTo,
			Kind:          model.KindTransfer,
			Status:        model.StatusCompleted,
			PairedEntryID: &outID,
			Description:   "Received from " + senderEmail,
		}
		if err := e.store.CreateEntry(ctx, tx, outgoing); err != nil {
			return err
		}
		if err := e.store.CreateEntry(ctx, tx, incoming); err != nil {
			return err
		}

		payload, err := json.Marshal(map[string]interface{}{
			"from_wallet_id": from.ID,
			"to_wallet_id":   to.ID,
			"amount":         amount,
		})
		if err != nil {
			return err
		}
		evt := &model.OutboxEvent{
			Aggregate:   "Wallet",
			AggregateID: from.ID,
			EventType:   "Transfer",
			Payload:     string(payload),
		}
		return e.store.CreateOutboxEvent(ctx, tx, evt)
	})
	if err != nil {
		return nil, e.fail("transfer", err)
	}
	e.cacheBalance(ctx, senderWallet.ID, outgoing.BalanceAfter)
	e.cacheBalance(ctx, receiverWallet.ID, receiverBalance)
	return outgoing, nil
}

// Balance returns the wallet's current balance, preferring the cache.
func (e *Engine) Balance(ctx context.Context, ownerID, currency string) (decimal.Decimal, error) {
	w, err := e.store.GetWallet(ctx, nil, ownerID, strings.ToUpper(currency))
	if err != nil {
		return decimal.Zero, e.fail("balance", err)
	}
	if bal, err := e.store.GetCachedBalance(ctx, w.ID); err == nil {
		return bal, nil
	}
	e.cacheBalance(ctx, w.ID, w.Balance)
	return w.Balance, nil
}

// History returns the wallet's entries since the given time, oldest first.
func (e *Engine) History(ctx context.Context, ownerID, currency string, limit int, since time.Time) ([]model.LedgerEntry, error) {
	w, err := e.store.GetWallet(ctx, nil, ownerID, strings.ToUpper(currency))
	if err != nil {
		return nil, e.fail("history", err)
	}
	es, err := e.store.ListEntries(ctx, w.ID, limit, since)
	if err != nil {
		return nil, e.fail("history", err)
	}
	return es, nil
}

// Store exposes the underlying store (unit tests helper).
func (e *Engine) Store() store.Interface { return e.store }

func (e *Engine) writeOutbox(ctx context.Context, tx *gorm.DB, eventType string, entry *model.LedgerEntry) error {
	payload, err := json.Marshal(map[string]interface{}{
		"wallet_id": entry.WalletID,
		"entry_id":  entry.ID,
		"amount":    entry.Amount,
		"balance":   entry.BalanceAfter,
	})
	if err != nil {
		return err
	}
	evt := &model.OutboxEvent{
		Aggregate:   "Wallet",
		AggregateID: entry.WalletID,
		EventType:   eventType,
		Payload:     string(payload),
	}
	return e.store.CreateOutboxEvent(ctx, tx, evt)
}

func (e *Engine) cacheBalance(ctx context.Context, walletID string, bal decimal.Decimal) {
	if err := e.store.CacheBalance(ctx, walletID, bal); err != nil {
		e.log.Warnw("balance cache refresh failed", "wallet_id", walletID, "err", err)
	}
}
