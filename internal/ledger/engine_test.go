package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/nbarakat/ledger-service/internal/directory"
	"github.com/nbarakat/ledger-service/internal/locker"
	"github.com/nbarakat/ledger-service/internal/logger"
	"github.com/nbarakat/ledger-service/internal/model"
	"github.com/nbarakat/ledger-service/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, context.Context) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	// sqlite allows a single writer; exclusion between concurrent
	// operations is the lock manager's job, not the pool's
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&model.Wallet{}, &model.LedgerEntry{}, &model.Account{}, &model.OutboxEvent{},
	))

	st := store.New(db, nil, &kafka.Writer{}, logger.Nop())
	eng := NewEngine(st, locker.NewManager(), directory.NewService(db), logger.Nop(), 0)
	return eng, context.Background()
}

func seedAccount(t *testing.T, eng *Engine, ctx context.Context, email string) string {
	t.Helper()
	id := uuid.NewString()
	require.NoError(t, eng.Store().DB(ctx).
		Create(&model.Account{ID: id, Email: email, Active: true}).Error)
	return id
}

func mustDec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// auditBalance checks the core invariant: the stored balance equals the
// sum of the wallet's completed entry amounts.
func auditBalance(t *testing.T, eng *Engine, ctx context.Context, ownerID, currency string) {
	t.Helper()
	w, err := eng.Wallet(ctx, ownerID, currency)
	require.NoError(t, err)
	sum, err := eng.Store().SumCompleted(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(sum),
		"balance %s != sum of completed entries %s", w.Balance, sum)
}

func TestCreateWallet(t *testing.T) {
	eng, ctx := newTestEngine(t)
	owner := seedAccount(t, eng, ctx, "amina@example.com")

	w, err := eng.CreateWallet(ctx, owner, "egp")
	require.NoError(t, err)
	assert.Equal(t, "EGP", w.Currency)
	assert.True(t, w.Balance.IsZero())
	assert.True(t, w.Active)

	// duplicate currency for the same owner
	_, err = eng.CreateWallet(ctx, owner, "EGP")
	assert.ErrorIs(t, err, store.ErrWalletExists)

	// a second currency is fine
	_, err = eng.CreateWallet(ctx, owner, "USD")
	assert.NoError(t, err)

	// unsupported currency
	_, err = eng.CreateWallet(ctx, owner, "XYZ")
	assert.ErrorIs(t, err, ErrInvalidCurrency)

	ws, err := eng.Wallets(ctx, owner)
	require.NoError(t, err)
	require.Len(t, ws, 2)
	assert.Equal(t, "EGP", ws[0].Currency)
	assert.Equal(t, "USD", ws[1].Currency)
}

func TestDepositAndWithdraw(t *testing.T) {
	eng, ctx := newTestEngine(t)
	owner := seedAccount(t, eng, ctx, "amina@example.com")
	_, err := eng.CreateWallet(ctx, owner, "EGP")
	require.NoError(t, err)

	entry, err := eng.Deposit(ctx, owner, "EGP", mustDec("100.50"), "", "")
	require.NoError(t, err)
	assert.Equal(t, model.KindDeposit, entry.Kind)
	assert.Equal(t, model.StatusCompleted, entry.Status)
	assert.Equal(t, "Deposit", entry.Description)
	assert.Equal(t, "100.50", entry.Amount.StringFixed(2))
	assert.Equal(t, "100.50", entry.BalanceAfter.StringFixed(2))

	entry, err = eng.Withdraw(ctx, owner, "EGP", mustDec("30.25"), "rent", "")
	require.NoError(t, err)
	assert.Equal(t, model.KindWithdrawal, entry.Kind)
	assert.Equal(t, "rent", entry.Description)
	assert.Equal(t, "-30.25", entry.Amount.StringFixed(2))
	assert.Equal(t, "70.25", entry.BalanceAfter.StringFixed(2))

	bal, err := eng.Balance(ctx, owner, "EGP")
	require.NoError(t, err)
	assert.Equal(t, "70.25", bal.StringFixed(2))

	auditBalance(t, eng, ctx, owner, "EGP")
}

func TestInvalidAmount(t *testing.T) {
	eng, ctx := newTestEngine(t)
	owner := seedAccount(t, eng, ctx, "amina@example.com")
	_, err := eng.CreateWallet(ctx, owner, "EGP")
	require.NoError(t, err)

	for _, amt := range []string{"0", "-5"} {
		_, err := eng.Deposit(ctx, owner, "EGP", mustDec(amt), "", "")
		assert.ErrorIs(t, err, ErrInvalidAmount)
		_, err = eng.Withdraw(ctx, owner, "EGP", mustDec(amt), "", "")
		assert.ErrorIs(t, err, ErrInvalidAmount)
		_, err = eng.Transfer(ctx, owner, "other@example.com", mustDec(amt), "EGP")
		assert.ErrorIs(t, err, ErrInvalidAmount)
	}
}

func TestWithdrawInsufficientFundsWritesNothing(t *testing.T) {
	eng, ctx := newTestEngine(t)
	owner := seedAccount(t, eng, ctx, "amina@example.com")
	w, err := eng.CreateWallet(ctx, owner, "EGP")
	require.NoError(t, err)
	_, err = eng.Deposit(ctx, owner, "EGP", mustDec("50.00"), "", "")
	require.NoError(t, err)

	_, err = eng.Withdraw(ctx, owner, "EGP", mustDec("50.01"), "", "")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	bal, err := eng.Balance(ctx, owner, "EGP")
	require.NoError(t, err)
	assert.Equal(t, "50.00", bal.StringFixed(2))

	es, err := eng.Store().ListEntries(ctx, w.ID, 10, time.Time{})
	require.NoError(t, err)
	assert.Len(t, es, 1) // the deposit only

	auditBalance(t, eng, ctx, owner, "EGP")
}

func TestWithdrawFromMissingWallet(t *testing.T) {
	eng, ctx := newTestEngine(t)
	owner := seedAccount(t, eng, ctx, "amina@example.com")

	_, err := eng.Withdraw(ctx, owner, "EGP", mustDec("10"), "", "")
	assert.ErrorIs(t, err, store.ErrWalletNotFound)
}

func TestDepositIdempotency(t *testing.T) {
	eng, ctx := newTestEngine(t)
	owner := seedAccount(t, eng, ctx, "amina@example.com")
	w, err := eng.CreateWallet(ctx, owner, "EGP")
	require.NoError(t, err)

	first, err := eng.Deposit(ctx, owner, "EGP", mustDec("40.00"), "", "ref-123")
	require.NoError(t, err)

	replay, err := eng.Deposit(ctx, owner, "EGP", mustDec("40.00"), "", "ref-123")
	require.NoError(t, err)
	assert.Equal(t, first.ID, replay.ID)
	assert.Equal(t, "40.00", replay.BalanceAfter.StringFixed(2))

	// one entry, one increment
	es, err := eng.Store().ListEntries(ctx, w.ID, 10, time.Time{})
	require.NoError(t, err)
	assert.Len(t, es, 1)

	bal, err := eng.Balance(ctx, owner, "EGP")
	require.NoError(t, err)
	assert.Equal(t, "40.00", bal.StringFixed(2))
}

func TestConcurrentWithdrawDeterminism(t *testing.T) {
	eng, ctx := newTestEngine(t)
	owner := seedAccount(t, eng, ctx, "amina@example.com")
	_, err := eng.CreateWallet(ctx, owner, "EGP")
	require.NoError(t, err)
	_, err = eng.Deposit(ctx, owner, "EGP", mustDec("100.00"), "", "")
	require.NoError(t, err)

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.Withdraw(ctx, owner, "EGP", mustDec("80.00"), "", "")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, insufficient int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, ErrInsufficientFunds):
			insufficient++
		}
	}
	assert.Equal(t, 1, ok, "exactly one withdrawal must succeed")
	assert.Equal(t, 1, insufficient, "the other must fail deterministically")

	bal, err := eng.Balance(ctx, owner, "EGP")
	require.NoError(t, err)
	assert.Equal(t, "20.00", bal.StringFixed(2))

	auditBalance(t, eng, ctx, owner, "EGP")
}

func TestTransferAtomicity(t *testing.T) {
	eng, ctx := newTestEngine(t)
	sender := seedAccount(t, eng, ctx, "amina@example.com")
	receiver := seedAccount(t, eng, ctx, "badr@example.com")
	_, err := eng.CreateWallet(ctx, sender, "EGP")
	require.NoError(t, err)
	receiverWallet, err := eng.CreateWallet(ctx, receiver, "EGP")
	require.NoError(t, err)
	_, err = eng.Deposit(ctx, sender, "EGP", mustDec("50.00"), "", "")
	require.NoError(t, err)

	out, err := eng.Transfer(ctx, sender, "badr@example.com", mustDec("30.00"), "EGP")
	require.NoError(t, err)
	assert.Equal(t, model.KindTransfer, out.Kind)
	assert.Equal(t, "-30.00", out.Amount.StringFixed(2))
	assert.Equal(t, "20.00", out.BalanceAfter.StringFixed(2))
	assert.Equal(t, "Transfer to badr@example.com", out.Description)
	require.NotNil(t, out.PairedEntryID)

	in, err := eng.Store().GetEntry(ctx, nil, *out.PairedEntryID)
	require.NoError(t, err)
	assert.Equal(t, receiverWallet.ID, in.WalletID)
	assert.Equal(t, "30.00", in.Amount.StringFixed(2))
	assert.Equal(t, "30.00", in.BalanceAfter.StringFixed(2))
	assert.Equal(t, "Received from amina@example.com", in.Description)
	require.NotNil(t, in.PairedEntryID)
	assert.Equal(t, out.ID, *in.PairedEntryID)

	// legs cancel out
	assert.True(t, out.Amount.Add(in.Amount).IsZero())

	senderBal, err := eng.Balance(ctx, sender, "EGP")
	require.NoError(t, err)
	receiverBal, err := eng.Balance(ctx, receiver, "EGP")
	require.NoError(t, err)
	assert.Equal(t, "20.00", senderBal.StringFixed(2))
	assert.Equal(t, "30.00", receiverBal.StringFixed(2))

	auditBalance(t, eng, ctx, sender, "EGP")
	auditBalance(t, eng, ctx, receiver, "EGP")
}

func TestTransferInsufficientFundsLeavesBothUntouched(t *testing.T) {
	eng, ctx := newTestEngine(t)
	sender := seedAccount(t, eng, ctx, "amina@example.com")
	receiver := seedAccount(t, eng, ctx, "badr@example.com")
	senderWallet, err := eng.CreateWallet(ctx, sender, "EGP")
	require.NoError(t, err)
	receiverWallet, err := eng.CreateWallet(ctx, receiver, "EGP")
	require.NoError(t, err)
	_, err = eng.Deposit(ctx, sender, "EGP", mustDec("50.00"), "", "")
	require.NoError(t, err)

	_, err = eng.Transfer(ctx, sender, "badr@example.com", mustDec("60.00"), "EGP")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	senderBal, err := eng.Balance(ctx, sender, "EGP")
	require.NoError(t, err)
	receiverBal, err := eng.Balance(ctx, receiver, "EGP")
	require.NoError(t, err)
	assert.Equal(t, "50.00", senderBal.StringFixed(2))
	assert.Equal(t, "0.00", receiverBal.StringFixed(2))

	senderEntries, err := eng.Store().ListEntries(ctx, senderWallet.ID, 10, time.Time{})
	require.NoError(t, err)
	assert.Len(t, senderEntries, 1) // the deposit only
	receiverEntries, err := eng.Store().ListEntries(ctx, receiverWallet.ID, 10, time.Time{})
	require.NoError(t, err)
	assert.Len(t, receiverEntries, 0)
}

func TestTransferErrors(t *testing.T) {
	eng, ctx := newTestEngine(t)
	sender := seedAccount(t, eng, ctx, "amina@example.com")
	receiver := seedAccount(t, eng, ctx, "badr@example.com")
	_, err := eng.CreateWallet(ctx, sender, "EGP")
	require.NoError(t, err)
	_, err = eng.Deposit(ctx, sender, "EGP", mustDec("50.00"), "", "")
	require.NoError(t, err)

	// unknown receiver
	_, err = eng.Transfer(ctx, sender, "nobody@example.com", mustDec("10"), "EGP")
	assert.ErrorIs(t, err, ErrReceiverNotFound)

	// self transfer, rejected before any wallet work
	_, err = eng.Transfer(ctx, sender, "amina@example.com", mustDec("10"), "EGP")
	assert.ErrorIs(t, err, ErrSelfTransfer)

	// receiver exists but has no wallet for the currency
	_, err = eng.Transfer(ctx, sender, "badr@example.com", mustDec("10"), "EGP")
	assert.ErrorIs(t, err, ErrReceiverWalletNotFound)

	// sender has no wallet for the currency
	_, err = eng.CreateWallet(ctx, receiver, "USD")
	require.NoError(t, err)
	_, err = eng.Transfer(ctx, sender, "badr@example.com", mustDec("10"), "USD")
	assert.ErrorIs(t, err, store.ErrWalletNotFound)
}

// Opposing concurrent transfers between the same pair of wallets must both
// complete; the canonical lock order rules out the circular wait.
func TestOpposingTransfersComplete(t *testing.T) {
	eng, ctx := newTestEngine(t)
	a := seedAccount(t, eng, ctx, "amina@example.com")
	b := seedAccount(t, eng, ctx, "badr@example.com")
	_, err := eng.CreateWallet(ctx, a, "EGP")
	require.NoError(t, err)
	_, err = eng.CreateWallet(ctx, b, "EGP")
	require.NoError(t, err)
	_, err = eng.Deposit(ctx, a, "EGP", mustDec("1000.00"), "", "")
	require.NoError(t, err)
	_, err = eng.Deposit(ctx, b, "EGP", mustDec("1000.00"), "", "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := eng.Transfer(ctx, a, "badr@example.com", mustDec("1.00"), "EGP")
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := eng.Transfer(ctx, b, "amina@example.com", mustDec("2.00"), "EGP")
			assert.NoError(t, err)
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("opposing transfers deadlocked")
	}

	aBal, err := eng.Balance(ctx, a, "EGP")
	require.NoError(t, err)
	bBal, err := eng.Balance(ctx, b, "EGP")
	require.NoError(t, err)
	assert.Equal(t, "1020.00", aBal.StringFixed(2))
	assert.Equal(t, "980.00", bBal.StringFixed(2))

	auditBalance(t, eng, ctx, a, "EGP")
	auditBalance(t, eng, ctx, b, "EGP")
}

func TestDeactivatedWalletRejectsOperations(t *testing.T) {
	eng, ctx := newTestEngine(t)
	owner := seedAccount(t, eng, ctx, "amina@example.com")
	w, err := eng.CreateWallet(ctx, owner, "EGP")
	require.NoError(t, err)
	_, err = eng.Deposit(ctx, owner, "EGP", mustDec("50.00"), "", "")
	require.NoError(t, err)

	require.NoError(t, eng.Store().DB(ctx).Model(&model.Wallet{}).
		Where("id = ?", w.ID).Update("active", false).Error)

	_, err = eng.Deposit(ctx, owner, "EGP", mustDec("10.00"), "", "")
	assert.ErrorIs(t, err, store.ErrWalletNotFound)
	_, err = eng.Withdraw(ctx, owner, "EGP", mustDec("10.00"), "", "")
	assert.ErrorIs(t, err, store.ErrWalletNotFound)
}

func TestHistory(t *testing.T) {
	eng, ctx := newTestEngine(t)
	owner := seedAccount(t, eng, ctx, "amina@example.com")
	_, err := eng.CreateWallet(ctx, owner, "EGP")
	require.NoError(t, err)
	_, err = eng.Deposit(ctx, owner, "EGP", mustDec("100.00"), "", "")
	require.NoError(t, err)
	_, err = eng.Withdraw(ctx, owner, "EGP", mustDec("25.00"), "", "")
	require.NoError(t, err)

	es, err := eng.History(ctx, owner, "EGP", 10, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, es, 2)
	assert.Equal(t, model.KindDeposit, es[0].Kind)
	assert.Equal(t, model.KindWithdrawal, es[1].Kind)
}
