package ledger

import "errors"

// The engine surfaces a closed set of typed failures; raw persistence
// errors never reach the caller.
var (
	// ErrInvalidAmount means a non-positive amount was passed.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidCurrency means the currency code is not supported.
	ErrInvalidCurrency = errors.New("unsupported currency")

	// ErrInsufficientFunds is returned when the wallet balance cannot
	// cover the requested debit.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrSelfTransfer rejects transfers where sender and receiver resolve
	// to the same account.
	ErrSelfTransfer = errors.New("cannot transfer money to yourself")

	// ErrReceiverNotFound means the receiver identifier matched no account.
	ErrReceiverNotFound = errors.New("receiver not found")

	// ErrReceiverWalletNotFound means the receiver exists but holds no
	// wallet for the requested currency.
	ErrReceiverWalletNotFound = errors.New("receiver has no wallet for this currency")

	// ErrConcurrencyAborted is returned when an operation gave up waiting
	// for a wallet lock. Callers may retry.
	ErrConcurrencyAborted = errors.New("aborted waiting for wallet lock")

	// ErrInternal hides unexpected persistence failures. The cause is
	// logged, not returned.
	ErrInternal = errors.New("internal ledger error")
)
