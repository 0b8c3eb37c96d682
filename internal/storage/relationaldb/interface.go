// Package relationaldb defines the contract for the authoritative relational
// store: accounts, transfers, ledger entries and fraud signals. Driver
// implementations live in the postgres and sqlite subpackages.
package relationaldb

import (
	"context"

	"github.com/openpaisa/paisad/internal/money"
)

// Store is the read side plus the transaction entry point. All methods honor
// the context deadline.
type Store interface {
	// CreateUser inserts a user row.
	CreateUser(ctx context.Context, u *User) error

	// CreateAccount inserts an account row.
	CreateAccount(ctx context.Context, a *Account) error

	// GetAccount returns the account or ErrAccountNotFound.
	GetAccount(ctx context.Context, id string) (*Account, error)

	// GetTransfer returns the transfer or ErrTransferNotFound.
	GetTransfer(ctx context.Context, id string) (*Transfer, error)

	// GetTransferByIdempotencyKey returns the transfer previously written
	// under key, or ErrTransferNotFound. This is the durable backstop when
	// the idempotency cache has evicted.
	GetTransferByIdempotencyKey(ctx context.Context, key string) (*Transfer, error)

	// GetLedgerEntries returns the entries for one transfer, debit first.
	GetLedgerEntries(ctx context.Context, transferID string) ([]LedgerEntry, error)

	// GetFraudSignals returns the recorded signals for one transfer.
	GetFraudSignals(ctx context.Context, transferID string) ([]FraudSignal, error)

	// InTransaction runs fn inside one database transaction. A nil return
	// from fn commits; any error rolls back and is returned.
	InTransaction(ctx context.Context, fn func(Tx) error) error

	Ping(ctx context.Context) error
	Close() error
}

// Tx is the write surface available inside InTransaction. Every method
// operates on the enclosing transaction; none may be used after it returns.
type Tx interface {
	// LockAccountPair row-locks both accounts in canonical (sorted) order
	// using SELECT ... FOR UPDATE NOWAIT and returns them keyed by the
	// requested order (first return matches a, second matches b). A row
	// held by another transaction yields ErrRowLocked; a missing row
	// yields ErrAccountNotFound.
	LockAccountPair(ctx context.Context, a, b string) (*Account, *Account, error)

	// DebitAccountVersioned subtracts amount from the account balance and
	// bumps the version, conditioned on the observed version. Zero rows
	// updated yields ErrVersionConflict.
	DebitAccountVersioned(ctx context.Context, id string, amount money.Paise, version int64) error

	// CreditAccount adds amount to the account balance and bumps the
	// version unconditionally. Safe only while the row lock is held.
	CreditAccount(ctx context.Context, id string, amount money.Paise) error

	// InsertTransfer writes the transfer row. A duplicate idempotency key
	// yields ErrDuplicateIdempotencyKey.
	InsertTransfer(ctx context.Context, t *Transfer) error

	// InsertLedgerEntries writes a batch of ledger entries.
	InsertLedgerEntries(ctx context.Context, entries []LedgerEntry) error

	// InsertFraudSignals writes the audit rows for fired fraud rules.
	InsertFraudSignals(ctx context.Context, signals []FraudSignal) error
}
