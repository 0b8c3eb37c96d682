package relationaldb

import (
	"time"

	"github.com/openpaisa/paisad/internal/money"
)

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	AccountActive AccountStatus = "active"
	AccountFrozen AccountStatus = "frozen"
	AccountClosed AccountStatus = "closed"
)

// TransferStatus is the lifecycle state of a transfer. Terminal states
// (completed, failed, reversed) are immutable once written.
type TransferStatus string

const (
	TransferPending    TransferStatus = "pending"
	TransferProcessing TransferStatus = "processing"
	TransferCompleted  TransferStatus = "completed"
	TransferFailed     TransferStatus = "failed"
	TransferReversed   TransferStatus = "reversed"
)

// EntryType distinguishes the two legs of a double-entry pair.
type EntryType string

const (
	EntryDebit  EntryType = "debit"
	EntryCredit EntryType = "credit"
)

// FraudAction is the decision produced by the fraud engine for a transfer.
type FraudAction string

const (
	ActionApprove   FraudAction = "approve"
	ActionReview    FraudAction = "review"
	ActionChallenge FraudAction = "challenge"
	ActionDecline   FraudAction = "decline"
)

// Blocks reports whether the action stops the transfer. Review allows and
// flags; only challenge and decline block.
func (a FraudAction) Blocks() bool {
	return a == ActionChallenge || a == ActionDecline
}

// User owns one or more accounts.
type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

// Account is a balance-holding account. Version is the optimistic-concurrency
// token: it strictly increases on every balance mutation.
type Account struct {
	ID        string
	UserID    string
	Balance   money.Paise
	Currency  string
	Status    AccountStatus
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transfer is one account-to-account money movement. The idempotency key is
// unique across all transfers; the database constraint is the durable guard
// against double execution.
type Transfer struct {
	ID             string
	IdempotencyKey string
	FromAccountID  string
	ToAccountID    string
	Amount         money.Paise
	Currency       string
	Status         TransferStatus
	FailureReason  string
	FraudScore     int
	FraudAction    FraudAction
	Description    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// LedgerEntry is one leg of a double-entry pair. Entries are append-only.
type LedgerEntry struct {
	ID            string
	TransferID    string
	AccountID     string
	Type          EntryType
	Amount        money.Paise
	BalanceBefore money.Paise
	BalanceAfter  money.Paise
	CreatedAt     time.Time
}

// FraudSignal records one fraud rule that fired for one transfer.
type FraudSignal struct {
	ID         string
	TransferID string
	RuleName   string
	Points     int
	Context    map[string]any
	CreatedAt  time.Time
}
