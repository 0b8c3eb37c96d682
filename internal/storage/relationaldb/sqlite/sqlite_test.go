package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpaisa/paisad/internal/money"
	"github.com/openpaisa/paisad/internal/storage/relationaldb"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	cfg := relationaldb.SQLiteConfig(filepath.Join(t.TempDir(), "paisad_test.db"))
	db, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedAccount(t *testing.T, db *Database, balance money.Paise, version int64) *relationaldb.Account {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	user := &relationaldb.User{ID: uuid.NewString(), Email: uuid.NewString() + "@example.com", CreatedAt: now}
	require.NoError(t, db.CreateUser(ctx, user))

	acct := &relationaldb.Account{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Balance:   balance,
		Currency:  "INR",
		Status:    relationaldb.AccountActive,
		Version:   version,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, db.CreateAccount(ctx, acct))
	return acct
}

func TestGetAccountNotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.GetAccount(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, relationaldb.ErrAccountNotFound)
}

func TestAccountRoundTrip(t *testing.T) {
	db := openTestDB(t)
	acct := seedAccount(t, db, 100000, 5)

	got, err := db.GetAccount(context.Background(), acct.ID)
	require.NoError(t, err)
	assert.Equal(t, acct.ID, got.ID)
	assert.Equal(t, money.Paise(100000), got.Balance)
	assert.Equal(t, int64(5), got.Version)
	assert.Equal(t, relationaldb.AccountActive, got.Status)
}

func TestDebitVersionedConflict(t *testing.T) {
	db := openTestDB(t)
	acct := seedAccount(t, db, 100000, 5)
	ctx := context.Background()

	err := db.InTransaction(ctx, func(tx relationaldb.Tx) error {
		return tx.DebitAccountVersioned(ctx, acct.ID, 1000, 4)
	})
	assert.ErrorIs(t, err, relationaldb.ErrVersionConflict)

	got, err := db.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, money.Paise(100000), got.Balance, "rollback must leave balance untouched")
	assert.Equal(t, int64(5), got.Version)
}

func TestDebitCreditVersionBump(t *testing.T) {
	db := openTestDB(t)
	from := seedAccount(t, db, 100000, 5)
	to := seedAccount(t, db, 20000, 2)
	ctx := context.Background()

	err := db.InTransaction(ctx, func(tx relationaldb.Tx) error {
		if err := tx.DebitAccountVersioned(ctx, from.ID, 5000, 5); err != nil {
			return err
		}
		return tx.CreditAccount(ctx, to.ID, 5000)
	})
	require.NoError(t, err)

	gotFrom, err := db.GetAccount(ctx, from.ID)
	require.NoError(t, err)
	assert.Equal(t, money.Paise(95000), gotFrom.Balance)
	assert.Equal(t, int64(6), gotFrom.Version)

	gotTo, err := db.GetAccount(ctx, to.ID)
	require.NoError(t, err)
	assert.Equal(t, money.Paise(25000), gotTo.Balance)
	assert.Equal(t, int64(3), gotTo.Version)
}

func TestNegativeBalanceRejected(t *testing.T) {
	db := openTestDB(t)
	acct := seedAccount(t, db, 1000, 0)
	ctx := context.Background()

	err := db.InTransaction(ctx, func(tx relationaldb.Tx) error {
		return tx.DebitAccountVersioned(ctx, acct.ID, 2000, 0)
	})
	assert.ErrorIs(t, err, relationaldb.ErrCheckViolation)
}

func TestDuplicateIdempotencyKey(t *testing.T) {
	db := openTestDB(t)
	from := seedAccount(t, db, 100000, 0)
	to := seedAccount(t, db, 0, 0)
	ctx := context.Background()

	newTransfer := func() *relationaldb.Transfer {
		now := time.Now().UTC()
		return &relationaldb.Transfer{
			ID:             uuid.NewString(),
			IdempotencyKey: "dup-key",
			FromAccountID:  from.ID,
			ToAccountID:    to.ID,
			Amount:         1000,
			Currency:       "INR",
			Status:         relationaldb.TransferCompleted,
			FraudAction:    relationaldb.ActionApprove,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
	}

	err := db.InTransaction(ctx, func(tx relationaldb.Tx) error {
		return tx.InsertTransfer(ctx, newTransfer())
	})
	require.NoError(t, err)

	err = db.InTransaction(ctx, func(tx relationaldb.Tx) error {
		return tx.InsertTransfer(ctx, newTransfer())
	})
	assert.ErrorIs(t, err, relationaldb.ErrDuplicateIdempotencyKey)
}

func TestLedgerAndSignalsRoundTrip(t *testing.T) {
	db := openTestDB(t)
	from := seedAccount(t, db, 100000, 0)
	to := seedAccount(t, db, 0, 0)
	ctx := context.Background()
	now := time.Now().UTC()

	transferID := uuid.NewString()
	err := db.InTransaction(ctx, func(tx relationaldb.Tx) error {
		if err := tx.InsertTransfer(ctx, &relationaldb.Transfer{
			ID:             transferID,
			IdempotencyKey: "k-ledger",
			FromAccountID:  from.ID,
			ToAccountID:    to.ID,
			Amount:         5000,
			Currency:       "INR",
			Status:         relationaldb.TransferCompleted,
			FraudAction:    relationaldb.ActionApprove,
			CreatedAt:      now,
			UpdatedAt:      now,
		}); err != nil {
			return err
		}
		if err := tx.InsertLedgerEntries(ctx, []relationaldb.LedgerEntry{
			{ID: uuid.NewString(), TransferID: transferID, AccountID: from.ID, Type: relationaldb.EntryDebit,
				Amount: 5000, BalanceBefore: 100000, BalanceAfter: 95000, CreatedAt: now},
			{ID: uuid.NewString(), TransferID: transferID, AccountID: to.ID, Type: relationaldb.EntryCredit,
				Amount: 5000, BalanceBefore: 0, BalanceAfter: 5000, CreatedAt: now},
		}); err != nil {
			return err
		}
		return tx.InsertFraudSignals(ctx, []relationaldb.FraudSignal{
			{ID: uuid.NewString(), TransferID: transferID, RuleName: "velocity", Points: 25,
				Context: map[string]any{"attempts": float64(4)}, CreatedAt: now},
		})
	})
	require.NoError(t, err)

	entries, err := db.GetLedgerEntries(ctx, transferID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, relationaldb.EntryDebit, entries[0].Type)
	assert.Equal(t, relationaldb.EntryCredit, entries[1].Type)

	signals, err := db.GetFraudSignals(ctx, transferID)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, "velocity", signals[0].RuleName)
	assert.Equal(t, 25, signals[0].Points)
	assert.Equal(t, float64(4), signals[0].Context["attempts"])

	got, err := db.GetTransferByIdempotencyKey(ctx, "k-ledger")
	require.NoError(t, err)
	assert.Equal(t, transferID, got.ID)
}
