package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpaisa/paisad/internal/money"
	"github.com/openpaisa/paisad/internal/storage/relationaldb"
)

// recordingTx captures inserted entries without a database.
type recordingTx struct {
	relationaldb.Tx
	entries []relationaldb.LedgerEntry
}

func (r *recordingTx) InsertLedgerEntries(ctx context.Context, entries []relationaldb.LedgerEntry) error {
	r.entries = append(r.entries, entries...)
	return nil
}

func transferOf(amount money.Paise) *relationaldb.Transfer {
	return &relationaldb.Transfer{ID: "t1", Amount: amount}
}

func TestWriteDoubleEntry(t *testing.T) {
	tx := &recordingTx{}
	w := NewWriter()

	entries, err := w.WriteDoubleEntry(context.Background(), tx, transferOf(50000),
		Leg{AccountID: "a", BalanceBefore: 1000000, BalanceAfter: 950000},
		Leg{AccountID: "b", BalanceBefore: 200000, BalanceAfter: 250000},
	)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Len(t, tx.entries, 2)

	debit, credit := entries[0], entries[1]
	assert.Equal(t, relationaldb.EntryDebit, debit.Type)
	assert.Equal(t, "a", debit.AccountID)
	assert.Equal(t, money.Paise(50000), debit.Amount)
	assert.Equal(t, money.Paise(1000000), debit.BalanceBefore)
	assert.Equal(t, money.Paise(950000), debit.BalanceAfter)

	assert.Equal(t, relationaldb.EntryCredit, credit.Type)
	assert.Equal(t, "b", credit.AccountID)
	assert.Equal(t, money.Paise(50000), credit.Amount)
	assert.Equal(t, money.Paise(200000), credit.BalanceBefore)
	assert.Equal(t, money.Paise(250000), credit.BalanceAfter)

	assert.Equal(t, debit.TransferID, credit.TransferID)
}

func TestRejectsBadDebitArithmetic(t *testing.T) {
	w := NewWriter()
	_, err := w.WriteDoubleEntry(context.Background(), &recordingTx{}, transferOf(50000),
		Leg{AccountID: "a", BalanceBefore: 1000000, BalanceAfter: 960000},
		Leg{AccountID: "b", BalanceBefore: 200000, BalanceAfter: 250000},
	)
	assert.ErrorIs(t, err, ErrBalanceMismatch)
}

func TestRejectsBadCreditArithmetic(t *testing.T) {
	w := NewWriter()
	_, err := w.WriteDoubleEntry(context.Background(), &recordingTx{}, transferOf(50000),
		Leg{AccountID: "a", BalanceBefore: 1000000, BalanceAfter: 950000},
		Leg{AccountID: "b", BalanceBefore: 200000, BalanceAfter: 200000},
	)
	assert.ErrorIs(t, err, ErrBalanceMismatch)
}

func TestRejectsOverdraw(t *testing.T) {
	w := NewWriter()
	// Debit below zero is a negative-result failure, not a valid leg.
	_, err := w.WriteDoubleEntry(context.Background(), &recordingTx{}, transferOf(50000),
		Leg{AccountID: "a", BalanceBefore: 10000, BalanceAfter: -40000},
		Leg{AccountID: "b", BalanceBefore: 0, BalanceAfter: 50000},
	)
	assert.ErrorIs(t, err, ErrBalanceMismatch)
}

func TestRejectsSameAccount(t *testing.T) {
	w := NewWriter()
	_, err := w.WriteDoubleEntry(context.Background(), &recordingTx{}, transferOf(50000),
		Leg{AccountID: "a", BalanceBefore: 100000, BalanceAfter: 50000},
		Leg{AccountID: "a", BalanceBefore: 50000, BalanceAfter: 100000},
	)
	assert.ErrorIs(t, err, ErrSameAccount)
}

func TestRejectsNonPositiveAmount(t *testing.T) {
	w := NewWriter()
	_, err := w.WriteDoubleEntry(context.Background(), &recordingTx{}, transferOf(0),
		Leg{AccountID: "a", BalanceBefore: 100, BalanceAfter: 100},
		Leg{AccountID: "b", BalanceBefore: 100, BalanceAfter: 100},
	)
	assert.ErrorIs(t, err, ErrAmountMismatch)
}
