// Package ledger writes the immutable double-entry record for completed
// transfers. Every transfer produces exactly one debit and one credit of
// equal magnitude; the writer refuses pairs whose arithmetic does not hold,
// failing the enclosing database transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openpaisa/paisad/internal/money"
	"github.com/openpaisa/paisad/internal/storage/relationaldb"
)

var (
	ErrAmountMismatch  = errors.New("ledger: leg amount does not match transfer amount")
	ErrBalanceMismatch = errors.New("ledger: balance-after does not equal balance-before ± amount")
	ErrSameAccount     = errors.New("ledger: debit and credit reference the same account")
)

// Leg describes one side of the pair before it is written.
type Leg struct {
	AccountID     string
	BalanceBefore money.Paise
	BalanceAfter  money.Paise
}

// Writer validates and inserts debit/credit pairs.
type Writer struct {
	now func() time.Time
}

// NewWriter creates a Writer using the wall clock.
func NewWriter() *Writer {
	return &Writer{now: time.Now}
}

// WriteDoubleEntry inserts the debit and credit legs for transfer inside the
// enclosing transaction and returns the inserted entries, debit first.
func (w *Writer) WriteDoubleEntry(ctx context.Context, tx relationaldb.Tx, transfer *relationaldb.Transfer, debit, credit Leg) ([]relationaldb.LedgerEntry, error) {
	if debit.AccountID == credit.AccountID {
		return nil, ErrSameAccount
	}
	if err := checkLeg(relationaldb.EntryDebit, debit, transfer.Amount); err != nil {
		return nil, err
	}
	if err := checkLeg(relationaldb.EntryCredit, credit, transfer.Amount); err != nil {
		return nil, err
	}

	now := w.now().UTC()
	entries := []relationaldb.LedgerEntry{
		{
			ID:            uuid.NewString(),
			TransferID:    transfer.ID,
			AccountID:     debit.AccountID,
			Type:          relationaldb.EntryDebit,
			Amount:        transfer.Amount,
			BalanceBefore: debit.BalanceBefore,
			BalanceAfter:  debit.BalanceAfter,
			CreatedAt:     now,
		},
		{
			ID:            uuid.NewString(),
			TransferID:    transfer.ID,
			AccountID:     credit.AccountID,
			Type:          relationaldb.EntryCredit,
			Amount:        transfer.Amount,
			BalanceBefore: credit.BalanceBefore,
			BalanceAfter:  credit.BalanceAfter,
			CreatedAt:     now,
		},
	}

	if err := tx.InsertLedgerEntries(ctx, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// checkLeg verifies balance-after = balance-before ± amount with the sign
// determined by the entry type.
func checkLeg(entryType relationaldb.EntryType, leg Leg, amount money.Paise) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount %d", ErrAmountMismatch, amount)
	}

	var want money.Paise
	var err error
	switch entryType {
	case relationaldb.EntryDebit:
		want, err = money.Sub(leg.BalanceBefore, amount)
	case relationaldb.EntryCredit:
		want, err = money.Add(leg.BalanceBefore, amount)
	}
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrBalanceMismatch, entryType, leg.AccountID, err)
	}
	if want != leg.BalanceAfter {
		return fmt.Errorf("%w: %s %s: before %d amount %d after %d",
			ErrBalanceMismatch, entryType, leg.AccountID, leg.BalanceBefore, amount, leg.BalanceAfter)
	}
	return nil
}
