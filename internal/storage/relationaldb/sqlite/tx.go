package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/openpaisa/paisad/internal/money"
	"github.com/openpaisa/paisad/internal/storage/relationaldb"
)

// Tx is the write surface bound to one open transaction. SQLite has no row
// locks; the immediate transaction on the single pooled connection plays the
// role postgres gives to FOR UPDATE NOWAIT, and write contention surfaces as
// SQLITE_BUSY mapped to ErrRowLocked.
type Tx struct {
	tx  *sql.Tx
	now func() time.Time
}

var _ relationaldb.Tx = (*Tx)(nil)

func (t *Tx) LockAccountPair(ctx context.Context, a, b string) (*relationaldb.Account, *relationaldb.Account, error) {
	first, second := a, b
	if second < first {
		first, second = second, first
	}

	accounts := make(map[string]*relationaldb.Account, 2)
	for _, id := range []string{first, second} {
		row := t.tx.QueryRowContext(ctx,
			"SELECT "+accountColumns+" FROM accounts WHERE id = ?", id)
		acct, err := scanAccount(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, relationaldb.ErrAccountNotFound
		}
		if err != nil {
			return nil, nil, mapSQLiteError("lock_account_pair", err)
		}
		accounts[id] = acct
	}
	return accounts[a], accounts[b], nil
}

func (t *Tx) DebitAccountVersioned(ctx context.Context, id string, amount money.Paise, version int64) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = balance - ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		int64(amount), t.now().UTC(), id, version)
	if err != nil {
		return mapSQLiteError("debit_account", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return relationaldb.NewQueryError("debit_account", "rows affected unavailable", err)
	}
	if n == 0 {
		return relationaldb.ErrVersionConflict
	}
	return nil
}

func (t *Tx) CreditAccount(ctx context.Context, id string, amount money.Paise) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = balance + ?, version = version + 1, updated_at = ?
		WHERE id = ?`,
		int64(amount), t.now().UTC(), id)
	if err != nil {
		return mapSQLiteError("credit_account", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return relationaldb.NewQueryError("credit_account", "rows affected unavailable", err)
	}
	if n == 0 {
		return relationaldb.ErrAccountNotFound
	}
	return nil
}

func (t *Tx) InsertTransfer(ctx context.Context, tr *relationaldb.Transfer) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO transactions (id, idempotency_key, from_account_id, to_account_id,
			amount, currency, status, failure_reason, fraud_score, fraud_action,
			description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.ID, tr.IdempotencyKey, tr.FromAccountID, tr.ToAccountID,
		int64(tr.Amount), tr.Currency, string(tr.Status), tr.FailureReason,
		tr.FraudScore, string(tr.FraudAction), tr.Description, tr.CreatedAt, tr.UpdatedAt)
	if err != nil {
		return mapSQLiteError("insert_transfer", err)
	}
	return nil
}

func (t *Tx) InsertLedgerEntries(ctx context.Context, entries []relationaldb.LedgerEntry) error {
	for _, e := range entries {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO ledger_entries (id, transaction_id, account_id, entry_type,
				amount, balance_before, balance_after, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.TransferID, e.AccountID, string(e.Type),
			int64(e.Amount), int64(e.BalanceBefore), int64(e.BalanceAfter), e.CreatedAt)
		if err != nil {
			return mapSQLiteError("insert_ledger_entries", err)
		}
	}
	return nil
}

func (t *Tx) InsertFraudSignals(ctx context.Context, signals []relationaldb.FraudSignal) error {
	for _, s := range signals {
		var ctxJSON any
		if s.Context != nil {
			data, err := json.Marshal(s.Context)
			if err != nil {
				return relationaldb.NewQueryError("insert_fraud_signals", "failed to encode signal context", err)
			}
			ctxJSON = string(data)
		}
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO fraud_signals (id, transaction_id, rule_name, points, context, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			s.ID, s.TransferID, s.RuleName, s.Points, ctxJSON, s.CreatedAt)
		if err != nil {
			return mapSQLiteError("insert_fraud_signals", err)
		}
	}
	return nil
}
