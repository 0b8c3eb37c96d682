package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/openpaisa/paisad/internal/money"
	"github.com/openpaisa/paisad/internal/storage/relationaldb"
)

// Tx is the write surface bound to one open transaction.
type Tx struct {
	tx *sql.Tx
}

var _ relationaldb.Tx = (*Tx)(nil)

// LockAccountPair locks both rows in canonical order with FOR UPDATE NOWAIT.
// NOWAIT turns contention into an immediate ErrRowLocked instead of a queue
// behind the other holder.
func (t *Tx) LockAccountPair(ctx context.Context, a, b string) (*relationaldb.Account, *relationaldb.Account, error) {
	first, second := a, b
	if second < first {
		first, second = second, first
	}

	accounts := make(map[string]*relationaldb.Account, 2)
	for _, id := range []string{first, second} {
		row := t.tx.QueryRowContext(ctx,
			"SELECT "+accountColumns+" FROM accounts WHERE id = $1 FOR UPDATE NOWAIT", id)
		acct, err := scanAccount(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, relationaldb.ErrAccountNotFound
		}
		if err != nil {
			return nil, nil, mapPQError("lock_account_pair", err)
		}
		accounts[id] = acct
	}
	return accounts[a], accounts[b], nil
}

// DebitAccountVersioned is the optimistic half of the balance mutation: the
// update is conditioned on the version observed under the row lock.
func (t *Tx) DebitAccountVersioned(ctx context.Context, id string, amount money.Paise, version int64) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = balance - $1, version = version + 1, updated_at = now()
		WHERE id = $2 AND version = $3`,
		amount, id, version)
	if err != nil {
		return mapPQError("debit_account", err)
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
		SET balance = balance + $1, version = version + 1, updated_at = now()
		WHERE id = $2`,
		amount, id)
	if err != nil {
		return mapPQError("credit_account", err)
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		tr.ID, tr.IdempotencyKey, tr.FromAccountID, tr.ToAccountID,
		tr.Amount, tr.Currency, tr.Status, tr.FailureReason, tr.FraudScore, tr.FraudAction,
		tr.Description, tr.CreatedAt, tr.UpdatedAt)
	if err != nil {
		return mapPQError("insert_transfer", err)
	}
	return nil
}

func (t *Tx) InsertLedgerEntries(ctx context.Context, entries []relationaldb.LedgerEntry) error {
	for _, e := range entries {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO ledger_entries (id, transaction_id, account_id, entry_type,
				amount, balance_before, balance_after, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.ID, e.TransferID, e.AccountID, e.Type,
			e.Amount, e.BalanceBefore, e.BalanceAfter, e.CreatedAt)
		if err != nil {
			return mapPQError("insert_ledger_entries", err)
		}
	}
	return nil
}

func (t *Tx) InsertFraudSignals(ctx context.Context, signals []relationaldb.FraudSignal) error {
	for _, s := range signals {
		ctxJSON, err := marshalContext(s.Context)
		if err != nil {
			return relationaldb.NewQueryError("insert_fraud_signals", "failed to encode signal context", err)
		}
		_, err = t.tx.ExecContext(ctx, `
			INSERT INTO fraud_signals (id, transaction_id, rule_name, points, context, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			s.ID, s.TransferID, s.RuleName, s.Points, ctxJSON, s.CreatedAt)
		if err != nil {
			return mapPQError("insert_fraud_signals", err)
		}
	}
	return nil
}

func marshalContext(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func unmarshalContext(data []byte, dst *map[string]any) error {
	return json.Unmarshal(data, dst)
}
