// Package sqlite implements the relationaldb contract on SQLite via
// modernc.org/sqlite. It exists for development and tests; production runs
// on postgres. A single write connection plus immediate transactions gives
// the same row-isolation the postgres implementation gets from FOR UPDATE.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/openpaisa/paisad/internal/storage/relationaldb"
)

// Database is a SQLite-backed relationaldb.Store.
type Database struct {
	db *sql.DB
}

var _ relationaldb.Store = (*Database)(nil)

// Open opens (or creates) the SQLite database at cfg.DSN and ensures the
// schema exists. busy_timeout is zero so write contention surfaces as an
// immediate SQLITE_BUSY, mirroring the postgres NOWAIT behavior.
func Open(ctx context.Context, cfg *relationaldb.Config) (*Database, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dsn := cfg.DSN
	if !strings.Contains(dsn, "_pragma") {
		dsn += "?_pragma=busy_timeout(0)&_pragma=foreign_keys(1)&_txlock=immediate"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, relationaldb.NewConnectionError("open", "failed to open database", err)
	}

	// SQLite allows one writer; a single pooled connection keeps every
	// statement on it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", relationaldb.ErrConnectionFailed, err)
	}

	d := &Database{db: db}
	if err := d.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	email      TEXT NOT NULL UNIQUE,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(id),
	balance    INTEGER NOT NULL CHECK (balance >= 0),
	currency   TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'active',
	version    INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
	id              TEXT PRIMARY KEY,
	idempotency_key TEXT NOT NULL UNIQUE,
	from_account_id TEXT NOT NULL REFERENCES accounts(id),
	to_account_id   TEXT NOT NULL REFERENCES accounts(id),
	amount          INTEGER NOT NULL CHECK (amount > 0),
	currency        TEXT NOT NULL,
	status          TEXT NOT NULL,
	failure_reason  TEXT NOT NULL DEFAULT '',
	fraud_score     INTEGER NOT NULL DEFAULT 0,
	fraud_action    TEXT NOT NULL DEFAULT 'approve',
	description     TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_from ON transactions (from_account_id, created_at);
CREATE INDEX IF NOT EXISTS idx_transactions_to   ON transactions (to_account_id, created_at);

CREATE TABLE IF NOT EXISTS ledger_entries (
	id             TEXT PRIMARY KEY,
	transaction_id TEXT NOT NULL REFERENCES transactions(id),
	account_id     TEXT NOT NULL REFERENCES accounts(id),
	entry_type     TEXT NOT NULL CHECK (entry_type IN ('debit', 'credit')),
	amount         INTEGER NOT NULL CHECK (amount > 0),
	balance_before INTEGER NOT NULL,
	balance_after  INTEGER NOT NULL,
	created_at     TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_entries_account ON ledger_entries (account_id, created_at);

CREATE TABLE IF NOT EXISTS fraud_signals (
	id             TEXT PRIMARY KEY,
	transaction_id TEXT NOT NULL REFERENCES transactions(id),
	rule_name      TEXT NOT NULL,
	points         INTEGER NOT NULL CHECK (points >= 0),
	context        TEXT,
	created_at     TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS webhook_endpoints (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(id),
	url        TEXT NOT NULL,
	secret     TEXT NOT NULL,
	events     TEXT NOT NULL DEFAULT '[]',
	active     INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS webhook_deliveries (
	id           TEXT PRIMARY KEY,
	endpoint_id  TEXT NOT NULL REFERENCES webhook_endpoints(id),
	event_id     TEXT NOT NULL,
	event_type   TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	attempts     INTEGER NOT NULL DEFAULT 0,
	last_error   TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMP NOT NULL,
	delivered_at TIMESTAMP
);
`

func (d *Database) initSchema(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return relationaldb.NewSchemaError("init_schema", "failed to create schema", err)
	}
	return nil
}

func (d *Database) CreateUser(ctx context.Context, u *relationaldb.User) error {
	if d.db == nil {
		return relationaldb.ErrDatabaseClosed
	}
	_, err := d.db.ExecContext(ctx,
		"INSERT INTO users (id, email, created_at) VALUES (?, ?, ?)",
		u.ID, u.Email, u.CreatedAt)
	if err != nil {
		return mapSQLiteError("create_user", err)
	}
	return nil
}

func (d *Database) CreateAccount(ctx context.Context, a *relationaldb.Account) error {
	if d.db == nil {
		return relationaldb.ErrDatabaseClosed
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO accounts (id, user_id, balance, currency, status, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, int64(a.Balance), a.Currency, string(a.Status), a.Version, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return mapSQLiteError("create_account", err)
	}
	return nil
}

const accountColumns = "id, user_id, balance, currency, status, version, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*relationaldb.Account, error) {
	var a relationaldb.Account
	err := row.Scan(&a.ID, &a.UserID, &a.Balance, &a.Currency, &a.Status, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (d *Database) GetAccount(ctx context.Context, id string) (*relationaldb.Account, error) {
	if d.db == nil {
		return nil, relationaldb.ErrDatabaseClosed
	}
	row := d.db.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = ?", id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, relationaldb.ErrAccountNotFound
	}
	if err != nil {
		return nil, relationaldb.NewQueryError("get_account", "failed to query account", err)
	}
	return a, nil
}

const transferColumns = `id, idempotency_key, from_account_id, to_account_id, amount, currency,
	status, failure_reason, fraud_score, fraud_action, description, created_at, updated_at`

func scanTransfer(row rowScanner) (*relationaldb.Transfer, error) {
	var t relationaldb.Transfer
	err := row.Scan(&t.ID, &t.IdempotencyKey, &t.FromAccountID, &t.ToAccountID, &t.Amount,
		&t.Currency, &t.Status, &t.FailureReason, &t.FraudScore, &t.FraudAction,
		&t.Description, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (d *Database) GetTransfer(ctx context.Context, id string) (*relationaldb.Transfer, error) {
	if d.db == nil {
		return nil, relationaldb.ErrDatabaseClosed
	}
	row := d.db.QueryRowContext(ctx,
		"SELECT "+transferColumns+" FROM transactions WHERE id = ?", id)
	t, err := scanTransfer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, relationaldb.ErrTransferNotFound
	}
	if err != nil {
		return nil, relationaldb.NewQueryError("get_transfer", "failed to query transfer", err)
	}
	return t, nil
}

func (d *Database) GetTransferByIdempotencyKey(ctx context.Context, key string) (*relationaldb.Transfer, error) {
	if d.db == nil {
		return nil, relationaldb.ErrDatabaseClosed
	}
	row := d.db.QueryRowContext(ctx,
		"SELECT "+transferColumns+" FROM transactions WHERE idempotency_key = ?", key)
	t, err := scanTransfer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, relationaldb.ErrTransferNotFound
	}
	if err != nil {
		return nil, relationaldb.NewQueryError("get_transfer_by_idempotency_key", "failed to query transfer", err)
	}
	return t, nil
}

func (d *Database) GetLedgerEntries(ctx context.Context, transferID string) ([]relationaldb.LedgerEntry, error) {
	if d.db == nil {
		return nil, relationaldb.ErrDatabaseClosed
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, transaction_id, account_id, entry_type, amount, balance_before, balance_after, created_at
		FROM ledger_entries
		WHERE transaction_id = ?
		ORDER BY entry_type DESC, created_at ASC`, transferID)
	if err != nil {
		return nil, relationaldb.NewQueryError("get_ledger_entries", "failed to query ledger entries", err)
	}
	defer rows.Close()

	var entries []relationaldb.LedgerEntry
	for rows.Next() {
		var e relationaldb.LedgerEntry
		if err := rows.Scan(&e.ID, &e.TransferID, &e.AccountID, &e.Type, &e.Amount,
			&e.BalanceBefore, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, relationaldb.NewQueryError("get_ledger_entries", "failed to scan ledger entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, relationaldb.NewQueryError("get_ledger_entries", "row iteration failed", err)
	}
	return entries, nil
}

func (d *Database) GetFraudSignals(ctx context.Context, transferID string) ([]relationaldb.FraudSignal, error) {
	if d.db == nil {
		return nil, relationaldb.ErrDatabaseClosed
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, transaction_id, rule_name, points, context, created_at
		FROM fraud_signals
		WHERE transaction_id = ?
		ORDER BY created_at ASC`, transferID)
	if err != nil {
		return nil, relationaldb.NewQueryError("get_fraud_signals", "failed to query fraud signals", err)
	}
	defer rows.Close()

	var signals []relationaldb.FraudSignal
	for rows.Next() {
		var s relationaldb.FraudSignal
		var ctxJSON sql.NullString
		if err := rows.Scan(&s.ID, &s.TransferID, &s.RuleName, &s.Points, &ctxJSON, &s.CreatedAt); err != nil {
			return nil, relationaldb.NewQueryError("get_fraud_signals", "failed to scan fraud signal", err)
		}
		if ctxJSON.Valid && ctxJSON.String != "" {
			if err := json.Unmarshal([]byte(ctxJSON.String), &s.Context); err != nil {
				return nil, relationaldb.NewQueryError("get_fraud_signals", "failed to decode signal context", err)
			}
		}
		signals = append(signals, s)
	}
	if err := rows.Err(); err != nil {
		return nil, relationaldb.NewQueryError("get_fraud_signals", "row iteration failed", err)
	}
	return signals, nil
}

// InTransaction runs fn inside a single immediate transaction.
func (d *Database) InTransaction(ctx context.Context, fn func(relationaldb.Tx) error) error {
	if d.db == nil {
		return relationaldb.ErrDatabaseClosed
	}
	sqlTx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return relationaldb.NewTransactionError("begin", "failed to begin transaction", err)
	}

	if err := fn(&Tx{tx: sqlTx, now: time.Now}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return relationaldb.NewTransactionError("rollback", "rollback failed after error", errors.Join(err, rbErr))
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return relationaldb.NewTransactionError("commit", "failed to commit transaction", err)
	}
	return nil
}

func (d *Database) Ping(ctx context.Context) error {
	if d.db == nil {
		return relationaldb.ErrDatabaseClosed
	}
	return d.db.PingContext(ctx)
}

func (d *Database) Close() error {
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}

// mapSQLiteError translates SQLite failures into the package's typed errors.
// modernc surfaces extended result codes in the error string; matching on
// them here keeps drivers out of caller code.
func mapSQLiteError(op string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked"):
		return fmt.Errorf("%w: %s", relationaldb.ErrRowLocked, op)
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %s", relationaldb.ErrDuplicateIdempotencyKey, op)
	case strings.Contains(msg, "CHECK constraint failed"):
		return fmt.Errorf("%w: %s", relationaldb.ErrCheckViolation, op)
	}
	return relationaldb.NewQueryError(op, "statement failed", err)
}
