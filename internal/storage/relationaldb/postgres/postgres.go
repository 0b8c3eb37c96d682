// Package postgres implements the relationaldb contract on PostgreSQL via
// database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/lib/pq"

	"github.com/openpaisa/paisad/internal/storage/relationaldb"
)

// Database is a PostgreSQL-backed relationaldb.Store.
type Database struct {
	db  *sql.DB
	cfg *relationaldb.Config
}

var _ relationaldb.Store = (*Database)(nil)

// Open connects to PostgreSQL, applies pool settings, verifies connectivity
// and ensures the schema exists. Session timeouts are injected into the DSN
// so every new physical connection starts with statement_timeout and
// idle_in_transaction_session_timeout set.
func Open(ctx context.Context, cfg *relationaldb.Config) (*Database, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dsn, err := sessionDSN(cfg)
	if err != nil {
		return nil, relationaldb.NewConfigurationError("open", "invalid dsn", err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, relationaldb.NewConnectionError("open", "failed to open database", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", relationaldb.ErrConnectionFailed, err)
	}

	d := &Database{db: db, cfg: cfg}
	if err := d.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// sessionDSN appends the per-connection bootstrap options to the DSN,
// handling both URL ("postgres://...") and keyword ("host=... dbname=...")
// forms. Explicit options already present in the DSN win.
func sessionDSN(cfg *relationaldb.Config) (string, error) {
	opts := fmt.Sprintf("-c statement_timeout=%d -c idle_in_transaction_session_timeout=%d",
		cfg.StatementTimeout.Milliseconds(), cfg.IdleInTransactionKill.Milliseconds())

	if strings.HasPrefix(cfg.DSN, "postgres://") || strings.HasPrefix(cfg.DSN, "postgresql://") {
		u, err := url.Parse(cfg.DSN)
		if err != nil {
			return "", err
		}
		q := u.Query()
		if q.Get("options") == "" {
			q.Set("options", opts)
			u.RawQuery = q.Encode()
		}
		return u.String(), nil
	}

	if strings.Contains(cfg.DSN, "options=") {
		return cfg.DSN, nil
	}
	return cfg.DSN + fmt.Sprintf(" options='%s'", opts), nil
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         UUID PRIMARY KEY,
	email      TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS accounts (
	id         UUID PRIMARY KEY,
	user_id    UUID NOT NULL REFERENCES users(id),
	balance    BIGINT NOT NULL CHECK (balance >= 0),
	currency   TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'active',
	version    BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS transactions (
	id              UUID PRIMARY KEY,
	idempotency_key TEXT NOT NULL UNIQUE,
	from_account_id UUID NOT NULL REFERENCES accounts(id),
	to_account_id   UUID NOT NULL REFERENCES accounts(id),
	amount          BIGINT NOT NULL CHECK (amount > 0),
	currency        TEXT NOT NULL,
	status          TEXT NOT NULL,
	failure_reason  TEXT NOT NULL DEFAULT '',
	fraud_score     INT NOT NULL DEFAULT 0,
	fraud_action    TEXT NOT NULL DEFAULT 'approve',
	description     TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transactions_from ON transactions (from_account_id, created_at);
CREATE INDEX IF NOT EXISTS idx_transactions_to   ON transactions (to_account_id, created_at);

CREATE TABLE IF NOT EXISTS ledger_entries (
	id             UUID PRIMARY KEY,
	transaction_id UUID NOT NULL REFERENCES transactions(id),
	account_id     UUID NOT NULL REFERENCES accounts(id),
	entry_type     TEXT NOT NULL CHECK (entry_type IN ('debit', 'credit')),
	amount         BIGINT NOT NULL CHECK (amount > 0),
	balance_before BIGINT NOT NULL,
	balance_after  BIGINT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_ledger_entries_account ON ledger_entries (account_id, created_at);

CREATE TABLE IF NOT EXISTS fraud_signals (
	id             UUID PRIMARY KEY,
	transaction_id UUID NOT NULL REFERENCES transactions(id),
	rule_name      TEXT NOT NULL,
	points         INT NOT NULL CHECK (points >= 0),
	context        JSONB,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS webhook_endpoints (
	id         UUID PRIMARY KEY,
	user_id    UUID NOT NULL REFERENCES users(id),
	url        TEXT NOT NULL,
	secret     TEXT NOT NULL,
	events     TEXT[] NOT NULL DEFAULT '{}',
	active     BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS webhook_deliveries (
	id           UUID PRIMARY KEY,
	endpoint_id  UUID NOT NULL REFERENCES webhook_endpoints(id),
	event_id     UUID NOT NULL,
	event_type   TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	attempts     INT NOT NULL DEFAULT 0,
	last_error   TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	delivered_at TIMESTAMPTZ
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
		"INSERT INTO users (id, email, created_at) VALUES ($1, $2, $3)",
		u.ID, u.Email, u.CreatedAt)
	if err != nil {
		return mapPQError("create_user", err)
	}
	return nil
}

func (d *Database) CreateAccount(ctx context.Context, a *relationaldb.Account) error {
	if d.db == nil {
		return relationaldb.ErrDatabaseClosed
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO accounts (id, user_id, balance, currency, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.UserID, a.Balance, a.Currency, a.Status, a.Version, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return mapPQError("create_account", err)
	}
	return nil
}

const accountColumns = "id, user_id, balance, currency, status, version, created_at, updated_at"

func scanAccount(row *sql.Row) (*relationaldb.Account, error) {
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
		"SELECT "+accountColumns+" FROM accounts WHERE id = $1", id)
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

func scanTransfer(row *sql.Row) (*relationaldb.Transfer, error) {
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
		"SELECT "+transferColumns+" FROM transactions WHERE id = $1", id)
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
		"SELECT "+transferColumns+" FROM transactions WHERE idempotency_key = $1", key)
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
		WHERE transaction_id = $1
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
		WHERE transaction_id = $1
		ORDER BY created_at ASC`, transferID)
	if err != nil {
		return nil, relationaldb.NewQueryError("get_fraud_signals", "failed to query fraud signals", err)
	}
	defer rows.Close()

	var signals []relationaldb.FraudSignal
	for rows.Next() {
		var s relationaldb.FraudSignal
		var ctxJSON []byte
		if err := rows.Scan(&s.ID, &s.TransferID, &s.RuleName, &s.Points, &ctxJSON, &s.CreatedAt); err != nil {
			return nil, relationaldb.NewQueryError("get_fraud_signals", "failed to scan fraud signal", err)
		}
		if len(ctxJSON) > 0 {
			if err := unmarshalContext(ctxJSON, &s.Context); err != nil {
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

// InTransaction runs fn inside a single database transaction.
func (d *Database) InTransaction(ctx context.Context, fn func(relationaldb.Tx) error) error {
	if d.db == nil {
		return relationaldb.ErrDatabaseClosed
	}
	sqlTx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return relationaldb.NewTransactionError("begin", "failed to begin transaction", err)
	}

	if err := fn(&Tx{tx: sqlTx}); err != nil {
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

// mapPQError translates PostgreSQL SQLSTATE codes into the package's typed
// errors so callers never match on driver internals.
func mapPQError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "55P03": // lock_not_available
			return fmt.Errorf("%w: %s", relationaldb.ErrRowLocked, op)
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", relationaldb.ErrDuplicateIdempotencyKey, op)
		case "23514": // check_violation
			return fmt.Errorf("%w: %s", relationaldb.ErrCheckViolation, op)
		}
	}
	return relationaldb.NewQueryError(op, "statement failed", err)
}
