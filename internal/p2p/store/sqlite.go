package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"p2pplatform/internal/common/database"
	"p2pplatform/internal/p2p/domain"
)

var _ Store = (*SQLite)(nil)

// schema mirrors the Postgres migrations. Timestamps are unix nanoseconds.
const schema = `
CREATE TABLE IF NOT EXISTS p2p_contacts (
    id TEXT PRIMARY KEY,
    owner_user_id TEXT NOT NULL,
    method TEXT NOT NULL,
    value TEXT NOT NULL,
    is_favorite INTEGER NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL,
    version INTEGER NOT NULL,
    data TEXT NOT NULL,
    UNIQUE (owner_user_id, method, value)
);

CREATE TABLE IF NOT EXISTS p2p_transactions (
    id TEXT PRIMARY KEY,
    sender_user_id TEXT NOT NULL,
    recipient_user_id TEXT,
    kind TEXT NOT NULL,
    status TEXT NOT NULL,
    idempotency_key TEXT,
    initiated_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    expires_at INTEGER,
    ledger_pending INTEGER NOT NULL DEFAULT 0,
    version INTEGER NOT NULL,
    data TEXT NOT NULL,
    UNIQUE (sender_user_id, idempotency_key)
);

CREATE TABLE IF NOT EXISTS p2p_money_requests (
    id TEXT PRIMARY KEY,
    requester_user_id TEXT NOT NULL,
    payer_user_id TEXT,
    status TEXT NOT NULL,
    split_bill_id TEXT,
    expires_at INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    version INTEGER NOT NULL,
    data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS p2p_split_bills (
    id TEXT PRIMARY KEY,
    creator_user_id TEXT NOT NULL,
    fully_collected INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    version INTEGER NOT NULL,
    data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS p2p_split_participants (
    split_bill_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    PRIMARY KEY (split_bill_id, user_id),
    FOREIGN KEY (split_bill_id) REFERENCES p2p_split_bills(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS p2p_payment_links (
    id TEXT PRIMARY KEY,
    public_id TEXT NOT NULL UNIQUE,
    owner_user_id TEXT NOT NULL,
    is_active INTEGER NOT NULL,
    expires_at INTEGER,
    created_at INTEGER NOT NULL,
    version INTEGER NOT NULL,
    data TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_p2p_transactions_sender ON p2p_transactions(sender_user_id, initiated_at);
CREATE INDEX IF NOT EXISTS idx_p2p_transactions_recipient ON p2p_transactions(recipient_user_id, initiated_at);
CREATE INDEX IF NOT EXISTS idx_p2p_transactions_status ON p2p_transactions(status, updated_at);
CREATE INDEX IF NOT EXISTS idx_p2p_transactions_ledger_pending ON p2p_transactions(ledger_pending, updated_at);
CREATE INDEX IF NOT EXISTS idx_p2p_requests_requester ON p2p_money_requests(requester_user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_p2p_requests_payer ON p2p_money_requests(payer_user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_p2p_split_participants_user ON p2p_split_participants(user_id);
CREATE INDEX IF NOT EXISTS idx_p2p_links_owner ON p2p_payment_links(owner_user_id, created_at);
`

// SQLite implements Store on an embedded database for development and tests.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (and creates) the database at path and applies the schema.
func NewSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer keeps compare-and-swap updates from tripping SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA journal_mode = WAL"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Ping checks the connection.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func unixNano(t time.Time) int64 { return t.UTC().UnixNano() }

func unixNanoPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixNano()
}

func isSQLiteUnique(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func sqliteInsertErr(what string, err error) error {
	if isSQLiteUnique(err) {
		return fmt.Errorf("%s: %w", what, ErrDuplicate)
	}
	return fmt.Errorf("inserting %s: %w", what, err)
}

func sqliteGet[T any](ctx context.Context, q sqlQuerier, query string, args ...any) (*T, error) {
	var data []byte
	if err := q.QueryRowContext(ctx, query, args...).Scan(&data); err != nil {
		if database.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decode[T](data)
}

func sqliteList[T any](ctx context.Context, q sqlQuerier, query string, args ...any) ([]*T, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		v, err := decode[T](data)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func sqliteUpdate(ctx context.Context, q sqlQuerier, version *int64, query string, args ...any) error {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		*version--
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		*version--
		return err
	}
	if n == 0 {
		*version--
		return ErrVersionConflict
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func pageClause(p Page) string {
	if p.Limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", p.Limit, p.Offset)
}

// Contacts

func (s *SQLite) CreateContact(ctx context.Context, c *domain.Contact) error {
	c.Version = 1
	data, err := encode(c)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO p2p_contacts (id, owner_user_id, method, value, is_favorite, updated_at, version, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.OwnerUserID, c.Method, c.Value, c.IsFavorite, unixNano(c.UpdatedAt), c.Version, data)
	if err != nil {
		return sqliteInsertErr("contact", err)
	}
	return nil
}

func (s *SQLite) GetContact(ctx context.Context, id string) (*domain.Contact, error) {
	return sqliteGet[domain.Contact](ctx, s.db, `SELECT data FROM p2p_contacts WHERE id = ?`, id)
}

func (s *SQLite) FindContact(ctx context.Context, ownerUserID string, ref domain.ContactRef) (*domain.Contact, error) {
	return sqliteGet[domain.Contact](ctx, s.db, `
		SELECT data FROM p2p_contacts WHERE owner_user_id = ? AND method = ? AND value = ?
	`, ownerUserID, ref.Method, ref.Value)
}

func (s *SQLite) UpdateContact(ctx context.Context, c *domain.Contact) error {
	c.Version++
	data, err := encode(c)
	if err != nil {
		c.Version--
		return err
	}
	return sqliteUpdate(ctx, s.db, &c.Version, `
		UPDATE p2p_contacts SET is_favorite = ?, updated_at = ?, data = ?, version = ?
		WHERE id = ? AND version = ?
	`, c.IsFavorite, unixNano(c.UpdatedAt), data, c.Version, c.ID, c.Version-1)
}

func (s *SQLite) ListContacts(ctx context.Context, ownerUserID string, favoritesOnly bool) ([]*domain.Contact, error) {
	return sqliteList[domain.Contact](ctx, s.db, `
		SELECT data FROM p2p_contacts
		WHERE owner_user_id = ? AND (? = 0 OR is_favorite = 1)
		ORDER BY is_favorite DESC, updated_at DESC
	`, ownerUserID, favoritesOnly)
}

// Transactions

func (s *SQLite) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	if err := checkTotals(tx); err != nil {
		return err
	}
	tx.Version = 1
	data, err := encode(tx)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO p2p_transactions (
			id, sender_user_id, recipient_user_id, kind, status, idempotency_key,
			initiated_at, updated_at, expires_at, ledger_pending, version, data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tx.ID, tx.SenderUserID, nullString(tx.RecipientUserID), tx.Kind, tx.Status,
		nullString(tx.IdempotencyKey), unixNano(tx.InitiatedAt), unixNano(tx.UpdatedAt),
		unixNanoPtr(tx.ExpiresAt), tx.NeedsLedger(), tx.Version, data)
	if err != nil {
		return sqliteInsertErr("transaction", err)
	}
	return nil
}

func (s *SQLite) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return sqliteGet[domain.Transaction](ctx, s.db, `SELECT data FROM p2p_transactions WHERE id = ?`, id)
}

func (s *SQLite) GetTransactionByIdempotencyKey(ctx context.Context, senderUserID, key string) (*domain.Transaction, error) {
	return sqliteGet[domain.Transaction](ctx, s.db, `
		SELECT data FROM p2p_transactions WHERE sender_user_id = ? AND idempotency_key = ?
	`, senderUserID, key)
}

func (s *SQLite) UpdateTransaction(ctx context.Context, tx *domain.Transaction) error {
	if err := checkTotals(tx); err != nil {
		return err
	}
	tx.Version++
	data, err := encode(tx)
	if err != nil {
		tx.Version--
		return err
	}
	return sqliteUpdate(ctx, s.db, &tx.Version, `
		UPDATE p2p_transactions
		SET status = ?, updated_at = ?, expires_at = ?, ledger_pending = ?, data = ?, version = ?
		WHERE id = ? AND version = ?
	`, tx.Status, unixNano(tx.UpdatedAt), unixNanoPtr(tx.ExpiresAt), tx.NeedsLedger(), data,
		tx.Version, tx.ID, tx.Version-1)
}

func (s *SQLite) ListTransactions(ctx context.Context, f TransactionFilter) ([]*domain.Transaction, int, error) {
	sent, received := txDirections(f.Direction)
	cond := `((? AND sender_user_id = ?) OR (? AND recipient_user_id = ?))`
	args := []any{sent, f.UserID, received, f.UserID}

	if len(f.Statuses) > 0 {
		cond += " AND status IN (" + placeholders(len(f.Statuses)) + ")"
		for _, st := range statusStrings(f.Statuses) {
			args = append(args, st)
		}
	}
	if f.Kind != "" {
		cond += " AND kind = ?"
		args = append(args, f.Kind)
	}
	if f.From != nil {
		cond += " AND initiated_at >= ?"
		args = append(args, unixNano(*f.From))
	}
	if f.To != nil {
		cond += " AND initiated_at <= ?"
		args = append(args, unixNano(*f.To))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM p2p_transactions WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting transactions: %w", err)
	}
	txs, err := sqliteList[domain.Transaction](ctx, s.db,
		`SELECT data FROM p2p_transactions WHERE `+cond+` ORDER BY initiated_at DESC, id DESC`+pageClause(f.Page), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing transactions: %w", err)
	}
	return txs, total, nil
}

func (s *SQLite) ListStalePending(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.Transaction, error) {
	return sqliteList[domain.Transaction](ctx, s.db, `
		SELECT data FROM p2p_transactions
		WHERE status = ? AND updated_at < ?
		ORDER BY updated_at
		LIMIT ?
	`, domain.TxPending, unixNano(updatedBefore), limit)
}

func (s *SQLite) ListLedgerPending(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.Transaction, error) {
	return sqliteList[domain.Transaction](ctx, s.db, `
		SELECT data FROM p2p_transactions
		WHERE ledger_pending = 1 AND updated_at < ?
		ORDER BY updated_at
		LIMIT ?
	`, unixNano(updatedBefore), limit)
}

func (s *SQLite) ListExpiredSent(ctx context.Context, now time.Time, limit int) ([]*domain.Transaction, error) {
	return sqliteList[domain.Transaction](ctx, s.db, `
		SELECT data FROM p2p_transactions
		WHERE status = ? AND expires_at IS NOT NULL AND expires_at < ?
		ORDER BY expires_at
		LIMIT ?
	`, domain.TxSent, unixNano(now), limit)
}

// Requests

func insertRequestSQLite(ctx context.Context, q sqlQuerier, r *domain.MoneyRequest) error {
	r.Version = 1
	data, err := encode(r)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO p2p_money_requests (
			id, requester_user_id, payer_user_id, status, split_bill_id,
			expires_at, created_at, version, data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.RequesterUserID, nullString(r.PayerUserID), r.Status, nullString(r.SplitBillID),
		unixNano(r.ExpiresAt), unixNano(r.CreatedAt), r.Version, data)
	if err != nil {
		return sqliteInsertErr("money request", err)
	}
	return nil
}

func (s *SQLite) CreateRequest(ctx context.Context, r *domain.MoneyRequest) error {
	return insertRequestSQLite(ctx, s.db, r)
}

func (s *SQLite) GetRequest(ctx context.Context, id string) (*domain.MoneyRequest, error) {
	return sqliteGet[domain.MoneyRequest](ctx, s.db, `SELECT data FROM p2p_money_requests WHERE id = ?`, id)
}

func (s *SQLite) UpdateRequest(ctx context.Context, r *domain.MoneyRequest) error {
	r.Version++
	data, err := encode(r)
	if err != nil {
		r.Version--
		return err
	}
	return sqliteUpdate(ctx, s.db, &r.Version, `
		UPDATE p2p_money_requests SET status = ?, expires_at = ?, data = ?, version = ?
		WHERE id = ? AND version = ?
	`, r.Status, unixNano(r.ExpiresAt), data, r.Version, r.ID, r.Version-1)
}

func (s *SQLite) ListRequests(ctx context.Context, f RequestFilter) ([]*domain.MoneyRequest, int, error) {
	outgoing, incoming := requestDirections(f.Direction)
	cond := `((? AND requester_user_id = ?) OR (? AND payer_user_id = ?))`
	args := []any{outgoing, f.UserID, incoming, f.UserID}
	if f.Status != "" {
		cond += " AND status = ?"
		args = append(args, f.Status)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM p2p_money_requests WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting requests: %w", err)
	}
	reqs, err := sqliteList[domain.MoneyRequest](ctx, s.db,
		`SELECT data FROM p2p_money_requests WHERE `+cond+` ORDER BY created_at DESC, id DESC`+pageClause(f.Page), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing requests: %w", err)
	}
	return reqs, total, nil
}

func (s *SQLite) CountPendingRequests(ctx context.Context, userID string, dir Direction) (int, error) {
	outgoing, incoming := requestDirections(dir)
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM p2p_money_requests
		WHERE ((? AND requester_user_id = ?) OR (? AND payer_user_id = ?)) AND status = ?
	`, outgoing, userID, incoming, userID, domain.RequestPending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting pending requests: %w", err)
	}
	return n, nil
}

func (s *SQLite) ListExpiredRequests(ctx context.Context, now time.Time, limit int) ([]*domain.MoneyRequest, error) {
	return sqliteList[domain.MoneyRequest](ctx, s.db, `
		SELECT data FROM p2p_money_requests
		WHERE status IN (?, ?) AND expires_at < ?
		ORDER BY expires_at
		LIMIT ?
	`, domain.RequestPending, domain.RequestPartiallyPaid, unixNano(now), limit)
}

// Split bills

func (s *SQLite) CreateSplitBill(ctx context.Context, bill *domain.SplitBill, requests []*domain.MoneyRequest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	bill.Version = 1
	data, err := encode(bill)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO p2p_split_bills (id, creator_user_id, fully_collected, created_at, version, data)
		VALUES (?, ?, ?, ?, ?, ?)
	`, bill.ID, bill.CreatorUserID, bill.IsFullyCollected(), unixNano(bill.CreatedAt), bill.Version, data)
	if err != nil {
		return sqliteInsertErr("split bill", err)
	}
	for _, uid := range bill.ParticipantUserIDs() {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO p2p_split_participants (split_bill_id, user_id) VALUES (?, ?)
		`, bill.ID, uid); err != nil {
			return fmt.Errorf("inserting split participant: %w", err)
		}
	}
	for _, r := range requests {
		if err := insertRequestSQLite(ctx, tx, r); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing split bill: %w", err)
	}
	return nil
}

func (s *SQLite) GetSplitBill(ctx context.Context, id string) (*domain.SplitBill, error) {
	return sqliteGet[domain.SplitBill](ctx, s.db, `SELECT data FROM p2p_split_bills WHERE id = ?`, id)
}

func (s *SQLite) UpdateSplitBill(ctx context.Context, bill *domain.SplitBill) error {
	bill.Version++
	data, err := encode(bill)
	if err != nil {
		bill.Version--
		return err
	}
	return sqliteUpdate(ctx, s.db, &bill.Version, `
		UPDATE p2p_split_bills SET fully_collected = ?, data = ?, version = ?
		WHERE id = ? AND version = ?
	`, bill.IsFullyCollected(), data, bill.Version, bill.ID, bill.Version-1)
}

func (s *SQLite) ListSplitBills(ctx context.Context, userID string, activeOnly bool, p Page) ([]*domain.SplitBill, error) {
	return sqliteList[domain.SplitBill](ctx, s.db, `
		SELECT data FROM p2p_split_bills b
		WHERE (b.creator_user_id = ? OR EXISTS (
			SELECT 1 FROM p2p_split_participants sp WHERE sp.split_bill_id = b.id AND sp.user_id = ?
		)) AND (? = 0 OR b.fully_collected = 0)
		ORDER BY b.created_at DESC, b.id DESC`+pageClause(p), userID, userID, activeOnly)
}

// Payment links

func (s *SQLite) CreateLink(ctx context.Context, l *domain.PaymentLink) error {
	l.Version = 1
	data, err := encode(l)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO p2p_payment_links (id, public_id, owner_user_id, is_active, expires_at, created_at, version, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, l.ID, l.PublicID, l.OwnerUserID, l.IsActive, unixNanoPtr(l.ExpiresAt), unixNano(l.CreatedAt), l.Version, data)
	if err != nil {
		return sqliteInsertErr("payment link", err)
	}
	return nil
}

func (s *SQLite) GetLink(ctx context.Context, id string) (*domain.PaymentLink, error) {
	return sqliteGet[domain.PaymentLink](ctx, s.db, `SELECT data FROM p2p_payment_links WHERE id = ?`, id)
}

func (s *SQLite) GetLinkByPublicID(ctx context.Context, publicID string) (*domain.PaymentLink, error) {
	return sqliteGet[domain.PaymentLink](ctx, s.db, `SELECT data FROM p2p_payment_links WHERE public_id = ?`, publicID)
}

func (s *SQLite) UpdateLink(ctx context.Context, l *domain.PaymentLink) error {
	l.Version++
	data, err := encode(l)
	if err != nil {
		l.Version--
		return err
	}
	return sqliteUpdate(ctx, s.db, &l.Version, `
		UPDATE p2p_payment_links SET is_active = ?, expires_at = ?, data = ?, version = ?
		WHERE id = ? AND version = ?
	`, l.IsActive, unixNanoPtr(l.ExpiresAt), data, l.Version, l.ID, l.Version-1)
}

func (s *SQLite) ListLinks(ctx context.Context, ownerUserID string, p Page) ([]*domain.PaymentLink, error) {
	return sqliteList[domain.PaymentLink](ctx, s.db, `
		SELECT data FROM p2p_payment_links WHERE owner_user_id = ?
		ORDER BY created_at DESC, id DESC`+pageClause(p), ownerUserID)
}

func (s *SQLite) ListExpiredLinks(ctx context.Context, now time.Time, limit int) ([]*domain.PaymentLink, error) {
	return sqliteList[domain.PaymentLink](ctx, s.db, `
		SELECT data FROM p2p_payment_links
		WHERE is_active = 1 AND expires_at IS NOT NULL AND expires_at < ?
		ORDER BY expires_at
		LIMIT ?
	`, unixNano(now), limit)
}
