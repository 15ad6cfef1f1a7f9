package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"p2pplatform/internal/common/database"
	"p2pplatform/internal/p2p/domain"
)

var _ Store = (*Postgres)(nil)

// Postgres implements Store on pgx.
type Postgres struct {
	db *database.DB
}

// NewPostgres creates a Postgres store. The schema comes from database.Migrate.
func NewPostgres(db *database.DB) *Postgres {
	return &Postgres{db: db}
}

// Ping checks the connection.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.HealthCheck(ctx)
}

// Close is a no-op; the pool is owned by the caller.
func (s *Postgres) Close() error { return nil }

func pgGet[T any](ctx context.Context, q database.Querier, query string, args ...any) (*T, error) {
	var data []byte
	if err := q.QueryRow(ctx, query, args...).Scan(&data); err != nil {
		if database.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decode[T](data)
}

func pgList[T any](ctx context.Context, q database.Querier, query string, args ...any) ([]*T, error) {
	rows, err := q.Query(ctx, query, args...)
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

// pgUpdate runs a versioned UPDATE whose last two args are the new and the
// expected version.
func pgUpdate(ctx context.Context, q database.Querier, version *int64, query string, args ...any) error {
	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		*version--
		return err
	}
	if tag.RowsAffected() == 0 {
		*version--
		return ErrVersionConflict
	}
	return nil
}

func pgInsertErr(what string, err error) error {
	if database.IsUniqueViolation(err) {
		return fmt.Errorf("%s: %w", what, ErrDuplicate)
	}
	return fmt.Errorf("inserting %s: %w", what, err)
}

// Contacts

func (s *Postgres) CreateContact(ctx context.Context, c *domain.Contact) error {
	c.Version = 1
	data, err := encode(c)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO p2p_contacts (id, owner_user_id, method, value, is_favorite, updated_at, version, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, c.ID, c.OwnerUserID, c.Method, c.Value, c.IsFavorite, c.UpdatedAt, c.Version, data)
	if err != nil {
		return pgInsertErr("contact", err)
	}
	return nil
}

func (s *Postgres) GetContact(ctx context.Context, id string) (*domain.Contact, error) {
	return pgGet[domain.Contact](ctx, s.db, `SELECT data FROM p2p_contacts WHERE id = $1`, id)
}

func (s *Postgres) FindContact(ctx context.Context, ownerUserID string, ref domain.ContactRef) (*domain.Contact, error) {
	return pgGet[domain.Contact](ctx, s.db, `
		SELECT data FROM p2p_contacts WHERE owner_user_id = $1 AND method = $2 AND value = $3
	`, ownerUserID, ref.Method, ref.Value)
}

func (s *Postgres) UpdateContact(ctx context.Context, c *domain.Contact) error {
	c.Version++
	data, err := encode(c)
	if err != nil {
		c.Version--
		return err
	}
	return pgUpdate(ctx, s.db, &c.Version, `
		UPDATE p2p_contacts SET is_favorite = $2, updated_at = $3, data = $4, version = $5
		WHERE id = $1 AND version = $6
	`, c.ID, c.IsFavorite, c.UpdatedAt, data, c.Version, c.Version-1)
}

func (s *Postgres) ListContacts(ctx context.Context, ownerUserID string, favoritesOnly bool) ([]*domain.Contact, error) {
	return pgList[domain.Contact](ctx, s.db, `
		SELECT data FROM p2p_contacts
		WHERE owner_user_id = $1 AND ($2 = FALSE OR is_favorite)
		ORDER BY is_favorite DESC, updated_at DESC
	`, ownerUserID, favoritesOnly)
}

// Transactions

func (s *Postgres) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	if err := checkTotals(tx); err != nil {
		return err
	}
	tx.Version = 1
	data, err := encode(tx)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO p2p_transactions (
			id, sender_user_id, recipient_user_id, kind, status, idempotency_key,
			initiated_at, updated_at, expires_at, ledger_pending, version, data
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, tx.ID, tx.SenderUserID, nullString(tx.RecipientUserID), tx.Kind, tx.Status,
		nullString(tx.IdempotencyKey), tx.InitiatedAt, tx.UpdatedAt, tx.ExpiresAt,
		tx.NeedsLedger(), tx.Version, data)
	if err != nil {
		return pgInsertErr("transaction", err)
	}
	return nil
}

func (s *Postgres) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return pgGet[domain.Transaction](ctx, s.db, `SELECT data FROM p2p_transactions WHERE id = $1`, id)
}

func (s *Postgres) GetTransactionByIdempotencyKey(ctx context.Context, senderUserID, key string) (*domain.Transaction, error) {
	return pgGet[domain.Transaction](ctx, s.db, `
		SELECT data FROM p2p_transactions WHERE sender_user_id = $1 AND idempotency_key = $2
	`, senderUserID, key)
}

func (s *Postgres) UpdateTransaction(ctx context.Context, tx *domain.Transaction) error {
	if err := checkTotals(tx); err != nil {
		return err
	}
	tx.Version++
	data, err := encode(tx)
	if err != nil {
		tx.Version--
		return err
	}
	return pgUpdate(ctx, s.db, &tx.Version, `
		UPDATE p2p_transactions
		SET status = $2, updated_at = $3, expires_at = $4, ledger_pending = $5, data = $6, version = $7
		WHERE id = $1 AND version = $8
	`, tx.ID, tx.Status, tx.UpdatedAt, tx.ExpiresAt, tx.NeedsLedger(), data, tx.Version, tx.Version-1)
}

func (s *Postgres) ListTransactions(ctx context.Context, f TransactionFilter) ([]*domain.Transaction, int, error) {
	sent, received := txDirections(f.Direction)
	where := []string{"(($2 AND sender_user_id = $1) OR ($3 AND recipient_user_id = $1))"}
	args := []any{f.UserID, sent, received}

	if len(f.Statuses) > 0 {
		args = append(args, statusStrings(f.Statuses))
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if f.Kind != "" {
		args = append(args, f.Kind)
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	if f.From != nil {
		args = append(args, *f.From)
		where = append(where, fmt.Sprintf("initiated_at >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		where = append(where, fmt.Sprintf("initiated_at <= $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM p2p_transactions WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting transactions: %w", err)
	}

	query := `SELECT data FROM p2p_transactions WHERE ` + cond + ` ORDER BY initiated_at DESC, id DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d OFFSET %d`, f.Limit, f.Offset)
	}
	txs, err := pgList[domain.Transaction](ctx, s.db, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing transactions: %w", err)
	}
	return txs, total, nil
}

func (s *Postgres) ListStalePending(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.Transaction, error) {
	return pgList[domain.Transaction](ctx, s.db, `
		SELECT data FROM p2p_transactions
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3
	`, domain.TxPending, updatedBefore, limit)
}

func (s *Postgres) ListLedgerPending(ctx context.Context, updatedBefore time.Time, limit int) ([]*domain.Transaction, error) {
	return pgList[domain.Transaction](ctx, s.db, `
		SELECT data FROM p2p_transactions
		WHERE ledger_pending AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2
	`, updatedBefore, limit)
}

func (s *Postgres) ListExpiredSent(ctx context.Context, now time.Time, limit int) ([]*domain.Transaction, error) {
	return pgList[domain.Transaction](ctx, s.db, `
		SELECT data FROM p2p_transactions
		WHERE status = $1 AND expires_at < $2
		ORDER BY expires_at
		LIMIT $3
	`, domain.TxSent, now, limit)
}

// Requests

func insertRequestPG(ctx context.Context, q database.Querier, r *domain.MoneyRequest) error {
	r.Version = 1
	data, err := encode(r)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		INSERT INTO p2p_money_requests (
			id, requester_user_id, payer_user_id, status, split_bill_id,
			expires_at, created_at, version, data
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.ID, r.RequesterUserID, nullString(r.PayerUserID), r.Status, nullString(r.SplitBillID),
		r.ExpiresAt, r.CreatedAt, r.Version, data)
	if err != nil {
		return pgInsertErr("money request", err)
	}
	return nil
}

func (s *Postgres) CreateRequest(ctx context.Context, r *domain.MoneyRequest) error {
	return insertRequestPG(ctx, s.db, r)
}

func (s *Postgres) GetRequest(ctx context.Context, id string) (*domain.MoneyRequest, error) {
	return pgGet[domain.MoneyRequest](ctx, s.db, `SELECT data FROM p2p_money_requests WHERE id = $1`, id)
}

func (s *Postgres) UpdateRequest(ctx context.Context, r *domain.MoneyRequest) error {
	r.Version++
	data, err := encode(r)
	if err != nil {
		r.Version--
		return err
	}
	return pgUpdate(ctx, s.db, &r.Version, `
		UPDATE p2p_money_requests SET status = $2, expires_at = $3, data = $4, version = $5
		WHERE id = $1 AND version = $6
	`, r.ID, r.Status, r.ExpiresAt, data, r.Version, r.Version-1)
}

func (s *Postgres) ListRequests(ctx context.Context, f RequestFilter) ([]*domain.MoneyRequest, int, error) {
	outgoing, incoming := requestDirections(f.Direction)
	cond := `(($2 AND requester_user_id = $1) OR ($3 AND payer_user_id = $1))`
	args := []any{f.UserID, outgoing, incoming}
	if f.Status != "" {
		args = append(args, f.Status)
		cond += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM p2p_money_requests WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting requests: %w", err)
	}
	query := `SELECT data FROM p2p_money_requests WHERE ` + cond + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d OFFSET %d`, f.Limit, f.Offset)
	}
	reqs, err := pgList[domain.MoneyRequest](ctx, s.db, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing requests: %w", err)
	}
	return reqs, total, nil
}

func (s *Postgres) CountPendingRequests(ctx context.Context, userID string, dir Direction) (int, error) {
	outgoing, incoming := requestDirections(dir)
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM p2p_money_requests
		WHERE (($2 AND requester_user_id = $1) OR ($3 AND payer_user_id = $1)) AND status = $4
	`, userID, outgoing, incoming, domain.RequestPending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting pending requests: %w", err)
	}
	return n, nil
}

func (s *Postgres) ListExpiredRequests(ctx context.Context, now time.Time, limit int) ([]*domain.MoneyRequest, error) {
	return pgList[domain.MoneyRequest](ctx, s.db, `
		SELECT data FROM p2p_money_requests
		WHERE status IN ($1, $2) AND expires_at < $3
		ORDER BY expires_at
		LIMIT $4
	`, domain.RequestPending, domain.RequestPartiallyPaid, now, limit)
}

// Split bills

func (s *Postgres) CreateSplitBill(ctx context.Context, bill *domain.SplitBill, requests []*domain.MoneyRequest) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		bill.Version = 1
		data, err := encode(bill)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO p2p_split_bills (id, creator_user_id, fully_collected, created_at, version, data)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, bill.ID, bill.CreatorUserID, bill.IsFullyCollected(), bill.CreatedAt, bill.Version, data)
		if err != nil {
			return pgInsertErr("split bill", err)
		}
		for _, uid := range bill.ParticipantUserIDs() {
			_, err := tx.Exec(ctx, `
				INSERT INTO p2p_split_participants (split_bill_id, user_id) VALUES ($1, $2)
				ON CONFLICT DO NOTHING
			`, bill.ID, uid)
			if err != nil {
				return fmt.Errorf("inserting split participant: %w", err)
			}
		}
		for _, r := range requests {
			if err := insertRequestPG(ctx, tx, r); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Postgres) GetSplitBill(ctx context.Context, id string) (*domain.SplitBill, error) {
	return pgGet[domain.SplitBill](ctx, s.db, `SELECT data FROM p2p_split_bills WHERE id = $1`, id)
}

func (s *Postgres) UpdateSplitBill(ctx context.Context, bill *domain.SplitBill) error {
	bill.Version++
	data, err := encode(bill)
	if err != nil {
		bill.Version--
		return err
	}
	return pgUpdate(ctx, s.db, &bill.Version, `
		UPDATE p2p_split_bills SET fully_collected = $2, data = $3, version = $4
		WHERE id = $1 AND version = $5
	`, bill.ID, bill.IsFullyCollected(), data, bill.Version, bill.Version-1)
}

func (s *Postgres) ListSplitBills(ctx context.Context, userID string, activeOnly bool, p Page) ([]*domain.SplitBill, error) {
	query := `
		SELECT data FROM p2p_split_bills b
		WHERE (b.creator_user_id = $1 OR EXISTS (
			SELECT 1 FROM p2p_split_participants sp WHERE sp.split_bill_id = b.id AND sp.user_id = $1
		)) AND ($2 = FALSE OR NOT b.fully_collected)
		ORDER BY b.created_at DESC, b.id DESC`
	if p.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d OFFSET %d`, p.Limit, p.Offset)
	}
	return pgList[domain.SplitBill](ctx, s.db, query, userID, activeOnly)
}

// Payment links

func (s *Postgres) CreateLink(ctx context.Context, l *domain.PaymentLink) error {
	l.Version = 1
	data, err := encode(l)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO p2p_payment_links (id, public_id, owner_user_id, is_active, expires_at, created_at, version, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, l.ID, l.PublicID, l.OwnerUserID, l.IsActive, l.ExpiresAt, l.CreatedAt, l.Version, data)
	if err != nil {
		return pgInsertErr("payment link", err)
	}
	return nil
}

func (s *Postgres) GetLink(ctx context.Context, id string) (*domain.PaymentLink, error) {
	return pgGet[domain.PaymentLink](ctx, s.db, `SELECT data FROM p2p_payment_links WHERE id = $1`, id)
}

func (s *Postgres) GetLinkByPublicID(ctx context.Context, publicID string) (*domain.PaymentLink, error) {
	return pgGet[domain.PaymentLink](ctx, s.db, `SELECT data FROM p2p_payment_links WHERE public_id = $1`, publicID)
}

func (s *Postgres) UpdateLink(ctx context.Context, l *domain.PaymentLink) error {
	l.Version++
	data, err := encode(l)
	if err != nil {
		l.Version--
		return err
	}
	return pgUpdate(ctx, s.db, &l.Version, `
		UPDATE p2p_payment_links SET is_active = $2, expires_at = $3, data = $4, version = $5
		WHERE id = $1 AND version = $6
	`, l.ID, l.IsActive, l.ExpiresAt, data, l.Version, l.Version-1)
}

func (s *Postgres) ListLinks(ctx context.Context, ownerUserID string, p Page) ([]*domain.PaymentLink, error) {
	query := `SELECT data FROM p2p_payment_links WHERE owner_user_id = $1 ORDER BY created_at DESC, id DESC`
	if p.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d OFFSET %d`, p.Limit, p.Offset)
	}
	return pgList[domain.PaymentLink](ctx, s.db, query, ownerUserID)
}

func (s *Postgres) ListExpiredLinks(ctx context.Context, now time.Time, limit int) ([]*domain.PaymentLink, error) {
	return pgList[domain.PaymentLink](ctx, s.db, `
		SELECT data FROM p2p_payment_links
		WHERE is_active AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2
	`, now, limit)
}
