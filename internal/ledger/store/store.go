package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"p2pplatform/internal/common/database"
	"p2pplatform/internal/common/money"
	"p2pplatform/internal/ledger/domain"
)

// Store provides ledger data access
type Store struct {
	db *database.DB
}

// New creates a new ledger store
func New(db *database.DB) *Store {
	return &Store{db: db}
}

const accountColumns = `id, owner_user_id, code, name, account_type, normal_balance,
	currency, is_system, status, created_at, updated_at`

// CreateAccount creates a new ledger account
func (s *Store) CreateAccount(ctx context.Context, account *domain.Account) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO ledger_accounts (`+accountColumns+`)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		account.ID,
		account.OwnerUserID,
		account.Code,
		account.Name,
		account.AccountType,
		account.NormalBalance,
		account.Currency,
		account.IsSystem,
		account.Status,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("account %s: %w", account.ID, database.ErrAlreadyExists)
		}
		return fmt.Errorf("creating account: %w", err)
	}
	return nil
}

// GetAccount retrieves an account by ID
func (s *Store) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	row := s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM ledger_accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// ListAccountsByOwner lists the wallets a user owns.
func (s *Store) ListAccountsByOwner(ctx context.Context, ownerUserID string) ([]*domain.Account, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+accountColumns+` FROM ledger_accounts
		WHERE owner_user_id = $1
		ORDER BY created_at
	`, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// SetAccountStatus freezes, unfreezes or closes an account.
func (s *Store) SetAccountStatus(ctx context.Context, id string, status domain.AccountStatus) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE ledger_accounts SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("updating account status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

// LockAccountTx loads an account and locks its row for the rest of tx. Holds
// and commits against one account serialise on this lock.
func (s *Store) LockAccountTx(ctx context.Context, tx pgx.Tx, id string) (*domain.Account, error) {
	row := tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM ledger_accounts WHERE id = $1 FOR UPDATE`, id)
	return scanAccount(row)
}

// Balances returns the posted balance and the amount currently on hold.
func (s *Store) Balances(ctx context.Context, q database.Querier, accountID string) (posted, held int64, err error) {
	err = q.QueryRow(ctx, `
		SELECT
			COALESCE((
				SELECT SUM(CASE WHEN e.entry_type = a.normal_balance THEN e.amount ELSE -e.amount END)
				FROM ledger_entries e
				JOIN ledger_accounts a ON a.id = e.account_id
				WHERE e.account_id = $1
			), 0),
			COALESCE((
				SELECT SUM(amount) FROM ledger_reservations
				WHERE account_id = $1 AND status = 'held'
			), 0)
	`, accountID).Scan(&posted, &held)
	if err != nil {
		return 0, 0, fmt.Errorf("getting balance: %w", err)
	}
	return posted, held, nil
}

// CreateReservationTx inserts a hold.
func (s *Store) CreateReservationTx(ctx context.Context, tx pgx.Tx, r *domain.Reservation) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ledger_reservations (id, account_id, amount, currency, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.ID, r.AccountID, r.Amount.AmountMinor, r.Amount.Currency, r.Status, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting reservation: %w", err)
	}
	return nil
}

// LockReservationTx loads a hold for update.
func (s *Store) LockReservationTx(ctx context.Context, tx pgx.Tx, id string) (*domain.Reservation, error) {
	var r domain.Reservation
	var amount int64
	var currency string
	var credit, batch *string
	err := tx.QueryRow(ctx, `
		SELECT id, account_id, amount, currency, status, credit_account_id, batch_id, created_at, closed_at
		FROM ledger_reservations WHERE id = $1 FOR UPDATE
	`, id).Scan(&r.ID, &r.AccountID, &amount, &currency, &r.Status, &credit, &batch, &r.CreatedAt, &r.ClosedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrReservationNotFound
		}
		return nil, fmt.Errorf("loading reservation: %w", err)
	}
	r.Amount = money.New(amount, money.Currency(currency))
	if credit != nil {
		r.CreditAccountID = *credit
	}
	if batch != nil {
		r.BatchID = *batch
	}
	return &r, nil
}

// CloseReservationTx records the final state of a hold.
func (s *Store) CloseReservationTx(ctx context.Context, tx pgx.Tx, r *domain.Reservation) error {
	_, err := tx.Exec(ctx, `
		UPDATE ledger_reservations
		SET status = $2, credit_account_id = NULLIF($3, ''), batch_id = NULLIF($4, ''), closed_at = $5
		WHERE id = $1
	`, r.ID, r.Status, r.CreditAccountID, r.BatchID, r.ClosedAt)
	if err != nil {
		return fmt.Errorf("closing reservation: %w", err)
	}
	return nil
}

// CreateBatchTx creates a posted batch within an existing transaction
func (s *Store) CreateBatchTx(ctx context.Context, tx pgx.Tx, batch *domain.Batch) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ledger_batches (
			id, reference, description, source_type, source_id,
			total, currency, entry_count, posted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		batch.ID,
		batch.Reference,
		batch.Description,
		batch.SourceType,
		batch.SourceID,
		batch.Total.AmountMinor,
		batch.Total.Currency,
		batch.EntryCount,
		batch.PostedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting batch: %w", err)
	}

	for _, entry := range batch.Entries {
		_, err := tx.Exec(ctx, `
			INSERT INTO ledger_entries (
				id, batch_id, account_id, entry_type, amount, currency,
				description, sequence, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
			entry.ID,
			entry.BatchID,
			entry.AccountID,
			entry.EntryType,
			entry.Amount.AmountMinor,
			entry.Amount.Currency,
			entry.Description,
			entry.Sequence,
			entry.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting entry: %w", err)
		}
	}
	return nil
}

// GetAccountEntries retrieves entries for an account, newest first
func (s *Store) GetAccountEntries(ctx context.Context, accountID string, limit, offset int) ([]*domain.Entry, int64, error) {
	var total int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_entries WHERE account_id = $1`, accountID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting entries: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, batch_id, account_id, entry_type, amount, currency,
			   description, sequence, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC, sequence
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.Entry
	for rows.Next() {
		var e domain.Entry
		var amount int64
		var currency string
		if err := rows.Scan(
			&e.ID, &e.BatchID, &e.AccountID, &e.EntryType, &amount, &currency,
			&e.Description, &e.Sequence, &e.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scanning entry: %w", err)
		}
		e.Amount = money.New(amount, money.Currency(currency))
		entries = append(entries, &e)
	}
	return entries, total, rows.Err()
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	var owner *string
	err := row.Scan(
		&a.ID, &owner, &a.Code, &a.Name, &a.AccountType, &a.NormalBalance,
		&a.Currency, &a.IsSystem, &a.Status, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("scanning account: %w", err)
	}
	if owner != nil {
		a.OwnerUserID = *owner
	}
	return &a, nil
}
