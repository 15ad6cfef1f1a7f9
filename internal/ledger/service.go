// Package ledger is the balance store behind P2P transfers: double-entry
// wallets with holds that are later committed or released.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"

	"p2pplatform/internal/common/database"
	"p2pplatform/internal/common/money"
	"p2pplatform/internal/ledger/domain"
	"p2pplatform/internal/ledger/store"
)

// Balance is an account's position.
type Balance struct {
	AccountID string      `json:"account_id"`
	Posted    money.Money `json:"posted"`
	Held      money.Money `json:"held"`
	Available money.Money `json:"available"`
}

func newBalance(account *domain.Account, posted, held int64) Balance {
	return Balance{
		AccountID: account.ID,
		Posted:    money.New(posted, account.Currency),
		Held:      money.New(held, account.Currency),
		Available: money.New(posted-held, account.Currency),
	}
}

// Service provides ledger operations on Postgres
type Service struct {
	store  *store.Store
	db     *database.DB
	logger *slog.Logger
}

// NewService creates a new ledger service
func NewService(db *database.DB, logger *slog.Logger) *Service {
	return &Service{
		store:  store.New(db),
		db:     db,
		logger: logger,
	}
}

func newID() string { return ulid.Make().String() }

// CreateWalletRequest is the request to open a user wallet
type CreateWalletRequest struct {
	OwnerUserID string         `json:"owner_user_id" validate:"required"`
	Name        string         `json:"name" validate:"required,max=255"`
	Currency    money.Currency `json:"currency" validate:"required,len=3"`
}

// CreateWallet opens a wallet account for a user
func (s *Service) CreateWallet(ctx context.Context, req CreateWalletRequest) (*domain.Account, error) {
	account, err := domain.NewWallet(newID(), req.OwnerUserID, req.Name, req.Currency)
	if err != nil {
		return nil, fmt.Errorf("creating wallet: %w", err)
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return nil, err
	}

	s.logger.Info("wallet created",
		"account_id", account.ID,
		"owner_user_id", account.OwnerUserID,
		"currency", account.Currency,
	)
	return account, nil
}

// GetAccount retrieves an account by ID
func (s *Service) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	return s.store.GetAccount(ctx, id)
}

// ListAccounts lists a user's wallets
func (s *Service) ListAccounts(ctx context.Context, ownerUserID string) ([]*domain.Account, error) {
	return s.store.ListAccountsByOwner(ctx, ownerUserID)
}

// GetBalance returns posted, held and available amounts
func (s *Service) GetBalance(ctx context.Context, accountID string) (Balance, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return Balance{}, err
	}
	posted, held, err := s.store.Balances(ctx, s.db, accountID)
	if err != nil {
		return Balance{}, err
	}
	return newBalance(account, posted, held), nil
}

// GetAccountEntries retrieves entries for an account
func (s *Service) GetAccountEntries(ctx context.Context, accountID string, limit, offset int) ([]*domain.Entry, int64, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	return s.store.GetAccountEntries(ctx, accountID, limit, offset)
}

// SetStatus freezes or reactivates an account
func (s *Service) SetStatus(ctx context.Context, accountID string, status domain.AccountStatus) error {
	return s.store.SetAccountStatus(ctx, accountID, status)
}

// Verify reports whether userID owns accountID.
func (s *Service) Verify(ctx context.Context, userID, accountID string) (bool, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if errors.Is(err, domain.ErrAccountNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return account.OwnerUserID != "" && account.OwnerUserID == userID, nil
}

// Deposit credits a wallet from the cash account
func (s *Service) Deposit(ctx context.Context, accountID string, amount money.Money, reference string) (*domain.Batch, error) {
	batch, err := domain.DepositBatch(newID(), newID, accountID, amount, reference)
	if err != nil {
		return nil, fmt.Errorf("building deposit: %w", err)
	}
	err = s.db.WithTx(ctx, func(tx pgx.Tx) error {
		account, err := s.store.LockAccountTx(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if account.Currency != amount.Currency {
			return domain.ErrCurrencyMismatch
		}
		return s.store.CreateBatchTx(ctx, tx, batch)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("deposit posted",
		"batch_id", batch.ID,
		"account_id", accountID,
		"amount", amount.String(),
		"currency", amount.Currency,
	)
	return batch, nil
}

// ReserveDebit places a hold on accountID. The account row lock makes the
// available-funds check and the insert atomic.
func (s *Service) ReserveDebit(ctx context.Context, accountID string, amount money.Money) (string, error) {
	res := &domain.Reservation{
		ID:        newID(),
		AccountID: accountID,
		Amount:    amount,
		Status:    domain.ReservationHeld,
		CreatedAt: time.Now().UTC(),
	}
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		account, err := s.store.LockAccountTx(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if err := account.CanDebit(); err != nil {
			return err
		}
		if account.Currency != amount.Currency {
			return domain.ErrCurrencyMismatch
		}
		posted, held, err := s.store.Balances(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if posted-held < amount.AmountMinor {
			return domain.ErrInsufficientFunds
		}
		return s.store.CreateReservationTx(ctx, tx, res)
	})
	if err != nil {
		return "", err
	}

	s.logger.Debug("funds reserved",
		"reservation_id", res.ID,
		"account_id", accountID,
		"amount", amount.String(),
	)
	return res.ID, nil
}

// Commit posts a held reservation: principal to creditAccountID (held funds
// when empty) and fee to the fee account. Committing twice is a no-op.
func (s *Service) Commit(ctx context.Context, reservationID, creditAccountID string, fee money.Money) error {
	var posted *domain.Batch
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		res, err := s.store.LockReservationTx(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		ok, err := res.CanCommit()
		if err != nil || !ok {
			return err
		}
		if creditAccountID == "" {
			creditAccountID = domain.SystemAccountID(domain.CodeHeldFunds, res.Amount.Currency)
		}
		credit, err := s.store.LockAccountTx(ctx, tx, creditAccountID)
		if err != nil {
			return fmt.Errorf("credit account: %w", err)
		}
		if credit.Currency != res.Amount.Currency {
			return domain.ErrCurrencyMismatch
		}

		batch, err := domain.CommitBatch(newID(), newID, res, creditAccountID, fee)
		if err != nil {
			return err
		}
		if err := s.store.CreateBatchTx(ctx, tx, batch); err != nil {
			return err
		}
		now := time.Now().UTC()
		res.Status = domain.ReservationCommitted
		res.CreditAccountID = creditAccountID
		res.BatchID = batch.ID
		res.ClosedAt = &now
		posted = batch
		return s.store.CloseReservationTx(ctx, tx, res)
	})
	if err != nil {
		return err
	}

	if posted != nil {
		s.logger.Info("reservation committed",
			"reservation_id", reservationID,
			"batch_id", posted.ID,
			"credit_account_id", creditAccountID,
		)
	}
	return nil
}

// Release drops a hold. Releasing twice is a no-op.
func (s *Service) Release(ctx context.Context, reservationID string) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		res, err := s.store.LockReservationTx(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		ok, err := res.CanRelease()
		if err != nil || !ok {
			return err
		}
		now := time.Now().UTC()
		res.Status = domain.ReservationReleased
		res.ClosedAt = &now
		return s.store.CloseReservationTx(ctx, tx, res)
	})
}

// InitializeSystemAccounts creates the system accounts for each currency
func (s *Service) InitializeSystemAccounts(ctx context.Context, currencies ...money.Currency) error {
	for _, currency := range currencies {
		for _, sa := range domain.SystemAccounts() {
			account, err := domain.NewAccount(domain.SystemAccountID(sa.Code, currency), "", sa.Code, sa.Name, sa.AccountType, currency)
			if err != nil {
				return err
			}
			account.IsSystem = true
			if err := s.store.CreateAccount(ctx, account); err != nil {
				// Skip if already exists
				if database.IsUniqueViolation(err) {
					continue
				}
				return fmt.Errorf("creating system account %s: %w", account.ID, err)
			}
		}
	}

	s.logger.Info("system accounts initialized", "currencies", currencies)
	return nil
}
