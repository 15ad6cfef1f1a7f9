// Package p2p implements peer-to-peer money movement: direct transfers, money
// requests, split bills and payment links, plus the settlement logic that
// finalizes them.
//
// The Service owns no locks. Every entity change is a load, apply, update cycle
// against the store's version check, retried on conflict. Collaborators
// (ledger, directory, clearing) are always called outside those cycles.
package p2p

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/singleflight"

	"p2pplatform/internal/common/database"
	"p2pplatform/internal/common/money"
	ledgerdomain "p2pplatform/internal/ledger/domain"
	"p2pplatform/internal/p2p/contacts"
	"p2pplatform/internal/p2p/domain"
	"p2pplatform/internal/p2p/fees"
	"p2pplatform/internal/p2p/store"
)

// Ledger holds, moves and releases funds.
type Ledger interface {
	ReserveDebit(ctx context.Context, accountID string, amount money.Money) (string, error)
	// Commit posts a held reservation. An empty creditAccountID credits the
	// held-funds account of the reservation's currency.
	Commit(ctx context.Context, reservationID, creditAccountID string, fee money.Money) error
	Release(ctx context.Context, reservationID string) error
}

// AccountOwnership answers whether a user owns an account.
type AccountOwnership interface {
	Verify(ctx context.Context, userID, accountID string) (bool, error)
}

// Notifier delivers user notifications. Implementations must not block on
// delivery failures.
type Notifier interface {
	Send(ctx context.Context, userID, eventType string, payload any)
}

// Queue hands transaction ids to the settlement worker.
type Queue interface {
	Enqueue(ctx context.Context, transactionID string) error
}

// Config tunes the engines.
type Config struct {
	PublicLinkBaseURL     string        `envconfig:"PUBLIC_LINK_BASE_URL" default:"https://pay.hoardrun.com/p"`
	ClaimWindow           time.Duration `envconfig:"P2P_CLAIM_WINDOW" default:"168h"`
	QuoteValidity         time.Duration `envconfig:"P2P_QUOTE_VALIDITY" default:"15m"`
	MaxSettlementAttempts int           `envconfig:"SETTLEMENT_MAX_ATTEMPTS" default:"5"`
}

// DefaultConfig returns the defaults used when no environment is loaded.
func DefaultConfig() Config {
	return Config{
		PublicLinkBaseURL:     "https://pay.hoardrun.com/p",
		ClaimWindow:           7 * 24 * time.Hour,
		QuoteValidity:         15 * time.Minute,
		MaxSettlementAttempts: 5,
	}
}

// Deps are the Service's collaborators.
type Deps struct {
	Store     store.Store
	Ledger    Ledger
	Ownership AccountOwnership
	Contacts  *contacts.Resolver
	Notifier  Notifier
	Queue     Queue
	Fees      *fees.Policy
	Limits    fees.Limits
	Logger    *slog.Logger
	Now       func() time.Time
	NewID     func() string
}

// Service is the P2P engine.
type Service struct {
	store     store.Store
	ledger    Ledger
	ownership AccountOwnership
	contacts  *contacts.Resolver
	notifier  Notifier
	queue     Queue
	fees      *fees.Policy
	limits    fees.Limits
	config    Config
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string

	sends singleflight.Group
}

// NewService wires the engine.
func NewService(cfg Config, deps Deps) *Service {
	s := &Service{
		store:     deps.Store,
		ledger:    deps.Ledger,
		ownership: deps.Ownership,
		contacts:  deps.Contacts,
		notifier:  deps.Notifier,
		queue:     deps.Queue,
		fees:      deps.Fees,
		limits:    deps.Limits,
		config:    cfg,
		logger:    deps.Logger,
		now:       deps.Now,
		newID:     deps.NewID,
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.newID == nil {
		s.newID = func() string { return ulid.Make().String() }
	}
	if s.config.MaxSettlementAttempts < 1 {
		s.config.MaxSettlementAttempts = 1
	}
	return s
}

// Config returns the active configuration.
func (s *Service) Config() Config {
	return s.config
}

const maxConflictRetries = 5

// errUnchanged tells mutate the entity is already in the desired state.
var errUnchanged = errors.New("unchanged")

// mutate runs load, apply, save until save wins the version check.
func mutate[T any](ctx context.Context, load func(context.Context) (T, error), apply func(T) error, save func(context.Context, T) error) (T, error) {
	var zero T
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		v, err := load(ctx)
		if err != nil {
			return zero, err
		}
		if err := apply(v); err != nil {
			if errors.Is(err, errUnchanged) {
				return v, nil
			}
			return zero, err
		}
		err = save(ctx, v)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
	}
	return zero, domain.BusinessRulef("the record was modified concurrently, please retry")
}

func (s *Service) loadTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	tx, err := s.store.GetTransaction(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.NotFound("transaction")
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return tx, nil
}

func (s *Service) loadRequest(ctx context.Context, id string) (*domain.MoneyRequest, error) {
	r, err := s.store.GetRequest(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.NotFound("money request")
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	return r, nil
}

func (s *Service) loadSplitBill(ctx context.Context, id string) (*domain.SplitBill, error) {
	b, err := s.store.GetSplitBill(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.NotFound("split bill")
	}
	if err != nil {
		return nil, fmt.Errorf("get split bill: %w", err)
	}
	return b, nil
}

func (s *Service) loadLink(ctx context.Context, id string) (*domain.PaymentLink, error) {
	l, err := s.store.GetLink(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.NotFound("payment link")
	}
	if err != nil {
		return nil, fmt.Errorf("get payment link: %w", err)
	}
	return l, nil
}

func (s *Service) mutateTransaction(ctx context.Context, id string, apply func(*domain.Transaction) error) (*domain.Transaction, error) {
	return mutate(ctx, func(ctx context.Context) (*domain.Transaction, error) {
		return s.loadTransaction(ctx, id)
	}, apply, s.store.UpdateTransaction)
}

func (s *Service) mutateRequest(ctx context.Context, id string, apply func(*domain.MoneyRequest) error) (*domain.MoneyRequest, error) {
	return mutate(ctx, func(ctx context.Context) (*domain.MoneyRequest, error) {
		return s.loadRequest(ctx, id)
	}, apply, s.store.UpdateRequest)
}

func (s *Service) mutateSplitBill(ctx context.Context, id string, apply func(*domain.SplitBill) error) (*domain.SplitBill, error) {
	return mutate(ctx, func(ctx context.Context) (*domain.SplitBill, error) {
		return s.loadSplitBill(ctx, id)
	}, apply, s.store.UpdateSplitBill)
}

func (s *Service) mutateLink(ctx context.Context, id string, apply func(*domain.PaymentLink) error) (*domain.PaymentLink, error) {
	return mutate(ctx, func(ctx context.Context) (*domain.PaymentLink, error) {
		return s.loadLink(ctx, id)
	}, apply, s.store.UpdateLink)
}

// verifyOwnership fails with a validation error when userID does not own accountID.
func (s *Service) verifyOwnership(ctx context.Context, userID, accountID string) error {
	if accountID == "" {
		return domain.Validationf("account is required")
	}
	ok, err := s.ownership.Verify(ctx, userID, accountID)
	if err != nil {
		return domain.External("account ownership", err)
	}
	if !ok {
		return domain.Validationf("account %s does not belong to you", accountID)
	}
	return nil
}

// ledgerError maps ledger failures onto engine errors.
func ledgerError(err error) error {
	switch {
	case errors.Is(err, ledgerdomain.ErrInsufficientFunds):
		return domain.ErrInsufficientFunds
	case errors.Is(err, ledgerdomain.ErrAccountFrozen):
		return domain.ErrAccountFrozen
	case errors.Is(err, ledgerdomain.ErrAccountNotFound):
		return domain.NotFound("account")
	case errors.Is(err, ledgerdomain.ErrCurrencyMismatch):
		return domain.Validationf("currency does not match the account")
	}
	return domain.External("ledger", err)
}

// releaseReservation releases with a short bounded retry. Release is
// idempotent per reservation, so repeating it cannot double-move funds.
func (s *Service) releaseReservation(ctx context.Context, reservationID string) error {
	if reservationID == "" {
		return nil
	}
	err := database.Retry(ctx, 3, isRetryableLedgerError, func() error {
		err := s.ledger.Release(ctx, reservationID)
		if errors.Is(err, ledgerdomain.ErrReservationClosed) {
			return nil
		}
		return err
	})
	if err != nil {
		s.logger.Error("releasing reservation", "reservation_id", reservationID, "error", err)
		return domain.External("ledger", err)
	}
	return nil
}

// releaseTransaction releases tx's reservation and records that it was
// released, so a failure between the two is picked up again by the sweeper.
func (s *Service) releaseTransaction(ctx context.Context, tx *domain.Transaction) error {
	if err := s.releaseReservation(ctx, tx.ReservationID); err != nil {
		return err
	}
	updated, err := s.mutateTransaction(ctx, tx.ID, func(t *domain.Transaction) error {
		if t.LedgerReleased {
			return errUnchanged
		}
		t.LedgerReleased = true
		t.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return err
	}
	*tx = *updated
	return nil
}

func isRetryableLedgerError(err error) bool {
	switch {
	case errors.Is(err, ledgerdomain.ErrReservationNotFound),
		errors.Is(err, ledgerdomain.ErrReservationClosed),
		errors.Is(err, ledgerdomain.ErrAccountNotFound),
		errors.Is(err, ledgerdomain.ErrCurrencyMismatch):
		return false
	}
	return true
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

func (s *Service) notify(ctx context.Context, userID, eventType string, payload any) {
	if userID == "" || s.notifier == nil {
		return
	}
	s.notifier.Send(ctx, userID, eventType, payload)
}

func toPage(limit, offset int) store.Page {
	if limit <= 0 {
		limit = 20
	}
	return store.Page{Limit: limit, Offset: max(offset, 0)}
}
