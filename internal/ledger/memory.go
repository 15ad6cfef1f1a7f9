package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"p2pplatform/internal/common/database"
	"p2pplatform/internal/common/money"
	"p2pplatform/internal/ledger/domain"
)

// Memory is an in-process ledger with the same semantics as Service. It backs
// development runs without Postgres and the engine tests.
type Memory struct {
	mu           sync.Mutex
	accounts     map[string]*domain.Account
	entries      map[string][]*domain.Entry
	reservations map[string]*domain.Reservation
}

// NewMemory returns an empty ledger with system accounts for currencies.
func NewMemory(currencies ...money.Currency) *Memory {
	m := &Memory{
		accounts:     make(map[string]*domain.Account),
		entries:      make(map[string][]*domain.Entry),
		reservations: make(map[string]*domain.Reservation),
	}
	for _, c := range currencies {
		for _, sa := range domain.SystemAccounts() {
			a, err := domain.NewAccount(domain.SystemAccountID(sa.Code, c), "", sa.Code, sa.Name, sa.AccountType, c)
			if err != nil {
				continue
			}
			a.IsSystem = true
			m.accounts[a.ID] = a
		}
	}
	return m
}

// OpenWallet creates a wallet with a fixed id.
func (m *Memory) OpenWallet(id, ownerUserID string, currency money.Currency) (*domain.Account, error) {
	a, err := domain.NewWallet(id, ownerUserID, "Wallet", currency)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[id]; ok {
		return nil, errors.New("account already exists")
	}
	m.accounts[id] = a
	return a, nil
}

// CreateWallet opens a wallet with a generated id.
func (m *Memory) CreateWallet(_ context.Context, req CreateWalletRequest) (*domain.Account, error) {
	a, err := domain.NewWallet(newID(), req.OwnerUserID, req.Name, req.Currency)
	if err != nil {
		return nil, fmt.Errorf("creating wallet: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[a.ID]; ok {
		return nil, fmt.Errorf("account %s: %w", a.ID, database.ErrAlreadyExists)
	}
	m.accounts[a.ID] = a
	return a, nil
}

// GetAccount returns a copy of an account.
func (m *Memory) GetAccount(_ context.Context, id string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	cp := *a
	return &cp, nil
}

// ListAccounts lists a user's wallets, oldest first.
func (m *Memory) ListAccounts(_ context.Context, ownerUserID string) ([]*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Account
	for _, a := range m.accounts {
		if a.OwnerUserID == ownerUserID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// GetAccountEntries returns an account's entries, newest first.
func (m *Memory) GetAccountEntries(_ context.Context, accountID string, limit, offset int) ([]*domain.Entry, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[accountID]; !ok {
		return nil, 0, domain.ErrAccountNotFound
	}
	all := m.entries[accountID]
	total := int64(len(all))
	var out []*domain.Entry
	for i := len(all) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		cp := *all[i]
		out = append(out, &cp)
	}
	return out, total, nil
}

// Deposit credits a wallet from cash.
func (m *Memory) Deposit(_ context.Context, accountID string, amount money.Money, reference string) (*domain.Batch, error) {
	batch, err := domain.DepositBatch(newID(), newID, accountID, amount, reference)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	if a.Currency != amount.Currency {
		return nil, domain.ErrCurrencyMismatch
	}
	m.post(batch)
	return batch, nil
}

// SetStatus freezes or reactivates an account.
func (m *Memory) SetStatus(_ context.Context, accountID string, status domain.AccountStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	a.Status = status
	return nil
}

// GetBalance returns posted, held and available amounts.
func (m *Memory) GetBalance(_ context.Context, accountID string) (Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return Balance{}, domain.ErrAccountNotFound
	}
	posted, held := m.balances(a)
	return newBalance(a, posted, held), nil
}

// Verify reports whether userID owns accountID.
func (m *Memory) Verify(_ context.Context, userID, accountID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	return ok && a.OwnerUserID != "" && a.OwnerUserID == userID, nil
}

// ReserveDebit places a hold on accountID.
func (m *Memory) ReserveDebit(_ context.Context, accountID string, amount money.Money) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return "", domain.ErrAccountNotFound
	}
	if err := a.CanDebit(); err != nil {
		return "", err
	}
	if a.Currency != amount.Currency {
		return "", domain.ErrCurrencyMismatch
	}
	posted, held := m.balances(a)
	if posted-held < amount.AmountMinor {
		return "", domain.ErrInsufficientFunds
	}
	res := &domain.Reservation{
		ID:        newID(),
		AccountID: accountID,
		Amount:    amount,
		Status:    domain.ReservationHeld,
		CreatedAt: time.Now().UTC(),
	}
	m.reservations[res.ID] = res
	return res.ID, nil
}

// Commit posts a held reservation. Committing twice is a no-op.
func (m *Memory) Commit(_ context.Context, reservationID, creditAccountID string, fee money.Money) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.reservations[reservationID]
	if !ok {
		return domain.ErrReservationNotFound
	}
	if ok, err := res.CanCommit(); err != nil || !ok {
		return err
	}
	if creditAccountID == "" {
		creditAccountID = domain.SystemAccountID(domain.CodeHeldFunds, res.Amount.Currency)
	}
	credit, ok := m.accounts[creditAccountID]
	if !ok {
		return domain.ErrAccountNotFound
	}
	if credit.Currency != res.Amount.Currency {
		return domain.ErrCurrencyMismatch
	}
	batch, err := domain.CommitBatch(newID(), newID, res, creditAccountID, fee)
	if err != nil {
		return err
	}
	m.post(batch)
	now := time.Now().UTC()
	res.Status = domain.ReservationCommitted
	res.CreditAccountID = creditAccountID
	res.BatchID = batch.ID
	res.ClosedAt = &now
	return nil
}

// Release drops a hold. Releasing twice is a no-op.
func (m *Memory) Release(_ context.Context, reservationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.reservations[reservationID]
	if !ok {
		return domain.ErrReservationNotFound
	}
	if ok, err := res.CanRelease(); err != nil || !ok {
		return err
	}
	now := time.Now().UTC()
	res.Status = domain.ReservationReleased
	res.ClosedAt = &now
	return nil
}

// Reservation returns a copy of a hold.
func (m *Memory) Reservation(id string) (domain.Reservation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res, ok := m.reservations[id]
	if !ok {
		return domain.Reservation{}, false
	}
	return *res, true
}

func (m *Memory) post(batch *domain.Batch) {
	for _, e := range batch.Entries {
		m.entries[e.AccountID] = append(m.entries[e.AccountID], e)
	}
}

func (m *Memory) balances(a *domain.Account) (posted, held int64) {
	for _, e := range m.entries[a.ID] {
		posted += a.Signed(e.EntryType, e.Amount.AmountMinor)
	}
	for _, r := range m.reservations {
		if r.AccountID == a.ID && r.Status == domain.ReservationHeld {
			held += r.Amount.AmountMinor
		}
	}
	return posted, held
}
