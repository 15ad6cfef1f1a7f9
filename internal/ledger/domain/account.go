package domain

import (
	"errors"
	"time"

	"p2pplatform/internal/common/money"
)

// AccountType represents the type of ledger account
type AccountType string

const (
	AccountTypeAsset     AccountType = "asset"
	AccountTypeLiability AccountType = "liability"
	AccountTypeEquity    AccountType = "equity"
	AccountTypeRevenue   AccountType = "revenue"
	AccountTypeExpense   AccountType = "expense"
)

// NormalBalance represents the normal balance side of an account
type NormalBalance string

const (
	NormalBalanceDebit  NormalBalance = "debit"
	NormalBalanceCredit NormalBalance = "credit"
)

// AccountStatus represents the status of an account
type AccountStatus string

const (
	AccountStatusActive AccountStatus = "active"
	AccountStatusFrozen AccountStatus = "frozen"
	AccountStatusClosed AccountStatus = "closed"
)

// Errors returned by ledger operations.
var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountFrozen       = errors.New("account is frozen")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrReservationClosed   = errors.New("reservation already closed")
	ErrCurrencyMismatch    = errors.New("currency does not match account")
)

// Account represents a ledger account. User wallets are liabilities owned by a
// user; system accounts have no owner.
type Account struct {
	ID            string         `json:"id"`
	OwnerUserID   string         `json:"owner_user_id,omitempty"`
	Code          string         `json:"code"`
	Name          string         `json:"name"`
	AccountType   AccountType    `json:"account_type"`
	NormalBalance NormalBalance  `json:"normal_balance"`
	Currency      money.Currency `json:"currency"`
	IsSystem      bool           `json:"is_system"`
	Status        AccountStatus  `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// NewAccount creates a new account
func NewAccount(id, ownerUserID, code, name string, accountType AccountType, currency money.Currency) (*Account, error) {
	if id == "" {
		return nil, errors.New("id is required")
	}
	if code == "" {
		return nil, errors.New("code is required")
	}
	if name == "" {
		return nil, errors.New("name is required")
	}
	if !currency.Valid() {
		return nil, money.ErrUnknownCurrency
	}

	now := time.Now().UTC()
	return &Account{
		ID:            id,
		OwnerUserID:   ownerUserID,
		Code:          code,
		Name:          name,
		AccountType:   accountType,
		NormalBalance: GetNormalBalance(accountType),
		Currency:      currency,
		Status:        AccountStatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// NewWallet creates a user-owned wallet account.
func NewWallet(id, ownerUserID, name string, currency money.Currency) (*Account, error) {
	if ownerUserID == "" {
		return nil, errors.New("owner is required")
	}
	return NewAccount(id, ownerUserID, "2000", name, AccountTypeLiability, currency)
}

// GetNormalBalance returns the normal balance for an account type
func GetNormalBalance(accountType AccountType) NormalBalance {
	switch accountType {
	case AccountTypeAsset, AccountTypeExpense:
		return NormalBalanceDebit
	default:
		return NormalBalanceCredit
	}
}

// CanDebit reports whether funds may leave the account.
func (a *Account) CanDebit() error {
	switch a.Status {
	case AccountStatusActive:
		return nil
	case AccountStatusFrozen:
		return ErrAccountFrozen
	default:
		return ErrAccountNotFound
	}
}

// Signed returns the effect of an entry on this account's balance.
func (a *Account) Signed(entryType EntryType, amountMinor int64) int64 {
	if (a.NormalBalance == NormalBalanceDebit) == (entryType == EntryTypeDebit) {
		return amountMinor
	}
	return -amountMinor
}

// System account codes used by the reservation ledger.
const (
	CodeCash        = "1000"
	CodeHeldFunds   = "2300"
	CodeTransferFee = "4100"
)

// SystemAccount describes a per-currency system account.
type SystemAccount struct {
	Code        string
	Name        string
	AccountType AccountType
}

// SystemAccounts returns the accounts every currency needs.
func SystemAccounts() []SystemAccount {
	return []SystemAccount{
		{CodeCash, "Cash and Equivalents", AccountTypeAsset},
		{CodeHeldFunds, "Held Funds", AccountTypeLiability},
		{CodeTransferFee, "Transaction Fees", AccountTypeRevenue},
	}
}

// SystemAccountID is the deterministic id of a system account.
func SystemAccountID(code string, currency money.Currency) string {
	return "sys-" + code + "-" + string(currency)
}
