package domain

import (
	"errors"
	"time"

	"p2pplatform/internal/common/money"
)

// EntryType represents the type of ledger entry
type EntryType string

const (
	EntryTypeDebit  EntryType = "debit"
	EntryTypeCredit EntryType = "credit"
)

// SourceType represents the source of a ledger batch
type SourceType string

const (
	SourceTypeDeposit  SourceType = "deposit"
	SourceTypeTransfer SourceType = "p2p_transfer"
)

// Entry represents a single ledger entry
type Entry struct {
	ID          string      `json:"id"`
	BatchID     string      `json:"batch_id"`
	AccountID   string      `json:"account_id"`
	EntryType   EntryType   `json:"entry_type"`
	Amount      money.Money `json:"amount"`
	Description string      `json:"description,omitempty"`
	Sequence    int         `json:"sequence"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Batch is a balanced group of entries posted atomically.
type Batch struct {
	ID          string      `json:"id"`
	Reference   string      `json:"reference,omitempty"`
	Description string      `json:"description,omitempty"`
	SourceType  SourceType  `json:"source_type"`
	SourceID    string      `json:"source_id,omitempty"`
	Total       money.Money `json:"total"`
	EntryCount  int         `json:"entry_count"`
	PostedAt    time.Time   `json:"posted_at"`
	Entries     []*Entry    `json:"entries,omitempty"`
}

// BatchBuilder helps construct valid ledger batches
type BatchBuilder struct {
	batch   *Batch
	entries []*Entry
	debits  int64
	credits int64
	err     error
}

// NewBatchBuilder creates a new batch builder
func NewBatchBuilder(id string, sourceType SourceType, currency money.Currency) *BatchBuilder {
	if id == "" {
		return &BatchBuilder{err: errors.New("id is required")}
	}
	return &BatchBuilder{
		batch: &Batch{
			ID:         id,
			SourceType: sourceType,
			Total:      money.Zero(currency),
			PostedAt:   time.Now().UTC(),
		},
	}
}

// WithReference sets the external reference
func (b *BatchBuilder) WithReference(reference string) *BatchBuilder {
	if b.err == nil {
		b.batch.Reference = reference
	}
	return b
}

// WithDescription sets the description
func (b *BatchBuilder) WithDescription(description string) *BatchBuilder {
	if b.err == nil {
		b.batch.Description = description
	}
	return b
}

// WithSourceID sets the source ID
func (b *BatchBuilder) WithSourceID(sourceID string) *BatchBuilder {
	if b.err == nil {
		b.batch.SourceID = sourceID
	}
	return b
}

// Debit adds a debit entry
func (b *BatchBuilder) Debit(entryID, accountID string, amount money.Money, description string) *BatchBuilder {
	return b.add(entryID, accountID, EntryTypeDebit, amount, description)
}

// Credit adds a credit entry
func (b *BatchBuilder) Credit(entryID, accountID string, amount money.Money, description string) *BatchBuilder {
	return b.add(entryID, accountID, EntryTypeCredit, amount, description)
}

func (b *BatchBuilder) add(entryID, accountID string, entryType EntryType, amount money.Money, description string) *BatchBuilder {
	if b.err != nil {
		return b
	}
	// Zero legs (e.g. a free transfer's fee) are skipped.
	if amount.IsZero() {
		return b
	}
	switch {
	case entryID == "" || accountID == "":
		b.err = errors.New("entry id and account id are required")
		return b
	case amount.Currency != b.batch.Total.Currency:
		b.err = errors.New("entry currency must match batch currency")
		return b
	case amount.IsNegative():
		b.err = errors.New("amount must be positive")
		return b
	}

	b.entries = append(b.entries, &Entry{
		ID:          entryID,
		BatchID:     b.batch.ID,
		AccountID:   accountID,
		EntryType:   entryType,
		Amount:      amount,
		Description: description,
		Sequence:    len(b.entries) + 1,
		CreatedAt:   b.batch.PostedAt,
	})
	if entryType == EntryTypeDebit {
		b.debits += amount.AmountMinor
	} else {
		b.credits += amount.AmountMinor
	}
	return b
}

// Build validates and returns the batch
func (b *BatchBuilder) Build() (*Batch, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.entries) < 2 {
		return nil, errors.New("batch must have at least two entries")
	}
	if b.debits != b.credits {
		return nil, errors.New("batch must be balanced (debits must equal credits)")
	}

	b.batch.Total.AmountMinor = b.debits
	b.batch.EntryCount = len(b.entries)
	b.batch.Entries = b.entries
	return b.batch, nil
}

// ReservationStatus is the lifecycle state of a hold.
type ReservationStatus string

const (
	ReservationHeld      ReservationStatus = "held"
	ReservationCommitted ReservationStatus = "committed"
	ReservationReleased  ReservationStatus = "released"
)

// Reservation holds funds on an account until committed or released.
type Reservation struct {
	ID              string            `json:"id"`
	AccountID       string            `json:"account_id"`
	Amount          money.Money       `json:"amount"`
	Status          ReservationStatus `json:"status"`
	CreditAccountID string            `json:"credit_account_id,omitempty"`
	BatchID         string            `json:"batch_id,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	ClosedAt        *time.Time        `json:"closed_at,omitempty"`
}

// CanCommit reports whether a commit should post. A repeated commit is a no-op.
func (r *Reservation) CanCommit() (bool, error) {
	switch r.Status {
	case ReservationHeld:
		return true, nil
	case ReservationCommitted:
		return false, nil
	default:
		return false, ErrReservationClosed
	}
}

// CanRelease reports whether a release should apply. A repeated release is a no-op.
func (r *Reservation) CanRelease() (bool, error) {
	switch r.Status {
	case ReservationHeld:
		return true, nil
	case ReservationReleased:
		return false, nil
	default:
		return false, ErrReservationClosed
	}
}

// CommitBatch builds the entries that move a reservation out of the source
// account: the principal to creditAccountID and the fee to the fee account.
func CommitBatch(batchID string, newEntryID func() string, res *Reservation, creditAccountID string, fee money.Money) (*Batch, error) {
	principal, err := res.Amount.Sub(fee)
	if err != nil {
		return nil, err
	}
	if principal.IsNegative() {
		return nil, errors.New("fee exceeds reserved amount")
	}
	return NewBatchBuilder(batchID, SourceTypeTransfer, res.Amount.Currency).
		WithReference(res.ID).
		WithSourceID(res.ID).
		WithDescription("p2p transfer").
		Debit(newEntryID(), res.AccountID, res.Amount, "transfer out").
		Credit(newEntryID(), creditAccountID, principal, "transfer in").
		Credit(newEntryID(), SystemAccountID(CodeTransferFee, res.Amount.Currency), fee, "transfer fee").
		Build()
}

// DepositBatch builds the entries that fund a wallet from cash.
func DepositBatch(batchID string, newEntryID func() string, accountID string, amount money.Money, reference string) (*Batch, error) {
	return NewBatchBuilder(batchID, SourceTypeDeposit, amount.Currency).
		WithReference(reference).
		WithDescription("deposit").
		Debit(newEntryID(), SystemAccountID(CodeCash, amount.Currency), amount, "deposit").
		Credit(newEntryID(), accountID, amount, "deposit").
		Build()
}
