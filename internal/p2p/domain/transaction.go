package domain

import (
	"slices"
	"time"

	"p2pplatform/internal/common/money"
)

// TransactionKind distinguishes why money moved.
type TransactionKind string

const (
	KindSend           TransactionKind = "send"
	KindRequestPayment TransactionKind = "request_payment"
	KindSplitPayment   TransactionKind = "split_payment"
	KindLinkPayment    TransactionKind = "link_payment"
)

// Valid reports whether k is a known kind.
func (k TransactionKind) Valid() bool {
	switch k {
	case KindSend, KindRequestPayment, KindSplitPayment, KindLinkPayment:
		return true
	}
	return false
}

// TransactionStatus is the lifecycle state of a transaction.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "PENDING"
	TxSent      TransactionStatus = "SENT"
	TxReceived  TransactionStatus = "RECEIVED"
	TxCompleted TransactionStatus = "COMPLETED"
	TxFailed    TransactionStatus = "FAILED"
	TxCancelled TransactionStatus = "CANCELLED"
	TxExpired   TransactionStatus = "EXPIRED"
)

var transactionTransitions = map[TransactionStatus][]TransactionStatus{
	TxPending:  {TxSent, TxReceived, TxCompleted, TxFailed, TxCancelled, TxExpired},
	TxSent:     {TxCompleted, TxCancelled, TxExpired},
	TxReceived: {TxCompleted},
}

// LargeTransactionThreshold is the amount above which a transaction is flagged
// for verification.
const LargeTransactionThreshold = "1000"

// Transaction is a single P2P money movement.
type Transaction struct {
	ID                   string            `json:"id"`
	SenderUserID         string            `json:"sender_user_id"`
	RecipientUserID      string            `json:"recipient_user_id,omitempty"`
	RecipientContactID   string            `json:"recipient_contact_id,omitempty"`
	RecipientName        string            `json:"recipient_name,omitempty"`
	PayerName            string            `json:"payer_name,omitempty"`
	PayerEmail           string            `json:"payer_email,omitempty"`
	Kind                 TransactionKind   `json:"kind"`
	Amount               money.Money       `json:"amount"`
	Fee                  money.Money       `json:"fee"`
	Total                money.Money       `json:"total"`
	SourceAccountID      string            `json:"source_account_id"`
	DestinationAccountID string            `json:"destination_account_id,omitempty"`
	Message              string            `json:"message,omitempty"`
	PrivateNote          string            `json:"private_note,omitempty"`
	RequiresVerification bool              `json:"requires_verification"`
	NotifySender         bool              `json:"notify_sender"`
	NotifyRecipient      bool              `json:"notify_recipient"`
	IdempotencyKey       string            `json:"idempotency_key,omitempty"`
	ReservationID        string            `json:"reservation_id,omitempty"`
	LedgerCommitted      bool              `json:"ledger_committed"`
	LedgerReleased       bool              `json:"ledger_released"`
	Status               TransactionStatus `json:"status"`
	FailureReason        string            `json:"failure_reason,omitempty"`
	AttemptCount         int               `json:"attempt_count"`
	RequestID            string            `json:"request_id,omitempty"`
	SplitBillID          string            `json:"split_bill_id,omitempty"`
	LinkID               string            `json:"link_id,omitempty"`
	InitiatedAt          time.Time         `json:"initiated_at"`
	ExpiresAt            *time.Time        `json:"expires_at,omitempty"`
	CompletedAt          *time.Time        `json:"completed_at,omitempty"`
	UpdatedAt            time.Time         `json:"updated_at"`
	Version              int64             `json:"version"`
}

// NewTransactionParams carries everything needed to create a transaction.
type NewTransactionParams struct {
	ID                   string
	SenderUserID         string
	Recipient            *Contact
	Kind                 TransactionKind
	Amount               money.Money
	Fee                  money.Money
	SourceAccountID      string
	DestinationAccountID string
	Message              string
	PrivateNote          string
	NotifySender         bool
	NotifyRecipient      bool
	IdempotencyKey       string
	RequestID            string
	SplitBillID          string
	LinkID               string
	PayerName            string
	PayerEmail           string
	ClaimWindow          time.Duration
	Now                  time.Time
}

// NewTransaction creates a PENDING transaction with Total = Amount + Fee.
func NewTransaction(p NewTransactionParams) (*Transaction, error) {
	if p.ID == "" || p.SenderUserID == "" {
		return nil, Validationf("transaction id and sender are required")
	}
	if !p.Kind.Valid() {
		return nil, Validationf("unknown transaction kind %q", p.Kind)
	}
	if !p.Amount.Currency.Valid() {
		return nil, Validationf("unsupported currency %q", p.Amount.Currency)
	}
	if !p.Amount.IsPositive() {
		return nil, Validationf("amount must be positive")
	}
	if p.Fee.IsNegative() {
		return nil, Validationf("fee must not be negative")
	}
	total, err := p.Amount.Add(p.Fee)
	if err != nil {
		return nil, Validationf("fee currency must match amount currency")
	}
	if p.SourceAccountID == "" {
		return nil, Validationf("source account is required")
	}

	threshold := money.MustParse(LargeTransactionThreshold, p.Amount.Currency)
	now := p.Now.UTC()
	tx := &Transaction{
		ID:                   p.ID,
		SenderUserID:         p.SenderUserID,
		Kind:                 p.Kind,
		Amount:               p.Amount,
		Fee:                  p.Fee,
		Total:                total,
		SourceAccountID:      p.SourceAccountID,
		DestinationAccountID: p.DestinationAccountID,
		Message:              p.Message,
		PrivateNote:          p.PrivateNote,
		RequiresVerification: p.Amount.GreaterThan(threshold),
		NotifySender:         p.NotifySender,
		NotifyRecipient:      p.NotifyRecipient,
		IdempotencyKey:       p.IdempotencyKey,
		Status:               TxPending,
		RequestID:            p.RequestID,
		SplitBillID:          p.SplitBillID,
		LinkID:               p.LinkID,
		PayerName:            p.PayerName,
		PayerEmail:           p.PayerEmail,
		InitiatedAt:          now,
		UpdatedAt:            now,
	}
	if p.Recipient != nil {
		tx.RecipientContactID = p.Recipient.ID
		tx.RecipientUserID = p.Recipient.UserID
		tx.RecipientName = p.Recipient.DisplayName
	}
	if p.ClaimWindow > 0 {
		exp := now.Add(p.ClaimWindow)
		tx.ExpiresAt = &exp
	}
	return tx, nil
}

// CheckTotals verifies the Total = Amount + Fee invariant.
func (t *Transaction) CheckTotals() error {
	sum, err := t.Amount.Add(t.Fee)
	if err != nil || !sum.Equal(t.Total) {
		return BusinessRulef("transaction %s total does not equal amount plus fee", t.ID)
	}
	return nil
}

func (t *Transaction) transition(to TransactionStatus, now time.Time) error {
	if !slices.Contains(transactionTransitions[t.Status], to) {
		return transitionError("transaction", t.Status, to)
	}
	t.Status = to
	t.UpdatedAt = now.UTC()
	return nil
}

// NeedsLedger reports whether the status has been decided but the reservation
// has not yet been committed or released to match it.
func (t *Transaction) NeedsLedger() bool {
	if t.ReservationID == "" {
		return false
	}
	switch t.Status {
	case TxCompleted, TxReceived:
		return !t.LedgerCommitted
	case TxFailed, TxCancelled, TxExpired:
		return !t.LedgerReleased
	}
	return false
}

// CanCancel reports whether the sender may still cancel.
func (t *Transaction) CanCancel() bool {
	return t.Status == TxPending || t.Status == TxSent
}

// SettlementTarget picks the post-clearing state: COMPLETED when a destination
// account is known, RECEIVED for registered recipients awaiting pickup, and SENT
// for unregistered recipients who have yet to claim.
func (t *Transaction) SettlementTarget() TransactionStatus {
	switch {
	case t.DestinationAccountID != "":
		return TxCompleted
	case t.RecipientUserID != "":
		return TxReceived
	default:
		return TxSent
	}
}

// MarkSettled applies an approved clearing outcome.
func (t *Transaction) MarkSettled(now time.Time) error {
	target := t.SettlementTarget()
	if err := t.transition(target, now); err != nil {
		return err
	}
	t.FailureReason = ""
	if target != TxSent {
		ts := now.UTC()
		t.CompletedAt = &ts
	}
	return nil
}

// MarkFailed records a permanent failure.
func (t *Transaction) MarkFailed(reason string, now time.Time) error {
	if err := t.transition(TxFailed, now); err != nil {
		return err
	}
	ts := now.UTC()
	t.FailureReason = reason
	t.CompletedAt = &ts
	return nil
}

// MarkCancelled cancels a PENDING or SENT transaction.
func (t *Transaction) MarkCancelled(now time.Time) error {
	if !t.CanCancel() {
		return BusinessRulef("transaction in status %s cannot be cancelled", t.Status)
	}
	if err := t.transition(TxCancelled, now); err != nil {
		return err
	}
	ts := now.UTC()
	t.CompletedAt = &ts
	return nil
}

// MarkExpired expires an unclaimed or stuck transaction.
func (t *Transaction) MarkExpired(reason string, now time.Time) error {
	if err := t.transition(TxExpired, now); err != nil {
		return err
	}
	ts := now.UTC()
	t.FailureReason = reason
	t.CompletedAt = &ts
	return nil
}

// RecordAttempt notes a transient clearing failure; the transaction stays PENDING.
func (t *Transaction) RecordAttempt(reason string, now time.Time) error {
	if t.Status != TxPending {
		return transitionError("transaction", t.Status, TxPending)
	}
	t.AttemptCount++
	t.FailureReason = reason
	t.UpdatedAt = now.UTC()
	return nil
}

// Involves reports whether the user is a party to the transaction.
func (t *Transaction) Involves(userID string) bool {
	return userID != "" && (t.SenderUserID == userID || t.RecipientUserID == userID)
}
