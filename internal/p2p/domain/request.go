package domain

import (
	"slices"
	"time"

	"p2pplatform/internal/common/money"
)

// RequestStatus is the lifecycle state of a money request.
type RequestStatus string

const (
	RequestPending       RequestStatus = "PENDING"
	RequestAccepted      RequestStatus = "ACCEPTED"
	RequestDeclined      RequestStatus = "DECLINED"
	RequestExpired       RequestStatus = "EXPIRED"
	RequestCancelled     RequestStatus = "CANCELLED"
	RequestPartiallyPaid RequestStatus = "PARTIALLY_PAID"
	RequestCompleted     RequestStatus = "COMPLETED"
)

// DefaultRequestExpiry is how long a request stays open without a due date.
const DefaultRequestExpiry = 30 * 24 * time.Hour

// RespondAction is the payer's answer to a request.
type RespondAction string

const (
	ActionAccept  RespondAction = "accept"
	ActionDecline RespondAction = "decline"
)

// MoneyRequest asks a payer for money.
type MoneyRequest struct {
	ID                    string        `json:"id"`
	RequesterUserID       string        `json:"requester_user_id"`
	PayerContactID        string        `json:"payer_contact_id"`
	PayerUserID           string        `json:"payer_user_id,omitempty"`
	PayerName             string        `json:"payer_name,omitempty"`
	Amount                money.Money   `json:"amount"`
	Description           string        `json:"description"`
	DueDate               *time.Time    `json:"due_date,omitempty"`
	DestinationAccountID  string        `json:"destination_account_id"`
	ExpiresAt             time.Time     `json:"expires_at"`
	Status                RequestStatus `json:"status"`
	TransactionIDs        []string      `json:"transaction_ids"`
	InFlightTransactionID string        `json:"in_flight_transaction_id,omitempty"`
	TotalReceived         money.Money   `json:"total_received"`
	IsSplitBill           bool          `json:"is_split_bill"`
	SplitBillID           string        `json:"split_bill_id,omitempty"`
	TotalBillAmount       *money.Money  `json:"total_bill_amount,omitempty"`
	ReminderEnabled       bool          `json:"reminder_enabled"`
	ReminderFrequencyDays int           `json:"reminder_frequency_days"`
	RespondedAt           *time.Time    `json:"responded_at,omitempty"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
	Version               int64         `json:"version"`
}

// NewMoneyRequestParams carries everything needed to create a request.
type NewMoneyRequestParams struct {
	ID                   string
	RequesterUserID      string
	Payer                *Contact
	Amount               money.Money
	Description          string
	DueDate              *time.Time
	DestinationAccountID string
	Now                  time.Time
}

// NewMoneyRequest creates a PENDING request expiring after DefaultRequestExpiry
// or at the end of the due date, whichever is earlier.
func NewMoneyRequest(p NewMoneyRequestParams) (*MoneyRequest, error) {
	if p.ID == "" || p.RequesterUserID == "" {
		return nil, Validationf("request id and requester are required")
	}
	if p.Payer == nil {
		return nil, Validationf("payer is required")
	}
	if p.Payer.UserID != "" && p.Payer.UserID == p.RequesterUserID {
		return nil, Validationf("cannot request money from yourself")
	}
	if !p.Amount.Currency.Valid() {
		return nil, Validationf("unsupported currency %q", p.Amount.Currency)
	}
	if !p.Amount.IsPositive() {
		return nil, Validationf("amount must be positive")
	}
	if p.DestinationAccountID == "" {
		return nil, Validationf("destination account is required")
	}

	now := p.Now.UTC()
	expires := now.Add(DefaultRequestExpiry)
	if p.DueDate != nil {
		due := p.DueDate.UTC()
		if due.Before(now) {
			return nil, Validationf("due date must be in the future")
		}
		if endOfDay := due.Truncate(24 * time.Hour).Add(24*time.Hour - time.Second); endOfDay.Before(expires) {
			expires = endOfDay
		}
	}

	return &MoneyRequest{
		ID:                    p.ID,
		RequesterUserID:       p.RequesterUserID,
		PayerContactID:        p.Payer.ID,
		PayerUserID:           p.Payer.UserID,
		PayerName:             p.Payer.DisplayName,
		Amount:                p.Amount,
		Description:           p.Description,
		DueDate:               p.DueDate,
		DestinationAccountID:  p.DestinationAccountID,
		ExpiresAt:             expires,
		Status:                RequestPending,
		TransactionIDs:        []string{},
		TotalReceived:         money.Zero(p.Amount.Currency),
		ReminderEnabled:       true,
		ReminderFrequencyDays: 3,
		CreatedAt:             now,
		UpdatedAt:             now,
	}, nil
}

// Remaining is the amount still owed.
func (r *MoneyRequest) Remaining() money.Money {
	rem, _ := r.Amount.Sub(r.TotalReceived)
	if rem.IsNegative() {
		return money.Zero(r.Amount.Currency)
	}
	return rem
}

// IsOpen reports whether the request can still collect money.
func (r *MoneyRequest) IsOpen() bool {
	return r.Status == RequestPending || (r.IsSplitBill && r.Status == RequestPartiallyPaid)
}

// IsExpired reports whether the request is past its expiry.
func (r *MoneyRequest) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

func (r *MoneyRequest) checkRespondable(payerUserID string, now time.Time) error {
	if payerUserID == "" || r.PayerUserID != payerUserID {
		return NotFound("money request")
	}
	if !r.IsOpen() {
		return BusinessRulef("money request is %s and can no longer be answered", r.Status)
	}
	if r.IsExpired(now) {
		return BusinessRulef("money request has expired")
	}
	if r.InFlightTransactionID != "" {
		return BusinessRulef("a payment for this request is already in progress")
	}
	return nil
}

// PaymentAmount resolves how much an accept should pay. Only split-linked
// requests accept partial amounts.
func (r *MoneyRequest) PaymentAmount(requested *money.Money) (money.Money, error) {
	remaining := r.Remaining()
	if requested == nil {
		return remaining, nil
	}
	if requested.Currency != r.Amount.Currency {
		return money.Money{}, Validationf("payment currency must be %s", r.Amount.Currency)
	}
	if !requested.IsPositive() {
		return money.Money{}, Validationf("amount must be positive")
	}
	if requested.GreaterThan(remaining) {
		return money.Money{}, Validationf("amount exceeds the remaining %s", remaining)
	}
	if !r.IsSplitBill && !requested.Equal(remaining) {
		return money.Money{}, Validationf("partial payments are only allowed for split bill requests")
	}
	return *requested, nil
}

// CheckAccept validates that the payer may pay now.
func (r *MoneyRequest) CheckAccept(payerUserID string, now time.Time) error {
	return r.checkRespondable(payerUserID, now)
}

// BeginPayment marks a payment transaction as in flight.
func (r *MoneyRequest) BeginPayment(payerUserID, txID string, now time.Time) error {
	if err := r.checkRespondable(payerUserID, now); err != nil {
		return err
	}
	r.InFlightTransactionID = txID
	ts := now.UTC()
	r.RespondedAt = &ts
	r.UpdatedAt = ts
	return nil
}

// Decline answers the request negatively.
func (r *MoneyRequest) Decline(payerUserID string, now time.Time) error {
	if err := r.checkRespondable(payerUserID, now); err != nil {
		return err
	}
	if r.Status != RequestPending {
		return transitionError("money request", r.Status, RequestDeclined)
	}
	ts := now.UTC()
	r.Status = RequestDeclined
	r.RespondedAt = &ts
	r.UpdatedAt = ts
	return nil
}

// Cancel withdraws the request.
func (r *MoneyRequest) Cancel(requesterUserID string, now time.Time) error {
	if requesterUserID == "" || r.RequesterUserID != requesterUserID {
		return NotFound("money request")
	}
	if r.Status != RequestPending && r.Status != RequestPartiallyPaid {
		return BusinessRulef("money request in status %s cannot be cancelled", r.Status)
	}
	if r.InFlightTransactionID != "" {
		return BusinessRulef("a payment for this request is in progress")
	}
	r.Status = RequestCancelled
	r.UpdatedAt = now.UTC()
	return nil
}

// ApplyPayment records a settled payment. It is idempotent per transaction id.
func (r *MoneyRequest) ApplyPayment(txID string, amount money.Money, now time.Time) (applied bool, err error) {
	if slices.Contains(r.TransactionIDs, txID) {
		return false, nil
	}
	total, err := r.TotalReceived.Add(amount)
	if err != nil {
		return false, err
	}
	if total.GreaterThan(r.Amount) {
		return false, BusinessRulef("payment would exceed the requested amount")
	}
	if r.InFlightTransactionID == txID {
		r.InFlightTransactionID = ""
	}
	r.TransactionIDs = append(r.TransactionIDs, txID)
	r.TotalReceived = total
	switch {
	case !r.IsSplitBill:
		r.Status = RequestAccepted
	case total.Equal(r.Amount):
		r.Status = RequestCompleted
	default:
		r.Status = RequestPartiallyPaid
	}
	r.UpdatedAt = now.UTC()
	return true, nil
}

// PaymentFailed clears the in-flight marker so the payer may try again.
func (r *MoneyRequest) PaymentFailed(txID string, now time.Time) bool {
	if r.InFlightTransactionID != txID {
		return false
	}
	r.InFlightTransactionID = ""
	r.UpdatedAt = now.UTC()
	return true
}

// Expire moves an open request past its expiry to EXPIRED.
func (r *MoneyRequest) Expire(now time.Time) error {
	if !r.IsOpen() || r.InFlightTransactionID != "" || !r.IsExpired(now) {
		return transitionError("money request", r.Status, RequestExpired)
	}
	r.Status = RequestExpired
	r.UpdatedAt = now.UTC()
	return nil
}

// VisibleTo reports whether the user is requester or payer.
func (r *MoneyRequest) VisibleTo(userID string) bool {
	return userID != "" && (r.RequesterUserID == userID || r.PayerUserID == userID)
}
