package domain

import (
	"slices"
	"time"

	"p2pplatform/internal/common/money"
)

// SplitType describes how shares were computed.
type SplitType string

const (
	SplitEqual      SplitType = "equal"
	SplitCustom     SplitType = "custom"
	SplitPercentage SplitType = "percentage"
)

// Participant is one person sharing a bill.
type Participant struct {
	Contact     ContactRef  `json:"contact"`
	UserID      string      `json:"user_id,omitempty"`
	DisplayName string      `json:"display_name,omitempty"`
	Share       money.Money `json:"share"`
	RequestID   string      `json:"request_id,omitempty"`
	IsCreator   bool        `json:"is_creator"`
}

// SplitBill divides one expense into per-participant money requests.
type SplitBill struct {
	ID                   string        `json:"id"`
	CreatorUserID        string        `json:"creator_user_id"`
	Title                string        `json:"title"`
	TotalAmount          money.Money   `json:"total_amount"`
	SplitType            SplitType     `json:"split_type"`
	Participants         []Participant `json:"participants"`
	DestinationAccountID string        `json:"destination_account_id"`
	RequestIDs           []string      `json:"request_ids"`
	TotalCollected       money.Money   `json:"total_collected"`
	PaidTransactionIDs   []string      `json:"paid_transaction_ids"`
	BillDate             time.Time     `json:"bill_date"`
	Category             string        `json:"category"`
	Location             string        `json:"location,omitempty"`
	ReceiptURL           string        `json:"receipt_url,omitempty"`
	DueDate              *time.Time    `json:"due_date,omitempty"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
	Version              int64         `json:"version"`
}

// NewSplitBillParams carries everything needed to create a bill.
type NewSplitBillParams struct {
	ID                   string
	CreatorUserID        string
	Title                string
	TotalAmount          money.Money
	SplitType            SplitType
	Participants         []Participant
	DestinationAccountID string
	BillDate             time.Time
	Category             string
	Location             string
	ReceiptURL           string
	DueDate              *time.Time
	Now                  time.Time
}

// EqualShares fills in missing shares by dividing the total evenly. Any
// remainder goes to the first participants.
func EqualShares(total money.Money, participants []Participant) []Participant {
	shares := total.Allocate(len(participants))
	out := slices.Clone(participants)
	for i := range out {
		out[i].Share = shares[i]
	}
	return out
}

// NewSplitBill validates participants and shares. The creator's own share is
// counted as collected from the start.
func NewSplitBill(p NewSplitBillParams) (*SplitBill, error) {
	if p.ID == "" || p.CreatorUserID == "" {
		return nil, Validationf("split bill id and creator are required")
	}
	if p.Title == "" {
		return nil, Validationf("title is required")
	}
	if !p.TotalAmount.Currency.Valid() {
		return nil, Validationf("unsupported currency %q", p.TotalAmount.Currency)
	}
	if !p.TotalAmount.IsPositive() {
		return nil, Validationf("total amount must be positive")
	}
	if len(p.Participants) < 2 {
		return nil, Validationf("split bill must have at least 2 participants")
	}
	if p.DestinationAccountID == "" {
		return nil, Validationf("destination account is required")
	}

	collected := money.Zero(p.TotalAmount.Currency)
	sum := money.Zero(p.TotalAmount.Currency)
	seen := make(map[ContactRef]bool, len(p.Participants))
	for i, part := range p.Participants {
		if part.Share.Currency != p.TotalAmount.Currency {
			return nil, Validationf("participant %d share currency must be %s", i, p.TotalAmount.Currency)
		}
		if part.Share.IsNegative() {
			return nil, Validationf("participant %d share must not be negative", i)
		}
		if !part.IsCreator {
			if seen[part.Contact] {
				return nil, Validationf("participant %s appears more than once", part.Contact.Value)
			}
			seen[part.Contact] = true
		}
		sum = sum.MustAdd(part.Share)
		if part.IsCreator {
			collected = collected.MustAdd(part.Share)
		}
	}
	if !sum.Equal(p.TotalAmount) {
		return nil, Validationf("participant shares total %s but the bill is %s", sum, p.TotalAmount)
	}

	splitType := p.SplitType
	if splitType == "" {
		splitType = SplitEqual
	}
	category := p.Category
	if category == "" {
		category = "dining"
	}
	now := p.Now.UTC()
	billDate := p.BillDate
	if billDate.IsZero() {
		billDate = now.Truncate(24 * time.Hour)
	}

	return &SplitBill{
		ID:                   p.ID,
		CreatorUserID:        p.CreatorUserID,
		Title:                p.Title,
		TotalAmount:          p.TotalAmount,
		SplitType:            splitType,
		Participants:         slices.Clone(p.Participants),
		DestinationAccountID: p.DestinationAccountID,
		RequestIDs:           []string{},
		TotalCollected:       collected,
		PaidTransactionIDs:   []string{},
		BillDate:             billDate,
		Category:             category,
		Location:             p.Location,
		ReceiptURL:           p.ReceiptURL,
		DueDate:              p.DueDate,
		CreatedAt:            now,
		UpdatedAt:            now,
	}, nil
}

// AttachRequest links the generated request to participant i.
func (b *SplitBill) AttachRequest(i int, requestID string) {
	b.Participants[i].RequestID = requestID
	b.RequestIDs = append(b.RequestIDs, requestID)
}

// IsFullyCollected reports whether everything owed has been collected.
func (b *SplitBill) IsFullyCollected() bool {
	return !b.TotalCollected.LessThan(b.TotalAmount)
}

// CollectionBasisPoints is TotalCollected/TotalAmount in basis points.
func (b *SplitBill) CollectionBasisPoints() int64 {
	return b.TotalCollected.Ratio(b.TotalAmount)
}

// ApplyCollection adds a settled payment, capped at the bill total. It is
// idempotent per transaction id.
func (b *SplitBill) ApplyCollection(txID string, amount money.Money, now time.Time) (bool, error) {
	if slices.Contains(b.PaidTransactionIDs, txID) {
		return false, nil
	}
	total, err := b.TotalCollected.Add(amount)
	if err != nil {
		return false, err
	}
	b.TotalCollected = money.Min(total, b.TotalAmount)
	b.PaidTransactionIDs = append(b.PaidTransactionIDs, txID)
	b.UpdatedAt = now.UTC()
	return true, nil
}

// VisibleTo reports whether the user created or participates in the bill.
func (b *SplitBill) VisibleTo(userID string) bool {
	if userID == "" {
		return false
	}
	if b.CreatorUserID == userID {
		return true
	}
	for _, p := range b.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// ParticipantUserIDs lists the registered participants.
func (b *SplitBill) ParticipantUserIDs() []string {
	ids := make([]string, 0, len(b.Participants))
	for _, p := range b.Participants {
		if p.UserID != "" {
			ids = append(ids, p.UserID)
		}
	}
	return ids
}
