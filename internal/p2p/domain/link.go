package domain

import (
	"slices"
	"time"

	"p2pplatform/internal/common/money"
)

// PaymentLink is a reusable, shareable payment endpoint.
type PaymentLink struct {
	ID                   string         `json:"id"`
	PublicID             string         `json:"public_id"`
	OwnerUserID          string         `json:"owner_user_id"`
	Title                string         `json:"title"`
	Description          string         `json:"description,omitempty"`
	Currency             money.Currency `json:"currency"`
	IsAmountFixed        bool           `json:"is_amount_fixed"`
	Amount               *money.Money   `json:"amount,omitempty"`
	MinAmount            *money.Money   `json:"min_amount,omitempty"`
	MaxAmount            *money.Money   `json:"max_amount,omitempty"`
	DestinationAccountID string         `json:"destination_account_id"`
	PublicURL            string         `json:"public_url"`
	IsActive             bool           `json:"is_active"`
	ExpiresAt            *time.Time     `json:"expires_at,omitempty"`
	MaxUses              *int           `json:"max_uses,omitempty"`
	CurrentUses          int            `json:"current_uses"`
	TotalReceived        money.Money    `json:"total_received"`
	TransactionIDs       []string       `json:"transaction_ids"`
	PaidTransactionIDs   []string       `json:"paid_transaction_ids"`
	RequirePayerInfo     bool           `json:"require_payer_info"`
	CustomMessage        string         `json:"custom_message,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
	Version              int64          `json:"version"`
}

// NewPaymentLinkParams carries everything needed to create a link.
type NewPaymentLinkParams struct {
	ID                   string
	PublicID             string
	BaseURL              string
	OwnerUserID          string
	Title                string
	Description          string
	Currency             money.Currency
	IsAmountFixed        bool
	Amount               *money.Money
	MinAmount            *money.Money
	MaxAmount            *money.Money
	DestinationAccountID string
	ExpiresAt            *time.Time
	MaxUses              *int
	RequirePayerInfo     bool
	CustomMessage        string
	Now                  time.Time
}

// NewPaymentLink validates amount constraints and builds an active link.
func NewPaymentLink(p NewPaymentLinkParams) (*PaymentLink, error) {
	if p.ID == "" || p.PublicID == "" || p.OwnerUserID == "" {
		return nil, Validationf("link id, public id and owner are required")
	}
	if p.Title == "" {
		return nil, Validationf("title is required")
	}
	if !p.Currency.Valid() {
		return nil, Validationf("unsupported currency %q", p.Currency)
	}
	if p.DestinationAccountID == "" {
		return nil, Validationf("destination account is required")
	}
	for _, m := range []*money.Money{p.Amount, p.MinAmount, p.MaxAmount} {
		if m == nil {
			continue
		}
		if m.Currency != p.Currency {
			return nil, Validationf("amount constraints must be in %s", p.Currency)
		}
		if !m.IsPositive() {
			return nil, Validationf("amount constraints must be positive")
		}
	}
	if p.IsAmountFixed && p.Amount == nil {
		return nil, Validationf("fixed-amount links need an amount")
	}
	if !p.IsAmountFixed && p.MinAmount != nil && p.MaxAmount != nil && p.MinAmount.GreaterThan(*p.MaxAmount) {
		return nil, Validationf("minimum amount cannot be greater than maximum amount")
	}
	if p.MaxUses != nil && *p.MaxUses <= 0 {
		return nil, Validationf("max uses must be positive")
	}
	now := p.Now.UTC()
	if p.ExpiresAt != nil && !p.ExpiresAt.After(now) {
		return nil, Validationf("expiry must be in the future")
	}

	link := &PaymentLink{
		ID:                   p.ID,
		PublicID:             p.PublicID,
		OwnerUserID:          p.OwnerUserID,
		Title:                p.Title,
		Description:          p.Description,
		Currency:             p.Currency,
		IsAmountFixed:        p.IsAmountFixed,
		DestinationAccountID: p.DestinationAccountID,
		PublicURL:            p.BaseURL + "/" + p.PublicID,
		IsActive:             true,
		ExpiresAt:            p.ExpiresAt,
		MaxUses:              p.MaxUses,
		TotalReceived:        money.Zero(p.Currency),
		TransactionIDs:       []string{},
		PaidTransactionIDs:   []string{},
		RequirePayerInfo:     p.RequirePayerInfo,
		CustomMessage:        p.CustomMessage,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if p.IsAmountFixed {
		link.Amount = p.Amount
	} else {
		link.MinAmount, link.MaxAmount = p.MinAmount, p.MaxAmount
	}
	return link, nil
}

// IsExpired reports whether the link is past its expiry.
func (l *PaymentLink) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// AtCapacity reports whether the use cap is reached.
func (l *PaymentLink) AtCapacity() bool {
	return l.MaxUses != nil && l.CurrentUses >= *l.MaxUses
}

// CheckUsable returns why the link cannot take a payment, if anything.
func (l *PaymentLink) CheckUsable(now time.Time) error {
	switch {
	case !l.IsActive:
		return BusinessRulef("payment link is inactive")
	case l.IsExpired(now):
		return BusinessRulef("payment link has expired")
	case l.AtCapacity():
		return ErrLinkCapacity
	}
	return nil
}

// ResolveAmount applies the fixed or ranged amount rules.
func (l *PaymentLink) ResolveAmount(requested *money.Money) (money.Money, error) {
	if l.IsAmountFixed {
		if requested != nil && !requested.Equal(*l.Amount) {
			return money.Money{}, Validationf("this link only accepts %s", *l.Amount)
		}
		return *l.Amount, nil
	}
	if requested == nil {
		return money.Money{}, Validationf("amount is required")
	}
	if requested.Currency != l.Currency {
		return money.Money{}, Validationf("payment currency must be %s", l.Currency)
	}
	if !requested.IsPositive() {
		return money.Money{}, Validationf("amount must be positive")
	}
	if l.MinAmount != nil && requested.LessThan(*l.MinAmount) {
		return money.Money{}, Validationf("amount is below the minimum of %s", *l.MinAmount)
	}
	if l.MaxAmount != nil && requested.GreaterThan(*l.MaxAmount) {
		return money.Money{}, Validationf("amount is above the maximum of %s", *l.MaxAmount)
	}
	return *requested, nil
}

// Claim takes one use slot for txID. The cap check and increment happen on the
// same version so concurrent claims cannot overshoot MaxUses.
func (l *PaymentLink) Claim(txID string, now time.Time) error {
	if err := l.CheckUsable(now); err != nil {
		return err
	}
	l.CurrentUses++
	l.TransactionIDs = append(l.TransactionIDs, txID)
	l.UpdatedAt = now.UTC()
	return nil
}

// Unclaim gives back the slot taken for txID.
func (l *PaymentLink) Unclaim(txID string, now time.Time) bool {
	i := slices.Index(l.TransactionIDs, txID)
	if i < 0 || slices.Contains(l.PaidTransactionIDs, txID) {
		return false
	}
	l.TransactionIDs = slices.Delete(l.TransactionIDs, i, i+1)
	l.CurrentUses--
	l.UpdatedAt = now.UTC()
	return true
}

// RecordPayment adds a settled payment to TotalReceived, once per transaction.
func (l *PaymentLink) RecordPayment(txID string, amount money.Money, now time.Time) (bool, error) {
	if slices.Contains(l.PaidTransactionIDs, txID) {
		return false, nil
	}
	total, err := l.TotalReceived.Add(amount)
	if err != nil {
		return false, err
	}
	l.TotalReceived = total
	l.PaidTransactionIDs = append(l.PaidTransactionIDs, txID)
	l.UpdatedAt = now.UTC()
	return true, nil
}

// Deactivate switches the link off. Deactivating twice is a no-op.
func (l *PaymentLink) Deactivate(now time.Time) bool {
	if !l.IsActive {
		return false
	}
	l.IsActive = false
	l.UpdatedAt = now.UTC()
	return true
}

// PublicView is what anonymous payers see.
type PublicView struct {
	PublicID         string         `json:"public_id"`
	Title            string         `json:"title"`
	Description      string         `json:"description,omitempty"`
	Currency         money.Currency `json:"currency"`
	IsAmountFixed    bool           `json:"is_amount_fixed"`
	Amount           *money.Money   `json:"amount,omitempty"`
	MinAmount        *money.Money   `json:"min_amount,omitempty"`
	MaxAmount        *money.Money   `json:"max_amount,omitempty"`
	RequirePayerInfo bool           `json:"require_payer_info"`
	CustomMessage    string         `json:"custom_message,omitempty"`
	Available        bool           `json:"available"`
}

// Public returns the anonymous view of the link.
func (l *PaymentLink) Public(now time.Time) PublicView {
	return PublicView{
		PublicID:         l.PublicID,
		Title:            l.Title,
		Description:      l.Description,
		Currency:         l.Currency,
		IsAmountFixed:    l.IsAmountFixed,
		Amount:           l.Amount,
		MinAmount:        l.MinAmount,
		MaxAmount:        l.MaxAmount,
		RequirePayerInfo: l.RequirePayerInfo,
		CustomMessage:    l.CustomMessage,
		Available:        l.CheckUsable(now) == nil,
	}
}
