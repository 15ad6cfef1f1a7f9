package p2p

import (
	"context"
	"fmt"
	"time"

	"p2pplatform/internal/common/money"
	"p2pplatform/internal/p2p/domain"
	"p2pplatform/internal/p2p/fees"
	"p2pplatform/internal/p2p/store"
)

const analyticsPageSize = 200

// Analytics summarizes a user's completed transfers in a period.
type Analytics struct {
	From             time.Time                      `json:"from"`
	To               time.Time                      `json:"to"`
	Currency         money.Currency                 `json:"currency"`
	TotalSent        money.Money                    `json:"total_sent"`
	TotalReceived    money.Money                    `json:"total_received"`
	FeesPaid         money.Money                    `json:"fees_paid"`
	TransactionCount int                            `json:"transaction_count"`
	AverageAmount    money.Money                    `json:"average_amount"`
	ByKind           map[domain.TransactionKind]int `json:"by_kind"`
}

// GetAnalytics totals the user's completed transactions in [from, to). Amounts
// in other currencies are counted but not summed.
func (s *Service) GetAnalytics(ctx context.Context, userID string, from, to time.Time, currency money.Currency) (*Analytics, error) {
	if userID == "" {
		return nil, domain.Validationf("user is required")
	}
	if currency == "" {
		currency = money.USD
	}
	if !currency.Valid() {
		return nil, domain.Validationf("unsupported currency %q", currency)
	}
	if !to.After(from) {
		return nil, domain.Validationf("period end must be after its start")
	}

	a := &Analytics{
		From:          from,
		To:            to,
		Currency:      currency,
		TotalSent:     money.Zero(currency),
		TotalReceived: money.Zero(currency),
		FeesPaid:      money.Zero(currency),
		AverageAmount: money.Zero(currency),
		ByKind:        map[domain.TransactionKind]int{},
	}
	volume := money.Zero(currency)
	summed := 0

	err := s.eachTransaction(ctx, store.TransactionFilter{
		UserID:   userID,
		Statuses: []domain.TransactionStatus{domain.TxCompleted, domain.TxReceived},
		From:     &from,
		To:       &to,
	}, func(tx *domain.Transaction) {
		a.TransactionCount++
		a.ByKind[tx.Kind]++
		if tx.Amount.Currency != currency {
			return
		}
		summed++
		volume = volume.MustAdd(tx.Amount)
		if tx.SenderUserID == userID {
			a.TotalSent = a.TotalSent.MustAdd(tx.Amount)
			a.FeesPaid = a.FeesPaid.MustAdd(tx.Fee)
		} else {
			a.TotalReceived = a.TotalReceived.MustAdd(tx.Amount)
		}
	})
	if err != nil {
		return nil, err
	}
	if summed > 0 {
		a.AverageAmount = volume.Allocate(summed)[summed-1]
	}
	return a, nil
}

// Summary is the dashboard view of a user's P2P activity.
type Summary struct {
	Currency            money.Currency `json:"currency"`
	SentThisMonth       money.Money    `json:"sent_this_month"`
	ReceivedThisMonth   money.Money    `json:"received_this_month"`
	PendingTransactions int            `json:"pending_transactions"`
	PendingIncoming     int            `json:"pending_incoming_requests"`
	PendingOutgoing     int            `json:"pending_outgoing_requests"`
	RecentTransactions  int            `json:"recent_transactions"`
}

// GetSummary reports month-to-date volume and open items.
func (s *Service) GetSummary(ctx context.Context, userID string, currency money.Currency) (*Summary, error) {
	now := s.now()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	month, err := s.GetAnalytics(ctx, userID, start, now.Add(time.Second), currency)
	if err != nil {
		return nil, err
	}

	_, pending, err := s.store.ListTransactions(ctx, store.TransactionFilter{
		UserID:   userID,
		Statuses: []domain.TransactionStatus{domain.TxPending, domain.TxSent},
		Page:     store.Page{Limit: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("count pending transactions: %w", err)
	}
	weekAgo := now.Add(-7 * 24 * time.Hour)
	_, recent, err := s.store.ListTransactions(ctx, store.TransactionFilter{
		UserID: userID,
		From:   &weekAgo,
		Page:   store.Page{Limit: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("count recent transactions: %w", err)
	}
	incoming, err := s.store.CountPendingRequests(ctx, userID, store.DirectionIncoming)
	if err != nil {
		return nil, fmt.Errorf("count incoming requests: %w", err)
	}
	outgoing, err := s.store.CountPendingRequests(ctx, userID, store.DirectionOutgoing)
	if err != nil {
		return nil, fmt.Errorf("count outgoing requests: %w", err)
	}

	return &Summary{
		Currency:            month.Currency,
		SentThisMonth:       month.TotalSent,
		ReceivedThisMonth:   month.TotalReceived,
		PendingTransactions: pending,
		PendingIncoming:     incoming,
		PendingOutgoing:     outgoing,
		RecentTransactions:  recent,
	}, nil
}

// LimitsAndFees describes the current pricing and limits.
type LimitsAndFees struct {
	Fees   []fees.Tier `json:"fees"`
	Limits fees.Limits `json:"limits"`
}

// GetLimitsAndFees returns the fee tiers in currency and the transfer limits.
func (s *Service) GetLimitsAndFees(currency money.Currency) (*LimitsAndFees, error) {
	if currency == "" {
		currency = money.USD
	}
	if !currency.Valid() {
		return nil, domain.Validationf("unsupported currency %q", currency)
	}
	return &LimitsAndFees{Fees: s.fees.Describe(currency), Limits: s.limits}, nil
}

func (s *Service) eachTransaction(ctx context.Context, f store.TransactionFilter, fn func(*domain.Transaction)) error {
	f.Page = store.Page{Limit: analyticsPageSize}
	for {
		txs, total, err := s.store.ListTransactions(ctx, f)
		if err != nil {
			return fmt.Errorf("list transactions: %w", err)
		}
		for _, tx := range txs {
			fn(tx)
		}
		f.Offset += len(txs)
		if len(txs) == 0 || f.Offset >= total {
			return nil
		}
	}
}
