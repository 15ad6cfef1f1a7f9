package p2p

import (
	"context"
	"fmt"
	"time"

	"p2pplatform/internal/common/events"
	"p2pplatform/internal/common/money"
	"p2pplatform/internal/p2p/domain"
)

// SplitParticipantInput is one person on a bill. A nil Share means the bill is
// split equally.
type SplitParticipantInput struct {
	Contact domain.ContactRef
	Share   *money.Money
}

// CreateSplitBillInput describes a bill to divide.
type CreateSplitBillInput struct {
	CreatorUserID string
	Title         string
	TotalAmount   money.Money
	SplitType     domain.SplitType
	Participants  []SplitParticipantInput
	// IncludeCreator adds the creator as a participant paying CreatorShare.
	IncludeCreator       bool
	CreatorShare         *money.Money
	DestinationAccountID string
	BillDate             time.Time
	Category             string
	Location             string
	ReceiptURL           string
	DueDate              *time.Time
}

// CreateSplitBill divides a bill and sends every other participant a money
// request for their share. The bill and its requests are stored together.
func (s *Service) CreateSplitBill(ctx context.Context, in CreateSplitBillInput) (*domain.SplitBill, []*domain.MoneyRequest, error) {
	if err := s.verifyOwnership(ctx, in.CreatorUserID, in.DestinationAccountID); err != nil {
		return nil, nil, err
	}

	participants := make([]domain.Participant, 0, len(in.Participants)+1)
	contactsByIndex := make(map[int]*domain.Contact, len(in.Participants))
	explicit := 0
	if in.IncludeCreator {
		p := domain.Participant{UserID: in.CreatorUserID, DisplayName: "You", IsCreator: true}
		if in.CreatorShare != nil {
			p.Share = *in.CreatorShare
			explicit++
		}
		participants = append(participants, p)
	}
	for _, pin := range in.Participants {
		resolved, err := s.contacts.Resolve(ctx, in.CreatorUserID, pin.Contact)
		if err != nil {
			return nil, nil, err
		}
		p := domain.Participant{
			Contact:     resolved.Contact.Ref(),
			UserID:      resolved.Contact.UserID,
			DisplayName: resolved.Contact.DisplayName,
			IsCreator:   resolved.Contact.UserID != "" && resolved.Contact.UserID == in.CreatorUserID,
		}
		if pin.Share != nil {
			p.Share = *pin.Share
			explicit++
		}
		contactsByIndex[len(participants)] = resolved.Contact
		participants = append(participants, p)
	}

	splitType := in.SplitType
	switch {
	case explicit == 0:
		participants = domain.EqualShares(in.TotalAmount, participants)
		if splitType == "" {
			splitType = domain.SplitEqual
		}
	case explicit != len(participants):
		return nil, nil, domain.Validationf("either every participant has a share or none does")
	case splitType == "":
		splitType = domain.SplitCustom
	}

	now := s.now()
	bill, err := domain.NewSplitBill(domain.NewSplitBillParams{
		ID:                   s.newID(),
		CreatorUserID:        in.CreatorUserID,
		Title:                in.Title,
		TotalAmount:          in.TotalAmount,
		SplitType:            splitType,
		Participants:         participants,
		DestinationAccountID: in.DestinationAccountID,
		BillDate:             in.BillDate,
		Category:             in.Category,
		Location:             in.Location,
		ReceiptURL:           in.ReceiptURL,
		DueDate:              in.DueDate,
		Now:                  now,
	})
	if err != nil {
		return nil, nil, err
	}

	total := bill.TotalAmount
	requests := make([]*domain.MoneyRequest, 0, len(bill.Participants))
	for i, p := range bill.Participants {
		if p.IsCreator || !p.Share.IsPositive() {
			continue
		}
		req, err := domain.NewMoneyRequest(domain.NewMoneyRequestParams{
			ID:                   s.newID(),
			RequesterUserID:      in.CreatorUserID,
			Payer:                contactsByIndex[i],
			Amount:               p.Share,
			Description:          "Your share of: " + bill.Title,
			DueDate:              in.DueDate,
			DestinationAccountID: bill.DestinationAccountID,
			Now:                  now,
		})
		if err != nil {
			return nil, nil, err
		}
		req.IsSplitBill = true
		req.SplitBillID = bill.ID
		req.TotalBillAmount = &total
		bill.AttachRequest(i, req.ID)
		requests = append(requests, req)
	}

	if err := s.store.CreateSplitBill(ctx, bill, requests); err != nil {
		return nil, nil, fmt.Errorf("create split bill: %w", err)
	}

	s.logger.Info("split bill created",
		"split_bill_id", bill.ID,
		"participants", len(bill.Participants),
		"requests", len(requests),
		"total", bill.TotalAmount.String(),
	)
	for _, req := range requests {
		share := req.Amount
		s.notify(ctx, req.PayerUserID, events.EventSplitBillCreated, splitPayload(bill, &share))
		s.notify(ctx, req.PayerUserID, events.EventRequestReceived, requestPayload(req))
	}
	return bill, requests, nil
}

// GetSplitBill returns a bill the user created or participates in.
func (s *Service) GetSplitBill(ctx context.Context, userID, id string) (*domain.SplitBill, error) {
	bill, err := s.loadSplitBill(ctx, id)
	if err != nil {
		return nil, err
	}
	if !bill.VisibleTo(userID) {
		return nil, domain.NotFound("split bill")
	}
	return bill, nil
}

// ListSplitBills lists bills the user created or participates in. activeOnly
// drops bills that are fully collected.
func (s *Service) ListSplitBills(ctx context.Context, userID string, activeOnly bool, limit, offset int) ([]*domain.SplitBill, error) {
	if userID == "" {
		return nil, domain.Validationf("user is required")
	}
	bills, err := s.store.ListSplitBills(ctx, userID, activeOnly, toPage(limit, offset))
	if err != nil {
		return nil, fmt.Errorf("list split bills: %w", err)
	}
	return bills, nil
}

func splitPayload(b *domain.SplitBill, share *money.Money) events.SplitBillData {
	d := events.SplitBillData{
		SplitBillID: b.ID,
		Title:       b.Title,
		Total:       b.TotalAmount.String(),
		Currency:    string(b.TotalAmount.Currency),
	}
	if share != nil {
		d.Share = share.String()
	}
	return d
}
