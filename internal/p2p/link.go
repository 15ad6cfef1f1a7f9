package p2p

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"p2pplatform/internal/common/money"
	"p2pplatform/internal/p2p/domain"
)

// CreateLinkInput describes a payment link.
type CreateLinkInput struct {
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
}

// CreatePaymentLink creates an active link paying into one of the owner's
// accounts.
func (s *Service) CreatePaymentLink(ctx context.Context, in CreateLinkInput) (*domain.PaymentLink, error) {
	if err := s.verifyOwnership(ctx, in.OwnerUserID, in.DestinationAccountID); err != nil {
		return nil, err
	}
	link, err := domain.NewPaymentLink(domain.NewPaymentLinkParams{
		ID:                   s.newID(),
		PublicID:             strings.ReplaceAll(uuid.NewString(), "-", ""),
		BaseURL:              strings.TrimRight(s.config.PublicLinkBaseURL, "/"),
		OwnerUserID:          in.OwnerUserID,
		Title:                in.Title,
		Description:          in.Description,
		Currency:             in.Currency,
		IsAmountFixed:        in.IsAmountFixed,
		Amount:               in.Amount,
		MinAmount:            in.MinAmount,
		MaxAmount:            in.MaxAmount,
		DestinationAccountID: in.DestinationAccountID,
		ExpiresAt:            in.ExpiresAt,
		MaxUses:              in.MaxUses,
		RequirePayerInfo:     in.RequirePayerInfo,
		CustomMessage:        in.CustomMessage,
		Now:                  s.now(),
	})
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateLink(ctx, link); err != nil {
		return nil, fmt.Errorf("create payment link: %w", err)
	}
	s.logger.Info("payment link created", "link_id", link.ID, "public_id", link.PublicID)
	return link, nil
}

// PayLinkInput pays through a link.
type PayLinkInput struct {
	Amount          *money.Money
	SourceAccountID string
	PayerName       string
	PayerEmail      string
	Message         string
	IdempotencyKey  string
}

// PayViaLink takes a use slot on the link and starts a transfer to its
// destination. The slot is given back if the transfer cannot start or later
// fails.
func (s *Service) PayViaLink(ctx context.Context, payerUserID, publicID string, in PayLinkInput) (*domain.Transaction, error) {
	if tx, ok, err := s.existingByKey(ctx, payerUserID, in.IdempotencyKey); err != nil || ok {
		if err != nil {
			return nil, err
		}
		link, err := s.publicLink(ctx, publicID)
		if err != nil {
			return nil, err
		}
		if tx.LinkID != link.ID {
			return nil, domain.Validationf("idempotency key was already used for another payment")
		}
		return tx, nil
	}
	if err := s.verifyOwnership(ctx, payerUserID, in.SourceAccountID); err != nil {
		return nil, err
	}

	current, err := s.publicLink(ctx, publicID)
	if err != nil {
		return nil, err
	}
	if current.OwnerUserID == payerUserID {
		return nil, domain.Validationf("cannot pay your own payment link")
	}
	if err := current.CheckUsable(s.now()); err != nil {
		return nil, err
	}
	amount, err := current.ResolveAmount(in.Amount)
	if err != nil {
		return nil, err
	}
	payerName := strings.TrimSpace(in.PayerName)
	payerEmail := strings.TrimSpace(in.PayerEmail)
	if current.RequirePayerInfo && (payerName == "" || payerEmail == "") {
		return nil, domain.Validationf("this link requires the payer's name and email")
	}

	// Payers who leave an email end up in the owner's contacts.
	if payerEmail != "" {
		if resolved, err := s.contacts.Resolve(ctx, current.OwnerUserID, domain.ContactRef{Method: domain.ContactEmail, Value: payerEmail}); err != nil {
			s.logger.Warn("recording link payer contact", "link_id", current.ID, "error", err)
		} else {
			s.contacts.RecordTransaction(ctx, resolved.Contact.ID)
		}
	}

	txID := s.newID()
	if _, err := s.mutateLink(ctx, current.ID, func(l *domain.PaymentLink) error {
		return l.Claim(txID, s.now())
	}); err != nil {
		return nil, err
	}

	message := in.Message
	if message == "" {
		message = "Payment via link: " + current.Title
	}
	tx, err := s.initiate(ctx, initiation{
		id:              txID,
		senderUserID:    payerUserID,
		recipient:       &domain.Contact{UserID: current.OwnerUserID, DisplayName: current.Title},
		kind:            domain.KindLinkPayment,
		amount:          amount,
		sourceAccountID: in.SourceAccountID,
		destinationID:   current.DestinationAccountID,
		message:         message,
		notifySender:    true,
		notifyRecipient: true,
		idempotencyKey:  in.IdempotencyKey,
		linkID:          current.ID,
		payerName:       payerName,
		payerEmail:      payerEmail,
	})
	if err != nil || tx.ID != txID {
		s.unclaimLink(ctx, current.ID, txID)
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info("payment link used", "link_id", current.ID, "transaction_id", tx.ID)
	return tx, nil
}

func (s *Service) unclaimLink(ctx context.Context, linkID, txID string) {
	_, err := s.mutateLink(ctx, linkID, func(l *domain.PaymentLink) error {
		if !l.Unclaim(txID, s.now()) {
			return errUnchanged
		}
		return nil
	})
	if err != nil {
		s.logger.Error("release link slot", "link_id", linkID, "transaction_id", txID, "error", err)
	}
}

// DeactivatePaymentLink switches a link off. Other users get NotFound.
func (s *Service) DeactivatePaymentLink(ctx context.Context, ownerUserID, linkID string) (*domain.PaymentLink, error) {
	link, err := s.mutateLink(ctx, linkID, func(l *domain.PaymentLink) error {
		if l.OwnerUserID != ownerUserID {
			return domain.NotFound("payment link")
		}
		if !l.Deactivate(s.now()) {
			return errUnchanged
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("payment link deactivated", "link_id", link.ID)
	return link, nil
}

// GetPaymentLink returns the owner's view of a link.
func (s *Service) GetPaymentLink(ctx context.Context, ownerUserID, linkID string) (*domain.PaymentLink, error) {
	link, err := s.loadLink(ctx, linkID)
	if err != nil {
		return nil, err
	}
	if link.OwnerUserID != ownerUserID {
		return nil, domain.NotFound("payment link")
	}
	return link, nil
}

// GetPublicLink returns what an anonymous payer may see.
func (s *Service) GetPublicLink(ctx context.Context, publicID string) (*domain.PublicView, error) {
	link, err := s.publicLink(ctx, publicID)
	if err != nil {
		return nil, err
	}
	view := link.Public(s.now())
	return &view, nil
}

// ListPaymentLinks lists the owner's links, newest first.
func (s *Service) ListPaymentLinks(ctx context.Context, ownerUserID string, limit, offset int) ([]*domain.PaymentLink, error) {
	if ownerUserID == "" {
		return nil, domain.Validationf("user is required")
	}
	links, err := s.store.ListLinks(ctx, ownerUserID, toPage(limit, offset))
	if err != nil {
		return nil, fmt.Errorf("list payment links: %w", err)
	}
	return links, nil
}

func (s *Service) publicLink(ctx context.Context, publicID string) (*domain.PaymentLink, error) {
	link, err := s.store.GetLinkByPublicID(ctx, publicID)
	if err != nil {
		if isNotFound(err) {
			return nil, domain.NotFound("payment link")
		}
		return nil, fmt.Errorf("get payment link: %w", err)
	}
	return link, nil
}
