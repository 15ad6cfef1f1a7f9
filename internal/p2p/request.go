package p2p

import (
	"context"
	"fmt"
	"time"

	"p2pplatform/internal/common/events"
	"p2pplatform/internal/common/money"
	"p2pplatform/internal/p2p/domain"
	"p2pplatform/internal/p2p/store"
)

// CreateRequestInput asks a contact for money.
type CreateRequestInput struct {
	RequesterUserID      string
	Payer                domain.ContactRef
	Amount               money.Money
	Description          string
	DueDate              *time.Time
	DestinationAccountID string
}

// CreateRequest creates a PENDING money request and tells the payer about it.
func (s *Service) CreateRequest(ctx context.Context, in CreateRequestInput) (*domain.MoneyRequest, error) {
	if err := s.verifyOwnership(ctx, in.RequesterUserID, in.DestinationAccountID); err != nil {
		return nil, err
	}
	resolved, err := s.contacts.Resolve(ctx, in.RequesterUserID, in.Payer)
	if err != nil {
		return nil, err
	}
	req, err := domain.NewMoneyRequest(domain.NewMoneyRequestParams{
		ID:                   s.newID(),
		RequesterUserID:      in.RequesterUserID,
		Payer:                resolved.Contact,
		Amount:               in.Amount,
		Description:          in.Description,
		DueDate:              in.DueDate,
		DestinationAccountID: in.DestinationAccountID,
		Now:                  s.now(),
	})
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	s.logger.Info("money request created", "request_id", req.ID, "amount", req.Amount.String(), "currency", req.Amount.Currency)
	s.notify(ctx, req.PayerUserID, events.EventRequestReceived, requestPayload(req))
	return req, nil
}

// RespondInput answers a money request.
type RespondInput struct {
	Action          domain.RespondAction
	SourceAccountID string
	Amount          *money.Money
	Message         string
	IdempotencyKey  string
}

// RespondResult is the request after the response, plus the payment when one
// was started.
type RespondResult struct {
	Request     *domain.MoneyRequest `json:"request"`
	Transaction *domain.Transaction  `json:"transaction,omitempty"`
}

// RespondToRequest accepts or declines a request. Accepting starts a transfer
// to the requester's destination account; the request records the payment
// when it settles.
func (s *Service) RespondToRequest(ctx context.Context, payerUserID, requestID string, in RespondInput) (*RespondResult, error) {
	switch in.Action {
	case domain.ActionDecline:
		return s.declineRequest(ctx, payerUserID, requestID)
	case domain.ActionAccept:
		return s.acceptRequest(ctx, payerUserID, requestID, in)
	}
	return nil, domain.Validationf("action must be accept or decline")
}

func (s *Service) declineRequest(ctx context.Context, payerUserID, requestID string) (*RespondResult, error) {
	req, err := s.mutateRequest(ctx, requestID, func(r *domain.MoneyRequest) error {
		return r.Decline(payerUserID, s.now())
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("money request declined", "request_id", req.ID)
	s.notify(ctx, req.RequesterUserID, events.EventRequestDeclined, requestPayload(req))
	return &RespondResult{Request: req}, nil
}

func (s *Service) acceptRequest(ctx context.Context, payerUserID, requestID string, in RespondInput) (*RespondResult, error) {
	if tx, ok, err := s.existingByKey(ctx, payerUserID, in.IdempotencyKey); err != nil || ok {
		if err != nil {
			return nil, err
		}
		if tx.RequestID != requestID {
			return nil, domain.Validationf("idempotency key was already used for another payment")
		}
		req, err := s.loadRequest(ctx, requestID)
		if err != nil {
			return nil, err
		}
		return &RespondResult{Request: req, Transaction: tx}, nil
	}
	if err := s.verifyOwnership(ctx, payerUserID, in.SourceAccountID); err != nil {
		return nil, err
	}

	current, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := current.CheckAccept(payerUserID, s.now()); err != nil {
		return nil, err
	}
	amount, err := current.PaymentAmount(in.Amount)
	if err != nil {
		return nil, err
	}

	txID := s.newID()
	req, err := s.mutateRequest(ctx, requestID, func(r *domain.MoneyRequest) error {
		if !r.Remaining().Equal(current.Remaining()) {
			return domain.BusinessRulef("money request changed, please retry")
		}
		return r.BeginPayment(payerUserID, txID, s.now())
	})
	if err != nil {
		return nil, err
	}

	kind := domain.KindRequestPayment
	if req.IsSplitBill {
		kind = domain.KindSplitPayment
	}
	message := in.Message
	if message == "" {
		message = "Payment for: " + req.Description
	}
	tx, err := s.initiate(ctx, initiation{
		id:              txID,
		senderUserID:    payerUserID,
		recipient:       &domain.Contact{UserID: req.RequesterUserID},
		kind:            kind,
		amount:          amount,
		sourceAccountID: in.SourceAccountID,
		destinationID:   req.DestinationAccountID,
		message:         message,
		notifySender:    true,
		notifyRecipient: true,
		idempotencyKey:  in.IdempotencyKey,
		requestID:       req.ID,
		splitBillID:     req.SplitBillID,
	})
	if err != nil {
		if _, clearErr := s.mutateRequest(ctx, requestID, func(r *domain.MoneyRequest) error {
			if !r.PaymentFailed(txID, s.now()) {
				return errUnchanged
			}
			return nil
		}); clearErr != nil {
			s.logger.Error("clear in-flight payment", "request_id", requestID, "error", clearErr)
		}
		return nil, err
	}
	if tx.ID != txID {
		// Replayed idempotency key from a concurrent caller.
		if _, clearErr := s.mutateRequest(ctx, requestID, func(r *domain.MoneyRequest) error {
			if !r.PaymentFailed(txID, s.now()) {
				return errUnchanged
			}
			return nil
		}); clearErr != nil {
			s.logger.Error("clear in-flight payment", "request_id", requestID, "error", clearErr)
		}
	}

	s.logger.Info("money request accepted", "request_id", req.ID, "transaction_id", tx.ID)
	return &RespondResult{Request: req, Transaction: tx}, nil
}

// CancelRequest withdraws a request. Only the requester may cancel.
func (s *Service) CancelRequest(ctx context.Context, requesterUserID, requestID string) (*domain.MoneyRequest, error) {
	req, err := s.mutateRequest(ctx, requestID, func(r *domain.MoneyRequest) error {
		return r.Cancel(requesterUserID, s.now())
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("money request cancelled", "request_id", req.ID)
	s.notify(ctx, req.PayerUserID, events.EventRequestCancelled, requestPayload(req))
	return req, nil
}

// GetRequest returns a request visible to the user.
func (s *Service) GetRequest(ctx context.Context, userID, requestID string) (*domain.MoneyRequest, error) {
	req, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !req.VisibleTo(userID) {
		return nil, domain.NotFound("money request")
	}
	return req, nil
}

// RequestList is a page of requests with the caller's pending counts.
type RequestList struct {
	Requests        []*domain.MoneyRequest `json:"requests"`
	Total           int                    `json:"total"`
	PendingIncoming int                    `json:"pending_incoming"`
	PendingOutgoing int                    `json:"pending_outgoing"`
}

// ListRequests lists the user's requests.
func (s *Service) ListRequests(ctx context.Context, f store.RequestFilter) (*RequestList, error) {
	if f.UserID == "" {
		return nil, domain.Validationf("user is required")
	}
	f.Page = toPage(f.Limit, f.Offset)
	reqs, total, err := s.store.ListRequests(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	incoming, err := s.store.CountPendingRequests(ctx, f.UserID, store.DirectionIncoming)
	if err != nil {
		return nil, fmt.Errorf("count incoming requests: %w", err)
	}
	outgoing, err := s.store.CountPendingRequests(ctx, f.UserID, store.DirectionOutgoing)
	if err != nil {
		return nil, fmt.Errorf("count outgoing requests: %w", err)
	}
	return &RequestList{Requests: reqs, Total: total, PendingIncoming: incoming, PendingOutgoing: outgoing}, nil
}

func requestPayload(r *domain.MoneyRequest) events.RequestData {
	return events.RequestData{
		RequestID:   r.ID,
		RequesterID: r.RequesterUserID,
		Amount:      r.Amount.String(),
		Currency:    string(r.Amount.Currency),
		Description: r.Description,
		Status:      string(r.Status),
	}
}
