package p2p

import (
	"context"
	"errors"
	"fmt"
	"time"

	"p2pplatform/internal/common/events"
	"p2pplatform/internal/common/money"
	"p2pplatform/internal/p2p/domain"
	"p2pplatform/internal/p2p/store"
)

// SendMoneyRequest is a direct transfer to a contact.
type SendMoneyRequest struct {
	SenderUserID    string
	Recipient       domain.ContactRef
	Amount          money.Money
	SourceAccountID string
	Message         string
	PrivateNote     string
	NotifySender    bool
	NotifyRecipient bool
	IdempotencyKey  string
}

// initiation is everything the transfer path needs, whichever engine started it.
type initiation struct {
	id              string
	senderUserID    string
	recipient       *domain.Contact
	kind            domain.TransactionKind
	amount          money.Money
	sourceAccountID string
	destinationID   string
	message         string
	privateNote     string
	notifySender    bool
	notifyRecipient bool
	idempotencyKey  string
	requestID       string
	splitBillID     string
	linkID          string
	payerName       string
	payerEmail      string
}

// SendMoney reserves the total on the sender's account, records a PENDING
// transaction and queues it for settlement. It returns before settlement.
// Repeating a call with the same idempotency key returns the original
// transaction.
func (s *Service) SendMoney(ctx context.Context, req SendMoneyRequest) (*domain.Transaction, error) {
	if !req.Amount.IsPositive() {
		return nil, domain.Validationf("amount must be positive")
	}
	if err := s.verifyOwnership(ctx, req.SenderUserID, req.SourceAccountID); err != nil {
		return nil, err
	}

	run := func() (*domain.Transaction, error) {
		if tx, ok, err := s.existingByKey(ctx, req.SenderUserID, req.IdempotencyKey); err != nil || ok {
			return tx, err
		}

		resolved, err := s.contacts.Resolve(ctx, req.SenderUserID, req.Recipient)
		if err != nil {
			return nil, err
		}
		if resolved.Contact.UserID != "" && resolved.Contact.UserID == req.SenderUserID {
			return nil, domain.Validationf("cannot send money to yourself")
		}

		tx, err := s.initiate(ctx, initiation{
			senderUserID:    req.SenderUserID,
			recipient:       resolved.Contact,
			kind:            domain.KindSend,
			amount:          req.Amount,
			sourceAccountID: req.SourceAccountID,
			destinationID:   resolved.Entry.DefaultAccountID,
			message:         req.Message,
			privateNote:     req.PrivateNote,
			notifySender:    req.NotifySender,
			notifyRecipient: req.NotifyRecipient,
			idempotencyKey:  req.IdempotencyKey,
		})
		if err != nil {
			return nil, err
		}
		s.contacts.RecordTransaction(ctx, resolved.Contact.ID)
		return tx, nil
	}

	if req.IdempotencyKey == "" {
		return run()
	}
	v, err, _ := s.sends.Do(req.SenderUserID+"\x00"+req.IdempotencyKey, func() (any, error) {
		return run()
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Transaction), nil
}

func (s *Service) existingByKey(ctx context.Context, senderUserID, key string) (*domain.Transaction, bool, error) {
	if key == "" {
		return nil, false, nil
	}
	tx, err := s.store.GetTransactionByIdempotencyKey(ctx, senderUserID, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup idempotency key: %w", err)
	}
	return tx, true, nil
}

// initiate is the shared transfer path. The caller has verified ownership of
// the source account.
func (s *Service) initiate(ctx context.Context, in initiation) (*domain.Transaction, error) {
	if !s.limits.AllowsAmount(in.amount) {
		return nil, domain.Validationf("amount exceeds the per-transaction limit of %s", s.limits.PerTransaction.StringFixed(2))
	}
	fee, err := s.fees.Fee(in.amount)
	if err != nil {
		return nil, fmt.Errorf("computing fee: %w", err)
	}

	id := in.id
	if id == "" {
		id = s.newID()
	}
	var claimWindow time.Duration
	if in.destinationID == "" && (in.recipient == nil || in.recipient.UserID == "") {
		claimWindow = s.config.ClaimWindow
	}
	tx, err := domain.NewTransaction(domain.NewTransactionParams{
		ID:                   id,
		SenderUserID:         in.senderUserID,
		Recipient:            in.recipient,
		Kind:                 in.kind,
		Amount:               in.amount,
		Fee:                  fee,
		SourceAccountID:      in.sourceAccountID,
		DestinationAccountID: in.destinationID,
		Message:              in.message,
		PrivateNote:          in.privateNote,
		NotifySender:         in.notifySender,
		NotifyRecipient:      in.notifyRecipient,
		IdempotencyKey:       in.idempotencyKey,
		RequestID:            in.requestID,
		SplitBillID:          in.splitBillID,
		LinkID:               in.linkID,
		PayerName:            in.payerName,
		PayerEmail:           in.payerEmail,
		ClaimWindow:          claimWindow,
		Now:                  s.now(),
	})
	if err != nil {
		return nil, err
	}

	reservationID, err := s.ledger.ReserveDebit(ctx, tx.SourceAccountID, tx.Total)
	if err != nil {
		return nil, ledgerError(err)
	}
	tx.ReservationID = reservationID

	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		_ = s.releaseReservation(ctx, reservationID)
		if errors.Is(err, store.ErrDuplicate) && tx.IdempotencyKey != "" {
			// Another process won the race for this key.
			if existing, ok, lookupErr := s.existingByKey(ctx, tx.SenderUserID, tx.IdempotencyKey); lookupErr == nil && ok {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	s.logger.Info("transaction initiated",
		"transaction_id", tx.ID,
		"kind", tx.Kind,
		"amount", tx.Amount.String(),
		"fee", tx.Fee.String(),
		"currency", tx.Amount.Currency,
		"requires_verification", tx.RequiresVerification,
	)

	if err := s.queue.Enqueue(ctx, tx.ID); err != nil {
		// The sweeper requeues stale PENDING transactions.
		s.logger.Warn("enqueue settlement failed", "transaction_id", tx.ID, "error", err)
	}
	return tx, nil
}

// CancelTransaction cancels a PENDING or SENT transaction and releases its
// reservation. Only the sender may cancel.
func (s *Service) CancelTransaction(ctx context.Context, userID, txID string) (*domain.Transaction, error) {
	tx, err := s.mutateTransaction(ctx, txID, func(tx *domain.Transaction) error {
		if tx.SenderUserID != userID {
			return domain.NotFound("transaction")
		}
		return tx.MarkCancelled(s.now())
	})
	if err != nil {
		return nil, err
	}
	if err := s.releaseTransaction(ctx, tx); err != nil {
		return nil, err
	}
	s.logger.Info("transaction cancelled", "transaction_id", tx.ID)
	s.afterUnsettled(ctx, tx)
	s.notify(ctx, tx.RecipientUserID, events.EventTransferCancelled, transferPayload(tx, tx.SenderUserID))
	return tx, nil
}

// ClaimTransaction lets a recipient who registered after a transfer was sent
// collect it into one of their accounts.
func (s *Service) ClaimTransaction(ctx context.Context, userID, txID, destinationAccountID string) (*domain.Transaction, error) {
	current, err := s.loadTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if current.Status != domain.TxSent || current.RecipientContactID == "" {
		return nil, domain.NotFound("transaction")
	}
	contact, err := s.store.GetContact(ctx, current.RecipientContactID)
	if err != nil {
		return nil, fmt.Errorf("get recipient contact: %w", err)
	}
	resolved, err := s.contacts.Resolve(ctx, current.SenderUserID, contact.Ref())
	if err != nil {
		return nil, err
	}
	if resolved.Entry.UserID == "" || resolved.Entry.UserID != userID {
		return nil, domain.NotFound("transaction")
	}
	if err := s.verifyOwnership(ctx, userID, destinationAccountID); err != nil {
		return nil, err
	}

	tx, err := s.mutateTransaction(ctx, txID, func(tx *domain.Transaction) error {
		if tx.Status != domain.TxSent {
			return domain.BusinessRulef("transaction is %s and can no longer be claimed", tx.Status)
		}
		tx.RecipientUserID = userID
		tx.DestinationAccountID = destinationAccountID
		return tx.MarkSettled(s.now())
	})
	if err != nil {
		return nil, err
	}
	if err := s.commitLedger(ctx, tx); err != nil {
		// The claim is recorded; the settlement worker finishes the commit.
		if qerr := s.queue.Enqueue(ctx, tx.ID); qerr != nil {
			s.logger.Warn("queue claimed transaction", "transaction_id", tx.ID, "error", qerr)
		}
		return nil, err
	}
	s.notify(ctx, tx.SenderUserID, events.EventTransferCompleted, transferPayload(tx, userID))
	return tx, nil
}

// GetTransaction returns a transaction the user is party to.
func (s *Service) GetTransaction(ctx context.Context, userID, txID string) (*domain.Transaction, error) {
	tx, err := s.loadTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if !tx.Involves(userID) {
		return nil, domain.NotFound("transaction")
	}
	return tx, nil
}

// ListTransactions lists the user's transactions.
func (s *Service) ListTransactions(ctx context.Context, f store.TransactionFilter) ([]*domain.Transaction, int, error) {
	if f.UserID == "" {
		return nil, 0, domain.Validationf("user is required")
	}
	f.Page = toPage(f.Limit, f.Offset)
	txs, total, err := s.store.ListTransactions(ctx, f)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	return txs, total, nil
}

// Quote prices a prospective transfer.
type Quote struct {
	Amount           money.Money            `json:"amount"`
	Fee              money.Money            `json:"fee"`
	Total            money.Money            `json:"total"`
	Kind             domain.TransactionKind `json:"kind"`
	DeliveryEstimate string                 `json:"delivery_estimate"`
	ExpiresAt        time.Time              `json:"expires_at"`
}

// GetQuote returns fee and total for sending amount.
func (s *Service) GetQuote(_ context.Context, amount money.Money, kind domain.TransactionKind) (*Quote, error) {
	if !amount.Currency.Valid() {
		return nil, domain.Validationf("unsupported currency %q", amount.Currency)
	}
	if !amount.IsPositive() {
		return nil, domain.Validationf("amount must be positive")
	}
	if kind == "" {
		kind = domain.KindSend
	}
	if !kind.Valid() {
		return nil, domain.Validationf("unknown transaction kind %q", kind)
	}
	fee, err := s.fees.Fee(amount)
	if err != nil {
		return nil, fmt.Errorf("computing fee: %w", err)
	}
	return &Quote{
		Amount:           amount,
		Fee:              fee,
		Total:            amount.MustAdd(fee),
		Kind:             kind,
		DeliveryEstimate: "Instant",
		ExpiresAt:        s.now().Add(s.config.QuoteValidity),
	}, nil
}

// commitLedger posts a settled transaction's reservation once.
func (s *Service) commitLedger(ctx context.Context, tx *domain.Transaction) error {
	if tx.LedgerCommitted || tx.Status == domain.TxSent {
		return nil
	}
	if err := s.ledger.Commit(ctx, tx.ReservationID, tx.DestinationAccountID, tx.Fee); err != nil {
		return domain.External("ledger", err)
	}
	updated, err := s.mutateTransaction(ctx, tx.ID, func(t *domain.Transaction) error {
		if t.LedgerCommitted {
			return errUnchanged
		}
		t.LedgerCommitted = true
		t.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return err
	}
	*tx = *updated
	return nil
}

func transferPayload(tx *domain.Transaction, counterparty string) events.TransferData {
	return events.TransferData{
		TransactionID:  tx.ID,
		Kind:           string(tx.Kind),
		Status:         string(tx.Status),
		Amount:         tx.Amount.String(),
		Currency:       string(tx.Amount.Currency),
		CounterpartyID: counterparty,
		Message:        tx.Message,
		Reason:         tx.FailureReason,
	}
}
