package p2p

import (
	"context"
	"errors"
	"fmt"

	"p2pplatform/internal/common/events"
	"p2pplatform/internal/p2p/domain"
)

// Outcome is a clearing decision.
type Outcome string

const (
	OutcomeApproved  Outcome = "approved"
	OutcomeRejected  Outcome = "rejected"
	OutcomeTransient Outcome = "transient"
)

// Decision is what clearing said about a transaction.
type Decision struct {
	Outcome Outcome
	Reason  string
}

// SettlementCandidate loads a transaction for clearing. ok is false when the
// transaction no longer needs clearing.
func (s *Service) SettlementCandidate(ctx context.Context, txID string) (*domain.Transaction, bool, error) {
	tx, err := s.loadTransaction(ctx, txID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return tx, tx.Status == domain.TxPending || tx.NeedsLedger(), nil
}

// ApplySettlement records a clearing decision and moves the money. The status
// is written first; when the ledger call then fails the transaction is left
// with NeedsLedger set and ResumeSettlement finishes it later. A decision for
// a transaction that is no longer PENDING is ignored. The returned transaction
// is still PENDING when a transient failure should be retried.
func (s *Service) ApplySettlement(ctx context.Context, txID string, d Decision) (*domain.Transaction, error) {
	var changed bool
	tx, err := s.mutateTransaction(ctx, txID, func(tx *domain.Transaction) error {
		changed = false
		if tx.Status != domain.TxPending {
			return errUnchanged
		}
		now := s.now()
		changed = true
		switch d.Outcome {
		case OutcomeApproved:
			return tx.MarkSettled(now)
		case OutcomeRejected:
			return tx.MarkFailed(d.Reason, now)
		case OutcomeTransient:
			if tx.AttemptCount+1 >= s.config.MaxSettlementAttempts {
				return tx.MarkFailed("retries exhausted: "+d.Reason, now)
			}
			return tx.RecordAttempt(d.Reason, now)
		}
		return fmt.Errorf("unknown settlement outcome %q", d.Outcome)
	})
	if err != nil {
		return nil, err
	}

	if tx.Status == domain.TxPending {
		s.logger.Warn("settlement attempt failed",
			"transaction_id", tx.ID,
			"attempt", tx.AttemptCount,
			"reason", tx.FailureReason,
		)
		return tx, nil
	}
	if err := s.finishLedger(ctx, tx, changed); err != nil {
		return nil, err
	}
	return tx, nil
}

// ResumeSettlement finishes the commit or release of a transaction whose
// status was decided while the ledger call failed. It does nothing for
// transactions that are PENDING or already squared with the ledger.
func (s *Service) ResumeSettlement(ctx context.Context, txID string) (*domain.Transaction, error) {
	tx, err := s.loadTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if !tx.NeedsLedger() {
		return tx, nil
	}
	if err := s.finishLedger(ctx, tx, false); err != nil {
		return nil, err
	}
	s.logger.Info("ledger step resumed", "transaction_id", tx.ID, "status", tx.Status)
	return tx, nil
}

// finishLedger commits or releases the reservation to match tx's status and
// then updates the request, bill or link it belongs to. Notifications go out
// once, when the status changed or the money actually moved.
func (s *Service) finishLedger(ctx context.Context, tx *domain.Transaction, changed bool) error {
	moved := tx.NeedsLedger()
	switch tx.Status {
	case domain.TxCompleted, domain.TxReceived:
		if err := s.commitLedger(ctx, tx); err != nil {
			return err
		}
		s.afterSettled(ctx, tx)
	case domain.TxFailed, domain.TxCancelled, domain.TxExpired:
		if moved {
			if err := s.releaseTransaction(ctx, tx); err != nil {
				return err
			}
		}
		s.afterUnsettled(ctx, tx)
	}

	if changed || moved {
		s.logger.Info("transaction settled", "transaction_id", tx.ID, "status", tx.Status, "reason", tx.FailureReason)
		s.notifySettlement(ctx, tx)
	}
	return nil
}

// afterSettled feeds a delivered payment into the request, bill and link it
// belongs to. Each update is idempotent per transaction id.
func (s *Service) afterSettled(ctx context.Context, tx *domain.Transaction) {
	now := s.now()
	if tx.RequestID != "" {
		var applied bool
		req, err := s.mutateRequest(ctx, tx.RequestID, func(r *domain.MoneyRequest) error {
			ok, err := r.ApplyPayment(tx.ID, tx.Amount, now)
			if err != nil {
				return err
			}
			if applied = ok; !ok {
				return errUnchanged
			}
			return nil
		})
		if err != nil {
			s.logger.Error("apply request payment", "transaction_id", tx.ID, "request_id", tx.RequestID, "error", err)
		} else if applied {
			s.notify(ctx, req.RequesterUserID, events.EventRequestPaid, requestPayload(req))
		}
	}
	if tx.SplitBillID != "" {
		var applied bool
		bill, err := s.mutateSplitBill(ctx, tx.SplitBillID, func(b *domain.SplitBill) error {
			ok, err := b.ApplyCollection(tx.ID, tx.Amount, now)
			if err != nil {
				return err
			}
			if applied = ok; !ok {
				return errUnchanged
			}
			return nil
		})
		if err != nil {
			s.logger.Error("apply split collection", "transaction_id", tx.ID, "split_bill_id", tx.SplitBillID, "error", err)
		} else if applied && bill.IsFullyCollected() {
			s.notify(ctx, bill.CreatorUserID, events.EventSplitBillCollected, splitPayload(bill, nil))
		}
	}
	if tx.LinkID != "" {
		var applied bool
		link, err := s.mutateLink(ctx, tx.LinkID, func(l *domain.PaymentLink) error {
			ok, err := l.RecordPayment(tx.ID, tx.Amount, now)
			if err != nil {
				return err
			}
			if applied = ok; !ok {
				return errUnchanged
			}
			return nil
		})
		if err != nil {
			s.logger.Error("record link payment", "transaction_id", tx.ID, "link_id", tx.LinkID, "error", err)
		} else if applied {
			s.notify(ctx, link.OwnerUserID, events.EventLinkPaid, events.LinkPaidData{
				LinkID:        link.ID,
				TransactionID: tx.ID,
				Amount:        tx.Amount.String(),
				Currency:      string(tx.Amount.Currency),
				PayerName:     tx.PayerName,
			})
		}
	}
}

// afterUnsettled frees whatever the failed transaction was holding: the
// request's in-flight marker and the link's use slot.
func (s *Service) afterUnsettled(ctx context.Context, tx *domain.Transaction) {
	now := s.now()
	if tx.RequestID != "" {
		_, err := s.mutateRequest(ctx, tx.RequestID, func(r *domain.MoneyRequest) error {
			if !r.PaymentFailed(tx.ID, now) {
				return errUnchanged
			}
			return nil
		})
		if err != nil {
			s.logger.Error("clear request payment", "transaction_id", tx.ID, "request_id", tx.RequestID, "error", err)
		}
	}
	if tx.LinkID != "" {
		_, err := s.mutateLink(ctx, tx.LinkID, func(l *domain.PaymentLink) error {
			if !l.Unclaim(tx.ID, now) {
				return errUnchanged
			}
			return nil
		})
		if err != nil {
			s.logger.Error("release link slot", "transaction_id", tx.ID, "link_id", tx.LinkID, "error", err)
		}
	}
}

func (s *Service) notifySettlement(ctx context.Context, tx *domain.Transaction) {
	switch tx.Status {
	case domain.TxCompleted, domain.TxReceived:
		if tx.NotifyRecipient {
			s.notify(ctx, tx.RecipientUserID, events.EventMoneyReceived, transferPayload(tx, tx.SenderUserID))
		}
		if tx.NotifySender {
			s.notify(ctx, tx.SenderUserID, events.EventTransferCompleted, transferPayload(tx, tx.RecipientUserID))
		}
	case domain.TxSent:
		if tx.NotifySender {
			s.notify(ctx, tx.SenderUserID, events.EventTransferPendingClaim, transferPayload(tx, ""))
		}
	case domain.TxFailed:
		s.notify(ctx, tx.SenderUserID, events.EventTransferFailed, transferPayload(tx, tx.RecipientUserID))
	case domain.TxExpired:
		s.notify(ctx, tx.SenderUserID, events.EventTransferExpired, transferPayload(tx, tx.RecipientUserID))
	}
}
