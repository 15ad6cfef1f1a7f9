package p2p

import (
	"context"
	"errors"
	"time"

	"p2pplatform/internal/common/events"
	"p2pplatform/internal/p2p/domain"
)

// SweepConfig bounds one sweep pass.
type SweepConfig struct {
	// Timeout fails PENDING transactions untouched for this long.
	Timeout time.Duration
	// RequeueAfter re-enqueues PENDING transactions untouched for this long.
	RequeueAfter time.Duration
	Batch        int
}

// SweepResult counts what a pass changed.
type SweepResult struct {
	LedgerResumed    int
	Requeued         int
	TimedOut         int
	ExpiredTransfers int
	ExpiredRequests  int
	ExpiredLinks     int
}

// Sweep finds work the settlement queue lost or time has overtaken: decided
// transactions whose ledger step failed, stale PENDING transactions, unclaimed
// SENT transfers, and expired requests and links. Errors on single items are
// logged and the pass continues.
func (s *Service) Sweep(ctx context.Context, cfg SweepConfig) (SweepResult, error) {
	var res SweepResult
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	now := s.now()

	unsquared, err := s.store.ListLedgerPending(ctx, now.Add(-cfg.RequeueAfter), cfg.Batch)
	if err != nil {
		return res, err
	}
	for _, tx := range unsquared {
		if _, err := s.ResumeSettlement(ctx, tx.ID); err != nil {
			s.logger.Warn("resume ledger step", "transaction_id", tx.ID, "error", err)
			continue
		}
		res.LedgerResumed++
	}

	stale, err := s.store.ListStalePending(ctx, now.Add(-cfg.RequeueAfter), cfg.Batch)
	if err != nil {
		return res, err
	}
	for _, tx := range stale {
		if cfg.Timeout > 0 && now.Sub(tx.InitiatedAt) >= cfg.Timeout {
			if s.timeOut(ctx, tx.ID) {
				res.TimedOut++
			}
			continue
		}
		if err := s.queue.Enqueue(ctx, tx.ID); err != nil {
			s.logger.Warn("requeue settlement", "transaction_id", tx.ID, "error", err)
			continue
		}
		res.Requeued++
	}

	sent, err := s.store.ListExpiredSent(ctx, now, cfg.Batch)
	if err != nil {
		return res, err
	}
	for _, tx := range sent {
		if s.expireTransfer(ctx, tx.ID) {
			res.ExpiredTransfers++
		}
	}

	reqs, err := s.store.ListExpiredRequests(ctx, now, cfg.Batch)
	if err != nil {
		return res, err
	}
	for _, r := range reqs {
		_, err := s.mutateRequest(ctx, r.ID, func(r *domain.MoneyRequest) error {
			return r.Expire(s.now())
		})
		if err != nil {
			if !errors.Is(err, domain.ErrBusinessRule) {
				s.logger.Error("expire request", "request_id", r.ID, "error", err)
			}
			continue
		}
		res.ExpiredRequests++
	}

	links, err := s.store.ListExpiredLinks(ctx, now, cfg.Batch)
	if err != nil {
		return res, err
	}
	for _, l := range links {
		if _, err := s.mutateLink(ctx, l.ID, func(l *domain.PaymentLink) error {
			if !l.Deactivate(s.now()) {
				return errUnchanged
			}
			return nil
		}); err != nil {
			s.logger.Error("deactivate expired link", "link_id", l.ID, "error", err)
			continue
		}
		res.ExpiredLinks++
	}

	if res != (SweepResult{}) {
		s.logger.Info("sweep finished",
			"ledger_resumed", res.LedgerResumed,
			"requeued", res.Requeued,
			"timed_out", res.TimedOut,
			"expired_transfers", res.ExpiredTransfers,
			"expired_requests", res.ExpiredRequests,
			"expired_links", res.ExpiredLinks,
		)
	}
	return res, nil
}

func (s *Service) timeOut(ctx context.Context, txID string) bool {
	tx, err := s.ApplySettlement(ctx, txID, Decision{Outcome: OutcomeRejected, Reason: "settlement timed out"})
	if err != nil {
		s.logger.Error("time out settlement", "transaction_id", txID, "error", err)
		return false
	}
	return tx.Status == domain.TxFailed
}

func (s *Service) expireTransfer(ctx context.Context, txID string) bool {
	var changed bool
	tx, err := s.mutateTransaction(ctx, txID, func(tx *domain.Transaction) error {
		changed = false
		if tx.Status != domain.TxSent {
			return errUnchanged
		}
		changed = true
		return tx.MarkExpired("not claimed before expiry", s.now())
	})
	if err != nil {
		s.logger.Error("expire transfer", "transaction_id", txID, "error", err)
		return false
	}
	if !changed {
		return false
	}
	if err := s.releaseTransaction(ctx, tx); err != nil {
		return false
	}
	s.afterUnsettled(ctx, tx)
	s.logger.Info("transfer expired", "transaction_id", tx.ID)
	s.notify(ctx, tx.SenderUserID, events.EventTransferExpired, transferPayload(tx, ""))
	return true
}
