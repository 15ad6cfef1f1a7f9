package p2p

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"p2pplatform/internal/common/money"
	"p2pplatform/internal/p2p/domain"
	"p2pplatform/internal/p2p/store"
)

func TestRequest_AcceptSettlesAndCompletes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req, err := h.svc.CreateRequest(ctx, CreateRequestInput{
		RequesterUserID:      "bob",
		Payer:                email("alice@example.com"),
		Amount:               usd("40.00"),
		Description:          "Concert tickets",
		DestinationAccountID: "bob-usd",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RequestPending, req.Status)
	assert.Equal(t, "alice", req.PayerUserID)
	assert.True(t, h.notifier.has("alice", "p2p.request.received"))

	_, err = h.svc.RespondToRequest(ctx, "carol", req.ID, RespondInput{Action: domain.ActionAccept, SourceAccountID: "carol-usd"})
	assert.ErrorIs(t, err, domain.ErrNotFound, "only the payer may respond")

	res, err := h.svc.RespondToRequest(ctx, "alice", req.ID, RespondInput{Action: domain.ActionAccept, SourceAccountID: "alice-usd"})
	require.NoError(t, err)
	require.NotNil(t, res.Transaction)
	tx := res.Transaction
	assert.Equal(t, domain.KindRequestPayment, tx.Kind)
	assert.Equal(t, req.ID, tx.RequestID)
	assert.Equal(t, "bob-usd", tx.DestinationAccountID)
	assert.Equal(t, "Payment for: Concert tickets", tx.Message)
	assert.Equal(t, tx.ID, res.Request.InFlightTransactionID)

	h.settle(t, tx.ID, OutcomeApproved)

	got, err := h.svc.GetRequest(ctx, "bob", req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestAccepted, got.Status)
	assert.Equal(t, usd("40.00"), got.TotalReceived)
	assert.Equal(t, usd("5040.00"), h.balance(t, "bob-usd").Posted)
	assert.True(t, h.notifier.has("bob", "p2p.request.paid"))

	// Responding again is an illegal transition and leaves the request alone.
	_, err = h.svc.RespondToRequest(ctx, "alice", req.ID, RespondInput{Action: domain.ActionDecline})
	assert.ErrorIs(t, err, domain.ErrBusinessRule)
	after, err := h.svc.GetRequest(ctx, "alice", req.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Version, after.Version)
	assert.Equal(t, domain.RequestAccepted, after.Status)
}

func TestRequest_FailedPaymentLeavesRequestOpen(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req, err := h.svc.CreateRequest(ctx, CreateRequestInput{
		RequesterUserID: "bob", Payer: email("alice@example.com"), Amount: usd("40.00"),
		Description: "Lunch", DestinationAccountID: "bob-usd",
	})
	require.NoError(t, err)

	res, err := h.svc.RespondToRequest(ctx, "alice", req.ID, RespondInput{Action: domain.ActionAccept, SourceAccountID: "alice-usd"})
	require.NoError(t, err)

	_, err = h.svc.RespondToRequest(ctx, "alice", req.ID, RespondInput{Action: domain.ActionAccept, SourceAccountID: "alice-usd"})
	assert.ErrorIs(t, err, domain.ErrBusinessRule, "a payment is already in flight")

	h.settle(t, res.Transaction.ID, OutcomeRejected)

	got, err := h.svc.GetRequest(ctx, "alice", req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestPending, got.Status)
	assert.Empty(t, got.InFlightTransactionID)

	declined, err := h.svc.RespondToRequest(ctx, "alice", req.ID, RespondInput{Action: domain.ActionDecline})
	require.NoError(t, err)
	assert.Equal(t, domain.RequestDeclined, declined.Request.Status)
	assert.True(t, h.notifier.has("bob", "p2p.request.declined"))
}

func TestRequest_CancelAndList(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	create := func(payer string) *domain.MoneyRequest {
		req, err := h.svc.CreateRequest(ctx, CreateRequestInput{
			RequesterUserID: "bob", Payer: email(payer), Amount: usd("15.00"),
			Description: "Coffee", DestinationAccountID: "bob-usd",
		})
		require.NoError(t, err)
		return req
	}
	first := create("alice@example.com")
	create("carol@example.com")

	_, err := h.svc.CancelRequest(ctx, "alice", first.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound, "only the requester may cancel")
	cancelled, err := h.svc.CancelRequest(ctx, "bob", first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestCancelled, cancelled.Status)

	list, err := h.svc.ListRequests(ctx, store.RequestFilter{UserID: "bob", Direction: store.DirectionOutgoing})
	require.NoError(t, err)
	assert.Equal(t, 2, list.Total)
	assert.Equal(t, 1, list.PendingOutgoing)
	assert.Equal(t, 0, list.PendingIncoming)

	_, err = h.svc.GetRequest(ctx, "dana", first.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSplitBill_CollectedAfterEveryShare(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	bill, reqs, err := h.svc.CreateSplitBill(ctx, CreateSplitBillInput{
		CreatorUserID:  "alice",
		Title:          "Dinner",
		TotalAmount:    usd("90.00"),
		IncludeCreator: true,
		Participants: []SplitParticipantInput{
			{Contact: email("bob@example.com")},
			{Contact: email("carol@example.com")},
		},
		DestinationAccountID: "alice-usd",
	})
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, domain.SplitEqual, bill.SplitType)
	assert.Equal(t, usd("30.00"), bill.TotalCollected, "creator's share counts as collected")
	for _, r := range reqs {
		assert.Equal(t, usd("30.00"), r.Amount)
		assert.True(t, r.IsSplitBill)
		assert.Equal(t, bill.ID, r.SplitBillID)
		assert.Equal(t, "Your share of: Dinner", r.Description)
	}

	pay := func(payer string) {
		for _, r := range reqs {
			if r.PayerUserID != payer {
				continue
			}
			res, err := h.svc.RespondToRequest(ctx, payer, r.ID, RespondInput{Action: domain.ActionAccept, SourceAccountID: payer + "-usd"})
			require.NoError(t, err)
			assert.Equal(t, domain.KindSplitPayment, res.Transaction.Kind)
			h.settle(t, res.Transaction.ID, OutcomeApproved)
		}
	}

	pay("bob")
	got, err := h.svc.GetSplitBill(ctx, "carol", bill.ID)
	require.NoError(t, err)
	assert.Equal(t, usd("60.00"), got.TotalCollected)
	assert.False(t, got.IsFullyCollected())

	pay("carol")
	got, err = h.svc.GetSplitBill(ctx, "alice", bill.ID)
	require.NoError(t, err)
	assert.Equal(t, usd("90.00"), got.TotalCollected)
	assert.True(t, got.IsFullyCollected())
	assert.True(t, h.notifier.has("alice", "p2p.split.collected"))

	active, err := h.svc.ListSplitBills(ctx, "alice", true, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, active)
	all, err := h.svc.ListSplitBills(ctx, "bob", false, 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = h.svc.GetSplitBill(ctx, "dana", bill.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSplitBill_PartialSharePayments(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	bill, reqs, err := h.svc.CreateSplitBill(ctx, CreateSplitBillInput{
		CreatorUserID:  "alice",
		Title:          "Groceries",
		TotalAmount:    usd("90.00"),
		IncludeCreator: true,
		Participants: []SplitParticipantInput{
			{Contact: email("bob@example.com")},
			{Contact: email("carol@example.com")},
		},
		DestinationAccountID: "alice-usd",
	})
	require.NoError(t, err)
	var share *domain.MoneyRequest
	for _, r := range reqs {
		if r.PayerUserID == "bob" {
			share = r
		}
	}
	require.NotNil(t, share)

	ten := usd("10.00")
	res, err := h.svc.RespondToRequest(ctx, "bob", share.ID, RespondInput{Action: domain.ActionAccept, SourceAccountID: "bob-usd", Amount: &ten})
	require.NoError(t, err)
	assert.Equal(t, ten, res.Transaction.Amount)
	h.settle(t, res.Transaction.ID, OutcomeApproved)

	req, err := h.svc.GetRequest(ctx, "bob", share.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestPartiallyPaid, req.Status)
	assert.Equal(t, usd("10.00"), req.TotalReceived)
	got, err := h.svc.GetSplitBill(ctx, "alice", bill.ID)
	require.NoError(t, err)
	assert.Equal(t, usd("40.00"), got.TotalCollected)

	tooMuch := usd("25.00")
	_, err = h.svc.RespondToRequest(ctx, "bob", share.ID, RespondInput{Action: domain.ActionAccept, SourceAccountID: "bob-usd", Amount: &tooMuch})
	assert.ErrorIs(t, err, domain.ErrValidation, "more than the remaining 20.00")

	// Without an amount the rest of the share is paid.
	res, err = h.svc.RespondToRequest(ctx, "bob", share.ID, RespondInput{Action: domain.ActionAccept, SourceAccountID: "bob-usd"})
	require.NoError(t, err)
	assert.Equal(t, usd("20.00"), res.Transaction.Amount)
	h.settle(t, res.Transaction.ID, OutcomeApproved)

	req, err = h.svc.GetRequest(ctx, "bob", share.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestCompleted, req.Status)
	assert.Equal(t, usd("30.00"), req.TotalReceived)
	assert.Len(t, req.TransactionIDs, 2)
	got, err = h.svc.GetSplitBill(ctx, "alice", bill.ID)
	require.NoError(t, err)
	assert.Equal(t, usd("60.00"), got.TotalCollected)
	assert.False(t, got.IsFullyCollected())
	assert.Equal(t, usd("5030.00"), h.balance(t, "alice-usd").Posted)
}

func TestRequest_AcceptAfterDeclineIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req, err := h.svc.CreateRequest(ctx, CreateRequestInput{
		RequesterUserID: "bob", Payer: email("alice@example.com"), Amount: usd("40.00"),
		Description: "Lunch", DestinationAccountID: "bob-usd",
	})
	require.NoError(t, err)

	declined, err := h.svc.RespondToRequest(ctx, "alice", req.ID, RespondInput{Action: domain.ActionDecline})
	require.NoError(t, err)
	assert.Equal(t, domain.RequestDeclined, declined.Request.Status)

	_, err = h.svc.RespondToRequest(ctx, "alice", req.ID, RespondInput{Action: domain.ActionAccept, SourceAccountID: "alice-usd"})
	assert.ErrorIs(t, err, domain.ErrBusinessRule)

	got, err := h.svc.GetRequest(ctx, "alice", req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestDeclined, got.Status)
	assert.Equal(t, declined.Request.Version, got.Version)
	assert.Empty(t, got.InFlightTransactionID)
	assert.Empty(t, got.TransactionIDs)
	assert.True(t, h.balance(t, "alice-usd").Held.IsZero())
	assert.Empty(t, h.queue.ids)
}

func TestSplitBill_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	share := usd("50.00")

	_, _, err := h.svc.CreateSplitBill(ctx, CreateSplitBillInput{
		CreatorUserID: "alice", Title: "Taxi", TotalAmount: usd("90.00"),
		Participants:         []SplitParticipantInput{{Contact: email("bob@example.com")}},
		DestinationAccountID: "alice-usd",
	})
	assert.ErrorIs(t, err, domain.ErrValidation, "needs two participants")

	_, _, err = h.svc.CreateSplitBill(ctx, CreateSplitBillInput{
		CreatorUserID: "alice", Title: "Taxi", TotalAmount: usd("90.00"),
		Participants: []SplitParticipantInput{
			{Contact: email("bob@example.com"), Share: &share},
			{Contact: email("carol@example.com"), Share: &share},
		},
		DestinationAccountID: "alice-usd",
	})
	assert.ErrorIs(t, err, domain.ErrValidation, "shares must add up to the total")
}

func TestPaymentLink_MaxUsesUnderConcurrency(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	one := 1
	fixed := usd("25.00")

	link, err := h.svc.CreatePaymentLink(ctx, CreateLinkInput{
		OwnerUserID:          "alice",
		Title:                "Yoga class",
		Currency:             money.USD,
		IsAmountFixed:        true,
		Amount:               &fixed,
		DestinationAccountID: "alice-usd",
		MaxUses:              &one,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.hoardrun.com/p/"+link.PublicID, link.PublicURL)

	payers := []string{"bob", "carol"}
	errs := make([]error, len(payers))
	var wg sync.WaitGroup
	for i, payer := range payers {
		wg.Add(1)
		go func(i int, payer string) {
			defer wg.Done()
			_, errs[i] = h.svc.PayViaLink(ctx, payer, link.PublicID, PayLinkInput{SourceAccountID: payer + "-usd"})
		}(i, payer)
	}
	wg.Wait()

	var ok, capped int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case assert.ErrorIs(t, err, domain.ErrLinkCapacity):
			capped++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, capped)

	got, err := h.svc.GetPaymentLink(ctx, "alice", link.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentUses)
	require.Len(t, got.TransactionIDs, 1)

	h.settle(t, got.TransactionIDs[0], OutcomeApproved)
	got, err = h.svc.GetPaymentLink(ctx, "alice", link.ID)
	require.NoError(t, err)
	assert.Equal(t, usd("25.00"), got.TotalReceived)
	assert.True(t, h.notifier.has("alice", "p2p.link.paid"))

	view, err := h.svc.GetPublicLink(ctx, link.PublicID)
	require.NoError(t, err)
	assert.False(t, view.Available)
}

func TestPaymentLink_IdempotencyKeyBoundToLink(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	fixed := usd("25.00")
	create := func(title string) *domain.PaymentLink {
		link, err := h.svc.CreatePaymentLink(ctx, CreateLinkInput{
			OwnerUserID: "alice", Title: title, Currency: money.USD,
			IsAmountFixed: true, Amount: &fixed, DestinationAccountID: "alice-usd",
		})
		require.NoError(t, err)
		return link
	}
	yoga, pilates := create("Yoga class"), create("Pilates class")

	in := PayLinkInput{SourceAccountID: "bob-usd", IdempotencyKey: "bob-class-1"}
	first, err := h.svc.PayViaLink(ctx, "bob", yoga.PublicID, in)
	require.NoError(t, err)
	assert.Equal(t, yoga.ID, first.LinkID)

	again, err := h.svc.PayViaLink(ctx, "bob", yoga.PublicID, in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	_, err = h.svc.PayViaLink(ctx, "bob", pilates.PublicID, in)
	assert.ErrorIs(t, err, domain.ErrValidation)

	got, err := h.svc.GetPaymentLink(ctx, "alice", pilates.ID)
	require.NoError(t, err)
	assert.Zero(t, got.CurrentUses)
	assert.Empty(t, got.TransactionIDs)
	assert.Equal(t, usd("25.00"), h.balance(t, "bob-usd").Held)
}

func TestPaymentLink_FailedPaymentFreesSlot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	one := 1
	lo, hi := usd("5.00"), usd("50.00")

	link, err := h.svc.CreatePaymentLink(ctx, CreateLinkInput{
		OwnerUserID: "alice", Title: "Tips", Currency: money.USD,
		MinAmount: &lo, MaxAmount: &hi, DestinationAccountID: "alice-usd",
		MaxUses: &one, RequirePayerInfo: true,
	})
	require.NoError(t, err)

	amount := usd("60.00")
	_, err = h.svc.PayViaLink(ctx, "bob", link.PublicID, PayLinkInput{Amount: &amount, SourceAccountID: "bob-usd", PayerName: "Bob", PayerEmail: "bob@example.com"})
	assert.ErrorIs(t, err, domain.ErrValidation, "above the maximum")

	amount = usd("20.00")
	_, err = h.svc.PayViaLink(ctx, "bob", link.PublicID, PayLinkInput{Amount: &amount, SourceAccountID: "bob-usd"})
	assert.ErrorIs(t, err, domain.ErrValidation, "payer info is required")

	tx, err := h.svc.PayViaLink(ctx, "bob", link.PublicID, PayLinkInput{Amount: &amount, SourceAccountID: "bob-usd", PayerName: "Bob", PayerEmail: "bob@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "Bob", tx.PayerName)
	h.settle(t, tx.ID, OutcomeRejected)

	got, err := h.svc.GetPaymentLink(ctx, "alice", link.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.CurrentUses)

	owned, err := h.svc.contacts.List(ctx, "alice", false)
	require.NoError(t, err)
	require.Len(t, owned, 1, "link payer is added to the owner's contacts")
	assert.Equal(t, "bob", owned[0].UserID)
}

func TestPaymentLink_Deactivate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	fixed := usd("10.00")
	link, err := h.svc.CreatePaymentLink(ctx, CreateLinkInput{
		OwnerUserID: "alice", Title: "Donations", Currency: money.USD,
		IsAmountFixed: true, Amount: &fixed, DestinationAccountID: "alice-usd",
	})
	require.NoError(t, err)

	_, err = h.svc.DeactivatePaymentLink(ctx, "bob", link.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	for i := 0; i < 2; i++ {
		got, err := h.svc.DeactivatePaymentLink(ctx, "alice", link.ID)
		require.NoError(t, err)
		assert.False(t, got.IsActive)
	}

	_, err = h.svc.PayViaLink(ctx, "bob", link.PublicID, PayLinkInput{SourceAccountID: "bob-usd"})
	assert.ErrorIs(t, err, domain.ErrBusinessRule)
}

func TestAnalyticsAndSummary(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	start := h.clock.Now().Add(-time.Hour)

	h.settle(t, h.send(t, "alice", "bob@example.com", "500.00").ID, OutcomeApproved)
	h.settle(t, h.send(t, "bob", "alice@example.com", "100.00").ID, OutcomeApproved)
	h.send(t, "alice", "carol@example.com", "10.00")

	a, err := h.svc.GetAnalytics(ctx, "alice", start, h.clock.Now().Add(time.Hour), money.USD)
	require.NoError(t, err)
	assert.Equal(t, 2, a.TransactionCount)
	assert.Equal(t, usd("500.00"), a.TotalSent)
	assert.Equal(t, usd("100.00"), a.TotalReceived)
	assert.Equal(t, usd("0.50"), a.FeesPaid)
	assert.Equal(t, usd("300.00"), a.AverageAmount)
	assert.Equal(t, 2, a.ByKind[domain.KindSend])

	s, err := h.svc.GetSummary(ctx, "alice", money.USD)
	require.NoError(t, err)
	assert.Equal(t, usd("500.00"), s.SentThisMonth)
	assert.Equal(t, 1, s.PendingTransactions)
	assert.Equal(t, 3, s.RecentTransactions)

	lf, err := h.svc.GetLimitsAndFees(money.USD)
	require.NoError(t, err)
	assert.Len(t, lf.Fees, 3)
}
