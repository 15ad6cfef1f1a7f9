package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRequest(t *testing.T, split bool) *MoneyRequest {
	t.Helper()
	r, err := NewMoneyRequest(NewMoneyRequestParams{
		ID:                   "req-1",
		RequesterUserID:      "bob",
		Payer:                &Contact{ID: "c-1", UserID: "alice", DisplayName: "Alice"},
		Amount:               usd("40.00"),
		Description:          "Lunch",
		DestinationAccountID: "bob-usd",
		Now:                  epoch,
	})
	require.NoError(t, err)
	r.IsSplitBill = split
	return r
}

func TestNewMoneyRequest_Expiry(t *testing.T) {
	t.Parallel()

	r := newRequest(t, false)
	assert.Equal(t, epoch.Add(DefaultRequestExpiry), r.ExpiresAt)
	assert.Equal(t, RequestPending, r.Status)

	due := epoch.Add(48 * time.Hour)
	withDue, err := NewMoneyRequest(NewMoneyRequestParams{
		ID: "req-2", RequesterUserID: "bob", Payer: &Contact{UserID: "alice"},
		Amount: usd("10.00"), DestinationAccountID: "bob-usd", DueDate: &due, Now: epoch,
	})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 12, 23, 59, 59, 0, time.UTC), withDue.ExpiresAt)

	_, err = NewMoneyRequest(NewMoneyRequestParams{
		ID: "req-3", RequesterUserID: "bob", Payer: &Contact{UserID: "bob"},
		Amount: usd("10.00"), DestinationAccountID: "bob-usd", Now: epoch,
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestMoneyRequest_Cancel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		requester string
		status    RequestStatus
		inFlight  string
		wantErr   error
	}{
		{name: "pending", requester: "bob", status: RequestPending},
		{name: "partially paid", requester: "bob", status: RequestPartiallyPaid},
		{name: "not the requester", requester: "alice", status: RequestPending, wantErr: ErrNotFound},
		{name: "payment in flight", requester: "bob", status: RequestPending, inFlight: "tx-1", wantErr: ErrBusinessRule},
		{name: "already accepted", requester: "bob", status: RequestAccepted, wantErr: ErrBusinessRule},
		{name: "already declined", requester: "bob", status: RequestDeclined, wantErr: ErrBusinessRule},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRequest(t, true)
			r.Status = tt.status
			r.InFlightTransactionID = tt.inFlight
			err := r.Cancel(tt.requester, epoch.Add(time.Hour))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, tt.status, r.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, RequestCancelled, r.Status)
		})
	}
}

func TestMoneyRequest_Expire(t *testing.T) {
	t.Parallel()

	late := epoch.Add(DefaultRequestExpiry + time.Second)
	tests := []struct {
		name     string
		split    bool
		status   RequestStatus
		inFlight string
		now      time.Time
		want     RequestStatus
	}{
		{name: "pending past expiry", status: RequestPending, now: late, want: RequestExpired},
		{name: "split partially paid past expiry", split: true, status: RequestPartiallyPaid, now: late, want: RequestExpired},
		{name: "not yet expired", status: RequestPending, now: epoch.Add(time.Hour), want: RequestPending},
		{name: "payment in flight", status: RequestPending, inFlight: "tx-1", now: late, want: RequestPending},
		{name: "declined", status: RequestDeclined, now: late, want: RequestDeclined},
		{name: "accepted", status: RequestAccepted, now: late, want: RequestAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRequest(t, tt.split)
			r.Status = tt.status
			r.InFlightTransactionID = tt.inFlight
			err := r.Expire(tt.now)
			if tt.want != RequestExpired {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, r.Status)
		})
	}
}

func TestMoneyRequest_ApplyPayment(t *testing.T) {
	t.Parallel()

	t.Run("plain request is accepted in full", func(t *testing.T) {
		r := newRequest(t, false)
		require.NoError(t, r.BeginPayment("alice", "tx-1", epoch))
		applied, err := r.ApplyPayment("tx-1", usd("40.00"), epoch)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, RequestAccepted, r.Status)
		assert.Empty(t, r.InFlightTransactionID)

		applied, err = r.ApplyPayment("tx-1", usd("40.00"), epoch)
		require.NoError(t, err)
		assert.False(t, applied, "repeated transaction id")
		assert.Equal(t, usd("40.00"), r.TotalReceived)
	})

	t.Run("split request collects partials", func(t *testing.T) {
		r := newRequest(t, true)
		applied, err := r.ApplyPayment("tx-1", usd("10.00"), epoch)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, RequestPartiallyPaid, r.Status)
		assert.Equal(t, usd("30.00"), r.Remaining())
		assert.True(t, r.IsOpen())

		_, err = r.ApplyPayment("tx-2", usd("30.00"), epoch)
		require.NoError(t, err)
		assert.Equal(t, RequestCompleted, r.Status)
		assert.True(t, r.Remaining().IsZero())
	})

	t.Run("total received never exceeds the amount", func(t *testing.T) {
		r := newRequest(t, true)
		_, err := r.ApplyPayment("tx-1", usd("30.00"), epoch)
		require.NoError(t, err)
		applied, err := r.ApplyPayment("tx-2", usd("10.01"), epoch)
		assert.ErrorIs(t, err, ErrBusinessRule)
		assert.False(t, applied)
		assert.Equal(t, usd("30.00"), r.TotalReceived)
		assert.Equal(t, []string{"tx-1"}, r.TransactionIDs)
		assert.Equal(t, RequestPartiallyPaid, r.Status)
	})
}

func TestMoneyRequest_PaymentAmount(t *testing.T) {
	t.Parallel()

	partial := usd("15.00")
	over := usd("40.01")

	plain := newRequest(t, false)
	got, err := plain.PaymentAmount(nil)
	require.NoError(t, err)
	assert.Equal(t, usd("40.00"), got)
	_, err = plain.PaymentAmount(&partial)
	assert.ErrorIs(t, err, ErrValidation)

	split := newRequest(t, true)
	got, err = split.PaymentAmount(&partial)
	require.NoError(t, err)
	assert.Equal(t, partial, got)
	_, err = split.PaymentAmount(&over)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestMoneyRequest_Respond(t *testing.T) {
	t.Parallel()

	r := newRequest(t, false)
	assert.ErrorIs(t, r.Decline("carol", epoch), ErrNotFound)
	require.NoError(t, r.Decline("alice", epoch))
	assert.Equal(t, RequestDeclined, r.Status)

	// A declined request cannot be paid.
	assert.ErrorIs(t, r.BeginPayment("alice", "tx-1", epoch), ErrBusinessRule)
	assert.Empty(t, r.InFlightTransactionID)
	assert.Equal(t, RequestDeclined, r.Status)

	r = newRequest(t, false)
	require.NoError(t, r.BeginPayment("alice", "tx-1", epoch))
	assert.ErrorIs(t, r.BeginPayment("alice", "tx-2", epoch), ErrBusinessRule)
	assert.False(t, r.PaymentFailed("tx-2", epoch))
	assert.True(t, r.PaymentFailed("tx-1", epoch))
	assert.Empty(t, r.InFlightTransactionID)
}
