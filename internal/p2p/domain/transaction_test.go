package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"p2pplatform/internal/common/money"
)

var epoch = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func usd(s string) money.Money { return money.MustParse(s, money.USD) }

func newTx(t *testing.T, status TransactionStatus) *Transaction {
	t.Helper()
	tx, err := NewTransaction(NewTransactionParams{
		ID:                   "tx-1",
		SenderUserID:         "alice",
		Recipient:            &Contact{ID: "c-1", UserID: "bob"},
		Kind:                 KindSend,
		Amount:               usd("40.00"),
		Fee:                  usd("0.50"),
		SourceAccountID:      "alice-usd",
		DestinationAccountID: "bob-usd",
		Now:                  epoch,
	})
	require.NoError(t, err)
	tx.Status = status
	return tx
}

func TestTransaction_Transitions(t *testing.T) {
	t.Parallel()

	all := []TransactionStatus{TxPending, TxSent, TxReceived, TxCompleted, TxFailed, TxCancelled, TxExpired}
	allowed := map[[2]TransactionStatus]bool{}
	for from, tos := range transactionTransitions {
		for _, to := range tos {
			allowed[[2]TransactionStatus{from, to}] = true
		}
	}

	for _, from := range all {
		for _, to := range all {
			if from == to {
				continue
			}
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				tx := newTx(t, from)
				err := tx.transition(to, epoch.Add(time.Minute))
				if !allowed[[2]TransactionStatus{from, to}] {
					assert.ErrorIs(t, err, ErrInvalidTransition)
					assert.ErrorIs(t, err, ErrBusinessRule)
					assert.Equal(t, from, tx.Status)
					assert.Equal(t, epoch, tx.UpdatedAt)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, to, tx.Status)
				assert.Equal(t, epoch.Add(time.Minute), tx.UpdatedAt)
			})
		}
	}

	for _, terminal := range []TransactionStatus{TxCompleted, TxFailed, TxCancelled, TxExpired} {
		assert.Empty(t, transactionTransitions[terminal], "%s is terminal", terminal)
	}
}

func TestTransaction_MarkSettledTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		destination string
		recipient   string
		want        TransactionStatus
		completed   bool
	}{
		{name: "destination known", destination: "bob-usd", recipient: "bob", want: TxCompleted, completed: true},
		{name: "registered awaiting pickup", recipient: "bob", want: TxReceived, completed: true},
		{name: "unregistered awaiting claim", want: TxSent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := newTx(t, TxPending)
			tx.DestinationAccountID = tt.destination
			tx.RecipientUserID = tt.recipient
			tx.FailureReason = "clearing timeout"
			require.NoError(t, tx.MarkSettled(epoch))
			assert.Equal(t, tt.want, tx.Status)
			assert.Empty(t, tx.FailureReason)
			assert.Equal(t, tt.completed, tx.CompletedAt != nil)
		})
	}
}

func TestTransaction_CancelAndAttempts(t *testing.T) {
	t.Parallel()

	tx := newTx(t, TxCompleted)
	assert.ErrorIs(t, tx.MarkCancelled(epoch), ErrBusinessRule)
	assert.ErrorIs(t, tx.RecordAttempt("timeout", epoch), ErrInvalidTransition)

	tx = newTx(t, TxPending)
	require.NoError(t, tx.RecordAttempt("timeout", epoch))
	assert.Equal(t, 1, tx.AttemptCount)
	assert.Equal(t, TxPending, tx.Status)
	require.NoError(t, tx.MarkCancelled(epoch))
	assert.Equal(t, TxCancelled, tx.Status)
	require.NotNil(t, tx.CompletedAt)
}

func TestTransaction_NeedsLedger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    TransactionStatus
		committed bool
		released  bool
		want      bool
	}{
		{name: "pending", status: TxPending},
		{name: "sent holds funds", status: TxSent},
		{name: "completed uncommitted", status: TxCompleted, want: true},
		{name: "completed committed", status: TxCompleted, committed: true},
		{name: "received uncommitted", status: TxReceived, want: true},
		{name: "failed unreleased", status: TxFailed, want: true},
		{name: "failed released", status: TxFailed, released: true},
		{name: "cancelled unreleased", status: TxCancelled, want: true},
		{name: "expired unreleased", status: TxExpired, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := newTx(t, tt.status)
			tx.ReservationID = "res-1"
			tx.LedgerCommitted = tt.committed
			tx.LedgerReleased = tt.released
			assert.Equal(t, tt.want, tx.NeedsLedger())
		})
	}

	tx := newTx(t, TxFailed)
	assert.False(t, tx.NeedsLedger(), "nothing was reserved")
}

func TestNewTransaction_Totals(t *testing.T) {
	t.Parallel()

	tx := newTx(t, TxPending)
	assert.Equal(t, usd("40.50"), tx.Total)
	require.NoError(t, tx.CheckTotals())
	tx.Total = usd("40.00")
	assert.ErrorIs(t, tx.CheckTotals(), ErrBusinessRule)

	_, err := NewTransaction(NewTransactionParams{
		ID: "tx-2", SenderUserID: "alice", Kind: KindSend, Amount: usd("0.00"),
		SourceAccountID: "alice-usd", Now: epoch,
	})
	assert.ErrorIs(t, err, ErrValidation)

	big, err := NewTransaction(NewTransactionParams{
		ID: "tx-3", SenderUserID: "alice", Kind: KindSend, Amount: usd("1000.01"),
		SourceAccountID: "alice-usd", ClaimWindow: time.Hour, Now: epoch,
	})
	require.NoError(t, err)
	assert.True(t, big.RequiresVerification)
	require.NotNil(t, big.ExpiresAt)
	assert.Equal(t, epoch.Add(time.Hour), *big.ExpiresAt)
}
