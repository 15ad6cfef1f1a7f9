package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"p2pplatform/internal/common/money"
)

func email(v string) ContactRef { return ContactRef{Method: ContactEmail, Value: v} }

func newBill(t *testing.T) *SplitBill {
	t.Helper()
	b, err := NewSplitBill(NewSplitBillParams{
		ID:            "bill-1",
		CreatorUserID: "alice",
		Title:         "Dinner",
		TotalAmount:   usd("90.00"),
		Participants: EqualShares(usd("90.00"), []Participant{
			{Contact: email("alice@example.com"), UserID: "alice", IsCreator: true},
			{Contact: email("bob@example.com"), UserID: "bob"},
			{Contact: email("carol@example.com"), UserID: "carol"},
		}),
		DestinationAccountID: "alice-usd",
		Now:                  epoch,
	})
	require.NoError(t, err)
	return b
}

func TestSplitBill_ApplyCollectionCaps(t *testing.T) {
	t.Parallel()

	b := newBill(t)
	assert.Equal(t, usd("30.00"), b.TotalCollected)
	assert.Equal(t, int64(3333), b.CollectionBasisPoints())

	applied, err := b.ApplyCollection("tx-1", usd("40.00"), epoch)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, usd("70.00"), b.TotalCollected)
	assert.False(t, b.IsFullyCollected())

	applied, err = b.ApplyCollection("tx-1", usd("40.00"), epoch)
	require.NoError(t, err)
	assert.False(t, applied, "repeated transaction id")

	_, err = b.ApplyCollection("tx-2", usd("40.00"), epoch)
	require.NoError(t, err)
	assert.Equal(t, usd("90.00"), b.TotalCollected, "capped at the bill total")
	assert.True(t, b.IsFullyCollected())
	assert.Equal(t, int64(10000), b.CollectionBasisPoints())

	_, err = b.ApplyCollection("tx-3", money.MustParse("1.00", money.EUR), epoch)
	assert.Error(t, err)
	assert.Equal(t, []string{"tx-1", "tx-2"}, b.PaidTransactionIDs)
}

func TestNewSplitBill_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		participants []Participant
	}{
		{name: "single participant", participants: []Participant{
			{Contact: email("bob@example.com"), Share: usd("90.00")},
		}},
		{name: "shares short of total", participants: []Participant{
			{Contact: email("bob@example.com"), Share: usd("40.00")},
			{Contact: email("carol@example.com"), Share: usd("40.00")},
		}},
		{name: "duplicate contact", participants: []Participant{
			{Contact: email("bob@example.com"), Share: usd("45.00")},
			{Contact: email("bob@example.com"), Share: usd("45.00")},
		}},
		{name: "negative share", participants: []Participant{
			{Contact: email("bob@example.com"), Share: usd("100.00")},
			{Contact: email("carol@example.com"), Share: usd("-10.00")},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSplitBill(NewSplitBillParams{
				ID: "bill-1", CreatorUserID: "alice", Title: "Dinner", TotalAmount: usd("90.00"),
				Participants: tt.participants, DestinationAccountID: "alice-usd", Now: epoch,
			})
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestEqualShares_RemainderToFirst(t *testing.T) {
	t.Parallel()

	parts := EqualShares(usd("100.00"), make([]Participant, 3))
	assert.Equal(t, usd("33.34"), parts[0].Share)
	assert.Equal(t, usd("33.33"), parts[1].Share)
	assert.Equal(t, usd("33.33"), parts[2].Share)
}
