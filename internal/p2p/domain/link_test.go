package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"p2pplatform/internal/common/money"
)

func newLink(t *testing.T, maxUses int) *PaymentLink {
	t.Helper()
	amount := usd("25.00")
	expires := epoch.Add(24 * time.Hour)
	l, err := NewPaymentLink(NewPaymentLinkParams{
		ID:                   "link-1",
		PublicID:             "pub1",
		BaseURL:              "https://pay.example.com/p",
		OwnerUserID:          "bob",
		Title:                "Yoga class",
		Currency:             money.USD,
		IsAmountFixed:        true,
		Amount:               &amount,
		DestinationAccountID: "bob-usd",
		ExpiresAt:            &expires,
		MaxUses:              &maxUses,
		Now:                  epoch,
	})
	require.NoError(t, err)
	return l
}

func TestPaymentLink_ClaimAndUnclaim(t *testing.T) {
	t.Parallel()

	l := newLink(t, 2)
	assert.Equal(t, "https://pay.example.com/p/pub1", l.PublicURL)
	require.NoError(t, l.Claim("tx-1", epoch))
	require.NoError(t, l.Claim("tx-2", epoch))
	assert.ErrorIs(t, l.Claim("tx-3", epoch), ErrLinkCapacity)
	assert.Equal(t, 2, l.CurrentUses)

	assert.True(t, l.Unclaim("tx-1", epoch))
	assert.False(t, l.Unclaim("tx-1", epoch), "slot already given back")
	assert.Equal(t, 1, l.CurrentUses)
	assert.Equal(t, []string{"tx-2"}, l.TransactionIDs)

	applied, err := l.RecordPayment("tx-2", usd("25.00"), epoch)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.False(t, l.Unclaim("tx-2", epoch), "paid slots stay taken")
	applied, err = l.RecordPayment("tx-2", usd("25.00"), epoch)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, usd("25.00"), l.TotalReceived)

	require.NoError(t, l.Claim("tx-4", epoch))
	assert.True(t, l.AtCapacity())
}

func TestPaymentLink_CheckUsable(t *testing.T) {
	t.Parallel()

	l := newLink(t, 5)
	assert.ErrorIs(t, l.Claim("tx-1", epoch.Add(25*time.Hour)), ErrBusinessRule)
	assert.Zero(t, l.CurrentUses)

	assert.True(t, l.Deactivate(epoch))
	assert.False(t, l.Deactivate(epoch))
	assert.ErrorIs(t, l.CheckUsable(epoch), ErrBusinessRule)
	assert.False(t, l.Public(epoch).Available)
}

func TestPaymentLink_ResolveAmount(t *testing.T) {
	t.Parallel()

	fixed := newLink(t, 1)
	other := usd("30.00")
	got, err := fixed.ResolveAmount(nil)
	require.NoError(t, err)
	assert.Equal(t, usd("25.00"), got)
	_, err = fixed.ResolveAmount(&other)
	assert.ErrorIs(t, err, ErrValidation)

	lo, hi := usd("5.00"), usd("50.00")
	ranged, err := NewPaymentLink(NewPaymentLinkParams{
		ID: "link-2", PublicID: "pub2", OwnerUserID: "bob", Title: "Tips", Currency: money.USD,
		MinAmount: &lo, MaxAmount: &hi, DestinationAccountID: "bob-usd", Now: epoch,
	})
	require.NoError(t, err)
	_, err = ranged.ResolveAmount(nil)
	assert.ErrorIs(t, err, ErrValidation)
	for _, bad := range []string{"4.99", "50.01"} {
		m := usd(bad)
		_, err = ranged.ResolveAmount(&m)
		assert.ErrorIs(t, err, ErrValidation, bad)
	}
	got, err = ranged.ResolveAmount(&other)
	require.NoError(t, err)
	assert.Equal(t, other, got)

	_, err = NewPaymentLink(NewPaymentLinkParams{
		ID: "link-3", PublicID: "pub3", OwnerUserID: "bob", Title: "Tips", Currency: money.USD,
		MinAmount: &hi, MaxAmount: &lo, DestinationAccountID: "bob-usd", Now: epoch,
	})
	assert.ErrorIs(t, err, ErrValidation)
}
