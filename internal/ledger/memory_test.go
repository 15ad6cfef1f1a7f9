package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"p2pplatform/internal/common/money"
	"p2pplatform/internal/ledger/domain"
)

func usd(s string) money.Money { return money.MustParse(s, money.USD) }

func fundedLedger(t *testing.T) *Memory {
	t.Helper()
	m := NewMemory(money.USD)
	_, err := m.OpenWallet("alice-usd", "alice", money.USD)
	require.NoError(t, err)
	_, err = m.OpenWallet("bob-usd", "bob", money.USD)
	require.NoError(t, err)
	_, err = m.Deposit(context.Background(), "alice-usd", usd("1000.00"), "seed")
	require.NoError(t, err)
	return m
}

func TestMemory_ReserveCommit(t *testing.T) {
	ctx := context.Background()
	m := fundedLedger(t)

	resID, err := m.ReserveDebit(ctx, "alice-usd", usd("500.50"))
	require.NoError(t, err)

	bal, err := m.GetBalance(ctx, "alice-usd")
	require.NoError(t, err)
	assert.Equal(t, usd("1000.00"), bal.Posted)
	assert.Equal(t, usd("499.50"), bal.Available)

	require.NoError(t, m.Commit(ctx, resID, "bob-usd", usd("0.50")))
	require.NoError(t, m.Commit(ctx, resID, "bob-usd", usd("0.50")), "commit is idempotent")

	alice, _ := m.GetBalance(ctx, "alice-usd")
	bob, _ := m.GetBalance(ctx, "bob-usd")
	fees, _ := m.GetBalance(ctx, domain.SystemAccountID(domain.CodeTransferFee, money.USD))
	assert.Equal(t, usd("499.50"), alice.Posted)
	assert.True(t, alice.Held.IsZero())
	assert.Equal(t, usd("500.00"), bob.Posted)
	assert.Equal(t, usd("0.50"), fees.Posted)
}

func TestMemory_CommitToHeldFunds(t *testing.T) {
	ctx := context.Background()
	m := fundedLedger(t)

	resID, err := m.ReserveDebit(ctx, "alice-usd", usd("50.00"))
	require.NoError(t, err)
	require.NoError(t, m.Commit(ctx, resID, "", money.Zero(money.USD)))

	held, err := m.GetBalance(ctx, domain.SystemAccountID(domain.CodeHeldFunds, money.USD))
	require.NoError(t, err)
	assert.Equal(t, usd("50.00"), held.Posted)
}

func TestMemory_Release(t *testing.T) {
	ctx := context.Background()
	m := fundedLedger(t)

	resID, err := m.ReserveDebit(ctx, "alice-usd", usd("900.00"))
	require.NoError(t, err)
	require.NoError(t, m.Release(ctx, resID))
	require.NoError(t, m.Release(ctx, resID), "release is idempotent")

	bal, _ := m.GetBalance(ctx, "alice-usd")
	assert.Equal(t, usd("1000.00"), bal.Available)

	assert.ErrorIs(t, m.Commit(ctx, resID, "bob-usd", money.Zero(money.USD)), domain.ErrReservationClosed)
}

func TestMemory_ReserveErrors(t *testing.T) {
	ctx := context.Background()
	m := fundedLedger(t)

	_, err := m.ReserveDebit(ctx, "alice-usd", usd("1000.01"))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	_, err = m.ReserveDebit(ctx, "nobody", usd("1.00"))
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	require.NoError(t, m.SetStatus(ctx, "alice-usd", domain.AccountStatusFrozen))
	_, err = m.ReserveDebit(ctx, "alice-usd", usd("1.00"))
	assert.ErrorIs(t, err, domain.ErrAccountFrozen)
}

func TestMemory_HoldsReduceAvailable(t *testing.T) {
	ctx := context.Background()
	m := fundedLedger(t)

	_, err := m.ReserveDebit(ctx, "alice-usd", usd("600.00"))
	require.NoError(t, err)
	_, err = m.ReserveDebit(ctx, "alice-usd", usd("600.00"))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestMemory_Verify(t *testing.T) {
	ctx := context.Background()
	m := fundedLedger(t)

	ok, err := m.Verify(ctx, "alice", "alice-usd")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = m.Verify(ctx, "bob", "alice-usd")
	assert.False(t, ok)

	ok, _ = m.Verify(ctx, "alice", domain.SystemAccountID(domain.CodeCash, money.USD))
	assert.False(t, ok)
}
