package money

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		cur     Currency
		want    int64
		wantErr bool
	}{
		{name: "two places", in: "500.50", cur: USD, want: 50050},
		{name: "whole", in: "90", cur: USD, want: 9000},
		{name: "one place", in: "0.5", cur: GBP, want: 50},
		{name: "zero minor units", in: "1200", cur: JPY, want: 1200},
		{name: "too precise", in: "1.005", cur: USD, wantErr: true},
		{name: "fractional yen", in: "1.5", cur: JPY, wantErr: true},
		{name: "garbage", in: "ten", cur: USD, wantErr: true},
		{name: "unknown currency", in: "10", cur: "XXX", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in, tt.cur)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.AmountMinor)
			assert.Equal(t, tt.cur, got.Currency)
		})
	}
}

func TestStringAndDecimal(t *testing.T) {
	m := New(201000, USD)
	assert.Equal(t, "2010.00", m.String())
	assert.Equal(t, "$2010.00", m.Display())
	assert.True(t, m.Decimal().Equal(decimal.RequireFromString("2010")))
	assert.Equal(t, "1200", New(1200, JPY).String())
}

func TestPercentage(t *testing.T) {
	assert.Equal(t, int64(1000), New(200000, USD).Percentage(50).AmountMinor)
	// 1000.01 * 0.5% = 5.00005 -> 5.00
	assert.Equal(t, int64(500), New(100001, USD).Percentage(50).AmountMinor)
	// 1001.00 * 0.5% = 5.005 -> 5.01 (half away from zero)
	assert.Equal(t, int64(501), New(100100, USD).Percentage(50).AmountMinor)
}

func TestRatio(t *testing.T) {
	assert.Equal(t, int64(6667), New(6000, USD).Ratio(New(9000, USD)))
	assert.Equal(t, int64(0), New(6000, USD).Ratio(Zero(USD)))
}

func TestAddCurrencyMismatch(t *testing.T) {
	_, err := New(1, USD).Add(New(1, EUR))
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
	assert.False(t, New(2, USD).GreaterThan(New(1, EUR)))
}

func TestAllocate(t *testing.T) {
	parts := New(10000, USD).Allocate(3)
	require.Len(t, parts, 3)
	assert.Equal(t, int64(3334), parts[0].AmountMinor)
	assert.Equal(t, int64(3333), parts[1].AmountMinor)
	assert.Equal(t, int64(3333), parts[2].AmountMinor)

	total, err := Sum(USD, parts...)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), total.AmountMinor)
	assert.Nil(t, New(1, USD).Allocate(0))
}

func TestJSON(t *testing.T) {
	b, err := json.Marshal(New(50050, USD))
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":"500.50","currency":"USD"}`, string(b))

	var m Money
	require.NoError(t, json.Unmarshal([]byte(`{"amount":"12.3","currency":"EUR"}`), &m))
	assert.Equal(t, New(1230, EUR), m)
}
