package money

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Currency represents an ISO 4217 currency code
type Currency string

const (
	USD Currency = "USD"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
	JPY Currency = "JPY"
	GHS Currency = "GHS"
	NGN Currency = "NGN"
	KES Currency = "KES"
)

// CurrencyInfo contains metadata about a currency
type CurrencyInfo struct {
	Code       Currency
	MinorUnits int32 // Number of decimal places
	Symbol     string
}

var currencies = map[Currency]CurrencyInfo{
	USD: {Code: USD, MinorUnits: 2, Symbol: "$"},
	EUR: {Code: EUR, MinorUnits: 2, Symbol: "€"},
	GBP: {Code: GBP, MinorUnits: 2, Symbol: "£"},
	JPY: {Code: JPY, MinorUnits: 0, Symbol: "¥"},
	GHS: {Code: GHS, MinorUnits: 2, Symbol: "GH₵"},
	NGN: {Code: NGN, MinorUnits: 2, Symbol: "₦"},
	KES: {Code: KES, MinorUnits: 2, Symbol: "KSh"},
}

// ErrUnknownCurrency is returned for currencies without metadata.
var ErrUnknownCurrency = errors.New("unknown currency")

// ErrCurrencyMismatch is returned when combining amounts of different currencies.
var ErrCurrencyMismatch = errors.New("currency mismatch")

// GetCurrencyInfo returns info about a currency
func GetCurrencyInfo(c Currency) (CurrencyInfo, bool) {
	info, ok := currencies[c]
	return info, ok
}

// Valid reports whether the currency is supported.
func (c Currency) Valid() bool {
	_, ok := currencies[c]
	return ok
}

func (c Currency) minorUnits() int32 {
	if info, ok := currencies[c]; ok {
		return info.MinorUnits
	}
	return 2
}

// Money represents a monetary amount in minor units (cents, pence, etc.)
type Money struct {
	AmountMinor int64
	Currency    Currency
}

// New creates a new Money value from minor units
func New(amountMinor int64, currency Currency) Money {
	return Money{AmountMinor: amountMinor, Currency: currency}
}

// Zero returns a zero amount for a currency
func Zero(currency Currency) Money {
	return Money{Currency: currency}
}

// FromDecimal converts a major-unit decimal into minor units. Amounts carrying
// more precision than the currency allows are rejected rather than rounded.
func FromDecimal(d decimal.Decimal, currency Currency) (Money, error) {
	if !currency.Valid() {
		return Money{}, fmt.Errorf("%w: %q", ErrUnknownCurrency, currency)
	}
	places := currency.minorUnits()
	scaled := d.Shift(places)
	if !scaled.IsInteger() {
		return Money{}, fmt.Errorf("amount %s has more than %d decimal places for %s", d.String(), places, currency)
	}
	if !scaled.BigInt().IsInt64() {
		return Money{}, fmt.Errorf("amount %s out of range", d.String())
	}
	return Money{AmountMinor: scaled.IntPart(), Currency: currency}, nil
}

// Parse parses a major-unit string such as "500.50".
func Parse(s string, currency Currency) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	return FromDecimal(d, currency)
}

// MustParse is Parse that panics, for constants and tests.
func MustParse(s string, currency Currency) Money {
	m, err := Parse(s, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.AmountMinor, -m.Currency.minorUnits())
}

// IsZero returns true if the amount is zero
func (m Money) IsZero() bool {
	return m.AmountMinor == 0
}

// IsPositive returns true if the amount is positive
func (m Money) IsPositive() bool {
	return m.AmountMinor > 0
}

// IsNegative returns true if the amount is negative
func (m Money) IsNegative() bool {
	return m.AmountMinor < 0
}

// Add adds two money values (must be same currency)
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{AmountMinor: m.AmountMinor + other.AmountMinor, Currency: m.Currency}, nil
}

// MustAdd adds two money values, panics on currency mismatch
func (m Money) MustAdd(other Money) Money {
	result, err := m.Add(other)
	if err != nil {
		panic(err)
	}
	return result
}

// Sub subtracts two money values (must be same currency)
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{AmountMinor: m.AmountMinor - other.AmountMinor, Currency: m.Currency}, nil
}

// Percentage calculates basisPoints/10000 of the amount, rounding half away from zero.
func (m Money) Percentage(basisPoints int64) Money {
	v := decimal.NewFromInt(m.AmountMinor).
		Mul(decimal.NewFromInt(basisPoints)).
		Div(decimal.NewFromInt(10000)).
		Round(0)
	return Money{AmountMinor: v.IntPart(), Currency: m.Currency}
}

// Ratio returns m/other in basis points, 0 when other is zero.
func (m Money) Ratio(other Money) int64 {
	if other.AmountMinor == 0 {
		return 0
	}
	return decimal.NewFromInt(m.AmountMinor).
		Mul(decimal.NewFromInt(10000)).
		Div(decimal.NewFromInt(other.AmountMinor)).
		Round(0).
		IntPart()
}

// Compare returns -1, 0, or 1
func (m Money) Compare(other Money) (int, error) {
	if m.Currency != other.Currency {
		return 0, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	switch {
	case m.AmountMinor < other.AmountMinor:
		return -1, nil
	case m.AmountMinor > other.AmountMinor:
		return 1, nil
	}
	return 0, nil
}

// Equal checks equality
func (m Money) Equal(other Money) bool {
	return m.AmountMinor == other.AmountMinor && m.Currency == other.Currency
}

// GreaterThan checks if m > other
func (m Money) GreaterThan(other Money) bool {
	cmp, err := m.Compare(other)
	return err == nil && cmp > 0
}

// LessThan checks if m < other
func (m Money) LessThan(other Money) bool {
	cmp, err := m.Compare(other)
	return err == nil && cmp < 0
}

// Min returns the smaller of two same-currency amounts.
func Min(a, b Money) Money {
	if b.LessThan(a) {
		return b
	}
	return a
}

// String renders the amount in major units with the currency's precision, e.g. "500.50".
func (m Money) String() string {
	return m.Decimal().StringFixed(m.Currency.minorUnits())
}

// Display renders the amount with its symbol, e.g. "$500.50".
func (m Money) Display() string {
	info, ok := currencies[m.Currency]
	if !ok {
		return m.String() + " " + string(m.Currency)
	}
	return info.Symbol + m.String()
}

type moneyJSON struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// MarshalJSON renders {"amount":"500.50","currency":"USD"}.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.String(), Currency: string(m.Currency)})
}

// UnmarshalJSON implements json.Unmarshaler
func (m *Money) UnmarshalJSON(data []byte) error {
	var v moneyJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	parsed, err := Parse(v.Amount, Currency(v.Currency))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Allocate splits money into n parts with remainder going to first allocation
func (m Money) Allocate(parts int) []Money {
	if parts <= 0 {
		return nil
	}

	base := m.AmountMinor / int64(parts)
	remainder := m.AmountMinor % int64(parts)

	result := make([]Money, parts)
	for i := range result {
		result[i] = Money{AmountMinor: base, Currency: m.Currency}
	}
	for i := int64(0); i < remainder; i++ {
		result[i].AmountMinor++
	}
	return result
}

// Sum adds up multiple money values
func Sum(currency Currency, amounts ...Money) (Money, error) {
	result := Zero(currency)
	for _, a := range amounts {
		var err error
		result, err = result.Add(a)
		if err != nil {
			return Money{}, err
		}
	}
	return result, nil
}
