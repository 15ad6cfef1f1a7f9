// Package fees prices P2P transfers.
package fees

import (
	"fmt"

	"github.com/shopspring/decimal"

	"p2pplatform/internal/common/money"
)

// Schedule is a three-tier fee table in major units: free up to FreeUpTo,
// Flat up to FlatUpTo, Rate basis points above that.
type Schedule struct {
	FreeUpTo decimal.Decimal
	FlatUpTo decimal.Decimal
	Flat     decimal.Decimal
	RateBP   int64
}

// DefaultSchedule is the standard consumer schedule.
func DefaultSchedule() Schedule {
	return Schedule{
		FreeUpTo: decimal.RequireFromString("100"),
		FlatUpTo: decimal.RequireFromString("1000"),
		Flat:     decimal.RequireFromString("0.50"),
		RateBP:   50,
	}
}

// Validate checks the tiers are ordered and non-negative.
func (s Schedule) Validate() error {
	if s.FreeUpTo.IsNegative() || s.Flat.IsNegative() || s.RateBP < 0 {
		return fmt.Errorf("fee schedule values must not be negative")
	}
	if s.FlatUpTo.LessThan(s.FreeUpTo) {
		return fmt.Errorf("flat tier ceiling %s is below free tier ceiling %s", s.FlatUpTo, s.FreeUpTo)
	}
	return nil
}

// Policy computes fees from a Schedule.
type Policy struct {
	schedule Schedule
}

// NewPolicy returns a policy for s.
func NewPolicy(s Schedule) (*Policy, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &Policy{schedule: s}, nil
}

// Schedule returns the active schedule.
func (p *Policy) Schedule() Schedule {
	return p.schedule
}

// Fee returns the fee for sending amount. Tier boundaries are inclusive:
// exactly 100.00 is free and exactly 1000.00 pays the flat fee. Percentage fees
// round half away from zero to the currency's minor unit.
func (p *Policy) Fee(amount money.Money) (money.Money, error) {
	d := amount.Decimal()
	switch {
	case d.LessThanOrEqual(p.schedule.FreeUpTo):
		return money.Zero(amount.Currency), nil
	case d.LessThanOrEqual(p.schedule.FlatUpTo):
		return money.FromDecimal(p.schedule.Flat, amount.Currency)
	default:
		return amount.Percentage(p.schedule.RateBP), nil
	}
}

// Tier describes one row of the schedule for display.
type Tier struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Describe renders the schedule for clients in currency.
func (p *Policy) Describe(currency money.Currency) []Tier {
	s := p.schedule
	symbol := string(currency) + " "
	if info, ok := money.GetCurrencyInfo(currency); ok {
		symbol = info.Symbol
	}
	rate := decimal.New(s.RateBP, -2)
	return []Tier{
		{Name: "free", Description: fmt.Sprintf("Free up to %s%s", symbol, s.FreeUpTo.StringFixed(2))},
		{Name: "flat", Description: fmt.Sprintf("%s%s flat fee up to %s%s", symbol, s.Flat.StringFixed(2), symbol, s.FlatUpTo.StringFixed(2))},
		{Name: "percentage", Description: fmt.Sprintf("%s%% of amount above %s%s", rate.String(), symbol, s.FlatUpTo.StringFixed(2))},
	}
}
