package fees

import (
	"github.com/shopspring/decimal"

	"p2pplatform/internal/common/money"
)

// Limits are the published transfer limits in major units. Only PerTransaction
// is enforced by the engines; the rolling limits are advisory.
type Limits struct {
	PerTransaction decimal.Decimal `json:"per_transaction_limit"`
	DailySend      decimal.Decimal `json:"daily_send_limit"`
	DailyReceive   decimal.Decimal `json:"daily_receive_limit"`
	MonthlySend    decimal.Decimal `json:"monthly_send_limit"`
	MonthlyReceive decimal.Decimal `json:"monthly_receive_limit"`
}

// DefaultLimits returns the standard consumer limits.
func DefaultLimits() Limits {
	return Limits{
		PerTransaction: decimal.RequireFromString("2500"),
		DailySend:      decimal.RequireFromString("5000"),
		DailyReceive:   decimal.RequireFromString("10000"),
		MonthlySend:    decimal.RequireFromString("20000"),
		MonthlyReceive: decimal.RequireFromString("50000"),
	}
}

// AllowsAmount reports whether a single transfer of amount is within the
// per-transaction limit. A zero limit disables the check.
func (l Limits) AllowsAmount(amount money.Money) bool {
	if l.PerTransaction.IsZero() {
		return true
	}
	return amount.Decimal().LessThanOrEqual(l.PerTransaction)
}
