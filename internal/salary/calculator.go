package salary

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paysure/paysure/internal/deposit"
)

// ErrInvalidPeriod rejects months outside 1..12 and implausible years.
var ErrInvalidPeriod = errors.New("invalid salary period")

// ErrPeriodOpen rejects a run for a month that has not ended yet. Deposits
// landing later in that month would otherwise stay in the deposit wallet.
var ErrPeriodOpen = errors.New("salary period still open")

// Computation is the split of one month's completed deposits.
type Computation struct {
	Sum    decimal.Decimal
	Salary decimal.Decimal
	Excess decimal.Decimal
	Count  int
}

// Compute caps the month's deposits at goal: salary = min(sum, goal) and
// excess = max(0, sum - goal).
func Compute(deposits []deposit.Deposit, goal decimal.Decimal) Computation {
	sum := decimal.Zero
	count := 0
	for _, d := range deposits {
		if d.Status != deposit.StatusCompleted {
			continue
		}
		sum = sum.Add(d.Amount)
		count++
	}
	c := Computation{Sum: sum, Salary: decimal.Min(sum, goal), Excess: sum.Sub(goal), Count: count}
	if c.Salary.IsNegative() {
		c.Salary = decimal.Zero
	}
	if c.Excess.IsNegative() {
		c.Excess = decimal.Zero
	}
	return c
}

// Period returns the UTC half-open interval [from, to) covering month/year.
func Period(month, year int) (time.Time, time.Time, error) {
	if month < 1 || month > 12 || year < 2000 || year > 9999 {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %d-%02d", ErrInvalidPeriod, year, month)
	}
	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 1, 0), nil
}

// PreviousMonth returns the calendar month before t.
func PreviousMonth(t time.Time) (int, int) {
	prev := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	return int(prev.Month()), prev.Year()
}
