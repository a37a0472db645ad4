package routes

import (
	"context"

	"github.com/paysure/paysure/internal/deposit"
	"github.com/paysure/paysure/internal/identity"
	"github.com/paysure/paysure/internal/salary"
)

// members adapts the identity service to the narrow profile lookups the
// deposit and salary services need.
type members struct {
	ids *identity.Service
}

func (m members) DepositMember(ctx context.Context, userID string) (deposit.Member, error) {
	u, err := m.ids.Get(ctx, userID)
	if err != nil {
		return deposit.Member{}, err
	}
	return deposit.Member{Phone: u.Phone, DailyTarget: u.DailyTarget}, nil
}

func (m members) SalaryMember(ctx context.Context, userID string) (salary.Member, error) {
	u, err := m.ids.Get(ctx, userID)
	if err != nil {
		return salary.Member{}, err
	}
	return toSalaryMember(u), nil
}

func (m members) MembersDueOn(ctx context.Context, day int) ([]salary.Member, error) {
	users, err := m.ids.ListByPayoutDay(ctx, day)
	if err != nil {
		return nil, err
	}
	out := make([]salary.Member, 0, len(users))
	for _, u := range users {
		out = append(out, toSalaryMember(u))
	}
	return out, nil
}

func toSalaryMember(u identity.User) salary.Member {
	return salary.Member{ID: u.ID, Phone: u.Phone, MonthlyGoal: u.MonthlyGoal, PayoutDay: u.PayoutDay}
}
