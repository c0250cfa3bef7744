package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/microloan/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/teambition/rrule-go"
)

// dueDateRule returns a monthly rule whose occurrences fall on installmentDay,
// or on the last day of months that are too short for it. For days above 28 the
// rule lists every candidate day from 28 up to installmentDay and keeps the last
// one that exists in the month (BYSETPOS=-1).
func dueDateRule(firstMonth time.Time, installmentDay, count int) (*rrule.RRule, error) {
	days := []int{installmentDay}
	if installmentDay > 28 {
		days = days[:0]
		for d := 28; d <= installmentDay; d++ {
			days = append(days, d)
		}
	}
	return rrule.NewRRule(rrule.ROption{
		Freq:       rrule.MONTHLY,
		Dtstart:    monthStart(firstMonth),
		Count:      count,
		Bymonthday: days,
		Bysetpos:   []int{-1},
	})
}

// BuildSchedule produces the loan's installments without persisting them. The
// first installment falls in the month after the start date; every installment
// is due on the loan's installment day, clamped to the month's last day, and
// owes the flat monthly installment.
func BuildSchedule(loan *models.Loan) ([]*models.Installment, error) {
	if loan.TenureMonths < 1 {
		return nil, fmt.Errorf("loan %s has no tenure", loan.ID)
	}
	if loan.InstallmentDay < 1 || loan.InstallmentDay > 31 {
		return nil, fmt.Errorf("loan %s has invalid installment day %d", loan.ID, loan.InstallmentDay)
	}

	start := DateOf(loan.StartDate)
	firstMonth := time.Date(start.Year(), start.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	rule, err := dueDateRule(firstMonth, loan.InstallmentDay, loan.TenureMonths)
	if err != nil {
		return nil, fmt.Errorf("failed to build due date rule: %w", err)
	}

	dueDates := rule.All()
	if len(dueDates) != loan.TenureMonths {
		return nil, fmt.Errorf("due date rule produced %d dates for %d months", len(dueDates), loan.TenureMonths)
	}

	now := loan.UpdatedAt
	installments := make([]*models.Installment, 0, loan.TenureMonths)
	for i, due := range dueDates {
		installments = append(installments, &models.Installment{
			ID:                uuid.New(),
			LoanID:            loan.ID,
			InstallmentNumber: i + 1,
			DueDate:           DateOf(due),
			AmountDue:         loan.MonthlyInstallment,
			AmountPaid:        decimal.Zero,
			Status:            models.InstallmentPending,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
	}
	return installments, nil
}
