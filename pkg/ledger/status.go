package ledger

import (
	"time"

	"github.com/mcclellann/microloan/pkg/models"
	"github.com/shopspring/decimal"
)

// DeriveStatus classifies an installment as of today. A partly paid installment
// stays Partial after its due date; only unpaid ones become Overdue.
func DeriveStatus(amountDue, amountPaid decimal.Decimal, dueDate, today time.Time) models.InstallmentStatus {
	switch {
	case amountPaid.GreaterThanOrEqual(amountDue):
		return models.InstallmentPaid
	case amountPaid.IsPositive():
		return models.InstallmentPartial
	case DateOf(dueDate).Before(DateOf(today)):
		return models.InstallmentOverdue
	default:
		return models.InstallmentPending
	}
}

// ApplyStatus re-derives inst.Status and stamps PaymentDate the first time the
// installment is fully paid. It reports whether anything changed.
func ApplyStatus(inst *models.Installment, today time.Time) bool {
	status := DeriveStatus(inst.AmountDue, inst.AmountPaid, inst.DueDate, today)
	changed := status != inst.Status
	inst.Status = status
	if status == models.InstallmentPaid && inst.PaymentDate == nil {
		paid := DateOf(today)
		inst.PaymentDate = &paid
		changed = true
	}
	return changed
}

// DaysOverdue counts days past the due date for an installment that still has
// something to pay.
func DaysOverdue(inst *models.Installment, today time.Time) int {
	if !inst.RemainingAmount().IsPositive() || !DateOf(inst.DueDate).Before(DateOf(today)) {
		return 0
	}
	return daysBetween(inst.DueDate, today)
}

func isPastDueUnpaid(inst *models.Installment, today time.Time) bool {
	return DaysOverdue(inst, today) > 0
}
