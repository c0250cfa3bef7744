package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/microloan/pkg/errs"
	"github.com/mcclellann/microloan/pkg/models"
	"github.com/mcclellann/microloan/pkg/money"
	"github.com/mcclellann/microloan/pkg/store"
	"github.com/shopspring/decimal"
)

const quickPayNote = "Quick payment via dashboard"

type PaymentInput struct {
	Amount      decimal.Decimal      `json:"amount" validate:"dgt=0,dscale=0"`
	PaymentDate time.Time            `json:"payment_date"` // Defaults to today
	Method      models.PaymentMethod `json:"method" validate:"omitempty,oneof=CASH BANK ONLINE CHECK"`
	Notes       string               `json:"notes"`
	// Limit, when set, caps Amount. It sees the loan and installment as read
	// under the loan lock.
	Limit func(loan *models.Loan, inst *models.Installment) decimal.Decimal `json:"-"`
}

// amountFunc picks the amount of a payment from the locked, freshly read loan
// and installment.
type amountFunc func(loan *models.Loan, inst *models.Installment) (decimal.Decimal, error)

// RecordPayment stores a payment against an installment and brings the
// installment's paid amount and status in line with its full payment set. The
// payment and the installment update commit together. Without a Limit, amounts
// above the remaining balance are accepted and leave the installment overpaid.
func (l *Ledger) RecordPayment(ctx context.Context, installmentID uuid.UUID, in PaymentInput) (*models.Payment, *models.Installment, error) {
	if err := validateStruct(in); err != nil {
		return nil, nil, err
	}
	return l.recordPayment(ctx, installmentID, in, func(loan *models.Loan, inst *models.Installment) (decimal.Decimal, error) {
		if in.Limit == nil {
			return in.Amount, nil
		}
		if limit := in.Limit(loan, inst); in.Amount.GreaterThan(limit) {
			return decimal.Zero, errs.Validation("Amount", "Payment amount cannot exceed remaining amount: "+money.Format(limit))
		}
		return in.Amount, nil
	})
}

func (l *Ledger) recordPayment(ctx context.Context, installmentID uuid.UUID, in PaymentInput, amountOf amountFunc) (*models.Payment, *models.Installment, error) {
	if in.Method == "" {
		in.Method = models.PaymentMethodCash
	}
	today := l.Today()
	paymentDate := today
	if !in.PaymentDate.IsZero() {
		paymentDate = DateOf(in.PaymentDate)
	}

	found, err := l.storage.GetInstallment(installmentID)
	if err != nil {
		return nil, nil, err
	}
	unlock, err := l.lockLoan(ctx, found.LoanID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	var payment *models.Payment
	var inst *models.Installment
	err = l.storage.RunInTx(ctx, func(tx store.Storage) error {
		inst, err = tx.GetInstallment(installmentID)
		if err != nil {
			return err
		}
		loan, err := tx.GetLoan(inst.LoanID)
		if err != nil {
			return err
		}
		if loan.Status == models.LoanStatusClosed {
			return errs.Invariant("loan %s is closed", loan.ID)
		}
		amount, err := amountOf(loan, inst)
		if err != nil {
			return err
		}

		now := l.now()
		payment = &models.Payment{
			ID:            uuid.New(),
			InstallmentID: inst.ID,
			Amount:        amount,
			PaymentDate:   paymentDate,
			Method:        in.Method,
			Notes:         in.Notes,
			CreatedAt:     now,
		}
		if err := tx.CreatePayment(payment); err != nil {
			return err
		}

		payments, err := tx.GetPaymentsForInstallment(inst.ID)
		if err != nil {
			return err
		}
		inst.AmountPaid = decimal.Zero
		for _, p := range payments {
			inst.AmountPaid = inst.AmountPaid.Add(p.Amount)
		}
		ApplyStatus(inst, today)
		inst.UpdatedAt = now
		return tx.UpdateInstallment(inst)
	})
	if err != nil {
		return nil, nil, err
	}

	l.log.Info("payment recorded",
		"payment_id", payment.ID,
		"installment_id", inst.ID,
		"loan_id", inst.LoanID,
		"amount", money.Format(payment.Amount),
		"status", inst.Status)
	if inst.RemainingAmount().IsNegative() {
		l.log.Warn("installment overpaid", "installment_id", inst.ID, "excess", money.Format(inst.RemainingAmount().Neg()))
	}
	return payment, inst, nil
}

// PaymentCap is the most a single payment may cover: what is left on the
// installment, plus the loan's rounding remainder on the final installment so
// the loan can be settled.
func PaymentCap(loan *models.Loan, inst *models.Installment) decimal.Decimal {
	limit := inst.RemainingAmount()
	if inst.InstallmentNumber == loan.TenureMonths {
		remainder := loan.TotalAmount.Sub(loan.MonthlyInstallment.Mul(decimal.NewFromInt(int64(loan.TenureMonths))))
		if remainder.IsPositive() {
			limit = money.Sum(limit, remainder)
		}
	}
	return limit
}

type QuickPayResult struct {
	Payment     *models.Payment     `json:"payment"`
	Installment *models.Installment `json:"installment"`
	LoanClosed  bool                `json:"loan_closed"`
	Outstanding decimal.Decimal     `json:"outstanding"`
}

// QuickPay settles the remaining amount of an installment in cash and then
// tries to close the loan. The remaining amount is read under the loan lock,
// so concurrent calls on one installment pay it once.
func (l *Ledger) QuickPay(ctx context.Context, installmentID uuid.UUID) (*QuickPayResult, error) {
	in := PaymentInput{Method: models.PaymentMethodCash, Notes: quickPayNote}
	payment, inst, err := l.recordPayment(ctx, installmentID, in, func(_ *models.Loan, inst *models.Installment) (decimal.Decimal, error) {
		remaining := inst.RemainingAmount()
		if !remaining.IsPositive() {
			return decimal.Zero, errs.Invariant("installment %d is already paid", inst.InstallmentNumber)
		}
		return remaining, nil
	})
	if err != nil {
		return nil, err
	}
	closed, err := l.CloseLoan(ctx, inst.LoanID)
	if err != nil {
		return nil, err
	}
	outstanding, err := l.outstanding(inst.LoanID)
	if err != nil {
		return nil, err
	}
	return &QuickPayResult{
		Payment:     payment,
		Installment: inst,
		LoanClosed:  closed,
		Outstanding: outstanding,
	}, nil
}

func (l *Ledger) outstanding(loanID uuid.UUID) (decimal.Decimal, error) {
	loan, err := l.storage.GetLoan(loanID)
	if err != nil {
		return decimal.Zero, err
	}
	paid, err := paidAmount(l.storage, loanID)
	if err != nil {
		return decimal.Zero, err
	}
	return loan.TotalAmount.Sub(paid), nil
}

// GetPayments lists an installment's payments, oldest first.
func (l *Ledger) GetPayments(installmentID uuid.UUID) ([]*models.Payment, error) {
	if _, err := l.storage.GetInstallment(installmentID); err != nil {
		return nil, err
	}
	return l.storage.GetPaymentsForInstallment(installmentID)
}

// CloseLoan marks the loan Closed when nothing is outstanding. It reports false,
// leaving the loan untouched, while any amount remains. Closing a closed loan
// reports true.
func (l *Ledger) CloseLoan(ctx context.Context, loanID uuid.UUID) (bool, error) {
	unlock, err := l.lockLoan(ctx, loanID)
	if err != nil {
		return false, err
	}
	defer unlock()

	closed := false
	var outstanding decimal.Decimal
	err = l.storage.RunInTx(ctx, func(tx store.Storage) error {
		loan, err := tx.GetLoan(loanID)
		if err != nil {
			return err
		}
		if loan.Status == models.LoanStatusClosed {
			closed = true
			return nil
		}
		paid, err := paidAmount(tx, loanID)
		if err != nil {
			return err
		}
		outstanding = loan.TotalAmount.Sub(paid)
		if outstanding.IsPositive() {
			return nil
		}
		loan.Status = models.LoanStatusClosed
		loan.UpdatedAt = l.now()
		if err := tx.UpdateLoan(loan); err != nil {
			return err
		}
		closed = true
		l.log.Info("loan closed", "loan_id", loanID, "outstanding", money.Format(outstanding))
		return nil
	})
	if err != nil {
		return false, err
	}
	if !closed {
		l.log.Debug("loan not closed", "loan_id", loanID, "outstanding", money.Format(outstanding))
	}
	return closed, nil
}

// MarkDefaulted moves an active loan to Defaulted. Nothing in the ledger does
// this on its own.
func (l *Ledger) MarkDefaulted(ctx context.Context, loanID uuid.UUID) (*models.Loan, error) {
	unlock, err := l.lockLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	loan, err := l.storage.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	if loan.Status != models.LoanStatusActive {
		return nil, errs.Invariant("loan %s is %s, only active loans can be defaulted", loan.ID, loan.Status)
	}
	loan.Status = models.LoanStatusDefaulted
	loan.UpdatedAt = l.now()
	if err := l.storage.UpdateLoan(loan); err != nil {
		return nil, err
	}
	l.log.Warn("loan marked defaulted", "loan_id", loanID)
	return loan, nil
}

// RefreshStatuses re-derives every installment's status as of today and
// stores the ones that changed. It returns how many changed.
func (l *Ledger) RefreshStatuses(ctx context.Context) (int, error) {
	today := l.Today()
	changed := 0
	err := l.storage.RunInTx(ctx, func(tx store.Storage) error {
		installments, err := tx.GetAllInstallments()
		if err != nil {
			return err
		}
		now := l.now()
		for _, inst := range installments {
			if !ApplyStatus(inst, today) {
				continue
			}
			inst.UpdatedAt = now
			if err := tx.UpdateInstallment(inst); err != nil {
				return fmt.Errorf("installment %s: %w", inst.ID, err)
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	l.log.Info("installment statuses refreshed", "changed", changed, "today", today.Format(time.DateOnly))
	return changed, nil
}
