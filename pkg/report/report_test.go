package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/microloan/pkg/ledger"
	"github.com/mcclellann/microloan/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func installment(n int, due time.Time, amountDue, amountPaid int64, status models.InstallmentStatus) *models.Installment {
	return &models.Installment{
		ID:                uuid.New(),
		InstallmentNumber: n,
		DueDate:           due,
		AmountDue:         decimal.NewFromInt(amountDue),
		AmountPaid:        decimal.NewFromInt(amountPaid),
		Status:            status,
	}
}

func reopen(t *testing.T, f *excelize.File) *excelize.File {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	reopened, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })
	return reopened
}

func cell(t *testing.T, f *excelize.File, sheet, axis string) string {
	t.Helper()
	v, err := f.GetCellValue(sheet, axis)
	require.NoError(t, err)
	return v
}

func TestCollectionWorkbook(t *testing.T) {
	partial := installment(2, date(2024, 3, 5), 1000, 300, models.InstallmentPartial)
	report := &ledger.MonthlyCollection{
		Year:           2024,
		Month:          time.March,
		TotalDue:       decimal.NewFromInt(11333),
		TotalCollected: decimal.NewFromInt(300),
		CollectionRate: decimal.RequireFromString("2.65"),
		Installments: []ledger.InstallmentItem{
			{Installment: partial, BorrowerName: "Asha Verma", Remaining: partial.RemainingAmount(), DaysOverdue: 5},
			{Installment: installment(1, date(2024, 3, 20), 10333, 0, models.InstallmentPending), BorrowerName: "Ravi Kumar", Remaining: decimal.NewFromInt(10333)},
		},
	}

	f, err := CollectionWorkbook(report)
	require.NoError(t, err)
	f = reopen(t, f)

	assert.Equal(t, []string{CollectionSheet}, f.GetSheetList())
	assert.Equal(t, "Borrower", cell(t, f, CollectionSheet, "A1"))
	assert.Equal(t, "Asha Verma", cell(t, f, CollectionSheet, "A2"))
	assert.Equal(t, "05-03-2024", cell(t, f, CollectionSheet, "C2"))
	assert.Equal(t, "700", cell(t, f, CollectionSheet, "F2"))
	assert.Equal(t, "PARTIAL", cell(t, f, CollectionSheet, "G2"))
	assert.Equal(t, "5", cell(t, f, CollectionSheet, "H2"))
	assert.Equal(t, "Ravi Kumar", cell(t, f, CollectionSheet, "A3"))
	assert.Equal(t, "Total", cell(t, f, CollectionSheet, "A5"))
	assert.Equal(t, "11333", cell(t, f, CollectionSheet, "D5"))
	assert.Equal(t, "300", cell(t, f, CollectionSheet, "E5"))
	assert.Equal(t, "2.65", cell(t, f, CollectionSheet, "D6"))
}

func TestScheduleWorkbook(t *testing.T) {
	paidOn := date(2024, 2, 4)
	first := installment(1, date(2024, 2, 5), 1000, 1000, models.InstallmentPaid)
	first.PaymentDate = &paidOn
	installments := []*models.Installment{
		first,
		installment(2, date(2024, 3, 5), 1000, 0, models.InstallmentPending),
	}
	loan := &models.Loan{
		ID:                uuid.New(),
		Principal:         decimal.NewFromInt(2000),
		AnnualRatePercent: decimal.Zero,
		TenureMonths:      2,
		StartDate:         date(2024, 1, 15),
		TotalAmount:       decimal.NewFromInt(2000),
		Status:            models.LoanStatusActive,
	}
	borrower := &models.Borrower{ID: uuid.New(), Name: "Asha Verma"}

	f, err := ScheduleWorkbook(loan, borrower, installments)
	require.NoError(t, err)
	f = reopen(t, f)

	assert.Equal(t, "1", cell(t, f, ScheduleSheet, "A2"))
	assert.Equal(t, "05-02-2024", cell(t, f, ScheduleSheet, "B2"))
	assert.Equal(t, "04-02-2024", cell(t, f, ScheduleSheet, "G2"))
	assert.Equal(t, "", cell(t, f, ScheduleSheet, "G3"))
	assert.Equal(t, "Total", cell(t, f, ScheduleSheet, "A4"))
	assert.Equal(t, "2000", cell(t, f, ScheduleSheet, "C4"))
	assert.Equal(t, "1000", cell(t, f, ScheduleSheet, "D4"))
	assert.Equal(t, "Asha Verma", cell(t, f, ScheduleSheet, "B6"))
	assert.Equal(t, "1000", cell(t, f, ScheduleSheet, "B12"))
	assert.Equal(t, "ACTIVE", cell(t, f, ScheduleSheet, "B13"))
}
