// Package report renders ledger reports as Excel workbooks.
package report

import (
	"fmt"
	"time"

	"github.com/mcclellann/microloan/pkg/ledger"
	"github.com/mcclellann/microloan/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	CollectionSheet = "Collections"
	ScheduleSheet   = "Schedule"

	dateLayout = "02-01-2006"
)

// sheetWriter keeps the first error from a run of cell writes.
type sheetWriter struct {
	f     *excelize.File
	sheet string
	err   error
}

func newWorkbook(sheet string) (*sheetWriter, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}
	return &sheetWriter{f: f, sheet: sheet}, nil
}

func (w *sheetWriter) set(col, row int, value any) {
	if w.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		w.err = err
		return
	}
	w.err = w.f.SetCellValue(w.sheet, cell, value)
}

func (w *sheetWriter) row(row int, values ...any) {
	for i, v := range values {
		w.set(i+1, row, v)
	}
}

func (w *sheetWriter) finish(widths map[string]float64) (*excelize.File, error) {
	for col, width := range widths {
		if w.err == nil {
			w.err = w.f.SetColWidth(w.sheet, col, col, width)
		}
	}
	if w.err == nil {
		w.err = w.f.SetPanes(w.sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
	}
	if w.err != nil {
		w.f.Close()
		return nil, fmt.Errorf("failed to write workbook: %w", w.err)
	}
	return w.f, nil
}

func amount(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}

func formatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

// CollectionWorkbook lists the installments of a monthly collection report,
// followed by a totals row.
func CollectionWorkbook(report *ledger.MonthlyCollection) (*excelize.File, error) {
	w, err := newWorkbook(CollectionSheet)
	if err != nil {
		return nil, err
	}

	w.row(1, "Borrower", "Installment", "Due Date", "Amount Due", "Amount Paid", "Remaining", "Status", "Days Overdue")
	row := 2
	for _, item := range report.Installments {
		inst := item.Installment
		w.row(row,
			item.BorrowerName,
			inst.InstallmentNumber,
			formatDate(&inst.DueDate),
			amount(inst.AmountDue),
			amount(inst.AmountPaid),
			amount(item.Remaining),
			string(inst.Status),
			item.DaysOverdue,
		)
		row++
	}
	w.row(row+1, "Total", "", "", amount(report.TotalDue), amount(report.TotalCollected))
	w.row(row+2, "Collection Rate %", "", "", report.CollectionRate.InexactFloat64())

	return w.finish(map[string]float64{"A": 28, "C": 12, "D": 14, "E": 14, "F": 14, "G": 10})
}

// ScheduleWorkbook lists a loan's installments with the loan terms above them.
func ScheduleWorkbook(loan *models.Loan, borrower *models.Borrower, installments []*models.Installment) (*excelize.File, error) {
	w, err := newWorkbook(ScheduleSheet)
	if err != nil {
		return nil, err
	}

	w.row(1, "#", "Due Date", "Amount Due", "Amount Paid", "Remaining", "Status", "Paid On", "Notes")
	total := decimal.Zero
	paid := decimal.Zero
	row := 2
	for _, inst := range installments {
		w.row(row,
			inst.InstallmentNumber,
			formatDate(&inst.DueDate),
			amount(inst.AmountDue),
			amount(inst.AmountPaid),
			amount(inst.RemainingAmount()),
			string(inst.Status),
			formatDate(inst.PaymentDate),
			inst.Notes,
		)
		total = total.Add(inst.AmountDue)
		paid = paid.Add(inst.AmountPaid)
		row++
	}
	w.row(row, "Total", "", amount(total), amount(paid))

	row += 2
	w.row(row, "Borrower", borrower.Name)
	w.row(row+1, "Principal", amount(loan.Principal))
	w.row(row+2, "Interest Rate %", amount(loan.AnnualRatePercent))
	w.row(row+3, "Tenure (months)", loan.TenureMonths)
	w.row(row+4, "Start Date", formatDate(&loan.StartDate))
	w.row(row+5, "Total Amount", amount(loan.TotalAmount))
	w.row(row+6, "Outstanding", amount(loan.TotalAmount.Sub(paid)))
	w.row(row+7, "Status", string(loan.Status))

	return w.finish(map[string]float64{"A": 18, "B": 22, "C": 14, "D": 14, "E": 14, "G": 12, "H": 30})
}
