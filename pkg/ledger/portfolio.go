package ledger

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/microloan/pkg/models"
	"github.com/mcclellann/microloan/pkg/store"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Portfolio computes read-only rollups. Every call reads current state from
// storage; nothing is cached between calls.
type Portfolio struct {
	storage store.Storage
}

func NewPortfolio(s store.Storage) *Portfolio {
	return &Portfolio{storage: s}
}

type LoanSummary struct {
	Loan              *models.Loan                     `json:"loan"`
	Paid              decimal.Decimal                  `json:"paid"`
	Outstanding       decimal.Decimal                  `json:"outstanding"`
	RoundingRemainder decimal.Decimal                  `json:"rounding_remainder"`
	StatusCounts      map[models.InstallmentStatus]int `json:"status_counts"`
	Overdue           []*models.Installment            `json:"overdue"`
	NextPending       *models.Installment              `json:"next_pending,omitempty"`
}

// LoanSummary reports a loan's paid and outstanding amounts and the state of its schedule.
func (p *Portfolio) LoanSummary(loanID uuid.UUID, today time.Time) (*LoanSummary, error) {
	loan, err := p.storage.GetLoan(loanID)
	if err != nil {
		return nil, err
	}
	installments, err := p.storage.GetInstallmentsForLoan(loanID)
	if err != nil {
		return nil, err
	}

	summary := &LoanSummary{
		Loan:         loan,
		StatusCounts: make(map[models.InstallmentStatus]int),
	}
	scheduled := decimal.Zero
	for _, inst := range installments {
		ApplyStatus(inst, today)
		summary.StatusCounts[inst.Status]++
		scheduled = scheduled.Add(inst.AmountDue)
		if isPastDueUnpaid(inst, today) {
			summary.Overdue = append(summary.Overdue, inst)
		}
		if summary.NextPending == nil && inst.Status == models.InstallmentPending {
			summary.NextPending = inst
		}
	}
	summary.Paid = sumPaid(installments)
	summary.Outstanding = loan.TotalAmount.Sub(summary.Paid)
	summary.RoundingRemainder = loan.TotalAmount.Sub(scheduled)
	return summary, nil
}

// BorrowerOutstanding sums totalAmount minus paid over the borrower's active loans.
func (p *Portfolio) BorrowerOutstanding(borrowerID uuid.UUID) (decimal.Decimal, error) {
	if _, err := p.storage.GetBorrower(borrowerID); err != nil {
		return decimal.Zero, err
	}
	loans, err := p.storage.GetLoansForBorrower(borrowerID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, loan := range loans {
		if loan.Status != models.LoanStatusActive {
			continue
		}
		paid, err := paidAmount(p.storage, loan.ID)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(loan.TotalAmount.Sub(paid))
	}
	return total, nil
}

type BorrowerSummary struct {
	Borrower      *models.Borrower `json:"borrower"`
	TotalBorrowed decimal.Decimal  `json:"total_borrowed"`
	TotalPaid     decimal.Decimal  `json:"total_paid"`
	Outstanding   decimal.Decimal  `json:"outstanding"`
	OverdueCount  int              `json:"overdue_count"`
	ActiveLoans   int              `json:"active_loans"`
	ClosedLoans   int              `json:"closed_loans"`
}

// BorrowerSummary rolls up every loan of a borrower. Outstanding only counts
// active loans; borrowed, paid and overdue count all of them.
func (p *Portfolio) BorrowerSummary(borrowerID uuid.UUID, today time.Time) (*BorrowerSummary, error) {
	borrower, err := p.storage.GetBorrower(borrowerID)
	if err != nil {
		return nil, err
	}
	loans, err := p.storage.GetLoansForBorrower(borrowerID)
	if err != nil {
		return nil, err
	}

	summary := &BorrowerSummary{
		Borrower:      borrower,
		TotalBorrowed: decimal.Zero,
		TotalPaid:     decimal.Zero,
		Outstanding:   decimal.Zero,
	}
	for _, loan := range loans {
		installments, err := p.storage.GetInstallmentsForLoan(loan.ID)
		if err != nil {
			return nil, err
		}
		paid := sumPaid(installments)
		summary.TotalBorrowed = summary.TotalBorrowed.Add(loan.Principal)
		summary.TotalPaid = summary.TotalPaid.Add(paid)
		for _, inst := range installments {
			if isPastDueUnpaid(inst, today) {
				summary.OverdueCount++
			}
		}
		switch loan.Status {
		case models.LoanStatusActive:
			summary.ActiveLoans++
			summary.Outstanding = summary.Outstanding.Add(loan.TotalAmount.Sub(paid))
		case models.LoanStatusClosed:
			summary.ClosedLoans++
		}
	}
	return summary, nil
}

// portfolioState is everything a rollup needs, read in one pass.
type portfolioState struct {
	borrowers    map[uuid.UUID]*models.Borrower
	loans        map[uuid.UUID]*models.Loan
	installments []*models.Installment
}

func (p *Portfolio) load() (*portfolioState, error) {
	borrowers, err := p.storage.GetAllBorrowers()
	if err != nil {
		return nil, err
	}
	loans, err := p.storage.GetAllLoans()
	if err != nil {
		return nil, err
	}
	installments, err := p.storage.GetAllInstallments()
	if err != nil {
		return nil, err
	}
	st := &portfolioState{
		borrowers:    make(map[uuid.UUID]*models.Borrower, len(borrowers)),
		loans:        make(map[uuid.UUID]*models.Loan, len(loans)),
		installments: installments,
	}
	for _, b := range borrowers {
		st.borrowers[b.ID] = b
	}
	for _, loan := range loans {
		st.loans[loan.ID] = loan
	}
	return st, nil
}

func (st *portfolioState) activeLoanOf(inst *models.Installment) (*models.Loan, bool) {
	loan, ok := st.loans[inst.LoanID]
	return loan, ok && loan.Status == models.LoanStatusActive
}

func (st *portfolioState) borrowerName(loan *models.Loan) string {
	if b, ok := st.borrowers[loan.BorrowerID]; ok {
		return b.Name
	}
	return ""
}

type Dashboard struct {
	TotalDisbursed     decimal.Decimal `json:"total_disbursed"`
	TotalReceivable    decimal.Decimal `json:"total_receivable"`
	ExpectedThisMonth  decimal.Decimal `json:"expected_this_month"`
	ReceivedThisMonth  decimal.Decimal `json:"received_this_month"`
	PendingThisMonth   decimal.Decimal `json:"pending_this_month"`
	OverdueCount       int             `json:"overdue_count"`
	OverdueAmount      decimal.Decimal `json:"overdue_amount"`
	ActiveLoans        int             `json:"active_loans"`
	BorrowersWithLoans int             `json:"borrowers_with_loans"`
}

func (p *Portfolio) Dashboard(today time.Time) (*Dashboard, error) {
	st, err := p.load()
	if err != nil {
		return nil, err
	}

	d := &Dashboard{
		TotalDisbursed:    decimal.Zero,
		TotalReceivable:   decimal.Zero,
		ExpectedThisMonth: decimal.Zero,
		ReceivedThisMonth: decimal.Zero,
		OverdueAmount:     decimal.Zero,
	}
	borrowers := make(map[uuid.UUID]struct{})
	for _, loan := range st.loans {
		d.TotalDisbursed = d.TotalDisbursed.Add(loan.Principal)
		borrowers[loan.BorrowerID] = struct{}{}
		if loan.Status == models.LoanStatusActive {
			d.ActiveLoans++
			d.TotalReceivable = d.TotalReceivable.Add(loan.TotalAmount)
		}
	}
	d.BorrowersWithLoans = len(borrowers)

	for _, inst := range st.installments {
		if _, active := st.activeLoanOf(inst); !active {
			continue
		}
		d.TotalReceivable = d.TotalReceivable.Sub(inst.AmountPaid)
		if sameMonth(inst.DueDate, today) {
			d.ExpectedThisMonth = d.ExpectedThisMonth.Add(inst.AmountDue)
			d.ReceivedThisMonth = d.ReceivedThisMonth.Add(inst.AmountPaid)
		}
		if isPastDueUnpaid(inst, today) {
			d.OverdueCount++
			d.OverdueAmount = d.OverdueAmount.Add(inst.RemainingAmount())
		}
	}
	d.PendingThisMonth = d.ExpectedThisMonth.Sub(d.ReceivedThisMonth)
	return d, nil
}

// InstallmentItem is an installment with the loan context reports show next to it.
type InstallmentItem struct {
	Installment  *models.Installment `json:"installment"`
	BorrowerName string              `json:"borrower_name"`
	Remaining    decimal.Decimal     `json:"remaining"`
	DaysOverdue  int                 `json:"days_overdue,omitempty"`
}

type InstallmentList struct {
	Items []InstallmentItem `json:"items"`
	Total decimal.Decimal   `json:"total"`
}

// Overdue lists installments of active loans that are past due with something
// left to pay, oldest first. Partly paid installments are included. Total is
// the sum of their remaining amounts.
func (p *Portfolio) Overdue(today time.Time) (*InstallmentList, error) {
	st, err := p.load()
	if err != nil {
		return nil, err
	}
	list := &InstallmentList{Items: []InstallmentItem{}, Total: decimal.Zero}
	for _, inst := range st.installments {
		loan, active := st.activeLoanOf(inst)
		if !active || !isPastDueUnpaid(inst, today) {
			continue
		}
		ApplyStatus(inst, today)
		list.Items = append(list.Items, InstallmentItem{
			Installment:  inst,
			BorrowerName: st.borrowerName(loan),
			Remaining:    inst.RemainingAmount(),
			DaysOverdue:  DaysOverdue(inst, today),
		})
		list.Total = list.Total.Add(inst.RemainingAmount())
	}
	return list, nil
}

// UpcomingDues lists Pending installments of active loans due between today
// and today+days inclusive. Total is the sum of their amounts due.
func (p *Portfolio) UpcomingDues(today time.Time, days int) (*InstallmentList, error) {
	st, err := p.load()
	if err != nil {
		return nil, err
	}
	from := DateOf(today)
	until := from.AddDate(0, 0, days)
	list := &InstallmentList{Items: []InstallmentItem{}, Total: decimal.Zero}
	for _, inst := range st.installments {
		loan, active := st.activeLoanOf(inst)
		if !active || inst.DueDate.Before(from) || inst.DueDate.After(until) {
			continue
		}
		if DeriveStatus(inst.AmountDue, inst.AmountPaid, inst.DueDate, today) != models.InstallmentPending {
			continue
		}
		ApplyStatus(inst, today)
		list.Items = append(list.Items, InstallmentItem{
			Installment:  inst,
			BorrowerName: st.borrowerName(loan),
			Remaining:    inst.RemainingAmount(),
		})
		list.Total = list.Total.Add(inst.AmountDue)
	}
	return list, nil
}

type PaymentItem struct {
	Payment           *models.Payment `json:"payment"`
	LoanID            uuid.UUID       `json:"loan_id"`
	InstallmentNumber int             `json:"installment_number"`
	BorrowerName      string          `json:"borrower_name"`
}

// RecentPayments returns up to limit payments, newest first.
func (p *Portfolio) RecentPayments(limit int) ([]PaymentItem, error) {
	payments, err := p.storage.GetAllPayments()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(payments) > limit {
		payments = payments[:limit]
	}
	st, err := p.load()
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*models.Installment, len(st.installments))
	for _, inst := range st.installments {
		byID[inst.ID] = inst
	}

	items := make([]PaymentItem, 0, len(payments))
	for _, payment := range payments {
		item := PaymentItem{Payment: payment}
		if inst, ok := byID[payment.InstallmentID]; ok {
			item.LoanID = inst.LoanID
			item.InstallmentNumber = inst.InstallmentNumber
			if loan, ok := st.loans[inst.LoanID]; ok {
				item.BorrowerName = st.borrowerName(loan)
			}
		}
		items = append(items, item)
	}
	return items, nil
}

type MonthlyCollection struct {
	Year           int               `json:"year"`
	Month          time.Month        `json:"month"`
	TotalDue       decimal.Decimal   `json:"total_due"`
	TotalCollected decimal.Decimal   `json:"total_collected"`
	CollectionRate decimal.Decimal   `json:"collection_rate"` // Percent, two decimal places
	Installments   []InstallmentItem `json:"installments"`
}

// MonthlyCollection reports what active loans owed and collected against
// installments due in the given month.
func (p *Portfolio) MonthlyCollection(year int, month time.Month, today time.Time) (*MonthlyCollection, error) {
	st, err := p.load()
	if err != nil {
		return nil, err
	}
	target := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	report := &MonthlyCollection{
		Year:           year,
		Month:          month,
		TotalDue:       decimal.Zero,
		TotalCollected: decimal.Zero,
		CollectionRate: decimal.Zero,
		Installments:   []InstallmentItem{},
	}
	for _, inst := range st.installments {
		loan, active := st.activeLoanOf(inst)
		if !active || !sameMonth(inst.DueDate, target) {
			continue
		}
		ApplyStatus(inst, today)
		report.TotalDue = report.TotalDue.Add(inst.AmountDue)
		report.TotalCollected = report.TotalCollected.Add(inst.AmountPaid)
		report.Installments = append(report.Installments, InstallmentItem{
			Installment:  inst,
			BorrowerName: st.borrowerName(loan),
			Remaining:    inst.RemainingAmount(),
			DaysOverdue:  DaysOverdue(inst, today),
		})
	}
	if report.TotalDue.IsPositive() {
		report.CollectionRate = report.TotalCollected.Mul(hundred).Div(report.TotalDue).Round(2)
	}
	return report, nil
}

type MonthIncome struct {
	Month     time.Time       `json:"month"` // First day of the month
	Disbursed decimal.Decimal `json:"disbursed"`
	Expected  decimal.Decimal `json:"expected"`
	Received  decimal.Decimal `json:"received"`
}

// IncomeByMonth buckets disbursements (by start date), expected income (by due
// date) and received payments (by payment date) into calendar months, starting
// with the month of from.
func (p *Portfolio) IncomeByMonth(from time.Time, months int) ([]MonthIncome, error) {
	if months < 1 {
		return []MonthIncome{}, nil
	}
	st, err := p.load()
	if err != nil {
		return nil, err
	}
	payments, err := p.storage.GetAllPayments()
	if err != nil {
		return nil, err
	}

	first := monthStart(from)
	out := make([]MonthIncome, months)
	for i := range out {
		out[i] = MonthIncome{
			Month:     first.AddDate(0, i, 0),
			Disbursed: decimal.Zero,
			Expected:  decimal.Zero,
			Received:  decimal.Zero,
		}
	}
	bucket := func(t time.Time) int {
		i := (t.Year()-first.Year())*12 + int(t.Month()-first.Month())
		if i < 0 || i >= months {
			return -1
		}
		return i
	}

	for _, loan := range st.loans {
		if i := bucket(loan.StartDate); i >= 0 {
			out[i].Disbursed = out[i].Disbursed.Add(loan.Principal)
		}
	}
	for _, inst := range st.installments {
		if i := bucket(inst.DueDate); i >= 0 {
			out[i].Expected = out[i].Expected.Add(inst.AmountDue)
		}
	}
	for _, payment := range payments {
		if i := bucket(payment.PaymentDate); i >= 0 {
			out[i].Received = out[i].Received.Add(payment.Amount)
		}
	}
	return out, nil
}

type StatusBucket struct {
	Status         models.LoanStatus `json:"status"`
	Count          int               `json:"count"`
	TotalPrincipal decimal.Decimal   `json:"total_principal"`
}

// StatusDistribution counts loans per status, listing only statuses present,
// ordered by status name.
func (p *Portfolio) StatusDistribution() ([]StatusBucket, error) {
	loans, err := p.storage.GetAllLoans()
	if err != nil {
		return nil, err
	}
	buckets := make(map[models.LoanStatus]*StatusBucket)
	for _, loan := range loans {
		b, ok := buckets[loan.Status]
		if !ok {
			b = &StatusBucket{Status: loan.Status, TotalPrincipal: decimal.Zero}
			buckets[loan.Status] = b
		}
		b.Count++
		b.TotalPrincipal = b.TotalPrincipal.Add(loan.Principal)
	}
	out := make([]StatusBucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out, nil
}
