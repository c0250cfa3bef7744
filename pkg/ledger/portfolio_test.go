package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/mcclellann/microloan/pkg/errs"
	"github.com/mcclellann/microloan/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type portfolioFixture struct {
	ledger    *Ledger
	portfolio *Portfolio
	store     *MockStore
	clock     *testClock
	asha      *models.Borrower
	ravi      *models.Borrower
	ashaLoan  *models.Loan
	raviLoan  *models.Loan
	ashaInsts []*models.Installment
	raviInsts []*models.Installment
}

// newPortfolioFixture books two loans in January and pays against them in
// February, then moves the clock to 2024-03-10.
//
//	Asha: 12000 at 0% over 12 months, due on the 5th, 1000 per month.
//	Ravi: 100000 at 24% over 12 months, due on the 20th, 10333 per month.
func newPortfolioFixture(t *testing.T) *portfolioFixture {
	t.Helper()
	l, s, clock := newTestLedger(t, date(2024, 1, 15))
	f := &portfolioFixture{ledger: l, portfolio: NewPortfolio(s), store: s, clock: clock}
	f.asha = createBorrower(t, l, "Asha Verma")
	f.ravi = createBorrower(t, l, "Ravi Kumar")
	f.ashaLoan, f.ashaInsts = originate(t, l, loanTerms(f.asha.ID, "12000", "0", 12, date(2024, 1, 15), 5))
	f.raviLoan, f.raviInsts = originate(t, l, loanTerms(f.ravi.ID, "100000", "24", 12, date(2024, 1, 20), 20))

	clock.Set(date(2024, 2, 5))
	pay(t, l, f.ashaInsts[0].ID, "1000")
	pay(t, l, f.ashaInsts[1].ID, "300")
	clock.Set(date(2024, 2, 20))
	pay(t, l, f.raviInsts[0].ID, "10333")

	clock.Set(date(2024, 3, 10))
	return f
}

func TestPortfolio_LoanSummary(t *testing.T) {
	f := newPortfolioFixture(t)
	today := f.ledger.Today()

	summary, err := f.portfolio.LoanSummary(f.ashaLoan.ID, today)
	require.NoError(t, err)
	assert.Equal(t, "1300", summary.Paid.String())
	assert.Equal(t, "10700", summary.Outstanding.String())
	assert.True(t, summary.RoundingRemainder.IsZero())
	assert.Equal(t, 1, summary.StatusCounts[models.InstallmentPaid])
	assert.Equal(t, 1, summary.StatusCounts[models.InstallmentPartial])
	assert.Equal(t, 10, summary.StatusCounts[models.InstallmentPending])
	require.Len(t, summary.Overdue, 1)
	assert.Equal(t, 2, summary.Overdue[0].InstallmentNumber)
	require.NotNil(t, summary.NextPending)
	assert.Equal(t, 3, summary.NextPending.InstallmentNumber)

	summary, err = f.portfolio.LoanSummary(f.raviLoan.ID, today)
	require.NoError(t, err)
	assert.Equal(t, "4", summary.RoundingRemainder.String())
	assert.Equal(t, "113667", summary.Outstanding.String())

	_, err = f.portfolio.LoanSummary(f.asha.ID, today)
	assert.True(t, errs.IsNotFound(err))
}

func TestPortfolio_BorrowerOutstanding(t *testing.T) {
	f := newPortfolioFixture(t)

	outstanding, err := f.portfolio.BorrowerOutstanding(f.asha.ID)
	require.NoError(t, err)
	assert.Equal(t, "10700", outstanding.String())

	extra, _ := originate(t, f.ledger, loanTerms(f.asha.ID, "1200", "0", 1, date(2024, 3, 1), 5))
	outstanding, err = f.portfolio.BorrowerOutstanding(f.asha.ID)
	require.NoError(t, err)
	assert.Equal(t, "11900", outstanding.String())

	_, err = f.ledger.MarkDefaulted(context.Background(), extra.ID)
	require.NoError(t, err)
	outstanding, err = f.portfolio.BorrowerOutstanding(f.asha.ID)
	require.NoError(t, err)
	assert.Equal(t, "10700", outstanding.String())
}

func TestPortfolio_BorrowerSummary(t *testing.T) {
	f := newPortfolioFixture(t)
	small, insts := originate(t, f.ledger, loanTerms(f.asha.ID, "1200", "0", 1, date(2024, 1, 1), 5))
	pay(t, f.ledger, insts[0].ID, "1200")
	closed, err := f.ledger.CloseLoan(context.Background(), small.ID)
	require.NoError(t, err)
	require.True(t, closed)

	summary, err := f.portfolio.BorrowerSummary(f.asha.ID, f.ledger.Today())
	require.NoError(t, err)
	assert.Equal(t, "13200", summary.TotalBorrowed.String())
	assert.Equal(t, "2500", summary.TotalPaid.String())
	assert.Equal(t, "10700", summary.Outstanding.String())
	assert.Equal(t, 1, summary.OverdueCount)
	assert.Equal(t, 1, summary.ActiveLoans)
	assert.Equal(t, 1, summary.ClosedLoans)
}

func TestPortfolio_Dashboard(t *testing.T) {
	f := newPortfolioFixture(t)

	d, err := f.portfolio.Dashboard(f.ledger.Today())
	require.NoError(t, err)
	assert.Equal(t, "112000", d.TotalDisbursed.String())
	assert.Equal(t, "124367", d.TotalReceivable.String())
	assert.Equal(t, "11333", d.ExpectedThisMonth.String())
	assert.Equal(t, "300", d.ReceivedThisMonth.String())
	assert.Equal(t, "11033", d.PendingThisMonth.String())
	assert.Equal(t, 1, d.OverdueCount)
	assert.Equal(t, "700", d.OverdueAmount.String())
	assert.Equal(t, 2, d.ActiveLoans)
	assert.Equal(t, 2, d.BorrowersWithLoans)
}

func TestPortfolio_IsIdempotent(t *testing.T) {
	f := newPortfolioFixture(t)
	today := f.ledger.Today()

	d1, err := f.portfolio.Dashboard(today)
	require.NoError(t, err)
	d2, err := f.portfolio.Dashboard(today)
	require.NoError(t, err)
	assert.Equal(t, d1, d2)

	o1, err := f.portfolio.Overdue(today)
	require.NoError(t, err)
	o2, err := f.portfolio.Overdue(today)
	require.NoError(t, err)
	assert.Equal(t, o1, o2)

	m1, err := f.portfolio.MonthlyCollection(2024, time.February, today)
	require.NoError(t, err)
	m2, err := f.portfolio.MonthlyCollection(2024, time.February, today)
	require.NoError(t, err)
	assert.Equal(t, m1, m2)

	s1, err := f.portfolio.StatusDistribution()
	require.NoError(t, err)
	s2, err := f.portfolio.StatusDistribution()
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
}

func TestPortfolio_ReflectsNewPayments(t *testing.T) {
	f := newPortfolioFixture(t)
	today := f.ledger.Today()

	before, err := f.portfolio.Dashboard(today)
	require.NoError(t, err)
	pay(t, f.ledger, f.ashaInsts[1].ID, "700")
	after, err := f.portfolio.Dashboard(today)
	require.NoError(t, err)

	assert.Equal(t, "700", before.TotalReceivable.Sub(after.TotalReceivable).String())
	assert.Zero(t, after.OverdueCount)
	assert.True(t, after.OverdueAmount.IsZero())
}

func TestPortfolio_Overdue(t *testing.T) {
	f := newPortfolioFixture(t)
	f.clock.Set(date(2024, 3, 25))
	today := f.ledger.Today()

	list, err := f.portfolio.Overdue(today)
	require.NoError(t, err)
	require.Len(t, list.Items, 2)

	partial := list.Items[0]
	assert.Equal(t, f.ashaInsts[1].ID, partial.Installment.ID)
	assert.Equal(t, models.InstallmentPartial, partial.Installment.Status)
	assert.Equal(t, "700", partial.Remaining.String())
	assert.Equal(t, 20, partial.DaysOverdue)
	assert.Equal(t, "Asha Verma", partial.BorrowerName)

	unpaid := list.Items[1]
	assert.Equal(t, models.InstallmentOverdue, unpaid.Installment.Status)
	assert.Equal(t, 5, unpaid.DaysOverdue)
	assert.Equal(t, "Ravi Kumar", unpaid.BorrowerName)
	assert.Equal(t, "11033", list.Total.String())

	_, err = f.ledger.MarkDefaulted(context.Background(), f.raviLoan.ID)
	require.NoError(t, err)
	list, err = f.portfolio.Overdue(today)
	require.NoError(t, err)
	assert.Len(t, list.Items, 1)
}

func TestPortfolio_UpcomingDues(t *testing.T) {
	f := newPortfolioFixture(t)

	// Asha's March installment is partly paid, so only Ravi's is upcoming.
	list, err := f.portfolio.UpcomingDues(date(2024, 3, 5), 15)
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, date(2024, 3, 20), list.Items[0].Installment.DueDate)

	list, err = f.portfolio.UpcomingDues(date(2024, 4, 1), 19)
	require.NoError(t, err)
	require.Len(t, list.Items, 2)
	assert.Equal(t, date(2024, 4, 5), list.Items[0].Installment.DueDate)
	assert.Equal(t, date(2024, 4, 20), list.Items[1].Installment.DueDate)
	assert.Equal(t, "11333", list.Total.String())

	list, err = f.portfolio.UpcomingDues(date(2024, 4, 1), 18)
	require.NoError(t, err)
	assert.Len(t, list.Items, 1)
}

func TestPortfolio_RecentPayments(t *testing.T) {
	f := newPortfolioFixture(t)

	items, err := f.portfolio.RecentPayments(2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Ravi Kumar", items[0].BorrowerName)
	assert.Equal(t, f.raviLoan.ID, items[0].LoanID)
	assert.Equal(t, "300", items[1].Payment.Amount.String())
	assert.Equal(t, 2, items[1].InstallmentNumber)
}

func TestPortfolio_MonthlyCollection(t *testing.T) {
	f := newPortfolioFixture(t)

	report, err := f.portfolio.MonthlyCollection(2024, time.February, f.ledger.Today())
	require.NoError(t, err)
	assert.Equal(t, "11333", report.TotalDue.String())
	assert.Equal(t, "100.00", report.CollectionRate.StringFixed(2))

	report, err = f.portfolio.MonthlyCollection(2024, time.March, f.ledger.Today())
	require.NoError(t, err)
	assert.Equal(t, "11333", report.TotalDue.String())
	assert.Equal(t, "300", report.TotalCollected.String())
	assert.Equal(t, "2.65", report.CollectionRate.StringFixed(2))
	require.Len(t, report.Installments, 2)
	assert.Equal(t, models.InstallmentPartial, report.Installments[0].Installment.Status)

	empty, err := f.portfolio.MonthlyCollection(2023, time.June, f.ledger.Today())
	require.NoError(t, err)
	assert.True(t, empty.CollectionRate.IsZero())
	assert.Empty(t, empty.Installments)
}

func TestPortfolio_IncomeByMonth(t *testing.T) {
	f := newPortfolioFixture(t)

	months, err := f.portfolio.IncomeByMonth(date(2024, 1, 20), 3)
	require.NoError(t, err)
	require.Len(t, months, 3)

	assert.Equal(t, date(2024, 1, 1), months[0].Month)
	assert.Equal(t, "112000", months[0].Disbursed.String())
	assert.True(t, months[0].Expected.IsZero())
	assert.True(t, months[0].Received.IsZero())

	assert.Equal(t, "11333", months[1].Expected.String())
	assert.Equal(t, "11633", months[1].Received.String())
	assert.Equal(t, date(2024, 3, 1), months[2].Month)
	assert.True(t, months[2].Received.IsZero())
}

func TestPortfolio_StatusDistribution(t *testing.T) {
	f := newPortfolioFixture(t)
	_, err := f.ledger.MarkDefaulted(context.Background(), f.raviLoan.ID)
	require.NoError(t, err)

	buckets, err := f.portfolio.StatusDistribution()
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, models.LoanStatusActive, buckets[0].Status)
	assert.Equal(t, 1, buckets[0].Count)
	assert.Equal(t, "12000", buckets[0].TotalPrincipal.String())
	assert.Equal(t, models.LoanStatusDefaulted, buckets[1].Status)
	assert.Equal(t, "100000", buckets[1].TotalPrincipal.String())
}
