package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/microloan/pkg/errs"
	"github.com/mcclellann/microloan/pkg/lock"
	"github.com/mcclellann/microloan/pkg/models"
	"github.com/mcclellann/microloan/pkg/money"
	"github.com/mcclellann/microloan/pkg/store"
	"github.com/shopspring/decimal"
)

// Ledger handles the business logic for borrowers, loans, installments and payments.
type Ledger struct {
	storage store.Storage
	locker  lock.Locker
	now     func() time.Time
	log     *slog.Logger
}

type Option func(*Ledger)

// WithLocker replaces the default in-process locker.
func WithLocker(l lock.Locker) Option {
	return func(led *Ledger) { led.locker = l }
}

// WithClock sets the source of the current time; "today" is its calendar date.
func WithClock(now func() time.Time) Option {
	return func(led *Ledger) { led.now = now }
}

func WithLogger(log *slog.Logger) Option {
	return func(led *Ledger) { led.log = log }
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, opts ...Option) *Ledger {
	l := &Ledger{
		storage: s,
		locker:  lock.NewKeyedMutex(),
		now:     time.Now,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Today returns the current calendar date.
func (l *Ledger) Today() time.Time {
	return DateOf(l.now())
}

func (l *Ledger) lockLoan(ctx context.Context, loanID uuid.UUID) (func(), error) {
	unlock, err := l.locker.Lock(ctx, "loan:"+loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to lock loan %s: %w", loanID, err)
	}
	return unlock, nil
}

// Borrowers

type BorrowerInput struct {
	Name    string `json:"name" validate:"required,max=100"`
	Phone   string `json:"phone" validate:"required,phone"`
	Email   string `json:"email" validate:"omitempty,email"`
	Address string `json:"address" validate:"required"`
}

func (l *Ledger) CreateBorrower(in BorrowerInput) (*models.Borrower, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	now := l.now()
	b := &models.Borrower{
		ID:        uuid.New(),
		Name:      strings.TrimSpace(in.Name),
		Phone:     strings.TrimSpace(in.Phone),
		Email:     strings.TrimSpace(in.Email),
		Address:   strings.TrimSpace(in.Address),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.storage.CreateBorrower(b); err != nil {
		return nil, fmt.Errorf("failed to store borrower: %w", err)
	}
	l.log.Info("borrower created", "borrower_id", b.ID)
	return b, nil
}

func (l *Ledger) UpdateBorrower(id uuid.UUID, in BorrowerInput) (*models.Borrower, error) {
	if err := validateStruct(in); err != nil {
		return nil, err
	}
	b, err := l.storage.GetBorrower(id)
	if err != nil {
		return nil, err
	}
	b.Name = strings.TrimSpace(in.Name)
	b.Phone = strings.TrimSpace(in.Phone)
	b.Email = strings.TrimSpace(in.Email)
	b.Address = strings.TrimSpace(in.Address)
	b.UpdatedAt = l.now()
	if err := l.storage.UpdateBorrower(b); err != nil {
		return nil, err
	}
	return b, nil
}

func (l *Ledger) GetBorrower(id uuid.UUID) (*models.Borrower, error) {
	return l.storage.GetBorrower(id)
}

// ListBorrowers returns borrowers whose name, phone or email contains search
// (case-insensitive). An empty search returns everyone.
func (l *Ledger) ListBorrowers(search string) ([]*models.Borrower, error) {
	all, err := l.storage.GetAllBorrowers()
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(search))
	if needle == "" {
		return all, nil
	}
	var out []*models.Borrower
	for _, b := range all {
		if strings.Contains(strings.ToLower(b.Name), needle) ||
			strings.Contains(strings.ToLower(b.Phone), needle) ||
			strings.Contains(strings.ToLower(b.Email), needle) {
			out = append(out, b)
		}
	}
	return out, nil
}

// DeleteBorrower removes a borrower and everything they own. Borrowers with
// active loans cannot be deleted.
func (l *Ledger) DeleteBorrower(id uuid.UUID) error {
	if _, err := l.storage.GetBorrower(id); err != nil {
		return err
	}
	loans, err := l.storage.GetLoansForBorrower(id)
	if err != nil {
		return err
	}
	for _, loan := range loans {
		if loan.Status == models.LoanStatusActive {
			l.log.Warn("refused to delete borrower with active loans", "borrower_id", id)
			return errs.Invariant("Cannot delete borrower with active loans")
		}
	}
	return l.storage.DeleteBorrower(id)
}

// Loans

// LoanTerms are the caller-supplied fields of a loan. Everything else is derived.
type LoanTerms struct {
	BorrowerID        uuid.UUID       `json:"borrower_id"`
	Principal         decimal.Decimal `json:"principal" validate:"dgte=1000"`
	AnnualRatePercent decimal.Decimal `json:"annual_rate_percent" validate:"dgte=0,dlte=100"`
	TenureMonths      int             `json:"tenure_months" validate:"gte=1,lte=60"`
	StartDate         time.Time       `json:"start_date"`
	InstallmentDay    int             `json:"installment_day" validate:"gte=1,lte=31"`
}

func (l *Ledger) checkTerms(terms LoanTerms) (LoanDetails, error) {
	if err := validateStruct(terms); err != nil {
		return LoanDetails{}, err
	}
	if terms.StartDate.IsZero() {
		return LoanDetails{}, errs.Validation("StartDate", "Start date is required")
	}
	if _, err := l.storage.GetBorrower(terms.BorrowerID); err != nil {
		return LoanDetails{}, err
	}
	return CalculateLoanDetails(terms.Principal, terms.AnnualRatePercent, terms.TenureMonths)
}

func applyTerms(loan *models.Loan, terms LoanTerms, details LoanDetails) {
	loan.BorrowerID = terms.BorrowerID
	loan.Principal = terms.Principal
	loan.AnnualRatePercent = terms.AnnualRatePercent
	loan.TenureMonths = terms.TenureMonths
	loan.StartDate = DateOf(terms.StartDate)
	loan.InstallmentDay = terms.InstallmentDay
	loan.TotalAmount = details.TotalAmount
	loan.MonthlyInstallment = details.MonthlyInstallment
}

// CreateLoan records a new active loan with its derived amounts. It does not
// generate the schedule; call GenerateSchedule next.
func (l *Ledger) CreateLoan(terms LoanTerms) (*models.Loan, error) {
	details, err := l.checkTerms(terms)
	if err != nil {
		return nil, err
	}

	now := l.now()
	loan := &models.Loan{
		ID:        uuid.New(),
		Status:    models.LoanStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	applyTerms(loan, terms, details)

	if err := l.storage.CreateLoan(loan); err != nil {
		return nil, fmt.Errorf("failed to store loan: %w", err)
	}
	l.log.Info("loan created", "loan_id", loan.ID, "borrower_id", loan.BorrowerID,
		"total", money.Format(loan.TotalAmount), "installment", money.Format(loan.MonthlyInstallment))
	return loan, nil
}

// GenerateSchedule creates and stores the installments of a loan that has none.
func (l *Ledger) GenerateSchedule(ctx context.Context, loanID uuid.UUID) ([]*models.Installment, error) {
	unlock, err := l.lockLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var installments []*models.Installment
	err = l.storage.RunInTx(ctx, func(tx store.Storage) error {
		loan, err := tx.GetLoan(loanID)
		if err != nil {
			return err
		}
		installments, err = l.generateSchedule(tx, loan)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.log.Info("schedule generated", "loan_id", loanID, "installments", len(installments))
	return installments, nil
}

func (l *Ledger) generateSchedule(tx store.Storage, loan *models.Loan) ([]*models.Installment, error) {
	existing, err := tx.GetInstallmentsForLoan(loan.ID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, errs.Invariant("loan %s already has %d installments; remove them before regenerating the schedule", loan.ID, len(existing))
	}

	installments, err := BuildSchedule(loan)
	if err != nil {
		return nil, err
	}
	today := l.Today()
	for _, inst := range installments {
		ApplyStatus(inst, today)
	}
	if err := tx.CreateInstallments(installments); err != nil {
		return nil, err
	}
	return installments, nil
}

// OriginateLoan creates a loan and generates its schedule.
func (l *Ledger) OriginateLoan(ctx context.Context, terms LoanTerms) (*models.Loan, []*models.Installment, error) {
	loan, err := l.CreateLoan(terms)
	if err != nil {
		return nil, nil, err
	}
	installments, err := l.GenerateSchedule(ctx, loan.ID)
	if err != nil {
		return loan, nil, err
	}
	return loan, installments, nil
}

// RebuildLoan replaces a loan's terms and regenerates its schedule. Only loans
// with nothing paid can be rebuilt.
func (l *Ledger) RebuildLoan(ctx context.Context, loanID uuid.UUID, terms LoanTerms) (*models.Loan, []*models.Installment, error) {
	details, err := l.checkTerms(terms)
	if err != nil {
		return nil, nil, err
	}

	unlock, err := l.lockLoan(ctx, loanID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	var loan *models.Loan
	var installments []*models.Installment
	err = l.storage.RunInTx(ctx, func(tx store.Storage) error {
		loan, err = tx.GetLoan(loanID)
		if err != nil {
			return err
		}
		paid, err := paidAmount(tx, loanID)
		if err != nil {
			return err
		}
		if paid.IsPositive() {
			return errs.Invariant("Cannot edit loan after payments have been made")
		}
		if err := tx.DeleteInstallmentsForLoan(loanID); err != nil {
			return err
		}
		applyTerms(loan, terms, details)
		loan.UpdatedAt = l.now()
		if err := tx.UpdateLoan(loan); err != nil {
			return err
		}
		installments, err = l.generateSchedule(tx, loan)
		return err
	})
	if err != nil {
		if errs.IsInvariant(err) {
			l.log.Warn("loan rebuild refused", "loan_id", loanID, "reason", err)
		}
		return nil, nil, err
	}
	l.log.Info("loan rebuilt", "loan_id", loanID, "installments", len(installments))
	return loan, installments, nil
}

// GetLoan retrieves a loan by its ID.
func (l *Ledger) GetLoan(id uuid.UUID) (*models.Loan, error) {
	return l.storage.GetLoan(id)
}

type LoanFilter struct {
	BorrowerName  string
	Status        models.LoanStatus
	StartDateFrom time.Time
	StartDateTo   time.Time
}

// ListLoans retrieves loans matching every non-zero field of f.
func (l *Ledger) ListLoans(f LoanFilter) ([]*models.Loan, error) {
	loans, err := l.storage.GetAllLoans()
	if err != nil {
		return nil, err
	}

	var borrowerNames map[uuid.UUID]string
	needle := strings.ToLower(strings.TrimSpace(f.BorrowerName))
	if needle != "" {
		borrowers, err := l.storage.GetAllBorrowers()
		if err != nil {
			return nil, err
		}
		borrowerNames = make(map[uuid.UUID]string, len(borrowers))
		for _, b := range borrowers {
			borrowerNames[b.ID] = strings.ToLower(b.Name)
		}
	}

	var out []*models.Loan
	for _, loan := range loans {
		if f.Status != "" && loan.Status != f.Status {
			continue
		}
		if !f.StartDateFrom.IsZero() && loan.StartDate.Before(DateOf(f.StartDateFrom)) {
			continue
		}
		if !f.StartDateTo.IsZero() && loan.StartDate.After(DateOf(f.StartDateTo)) {
			continue
		}
		if needle != "" && !strings.Contains(borrowerNames[loan.BorrowerID], needle) {
			continue
		}
		out = append(out, loan)
	}
	return out, nil
}

// DeleteLoan removes a loan and its schedule. Loans with payments cannot be deleted.
func (l *Ledger) DeleteLoan(id uuid.UUID) error {
	if _, err := l.storage.GetLoan(id); err != nil {
		return err
	}
	paid, err := paidAmount(l.storage, id)
	if err != nil {
		return err
	}
	if paid.IsPositive() {
		l.log.Warn("refused to delete loan with payments", "loan_id", id)
		return errs.Invariant("Cannot delete loan after payments have been made")
	}
	return l.storage.DeleteLoan(id)
}

// PaidAmount is the total paid so far across the loan's installments.
func (l *Ledger) PaidAmount(loanID uuid.UUID) (decimal.Decimal, error) {
	if _, err := l.storage.GetLoan(loanID); err != nil {
		return decimal.Zero, err
	}
	return paidAmount(l.storage, loanID)
}

func paidAmount(s store.Storage, loanID uuid.UUID) (decimal.Decimal, error) {
	installments, err := s.GetInstallmentsForLoan(loanID)
	if err != nil {
		return decimal.Zero, err
	}
	return sumPaid(installments), nil
}

func sumPaid(installments []*models.Installment) decimal.Decimal {
	total := decimal.Zero
	for _, inst := range installments {
		total = total.Add(inst.AmountPaid)
	}
	return total
}

// TermsOf returns the terms a loan was created with.
func TermsOf(loan *models.Loan) LoanTerms {
	return LoanTerms{
		BorrowerID:        loan.BorrowerID,
		Principal:         loan.Principal,
		AnnualRatePercent: loan.AnnualRatePercent,
		TenureMonths:      loan.TenureMonths,
		StartDate:         loan.StartDate,
		InstallmentDay:    loan.InstallmentDay,
	}
}

// MisalignedLoans finds active loans whose first installment is due in the
// month the loan started, which schedules built by older releases did.
func (l *Ledger) MisalignedLoans() ([]*models.Loan, error) {
	loans, err := l.storage.GetAllActiveLoans()
	if err != nil {
		return nil, err
	}
	var out []*models.Loan
	for _, loan := range loans {
		installments, err := l.storage.GetInstallmentsForLoan(loan.ID)
		if err != nil {
			return nil, err
		}
		if len(installments) > 0 && sameMonth(installments[0].DueDate, loan.StartDate) {
			out = append(out, loan)
		}
	}
	return out, nil
}

// UnroundedLoans finds loans whose total or monthly installment has a
// fractional part, which releases before whole-unit rounding could store.
func (l *Ledger) UnroundedLoans() ([]*models.Loan, error) {
	loans, err := l.storage.GetAllLoans()
	if err != nil {
		return nil, err
	}
	var out []*models.Loan
	for _, loan := range loans {
		if !isWhole(loan.TotalAmount) || !isWhole(loan.MonthlyInstallment) {
			out = append(out, loan)
		}
	}
	return out, nil
}

func isWhole(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(0))
}

// RoundLoanAmounts rounds a loan's total and monthly installment to whole units
// and stamps the new installment amount on every installment of its schedule.
// Payments are left as recorded; installment statuses are re-derived.
func (l *Ledger) RoundLoanAmounts(ctx context.Context, loanID uuid.UUID) (*models.Loan, error) {
	unlock, err := l.lockLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var loan *models.Loan
	err = l.storage.RunInTx(ctx, func(tx store.Storage) error {
		loan, err = tx.GetLoan(loanID)
		if err != nil {
			return err
		}
		now := l.now()
		loan.TotalAmount = money.Whole(loan.TotalAmount)
		loan.MonthlyInstallment = money.Whole(loan.MonthlyInstallment)
		loan.UpdatedAt = now
		if err := tx.UpdateLoan(loan); err != nil {
			return err
		}

		installments, err := tx.GetInstallmentsForLoan(loanID)
		if err != nil {
			return err
		}
		today := l.Today()
		for _, inst := range installments {
			inst.AmountDue = loan.MonthlyInstallment
			ApplyStatus(inst, today)
			inst.UpdatedAt = now
			if err := tx.UpdateInstallment(inst); err != nil {
				return fmt.Errorf("installment %s: %w", inst.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.log.Info("loan amounts rounded", "loan_id", loanID,
		"total", money.Format(loan.TotalAmount), "installment", money.Format(loan.MonthlyInstallment))
	return loan, nil
}

// Installments

// GetInstallment returns an installment with its status derived as of today.
func (l *Ledger) GetInstallment(id uuid.UUID) (*models.Installment, error) {
	inst, err := l.storage.GetInstallment(id)
	if err != nil {
		return nil, err
	}
	ApplyStatus(inst, l.Today())
	return inst, nil
}

// GetInstallments returns a loan's schedule with statuses derived as of today.
func (l *Ledger) GetInstallments(loanID uuid.UUID) ([]*models.Installment, error) {
	if _, err := l.storage.GetLoan(loanID); err != nil {
		return nil, err
	}
	installments, err := l.storage.GetInstallmentsForLoan(loanID)
	if err != nil {
		return nil, err
	}
	today := l.Today()
	for _, inst := range installments {
		ApplyStatus(inst, today)
	}
	return installments, nil
}
