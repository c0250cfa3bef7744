package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/mcclellann/microloan/pkg/errs"
	"github.com/mcclellann/microloan/pkg/models"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db   *sql.DB
	q    querier
	inTx bool
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", withPragmas(dataSourceName))
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON;")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	_, err = db.Exec("PRAGMA journal_mode = WAL;")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := newSQLiteStore(db)
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	slog.Info("database connection established and schema initialized", "path", dataSourceName)
	return s, nil
}

func newSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, q: db}
}

// withPragmas applies per-connection settings through the DSN so every pooled
// connection gets them, not only the one the PRAGMA statements ran on.
func withPragmas(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on&_busy_timeout=5000"
}

// initSchema creates the database tables if they don't already exist.
// Decimal fields are TEXT so no precision is lost.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS borrowers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		borrower_id TEXT NOT NULL,
		principal TEXT NOT NULL,
		annual_rate_percent TEXT NOT NULL,
		tenure_months INTEGER NOT NULL,
		start_date DATE NOT NULL,
		installment_day INTEGER NOT NULL,
		total_amount TEXT NOT NULL,
		monthly_installment TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY(borrower_id) REFERENCES borrowers(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_loans_borrower ON loans(borrower_id);
	CREATE TABLE IF NOT EXISTS installments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		installment_number INTEGER NOT NULL,
		due_date DATE NOT NULL,
		amount_due TEXT NOT NULL,
		amount_paid TEXT NOT NULL DEFAULT '0',
		payment_date DATE,
		status TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE(loan_id, installment_number),
		FOREIGN KEY(loan_id) REFERENCES loans(id) ON DELETE CASCADE
	);
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		installment_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		payment_date DATE NOT NULL,
		method TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		FOREIGN KEY(installment_id) REFERENCES installments(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_payments_installment ON payments(installment_id);
	`
	_, err := s.q.Exec(schema)
	return err
}

// RunInTx runs fn inside a transaction. Nested calls reuse the open transaction.
func (s *SQLiteStore) RunInTx(ctx context.Context, fn func(tx Storage) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&SQLiteStore{db: s.db, q: tx, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func checkAffected(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}

// Borrowers

const borrowerColumns = `id, name, phone, email, address, created_at, updated_at`

// CreateBorrower inserts a new borrower into the database.
func (s *SQLiteStore) CreateBorrower(b *models.Borrower) error {
	_, err := s.q.Exec(
		`INSERT INTO borrowers (`+borrowerColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID.String(), b.Name, b.Phone, b.Email, b.Address, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create borrower: %w", err)
	}
	return nil
}

// GetBorrower retrieves a borrower by its ID.
func (s *SQLiteStore) GetBorrower(id uuid.UUID) (*models.Borrower, error) {
	row := s.q.QueryRow(`SELECT `+borrowerColumns+` FROM borrowers WHERE id = ?`, id.String())
	b, err := scanBorrower(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.NotFound("borrower", id)
		}
		return nil, fmt.Errorf("failed to get borrower: %w", err)
	}
	return b, nil
}

// UpdateBorrower updates the contact details of an existing borrower.
func (s *SQLiteStore) UpdateBorrower(b *models.Borrower) error {
	result, err := s.q.Exec(
		`UPDATE borrowers SET name = ?, phone = ?, email = ?, address = ?, updated_at = ? WHERE id = ?`,
		b.Name, b.Phone, b.Email, b.Address, b.UpdatedAt, b.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update borrower: %w", err)
	}
	return checkAffected(result, errs.NotFound("borrower", b.ID))
}

// DeleteBorrower removes a borrower together with its loans, installments and payments.
func (s *SQLiteStore) DeleteBorrower(id uuid.UUID) error {
	return s.RunInTx(context.Background(), func(tx Storage) error {
		q := tx.(*SQLiteStore).q
		_, err := q.Exec(`DELETE FROM payments WHERE installment_id IN (
			SELECT i.id FROM installments i JOIN loans l ON l.id = i.loan_id WHERE l.borrower_id = ?)`, id.String())
		if err != nil {
			return fmt.Errorf("failed to delete borrower payments: %w", err)
		}
		_, err = q.Exec(`DELETE FROM installments WHERE loan_id IN (SELECT id FROM loans WHERE borrower_id = ?)`, id.String())
		if err != nil {
			return fmt.Errorf("failed to delete borrower installments: %w", err)
		}
		_, err = q.Exec(`DELETE FROM loans WHERE borrower_id = ?`, id.String())
		if err != nil {
			return fmt.Errorf("failed to delete borrower loans: %w", err)
		}
		result, err := q.Exec(`DELETE FROM borrowers WHERE id = ?`, id.String())
		if err != nil {
			return fmt.Errorf("failed to delete borrower: %w", err)
		}
		return checkAffected(result, errs.NotFound("borrower", id))
	})
}

// GetAllBorrowers retrieves all borrowers ordered by name.
func (s *SQLiteStore) GetAllBorrowers() ([]*models.Borrower, error) {
	rows, err := s.q.Query(`SELECT ` + borrowerColumns + ` FROM borrowers ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all borrowers: %w", err)
	}
	defer rows.Close()

	var borrowers []*models.Borrower
	for rows.Next() {
		b, err := scanBorrower(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan borrower row: %w", err)
		}
		borrowers = append(borrowers, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return borrowers, nil
}

func scanBorrower(row scanner) (*models.Borrower, error) {
	var b models.Borrower
	var idStr string
	if err := row.Scan(&idStr, &b.Name, &b.Phone, &b.Email, &b.Address, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.ID = uuid.MustParse(idStr)
	return &b, nil
}

// Loans

const loanColumns = `id, borrower_id, principal, annual_rate_percent, tenure_months, start_date, installment_day, total_amount, monthly_installment, status, created_at, updated_at`

// CreateLoan inserts a new loan into the database.
func (s *SQLiteStore) CreateLoan(loan *models.Loan) error {
	_, err := s.q.Exec(
		`INSERT INTO loans (`+loanColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.BorrowerID.String(), loan.Principal, loan.AnnualRatePercent, loan.TenureMonths,
		loan.StartDate, loan.InstallmentDay, loan.TotalAmount, loan.MonthlyInstallment, string(loan.Status),
		loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

// GetLoan retrieves a loan by its ID.
func (s *SQLiteStore) GetLoan(id uuid.UUID) (*models.Loan, error) {
	row := s.q.QueryRow(`SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String())
	loan, err := scanLoan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.NotFound("loan", id)
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

// UpdateLoan updates an existing loan in the database.
func (s *SQLiteStore) UpdateLoan(loan *models.Loan) error {
	result, err := s.q.Exec(
		`UPDATE loans SET borrower_id = ?, principal = ?, annual_rate_percent = ?, tenure_months = ?, start_date = ?, installment_day = ?, total_amount = ?, monthly_installment = ?, status = ?, updated_at = ? WHERE id = ?`,
		loan.BorrowerID.String(), loan.Principal, loan.AnnualRatePercent, loan.TenureMonths, loan.StartDate,
		loan.InstallmentDay, loan.TotalAmount, loan.MonthlyInstallment, string(loan.Status), loan.UpdatedAt, loan.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update loan: %w", err)
	}
	return checkAffected(result, errs.NotFound("loan", loan.ID))
}

// DeleteLoan removes a loan, its installments and their payments within a transaction.
func (s *SQLiteStore) DeleteLoan(id uuid.UUID) error {
	return s.RunInTx(context.Background(), func(tx Storage) error {
		q := tx.(*SQLiteStore).q
		_, err := q.Exec(`DELETE FROM payments WHERE installment_id IN (SELECT id FROM installments WHERE loan_id = ?)`, id.String())
		if err != nil {
			return fmt.Errorf("failed to delete associated payments: %w", err)
		}
		_, err = q.Exec(`DELETE FROM installments WHERE loan_id = ?`, id.String())
		if err != nil {
			return fmt.Errorf("failed to delete associated installments: %w", err)
		}
		result, err := q.Exec(`DELETE FROM loans WHERE id = ?`, id.String())
		if err != nil {
			return fmt.Errorf("failed to delete loan: %w", err)
		}
		return checkAffected(result, errs.NotFound("loan", id))
	})
}

// GetAllLoans retrieves all loans, newest start date first.
func (s *SQLiteStore) GetAllLoans() ([]*models.Loan, error) {
	rows, err := s.q.Query(`SELECT ` + loanColumns + ` FROM loans ORDER BY start_date DESC, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all loans: %w", err)
	}
	defer rows.Close()

	return scanLoans(rows)
}

// GetAllActiveLoans retrieves all active loans.
func (s *SQLiteStore) GetAllActiveLoans() ([]*models.Loan, error) {
	rows, err := s.q.Query(`SELECT `+loanColumns+` FROM loans WHERE status = ? ORDER BY start_date DESC, created_at DESC`, string(models.LoanStatusActive))
	if err != nil {
		return nil, fmt.Errorf("failed to get all active loans: %w", err)
	}
	defer rows.Close()

	return scanLoans(rows)
}

// GetLoansForBorrower retrieves every loan owned by a borrower.
func (s *SQLiteStore) GetLoansForBorrower(borrowerID uuid.UUID) ([]*models.Loan, error) {
	rows, err := s.q.Query(`SELECT `+loanColumns+` FROM loans WHERE borrower_id = ? ORDER BY start_date DESC, created_at DESC`, borrowerID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get loans for borrower %s: %w", borrowerID, err)
	}
	defer rows.Close()

	return scanLoans(rows)
}

func scanLoan(row scanner) (*models.Loan, error) {
	var loan models.Loan
	var idStr, borrowerIDStr, status string
	err := row.Scan(&idStr, &borrowerIDStr, &loan.Principal, &loan.AnnualRatePercent, &loan.TenureMonths,
		&loan.StartDate, &loan.InstallmentDay, &loan.TotalAmount, &loan.MonthlyInstallment, &status,
		&loan.CreatedAt, &loan.UpdatedAt)
	if err != nil {
		return nil, err
	}
	loan.ID = uuid.MustParse(idStr)
	loan.BorrowerID = uuid.MustParse(borrowerIDStr)
	loan.Status = models.LoanStatus(status)
	return &loan, nil
}

func scanLoans(rows *sql.Rows) ([]*models.Loan, error) {
	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

// Installments

const installmentColumns = `id, loan_id, installment_number, due_date, amount_due, amount_paid, payment_date, status, notes, created_at, updated_at`

// CreateInstallments inserts a generated schedule. A duplicate (loan, number) pair
// is reported as an invariant violation.
func (s *SQLiteStore) CreateInstallments(installments []*models.Installment) error {
	return s.RunInTx(context.Background(), func(tx Storage) error {
		q := tx.(*SQLiteStore).q
		for _, inst := range installments {
			_, err := q.Exec(
				`INSERT INTO installments (`+installmentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				inst.ID.String(), inst.LoanID.String(), inst.InstallmentNumber, inst.DueDate, inst.AmountDue,
				inst.AmountPaid, nullTime(inst.PaymentDate), string(inst.Status), inst.Notes, inst.CreatedAt, inst.UpdatedAt,
			)
			if err != nil {
				if isUniqueViolation(err) {
					return errs.Invariant("installment %d already exists for loan %s", inst.InstallmentNumber, inst.LoanID)
				}
				return fmt.Errorf("failed to create installment %d: %w", inst.InstallmentNumber, err)
			}
		}
		return nil
	})
}

// GetInstallment retrieves an installment by its ID.
func (s *SQLiteStore) GetInstallment(id uuid.UUID) (*models.Installment, error) {
	row := s.q.QueryRow(`SELECT `+installmentColumns+` FROM installments WHERE id = ?`, id.String())
	inst, err := scanInstallment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.NotFound("installment", id)
		}
		return nil, fmt.Errorf("failed to get installment: %w", err)
	}
	return inst, nil
}

// UpdateInstallment persists the ledger-owned fields of an installment.
func (s *SQLiteStore) UpdateInstallment(inst *models.Installment) error {
	result, err := s.q.Exec(
		`UPDATE installments SET amount_due = ?, amount_paid = ?, payment_date = ?, status = ?, notes = ?, updated_at = ? WHERE id = ?`,
		inst.AmountDue, inst.AmountPaid, nullTime(inst.PaymentDate), string(inst.Status), inst.Notes, inst.UpdatedAt, inst.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update installment: %w", err)
	}
	return checkAffected(result, errs.NotFound("installment", inst.ID))
}

// GetInstallmentsForLoan retrieves a loan's schedule ordered by installment number.
func (s *SQLiteStore) GetInstallmentsForLoan(loanID uuid.UUID) ([]*models.Installment, error) {
	rows, err := s.q.Query(`SELECT `+installmentColumns+` FROM installments WHERE loan_id = ? ORDER BY installment_number ASC`, loanID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get installments for loan %s: %w", loanID, err)
	}
	defer rows.Close()

	return scanInstallments(rows)
}

// GetAllInstallments retrieves every installment ordered by due date.
func (s *SQLiteStore) GetAllInstallments() ([]*models.Installment, error) {
	rows, err := s.q.Query(`SELECT ` + installmentColumns + ` FROM installments ORDER BY due_date ASC, installment_number ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all installments: %w", err)
	}
	defer rows.Close()

	return scanInstallments(rows)
}

// DeleteInstallmentsForLoan removes a loan's schedule and the payments recorded against it.
func (s *SQLiteStore) DeleteInstallmentsForLoan(loanID uuid.UUID) error {
	return s.RunInTx(context.Background(), func(tx Storage) error {
		q := tx.(*SQLiteStore).q
		_, err := q.Exec(`DELETE FROM payments WHERE installment_id IN (SELECT id FROM installments WHERE loan_id = ?)`, loanID.String())
		if err != nil {
			return fmt.Errorf("failed to delete associated payments: %w", err)
		}
		_, err = q.Exec(`DELETE FROM installments WHERE loan_id = ?`, loanID.String())
		if err != nil {
			return fmt.Errorf("failed to delete installments: %w", err)
		}
		return nil
	})
}

func scanInstallment(row scanner) (*models.Installment, error) {
	var inst models.Installment
	var idStr, loanIDStr, status string
	var paymentDate sql.NullTime
	err := row.Scan(&idStr, &loanIDStr, &inst.InstallmentNumber, &inst.DueDate, &inst.AmountDue, &inst.AmountPaid,
		&paymentDate, &status, &inst.Notes, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return nil, err
	}
	inst.ID = uuid.MustParse(idStr)
	inst.LoanID = uuid.MustParse(loanIDStr)
	inst.Status = models.InstallmentStatus(status)
	if paymentDate.Valid {
		inst.PaymentDate = &paymentDate.Time
	}
	return &inst, nil
}

func scanInstallments(rows *sql.Rows) ([]*models.Installment, error) {
	var installments []*models.Installment
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan installment row: %w", err)
		}
		installments = append(installments, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for installments: %w", err)
	}
	return installments, nil
}

// Payments

const paymentColumns = `id, installment_id, amount, payment_date, method, notes, created_at`

// CreatePayment inserts a new payment into the database.
func (s *SQLiteStore) CreatePayment(p *models.Payment) error {
	_, err := s.q.Exec(
		`INSERT INTO payments (`+paymentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.InstallmentID.String(), p.Amount, p.PaymentDate, string(p.Method), p.Notes, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// GetPaymentsForInstallment retrieves all payments for an installment in recording order.
func (s *SQLiteStore) GetPaymentsForInstallment(installmentID uuid.UUID) ([]*models.Payment, error) {
	rows, err := s.q.Query(`SELECT `+paymentColumns+` FROM payments WHERE installment_id = ? ORDER BY created_at ASC`, installmentID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get payments for installment %s: %w", installmentID, err)
	}
	defer rows.Close()

	return scanPayments(rows)
}

// GetAllPayments retrieves every payment, most recently recorded first.
func (s *SQLiteStore) GetAllPayments() ([]*models.Payment, error) {
	rows, err := s.q.Query(`SELECT ` + paymentColumns + ` FROM payments ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all payments: %w", err)
	}
	defer rows.Close()

	return scanPayments(rows)
}

func scanPayments(rows *sql.Rows) ([]*models.Payment, error) {
	var payments []*models.Payment
	for rows.Next() {
		var p models.Payment
		var idStr, installmentIDStr, method string
		if err := rows.Scan(&idStr, &installmentIDStr, &p.Amount, &p.PaymentDate, &method, &p.Notes, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment row: %w", err)
		}
		p.ID = uuid.MustParse(idStr)
		p.InstallmentID = uuid.MustParse(installmentIDStr)
		p.Method = models.PaymentMethod(method)
		payments = append(payments, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for payments: %w", err)
	}
	return payments, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
