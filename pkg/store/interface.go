package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/mcclellann/microloan/pkg/models"
)

// Storage defines the persistence boundary for borrowers, loans, installments and payments.
// Missing rows are reported as *errs.NotFoundError. Deletes cascade to owned rows.
type Storage interface {
	CreateBorrower(borrower *models.Borrower) error
	GetBorrower(id uuid.UUID) (*models.Borrower, error)
	UpdateBorrower(borrower *models.Borrower) error
	DeleteBorrower(id uuid.UUID) error
	GetAllBorrowers() ([]*models.Borrower, error)

	CreateLoan(loan *models.Loan) error
	GetLoan(id uuid.UUID) (*models.Loan, error)
	UpdateLoan(loan *models.Loan) error
	DeleteLoan(id uuid.UUID) error
	GetAllLoans() ([]*models.Loan, error)
	GetAllActiveLoans() ([]*models.Loan, error)
	GetLoansForBorrower(borrowerID uuid.UUID) ([]*models.Loan, error)

	CreateInstallments(installments []*models.Installment) error
	GetInstallment(id uuid.UUID) (*models.Installment, error)
	UpdateInstallment(installment *models.Installment) error
	GetInstallmentsForLoan(loanID uuid.UUID) ([]*models.Installment, error)
	GetAllInstallments() ([]*models.Installment, error)
	DeleteInstallmentsForLoan(loanID uuid.UUID) error

	CreatePayment(payment *models.Payment) error
	GetPaymentsForInstallment(installmentID uuid.UUID) ([]*models.Payment, error)
	GetAllPayments() ([]*models.Payment, error)

	// RunInTx runs fn against a Storage bound to a single transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	RunInTx(ctx context.Context, fn func(tx Storage) error) error

	Close() error
}
