package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Borrower struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email,omitempty"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type LoanStatus string

const (
	LoanStatusActive    LoanStatus = "ACTIVE"
	LoanStatusClosed    LoanStatus = "CLOSED"
	LoanStatusDefaulted LoanStatus = "DEFAULTED"
)

// Loan holds the agreed terms. TotalAmount and MonthlyInstallment are derived once
// from the terms when the loan is created or rebuilt.
type Loan struct {
	ID                 uuid.UUID       `json:"id"`
	BorrowerID         uuid.UUID       `json:"borrower_id"`
	Principal          decimal.Decimal `json:"principal"`
	AnnualRatePercent  decimal.Decimal `json:"annual_rate_percent"`
	TenureMonths       int             `json:"tenure_months"`
	StartDate          time.Time       `json:"start_date"`
	InstallmentDay     int             `json:"installment_day"` // Day of month (1-31), clamped to the month's last day
	TotalAmount        decimal.Decimal `json:"total_amount"`
	MonthlyInstallment decimal.Decimal `json:"monthly_installment"`
	Status             LoanStatus      `json:"status"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "PENDING"
	InstallmentPartial InstallmentStatus = "PARTIAL"
	InstallmentPaid    InstallmentStatus = "PAID"
	InstallmentOverdue InstallmentStatus = "OVERDUE"
)

// Installment is one scheduled repayment. AmountPaid and Status are owned by the
// ledger: AmountPaid is always the sum of the installment's payments.
type Installment struct {
	ID                uuid.UUID         `json:"id"`
	LoanID            uuid.UUID         `json:"loan_id"`
	InstallmentNumber int               `json:"installment_number"`
	DueDate           time.Time         `json:"due_date"`
	AmountDue         decimal.Decimal   `json:"amount_due"`
	AmountPaid        decimal.Decimal   `json:"amount_paid"`
	PaymentDate       *time.Time        `json:"payment_date,omitempty"` // Set once the installment is fully paid
	Status            InstallmentStatus `json:"status"`
	Notes             string            `json:"notes,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// RemainingAmount is negative when the installment has been overpaid.
func (i *Installment) RemainingAmount() decimal.Decimal {
	return i.AmountDue.Sub(i.AmountPaid)
}

type PaymentMethod string

const (
	PaymentMethodCash   PaymentMethod = "CASH"
	PaymentMethodBank   PaymentMethod = "BANK"
	PaymentMethodOnline PaymentMethod = "ONLINE"
	PaymentMethodCheck  PaymentMethod = "CHECK"
)

// Payment is immutable once recorded.
type Payment struct {
	ID            uuid.UUID       `json:"id"`
	InstallmentID uuid.UUID       `json:"installment_id"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentDate   time.Time       `json:"payment_date"`
	Method        PaymentMethod   `json:"method"`
	Notes         string          `json:"notes,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}
