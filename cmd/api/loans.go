package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/mcclellann/microloan/pkg/errs"
	"github.com/mcclellann/microloan/pkg/ledger"
	"github.com/mcclellann/microloan/pkg/models"
	"github.com/mcclellann/microloan/pkg/report"
	"github.com/shopspring/decimal"
)

type loanRequest struct {
	BorrowerID        uuid.UUID       `json:"borrower_id"`
	Principal         decimal.Decimal `json:"principal"`
	AnnualRatePercent decimal.Decimal `json:"annual_rate_percent"`
	TenureMonths      int             `json:"tenure_months"`
	StartDate         string          `json:"start_date"`
	InstallmentDay    int             `json:"installment_day"`
}

func (req loanRequest) terms() (ledger.LoanTerms, error) {
	start, err := parseDate("StartDate", req.StartDate)
	if err != nil {
		return ledger.LoanTerms{}, err
	}
	return ledger.LoanTerms{
		BorrowerID:        req.BorrowerID,
		Principal:         req.Principal,
		AnnualRatePercent: req.AnnualRatePercent,
		TenureMonths:      req.TenureMonths,
		StartDate:         start,
		InstallmentDay:    req.InstallmentDay,
	}, nil
}

type loanResponse struct {
	Loan         *models.Loan          `json:"loan"`
	Installments []*models.Installment `json:"installments"`
}

func (s *Server) calculatorHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	principal, err := decimal.NewFromString(q.Get("amount"))
	if err != nil {
		s.writeError(w, r, errs.Validation("Principal", "Invalid input parameters"))
		return
	}
	rate, err := decimal.NewFromString(q.Get("interest_rate"))
	if err != nil {
		s.writeError(w, r, errs.Validation("AnnualRatePercent", "Invalid input parameters"))
		return
	}
	tenure, err := queryInt(r, "tenure_months", 1)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	details, err := ledger.CalculateLoanDetails(principal, rate, tenure)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := parseDate("date_from", q.Get("date_from"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := parseDate("date_to", q.Get("date_to"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	loans, err := s.ledger.ListLoans(ledger.LoanFilter{
		BorrowerName:  q.Get("borrower"),
		Status:        models.LoanStatus(strings.ToUpper(q.Get("status"))),
		StartDateFrom: from,
		StartDateTo:   to,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if loans == nil {
		loans = []*models.Loan{}
	}
	writeJSON(w, http.StatusOK, loans)
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req loanRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	terms, err := req.terms()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	loan, installments, err := s.ledger.OriginateLoan(r.Context(), terms)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loanResponse{Loan: loan, Installments: installments})
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "loan")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	loan, err := s.ledger.GetLoan(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

// updateLoanHandler rebuilds the loan from new terms. The ledger refuses once
// anything has been paid.
func (s *Server) updateLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "loan")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req loanRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	terms, err := req.terms()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	loan, installments, err := s.ledger.RebuildLoan(r.Context(), id, terms)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loanResponse{Loan: loan, Installments: installments})
}

func (s *Server) deleteLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "loan")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.ledger.DeleteLoan(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) loanSummaryHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "loan")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	summary, err := s.portfolio.LoanSummary(id, s.ledger.Today())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) loanInstallmentsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "loan")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	installments, err := s.ledger.GetInstallments(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, installments)
}

func (s *Server) closeLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "loan")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	closed, err := s.ledger.CloseLoan(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !closed {
		s.writeError(w, r, errs.Invariant("Cannot close loan. Outstanding amount remains."))
		return
	}
	loan, err := s.ledger.GetLoan(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) defaultLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "loan")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	loan, err := s.ledger.MarkDefaulted(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) scheduleWorkbookHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "loan")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	loan, err := s.ledger.GetLoan(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	borrower, err := s.ledger.GetBorrower(loan.BorrowerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	installments, err := s.ledger.GetInstallments(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f, err := report.ScheduleWorkbook(loan, borrower, installments)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=schedule_%s.xlsx", loan.ID))
	if err := f.Write(w); err != nil {
		s.log.Error("failed to write schedule workbook", "loan_id", loan.ID, "error", err)
	}
}
