package main

import (
	"net/http"

	"github.com/mcclellann/microloan/pkg/ledger"
	"github.com/mcclellann/microloan/pkg/models"
	"github.com/shopspring/decimal"
)

type paymentRequest struct {
	Amount      decimal.Decimal      `json:"amount"`
	PaymentDate string               `json:"payment_date"`
	Method      models.PaymentMethod `json:"method"`
	Notes       string               `json:"notes"`
}

type paymentResponse struct {
	Payment     *models.Payment     `json:"payment"`
	Installment *models.Installment `json:"installment"`
	LoanClosed  bool                `json:"loan_closed"`
}

func (s *Server) getInstallmentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "installment")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	inst, err := s.ledger.GetInstallment(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) listPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "installment")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	payments, err := s.ledger.GetPayments(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

// recordPaymentHandler records a payment capped at ledger.PaymentCap and closes
// the loan when it settles the outstanding amount.
func (s *Server) recordPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "installment")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req paymentRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	paidOn, err := parseDate("PaymentDate", req.PaymentDate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	payment, inst, err := s.ledger.RecordPayment(r.Context(), id, ledger.PaymentInput{
		Amount:      req.Amount,
		PaymentDate: paidOn,
		Method:      req.Method,
		Notes:       req.Notes,
		Limit:       ledger.PaymentCap,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	closed, err := s.ledger.CloseLoan(r.Context(), inst.LoanID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, paymentResponse{Payment: payment, Installment: inst, LoanClosed: closed})
}

func (s *Server) quickPayHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "installment")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.ledger.QuickPay(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) overdueHandler(w http.ResponseWriter, r *http.Request) {
	list, err := s.portfolio.Overdue(s.ledger.Today())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) upcomingHandler(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", 30)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.portfolio.UpcomingDues(s.ledger.Today(), days)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) recentPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", s.cfg.RecentPaymentsLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items, err := s.portfolio.RecentPayments(limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

type dashboardResponse struct {
	Stats          *ledger.Dashboard        `json:"stats"`
	UpcomingDues   *ledger.InstallmentList  `json:"upcoming_dues"`
	RecentPayments []ledger.PaymentItem     `json:"recent_payments"`
	Overdue        []ledger.InstallmentItem `json:"overdue"`
}

const dashboardOverdueLimit = 10

func (s *Server) dashboardHandler(w http.ResponseWriter, r *http.Request) {
	today := s.ledger.Today()
	stats, err := s.portfolio.Dashboard(today)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	upcoming, err := s.portfolio.UpcomingDues(today, s.cfg.UpcomingDueDays)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	recent, err := s.portfolio.RecentPayments(s.cfg.RecentPaymentsLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	overdue, err := s.portfolio.Overdue(today)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := overdue.Items
	if len(items) > dashboardOverdueLimit {
		items = items[:dashboardOverdueLimit]
	}
	writeJSON(w, http.StatusOK, dashboardResponse{
		Stats:          stats,
		UpcomingDues:   upcoming,
		RecentPayments: recent,
		Overdue:        items,
	})
}
