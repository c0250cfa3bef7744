package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/microloan/pkg/config"
	"github.com/mcclellann/microloan/pkg/errs"
	"github.com/mcclellann/microloan/pkg/ledger"
	"github.com/mcclellann/microloan/pkg/store"
)

// Server holds the ledger and the portfolio views over one store.
type Server struct {
	ledger    *ledger.Ledger
	portfolio *ledger.Portfolio
	storage   store.Storage // Keep a reference to the storage to close it
	cfg       *config.Config
	log       *slog.Logger
}

func NewServer(s store.Storage, cfg *config.Config, opts ...ledger.Option) *Server {
	l := ledger.NewLedger(s, opts...)
	return &Server{
		ledger:    l,
		portfolio: ledger.NewPortfolio(s),
		storage:   s,
		cfg:       cfg,
		log:       slog.Default(),
	}
}

func (s *Server) Routes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/borrowers", s.listBorrowersHandler).Methods("GET")
	router.HandleFunc("/borrowers", s.createBorrowerHandler).Methods("POST")
	router.HandleFunc("/borrowers/{id}", s.getBorrowerHandler).Methods("GET")
	router.HandleFunc("/borrowers/{id}", s.updateBorrowerHandler).Methods("PUT")
	router.HandleFunc("/borrowers/{id}", s.deleteBorrowerHandler).Methods("DELETE")
	router.HandleFunc("/borrowers/{id}/summary", s.borrowerSummaryHandler).Methods("GET")

	router.HandleFunc("/calculator", s.calculatorHandler).Methods("GET")

	router.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	router.HandleFunc("/loans", s.createLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	router.HandleFunc("/loans/{id}", s.updateLoanHandler).Methods("PUT")
	router.HandleFunc("/loans/{id}", s.deleteLoanHandler).Methods("DELETE")
	router.HandleFunc("/loans/{id}/summary", s.loanSummaryHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/installments", s.loanInstallmentsHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/close", s.closeLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/default", s.defaultLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/schedule.xlsx", s.scheduleWorkbookHandler).Methods("GET")

	// Fixed paths go before /installments/{id}.
	router.HandleFunc("/installments/overdue", s.overdueHandler).Methods("GET")
	router.HandleFunc("/installments/upcoming", s.upcomingHandler).Methods("GET")
	router.HandleFunc("/installments/{id}", s.getInstallmentHandler).Methods("GET")
	router.HandleFunc("/installments/{id}/payments", s.listPaymentsHandler).Methods("GET")
	router.HandleFunc("/installments/{id}/payments", s.recordPaymentHandler).Methods("POST")
	router.HandleFunc("/installments/{id}/quick-pay", s.quickPayHandler).Methods("POST")

	router.HandleFunc("/payments/recent", s.recentPaymentsHandler).Methods("GET")
	router.HandleFunc("/dashboard", s.dashboardHandler).Methods("GET")

	router.HandleFunc("/reports/collections", s.collectionsHandler).Methods("GET")
	router.HandleFunc("/reports/collections.xlsx", s.collectionsWorkbookHandler).Methods("GET")
	router.HandleFunc("/reports/income", s.incomeHandler).Methods("GET")
	router.HandleFunc("/reports/status-distribution", s.statusDistributionHandler).Methods("GET")

	return router
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeError maps the ledger error taxonomy onto HTTP status codes. Anything
// outside the taxonomy is logged and reported as an internal error.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *errs.ValidationError
	var nferr *errs.NotFoundError
	var ierr *errs.InvariantViolation
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Message, Field: verr.Field})
	case errors.As(err, &nferr):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: nferr.Error()})
	case errors.As(err, &ierr):
		writeJSON(w, http.StatusConflict, errorResponse{Error: ierr.Message})
	default:
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errs.Validation("", "Invalid request body: "+err.Error())
	}
	return nil
}

func pathID(r *http.Request, entity string) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		return uuid.Nil, errs.Validation("id", "Invalid "+entity+" ID")
	}
	return id, nil
}

// parseDate reads a YYYY-MM-DD value; empty yields the zero time.
func parseDate(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, errs.Validation(field, "Dates must be formatted as YYYY-MM-DD")
	}
	return t, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errs.Validation(name, name+" must be a whole number")
	}
	return n, nil
}
