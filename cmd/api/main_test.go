package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/mcclellann/microloan/pkg/config"
	"github.com/mcclellann/microloan/pkg/ledger"
	"github.com/mcclellann/microloan/pkg/models"
	"github.com/mcclellann/microloan/pkg/report"
	"github.com/mcclellann/microloan/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestServer(t *testing.T) (*Server, *mux.Router) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test_api.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	cfg := &config.Config{UpcomingDueDays: 7, RecentPaymentsLimit: 5}
	now := time.Date(2024, 1, 20, 9, 30, 0, 0, time.UTC)
	server := NewServer(s, cfg, ledger.WithClock(func() time.Time { return now }))
	return server, server.Routes()
}

func do(t *testing.T, router *mux.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func createLoan(t *testing.T, router *mux.Router, principal, rate, tenure int) loanResponse {
	t.Helper()
	rr := do(t, router, "POST", "/borrowers", map[string]any{
		"name":    "Asha Verma",
		"phone":   "9876543210",
		"address": "12 Market Road",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	borrower := decode[models.Borrower](t, rr)

	rr = do(t, router, "POST", "/loans", map[string]any{
		"borrower_id":         borrower.ID,
		"principal":           principal,
		"annual_rate_percent": rate,
		"tenure_months":       tenure,
		"start_date":          "2024-01-15",
		"installment_day":     5,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[loanResponse](t, rr)
}

func TestAPI_CreateAndGetLoan(t *testing.T) {
	_, router := setupTestServer(t)
	created := createLoan(t, router, 100000, 24, 12)

	assert.Equal(t, "124000", created.Loan.TotalAmount.String())
	assert.Equal(t, "10333", created.Loan.MonthlyInstallment.String())
	require.Len(t, created.Installments, 12)
	assert.Equal(t, "2024-02-05", created.Installments[0].DueDate.Format(time.DateOnly))

	rr := do(t, router, "GET", "/loans/"+created.Loan.ID.String(), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	fetched := decode[models.Loan](t, rr)
	assert.Equal(t, created.Loan.ID, fetched.ID)

	rr = do(t, router, "GET", "/loans/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, "GET", "/loans/"+created.Installments[0].ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAPI_CreateLoanValidation(t *testing.T) {
	_, router := setupTestServer(t)
	created := createLoan(t, router, 12000, 0, 12)

	rr := do(t, router, "POST", "/loans", map[string]any{
		"borrower_id":         created.Loan.BorrowerID,
		"principal":           500,
		"annual_rate_percent": 12,
		"tenure_months":       12,
		"start_date":          "2024-01-15",
		"installment_day":     5,
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	body := decode[errorResponse](t, rr)
	assert.Equal(t, "Minimum loan amount is 1000", body.Error)
	assert.Equal(t, "Principal", body.Field)

	rr = do(t, router, "POST", "/loans", map[string]any{
		"borrower_id":         created.Loan.BorrowerID,
		"principal":           5000,
		"annual_rate_percent": 12,
		"tenure_months":       12,
		"start_date":          "15/01/2024",
		"installment_day":     5,
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAPI_RecordPayment(t *testing.T) {
	_, router := setupTestServer(t)
	created := createLoan(t, router, 100000, 24, 12)
	first := created.Installments[0]
	path := "/installments/" + first.ID.String() + "/payments"

	rr := do(t, router, "POST", path, map[string]any{"amount": 10334})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	body := decode[errorResponse](t, rr)
	assert.Equal(t, "Amount", body.Field)
	assert.Equal(t, "Payment amount cannot exceed remaining amount: ₹10,333", body.Error)

	rr = do(t, router, "POST", path, map[string]any{"amount": 10.5})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Payment amount must be in whole currency units", decode[errorResponse](t, rr).Error)

	rr = do(t, router, "POST", path, map[string]any{"amount": 4000, "method": "BANK", "payment_date": "2024-01-18"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	paid := decode[paymentResponse](t, rr)
	assert.Equal(t, models.InstallmentPartial, paid.Installment.Status)
	assert.Equal(t, models.PaymentMethodBank, paid.Payment.Method)
	assert.Equal(t, "2024-01-18", paid.Payment.PaymentDate.Format(time.DateOnly))
	assert.False(t, paid.LoanClosed)

	rr = do(t, router, "GET", path, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]models.Payment](t, rr), 1)

	rr = do(t, router, "PUT", "/loans/"+created.Loan.ID.String(), map[string]any{
		"borrower_id":         created.Loan.BorrowerID,
		"principal":           50000,
		"annual_rate_percent": 12,
		"tenure_months":       6,
		"start_date":          "2024-01-15",
		"installment_day":     5,
	})
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "Cannot edit loan after payments have been made", decode[errorResponse](t, rr).Error)

	rr = do(t, router, "POST", "/loans/"+created.Loan.ID.String()+"/close", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestAPI_FinalInstallmentSettlesLoan(t *testing.T) {
	_, router := setupTestServer(t)
	created := createLoan(t, router, 100000, 24, 12)

	for _, inst := range created.Installments[:11] {
		rr := do(t, router, "POST", "/installments/"+inst.ID.String()+"/quick-pay", nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	}

	last := created.Installments[11]
	rr := do(t, router, "POST", "/installments/"+last.ID.String()+"/payments", map[string]any{"amount": 10338})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, "POST", "/installments/"+last.ID.String()+"/payments", map[string]any{"amount": 10337})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.True(t, decode[paymentResponse](t, rr).LoanClosed)

	rr = do(t, router, "GET", "/loans/"+created.Loan.ID.String()+"/summary", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	summary := decode[ledger.LoanSummary](t, rr)
	assert.Equal(t, models.LoanStatusClosed, summary.Loan.Status)
	assert.True(t, summary.Outstanding.IsZero())
}

func TestAPI_QuickPayAlreadyPaid(t *testing.T) {
	_, router := setupTestServer(t)
	created := createLoan(t, router, 12000, 0, 12)
	path := "/installments/" + created.Installments[0].ID.String() + "/quick-pay"

	rr := do(t, router, "POST", path, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	result := decode[ledger.QuickPayResult](t, rr)
	assert.Equal(t, "1000", result.Payment.Amount.String())
	assert.Equal(t, "11000", result.Outstanding.String())

	rr = do(t, router, "POST", path, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestAPI_BorrowerLifecycle(t *testing.T) {
	_, router := setupTestServer(t)
	created := createLoan(t, router, 12000, 0, 12)
	borrowerPath := "/borrowers/" + created.Loan.BorrowerID.String()

	rr := do(t, router, "GET", "/borrowers?search=asha", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[[]models.Borrower](t, rr), 1)

	rr = do(t, router, "PUT", borrowerPath, map[string]any{"name": "Asha V", "phone": "12", "address": "x"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Phone", decode[errorResponse](t, rr).Field)

	rr = do(t, router, "GET", borrowerPath+"/summary", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	summary := decode[ledger.BorrowerSummary](t, rr)
	assert.Equal(t, "12000", summary.Outstanding.String())
	assert.Equal(t, 1, summary.ActiveLoans)

	rr = do(t, router, "DELETE", borrowerPath, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, router, "POST", "/loans/"+created.Loan.ID.String()+"/default", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, router, "DELETE", borrowerPath, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = do(t, router, "GET", "/loans/"+created.Loan.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAPI_DashboardAndReports(t *testing.T) {
	_, router := setupTestServer(t)
	created := createLoan(t, router, 12000, 0, 12)
	rr := do(t, router, "POST", "/installments/"+created.Installments[0].ID.String()+"/payments", map[string]any{"amount": 250})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = do(t, router, "GET", "/dashboard", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	dash := decode[dashboardResponse](t, rr)
	assert.Equal(t, "12000", dash.Stats.TotalDisbursed.String())
	assert.Equal(t, "11750", dash.Stats.TotalReceivable.String())
	require.Len(t, dash.RecentPayments, 1)
	assert.Equal(t, "Asha Verma", dash.RecentPayments[0].BorrowerName)

	rr = do(t, router, "GET", "/installments/overdue", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[ledger.InstallmentList](t, rr).Items)

	rr = do(t, router, "GET", "/installments/upcoming?days=20", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[ledger.InstallmentList](t, rr).Items)

	rr = do(t, router, "GET", "/installments/upcoming?days=45", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[ledger.InstallmentList](t, rr).Items, 1)

	rr = do(t, router, "GET", "/reports/collections?year=2024&month=2", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	collection := decode[ledger.MonthlyCollection](t, rr)
	assert.Equal(t, "1000", collection.TotalDue.String())
	assert.Equal(t, "25", collection.CollectionRate.String())

	rr = do(t, router, "GET", "/reports/collections?month=13", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, "GET", "/reports/collections.xlsx?year=2024&month=2", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, report.ContentType, rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Disposition"), "collections_2024_02.xlsx")
	assert.NotZero(t, rr.Body.Len())

	rr = do(t, router, "GET", "/loans/"+created.Loan.ID.String()+"/schedule.xlsx", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, report.ContentType, rr.Header().Get("Content-Type"))

	rr = do(t, router, "GET", "/reports/income?from=2024-01&months=2", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	income := decode[[]ledger.MonthIncome](t, rr)
	require.Len(t, income, 2)
	assert.Equal(t, "12000", income[0].Disbursed.String())
	assert.Equal(t, "250", income[0].Received.String())
	assert.Equal(t, "1000", income[1].Expected.String())

	rr = do(t, router, "GET", "/reports/status-distribution", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	buckets := decode[[]ledger.StatusBucket](t, rr)
	require.Len(t, buckets, 1)
	assert.Equal(t, 1, buckets[0].Count)
}

func TestAPI_Calculator(t *testing.T) {
	_, router := setupTestServer(t)

	rr := do(t, router, "GET", "/calculator?amount=100000&interest_rate=24&tenure_months=12", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	details := decode[ledger.LoanDetails](t, rr)
	assert.Equal(t, "124000", details.TotalAmount.String())
	assert.Equal(t, "10333", details.MonthlyInstallment.String())
	assert.Equal(t, "4", details.RoundingRemainder.String())

	rr = do(t, router, "GET", "/calculator?amount=abc&interest_rate=24&tenure_months=12", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, "GET", fmt.Sprintf("/calculator?amount=%d&interest_rate=24&tenure_months=61", 100000), nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
