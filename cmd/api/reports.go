package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/mcclellann/microloan/pkg/errs"
	"github.com/mcclellann/microloan/pkg/ledger"
	"github.com/mcclellann/microloan/pkg/report"
)

// reportMonth reads ?year= and ?month=, defaulting to the current month.
func (s *Server) reportMonth(r *http.Request) (int, time.Month, error) {
	today := s.ledger.Today()
	year, err := queryInt(r, "year", today.Year())
	if err != nil {
		return 0, 0, err
	}
	month, err := queryInt(r, "month", int(today.Month()))
	if err != nil {
		return 0, 0, err
	}
	if month < 1 || month > 12 {
		return 0, 0, errs.Validation("month", "month must be between 1 and 12")
	}
	return year, time.Month(month), nil
}

func (s *Server) monthlyCollection(r *http.Request) (*ledger.MonthlyCollection, error) {
	year, month, err := s.reportMonth(r)
	if err != nil {
		return nil, err
	}
	return s.portfolio.MonthlyCollection(year, month, s.ledger.Today())
}

func (s *Server) collectionsHandler(w http.ResponseWriter, r *http.Request) {
	collection, err := s.monthlyCollection(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, collection)
}

func (s *Server) collectionsWorkbookHandler(w http.ResponseWriter, r *http.Request) {
	collection, err := s.monthlyCollection(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f, err := report.CollectionWorkbook(collection)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer f.Close()

	fileName := fmt.Sprintf("collections_%d_%02d.xlsx", collection.Year, collection.Month)
	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+fileName)
	if err := f.Write(w); err != nil {
		s.log.Error("failed to write collections workbook", "error", err)
	}
}

// incomeHandler reports ?months= calendar months (default 12) starting at
// ?from=YYYY-MM. Without from, the last month reported is the current one.
func (s *Server) incomeHandler(w http.ResponseWriter, r *http.Request) {
	months, err := queryInt(r, "months", 12)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if months < 1 || months > 120 {
		s.writeError(w, r, errs.Validation("months", "months must be between 1 and 120"))
		return
	}
	today := s.ledger.Today()
	from := time.Date(today.Year(), today.Month()-time.Month(months-1), 1, 0, 0, 0, 0, time.UTC)
	if raw := r.URL.Query().Get("from"); raw != "" {
		from, err = time.Parse("2006-01", raw)
		if err != nil {
			s.writeError(w, r, errs.Validation("from", "from must be formatted as YYYY-MM"))
			return
		}
	}
	income, err := s.portfolio.IncomeByMonth(from, months)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, income)
}

func (s *Server) statusDistributionHandler(w http.ResponseWriter, r *http.Request) {
	buckets, err := s.portfolio.StatusDistribution()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}
