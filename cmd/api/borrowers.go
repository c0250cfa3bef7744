package main

import (
	"net/http"

	"github.com/mcclellann/microloan/pkg/ledger"
	"github.com/mcclellann/microloan/pkg/models"
)

func (s *Server) listBorrowersHandler(w http.ResponseWriter, r *http.Request) {
	borrowers, err := s.ledger.ListBorrowers(r.URL.Query().Get("search"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if borrowers == nil {
		borrowers = []*models.Borrower{}
	}
	writeJSON(w, http.StatusOK, borrowers)
}

func (s *Server) createBorrowerHandler(w http.ResponseWriter, r *http.Request) {
	var req ledger.BorrowerInput
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	borrower, err := s.ledger.CreateBorrower(req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, borrower)
}

func (s *Server) getBorrowerHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "borrower")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	borrower, err := s.ledger.GetBorrower(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, borrower)
}

func (s *Server) updateBorrowerHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "borrower")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req ledger.BorrowerInput
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	borrower, err := s.ledger.UpdateBorrower(id, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, borrower)
}

func (s *Server) deleteBorrowerHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "borrower")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.ledger.DeleteBorrower(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) borrowerSummaryHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "borrower")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	summary, err := s.portfolio.BorrowerSummary(id, s.ledger.Today())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
