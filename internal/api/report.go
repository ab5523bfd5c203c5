package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/borsabridge/control-plane/internal/report"
	"github.com/borsabridge/control-plane/internal/session"
)

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	view, err := s.session.Report()
	if err != nil {
		writeErrorFor(w, err)
		return
	}
	writeJSON(w, view)
}

func (s *Server) getReportMarkdown(w http.ResponseWriter, r *http.Request) {
	markdown, err := s.session.Markdown()
	if err != nil {
		writeErrorFor(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	_, _ = w.Write([]byte(markdown))
}

func (s *Server) selectByLabel(w http.ResponseWriter, r *http.Request) {
	label, err := report.ParseLabel(chi.URLParam(r, "label"))
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.writeReportUpdate(w, func() (session.ReportView, error) {
		return s.session.SelectByLabel(label)
	})
}

func (s *Server) selectAll(w http.ResponseWriter, r *http.Request) {
	s.writeReportUpdate(w, s.session.SelectAll)
}

func (s *Server) clearAll(w http.ResponseWriter, r *http.Request) {
	s.writeReportUpdate(w, s.session.ClearAll)
}

func (s *Server) toggleSection(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "invalid section id", http.StatusBadRequest)
		return
	}
	s.writeReportUpdate(w, func() (session.ReportView, error) {
		return s.session.Toggle(id)
	})
}

func (s *Server) writeReportUpdate(w http.ResponseWriter, update func() (session.ReportView, error)) {
	view, err := update()
	if err != nil {
		writeErrorFor(w, err)
		return
	}
	writeJSON(w, view)
}
