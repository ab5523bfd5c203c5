package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

const maxUploadBytes = 32 << 20

type submitRequestBody struct {
	Symbol string `json:"symbol" validate:"max=16"`
	Type   string `json:"type" validate:"required,max=32"`
}

func (s *Server) submitRequest(w http.ResponseWriter, r *http.Request) {
	var req submitRequestBody
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	if err := s.session.Submit(r.Context(), req.Symbol, req.Type); err != nil {
		writeErrorFor(w, err)
		return
	}
	writeJSONStatus(w, s.session.Flow(), http.StatusAccepted)
}

type selectionRequestBody struct {
	Option string `json:"option" validate:"required,max=64"`
}

func (s *Server) submitSelection(w http.ResponseWriter, r *http.Request) {
	var req selectionRequestBody
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	if err := s.session.Choose(r.Context(), req.Option); err != nil {
		writeErrorFor(w, err)
		return
	}
	writeJSONStatus(w, s.session.Flow(), http.StatusAccepted)
}

func (s *Server) cancelRequest(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Cancel(r.Context()); err != nil {
		writeErrorFor(w, err)
		return
	}
	writeJSON(w, s.session.Flow())
}

// completeManually accepts zero or more files under the "images" form field.
func (s *Server) completeManually(w http.ResponseWriter, r *http.Request) {
	uploads, err := readUploads(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.session.CompleteManually(r.Context(), uploads); err != nil {
		writeErrorFor(w, err)
		return
	}
	writeJSON(w, s.session.Snapshot())
}

func readUploads(r *http.Request) ([][]byte, error) {
	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "multipart/form-data") {
		return nil, nil
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, fmt.Errorf("invalid multipart form: %w", err)
	}
	var uploads [][]byte
	for _, header := range r.MultipartForm.File["images"] {
		file, err := header.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", header.Filename, err)
		}
		data, err := io.ReadAll(file)
		_ = file.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", header.Filename, err)
		}
		uploads = append(uploads, data)
	}
	return uploads, nil
}

func (s *Server) restartWorker(w http.ResponseWriter, r *http.Request) {
	if err := s.session.RestartWorker(r.Context()); err != nil {
		writeErrorFor(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.session.Snapshot())
}

func (s *Server) getImage(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, "invalid image index", http.StatusBadRequest)
		return
	}
	image, err := s.session.Image(index)
	if err != nil {
		writeErrorFor(w, err)
		return
	}
	w.Header().Set("Content-Type", image.MIME)
	w.Header().Set("Content-Length", strconv.Itoa(len(image.Data)))
	_, _ = w.Write(image.Data)
}

func (s *Server) clearImages(w http.ResponseWriter, r *http.Request) {
	s.session.ClearImages()
	w.WriteHeader(http.StatusNoContent)
}

type analysisRequestBody struct {
	Model string `json:"model" validate:"max=64"`
}

func (s *Server) runAnalysis(w http.ResponseWriter, r *http.Request) {
	var req analysisRequestBody
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	model := strings.TrimSpace(req.Model)
	if model != "" && model != s.cfg.GeminiModel && model != s.cfg.GeminiLiteModel {
		writeError(w, fmt.Sprintf("unsupported model %q", model), http.StatusBadRequest)
		return
	}
	view, err := s.session.Analyze(r.Context(), model)
	if err != nil {
		writeErrorFor(w, err)
		return
	}
	writeJSON(w, view)
}
