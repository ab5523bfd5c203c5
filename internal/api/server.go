package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/borsabridge/control-plane/internal/analysis"
	"github.com/borsabridge/control-plane/internal/config"
	"github.com/borsabridge/control-plane/internal/logging"
	"github.com/borsabridge/control-plane/internal/session"
	"github.com/borsabridge/control-plane/internal/store"
)

// KeyProber checks the configured API keys against both models.
type KeyProber interface {
	Probe(ctx context.Context) []analysis.ProbeResult
}

type Deps struct {
	Session  *session.Session
	Store    store.Pinger
	Keys     *analysis.KeyPool
	KeyFile  analysis.KeyFile
	Prober   KeyProber
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

type Server struct {
	session  *session.Session
	store    store.Pinger
	keys     *analysis.KeyPool
	keyFile  analysis.KeyFile
	prober   KeyProber
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	cfg      config.Config
	validate *validator.Validate
	now      func() time.Time
}

func NewServer(deps Deps, cfg config.Config) *Server {
	logger := logging.OrNop(deps.Logger)
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		session:  deps.Session,
		store:    deps.Store,
		keys:     deps.Keys,
		keyFile:  deps.KeyFile,
		prober:   deps.Prober,
		gatherer: gatherer,
		logger:   logger,
		cfg:      cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.quietRequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Post("/requests", s.submitRequest)
	r.Post("/requests/selection", s.submitSelection)
	r.Post("/requests/cancel", s.cancelRequest)
	r.Post("/requests/manual-complete", s.completeManually)
	r.Post("/worker/restart", s.restartWorker)
	r.Get("/session", s.getSession)
	r.Get("/images/{index}", s.getImage)
	r.Delete("/images", s.clearImages)
	r.Post("/analysis", s.runAnalysis)
	r.Get("/report", s.getReport)
	r.Get("/report/markdown", s.getReportMarkdown)
	r.Post("/report/select/{label}", s.selectByLabel)
	r.Post("/report/select-all", s.selectAll)
	r.Post("/report/clear-all", s.clearAll)
	r.Post("/report/sections/{id}/toggle", s.toggleSection)
	r.Get("/bots", s.listBots)
	r.Get("/bots/active", s.getActiveBot)
	r.Put("/bots/active", s.selectBot)
	r.Get("/keys", s.listKeys)
	r.Put("/keys", s.replaceKeys)
	r.Get("/keys/probe", s.probeKeys)
	r.Get("/search-link", s.searchLink)
	r.Get("/events", s.streamEvents)
	r.Get("/health", s.health)
	r.Get("/ready", s.ready)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	return r
}

func (s *Server) quietRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shouldSuppressRequestLog(r.Method, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(started)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func shouldSuppressRequestLog(method string, path string) bool {
	cleanPath := strings.TrimSpace(path)
	if method == http.MethodGet {
		switch cleanPath {
		case "/events", "/session", "/health", "/ready", "/metrics":
			return true
		}
	}
	return method == http.MethodOptions
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSONStatus(w, map[string]string{"status": "ok"}, http.StatusOK)
}

type subsystemStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status     string                     `json:"status"`
	Subsystems map[string]subsystemStatus `json:"subsystems"`
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	subsystems := map[string]subsystemStatus{}
	overall := http.StatusOK

	if s.store == nil {
		subsystems["store"] = subsystemStatus{Status: "skipped"}
	} else if err := s.store.Ping(ctx); err != nil {
		subsystems["store"] = subsystemStatus{Status: "error", Error: err.Error()}
		overall = http.StatusServiceUnavailable
	} else {
		subsystems["store"] = subsystemStatus{Status: "ok"}
	}

	// Missing keys only disable analysis; the bridge still works.
	if s.keys == nil || s.keys.Len() == 0 {
		subsystems["analysis"] = subsystemStatus{Status: "skipped"}
	} else if _, ok := s.keys.Current(); !ok {
		subsystems["analysis"] = subsystemStatus{Status: "degraded", Error: "all keys cooling down"}
	} else {
		subsystems["analysis"] = subsystemStatus{Status: "ok"}
	}

	status := "ok"
	if overall != http.StatusOK {
		status = "degraded"
	}
	writeJSONStatus(w, readinessResponse{Status: status, Subsystems: subsystems}, overall)
}

func writeJSONStatus(w http.ResponseWriter, value any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeJSON(w http.ResponseWriter, value any) {
	writeJSONStatus(w, value, http.StatusOK)
}

type errorResponse struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields,omitempty"`
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	writeJSONStatus(w, errorResponse{Error: message}, statusCode)
}

// decodeAndValidate reads a JSON body into dst and runs struct validation.
// It writes the 400 response itself and reports whether the caller may go on.
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, "invalid request", http.StatusBadRequest)
			return false
		}
	}
	if err := s.validate.Struct(dst); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			fields := make([]string, 0, len(validationErrs))
			for _, fieldErr := range validationErrs {
				fields = append(fields, fieldErr.Field()+":"+fieldErr.Tag())
			}
			writeJSONStatus(w, errorResponse{Error: "validation failed", Fields: fields}, http.StatusBadRequest)
			return false
		}
		writeError(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Last-Event-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()
	return server.ListenAndServe()
}
