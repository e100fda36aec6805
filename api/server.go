// Package api exposes the generate pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/xivix/xiim"
	"github.com/xivix/xiim/database"
	"github.com/xivix/xiim/samples"
	"github.com/xivix/xiim/safeguards"
	"github.com/xivix/xiim/title"
)

// Service identifies the process in health responses.
const Service = "xiim"

// CodeBusy is reported when every pipeline slot is taken.
const CodeBusy = "BUSY"

// DefaultListLimit bounds GET /api/v1/requests when no limit is given.
const DefaultListLimit = 50

// Generator runs generate requests.
type Generator interface {
	Run(ctx context.Context, req xiim.GenerateRequest) (*xiim.GenerateResult, error)
	Catalog() *samples.Catalog
}

// RequestStore reads persisted request logs.
type RequestStore interface {
	GetImageLog(ctx context.Context, requestID string) (*database.ImageLog, error)
	ListImageLogs(ctx context.Context, status string, limit int) ([]database.ImageLog, error)
}

// Config configures the server.
type Config struct {
	Version string
	// RequestTimeout bounds one generate request.
	RequestTimeout time.Duration
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Version:        "dev",
		RequestTimeout: 60 * time.Second,
	}
}

// Server handles the HTTP API.
type Server struct {
	cfg     Config
	gen     Generator
	logs    RequestStore
	guard   *safeguards.OperationGuard
	health  *safeguards.DependencyHealthChecker
	metrics http.Handler
	logger  logrus.FieldLogger
	now     func() time.Time
}

// New creates a Server. logs, health and metricsHandler may be nil.
func New(cfg Config, gen Generator, logs RequestStore, guard *safeguards.OperationGuard, health *safeguards.DependencyHealthChecker, metricsHandler http.Handler, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if guard == nil {
		guard = safeguards.NewOperationGuard(safeguards.GuardConfig{Logger: logger})
	}
	return &Server{
		cfg:     cfg,
		gen:     gen,
		logs:    logs,
		guard:   guard,
		health:  health,
		metrics: metricsHandler,
		logger:  logger.WithField("component", "api"),
		now:     time.Now,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, s.logRequests)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/generate", s.handleGenerate)
		r.Get("/requests", s.handleListRequests)
		r.Get("/requests/{id}", s.handleGetRequest)
		r.Get("/companies", s.handleCompanies)
	})
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rw.status,
			"duration_ms": time.Since(start).Milliseconds(),
			"http_id":     middleware.GetReqID(r.Context()),
		}).Debug("http request")
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Step    string `json:"step,omitempty"`
}

type errorResponse struct {
	Status string    `json:"status"`
	Error  errorBody `json:"error"`
}

func writeError(w http.ResponseWriter, code int, body errorBody) {
	writeJSON(w, code, errorResponse{Status: "error", Error: body})
}

// statusFor maps a pipeline error code to an HTTP status.
func statusFor(code string) int {
	switch code {
	case xiim.CodeInvalidRequest:
		return http.StatusBadRequest
	case xiim.CodeSourceUnavailable:
		return http.StatusUnprocessableEntity
	case xiim.CodeUploadFailed:
		return http.StatusBadGateway
	case CodeBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type generateResponse struct {
	Status string `json:"status"`
	*xiim.GenerateResult
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req xiim.GenerateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errorBody{Code: xiim.CodeInvalidRequest, Message: "invalid JSON body"})
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, errorBody{Code: xiim.CodeInvalidRequest, Message: err.Error()})
		return
	}

	ctx := r.Context()
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	if err := s.guard.TryAcquire(ctx, "generate"); err != nil {
		if errors.Is(err, safeguards.ErrBusy) {
			w.Header().Set("Retry-After", "5")
			writeError(w, http.StatusServiceUnavailable, errorBody{Code: CodeBusy, Message: err.Error()})
			return
		}
		s.logger.WithError(err).Warn("generate rejected by health check")
		writeError(w, http.StatusServiceUnavailable, errorBody{Code: xiim.CodePipelineError, Message: "dependencies unavailable"})
		return
	}
	defer s.guard.Release("generate")

	var result *xiim.GenerateResult
	err := safeguards.RecoverableOperation(s.logger, "generate", func() error {
		var err error
		result, err = s.gen.Run(ctx, req)
		return err
	})
	if err != nil {
		var pe *xiim.PipelineError
		if !errors.As(err, &pe) {
			pe = &xiim.PipelineError{Step: "pipeline", Code: xiim.CodePipelineError, Err: err}
		}
		writeError(w, statusFor(pe.Code), errorBody{Code: pe.Code, Message: pe.Err.Error(), Step: pe.Step})
		return
	}
	writeJSON(w, http.StatusOK, generateResponse{Status: "success", GenerateResult: result})
}

type requestView struct {
	RequestID        string     `json:"request_id"`
	UserID           string     `json:"user_id"`
	Keyword          string     `json:"keyword"`
	TargetCompany    string     `json:"target_company"`
	Status           string     `json:"status"`
	SourceOrigin     string     `json:"source_origin,omitempty"`
	InsuranceType    string     `json:"insurance_type,omitempty"`
	VariantSeed      string     `json:"variant_seed,omitempty"`
	FinalURL         string     `json:"final_url,omitempty"`
	Variants         any        `json:"variants,omitempty"`
	ErrorStep        string     `json:"error_step,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	ProcessingTimeMS int64      `json:"processing_time_ms"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

func viewOf(l *database.ImageLog) requestView {
	v := requestView{
		RequestID:        l.RequestID,
		UserID:           l.UserID,
		Keyword:          l.Keyword,
		TargetCompany:    l.TargetCompany,
		Status:           l.Status,
		SourceOrigin:     l.SourceOrigin,
		InsuranceType:    l.InsuranceType,
		VariantSeed:      l.VariantSeed,
		FinalURL:         l.FinalURL,
		ErrorStep:        l.ErrorStep,
		ErrorMessage:     l.ErrorMessage,
		ProcessingTimeMS: l.ProcessingTimeMS,
		CreatedAt:        l.CreatedAt,
		CompletedAt:      l.CompletedAt,
	}
	if l.Variants != "" {
		v.Variants = json.RawMessage(l.Variants)
	}
	return v
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeError(w, http.StatusNotImplemented, errorBody{Code: xiim.CodePipelineError, Message: "request log disabled"})
		return
	}
	id := chi.URLParam(r, "id")
	l, err := s.logs.GetImageLog(r.Context(), id)
	if err != nil {
		s.logger.WithError(err).WithField("request_id", id).Error("request lookup failed")
		writeError(w, http.StatusInternalServerError, errorBody{Code: xiim.CodePipelineError, Message: "request lookup failed"})
		return
	}
	if l == nil {
		writeError(w, http.StatusNotFound, errorBody{Code: "NOT_FOUND", Message: "request not found"})
		return
	}
	writeJSON(w, http.StatusOK, viewOf(l))
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeError(w, http.StatusNotImplemented, errorBody{Code: xiim.CodePipelineError, Message: "request log disabled"})
		return
	}
	limit := DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errorBody{Code: xiim.CodeInvalidRequest, Message: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	logs, err := s.logs.ListImageLogs(r.Context(), r.URL.Query().Get("status"), limit)
	if err != nil {
		s.logger.WithError(err).Error("request listing failed")
		writeError(w, http.StatusInternalServerError, errorBody{Code: xiim.CodePipelineError, Message: "request listing failed"})
		return
	}
	views := make([]requestView, 0, len(logs))
	for i := range logs {
		views = append(views, viewOf(&logs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(views), "requests": views})
}

type companyView struct {
	Code          string         `json:"code"`
	NameKo        string         `json:"name_ko"`
	Category      title.Category `json:"category"`
	Title         string         `json:"title"`
	Samples       int            `json:"samples"`
	InsuranceType string         `json:"insurance_type"`
}

func (s *Server) handleCompanies(w http.ResponseWriter, r *http.Request) {
	category := title.Category(r.URL.Query().Get("category"))
	if category != "" && category != title.CategoryLife && category != title.CategoryNonLife {
		writeError(w, http.StatusBadRequest, errorBody{Code: xiim.CodeInvalidRequest, Message: "category must be LIFE or NON_LIFE"})
		return
	}

	cat := s.gen.Catalog()
	views := []companyView{}
	for _, c := range cat.Companies() {
		if category != "" && c.Category != category {
			continue
		}
		product := ""
		if sample, ok := c.Select(""); ok {
			product = samples.ExtractProductType(sample.ProductType)
		}
		views = append(views, companyView{
			Code:          c.Code,
			NameKo:        c.NameKo,
			Category:      c.Category,
			Title:         title.CompanyProduct(c.NameKo, product),
			Samples:       len(c.Samples),
			InsuranceType: cat.InsuranceType(c.Code),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(views), "companies": views})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	deps := map[string]string{}
	if s.health != nil {
		for name, err := range s.health.Status(r.Context()) {
			if err != nil {
				deps[name] = err.Error()
				status = "degraded"
				continue
			}
			deps[name] = "ok"
		}
	}
	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":       status,
		"service":      Service,
		"version":      s.cfg.Version,
		"timestamp":    s.now().UTC().Format(time.RFC3339),
		"dependencies": deps,
		"active_runs":  s.guard.ActiveOperations(),
		"capacity":     s.guard.Capacity(),
	})
}
