// Package server exposes the receipt API over HTTP and the gRPC health service.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/joseph-ayodele/receipts-classifier/constants"
	"github.com/joseph-ayodele/receipts-classifier/internal/common"
	"github.com/joseph-ayodele/receipts-classifier/internal/entity"
	"github.com/joseph-ayodele/receipts-classifier/internal/feedback"
	"github.com/joseph-ayodele/receipts-classifier/internal/metrics"
	"github.com/joseph-ayodele/receipts-classifier/internal/services/analytics"
	"github.com/joseph-ayodele/receipts-classifier/internal/services/jobs"
	"github.com/joseph-ayodele/receipts-classifier/internal/services/receipts"
)

const requestIDHeader = "X-Request-ID"

type JobService interface {
	SubmitImage(ctx context.Context, up jobs.ImageUpload) (*entity.Job, error)
	SubmitText(ctx context.Context, text string) (*entity.Job, error)
	Get(ctx context.Context, id string) (*entity.Job, error)
	List(ctx context.Context, status string, limit, offset int) ([]*entity.Job, error)
}

type ReceiptService interface {
	Filter(req receipts.ListReceiptsRequest) (entity.ReceiptFilter, error)
	ListReceipts(ctx context.Context, req receipts.ListReceiptsRequest) ([]*entity.Receipt, int, error)
	GetReceipt(ctx context.Context, id string) (*entity.Receipt, error)
	DeleteReceipt(ctx context.Context, id string) error
}

type FeedbackService interface {
	Apply(ctx context.Context, receiptID string, category constants.Category) (feedback.Outcome, error)
}

type Exporter interface {
	ExportReceiptsXLSX(ctx context.Context, f entity.ReceiptFilter) ([]byte, error)
}

type Retrainer interface {
	Trigger(ctx context.Context, reason constants.RetrainReason) (entity.RetrainRun, bool, error)
	Get(ctx context.Context, id string) (entity.RetrainRun, error)
	ActivateVersion(ctx context.Context, versionID string) (*entity.ModelVersion, error)
}

type ModelLister interface {
	List(ctx context.Context) ([]*entity.ModelVersion, error)
}

type AnalyticsService interface {
	Summary(ctx context.Context, from, to *time.Time, topN int) (analytics.Summary, error)
	AdminMetrics(ctx context.Context) (analytics.AdminMetrics, error)
}

// Deps groups what the handlers call into.
type Deps struct {
	Jobs      JobService
	Receipts  ReceiptService
	Feedback  FeedbackService
	Export    Exporter
	Retrain   Retrainer
	Models    ModelLister
	Analytics AnalyticsService
	Metrics   *metrics.Middleware
	// MaxUploadBytes bounds multipart bodies; 0 means 32 MiB.
	MaxUploadBytes int64
	Logger         *slog.Logger
}

type Server struct {
	deps   Deps
	logger *slog.Logger
	router *mux.Router
}

func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = 32 << 20
	}
	s := &Server{deps: deps, logger: deps.Logger}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestID, s.recoverer)
	if s.deps.Metrics != nil {
		r.Use(s.deps.Metrics.Handler)
	}

	r.Handle("/metrics", metrics.ExpositionHandler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)

	api := r.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/jobs", s.submitJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs", s.listJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.getJob).Methods(http.MethodGet)

	// export is registered before {id} so it is not captured as an id
	api.HandleFunc("/receipts/export", s.exportReceipts).Methods(http.MethodGet)
	api.HandleFunc("/receipts", s.listReceipts).Methods(http.MethodGet)
	api.HandleFunc("/receipts/{id}", s.getReceipt).Methods(http.MethodGet)
	api.HandleFunc("/receipts/{id}", s.deleteReceipt).Methods(http.MethodDelete)
	api.HandleFunc("/receipts/{id}/corrections", s.correctReceipt).Methods(http.MethodPost)

	api.HandleFunc("/retrain", s.triggerRetrain).Methods(http.MethodPost)
	api.HandleFunc("/retrain/{id}", s.getRetrainRun).Methods(http.MethodGet)
	api.HandleFunc("/models", s.listModels).Methods(http.MethodGet)
	api.HandleFunc("/models/{id}/activate", s.activateModel).Methods(http.MethodPost)
	api.HandleFunc("/categories", s.listCategories).Methods(http.MethodGet)

	api.HandleFunc("/analytics/summary", s.analyticsSummary).Methods(http.MethodGet)
	api.HandleFunc("/admin/metrics", s.adminMetrics).Methods(http.MethodGet)
	return r
}

// NewHTTPServer wraps the handler with the configured timeouts.
func NewHTTPServer(cfg common.ServerConfig, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
	}
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := common.WithRequestID(r.Context(), id)
		ctx = common.WithLogger(ctx, s.logger.With("request_id", id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				common.LoggerFromContext(r.Context(), s.logger).Error("http.panic",
					"method", r.Method, "path", r.URL.Path, "panic", v, "stack", string(debug.Stack()))
				s.writeError(w, r, common.NewAppError("INTERNAL", "internal error", common.ErrInternal))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		common.LoggerFromContext(r.Context(), s.logger).Warn("http.encode.failed", "error", err)
	}
}

// writeError maps err onto a status and logs server-side failures.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := common.HTTPStatus(err)
	logger := common.LoggerFromContext(r.Context(), s.logger)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logger.Error("http.request.failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	} else {
		logger.Debug("http.request.rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	s.writeJSON(w, r, status, errorBody{
		Error:     msg,
		Code:      common.ErrorCode(err),
		RequestID: common.RequestIDFromContext(r.Context()),
	})
}
