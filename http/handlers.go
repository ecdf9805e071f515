package http

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"winequality/config"
	"winequality/ml"
	"winequality/monitoring"
)

type Options struct {
	Service     config.ServiceConfig
	PredictMode string
	Logger      *zap.Logger
	Metrics     *monitoring.Metrics
}

// Handler serves the prediction API around a model loaded before
// construction. The model is only read, so requests share it without locks.
type Handler struct {
	model   ml.Regressor
	service config.ServiceConfig
	strict  bool
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

func NewHandler(model ml.Regressor, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = monitoring.NewMetrics()
	}
	return &Handler{
		model:   model,
		service: opts.Service,
		strict:  opts.PredictMode != config.PredictModeLegacy,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
}

func (h *Handler) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.handleRoot)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("POST /predict", h.handlePredict)
	mux.Handle("GET /metrics", GzipMiddleware(h.metrics.Handler()))
}

// Routes returns a mux with every endpoint registered.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	h.RegisterHandlers(mux)
	return mux
}

type rootResponse struct {
	Message string `json:"message"`
	Name    string `json:"name"`
	RollNo  string `json:"roll_no"`
}

type healthResponse struct {
	Status string `json:"status"`
}

type PredictResponse struct {
	Name        string `json:"name"`
	RollNo      string `json:"roll_no"`
	WineQuality int    `json:"wine_quality"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error   string       `json:"error"`
	Details []FieldError `json:"details,omitempty"`
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, rootResponse{
		Message: h.service.Message,
		Name:    h.service.Name,
		RollNo:  h.service.RollNo,
	})
}

// handleHealth reports liveness only; it does not exercise the model.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, healthResponse{Status: "healthy"})
}

// writeJSON sends v with status. An encode failure means the client went
// away, so it is only logged at debug level.
func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("write response failed", zap.Int("status", status), zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, logger *zap.Logger, status int, message string, details []FieldError) {
	writeJSON(w, logger, status, errorResponse{Error: message, Details: details})
}
