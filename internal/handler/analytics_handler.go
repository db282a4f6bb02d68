package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"security-intel/internal/browser"
	"security-intel/internal/config"
	"security-intel/internal/model"
	"security-intel/internal/service"
	"security-intel/internal/util"
)

// AnalyticsHandler exposes the query façade over HTTP.
type AnalyticsHandler struct {
	facade service.QueryFacade
	query  config.QueryConfig
	logger *zap.Logger
}

// NewAnalyticsHandler creates a new analytics handler
func NewAnalyticsHandler(facade service.QueryFacade, query config.QueryConfig, logger *zap.Logger) *AnalyticsHandler {
	if logger == nil {
		logger = util.Get()
	}
	return &AnalyticsHandler{
		facade: facade,
		query:  query,
		logger: logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// Meta represents pagination metadata
type Meta struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// successResponse creates a successful response
func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

// errorResponse creates an error response
func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

// RegisterRoutes registers all analytics routes
func (h *AnalyticsHandler) RegisterRoutes(router chi.Router) {
	router.Get("/health", h.HealthCheck)

	router.Route("/analytics", func(r chi.Router) {
		r.Get("/kpis", h.GetKPIs)
		r.Get("/severity-trend", h.GetSeverityTrend)
		r.Get("/top-attackers", h.GetTopAttackers)
		r.Get("/threat-categories", h.GetThreatCategories)
		r.Get("/event-types", h.GetEventTypes)
		r.Get("/geo-distribution", h.GetGeoDistribution)
		r.Get("/severity-distribution", h.GetSeverityDistribution)
		r.Get("/recent-events", h.GetRecentEvents)
	})
}

// GetKPIs handles the dashboard summary
// @Router /analytics/kpis [get]
func (h *AnalyticsHandler) GetKPIs(w http.ResponseWriter, r *http.Request) {
	kpis, err := h.facade.KPISummary(r.Context())
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to compute KPIs")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(kpis, ""))
}

// GetSeverityTrend handles hourly severity trends
// @Param limit query int false "most recent hour buckets" default(168)
// @Router /analytics/severity-trend [get]
func (h *AnalyticsHandler) GetSeverityTrend(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", h.query.DefaultTrendBuckets, 1, h.query.MaxTrendBuckets)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid query parameters")
		return
	}

	rows, err := h.facade.SeverityTrend(r.Context(), limit)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to compute severity trend")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(rows, ""))
}

// GetTopAttackers handles the attacker leaderboard
// @Param limit query int false "maximum rank" default(20)
// @Router /analytics/top-attackers [get]
func (h *AnalyticsHandler) GetTopAttackers(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", h.query.DefaultAttackers, 1, h.query.MaxAttackers)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid query parameters")
		return
	}

	rows, err := h.facade.TopAttackers(r.Context(), limit)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to compute top attackers")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(rows, ""))
}

func (h *AnalyticsHandler) GetThreatCategories(w http.ResponseWriter, r *http.Request) {
	rows, err := h.facade.ThreatCategoryStats(r.Context())
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to compute threat categories")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(rows, ""))
}

func (h *AnalyticsHandler) GetEventTypes(w http.ResponseWriter, r *http.Request) {
	rows, err := h.facade.EventTypeAnalysis(r.Context())
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to compute event types")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(rows, ""))
}

func (h *AnalyticsHandler) GetGeoDistribution(w http.ResponseWriter, r *http.Request) {
	rows, err := h.facade.GeoDistribution(r.Context())
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to compute geo distribution")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(rows, ""))
}

func (h *AnalyticsHandler) GetSeverityDistribution(w http.ResponseWriter, r *http.Request) {
	rows, err := h.facade.SeverityDistribution(r.Context())
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to compute severity distribution")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(rows, ""))
}

// GetRecentEvents handles the paginated event browser
// @Param page query int false "page number" default(1)
// @Param page_size query int false "events per page" default(50)
// @Param severity query string false "low, medium, high or critical"
// @Param event_type query string false "exact event type"
// @Router /analytics/recent-events [get]
func (h *AnalyticsHandler) GetRecentEvents(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	page, err := intParam(r, "page", 1, 1, 0)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid query parameters")
		return
	}
	pageSize, err := intParam(r, "page_size", h.query.DefaultPageSize, h.query.MinPageSize, h.query.MaxPageSize)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid query parameters")
		return
	}

	q := browser.Query{
		Page:      page,
		PageSize:  pageSize,
		EventType: strings.TrimSpace(r.URL.Query().Get("event_type")),
	}
	if raw := r.URL.Query().Get("severity"); raw != "" {
		sev, ok := model.ParseSeverity(raw)
		if !ok {
			h.respondWithError(w, http.StatusBadRequest, model.InvalidQuery("unknown severity %q", raw), "Invalid query parameters")
			return
		}
		q.Severity = sev
	}

	result, err := h.facade.RecentEvents(r.Context(), q)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to list events")
		return
	}

	resp := successResponse(result.Data, "")
	resp.Meta = &Meta{
		Page:       result.Pagination.Page,
		PageSize:   result.Pagination.PageSize,
		Total:      result.Pagination.Total,
		TotalPages: result.Pagination.TotalPages,
	}
	h.respondWithJSON(w, http.StatusOK, resp)

	h.logger.Debug("Recent events served",
		util.Int("page", page),
		util.Int("returned", len(result.Data)),
		util.Duration("duration", time.Since(startTime)),
	)
}

// HealthCheck handles service health
func (h *AnalyticsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.facade.HealthCheck(r.Context()); err != nil {
		h.respondWithError(w, http.StatusServiceUnavailable, err, "Service unhealthy")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]string{
		"status":  "healthy",
		"service": "security-intel",
	}, "Service is healthy"))
}

// intParam parses an integer query parameter. max <= 0 means unbounded.
func intParam(r *http.Request, name string, def, min, max int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, model.InvalidQuery("%s must be an integer", name)
	}
	if v < min || (max > 0 && v > max) {
		if max > 0 {
			return 0, model.InvalidQuery("%s must be between %d and %d", name, min, max)
		}
		return 0, model.InvalidQuery("%s must be >= %d", name, min)
	}
	return v, nil
}

// respondWithJSON sends a JSON response
func (h *AnalyticsHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError sends an error response
func (h *AnalyticsHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}

// getStatusCode determines the appropriate HTTP status code for an error
func (h *AnalyticsHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidQuery), errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, model.ErrQueryTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, model.ErrQueryCancelled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
