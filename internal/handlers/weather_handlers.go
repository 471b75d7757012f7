package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"weather-stats/internal/models"
	"weather-stats/internal/repository"
	"weather-stats/internal/services"
	"weather-stats/pkg/logging"
	"weather-stats/pkg/metrics"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return fld.Tag.Get("query")
	})
	return v
}

// observationQuery holds the filter parameters of GET /api/weather/
type observationQuery struct {
	StationID string `query:"station_id" validate:"omitempty,max=50"`
	Date      string `query:"date" validate:"omitempty,datetime=2006-01-02"`
}

// statsQuery holds the filter parameters of GET /api/weather/stats/
type statsQuery struct {
	StationID string `query:"station_id" validate:"omitempty,max=50"`
	Year      string `query:"year" validate:"omitempty,number"`
}

// WeatherHandler handles weather API endpoints
type WeatherHandler struct {
	weatherService *services.WeatherService
	statsService   *services.StatisticsService
	paginator      Paginator
	logger         *logging.StructuredLogger
	metrics        *metrics.Collector
}

// NewWeatherHandler creates a new weather handler
func NewWeatherHandler(
	weatherService *services.WeatherService,
	statsService *services.StatisticsService,
	paginator Paginator,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *WeatherHandler {
	return &WeatherHandler{
		weatherService: weatherService,
		statsService:   statsService,
		paginator:      paginator,
		logger:         logger,
		metrics:        metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// GetObservations handles GET /api/weather/
func (h *WeatherHandler) GetObservations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	const endpoint = "/api/weather"

	params := r.URL.Query()
	q := observationQuery{
		StationID: params.Get("station_id"),
		Date:      params.Get("date"),
	}
	if err := validate.Struct(q); err != nil {
		h.sendError(w, r, endpoint, validationError(err))
		return
	}

	page, err := h.paginator.parse(params)
	if err != nil {
		h.sendError(w, r, endpoint, err)
		return
	}

	filter := repository.ObservationFilter{
		Limit:  page.limit(),
		Offset: page.offset(),
	}
	if q.StationID != "" {
		filter.StationID = &q.StationID
	}
	if q.Date != "" {
		date, err := models.ParseDate(q.Date)
		if err != nil {
			h.sendError(w, r, endpoint, err)
			return
		}
		filter.Date = &date
	}

	observations, total, err := h.weatherService.ListObservations(ctx, filter)
	if err != nil {
		h.sendError(w, r, endpoint, err)
		return
	}
	if page.Page > 1 && len(observations) == 0 {
		h.sendError(w, r, endpoint, &repository.NotFoundError{Resource: "page", ID: strconv.Itoa(page.Page)})
		return
	}

	h.sendJSON(w, newPageResponse(r, page, total, observations), http.StatusOK)
}

// GetStatistics handles GET /api/weather/stats/
func (h *WeatherHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	const endpoint = "/api/weather/stats"

	params := r.URL.Query()
	q := statsQuery{
		StationID: params.Get("station_id"),
		Year:      params.Get("year"),
	}
	if err := validate.Struct(q); err != nil {
		h.sendError(w, r, endpoint, validationError(err))
		return
	}

	page, err := h.paginator.parse(params)
	if err != nil {
		h.sendError(w, r, endpoint, err)
		return
	}

	filter := repository.StatisticsFilter{
		Limit:  page.limit(),
		Offset: page.offset(),
	}
	if q.StationID != "" {
		filter.StationID = &q.StationID
	}
	if q.Year != "" {
		year, err := strconv.Atoi(q.Year)
		if err != nil {
			h.sendError(w, r, endpoint, &models.ValidationError{Field: "year", Value: q.Year, Message: fmt.Sprintf("invalid year %q, expected an integer", q.Year)})
			return
		}
		filter.Year = &year
	}

	stats, total, err := h.statsService.ListYearlyStats(ctx, filter)
	if err != nil {
		h.sendError(w, r, endpoint, err)
		return
	}
	if page.Page > 1 && len(stats) == 0 {
		h.sendError(w, r, endpoint, &repository.NotFoundError{Resource: "page", ID: strconv.Itoa(page.Page)})
		return
	}

	h.sendJSON(w, newPageResponse(r, page, total, stats), http.StatusOK)
}

// HealthCheck handles GET /health
func (h *WeatherHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if err := h.weatherService.HealthCheck(ctx); err != nil {
		h.logger.Error(ctx, "[HEALTH_CHECK_ERROR] Database unreachable", logging.Fields{}, err)
		status["status"] = "unhealthy"
		h.sendJSON(w, status, http.StatusServiceUnavailable)
		return
	}

	h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", logging.Fields{})
	h.sendJSON(w, status, http.StatusOK)
}

// sendJSON sends a JSON response
func (h *WeatherHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError maps err onto a status code: validation 400, not found 404,
// anything else 500 with the details kept in the log.
func (h *WeatherHandler) sendError(w http.ResponseWriter, r *http.Request, endpoint string, err error) {
	ctx := r.Context()

	var (
		validationErr *models.ValidationError
		notFoundErr   *repository.NotFoundError
	)

	statusCode := http.StatusInternalServerError
	message := "internal server error"
	errorType := "internal_error"

	switch {
	case errors.As(err, &validationErr):
		statusCode = http.StatusBadRequest
		message = validationErr.Error()
		errorType = "validation_error"
	case errors.As(err, &notFoundErr):
		statusCode = http.StatusNotFound
		message = notFoundErr.Error()
		if notFoundErr.Resource == "page" {
			message = errInvalidPage
		}
		errorType = "not_found"
	default:
		h.logger.Error(ctx, "[API_ERROR] Request failed", logging.Fields{
			"endpoint": endpoint,
			"query":    r.URL.RawQuery,
		}, err)
	}

	h.metrics.RecordAPIError(errorType, endpoint)

	h.sendJSON(w, ErrorResponse{Error: message, Code: statusCode}, statusCode)
}

// validationError converts validator output into a *models.ValidationError
// describing the first failing parameter
func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &models.ValidationError{Message: err.Error()}
	}

	fe := fieldErrs[0]
	value := fmt.Sprint(fe.Value())

	var message string
	switch fe.Tag() {
	case "datetime":
		message = fmt.Sprintf("invalid %s %q, expected YYYY-MM-DD", fe.Field(), value)
	case "number":
		message = fmt.Sprintf("invalid %s %q, expected an integer", fe.Field(), value)
	case "max":
		message = fmt.Sprintf("invalid %s %q, at most %s characters", fe.Field(), value, fe.Param())
	default:
		message = fmt.Sprintf("invalid %s %q", fe.Field(), value)
	}

	return &models.ValidationError{Field: fe.Field(), Value: value, Message: message}
}

// RegisterRoutes registers all weather API routes, with and without the trailing slash
func (h *WeatherHandler) RegisterRoutes(router *mux.Router) {
	for _, path := range []string{"/api/weather/", "/api/weather"} {
		router.HandleFunc(path, h.GetObservations).Methods(http.MethodGet)
	}
	for _, path := range []string{"/api/weather/stats/", "/api/weather/stats"} {
		router.HandleFunc(path, h.GetStatistics).Methods(http.MethodGet)
	}
	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
}
