package services

import (
	"context"

	"weather-stats/internal/models"
	"weather-stats/internal/repository"
	"weather-stats/pkg/logging"
	"weather-stats/pkg/metrics"
)

// WeatherService handles weather data operations
type WeatherService struct {
	repo    repository.WeatherRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewWeatherService creates a new weather service
func NewWeatherService(repo repository.WeatherRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *WeatherService {
	return &WeatherService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// ListObservations returns one page of observations and the total match count.
// station_id is checked first, then date together with station_id; a criterion
// that matches nothing yields *repository.NotFoundError.
func (s *WeatherService) ListObservations(ctx context.Context, filter repository.ObservationFilter) ([]*models.Observation, int, error) {
	if filter.StationID != nil {
		n, err := s.repo.CountObservations(ctx, repository.ObservationFilter{StationID: filter.StationID})
		if err != nil {
			return nil, 0, err
		}
		if n == 0 {
			return nil, 0, s.notFound(ctx, "station_id", *filter.StationID)
		}
	}

	if filter.Date != nil {
		n, err := s.repo.CountObservations(ctx, repository.ObservationFilter{StationID: filter.StationID, Date: filter.Date})
		if err != nil {
			return nil, 0, err
		}
		if n == 0 {
			return nil, 0, s.notFound(ctx, "date", filter.Date.String())
		}
	}

	return s.repo.GetObservations(ctx, filter)
}

// notFound reports a filter criterion that matched nothing
func (s *WeatherService) notFound(ctx context.Context, param, value string) error {
	s.logger.Debug(ctx, "[QUERY_NOT_FOUND] Filter matched no observations", logging.Fields{
		"param": param,
		"value": value,
	})
	return &repository.NotFoundError{Resource: param, ID: value}
}

// HealthCheck reports whether the backing store is reachable
func (s *WeatherService) HealthCheck(ctx context.Context) error {
	return s.repo.HealthCheck(ctx)
}
