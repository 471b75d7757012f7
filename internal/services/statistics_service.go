package services

import (
	"context"
	"sort"
	"strconv"

	"weather-stats/internal/models"
	"weather-stats/internal/repository"
	"weather-stats/pkg/logging"
	"weather-stats/pkg/metrics"
)

// StatisticsService handles weather statistics calculations
type StatisticsService struct {
	repo    repository.WeatherRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewStatisticsService creates a new statistics service
func NewStatisticsService(repo repository.WeatherRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *StatisticsService {
	return &StatisticsService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// ListYearlyStats returns one page of yearly statistics and the total match count.
// Each supplied criterion is applied cumulatively; a criterion that leaves
// nothing to return yields *repository.NotFoundError.
func (s *StatisticsService) ListYearlyStats(ctx context.Context, filter repository.StatisticsFilter) ([]*models.YearlyStat, int, error) {
	if filter.StationID != nil {
		n, err := s.repo.CountYearlyStats(ctx, repository.StatisticsFilter{StationID: filter.StationID})
		if err != nil {
			return nil, 0, err
		}
		if n == 0 {
			return nil, 0, s.notFound(ctx, "station_id", *filter.StationID)
		}
	}

	if filter.Year != nil {
		n, err := s.repo.CountYearlyStats(ctx, repository.StatisticsFilter{StationID: filter.StationID, Year: filter.Year})
		if err != nil {
			return nil, 0, err
		}
		if n == 0 {
			return nil, 0, s.notFound(ctx, "year", strconv.Itoa(*filter.Year))
		}
	}

	return s.repo.GetYearlyStats(ctx, filter)
}

// notFound reports a filter criterion that matched nothing
func (s *StatisticsService) notFound(ctx context.Context, param, value string) error {
	s.logger.Debug(ctx, "[QUERY_NOT_FOUND] Filter matched no yearly statistics", logging.Fields{
		"param": param,
		"value": value,
	})
	return &repository.NotFoundError{Resource: param, ID: value}
}

type yearKey struct {
	stationID string
	year      int
}

type yearAccumulator struct {
	count   int
	sumMax  int64
	sumMin  int64
	sumPrcp int64
}

// AggregateYearly groups observations by station and calendar year and returns
// the mean max/min temperature and total precipitation of each group, ordered
// by station then year.
func AggregateYearly(observations []models.Observation) []models.YearlyStat {
	groups := make(map[yearKey]*yearAccumulator)
	for _, o := range observations {
		key := yearKey{stationID: o.StationID, year: o.Date.Year()}
		acc, ok := groups[key]
		if !ok {
			acc = &yearAccumulator{}
			groups[key] = acc
		}
		acc.count++
		acc.sumMax += int64(o.MaxTemp)
		acc.sumMin += int64(o.MinTemp)
		acc.sumPrcp += int64(o.Precipitation)
	}

	keys := make([]yearKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].stationID != keys[j].stationID {
			return keys[i].stationID < keys[j].stationID
		}
		return keys[i].year < keys[j].year
	})

	stats := make([]models.YearlyStat, 0, len(keys))
	for _, k := range keys {
		acc := groups[k]
		stat := models.YearlyStat{Year: k.year, StationID: k.stationID}
		if acc.count > 0 {
			avgMax := float64(acc.sumMax) / float64(acc.count)
			avgMin := float64(acc.sumMin) / float64(acc.count)
			total := float64(acc.sumPrcp)
			stat.AvgMaxTemp = &avgMax
			stat.AvgMinTemp = &avgMin
			stat.TotalPrecipitation = &total
		}
		stats = append(stats, stat)
	}

	return stats
}
