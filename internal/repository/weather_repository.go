package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"weather-stats/internal/models"
	"weather-stats/pkg/database"
	"weather-stats/pkg/logging"
	"weather-stats/pkg/metrics"
)

// DefaultBatchSize bounds the rows sent in one multi-row INSERT. Five columns
// per row keeps the statement well under the placeholder limits of both drivers.
const DefaultBatchSize = 1000

// MaxBatchSize keeps a five-column batch under SQLite's 32766 bound parameters
// and PostgreSQL's 65535.
const MaxBatchSize = 5000

// WeatherRepository provides data access for weather data
type WeatherRepository interface {
	// Ingestion: every write of a run goes through the IngestWriter of one transaction
	WithinTx(ctx context.Context, fn func(w IngestWriter) error) error

	// Observation operations
	GetObservations(ctx context.Context, filter ObservationFilter) ([]*models.Observation, int, error)
	CountObservations(ctx context.Context, filter ObservationFilter) (int, error)

	// Statistics operations
	GetYearlyStats(ctx context.Context, filter StatisticsFilter) ([]*models.YearlyStat, int, error)
	CountYearlyStats(ctx context.Context, filter StatisticsFilter) (int, error)

	// Utility operations
	HealthCheck(ctx context.Context) error
}

// IngestWriter persists rows inside an ingestion transaction
type IngestWriter interface {
	InsertObservations(ctx context.Context, observations []models.Observation, policy models.ConflictPolicy, batchSize int) (int64, error)
	InsertYearlyStats(ctx context.Context, stats []models.YearlyStat, policy models.ConflictPolicy) (int64, error)
}

// ObservationFilter is a set of optional equality predicates plus pagination
type ObservationFilter struct {
	StationID *string
	Date      *models.Date
	Limit     int
	Offset    int
}

// StatisticsFilter is a set of optional equality predicates plus pagination
type StatisticsFilter struct {
	StationID *string
	Year      *int
	Limit     int
	Offset    int
}

func (f ObservationFilter) where() (string, []interface{}) {
	clause := " WHERE 1=1"
	args := []interface{}{}

	if f.StationID != nil {
		clause += " AND station_id = ?"
		args = append(args, *f.StationID)
	}
	if f.Date != nil {
		clause += " AND date = ?"
		args = append(args, *f.Date)
	}

	return clause, args
}

func (f StatisticsFilter) where() (string, []interface{}) {
	clause := " WHERE 1=1"
	args := []interface{}{}

	if f.StationID != nil {
		clause += " AND station_id = ?"
		args = append(args, *f.StationID)
	}
	if f.Year != nil {
		clause += " AND year = ?"
		args = append(args, *f.Year)
	}

	return clause, args
}

const (
	selectObservationColumns = `SELECT id, date, station_id, max_temp, min_temp, precipitation FROM weather_observations`
	selectYearlyStatColumns  = `SELECT id, year, station_id, avg_max_temp, avg_min_temp, total_precipitation FROM weather_yearly_stats`

	insertObservationsSQL = `
		INSERT INTO weather_observations (date, station_id, max_temp, min_temp, precipitation)
		VALUES (:date, :station_id, :max_temp, :min_temp, :precipitation)`

	insertYearlyStatsSQL = `
		INSERT INTO weather_yearly_stats (year, station_id, avg_max_temp, avg_min_temp, total_precipitation)
		VALUES (:year, :station_id, :avg_max_temp, :avg_min_temp, :total_precipitation)`
)

// onConflictClause renders the policy as an ON CONFLICT suffix understood by
// both PostgreSQL and SQLite.
func onConflictClause(policy models.ConflictPolicy, keys []string, columns []string) string {
	switch policy {
	case models.ConflictSkip:
		return fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", strings.Join(keys, ", "))
	case models.ConflictReplace:
		sets := make([]string, len(columns))
		for i, c := range columns {
			sets[i] = fmt.Sprintf("%s = excluded.%s", c, c)
		}
		return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(keys, ", "), strings.Join(sets, ", "))
	default:
		return ""
	}
}

// weatherRepository implements WeatherRepository
type weatherRepository struct {
	db      *database.DB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewWeatherRepository creates a new weather repository
func NewWeatherRepository(db *database.DB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) WeatherRepository {
	return &weatherRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// WithinTx runs fn in a single transaction; any error rolls back every write made through w
func (r *weatherRepository) WithinTx(ctx context.Context, fn func(w IngestWriter) error) error {
	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		return fn(&txWriter{repo: r, tx: tx})
	})
}

// GetObservations retrieves observations matching filter, ordered by id, with the total match count
func (r *weatherRepository) GetObservations(ctx context.Context, filter ObservationFilter) ([]*models.Observation, int, error) {
	total, err := r.CountObservations(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	where, args := filter.where()
	query := selectObservationColumns + where + " ORDER BY id"
	query, args = paginate(query, args, filter.Limit, filter.Offset)

	observations := []*models.Observation{}
	if err := r.db.SelectContext(ctx, "get_observations", &observations, r.db.Rebind(query), args...); err != nil {
		return nil, 0, fmt.Errorf("failed to get observations: %w", err)
	}

	return observations, total, nil
}

// CountObservations counts observations matching filter, ignoring pagination
func (r *weatherRepository) CountObservations(ctx context.Context, filter ObservationFilter) (int, error) {
	where, args := filter.where()

	var total int
	query := r.db.Rebind("SELECT COUNT(*) FROM weather_observations" + where)
	if err := r.db.GetContext(ctx, "count_observations", &total, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count observations: %w", err)
	}
	return total, nil
}

// GetYearlyStats retrieves yearly statistics matching filter, ordered by id, with the total match count
func (r *weatherRepository) GetYearlyStats(ctx context.Context, filter StatisticsFilter) ([]*models.YearlyStat, int, error) {
	total, err := r.CountYearlyStats(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	where, args := filter.where()
	query := selectYearlyStatColumns + where + " ORDER BY id"
	query, args = paginate(query, args, filter.Limit, filter.Offset)

	stats := []*models.YearlyStat{}
	if err := r.db.SelectContext(ctx, "get_yearly_stats", &stats, r.db.Rebind(query), args...); err != nil {
		return nil, 0, fmt.Errorf("failed to get yearly statistics: %w", err)
	}

	return stats, total, nil
}

// CountYearlyStats counts yearly statistics matching filter, ignoring pagination
func (r *weatherRepository) CountYearlyStats(ctx context.Context, filter StatisticsFilter) (int, error) {
	where, args := filter.where()

	var total int
	query := r.db.Rebind("SELECT COUNT(*) FROM weather_yearly_stats" + where)
	if err := r.db.GetContext(ctx, "count_yearly_stats", &total, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count yearly statistics: %w", err)
	}
	return total, nil
}

// HealthCheck performs a repository health check
func (r *weatherRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

func paginate(query string, args []interface{}, limit, offset int) (string, []interface{}) {
	if limit <= 0 {
		return query, args
	}
	return query + " LIMIT ? OFFSET ?", append(args, limit, offset)
}

// txWriter implements IngestWriter on top of one transaction
type txWriter struct {
	repo *weatherRepository
	tx   *sqlx.Tx
}

// InsertObservations bulk-inserts observations in chunks of batchSize rows and
// returns the number of rows written.
func (w *txWriter) InsertObservations(ctx context.Context, observations []models.Observation, policy models.ConflictPolicy, batchSize int) (int64, error) {
	query := insertObservationsSQL + onConflictClause(policy,
		[]string{"date", "station_id"},
		[]string{"max_temp", "min_temp", "precipitation"},
	)

	inserted, err := insertChunks(ctx, w, "insert_observations", query, observations, batchSize)
	if err != nil {
		return inserted, classifyInsertError("weather_observation", err)
	}

	w.repo.metrics.IngestionObservationsTotal.Add(float64(inserted))
	return inserted, nil
}

// InsertYearlyStats bulk-inserts yearly statistics and returns the number of rows written
func (w *txWriter) InsertYearlyStats(ctx context.Context, stats []models.YearlyStat, policy models.ConflictPolicy) (int64, error) {
	query := insertYearlyStatsSQL + onConflictClause(policy,
		[]string{"year", "station_id"},
		[]string{"avg_max_temp", "avg_min_temp", "total_precipitation"},
	)

	inserted, err := insertChunks(ctx, w, "insert_yearly_stats", query, stats, DefaultBatchSize)
	if err != nil {
		return inserted, classifyInsertError("weather_yearly_stat", err)
	}

	w.repo.metrics.IngestionStatsTotal.Add(float64(inserted))
	return inserted, nil
}

func insertChunks[T any](ctx context.Context, w *txWriter, queryType, query string, rows []T, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}

	var inserted int64
	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		timer := time.Now()
		result, err := w.repo.db.NamedExecContext(ctx, w.tx, queryType, query, chunk)
		if err != nil {
			return inserted, fmt.Errorf("failed to bulk insert %d rows: %w", len(chunk), err)
		}

		n, err := result.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("failed to read affected rows: %w", err)
		}
		inserted += n

		w.repo.metrics.IngestionBatchSize.Observe(float64(len(chunk)))
		w.repo.logger.Debug(ctx, "[REPO_BATCH_INSERT] Batch insert completed", logging.Fields{
			"query_type":  queryType,
			"rows":        len(chunk),
			"inserted":    n,
			"duration_ms": time.Since(timer).Milliseconds(),
		})
	}

	return inserted, nil
}
