package services

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"weather-stats/internal/models"
	"weather-stats/internal/repository"
	"weather-stats/pkg/logging"
	"weather-stats/pkg/metrics"
)

// DefaultFileSuffix selects the station files inside the data directory
const DefaultFileSuffix = ".txt"

// IngestionService handles weather data ingestion
type IngestionService struct {
	repo    repository.WeatherRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// IngestionOptions controls one ingestion run
type IngestionOptions struct {
	DataDir        string
	FileSuffix     string
	BatchSize      int
	ConflictPolicy models.ConflictPolicy
	// DryRun parses and aggregates without touching the database
	DryRun bool
}

// IngestionResult contains ingestion statistics
type IngestionResult struct {
	StartTime            time.Time
	EndTime              time.Time
	Duration             time.Duration
	DryRun               bool
	TotalFiles           int
	TotalLines           int
	ParsedRecords        int
	MissingValueRecords  int
	InvalidRecords       int
	ObservationsInserted int64
	StatsInserted        int64
	Files                []*FileIngestionResult
}

// FileIngestionResult contains per-file ingestion statistics
type FileIngestionResult struct {
	FileName             string
	StationID            string
	TotalLines           int
	ParsedRecords        int
	MissingValueRecords  int
	InvalidRecords       int
	ObservationsInserted int64
	StatsInserted        int64
	Stats                []models.YearlyStat
}

// NewIngestionService creates a new ingestion service. repo may be nil when
// the service is only used for dry runs.
func NewIngestionService(repo repository.WeatherRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *IngestionService {
	return &IngestionService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// IngestDirectory ingests every station file in opts.DataDir. All files are
// written in one transaction: any persistence failure rolls back the whole run.
func (s *IngestionService) IngestDirectory(ctx context.Context, opts IngestionOptions) (*IngestionResult, error) {
	if opts.FileSuffix == "" {
		opts.FileSuffix = DefaultFileSuffix
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = repository.DefaultBatchSize
	}
	if opts.ConflictPolicy == "" {
		opts.ConflictPolicy = models.ConflictFail
	}
	if !opts.DryRun && s.repo == nil {
		return nil, errors.New("ingestion requires a repository unless running dry")
	}

	timer := s.metrics.TimeIngestion()
	result := &IngestionResult{
		StartTime: time.Now().UTC(),
		DryRun:    opts.DryRun,
		Files:     make([]*FileIngestionResult, 0),
	}

	s.logger.Info(ctx, "[INGEST_START] Starting data ingestion", logging.Fields{
		"start_time":      result.StartTime.Format(time.RFC3339),
		"data_dir":        opts.DataDir,
		"file_suffix":     opts.FileSuffix,
		"batch_size":      opts.BatchSize,
		"conflict_policy": string(opts.ConflictPolicy),
		"dry_run":         opts.DryRun,
		"stage":           "INITIALIZATION",
	})

	files, err := listDataFiles(opts.DataDir, opts.FileSuffix)
	if err != nil {
		s.metrics.RecordIngestionError("directory_error")
		s.logger.Error(ctx, "[INGEST_DIR_ERROR] Data directory unreadable", logging.Fields{
			"data_dir": opts.DataDir,
			"stage":    "FILE_DISCOVERY",
		}, err)
		return nil, err
	}

	result.TotalFiles = len(files)
	if len(files) == 0 {
		s.logger.Warn(ctx, "[INGEST_NO_FILES] No data files matched", logging.Fields{
			"data_dir":    opts.DataDir,
			"file_suffix": opts.FileSuffix,
			"stage":       "FILE_DISCOVERY",
		})
	} else {
		s.logger.Info(ctx, "[INGEST_FILES] Found data files", logging.Fields{
			"file_count": len(files),
			"stage":      "FILE_DISCOVERY",
		})
	}

	run := func(w repository.IngestWriter) error {
		for _, filePath := range files {
			if err := ctx.Err(); err != nil {
				return err
			}

			fileResult, err := s.ingestFile(ctx, w, filePath, opts)
			if err != nil {
				s.metrics.RecordIngestionError("file_error")
				s.logger.Error(ctx, "[INGEST_FILE_ERROR] File ingestion failed", logging.Fields{
					"file_path": filePath,
					"stage":     "FILE_PROCESSING",
				}, err)
				return fmt.Errorf("failed to ingest %s: %w", filepath.Base(filePath), err)
			}

			result.add(fileResult)
			s.metrics.IngestionFilesTotal.Inc()
		}
		return nil
	}

	if opts.DryRun {
		err = run(nil)
	} else {
		err = s.repo.WithinTx(ctx, run)
	}

	result.EndTime = time.Now().UTC()
	result.Duration = timer.ObserveDuration()

	if err != nil {
		s.logger.Error(ctx, "[INGEST_FAILED] Data ingestion rolled back", logging.Fields{
			"end_time":         result.EndTime.Format(time.RFC3339),
			"duration_seconds": result.Duration.Seconds(),
			"stage":            "ROLLBACK",
		}, err)
		return nil, err
	}

	s.logger.Info(ctx, "[INGEST_COMPLETE] Data ingestion completed", logging.Fields{
		"end_time":              result.EndTime.Format(time.RFC3339),
		"total_files":           result.TotalFiles,
		"total_lines":           result.TotalLines,
		"parsed_records":        result.ParsedRecords,
		"missing_value_records": result.MissingValueRecords,
		"invalid_records":       result.InvalidRecords,
		"observations_inserted": result.ObservationsInserted,
		"stats_inserted":        result.StatsInserted,
		"duration_seconds":      result.Duration.Seconds(),
		"records_per_second":    recordsPerSecond(result.ParsedRecords, result.Duration),
		"dry_run":               result.DryRun,
		"stage":                 "COMPLETE",
	})

	return result, nil
}

func (r *IngestionResult) add(f *FileIngestionResult) {
	r.TotalLines += f.TotalLines
	r.ParsedRecords += f.ParsedRecords
	r.MissingValueRecords += f.MissingValueRecords
	r.InvalidRecords += f.InvalidRecords
	r.ObservationsInserted += f.ObservationsInserted
	r.StatsInserted += f.StatsInserted
	r.Files = append(r.Files, f)
}

// ingestFile parses one station file and, when w is non-nil, writes its
// observations and yearly statistics
func (s *IngestionService) ingestFile(ctx context.Context, w repository.IngestWriter, filePath string, opts IngestionOptions) (*FileIngestionResult, error) {
	fileName := filepath.Base(filePath)
	stationID := strings.TrimSuffix(fileName, filepath.Ext(fileName))

	result := &FileIngestionResult{
		FileName:  fileName,
		StationID: stationID,
	}
	fileLog := s.logger.WithFields(logging.Fields{
		"file_name":  fileName,
		"station_id": stationID,
	})

	observations, err := s.parseFile(ctx, fileLog, filePath, result)
	if err != nil {
		return nil, err
	}
	observations = dedupeObservations(observations, opts.ConflictPolicy)
	result.Stats = AggregateYearly(observations)

	if w != nil {
		result.ObservationsInserted, err = w.InsertObservations(ctx, observations, opts.ConflictPolicy, opts.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to insert observations: %w", err)
		}

		result.StatsInserted, err = w.InsertYearlyStats(ctx, result.Stats, opts.ConflictPolicy)
		if err != nil {
			return nil, fmt.Errorf("failed to insert yearly statistics: %w", err)
		}
	}

	fileLog.Info(ctx, "[INGEST_FILE_SUCCESS] File ingested successfully", logging.Fields{
		"total_lines":           result.TotalLines,
		"parsed_records":        result.ParsedRecords,
		"missing_value_records": result.MissingValueRecords,
		"invalid_records":       result.InvalidRecords,
		"observations_inserted": result.ObservationsInserted,
		"stats_inserted":        result.StatsInserted,
		"years":                 len(result.Stats),
		"stage":                 "FILE_COMPLETE",
	})

	return result, nil
}

// parseFile reads every line of filePath. Sentinel and malformed lines are
// counted and skipped; only I/O failures are returned as errors.
func (s *IngestionService) parseFile(ctx context.Context, fileLog *logging.ContextLogger, filePath string, result *FileIngestionResult) ([]models.Observation, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	observations := make([]models.Observation, 0, 4096)

	lineNumber := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lineNumber++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			fileLog.Warn(ctx, "[INGEST_BLANK_LINE] Blank line skipped", logging.Fields{
				"line_number": lineNumber,
			})
			continue
		}
		result.TotalLines++

		observation, err := models.ParseLine(result.StationID, line)
		if err != nil {
			if errors.Is(err, models.ErrMissingValue) {
				result.MissingValueRecords++
				s.metrics.RecordSkippedRecord("missing_value")
				fileLog.Debug(ctx, "[INGEST_MISSING_VALUE] Line skipped", logging.Fields{
					"line_number": lineNumber,
				})
				continue
			}

			result.InvalidRecords++
			s.metrics.RecordSkippedRecord("invalid")
			fileLog.Warn(ctx, "[INGEST_INVALID_LINE] Invalid record skipped", logging.Fields{
				"line_number": lineNumber,
				"line":        line,
				"reason":      err.Error(),
			})
			continue
		}

		result.ParsedRecords++
		observations = append(observations, observation)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}

	return observations, nil
}

// listDataFiles returns the regular files in dir whose name ends with suffix, in lexical order
func listDataFiles(dir, suffix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory %s: %w", dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasSuffix(entry.Name(), suffix) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}

	return files, nil
}

// dedupeObservations collapses repeated dates within one file. skip keeps the
// first reading and replace keeps the last; fail leaves duplicates in place so
// the insert reports them.
func dedupeObservations(observations []models.Observation, policy models.ConflictPolicy) []models.Observation {
	if policy == models.ConflictFail || len(observations) < 2 {
		return observations
	}

	index := make(map[models.Date]int, len(observations))
	out := make([]models.Observation, 0, len(observations))
	for _, o := range observations {
		if i, ok := index[o.Date]; ok {
			if policy == models.ConflictReplace {
				out[i] = o
			}
			continue
		}
		index[o.Date] = len(out)
		out = append(out, o)
	}

	return out
}

func recordsPerSecond(records int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(records) / d.Seconds()
}
