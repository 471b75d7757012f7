package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"weather-stats/internal/config"
	"weather-stats/internal/models"
	"weather-stats/internal/repository"
	"weather-stats/internal/services"
	"weather-stats/pkg/database"
	"weather-stats/pkg/logging"
	"weather-stats/pkg/metrics"
)

const version = "1.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Ingestion failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Parse command-line flags, defaulting to the configured values
	dataDir := flag.String("data-dir", cfg.Ingestion.DataDir, "Directory containing weather data files")
	suffix := flag.String("suffix", cfg.Ingestion.FileSuffix, "Only files ending with this suffix are ingested")
	batchSize := flag.Int("batch-size", cfg.Ingestion.BatchSize, "Maximum rows per INSERT statement")
	onConflict := flag.String("on-conflict", cfg.Ingestion.ConflictPolicy, "Duplicate key policy: fail, skip or replace")
	logFile := flag.String("log-file", cfg.Ingestion.LogFile, "Append the run's log trail to this file (empty disables)")
	metricsFile := flag.String("metrics-file", "", "Write run metrics in Prometheus text format to this file")
	dryRun := flag.Bool("dry-run", false, "Parse and aggregate without writing to the database")
	flag.Parse()

	cfg.Ingestion.BatchSize = *batchSize
	cfg.Ingestion.ConflictPolicy = *onConflict
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	policy, _ := models.ParseConflictPolicy(*onConflict)

	// Initialize logger, teeing into the run log file
	var out io.Writer = os.Stdout
	if *logFile != "" {
		sink, err := logging.OpenFileSink(*logFile)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer sink.Close()
		out = io.MultiWriter(os.Stdout, sink)
	}
	logger := cfg.NewLogger("weather-ingester", version, out)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "[INGESTER_START] Starting weather data ingestion", logging.Fields{
		"version":         version,
		"data_dir":        *dataDir,
		"suffix":          *suffix,
		"batch_size":      *batchSize,
		"conflict_policy": string(policy),
		"dry_run":         *dryRun,
	})

	// Initialize metrics collector
	registry := prometheus.NewRegistry()
	metricsCollector := metrics.NewCollector("weather_ingester", registry)
	if *metricsFile != "" {
		defer func() {
			if err := prometheus.WriteToTextfile(*metricsFile, registry); err != nil {
				logger.Error(ctx, "[INGESTER_METRICS_ERROR] Failed to write metrics file", logging.Fields{
					"path": *metricsFile,
				}, err)
			}
		}()
	}

	// Initialize database unless this is a dry run
	var weatherRepo repository.WeatherRepository
	if !*dryRun {
		db, err := database.Open(cfg.Database.ConnectionConfig(), logger, metricsCollector)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		weatherRepo = repository.NewWeatherRepository(db, logger, metricsCollector)
	}

	// Ingest data
	ingestionService := services.NewIngestionService(weatherRepo, logger, metricsCollector)
	result, err := ingestionService.IngestDirectory(ctx, services.IngestionOptions{
		DataDir:        *dataDir,
		FileSuffix:     *suffix,
		BatchSize:      *batchSize,
		ConflictPolicy: policy,
		DryRun:         *dryRun,
	})
	if err != nil {
		return err
	}

	printSummary(result)

	logger.Info(ctx, "[INGESTER_COMPLETE] Ingestion completed successfully", logging.Fields{
		"observations_inserted": result.ObservationsInserted,
		"stats_inserted":        result.StatsInserted,
		"invalid_records":       result.InvalidRecords,
		"duration_seconds":      result.Duration.Seconds(),
	})

	return nil
}

func printSummary(result *services.IngestionResult) {
	title := "INGESTION COMPLETE"
	if result.DryRun {
		title = "DRY RUN COMPLETE (nothing written)"
	}

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println(title)
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Total Files:           %d\n", result.TotalFiles)
	fmt.Printf("Total Lines:           %d\n", result.TotalLines)
	fmt.Printf("Parsed Records:        %d\n", result.ParsedRecords)
	fmt.Printf("Missing Value Records: %d\n", result.MissingValueRecords)
	fmt.Printf("Invalid Records:       %d\n", result.InvalidRecords)
	fmt.Printf("Observations Inserted: %d\n", result.ObservationsInserted)
	fmt.Printf("Yearly Stats Inserted: %d\n", result.StatsInserted)
	fmt.Printf("Duration:              %v\n", result.Duration)

	if !result.DryRun {
		return
	}

	fmt.Println()
	fmt.Printf("%-14s %6s %12s %12s %14s\n", "STATION", "YEAR", "AVG MAX", "AVG MIN", "TOTAL PRCP")
	for _, f := range result.Files {
		for _, s := range f.Stats {
			fmt.Printf("%-14s %6d %12s %12s %14s\n", s.StationID, s.Year,
				formatValue(s.AvgMaxTemp), formatValue(s.AvgMinTemp), formatValue(s.TotalPrecipitation))
		}
	}
}

func formatValue(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}
