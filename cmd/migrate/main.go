package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"weather-stats/internal/config"
	"weather-stats/pkg/database"
	"weather-stats/pkg/metrics"
)

func main() {
	direction := flag.String("direction", database.MigrateUp, "Migration direction: up or down")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := cfg.NewLogger("weather-migrate", "1.0.0", os.Stdout)

	// Connect to database
	db, err := database.Open(cfg.Database.ConnectionConfig(), logger, metrics.NewCollector("weather_migrate", nil))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	fmt.Printf("Connected to %s database successfully\n", db.Dialect())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	n, err := db.Migrate(ctx, *direction)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to execute migration: %v\n", err)
		db.Close()
		os.Exit(1)
	}

	fmt.Printf("Migration %s completed successfully (%d applied)\n", *direction, n)
}
