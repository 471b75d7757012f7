package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"weather-stats/pkg/logging"
	"weather-stats/pkg/metrics"
)

// Supported driver names
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Config holds database connection configuration
type Config struct {
	Driver          string
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	Path            string // sqlite file path
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DB wraps sqlx.DB with monitoring and metrics
type DB struct {
	db      *sqlx.DB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
	config  *Config

	done      chan struct{}
	closeOnce sync.Once
}

// Open creates a new database connection for cfg.Driver
func Open(cfg *Config, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) (*DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverPostgres
	}

	dsn, err := buildDSN(driver, cfg)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if driver == DriverSQLite {
		// a single writer keeps the whole ingestion transaction on one connection
		maxOpen = 1
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info(ctx, "[DB_INIT] Database connection established", logging.Fields{
		"driver":            driver,
		"host":              cfg.Host,
		"database":          databaseName(driver, cfg),
		"max_open_conns":    maxOpen,
		"max_idle_conns":    cfg.MaxIdleConns,
		"conn_max_lifetime": cfg.ConnMaxLifetime.String(),
	})

	d := &DB{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
		config:  cfg,
		done:    make(chan struct{}),
	}

	go d.monitorConnectionPool(maxOpen)

	return d, nil
}

func buildDSN(driver string, cfg *Config) (string, error) {
	switch driver {
	case DriverPostgres:
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host,
			cfg.Port,
			cfg.User,
			cfg.Password,
			cfg.Database,
			cfg.SSLMode,
		), nil
	case DriverSQLite:
		return buildSQLiteDSN(cfg.Path)
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

func buildSQLiteDSN(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("sqlite path is required")
	}

	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", fmt.Errorf("mkdir %s: %w", dir, err)
			}
		}
	}

	params := []string{
		"_foreign_keys=on",
		"_busy_timeout=5000",
		"_journal_mode=WAL",
	}

	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + strings.Join(params, "&"), nil
	}

	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&")), nil
}

func databaseName(driver string, cfg *Config) string {
	if driver == DriverSQLite {
		return cfg.Path
	}
	return cfg.Database
}

// Close stops pool monitoring and closes the database connection
func (p *DB) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		p.logger.Info(context.Background(), "[DB_CLOSE] Closing database connection", logging.Fields{
			"database": databaseName(p.DriverName(), p.config),
		})
		err = p.db.Close()
	})
	return err
}

// DB returns the underlying sqlx.DB instance
func (p *DB) DB() *sqlx.DB {
	return p.db
}

// DriverName returns the name of the driver in use
func (p *DB) DriverName() string {
	return p.db.DriverName()
}

// Dialect returns the migration dialect for the active driver
func (p *DB) Dialect() string {
	if p.DriverName() == DriverSQLite {
		return "sqlite"
	}
	return "postgres"
}

// Rebind converts a query written with ? placeholders into the driver's bindvar form
func (p *DB) Rebind(query string) string {
	return p.db.Rebind(query)
}

// ExecContext executes a statement that returns no rows
func (p *DB) ExecContext(ctx context.Context, queryType, query string, args ...interface{}) (sql.Result, error) {
	var result sql.Result
	err := p.track(ctx, queryType, "exec_error", func() (err error) {
		result, err = p.db.ExecContext(ctx, query, args...)
		return err
	})
	return result, err
}

// NamedExecContext runs a named statement on ext, which is either the DB or a
// transaction. A slice arg expands into a multi-row VALUES list.
func (p *DB) NamedExecContext(ctx context.Context, ext sqlx.ExtContext, queryType, query string, arg interface{}) (sql.Result, error) {
	var result sql.Result
	err := p.track(ctx, queryType, "named_exec_error", func() (err error) {
		result, err = sqlx.NamedExecContext(ctx, ext, query, arg)
		return err
	})
	return result, err
}

// GetContext scans a single row into dest. sql.ErrNoRows is returned as is
// and not counted as a failure.
func (p *DB) GetContext(ctx context.Context, queryType string, dest interface{}, query string, args ...interface{}) error {
	return p.track(ctx, queryType, "get_error", func() error {
		return p.db.GetContext(ctx, dest, query, args...)
	})
}

// SelectContext scans every row into the slice dest
func (p *DB) SelectContext(ctx context.Context, queryType string, dest interface{}, query string, args ...interface{}) error {
	return p.track(ctx, queryType, "select_error", func() error {
		return p.db.SelectContext(ctx, dest, query, args...)
	})
}

// track times call under queryType and records its failure as errorType
func (p *DB) track(ctx context.Context, queryType, errorType string, call func() error) error {
	timer := p.metrics.TimeQuery(queryType)
	err := call()
	duration := timer.ObserveDuration()

	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		p.metrics.RecordDBError(errorType)
		p.logger.Error(ctx, "[DB_QUERY_ERROR] Database call failed", logging.Fields{
			"query_type":  queryType,
			"error_type":  errorType,
			"duration_ms": duration.Milliseconds(),
		}, err)
		return err
	}

	p.logger.Debug(ctx, "[DB_QUERY] Database call completed", logging.Fields{
		"query_type":  queryType,
		"duration_ms": duration.Milliseconds(),
	})
	return err
}

// BeginTx begins a new transaction
func (p *DB) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		p.metrics.RecordDBError("transaction_begin_error")
		p.logger.Error(ctx, "[DB_TX_ERROR] Failed to begin transaction", logging.Fields{}, err)
		return nil, err
	}

	return tx, nil
}

// WithTx runs fn inside a transaction. The transaction commits when fn returns
// nil and rolls back on error or panic.
func (p *DB) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := p.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				p.logger.Error(ctx, "[DB_TX_ROLLBACK_ERROR] Rollback failed", logging.Fields{}, rbErr)
			}
			p.logger.Warn(ctx, "[DB_TX_ROLLBACK] Transaction rolled back", logging.Fields{
				"reason": err.Error(),
			})
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		p.metrics.RecordDBError("transaction_commit_error")
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (p *DB) monitorConnectionPool(maxOpen int) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
		}

		stats := p.db.Stats()

		p.metrics.UpdateDBConnectionPool(
			stats.InUse,
			stats.Idle,
			stats.OpenConnections,
		)

		if maxOpen <= 0 {
			continue
		}

		utilization := float64(stats.InUse) / float64(maxOpen)
		if utilization > 0.8 {
			p.logger.Warn(context.Background(), "[DB_POOL_WARNING] Connection pool utilization high", logging.Fields{
				"in_use":      stats.InUse,
				"idle":        stats.Idle,
				"total":       stats.OpenConnections,
				"max_open":    maxOpen,
				"utilization": fmt.Sprintf("%.2f%%", utilization*100),
			})
		}
	}
}

// HealthCheck performs a database health check
func (p *DB) HealthCheck(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := p.db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	return nil
}
