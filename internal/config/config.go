package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"weather-stats/internal/models"
	"weather-stats/internal/repository"
	"weather-stats/pkg/database"
	"weather-stats/pkg/logging"
)

// DefaultEnvFile is read by LoadConfig when present
const DefaultEnvFile = ".env"

// Config is the runtime configuration shared by the server, ingester and migrate commands
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Logging   LoggingConfig
	Ingestion IngestionConfig
	API       APIConfig
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig selects and tunes the database connection
type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// ConnectionConfig converts the section into the form database.Open expects
func (d DatabaseConfig) ConnectionConfig() *database.Config {
	return &database.Config{
		Driver:          d.Driver,
		Host:            d.Host,
		Port:            d.Port,
		User:            d.User,
		Password:        d.Password,
		Database:        d.Database,
		SSLMode:         d.SSLMode,
		Path:            d.Path,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
		ConnMaxIdleTime: d.ConnMaxIdleTime,
	}
}

// LoggingConfig configures the structured logger
type LoggingConfig struct {
	Level  string
	Format string
}

// IngestionConfig holds ingester defaults; command-line flags override them
type IngestionConfig struct {
	DataDir        string
	FileSuffix     string
	BatchSize      int
	ConflictPolicy string
	LogFile        string
}

// APIConfig holds pagination limits for the list endpoints
type APIConfig struct {
	DefaultPageSize int
	MaxPageSize     int
}

// LoadConfig reads configuration from the environment, seeded from .env if it exists
func LoadConfig() (*Config, error) {
	return LoadConfigFromFile(DefaultEnvFile)
}

// LoadConfigFromFile is LoadConfig with an explicit env file. Variables already
// set in the environment take precedence over the file.
func LoadConfigFromFile(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	env := &envReader{}

	cfg := &Config{
		Server: ServerConfig{
			Host:         env.str("SERVER_HOST", "0.0.0.0"),
			Port:         env.integer("SERVER_PORT", 8080),
			ReadTimeout:  env.duration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: env.duration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  env.duration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Database: DatabaseConfig{
			Driver:          env.str("DB_DRIVER", database.DriverPostgres),
			Host:            env.str("DB_HOST", "localhost"),
			Port:            env.integer("DB_PORT", 5432),
			User:            env.str("DB_USER", "postgres"),
			Password:        env.str("DB_PASSWORD", ""),
			Database:        env.str("DB_NAME", "weather"),
			SSLMode:         env.str("DB_SSLMODE", "disable"),
			Path:            env.str("DB_PATH", "data/weather.db"),
			MaxOpenConns:    env.integer("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    env.integer("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: env.duration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: env.duration("DB_CONN_MAX_IDLE_TIME", time.Minute),
		},
		Logging: LoggingConfig{
			Level:  env.str("LOG_LEVEL", "info"),
			Format: env.str("LOG_FORMAT", string(logging.FormatJSON)),
		},
		Ingestion: IngestionConfig{
			DataDir:        env.str("INGEST_DATA_DIR", "data/wx_data"),
			FileSuffix:     env.str("INGEST_FILE_SUFFIX", ".txt"),
			BatchSize:      env.integer("INGEST_BATCH_SIZE", 1000),
			ConflictPolicy: env.str("INGEST_ON_CONFLICT", string(models.ConflictFail)),
			LogFile:        env.str("INGEST_LOG_FILE", "ingest.log"),
		},
		API: APIConfig{
			DefaultPageSize: env.integer("API_DEFAULT_PAGE_SIZE", 10),
			MaxPageSize:     env.integer("API_MAX_PAGE_SIZE", 100),
		},
	}

	if err := errors.Join(env.errs...); err != nil {
		return nil, err
	}

	return cfg, nil
}

// NewLogger builds the logger described by the Logging section
func (c *Config) NewLogger(service, version string, w io.Writer) *logging.StructuredLogger {
	level, _ := logging.ParseLevel(c.Logging.Level)
	format, _ := logging.ParseFormat(c.Logging.Format)
	return logging.NewWithFormat(format, service, version, level, w)
}

// Validate checks ranges and enumerations that parsing alone cannot
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid SERVER_PORT %d", c.Server.Port))
	}

	switch c.Database.Driver {
	case database.DriverPostgres:
		if c.Database.Host == "" || c.Database.Database == "" {
			errs = append(errs, errors.New("DB_HOST and DB_NAME are required for postgres"))
		}
	case database.DriverSQLite:
		if c.Database.Path == "" {
			errs = append(errs, errors.New("DB_PATH is required for sqlite3"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid DB_DRIVER %q (allowed: postgres, sqlite3)", c.Database.Driver))
	}

	if c.Database.MaxOpenConns < 0 || c.Database.MaxIdleConns < 0 {
		errs = append(errs, errors.New("database pool sizes must not be negative"))
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if _, err := logging.ParseFormat(c.Logging.Format); err != nil {
		errs = append(errs, err)
	}

	if c.Ingestion.BatchSize <= 0 || c.Ingestion.BatchSize > repository.MaxBatchSize {
		errs = append(errs, fmt.Errorf("invalid INGEST_BATCH_SIZE %d (allowed: 1-%d)", c.Ingestion.BatchSize, repository.MaxBatchSize))
	}
	if _, err := models.ParseConflictPolicy(c.Ingestion.ConflictPolicy); err != nil {
		errs = append(errs, err)
	}

	if c.API.DefaultPageSize <= 0 || c.API.MaxPageSize <= 0 {
		errs = append(errs, errors.New("API page sizes must be positive"))
	} else if c.API.DefaultPageSize > c.API.MaxPageSize {
		errs = append(errs, fmt.Errorf("API_DEFAULT_PAGE_SIZE %d exceeds API_MAX_PAGE_SIZE %d", c.API.DefaultPageSize, c.API.MaxPageSize))
	}

	return errors.Join(errs...)
}

// envReader reads typed variables and collects every malformed value
type envReader struct {
	errs []error
}

func (e *envReader) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (e *envReader) integer(key string, def int) int {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s %q: expected an integer", key, v))
		return def
	}
	return n
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v := e.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s %q: expected a duration such as 15s", key, v))
		return def
	}
	return d
}
