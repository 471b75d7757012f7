package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"weather-stats/pkg/logging"
	"weather-stats/pkg/metrics"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	cfg := &Config{
		Driver: DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "weather.db"),
	}
	db, err := Open(cfg, logging.Discard(), metrics.NewCollector("test", nil))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name    string
		driver  string
		cfg     Config
		want    string
		wantErr bool
	}{
		{
			name:   "postgres",
			driver: DriverPostgres,
			cfg:    Config{Host: "db", Port: 5432, User: "u", Password: "p", Database: "weather", SSLMode: "disable"},
			want:   "host=db port=5432 user=u password=p dbname=weather sslmode=disable",
		},
		{
			name:   "sqlite memory",
			driver: DriverSQLite,
			cfg:    Config{Path: ":memory:"},
			want:   "file::memory:?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL",
		},
		{
			name:   "sqlite file uri with params",
			driver: DriverSQLite,
			cfg:    Config{Path: "file:test.db?cache=shared"},
			want:   "file:test.db?cache=shared&_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL",
		},
		{
			name:    "sqlite without path",
			driver:  DriverSQLite,
			wantErr: true,
		},
		{
			name:    "unknown driver",
			driver:  "mysql",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildDSN(tt.driver, &tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("buildDSN() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("buildDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMigrate_UpIsIdempotentAndDownReverts(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	n, err := db.Migrate(ctx, MigrateUp)
	if err != nil {
		t.Fatalf("Migrate(up): %v", err)
	}
	if n != 1 {
		t.Errorf("first Migrate(up) applied %d, want 1", n)
	}

	n, err = db.Migrate(ctx, MigrateUp)
	if err != nil {
		t.Fatalf("second Migrate(up): %v", err)
	}
	if n != 0 {
		t.Errorf("second Migrate(up) applied %d, want 0", n)
	}

	var count int
	if err := db.GetContext(ctx, "count", &count, `SELECT COUNT(*) FROM weather_observations`); err != nil {
		t.Fatalf("weather_observations should exist: %v", err)
	}

	n, err = db.Migrate(ctx, MigrateDown)
	if err != nil {
		t.Fatalf("Migrate(down): %v", err)
	}
	if n != 1 {
		t.Errorf("Migrate(down) reverted %d, want 1", n)
	}

	err = db.GetContext(ctx, "count", &count, `SELECT COUNT(*) FROM weather_observations`)
	if err == nil || !strings.Contains(err.Error(), "no such table") {
		t.Errorf("weather_observations should be dropped, got err = %v", err)
	}
}

func TestMigrate_InvalidDirection(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.Migrate(context.Background(), "sideways"); err == nil {
		t.Fatal("Migrate(sideways) error = nil, want non-nil")
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	if _, err := db.Migrate(ctx, MigrateUp); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	sentinel := errors.New("abort")
	err := db.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO weather_yearly_stats (year, station_id) VALUES (2001, 'A')`)
		if err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("WithTx error = %v, want %v", err, sentinel)
	}

	var count int
	if err := db.GetContext(ctx, "count", &count, `SELECT COUNT(*) FROM weather_yearly_stats`); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("rows after rollback = %d, want 0", count)
	}

	err = db.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO weather_yearly_stats (year, station_id) VALUES (2001, 'A')`)
		return err
	})
	if err != nil {
		t.Fatalf("WithTx commit: %v", err)
	}
	if err := db.GetContext(ctx, "count", &count, `SELECT COUNT(*) FROM weather_yearly_stats`); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("rows after commit = %d, want 1", count)
	}
}

func TestRebindAndDialect(t *testing.T) {
	db := openTestDB(t)
	if got := db.Dialect(); got != "sqlite" {
		t.Errorf("Dialect() = %q, want sqlite", got)
	}
	if got := db.Rebind("SELECT ? , ?"); got != "SELECT ? , ?" {
		t.Errorf("Rebind() = %q, want unchanged for sqlite", got)
	}
	if err := db.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
}

func TestQueryErrorsAreCounted(t *testing.T) {
	collector := metrics.NewCollector("test", nil)
	db, err := Open(&Config{Driver: DriverSQLite, Path: filepath.Join(t.TempDir(), "weather.db")}, logging.Discard(), collector)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()
	ctx := context.Background()

	var count int
	if err := db.GetContext(ctx, "count_missing", &count, `SELECT COUNT(*) FROM missing_table`); err == nil {
		t.Fatal("GetContext on a missing table succeeded")
	}
	if got := testutil.ToFloat64(collector.DBErrorsTotal.WithLabelValues("get_error")); got != 1 {
		t.Errorf("get_error count = %v, want 1", got)
	}

	var name string
	err = db.GetContext(ctx, "no_rows", &name, `SELECT 'x' WHERE 1 = 0`)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("GetContext error = %v, want sql.ErrNoRows", err)
	}
	if got := testutil.ToFloat64(collector.DBErrorsTotal.WithLabelValues("get_error")); got != 1 {
		t.Errorf("sql.ErrNoRows counted as failure: get_error = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(collector.DBQueryDuration); got != 2 {
		t.Errorf("query_duration series = %d, want 2", got)
	}
}
