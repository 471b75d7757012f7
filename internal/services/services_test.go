package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"weather-stats/internal/models"
	"weather-stats/internal/repository"
	"weather-stats/pkg/database"
	"weather-stats/pkg/logging"
	"weather-stats/pkg/metrics"
)

type testEnv struct {
	repo      repository.WeatherRepository
	ingestion *IngestionService
	weather   *WeatherService
	stats     *StatisticsService
	logs      *bytes.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logs := &bytes.Buffer{}
	logger := logging.New("test", "test", logging.DebugLevel, logs)
	collector := metrics.NewCollector("test", nil)

	db, err := database.Open(&database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "weather.db"),
	}, logger, collector)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.Migrate(context.Background(), database.MigrateUp); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	repo := repository.NewWeatherRepository(db, logger, collector)
	return &testEnv{
		repo:      repo,
		ingestion: NewIngestionService(repo, logger, collector),
		weather:   NewWeatherService(repo, logger, collector),
		stats:     NewStatisticsService(repo, logger, collector),
		logs:      logs,
	}
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func strPtr(s string) *string { return &s }

func intPtr(v int) *int { return &v }

func TestIngestDirectory_SingleValidRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	dir := writeFiles(t, map[string]string{"ABC123.txt": "20240613\t300\t200\t50\n"})

	result, err := env.ingestion.IngestDirectory(ctx, IngestionOptions{DataDir: dir})
	if err != nil {
		t.Fatalf("IngestDirectory: %v", err)
	}
	if result.ObservationsInserted != 1 || result.StatsInserted != 1 {
		t.Errorf("inserted = %d obs / %d stats, want 1 / 1", result.ObservationsInserted, result.StatsInserted)
	}

	observations, total, err := env.weather.ListObservations(ctx, repository.ObservationFilter{})
	if err != nil {
		t.Fatalf("ListObservations: %v", err)
	}
	if total != 1 {
		t.Fatalf("total = %d, want 1", total)
	}
	o := observations[0]
	if o.StationID != "ABC123" || o.Date.String() != "2024-06-13" || o.MaxTemp != 300 || o.MinTemp != 200 || o.Precipitation != 50 {
		t.Errorf("observation = %+v", o)
	}

	stats, _, err := env.stats.ListYearlyStats(ctx, repository.StatisticsFilter{})
	if err != nil {
		t.Fatalf("ListYearlyStats: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("len(stats) = %d, want 1", len(stats))
	}
	s := stats[0]
	if s.Year != 2024 || s.StationID != "ABC123" || *s.AvgMaxTemp != 300.0 || *s.AvgMinTemp != 200.0 || *s.TotalPrecipitation != 50.0 {
		t.Errorf("stat = %+v", s)
	}
}

func TestIngestDirectory_SkipsSentinelAndInvalidLines(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	dir := writeFiles(t, map[string]string{
		"USC001.txt": strings.Join([]string{
			"19850101\t  -22\t -128\t   94",
			"19850102\t-9999\t  -50\t    0",
			"19850103\tabc\t10\t0",
			"",
			"19850104\t  10\t  -10\t-9999",
			"19860101\t  30\t   10\t    5",
		}, "\n") + "\n",
	})

	result, err := env.ingestion.IngestDirectory(ctx, IngestionOptions{DataDir: dir})
	if err != nil {
		t.Fatalf("IngestDirectory: %v", err)
	}

	if result.TotalLines != 5 {
		t.Errorf("TotalLines = %d, want 5", result.TotalLines)
	}
	if result.ParsedRecords != 2 {
		t.Errorf("ParsedRecords = %d, want 2", result.ParsedRecords)
	}
	if result.MissingValueRecords != 2 {
		t.Errorf("MissingValueRecords = %d, want 2", result.MissingValueRecords)
	}
	if result.InvalidRecords != 1 {
		t.Errorf("InvalidRecords = %d, want 1", result.InvalidRecords)
	}
	if result.StatsInserted != 2 {
		t.Errorf("StatsInserted = %d, want 2", result.StatsInserted)
	}

	n, err := env.repo.CountObservations(ctx, repository.ObservationFilter{})
	if err != nil {
		t.Fatalf("CountObservations: %v", err)
	}
	if n != 2 {
		t.Errorf("persisted observations = %d, want 2", n)
	}

	logs := env.logs.String()
	if !strings.Contains(logs, "[INGEST_INVALID_LINE]") || !strings.Contains(logs, `19850103\tabc\t10\t0`) {
		t.Errorf("invalid line warning missing from logs:\n%s", logs)
	}
	if !strings.Contains(logs, "[INGEST_START]") || !strings.Contains(logs, "[INGEST_COMPLETE]") {
		t.Error("run start/end entries missing from logs")
	}
	if strings.Count(logs, "[INGEST_BLANK_LINE]") != 1 {
		t.Errorf("want one blank line warning in logs:\n%s", logs)
	}
}

func TestIngestDirectory_DuplicateRollsBackWholeRun(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	dir := writeFiles(t, map[string]string{
		"AAA.txt": "20200101\t10\t0\t1\n20200102\t11\t1\t2\n",
		"BBB.txt": "20200101\t10\t0\t1\n20200101\t12\t2\t3\n",
	})

	_, err := env.ingestion.IngestDirectory(ctx, IngestionOptions{DataDir: dir})
	var conflict *repository.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("IngestDirectory error = %v, want *repository.ConflictError", err)
	}

	if n, _ := env.repo.CountObservations(ctx, repository.ObservationFilter{}); n != 0 {
		t.Errorf("observations after rollback = %d, want 0", n)
	}
	if n, _ := env.repo.CountYearlyStats(ctx, repository.StatisticsFilter{}); n != 0 {
		t.Errorf("yearly stats after rollback = %d, want 0", n)
	}
}

func TestIngestDirectory_ReingestPolicies(t *testing.T) {
	first := map[string]string{"AAA.txt": "20200101\t10\t0\t1\n"}
	second := map[string]string{"AAA.txt": "20200101\t99\t9\t9\n20200101\t77\t7\t7\n20200102\t5\t5\t5\n"}

	tests := []struct {
		policy  models.ConflictPolicy
		wantErr bool
		wantMax int
		wantObs int
	}{
		{policy: models.ConflictFail, wantErr: true, wantMax: 10, wantObs: 1},
		{policy: models.ConflictSkip, wantMax: 10, wantObs: 2},
		{policy: models.ConflictReplace, wantMax: 77, wantObs: 2},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()

			if _, err := env.ingestion.IngestDirectory(ctx, IngestionOptions{DataDir: writeFiles(t, first)}); err != nil {
				t.Fatalf("first run: %v", err)
			}

			_, err := env.ingestion.IngestDirectory(ctx, IngestionOptions{DataDir: writeFiles(t, second), ConflictPolicy: tt.policy})
			if (err != nil) != tt.wantErr {
				t.Fatalf("second run error = %v, wantErr %v", err, tt.wantErr)
			}

			date := models.NewDate(2020, time.January, 1)
			got, total, err := env.weather.ListObservations(ctx, repository.ObservationFilter{Date: &date})
			if err != nil {
				t.Fatalf("ListObservations: %v", err)
			}
			if got[0].MaxTemp != tt.wantMax {
				t.Errorf("max_temp = %d, want %d", got[0].MaxTemp, tt.wantMax)
			}
			if total != 1 {
				t.Errorf("rows for date = %d, want 1", total)
			}

			if n, _ := env.repo.CountObservations(ctx, repository.ObservationFilter{}); n != tt.wantObs {
				t.Errorf("observations = %d, want %d", n, tt.wantObs)
			}
		})
	}
}

func TestIngestDirectory_SuffixFilterAndEmptyDir(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	dir := writeFiles(t, map[string]string{
		"AAA.txt":   "20200101\t10\t0\t1\n",
		"BBB.csv":   "20200101\t10\t0\t1\n",
		"README.md": "not data\n",
	})
	if err := os.Mkdir(filepath.Join(dir, "nested.txt"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	result, err := env.ingestion.IngestDirectory(ctx, IngestionOptions{DataDir: dir})
	if err != nil {
		t.Fatalf("IngestDirectory: %v", err)
	}
	if result.TotalFiles != 1 || result.Files[0].StationID != "AAA" {
		t.Errorf("processed files = %+v, want only AAA", result.Files)
	}

	result, err = env.ingestion.IngestDirectory(ctx, IngestionOptions{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("empty dir should not fail: %v", err)
	}
	if result.TotalFiles != 0 {
		t.Errorf("TotalFiles = %d, want 0", result.TotalFiles)
	}
}

func TestIngestDirectory_UnreadableDirectory(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.ingestion.IngestDirectory(context.Background(), IngestionOptions{DataDir: filepath.Join(t.TempDir(), "missing")})
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("IngestDirectory error = %v, want os.ErrNotExist", err)
	}
}

func TestIngestDirectory_DryRunNeedsNoDatabase(t *testing.T) {
	svc := NewIngestionService(nil, logging.Discard(), metrics.NewCollector("test", nil))
	dir := writeFiles(t, map[string]string{
		"AAA.txt": "20200101\t10\t0\t1\n20200102\t20\t4\t3\n20210101\t5\t5\t5\n",
	})

	result, err := svc.IngestDirectory(context.Background(), IngestionOptions{DataDir: dir, DryRun: true})
	if err != nil {
		t.Fatalf("IngestDirectory: %v", err)
	}
	if !result.DryRun || result.ObservationsInserted != 0 {
		t.Errorf("dry run result = %+v", result)
	}
	stats := result.Files[0].Stats
	if len(stats) != 2 || stats[0].Year != 2020 || *stats[0].AvgMaxTemp != 15 || *stats[0].TotalPrecipitation != 4 {
		t.Errorf("dry run stats = %+v", stats)
	}

	if _, err := svc.IngestDirectory(context.Background(), IngestionOptions{DataDir: dir}); err == nil {
		t.Error("non-dry run without repository should fail")
	}
}

func TestIngestDirectory_CancelledContext(t *testing.T) {
	env := newTestEnv(t)
	dir := writeFiles(t, map[string]string{"AAA.txt": "20200101\t10\t0\t1\n"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := env.ingestion.IngestDirectory(ctx, IngestionOptions{DataDir: dir}); err == nil {
		t.Fatal("IngestDirectory with cancelled context should fail")
	}
}

func TestAggregateYearly(t *testing.T) {
	observations := []models.Observation{
		{Date: models.NewDate(2001, time.March, 1), StationID: "B", MaxTemp: 10, MinTemp: -5, Precipitation: 3},
		{Date: models.NewDate(2000, time.July, 1), StationID: "B", MaxTemp: 300, MinTemp: 100, Precipitation: 0},
		{Date: models.NewDate(2000, time.July, 2), StationID: "B", MaxTemp: 301, MinTemp: 101, Precipitation: 7},
		{Date: models.NewDate(2000, time.July, 2), StationID: "A", MaxTemp: 1, MinTemp: 1, Precipitation: 1},
	}

	got := AggregateYearly(observations)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}

	want := []struct {
		station string
		year    int
		avgMax  float64
		avgMin  float64
		total   float64
	}{
		{"A", 2000, 1, 1, 1},
		{"B", 2000, 300.5, 100.5, 7},
		{"B", 2001, 10, -5, 3},
	}
	for i, w := range want {
		g := got[i]
		if g.StationID != w.station || g.Year != w.year || *g.AvgMaxTemp != w.avgMax || *g.AvgMinTemp != w.avgMin || *g.TotalPrecipitation != w.total {
			t.Errorf("stat[%d] = %s/%d %v/%v/%v, want %+v", i, g.StationID, g.Year, *g.AvgMaxTemp, *g.AvgMinTemp, *g.TotalPrecipitation, w)
		}
	}

	if got := AggregateYearly(nil); len(got) != 0 {
		t.Errorf("AggregateYearly(nil) = %v, want empty", got)
	}
}

func TestDedupeObservations(t *testing.T) {
	d1 := models.NewDate(2020, time.January, 1)
	d2 := models.NewDate(2020, time.January, 2)
	in := []models.Observation{
		{Date: d1, MaxTemp: 1},
		{Date: d2, MaxTemp: 2},
		{Date: d1, MaxTemp: 3},
	}

	tests := []struct {
		policy  models.ConflictPolicy
		wantLen int
		wantD1  int
	}{
		{policy: models.ConflictFail, wantLen: 3, wantD1: 1},
		{policy: models.ConflictSkip, wantLen: 2, wantD1: 1},
		{policy: models.ConflictReplace, wantLen: 2, wantD1: 3},
	}

	for _, tt := range tests {
		got := dedupeObservations(append([]models.Observation(nil), in...), tt.policy)
		if len(got) != tt.wantLen {
			t.Errorf("%s: len = %d, want %d", tt.policy, len(got), tt.wantLen)
		}
		if got[0].MaxTemp != tt.wantD1 {
			t.Errorf("%s: first date max_temp = %d, want %d", tt.policy, got[0].MaxTemp, tt.wantD1)
		}
	}
}

func TestListObservations_FilterNotFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	dir := writeFiles(t, map[string]string{
		"AAA.txt": "20200101\t10\t0\t1\n",
		"BBB.txt": "20200102\t10\t0\t1\n",
	})
	if _, err := env.ingestion.IngestDirectory(ctx, IngestionOptions{DataDir: dir}); err != nil {
		t.Fatalf("IngestDirectory: %v", err)
	}

	d1 := models.NewDate(2020, time.January, 1)
	d2 := models.NewDate(2020, time.January, 2)

	tests := []struct {
		name        string
		filter      repository.ObservationFilter
		wantMessage string
		wantTotal   int
	}{
		{name: "unknown station", filter: repository.ObservationFilter{StationID: strPtr("ZZZ")}, wantMessage: "station_id ZZZ not found in database."},
		{name: "known station wrong date", filter: repository.ObservationFilter{StationID: strPtr("AAA"), Date: &d2}, wantMessage: "date 2020-01-02 not found in database."},
		{name: "date only", filter: repository.ObservationFilter{Date: &d2}, wantTotal: 1},
		{name: "both match", filter: repository.ObservationFilter{StationID: strPtr("AAA"), Date: &d1}, wantTotal: 1},
		{name: "no filter", filter: repository.ObservationFilter{}, wantTotal: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, total, err := env.weather.ListObservations(ctx, tt.filter)
			if tt.wantMessage != "" {
				var nf *repository.NotFoundError
				if !errors.As(err, &nf) {
					t.Fatalf("error = %v, want *repository.NotFoundError", err)
				}
				if err.Error() != tt.wantMessage {
					t.Errorf("error = %q, want %q", err.Error(), tt.wantMessage)
				}
				return
			}
			if err != nil {
				t.Fatalf("ListObservations: %v", err)
			}
			if total != tt.wantTotal {
				t.Errorf("total = %d, want %d", total, tt.wantTotal)
			}
		})
	}
}

func TestListYearlyStats_FilterNotFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	dir := writeFiles(t, map[string]string{"AAA.txt": "20200101\t10\t0\t1\n20210101\t10\t0\t1\n"})
	if _, err := env.ingestion.IngestDirectory(ctx, IngestionOptions{DataDir: dir}); err != nil {
		t.Fatalf("IngestDirectory: %v", err)
	}

	if _, _, err := env.stats.ListYearlyStats(ctx, repository.StatisticsFilter{StationID: strPtr("ZZZ")}); err == nil || err.Error() != "station_id ZZZ not found in database." {
		t.Errorf("unknown station error = %v", err)
	}
	if _, _, err := env.stats.ListYearlyStats(ctx, repository.StatisticsFilter{Year: intPtr(1999)}); err == nil || err.Error() != "year 1999 not found in database." {
		t.Errorf("unknown year error = %v", err)
	}

	stats, total, err := env.stats.ListYearlyStats(ctx, repository.StatisticsFilter{StationID: strPtr("AAA"), Year: intPtr(2021)})
	if err != nil {
		t.Fatalf("ListYearlyStats: %v", err)
	}
	if total != 1 || stats[0].Year != 2021 {
		t.Errorf("stats = %+v (total %d), want the 2021 row", stats, total)
	}

	data, err := json.Marshal(stats[0])
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for _, key := range []string{"id", "year", "station_id", "avg_max_temp", "avg_min_temp", "total_precipitation"} {
		if !strings.Contains(string(data), `"`+key+`":`) {
			t.Errorf("serialized stat %s lacks %q", data, key)
		}
	}
}
