package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewCollector_RegistersWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("weather_test", reg)

	c.RecordAPIRequest("/api/weather/", "GET", "200", 15*time.Millisecond)
	c.RecordSkippedRecord("missing_value")
	c.RecordSkippedRecord("missing_value")
	c.IngestionObservationsTotal.Add(5)

	if got := testutil.ToFloat64(c.APIRequestsTotal.WithLabelValues("/api/weather/", "GET", "200")); got != 1 {
		t.Errorf("api_requests_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.IngestionSkippedTotal.WithLabelValues("missing_value")); got != 2 {
		t.Errorf("ingestion_records_skipped_total = %v, want 2", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "weather_test_ingestion_observations_inserted_total" {
			found = true
		}
	}
	if !found {
		t.Error("observations counter not registered")
	}
}

func TestNewCollector_NilRegistererAllowsMultipleCollectors(t *testing.T) {
	a := NewCollector("weather_test", nil)
	b := NewCollector("weather_test", nil)

	a.UpdateDBConnectionPool(1, 2, 3)
	b.UpdateDBConnectionPool(4, 5, 9)

	if got := testutil.ToFloat64(a.DBConnectionPool.WithLabelValues("total")); got != 3 {
		t.Errorf("a total = %v, want 3", got)
	}
	if got := testutil.ToFloat64(b.DBConnectionPool.WithLabelValues("total")); got != 9 {
		t.Errorf("b total = %v, want 9", got)
	}
}

func TestTimer_ObserveDuration(t *testing.T) {
	c := NewCollector("weather_test", nil)
	timer := c.TimeIngestion()
	if d := timer.ObserveDuration(); d < 0 {
		t.Errorf("duration = %v, want >= 0", d)
	}
	if got := testutil.CollectAndCount(c.IngestionDuration); got != 1 {
		t.Errorf("histogram series = %d, want 1", got)
	}
}

func TestTimeQuery_LabelsByQueryType(t *testing.T) {
	c := NewCollector("weather_test", nil)
	c.TimeQuery("count_observations").ObserveDuration()
	c.TimeQuery("count_observations").ObserveDuration()
	c.TimeQuery("insert_observations").ObserveDuration()

	if got := testutil.CollectAndCount(c.DBQueryDuration); got != 2 {
		t.Errorf("query_duration series = %d, want 2", got)
	}
}

func TestNewCollector_MetricNames(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector("weather_stats", reg)
	c.RecordAPIError("not_found", "/api/weather")
	c.RecordDBError("select_error")
	c.IngestionFilesTotal.Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}

	for _, want := range []string{
		"weather_stats_api_errors_total",
		"weather_stats_db_errors_total",
		"weather_stats_ingestion_files_processed_total",
	} {
		if !names[want] {
			t.Errorf("metric %s not registered", want)
		}
	}
}
