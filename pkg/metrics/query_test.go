package metrics

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewQueryService(t *testing.T) {
	svc, err := NewQueryService("http://localhost:9090")
	require.NoError(t, err)
	assert.NotNil(t, svc)
}

func TestNewQueryServiceRejectsBadURL(t *testing.T) {
	_, err := NewQueryService("://not-a-url")
	assert.Error(t, err)
}

// fakePrometheus answers instant queries with a one-sample vector whose
// value depends on the queried counter.
func fakePrometheus(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		expr := r.FormValue("query")
		value := "0"
		switch {
		case strings.Contains(expr, `status="success"`):
			value = "10"
		case strings.Contains(expr, `status="error"`):
			value = "1"
		case strings.Contains(expr, `status="forced"`):
			value = "2"
		case strings.Contains(expr, "conflicts_resolved"):
			value = "3"
		case strings.Contains(expr, "conflicts_total"):
			value = "4"
		case strings.Contains(expr, "retries"):
			value = "5"
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"success","data":{"resultType":"vector","result":[{"metric":{},"value":[1693000000,%q]}]}}`, value)
	}))
}

func TestGetEngineMetricsAggregatesCounters(t *testing.T) {
	srv := fakePrometheus(t)
	defer srv.Close()

	svc, err := NewQueryService(srv.URL)
	require.NoError(t, err)

	m, err := svc.GetEngineMetrics(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 10.0, m.Writes)
	assert.Equal(t, 1.0, m.FailedWrites)
	assert.Equal(t, 2.0, m.ForcedWrites)
	assert.Equal(t, 3.0, m.ConflictsResolved)
	assert.Equal(t, 4.0, m.Conflicts)
	assert.Equal(t, 5.0, m.Retries)
}

func TestGetEngineMetricsSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	svc, err := NewQueryService(srv.URL)
	require.NoError(t, err)

	_, err = svc.GetEngineMetrics(context.Background(), time.Hour)
	assert.Error(t, err)
}

func TestConflictRate(t *testing.T) {
	m := &EngineMetrics{Writes: 10, ForcedWrites: 2, Conflicts: 4}
	assert.InDelta(t, 4.0/12.0, m.ConflictRate(), 1e-9)
}

func TestConflictRateZeroWithoutWrites(t *testing.T) {
	m := &EngineMetrics{Conflicts: 3}
	assert.Zero(t, m.ConflictRate())
}
