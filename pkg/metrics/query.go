// Package metrics provides services for querying and aggregating engine
// metrics from an external Prometheus server. Optional: the dashboard
// works without it and falls back to the SQLite telemetry log.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// EngineMetrics represents aggregated state engine metrics over a window.
type EngineMetrics struct {
	Writes            float64 `json:"writes"`
	FailedWrites      float64 `json:"failed_writes"`
	ForcedWrites      float64 `json:"forced_writes"`
	Conflicts         float64 `json:"conflicts"`
	ConflictsResolved float64 `json:"conflicts_resolved"`
	Retries           float64 `json:"retries"`
}

// QueryService provides methods to query metrics from Prometheus.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		client:   client,
		queryAPI: v1.NewAPI(client),
	}, nil
}

// GetEngineMetrics aggregates write and conflict counters over the given
// window across every scraped coach process.
func (q *QueryService) GetEngineMetrics(ctx context.Context, window time.Duration) (*EngineMetrics, error) {
	rng := model.Duration(window).String()
	metrics := &EngineMetrics{}

	queries := []struct {
		expr string
		dest *float64
	}{
		{fmt.Sprintf(`sum(increase(statefile_writes_total{status="success"}[%s]))`, rng), &metrics.Writes},
		{fmt.Sprintf(`sum(increase(statefile_writes_total{status="error"}[%s]))`, rng), &metrics.FailedWrites},
		{fmt.Sprintf(`sum(increase(statefile_writes_total{status="forced"}[%s]))`, rng), &metrics.ForcedWrites},
		{fmt.Sprintf(`sum(increase(statefile_conflicts_total[%s]))`, rng), &metrics.Conflicts},
		{fmt.Sprintf(`sum(increase(statefile_conflicts_resolved_total[%s]))`, rng), &metrics.ConflictsResolved},
		{fmt.Sprintf(`sum(increase(statefile_retries_total[%s]))`, rng), &metrics.Retries},
	}

	for _, query := range queries {
		result, _, err := q.queryAPI.Query(ctx, query.expr, time.Now())
		if err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", query.expr, err)
		}
		if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
			*query.dest = float64(vector[0].Value)
		}
	}

	return metrics, nil
}

// ConflictRate returns conflicts per committed write, or 0 when no
// writes happened in the window.
func (m *EngineMetrics) ConflictRate() float64 {
	total := m.Writes + m.ForcedWrites
	if total == 0 {
		return 0
	}
	return m.Conflicts / total
}
