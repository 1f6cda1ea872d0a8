package ports

import "context"

// MetricsCollector records quantitative observability signals. The interface
// is intentionally generic so adapters can back onto Prometheus or any other
// backend. Standard metric names include:
//   - Counters:
//     kettle_step_executions_total{language="...", state="completed|aborted|failed"}
//     kettle_project_runs_total{status="success|failure"}
//   - Gauges:
//     kettle_active_steps
//   - Histograms:
//     kettle_step_duration_seconds{language="..."}
type MetricsCollector interface {
	IncCounter(ctx context.Context, name string, labels map[string]string)
	SetGauge(ctx context.Context, name string, value float64, labels map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, labels map[string]string)
}

const (
	MetricStepExecutions = "kettle_step_executions_total"
	MetricStepDuration   = "kettle_step_duration_seconds"
	MetricActiveSteps    = "kettle_active_steps"
	MetricProjectRuns    = "kettle_project_runs_total"
)

// NoOpMetrics discards every observation.
type NoOpMetrics struct{}

func (NoOpMetrics) IncCounter(context.Context, string, map[string]string)                {}
func (NoOpMetrics) SetGauge(context.Context, string, float64, map[string]string)         {}
func (NoOpMetrics) ObserveHistogram(context.Context, string, float64, map[string]string) {}
