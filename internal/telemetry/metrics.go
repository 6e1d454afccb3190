package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/riskrunner"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Job lifecycle metrics
	JobsSubmittedTotal metric.Int64Counter
	JobsTerminalTotal  metric.Int64Counter
	JobsResumedTotal   metric.Int64Counter
	JobsDeletedTotal   metric.Int64Counter
	JobsPurgedTotal    metric.Int64Counter
	JobDuration        metric.Float64Histogram
	ActiveJobs         metric.Int64UpDownCounter

	// Row metrics
	RowsProcessedTotal metric.Int64Counter
	RowsRejectedTotal  metric.Int64Counter
	ScoringDuration    metric.Float64Histogram

	// Checkpoint metrics
	CheckpointsTotal       metric.Int64Counter
	CheckpointErrorsTotal  metric.Int64Counter
	DispatchQueueFullTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.JobsSubmittedTotal, _ = meter.Int64Counter(
		"riskrunner.jobs.submitted.total",
		metric.WithDescription("Total number of bulk jobs submitted"),
		metric.WithUnit("{job}"),
	)

	m.JobsTerminalTotal, _ = meter.Int64Counter(
		"riskrunner.jobs.terminal.total",
		metric.WithDescription("Total number of jobs reaching a terminal status, by status"),
		metric.WithUnit("{job}"),
	)

	m.JobsResumedTotal, _ = meter.Int64Counter(
		"riskrunner.jobs.resumed.total",
		metric.WithDescription("Total number of jobs resumed after a restart"),
		metric.WithUnit("{job}"),
	)

	m.JobsDeletedTotal, _ = meter.Int64Counter(
		"riskrunner.jobs.deleted.total",
		metric.WithDescription("Total number of jobs deleted by callers"),
		metric.WithUnit("{job}"),
	)

	m.JobsPurgedTotal, _ = meter.Int64Counter(
		"riskrunner.jobs.purged.total",
		metric.WithDescription("Total number of terminal jobs removed by retention"),
		metric.WithUnit("{job}"),
	)

	m.JobDuration, _ = meter.Float64Histogram(
		"riskrunner.jobs.duration",
		metric.WithDescription("Wall time from job start to terminal status"),
		metric.WithUnit("s"),
	)

	m.ActiveJobs, _ = meter.Int64UpDownCounter(
		"riskrunner.jobs.active",
		metric.WithDescription("Number of jobs currently executing"),
		metric.WithUnit("{job}"),
	)

	m.RowsProcessedTotal, _ = meter.Int64Counter(
		"riskrunner.rows.processed.total",
		metric.WithDescription("Total number of rows processed"),
		metric.WithUnit("{row}"),
	)

	m.RowsRejectedTotal, _ = meter.Int64Counter(
		"riskrunner.rows.rejected.total",
		metric.WithDescription("Total number of rows rejected, by stage"),
		metric.WithUnit("{row}"),
	)

	m.ScoringDuration, _ = meter.Float64Histogram(
		"riskrunner.scoring.duration",
		metric.WithDescription("Duration of scoring calls"),
		metric.WithUnit("ms"),
	)

	m.CheckpointsTotal, _ = meter.Int64Counter(
		"riskrunner.checkpoints.total",
		metric.WithDescription("Total number of progress checkpoints written"),
		metric.WithUnit("{checkpoint}"),
	)

	m.CheckpointErrorsTotal, _ = meter.Int64Counter(
		"riskrunner.checkpoints.errors.total",
		metric.WithDescription("Total number of failed progress checkpoints"),
		metric.WithUnit("{error}"),
	)

	m.DispatchQueueFullTotal, _ = meter.Int64Counter(
		"riskrunner.dispatch.queue_full.total",
		metric.WithDescription("Total number of dispatches refused because the worker queue was full"),
		metric.WithUnit("{job}"),
	)

	return m
}
