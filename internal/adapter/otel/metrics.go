package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "queryforge"

// Metrics holds all QueryForge metric instruments.
type Metrics struct {
	TasksDispatched  metric.Int64Counter
	TasksCompleted   metric.Int64Counter
	TasksFailed      metric.Int64Counter
	TasksCancelled   metric.Int64Counter
	QueriesCancelled metric.Int64Counter
	DispatchDuration metric.Float64Histogram
	TaskDuration     metric.Float64Histogram
	TaskRows         metric.Int64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TasksDispatched, err = meter.Int64Counter("queryforge.tasks.dispatched",
		metric.WithDescription("Number of tasks dispatched"))
	if err != nil {
		return nil, err
	}

	m.TasksCompleted, err = meter.Int64Counter("queryforge.tasks.completed",
		metric.WithDescription("Number of tasks finished cleanly"))
	if err != nil {
		return nil, err
	}

	m.TasksFailed, err = meter.Int64Counter("queryforge.tasks.failed",
		metric.WithDescription("Number of tasks that ended with an error"))
	if err != nil {
		return nil, err
	}

	m.TasksCancelled, err = meter.Int64Counter("queryforge.tasks.cancelled",
		metric.WithDescription("Number of tasks cancelled"))
	if err != nil {
		return nil, err
	}

	m.QueriesCancelled, err = meter.Int64Counter("queryforge.queries.cancelled",
		metric.WithDescription("Number of whole-query cancellations"))
	if err != nil {
		return nil, err
	}

	m.DispatchDuration, err = meter.Float64Histogram("queryforge.dispatch.duration_seconds",
		metric.WithDescription("Dispatch handling duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("queryforge.task.duration_seconds",
		metric.WithDescription("Task run duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.TaskRows, err = meter.Int64Histogram("queryforge.task.rows",
		metric.WithDescription("Rows sent downstream per task"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
