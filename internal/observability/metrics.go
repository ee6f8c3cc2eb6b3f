package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the harness metrics:
// - Hosts: creation, teardown latency and failures, live hosts
// - Provisioning: step latency and failures
// - Seeds: status polls, wait latency and outcomes
// - Fixtures and scenarios: runs and results
type Metrics struct {
	meter metric.Meter

	// Host metrics
	HostsCreated     metric.Int64Counter
	HostsActive      metric.Int64UpDownCounter
	TeardownDuration metric.Float64Histogram
	TeardownErrors   metric.Int64Counter

	// Provisioning metrics
	StepDuration metric.Float64Histogram
	StepFailures metric.Int64Counter

	// Seed wait metrics
	PollsTotal   metric.Int64Counter
	WaitDuration metric.Float64Histogram
	WaitsTotal   metric.Int64Counter

	// Fixture and scenario metrics
	ResetsTotal      metric.Int64Counter
	ScenarioDuration metric.Float64Histogram
	ScenariosTotal   metric.Int64Counter
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("seed-harness")
	m := &Metrics{meter: meter}

	// Host metrics
	m.HostsCreated, err = meter.Int64Counter(
		"hosts_created_total",
		metric.WithDescription("Total number of hosts created"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HostsActive, err = meter.Int64UpDownCounter(
		"hosts_active",
		metric.WithDescription("Number of hosts currently alive"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.TeardownDuration, err = meter.Float64Histogram(
		"host_teardown_duration_seconds",
		metric.WithDescription("Host teardown latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, nil, err
	}

	m.TeardownErrors, err = meter.Int64Counter(
		"host_teardown_errors_total",
		metric.WithDescription("Total number of failed host teardowns"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Provisioning metrics
	m.StepDuration, err = meter.Float64Histogram(
		"provision_step_duration_seconds",
		metric.WithDescription("Provisioning step latency per host in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600),
	)
	if err != nil {
		return nil, nil, err
	}

	m.StepFailures, err = meter.Int64Counter(
		"provision_step_failures_total",
		metric.WithDescription("Total number of failed provisioning steps"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Seed wait metrics
	m.PollsTotal, err = meter.Int64Counter(
		"seed_polls_total",
		metric.WithDescription("Total number of seed status polls by observed status"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.WaitDuration, err = meter.Float64Histogram(
		"seed_wait_duration_seconds",
		metric.WithDescription("Time spent waiting for a seed to reach a terminal state"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600, 900, 1800),
	)
	if err != nil {
		return nil, nil, err
	}

	m.WaitsTotal, err = meter.Int64Counter(
		"seed_waits_total",
		metric.WithDescription("Total number of seed waits by outcome"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Fixture and scenario metrics
	m.ResetsTotal, err = meter.Int64Counter(
		"reset_procedures_total",
		metric.WithDescription("Total number of reset procedure runs"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ScenarioDuration, err = meter.Float64Histogram(
		"scenario_duration_seconds",
		metric.WithDescription("Scenario duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 10, 30, 60, 120, 300, 600, 900, 1800),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ScenariosTotal, err = meter.Int64Counter(
		"scenarios_total",
		metric.WithDescription("Total number of scenarios by result"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
}

// RecordHostCreated records a host being created.
func (m *Metrics) RecordHostCreated(ctx context.Context, role string) {
	attrs := metric.WithAttributes(roleAttr(role))
	m.HostsCreated.Add(ctx, 1, attrs)
	m.HostsActive.Add(ctx, 1, attrs)
}

// RecordHostDestroyed records a teardown attempt with its duration.
func (m *Metrics) RecordHostDestroyed(ctx context.Context, role string, success bool, durationSeconds float64) {
	m.TeardownDuration.Record(ctx, durationSeconds, metric.WithAttributes(roleAttr(role), successAttr(success)))
	if !success {
		m.TeardownErrors.Add(ctx, 1, metric.WithAttributes(roleAttr(role)))
		return
	}
	m.HostsActive.Add(ctx, -1, metric.WithAttributes(roleAttr(role)))
}

// RecordStep records one provisioning step run on one host.
func (m *Metrics) RecordStep(ctx context.Context, role string, success bool, durationSeconds float64) {
	m.StepDuration.Record(ctx, durationSeconds, metric.WithAttributes(roleAttr(role), successAttr(success)))
	if !success {
		m.StepFailures.Add(ctx, 1, metric.WithAttributes(roleAttr(role)))
	}
}

// RecordPoll records one seed status observation.
func (m *Metrics) RecordPoll(ctx context.Context, status string) {
	m.PollsTotal.Add(ctx, 1, metric.WithAttributes(statusAttr(status)))
}

// RecordWait records the end of a seed wait.
func (m *Metrics) RecordWait(ctx context.Context, outcome string, durationSeconds float64) {
	attrs := metric.WithAttributes(outcomeAttr(outcome))
	m.WaitDuration.Record(ctx, durationSeconds, attrs)
	m.WaitsTotal.Add(ctx, 1, attrs)
}

// RecordReset records one reset procedure run.
func (m *Metrics) RecordReset(ctx context.Context, procedure string, success bool) {
	m.ResetsTotal.Add(ctx, 1, metric.WithAttributes(procedureAttr(procedure), successAttr(success)))
}

// RecordScenario records a finished scenario.
func (m *Metrics) RecordScenario(ctx context.Context, scenario, method, result string, durationSeconds float64) {
	attrs := metric.WithAttributes(scenarioAttr(scenario), methodAttr(method), resultAttr(result))
	m.ScenarioDuration.Record(ctx, durationSeconds, attrs)
	m.ScenariosTotal.Add(ctx, 1, attrs)
}
