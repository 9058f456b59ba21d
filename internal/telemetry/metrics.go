package telemetry

import (
	"context"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Instruments are created on first use so they bind to whatever meter
// provider Setup installed.
var (
	metricsOnce    sync.Once
	runsTotal      otelmetric.Int64Counter
	stepDuration   otelmetric.Float64Histogram
	emailTotal     otelmetric.Int64Counter
	guardrailTrips otelmetric.Int64Counter
)

func initMetrics() {
	meter := otel.Meter("deepresearch/internal/research")
	var err error
	runsTotal, err = meter.Int64Counter(
		"research_runs_total",
		otelmetric.WithDescription("Research runs by final outcome"),
	)
	if err != nil {
		log.Printf("research metrics init: research_runs_total: %v", err)
	}
	stepDuration, err = meter.Float64Histogram(
		"research_step_duration_seconds",
		otelmetric.WithDescription("Duration of pipeline steps"),
		otelmetric.WithUnit("s"),
	)
	if err != nil {
		log.Printf("research metrics init: research_step_duration_seconds: %v", err)
	}
	emailTotal, err = meter.Int64Counter(
		"research_email_total",
		otelmetric.WithDescription("Report emails by delivery status"),
	)
	if err != nil {
		log.Printf("research metrics init: research_email_total: %v", err)
	}
	guardrailTrips, err = meter.Int64Counter(
		"research_guardrail_trips_total",
		otelmetric.WithDescription("Guardrail tripwires by stage"),
	)
	if err != nil {
		log.Printf("research metrics init: research_guardrail_trips_total: %v", err)
	}
}

func ensureMetrics() { metricsOnce.Do(initMetrics) }

// RecordRun counts a finished run.
func RecordRun(ctx context.Context, outcome string) {
	ensureMetrics()
	if runsTotal != nil {
		runsTotal.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

// RecordStep observes one pipeline step.
func RecordStep(ctx context.Context, step string, d time.Duration, failed bool) {
	ensureMetrics()
	if stepDuration != nil {
		stepDuration.Record(ctx, d.Seconds(), otelmetric.WithAttributes(
			attribute.String("step", step),
			attribute.Bool("failed", failed),
		))
	}
}

// RecordEmail counts an email attempt.
func RecordEmail(ctx context.Context, status string) {
	ensureMetrics()
	if emailTotal != nil {
		emailTotal.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("status", status)))
	}
}

// RecordGuardrailTrip counts a tripwire.
func RecordGuardrailTrip(ctx context.Context, stage string, soft bool) {
	ensureMetrics()
	if guardrailTrips != nil {
		guardrailTrips.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("stage", stage),
			attribute.Bool("soft", soft),
		))
	}
}
