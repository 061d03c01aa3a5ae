package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

type Observability struct {
	Tracer oteltrace.Tracer
	Meter  metric.Meter

	traceProvider *sdktrace.TracerProvider
	CheckCounter  metric.Int64Counter
	ProbeDuration metric.Int64Histogram
	CheckScore    metric.Int64Histogram
	QuotaBlocked  metric.Int64Counter
}

func SetupObservability(ctx context.Context, cfg ObservabilityConfig) (*Observability, error) {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "compat-api"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}
	sampler := sdktrace.TraceIDRatioBased(cfg.SampleRatio)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	if cfg.OTLPEndpoint != "" {
		exporter, exportErr := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if exportErr != nil {
			return nil, fmt.Errorf("create otlp trace exporter: %w", exportErr)
		}
		tp = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sampler),
		)
	} else {
		slog.Info("otel trace exporter not configured; using local tracer provider")
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	meter := otel.Meter(serviceName)
	tracer := otel.Tracer(serviceName)
	checkCounter, _ := meter.Int64Counter("compat_check_total")
	probeDuration, _ := meter.Int64Histogram("compat_probe_duration_ms")
	checkScore, _ := meter.Int64Histogram("compat_check_score")
	quotaBlocked, _ := meter.Int64Counter("compat_quota_block_total")
	return &Observability{
		Tracer:        tracer,
		Meter:         meter,
		traceProvider: tp,
		CheckCounter:  checkCounter,
		ProbeDuration: probeDuration,
		CheckScore:    checkScore,
		QuotaBlocked:  quotaBlocked,
	}, nil
}

func (o *Observability) Shutdown(ctx context.Context) error {
	if o == nil || o.traceProvider == nil {
		return nil
	}
	return o.traceProvider.Shutdown(ctx)
}

func (o *Observability) MarkCheck(ctx context.Context, status string) {
	if o == nil {
		return
	}
	o.CheckCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
	))
}

func (o *Observability) MarkProbe(ctx context.Context, probe string, durationMS int64) {
	if o == nil {
		return
	}
	o.ProbeDuration.Record(ctx, durationMS, metric.WithAttributes(
		attribute.String("probe", probe),
	))
}

func (o *Observability) RecordScore(ctx context.Context, score int) {
	if o == nil {
		return
	}
	o.CheckScore.Record(ctx, int64(score))
}

func (o *Observability) MarkQuotaBlocked(ctx context.Context, reason string) {
	if o == nil {
		return
	}
	o.QuotaBlocked.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}
