package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	paymentAttempts      metric.Int64Counter
	paymentResults       metric.Int64Counter
	duplicateResults     metric.Int64Counter
	challengeLoads       metric.Int64Counter
	finalizations        metric.Int64Counter
	finalizationFailures metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		return otlpmetrichttp.New(context.Background(),
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
	case "", "grpc":
		return otlpmetricgrpc.New(context.Background(),
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported otlp protocol %q", protocol)
	}
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "payflow"
	}
	meter := provider.Meter(name)

	paymentAttempts, err := meter.Int64Counter("payflow_payment_attempts_total")
	if err != nil {
		return nil, err
	}
	paymentResults, err := meter.Int64Counter("payflow_payment_results_total")
	if err != nil {
		return nil, err
	}
	duplicateResults, err := meter.Int64Counter("payflow_duplicate_results_total")
	if err != nil {
		return nil, err
	}
	challengeLoads, err := meter.Int64Counter("payflow_challenge_loads_total")
	if err != nil {
		return nil, err
	}
	finalizations, err := meter.Int64Counter("payflow_order_finalizations_total")
	if err != nil {
		return nil, err
	}
	finalizationFailures, err := meter.Int64Counter("payflow_order_finalization_failures_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		paymentAttempts:      paymentAttempts,
		paymentResults:       paymentResults,
		duplicateResults:     duplicateResults,
		challengeLoads:       challengeLoads,
		finalizations:        finalizations,
		finalizationFailures: finalizationFailures,
	}, nil
}

// RecordPaymentAttempt increments attempt counts.
func (m *Metrics) RecordPaymentAttempt(ctx context.Context) {
	if m == nil {
		return
	}
	m.paymentAttempts.Add(ctx, 1)
}

// RecordPaymentResult increments terminal result counts by channel and outcome.
func (m *Metrics) RecordPaymentResult(ctx context.Context, channel, outcome string) {
	if m == nil {
		return
	}
	m.paymentResults.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", strings.TrimSpace(channel)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	))
}

// RecordDuplicateResult increments dropped duplicate counts.
func (m *Metrics) RecordDuplicateResult(ctx context.Context, channel string) {
	if m == nil {
		return
	}
	m.duplicateResults.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", strings.TrimSpace(channel)),
	))
}

// RecordChallengeLoad increments challenge delivery counts by strategy.
func (m *Metrics) RecordChallengeLoad(ctx context.Context, strategy string, ok bool) {
	if m == nil {
		return
	}
	m.challengeLoads.Add(ctx, 1, metric.WithAttributes(
		attribute.String("strategy", strings.TrimSpace(strategy)),
		attribute.Bool("ok", ok),
	))
}

// RecordFinalization increments order finalization counts.
func (m *Metrics) RecordFinalization(ctx context.Context) {
	if m == nil {
		return
	}
	m.finalizations.Add(ctx, 1)
}

// RecordFinalizationFailure increments finalization failure counts. These are
// the cases flagged for manual reconciliation.
func (m *Metrics) RecordFinalizationFailure(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.finalizationFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", strings.TrimSpace(reason)),
	))
}
