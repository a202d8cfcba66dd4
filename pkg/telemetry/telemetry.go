// Package telemetry wires OpenTelemetry metrics into the service lifecycle.
//
// When disabled, a no-op meter provider is installed and instruments cost nothing.
// When enabled, metrics are exported periodically to stdout.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/JaimeStill/arbiter/pkg/lifecycle"
)

const instrumentationScope = "github.com/JaimeStill/arbiter"

// System owns the process meter provider.
type System interface {
	// Meter returns a meter for the given instrumentation name (or the module scope).
	Meter(name string) metric.Meter
	// Start registers a shutdown hook that flushes pending metrics.
	Start(lc *lifecycle.Coordinator) error
}

type telemetry struct {
	provider metric.MeterProvider
	shutdown func(context.Context) error
	logger   *slog.Logger
}

// New builds the meter provider described by cfg and installs it globally.
func New(cfg *Config, logger *slog.Logger) (System, error) {
	logger = logger.With("system", "telemetry")

	if !cfg.Enabled {
		provider := metricnoop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return &telemetry{provider: provider, logger: logger}, nil
	}

	exp, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stdout))
	if err != nil {
		return nil, fmt.Errorf("telemetry: stdout exporter: %w", err)
	}

	res := resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(cfg.IntervalDuration())),
		),
	)
	otel.SetMeterProvider(provider)

	return &telemetry{
		provider: provider,
		shutdown: provider.Shutdown,
		logger:   logger,
	}, nil
}

// Noop returns a System backed by the no-op meter provider without touching globals.
func Noop() System {
	return &telemetry{
		provider: metricnoop.NewMeterProvider(),
		logger:   slog.New(slog.DiscardHandler),
	}
}

func (t *telemetry) Meter(name string) metric.Meter {
	if name == "" {
		name = instrumentationScope
	}
	return t.provider.Meter(name)
}

func (t *telemetry) Start(lc *lifecycle.Coordinator) error {
	if t.shutdown == nil {
		return nil
	}

	t.logger.Info("metrics export enabled")

	lc.OnShutdown(func() {
		<-lc.Context().Done()

		if err := t.shutdown(context.Background()); err != nil {
			t.logger.Error("metrics flush failed", "error", err)
			return
		}
		t.logger.Info("metrics flushed")
	})

	return nil
}
