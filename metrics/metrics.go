package metrics

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
)

type Config struct {
	PushURL string        `envconfig:"METRICS_PUSH_URL"` // Pushgateway base URL, push is off when empty
	Job     string        `envconfig:"METRICS_JOB" default:"smtp_probe"`
	Timeout time.Duration `envconfig:"METRICS_PUSH_TIMEOUT" default:"10s"`
}

// Metrics collects one run's metrics in a private registry and pushes them
// to a Pushgateway. A one-shot process is gone before any scrape.
type Metrics struct {
	config   Config
	registry *prometheus.Registry
	provider *metric.MeterProvider
}

// InitDefault creates Metrics and installs its meter provider globally.
func InitDefault(config Config) (*Metrics, error) {
	m, err := New(config)
	if err != nil {
		return nil, err
	}

	otel.SetMeterProvider(m.provider)

	return m, nil
}

// New creates a registry bridged to OpenTelemetry with Go runtime
// instrumentation.
func New(config Config) (*Metrics, error) {
	registry := prometheus.NewRegistry()

	exporter, err := otelprometheus.New(
		otelprometheus.WithRegisterer(registry),
		otelprometheus.WithoutScopeInfo(),
		otelprometheus.WithoutTargetInfo(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create prometheus instance")
	}
	provider := metric.NewMeterProvider(metric.WithReader(exporter))

	if err := runtime.Start(runtime.WithMeterProvider(provider)); err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, errors.Wrap(err, "failed to start runtime")
	}

	return &Metrics{
		config:   config,
		registry: registry,
		provider: provider,
	}, nil
}

// Register adds prometheus collectors to the pushed registry.
func (m *Metrics) Register(collectors ...prometheus.Collector) error {
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return errors.Wrap(err, "failed to register collector")
		}
	}
	return nil
}

func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Push replaces the job's metrics on the Pushgateway. It does nothing
// when no push URL is configured.
func (m *Metrics) Push(ctx context.Context) error {
	if m.config.PushURL == "" {
		return nil
	}

	if m.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.Timeout)
		defer cancel()
	}

	err := push.New(m.config.PushURL, m.config.Job).
		Gatherer(m.registry).
		PushContext(ctx)

	return errors.Wrapf(err, "failed to push metrics to %s", m.config.PushURL)
}

func (m *Metrics) Close() error {
	return errors.Wrap(m.provider.Shutdown(context.Background()), "failed to close metrics")
}
