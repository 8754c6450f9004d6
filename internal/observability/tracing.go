package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/signalsfoundry/geomag/internal/logging"
)

// DefaultServiceName is the service.name reported when none is configured.
const DefaultServiceName = "geomag-server"

// DefaultOTLPEndpoint is the collector address used when the otlp exporter
// has no endpoint.
const DefaultOTLPEndpoint = "localhost:4317"

const shutdownTimeout = 5 * time.Second

// TracingConfig selects the span exporter and sampling.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Exporter    string // stdout | otlp
	Endpoint    string
	SampleRatio float64
	// Writer receives stdout spans. Defaults to os.Stdout.
	Writer io.Writer
}

// Resource attribute keys describing the coefficient table being served.
const (
	AttrModelFingerprint = attribute.Key("geomag.model.fingerprint")
	AttrModelFirstEpoch  = attribute.Key("geomag.model.first_epoch")
	AttrModelLastEpoch   = attribute.Key("geomag.model.last_epoch")
)

// ModelAttributes tags every span with the coefficient table it was computed
// from, so traces from servers with different tables can be told apart.
func ModelAttributes(fingerprint uint64, firstEpoch, lastEpoch float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrModelFingerprint.String(fmt.Sprintf("%016x", fingerprint)),
		AttrModelFirstEpoch.Float64(firstEpoch),
		AttrModelLastEpoch.Float64(lastEpoch),
	}
}

type exporterFactory func(context.Context, TracingConfig) (sdktrace.SpanExporter, error)

var exporters = map[string]exporterFactory{
	"stdout":   stdoutExporter,
	"otlp":     otlpExporter,
	"otlpgrpc": otlpExporter,
}

func stdoutExporter(_ context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	return stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithoutTimestamps())
}

func otlpExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultOTLPEndpoint
	}
	return otlptrace.New(ctx, otlptracegrpc.NewClient(
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	))
}

func exporterNames() string {
	names := make([]string, 0, len(exporters))
	for name := range exporters {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// Tracing owns the process-wide tracer provider.
type Tracing struct {
	provider *sdktrace.TracerProvider
	log      logging.Logger
}

// StartTracing installs the global tracer provider and propagators. With
// tracing disabled a noop provider is installed and Shutdown does nothing.
// model is added to the resource of every span.
func StartTracing(ctx context.Context, cfg TracingConfig, log logging.Logger, model ...attribute.KeyValue) (*Tracing, error) {
	if log == nil {
		log = logging.Noop()
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		log.Debug(ctx, "tracing disabled")
		return &Tracing{log: log}, nil
	}

	name := strings.ToLower(cfg.Exporter)
	if name == "" {
		name = "stdout"
	}
	factory, ok := exporters[name]
	if !ok {
		return nil, fmt.Errorf("unsupported tracing exporter %q (want one of %s)", cfg.Exporter, exporterNames())
	}
	exp, err := factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s exporter: %w", name, err)
	}

	service := cfg.ServiceName
	if service == "" {
		service = DefaultServiceName
	}
	attrs := append([]attribute.KeyValue{
		attribute.String("service.name", service),
		attribute.String("service.namespace", "geomag"),
	}, model...)
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", name),
		logging.String("service_name", service),
		logging.Float64("sample_ratio", cfg.SampleRatio),
	)
	return &Tracing{provider: tp, log: log}, nil
}

// Shutdown flushes pending spans, waiting at most a few seconds. Failures
// are logged, not returned, since they happen on the way out.
func (t *Tracing) Shutdown(ctx context.Context) {
	if t == nil || t.provider == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := t.provider.Shutdown(ctx); err != nil {
		t.log.Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}
