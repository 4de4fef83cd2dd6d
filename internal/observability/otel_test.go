package observability

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/tbourn/nightlife-crm/internal/config"
)

func preserveOTelGlobals(t *testing.T) {
	t.Helper()
	prevTP := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
}

// keepExporter keeps spans readable after the provider shuts it down.
type keepExporter struct{ *tracetest.InMemoryExporter }

func (keepExporter) Shutdown(context.Context) error { return nil }

// stubExporter routes spans into an in-memory exporter instead of gRPC.
func stubExporter(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	mem := tracetest.NewInMemoryExporter()
	orig := newExporter
	newExporter = func(context.Context, config.OTELConfig) (sdktrace.SpanExporter, error) { return keepExporter{mem}, nil }
	t.Cleanup(func() { newExporter = orig })
	return mem
}

func enabledConfig() config.OTELConfig {
	return config.OTELConfig{
		Enabled:     true,
		Insecure:    true,
		Endpoint:    "localhost:4317",
		ServiceName: "nightlife-crm",
		SampleRatio: 1.0,
		Environment: "test",
	}
}

func TestSetupOTel_DisabledIsNoop(t *testing.T) {
	preserveOTelGlobals(t)
	prev := otel.GetTracerProvider()

	shutdown, err := SetupOTel(context.Background(), config.OTELConfig{Enabled: false}, "v0")
	if err != nil || shutdown == nil {
		t.Fatalf("err=%v shutdownNil=%v", err, shutdown == nil)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("noop shutdown: %v", err)
	}
	if otel.GetTracerProvider() != prev {
		t.Fatalf("provider replaced while disabled")
	}
}

func TestSetupOTel_ExportsSpansOnShutdown(t *testing.T) {
	preserveOTelGlobals(t)
	mem := stubExporter(t)

	shutdown, err := SetupOTel(context.Background(), enabledConfig(), "v1.2.3")
	if err != nil {
		t.Fatalf("SetupOTel: %v", err)
	}
	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Fatalf("expected *sdktrace.TracerProvider, got %T", otel.GetTracerProvider())
	}

	_, span := otel.Tracer("services/TodoGenerator").Start(context.Background(), "RunCycle")
	span.End()

	// Batched spans only reach the exporter on flush.
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	spans := mem.GetSpans()
	if len(spans) != 1 || spans[0].Name != "RunCycle" {
		t.Fatalf("exported spans = %+v", spans)
	}
	attrs := spans[0].Resource.Set()
	if v, _ := attrs.Value(semconv.ServiceNamespaceKey); v.AsString() != ServiceNamespace {
		t.Fatalf("service.namespace = %q", v.AsString())
	}
	if v, _ := attrs.Value(semconv.DeploymentEnvironmentKey); v.AsString() != "test" {
		t.Fatalf("deployment.environment = %q", v.AsString())
	}
	if v, _ := attrs.Value(semconv.ServiceVersionKey); v.AsString() != "v1.2.3" {
		t.Fatalf("service.version = %q", v.AsString())
	}
}

func TestSetupOTel_PropagatesTraceContext(t *testing.T) {
	preserveOTelGlobals(t)
	stubExporter(t)

	shutdown, err := SetupOTel(context.Background(), enabledConfig(), "v1")
	if err != nil {
		t.Fatalf("SetupOTel: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	ctx, span := otel.Tracer("test").Start(context.Background(), "outbound")
	defer span.End()
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	tp := carrier.Get("traceparent")
	if !strings.Contains(tp, span.SpanContext().TraceID().String()) {
		t.Fatalf("traceparent %q missing trace id", tp)
	}
}

func TestSetupOTel_RealExporterBuildsLazily(t *testing.T) {
	preserveOTelGlobals(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, insecure := range []bool{true, false} {
		cfg := enabledConfig()
		cfg.Insecure = insecure
		shutdown, err := SetupOTel(ctx, cfg, "v1")
		if err != nil {
			t.Fatalf("insecure=%v: %v", insecure, err)
		}
		// Nothing was recorded, so an expired context is fine to flush with.
		_ = shutdown(ctx)
	}
}

func TestSetupOTel_ErrorsLeaveGlobalsIntact(t *testing.T) {
	cases := map[string]func(t *testing.T){
		"exporter": func(t *testing.T) {
			orig := newExporter
			newExporter = func(context.Context, config.OTELConfig) (sdktrace.SpanExporter, error) {
				return nil, errors.New("boom-exporter")
			}
			t.Cleanup(func() { newExporter = orig })
		},
		"resource": func(t *testing.T) {
			stubExporter(t)
			orig := newResource
			newResource = func(context.Context, config.OTELConfig, string) (*resource.Resource, error) {
				return nil, errors.New("boom-resource")
			}
			t.Cleanup(func() { newResource = orig })
		},
	}
	for name, arrange := range cases {
		t.Run(name, func(t *testing.T) {
			preserveOTelGlobals(t)
			arrange(t)
			prevTP := otel.GetTracerProvider()
			prevProp := otel.GetTextMapPropagator()

			if _, err := SetupOTel(context.Background(), enabledConfig(), "v0"); err == nil || !strings.Contains(err.Error(), "boom-"+name) {
				t.Fatalf("err = %v", err)
			}
			if otel.GetTracerProvider() != prevTP || otel.GetTextMapPropagator() != prevProp {
				t.Fatalf("globals changed on failure")
			}
		})
	}
}

func TestSamplerFor(t *testing.T) {
	cases := []struct {
		ratio float64
		want  string
	}{
		{1, "AlwaysOnSampler"},
		{1.5, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}
	for _, tc := range cases {
		if got := samplerFor(tc.ratio).Description(); !strings.Contains(got, tc.want) {
			t.Fatalf("samplerFor(%v) = %q; want it to mention %q", tc.ratio, got, tc.want)
		}
	}
}
