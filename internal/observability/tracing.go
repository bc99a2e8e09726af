package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/iamwavecut/ngwarden"

// Tracing installs the sdk tracer provider as a lifecycle component.
type Tracing struct {
	provider *sdktrace.TracerProvider
}

func NewTracing() *Tracing {
	return &Tracing{}
}

func (t *Tracing) Start(ctx context.Context) error {
	t.provider = sdktrace.NewTracerProvider()
	otel.SetTracerProvider(t.provider)
	return nil
}

func (t *Tracing) Stop(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}
