// Package telemetry configures OpenTelemetry tracing for the service.
package telemetry

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// ServiceName identifies this process in trace resources.
const ServiceName = "opsprofile"

// InitTracerProvider installs a global tracer provider that reports finished
// spans to the zap logger at debug level. The caller must Shutdown it.
func InitTracerProvider(serviceName string, extra ...sdktrace.SpanProcessor) *sdktrace.TracerProvider {
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(SpanLogger{}),
	}
	for _, sp := range extra {
		opts = append(opts, sdktrace.WithSpanProcessor(sp))
	}
	tp := sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp
}

// Shutdown flushes and stops tp within timeout.
func Shutdown(tp *sdktrace.TracerProvider, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return eris.Wrap(tp.Shutdown(ctx), "telemetry: shutdown tracer provider")
}

// SpanLogger logs each ended span.
type SpanLogger struct{}

func (SpanLogger) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (SpanLogger) OnEnd(s sdktrace.ReadOnlySpan) {
	fields := []zap.Field{
		zap.String("span", s.Name()),
		zap.String("trace_id", s.SpanContext().TraceID().String()),
		zap.Duration("duration", s.EndTime().Sub(s.StartTime())),
	}
	for _, kv := range s.Attributes() {
		fields = append(fields, zap.String(string(kv.Key), kv.Value.Emit()))
	}
	if st := s.Status(); st.Code == codes.Error {
		fields = append(fields, zap.String("error", st.Description))
		zap.L().Warn("trace: span failed", fields...)
		return
	}
	zap.L().Debug("trace: span", fields...)
}

func (SpanLogger) Shutdown(context.Context) error { return nil }

func (SpanLogger) ForceFlush(context.Context) error { return nil }
