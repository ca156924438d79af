// Package tracing provides an OpenTelemetry RoundTripper middleware for
// backend requests. It is entirely optional: tracing is only active when a
// [TracingConfig] is wired in via the WithTracing client option.
package tracing

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/Keksclan/policydash/tracing"

// TracingConfig holds the OpenTelemetry configuration used by the tracing
// middleware.
type TracingConfig struct {
	// TracerProvider supplies the Tracer used to create spans. When nil the
	// global otel.GetTracerProvider() is used.
	TracerProvider trace.TracerProvider

	// Propagators injects trace context into outgoing headers.
	// When nil the global otel.GetTextMapPropagator() is used.
	Propagators propagation.TextMapPropagator

	// SpanName names the span for a request. When nil spans are named
	// "<METHOD> <path>".
	SpanName func(*http.Request) string
}

// tracer returns a configured [trace.Tracer].
func (c *TracingConfig) tracer() trace.Tracer {
	tp := c.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(instrumentationName)
}

// propagators returns the configured propagator (or global default).
func (c *TracingConfig) propagators() propagation.TextMapPropagator {
	if c.Propagators != nil {
		return c.Propagators
	}
	return otel.GetTextMapPropagator()
}

func (c *TracingConfig) spanName(r *http.Request) string {
	if c.SpanName != nil {
		return c.SpanName(r)
	}
	return r.Method + " " + r.URL.Path
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// Middleware returns a RoundTripper wrapper that starts a client span for
// every request and injects the trace context into its headers. If cfg is
// nil the middleware is a no-op passthrough.
func Middleware(cfg *TracingConfig) func(http.RoundTripper) http.RoundTripper {
	if cfg == nil {
		return func(next http.RoundTripper) http.RoundTripper { return next }
	}
	return func(next http.RoundTripper) http.RoundTripper {
		return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
			ctx, span := cfg.tracer().Start(r.Context(), cfg.spanName(r), trace.WithSpanKind(trace.SpanKindClient))
			defer span.End()

			span.SetAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
				attribute.String("server.address", r.URL.Host),
			)

			r = r.Clone(ctx)
			cfg.propagators().Inject(ctx, propagation.HeaderCarrier(r.Header))

			resp, err := next.RoundTrip(r)
			recordStatus(span, resp, err)
			return resp, err
		})
	}
}

// recordStatus sets the span status from the transport outcome. Client spans
// treat any 4xx or 5xx response as an error.
func recordStatus(span trace.Span, resp *http.Response, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= http.StatusBadRequest {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
		return
	}
	span.SetStatus(codes.Ok, "")
}
