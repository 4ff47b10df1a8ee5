package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Traced wraps any Tap, per §4.8's "optional third-party tracing
// integration" note. Its Tap methods delegate to inner without creating
// spans; OpenTelemetry spans come only from StartSpan. The Tap interface
// itself is the in-scope
// collaborator; this concrete OTel wiring is exercised for real rather
// than stubbed because a global TracerProvider costs nothing to attach to
// when one isn't configured (otel.Tracer falls back to a no-op tracer).
type Traced struct {
	inner  Tap
	tracer trace.Tracer
}

// NewTraced wraps inner and sets up the tracer StartSpan uses. Configure the process-wide
// TracerProvider via otel.SetTracerProvider before constructing this, or
// leave it unconfigured to get OTel's built-in no-op tracer.
func NewTraced(inner Tap) *Traced {
	return &Traced{inner: inner, tracer: otel.Tracer("github.com/howard-nolan/llmgateway/gateway")}
}

func labelAttrs(l Labels) []attribute.KeyValue {
	l = l.normalized()
	return []attribute.KeyValue{
		attribute.String("model", l.Model),
		attribute.String("provider", l.Provider),
		attribute.String("credential", l.Credential),
		attribute.String("client_type", l.ClientType),
	}
}

func (t *Traced) RequestStarted(l Labels) {
	t.inner.RequestStarted(l)
}

func (t *Traced) RequestCompleted(l Labels, statusCode int, duration time.Duration) {
	t.inner.RequestCompleted(l, statusCode, duration)
}

func (t *Traced) ActiveRequestInc(l Labels) { t.inner.ActiveRequestInc(l) }
func (t *Traced) ActiveRequestDec(l Labels) { t.inner.ActiveRequestDec(l) }

func (t *Traced) TokenUsage(l Labels, input, output, total int) {
	t.inner.TokenUsage(l, input, output, total)
}

func (t *Traced) FirstTokenTime(l Labels, d time.Duration) { t.inner.FirstTokenTime(l, d) }
func (t *Traced) TokensPerSecond(l Labels, tps float64)    { t.inner.TokensPerSecond(l, tps) }
func (t *Traced) BypassRequest(l Labels)                   { t.inner.BypassRequest(l) }
func (t *Traced) CrossProtocolRequest(l Labels)            { t.inner.CrossProtocolRequest(l) }
func (t *Traced) ProviderTransportError(providerID string) { t.inner.ProviderTransportError(providerID) }
func (t *Traced) ClientDisconnect(l Labels)                { t.inner.ClientDisconnect(l) }

// StartSpan opens a span for one request's lifetime. The caller is
// responsible for calling the returned end func once the request
// completes; it records the status code and any error before ending the
// span, mirroring the teacher-pack's clueSpan.End/SetStatus pattern.
func (t *Traced) StartSpan(ctx context.Context, name string, l Labels) (context.Context, func(statusCode int, err error)) {
	spanCtx, span := t.tracer.Start(ctx, name, trace.WithAttributes(labelAttrs(l)...))
	return spanCtx, func(statusCode int, err error) {
		span.SetAttributes(attribute.Int("http.status_code", statusCode))
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}

var _ Tap = (*Traced)(nil)
