package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// labelNames is the fixed label set every counter/histogram below shares,
// matching Labels' four bounded-cardinality dimensions.
var labelNames = []string{"model", "provider", "credential", "client_type"}

// Prometheus is the default Tap implementation, built on
// github.com/prometheus/client_golang.
type Prometheus struct {
	requestsStarted   *prometheus.CounterVec
	requestsCompleted *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	activeRequests    *prometheus.GaugeVec
	tokensInput       *prometheus.CounterVec
	tokensOutput      *prometheus.CounterVec
	tokensTotal       *prometheus.CounterVec
	firstTokenTime    *prometheus.HistogramVec
	tokensPerSecond   *prometheus.HistogramVec
	bypassRequests    *prometheus.CounterVec
	crossProtoReqs    *prometheus.CounterVec
	transportErrors   *prometheus.CounterVec
	clientDisconnects *prometheus.CounterVec
}

// NewPrometheus constructs a Prometheus tap and registers its collectors
// with reg. Pass prometheus.NewRegistry() for an isolated registry (tests)
// or any other Registerer; cmd/gateway passes its own registry, which it
// serves at GET /metrics.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		requestsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_started_total",
			Help: "Requests that began processing, by model/provider/credential/client protocol.",
		}, labelNames),
		requestsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_completed_total",
			Help: "Requests that finished, labeled additionally by status code.",
		}, append(append([]string{}, labelNames...), "status")),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "End-to-end request duration.",
			Buckets: prometheus.DefBuckets,
		}, labelNames),
		activeRequests: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_active_requests",
			Help: "In-flight requests.",
		}, labelNames),
		tokensInput: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_input_tokens_total",
			Help: "Input tokens consumed.",
		}, labelNames),
		tokensOutput: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_output_tokens_total",
			Help: "Output tokens produced.",
		}, labelNames),
		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_tokens_total",
			Help: "Input plus output tokens.",
		}, labelNames),
		firstTokenTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_first_token_seconds",
			Help:    "Time to first streamed token.",
			Buckets: prometheus.DefBuckets,
		}, labelNames),
		tokensPerSecond: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_tokens_per_second",
			Help:    "output_tokens / (stream end - first token).",
			Buckets: []float64{1, 5, 10, 20, 40, 80, 160, 320},
		}, labelNames),
		bypassRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_bypass_requests_total",
			Help: "Requests where client and provider protocol matched, skipping the UIF round trip.",
		}, labelNames),
		crossProtoReqs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cross_protocol_requests_total",
			Help: "Requests that required a full UIF round trip.",
		}, labelNames),
		transportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_provider_transport_errors_total",
			Help: "Upstream transport-level failures (timeout, connect error, other), by provider.",
		}, []string{"provider"}),
		clientDisconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_client_disconnects_total",
			Help: "Streaming requests aborted by client disconnect.",
		}, labelNames),
	}

	for _, c := range []prometheus.Collector{
		p.requestsStarted, p.requestsCompleted, p.requestDuration, p.activeRequests,
		p.tokensInput, p.tokensOutput, p.tokensTotal, p.firstTokenTime, p.tokensPerSecond,
		p.bypassRequests, p.crossProtoReqs, p.transportErrors, p.clientDisconnects,
	} {
		reg.MustRegister(c)
	}
	return p
}

func (p *Prometheus) labelValues(l Labels) prometheus.Labels {
	l = l.normalized()
	return prometheus.Labels{
		"model":       l.Model,
		"provider":    l.Provider,
		"credential":  l.Credential,
		"client_type": l.ClientType,
	}
}

func (p *Prometheus) RequestStarted(l Labels) {
	p.requestsStarted.With(p.labelValues(l)).Inc()
}

func (p *Prometheus) RequestCompleted(l Labels, statusCode int, duration time.Duration) {
	lv := p.labelValues(l)
	completedLV := prometheus.Labels{}
	for k, v := range lv {
		completedLV[k] = v
	}
	completedLV["status"] = statusText(statusCode)
	p.requestsCompleted.With(completedLV).Inc()
	p.requestDuration.With(lv).Observe(duration.Seconds())
}

func (p *Prometheus) ActiveRequestInc(l Labels) { p.activeRequests.With(p.labelValues(l)).Inc() }
func (p *Prometheus) ActiveRequestDec(l Labels) { p.activeRequests.With(p.labelValues(l)).Dec() }

func (p *Prometheus) TokenUsage(l Labels, input, output, total int) {
	lv := p.labelValues(l)
	p.tokensInput.With(lv).Add(float64(input))
	p.tokensOutput.With(lv).Add(float64(output))
	p.tokensTotal.With(lv).Add(float64(total))
}

func (p *Prometheus) FirstTokenTime(l Labels, d time.Duration) {
	p.firstTokenTime.With(p.labelValues(l)).Observe(d.Seconds())
}

func (p *Prometheus) TokensPerSecond(l Labels, tps float64) {
	p.tokensPerSecond.With(p.labelValues(l)).Observe(tps)
}

func (p *Prometheus) BypassRequest(l Labels)       { p.bypassRequests.With(p.labelValues(l)).Inc() }
func (p *Prometheus) CrossProtocolRequest(l Labels) { p.crossProtoReqs.With(p.labelValues(l)).Inc() }

func (p *Prometheus) ProviderTransportError(providerID string) {
	if providerID == "" {
		providerID = "unknown"
	}
	p.transportErrors.With(prometheus.Labels{"provider": providerID}).Inc()
}

func (p *Prometheus) ClientDisconnect(l Labels) {
	p.clientDisconnects.With(p.labelValues(l)).Inc()
}

var _ Tap = (*Prometheus)(nil)

func statusText(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
