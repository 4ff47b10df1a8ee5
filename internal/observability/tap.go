// Package observability implements the Observability Tap (§4.8): an
// interface the core calls on every request milestone, with a Prometheus
// implementation, a no-op implementation for tests, and an OpenTelemetry
// span decorator.
package observability

import "time"

// Labels identifies a request for metric/trace attribution. Cardinality is
// bounded per §4.8: callers should fall back to "anonymous" for Credential
// and "unknown" for Provider when either is not yet known (e.g. before auth
// resolves, or when a request never reaches provider selection).
type Labels struct {
	Model      string
	Provider   string
	Credential string
	ClientType string // "openai", "anthropic", "gcp-vertex-anthropic", "response-api"
}

func (l Labels) normalized() Labels {
	out := l
	if out.Provider == "" {
		out.Provider = "unknown"
	}
	if out.Credential == "" {
		out.Credential = "anonymous"
	}
	if out.Model == "" {
		out.Model = "unknown"
	}
	if out.ClientType == "" {
		out.ClientType = "unknown"
	}
	return out
}

// Tap is the core's observability surface, per §4.8.
type Tap interface {
	RequestStarted(labels Labels)
	RequestCompleted(labels Labels, statusCode int, duration time.Duration)
	ActiveRequestInc(labels Labels)
	ActiveRequestDec(labels Labels)
	TokenUsage(labels Labels, inputTokens, outputTokens, totalTokens int)
	FirstTokenTime(labels Labels, sinceRequestStart time.Duration)
	TokensPerSecond(labels Labels, tps float64)
	BypassRequest(labels Labels)
	CrossProtocolRequest(labels Labels)
	ProviderTransportError(providerID string)
	ClientDisconnect(labels Labels)
}
