package observability

import "time"

// Noop satisfies Tap with no-op methods, for tests and for any deployment
// that doesn't want the metrics/tracing wiring.
type Noop struct{}

func (Noop) RequestStarted(Labels)                          {}
func (Noop) RequestCompleted(Labels, int, time.Duration)     {}
func (Noop) ActiveRequestInc(Labels)                         {}
func (Noop) ActiveRequestDec(Labels)                         {}
func (Noop) TokenUsage(Labels, int, int, int)                {}
func (Noop) FirstTokenTime(Labels, time.Duration)            {}
func (Noop) TokensPerSecond(Labels, float64)                 {}
func (Noop) BypassRequest(Labels)                            {}
func (Noop) CrossProtocolRequest(Labels)                     {}
func (Noop) ProviderTransportError(string)                   {}
func (Noop) ClientDisconnect(Labels)                          {}

var _ Tap = Noop{}
