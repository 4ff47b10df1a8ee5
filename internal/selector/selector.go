// Package selector implements the Provider Selector (§4.3): weighted
// random choice among providers whose model map matches the requested
// model, plus transport/HTTP feedback hooks for the Upstream Dispatcher.
package selector

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/howard-nolan/llmgateway/internal/gwerror"
	"github.com/howard-nolan/llmgateway/internal/store"
)

// Picked is the result of a successful Pick: the chosen provider and the
// upstream model name its map resolves the request to.
type Picked struct {
	Provider       store.Provider
	UpstreamModel  string
}

// providerStats holds the atomic feedback counters for one provider,
// per §5's "Provider Selector feedback counters ... updated from many
// tasks; must be safe under concurrent updates."
type providerStats struct {
	success        atomic.Int64
	transportError atomic.Int64
	httpError4xx   atomic.Int64
	httpError5xx   atomic.Int64
}

// Selector is the Provider Selector. It reads the config store's current
// snapshot on every call, so it always reflects the latest reload without
// needing its own reload hook.
type Selector struct {
	configStore *store.ConfigStore

	mu    sync.Mutex
	stats map[string]*providerStats
}

// New constructs a Selector reading from configStore.
func New(configStore *store.ConfigStore) *Selector {
	return &Selector{configStore: configStore, stats: make(map[string]*providerStats)}
}

func (s *Selector) statsFor(providerID string) *providerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[providerID]
	if !ok {
		st = &providerStats{}
		s.stats[providerID] = st
	}
	return st
}

// Pick implements §4.3's selection algorithm: filter enabled providers
// whose model map matches model, then weighted-random-choose among them.
func (s *Selector) Pick(model string) (Picked, error) {
	snap := s.configStore.Current()

	type candidate struct {
		provider store.Provider
		upstream string
	}
	var candidates []candidate
	var weights []int
	for _, p := range snap.Providers {
		if !p.Enabled {
			continue
		}
		if upstream, ok := p.ModelMap.Resolve(model); ok {
			candidates = append(candidates, candidate{provider: p, upstream: upstream})
			weights = append(weights, max(p.Weight, 1))
		}
	}
	if len(candidates) == 0 {
		return Picked{}, gwerror.New(gwerror.KindNoProviderForModel, "no provider supports model: "+model)
	}

	idx := weightedChoice(weights)
	chosen := candidates[idx]
	return Picked{Provider: chosen.provider, UpstreamModel: chosen.upstream}, nil
}

// PickAny implements pick_any(): used when no model is given (e.g. pure
// listing endpoints) — weighted choice (by Weight, minimum 1) over all
// enabled providers.
func (s *Selector) PickAny() (store.Provider, error) {
	snap := s.configStore.Current()
	var candidates []store.Provider
	var weights []int
	for _, p := range snap.Providers {
		if p.Enabled {
			candidates = append(candidates, p)
			weights = append(weights, max(p.Weight, 1))
		}
	}
	if len(candidates) == 0 {
		return store.Provider{}, gwerror.New(gwerror.KindNoProviderForModel, "no enabled providers configured")
	}
	return candidates[weightedChoice(weights)], nil
}

// AllModels implements all_models(): the union of exact-match keys across
// all enabled providers. Patterns are excluded, per the Open Question
// decision recorded in DESIGN.md (current behavior preserved: exact keys
// only).
func (s *Selector) AllModels() []string {
	snap := s.configStore.Current()
	seen := make(map[string]struct{})
	var out []string
	for _, p := range snap.Providers {
		if !p.Enabled {
			continue
		}
		for _, k := range p.ModelMap.ExactKeys() {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				out = append(out, k)
			}
		}
	}
	return out
}

// ReportHTTPStatus is the Upstream Dispatcher's feedback hook for a
// completed upstream call. Per the Open Question decision in DESIGN.md,
// this only records counters — it never excludes a provider from future
// selection, preserving invariant 6.
func (s *Selector) ReportHTTPStatus(providerID string, status int, retryAfterSecs int) {
	st := s.statsFor(providerID)
	switch {
	case status < 400:
		st.success.Add(1)
	case status < 500:
		st.httpError4xx.Add(1)
	default:
		st.httpError5xx.Add(1)
	}
}

// ReportTransportError is the Upstream Dispatcher's feedback hook for a
// network-level failure (no HTTP response at all).
func (s *Selector) ReportTransportError(providerID string) {
	s.statsFor(providerID).transportError.Add(1)
}

// Stats is a point-in-time snapshot of one provider's feedback counters,
// exposed for the Observability Tap / debugging.
type Stats struct {
	Success, TransportError, HTTPError4xx, HTTPError5xx int64
}

// Stats returns the current feedback counters for providerID.
func (s *Selector) Stats(providerID string) Stats {
	st := s.statsFor(providerID)
	return Stats{
		Success:        st.success.Load(),
		TransportError: st.transportError.Load(),
		HTTPError4xx:   st.httpError4xx.Load(),
		HTTPError5xx:   st.httpError5xx.Load(),
	}
}

// weightedChoice returns an index into weights chosen with probability
// proportional to weights[i] / sum(weights). Like Python's
// random.choices(weights=...), it draws one uniform sample against the
// cumulative distribution; the index is found by a linear scan of the
// running sums.
func weightedChoice(weights []int) int {
	total := 0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return 0
	}
	r := rand.IntN(total)
	cum := 0
	for i, w := range weights {
		cum += w
		if r < cum {
			return i
		}
	}
	return len(weights) - 1
}
