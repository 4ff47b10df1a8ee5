// Package protocol implements the Protocol Detector & Transformer Registry
// (§4.4): classifying an inbound route into a client protocol, and
// dispatching to the Transformer registered for it.
package protocol

import (
	"strings"

	"github.com/howard-nolan/llmgateway/internal/store"
	"github.com/howard-nolan/llmgateway/internal/uif"
)

// Protocol reuses store.Protocol's four values — the same protocol names
// identify both what a client speaks and what a provider speaks.
type Protocol = store.Protocol

const (
	OpenAI             = store.ProtocolOpenAI
	Anthropic          = store.ProtocolAnthropic
	GCPVertexAnthropic = store.ProtocolGCPVertexAnthropic
	ResponseAPI        = store.ProtocolResponseAPI
)

// Detect classifies an inbound request path into one of the four client
// protocols, per §4.4's detect(client_endpoint).
func Detect(path string) (Protocol, bool) {
	switch {
	case strings.HasPrefix(path, "/v1/chat/completions"), strings.HasPrefix(path, "/v1/completions"):
		return OpenAI, true
	case strings.HasPrefix(path, "/v1/messages"):
		return Anthropic, true
	case strings.HasPrefix(path, "/v1/responses"):
		return ResponseAPI, true
	case strings.HasPrefix(path, "/models/gcp-vertex/"):
		return GCPVertexAnthropic, true
	default:
		return "", false
	}
}

// Transformer is the per-protocol conversion surface of §4.4: four blocking
// operations plus their streaming siblings, all operating through the
// Unified Intermediate Form.
type Transformer interface {
	// RequestToUnified parses a client/provider wire request body into UIF.
	RequestToUnified(body []byte) (uif.Request, error)
	// UnifiedToRequest renders a UIF request into this protocol's wire body.
	UnifiedToRequest(req uif.Request) ([]byte, error)
	// ResponseToUnified parses a wire response body into UIF.
	ResponseToUnified(body []byte) (uif.Response, error)
	// UnifiedToResponse renders a UIF response into this protocol's wire body.
	UnifiedToResponse(resp uif.Response) ([]byte, error)

	// WireStreamEventToUnified parses one upstream SSE event (event name,
	// if any, plus its data payload) into zero or more unified StreamChunks.
	// Zero chunks means the event carried no semantic content (e.g. a
	// keep-alive comment) and should be dropped, per §4.6 step 1.
	WireStreamEventToUnified(eventName string, data []byte) ([]uif.StreamChunk, error)
	// UnifiedStreamEventToWire renders one unified StreamChunk into this
	// protocol's client-facing SSE event (event name, JSON data).
	UnifiedStreamEventToWire(chunk uif.StreamChunk) (eventName string, data []byte, err error)
}

// Registry holds one Transformer per Protocol, populated once at
// composition-root construction — the same "constructor map instead of an
// if/else chain" pattern cmd/llmrouter/main.go uses for provider
// factories, generalized from providers to transformers.
type Registry struct {
	transformers map[Protocol]Transformer
}

// NewRegistry builds an empty Registry; call Register for each protocol.
func NewRegistry() *Registry {
	return &Registry{transformers: make(map[Protocol]Transformer)}
}

// Register installs t as the Transformer for protocol.
func (r *Registry) Register(protocol Protocol, t Transformer) {
	r.transformers[protocol] = t
}

// Get returns the Transformer registered for protocol, or false if none is.
func (r *Registry) Get(protocol Protocol) (Transformer, bool) {
	t, ok := r.transformers[protocol]
	return t, ok
}
