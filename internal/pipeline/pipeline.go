// Package pipeline implements the Transform Pipeline (§4.5): it drives a
// request through parse → client-to-unified → model mapping → normalize →
// unified-to-provider → dispatch → (blocking) provider-to-unified →
// unified-to-client, or (streaming) the Stream State Machine, with a
// same-protocol bypass optimization for both paths.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/howard-nolan/llmgateway/internal/gwerror"
	"github.com/howard-nolan/llmgateway/internal/protocol"
	"github.com/howard-nolan/llmgateway/internal/store"
	"github.com/howard-nolan/llmgateway/internal/streamstate"
	"github.com/howard-nolan/llmgateway/internal/uif"
)

// Pipeline ties the Protocol Registry and Upstream Dispatcher together to
// execute one request end to end.
type Pipeline struct {
	registry   *protocol.Registry
	dispatcher Dispatcher
	minTokens  int
	maxTokens  int
}

// New constructs a Pipeline. minTokens/maxTokens are the gateway-wide
// max_tokens clamp bounds of §4.5.1 (zero disables that bound).
func New(registry *protocol.Registry, dispatcher Dispatcher, minTokens, maxTokens int) *Pipeline {
	return &Pipeline{registry: registry, dispatcher: dispatcher, minTokens: minTokens, maxTokens: maxTokens}
}

// BlockingResult is the outcome of a non-streaming request.
type BlockingResult struct {
	StatusCode int
	Body       []byte
	Bypass     bool // true if the client/provider-protocol UIF round trip was skipped
}

// HandleBlocking executes the full pipeline for a non-streaming request.
// clientProto is the protocol the inbound request was detected as;
// provider/upstreamModel come from the Provider Selector's pick;
// originalModel is the model string the caller used, restored into the
// response's "model" field before returning.
func (p *Pipeline) HandleBlocking(
	ctx context.Context,
	clientProto protocol.Protocol,
	provider store.Provider,
	upstreamModel, originalModel string,
	rawBody []byte,
) (BlockingResult, error) {
	clientT, ok := p.registry.Get(clientProto)
	if !ok {
		return BlockingResult{}, gwerror.New(gwerror.KindBadRequest, "unrecognized client protocol")
	}
	provT, ok := p.registry.Get(provider.Protocol)
	if !ok {
		return BlockingResult{}, gwerror.New(gwerror.KindBadRequest, "unrecognized provider protocol")
	}

	bypass := clientProto == provider.Protocol

	var providerBody []byte
	if bypass {
		rewritten, err := rewriteJSONModel(rawBody, upstreamModel)
		if err != nil {
			return BlockingResult{}, gwerror.Wrap(gwerror.KindBadRequest, "invalid request body", err)
		}
		providerBody = rewritten
	} else {
		req, err := clientT.RequestToUnified(rawBody)
		if err != nil {
			return BlockingResult{}, gwerror.Wrap(gwerror.KindBadRequest, "invalid request body", err)
		}
		req.Model = upstreamModel
		normalize(&req, p.minTokens, p.maxTokens)
		providerBody, err = provT.UnifiedToRequest(req)
		if err != nil {
			return BlockingResult{}, gwerror.Wrap(gwerror.KindInternal, "failed to build provider request", err)
		}
	}

	result, err := p.dispatcher.Dispatch(ctx, DispatchRequest{Provider: provider, Model: upstreamModel, Body: providerBody, Stream: false})
	if err != nil {
		return BlockingResult{}, err
	}

	if result.StatusCode >= 400 {
		return BlockingResult{StatusCode: result.StatusCode, Body: adaptErrorBody(clientProto, result.StatusCode, result.Body)}, nil
	}

	if bypass {
		rewritten, err := rewriteJSONModel(result.Body, originalModel)
		if err != nil {
			return BlockingResult{}, gwerror.Wrap(gwerror.KindUpstreamHTTP, "invalid upstream response body", err)
		}
		return BlockingResult{StatusCode: result.StatusCode, Body: rewritten, Bypass: true}, nil
	}

	resp, err := provT.ResponseToUnified(result.Body)
	if err != nil {
		return BlockingResult{}, gwerror.Wrap(gwerror.KindUpstreamHTTP, "invalid upstream response body", err)
	}
	resp.Model = originalModel
	clientBody, err := clientT.UnifiedToResponse(resp)
	if err != nil {
		return BlockingResult{}, gwerror.Wrap(gwerror.KindInternal, "failed to build client response", err)
	}
	return BlockingResult{StatusCode: result.StatusCode, Body: clientBody}, nil
}

// StreamEmit is called once per client-facing SSE event the streaming path
// produces. name is empty for OpenAI-family's unnamed "data:" events.
type StreamEmit func(name string, data []byte) error

// StreamOutcome reports what happened once the stream finished, for the
// Observability Tap.
type StreamOutcome struct {
	Bypass       bool
	OutputTokens int
	FirstTokenAt time.Time // zero if no content token was ever emitted
}

// HandleStreaming executes the pipeline's streaming path: it dispatches a
// streaming upstream call, then either passes raw SSE bytes through with
// only the model field rewritten (bypass), or drives a
// streamstate.Machine that performs the full cross-protocol translation.
func (p *Pipeline) HandleStreaming(
	ctx context.Context,
	clientProto protocol.Protocol,
	provider store.Provider,
	upstreamModel, originalModel string,
	rawBody []byte,
	emit StreamEmit,
) (StreamOutcome, error) {
	clientT, ok := p.registry.Get(clientProto)
	if !ok {
		return StreamOutcome{}, gwerror.New(gwerror.KindBadRequest, "unrecognized client protocol")
	}
	provT, ok := p.registry.Get(provider.Protocol)
	if !ok {
		return StreamOutcome{}, gwerror.New(gwerror.KindBadRequest, "unrecognized provider protocol")
	}

	bypass := clientProto == provider.Protocol

	var providerBody []byte
	if bypass {
		rewritten, err := rewriteJSONModel(rawBody, upstreamModel)
		if err != nil {
			return StreamOutcome{}, gwerror.Wrap(gwerror.KindBadRequest, "invalid request body", err)
		}
		providerBody = rewritten
	} else {
		req, err := clientT.RequestToUnified(rawBody)
		if err != nil {
			return StreamOutcome{}, gwerror.Wrap(gwerror.KindBadRequest, "invalid request body", err)
		}
		req.Model = upstreamModel
		req.Stream = true
		normalize(&req, p.minTokens, p.maxTokens)
		providerBody, err = provT.UnifiedToRequest(req)
		if err != nil {
			return StreamOutcome{}, gwerror.Wrap(gwerror.KindInternal, "failed to build provider request", err)
		}
	}

	result, err := p.dispatcher.Dispatch(ctx, DispatchRequest{Provider: provider, Model: upstreamModel, Body: providerBody, Stream: true})
	if err != nil {
		return StreamOutcome{}, err
	}
	defer result.Stream.Close()

	if result.StatusCode >= 400 {
		body, readErr := readAll(result.Stream)
		if readErr != nil {
			body = []byte(`{}`)
		}
		return StreamOutcome{}, gwerror.Upstream(result.StatusCode, extractUpstreamMessage(body))
	}

	if bypass {
		return p.streamBypass(ctx, result, originalModel, emit)
	}

	var outputTokens int
	machine := streamstate.New(provT, originalModel, func(sc uif.StreamChunk) error {
		sc2 := sc
		if sc2.Kind == uif.ChunkMessageStart {
			sc2.MessageModel = originalModel
		}
		name, data, err := clientT.UnifiedStreamEventToWire(sc2)
		if err != nil {
			return err
		}
		if data == nil {
			return nil
		}
		return emit(name, data)
	})
	runErr := machine.Run(ctx, result.Stream)
	outputTokens = machine.OutputTokens()
	if runErr != nil {
		return StreamOutcome{OutputTokens: outputTokens, FirstTokenAt: machine.FirstTokenAt()}, runErr
	}
	return StreamOutcome{OutputTokens: outputTokens, FirstTokenAt: machine.FirstTokenAt()}, nil
}

// rewriteJSONModel replaces the top-level "model" field of a JSON object
// without touching anything else, used by the bypass path so it never pays
// for a full UIF round trip.
func rewriteJSONModel(body []byte, model string) ([]byte, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("pipeline: rewrite model field: %w", err)
	}
	encoded, err := json.Marshal(model)
	if err != nil {
		return nil, err
	}
	m["model"] = encoded
	return json.Marshal(m)
}
