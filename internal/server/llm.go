package server

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/howard-nolan/llmgateway/internal/gwerror"
	"github.com/howard-nolan/llmgateway/internal/observability"
	"github.com/howard-nolan/llmgateway/internal/pipeline"
	"github.com/howard-nolan/llmgateway/internal/protocol"
	"github.com/howard-nolan/llmgateway/internal/reqlog"
	"github.com/howard-nolan/llmgateway/internal/selector"
)

// handleLLM returns the handler for a fixed-protocol client-facing LLM
// route (OpenAI, Anthropic, Response-API): authenticate, select a
// provider, then dispatch through the Transform Pipeline's blocking or
// streaming path depending on the request's "stream" field.
func (s *Server) handleLLM(clientProto protocol.Protocol) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			s.writeError(w, clientProto, gwerror.Wrap(gwerror.KindBadRequest, "failed to read request body", err))
			return
		}

		rawModel, stream := peekModelStream(body)
		model := stripProviderSuffix(rawModel, s.cfg.ProviderSuffix)

		s.serve(w, r, clientProto, model, stream, body)
	}
}

// handleVertex handles the GCP-Vertex-Anthropic route, where the model
// name and streaming mode come from the URL path (§6) rather than the
// request body.
func (s *Server) handleVertex(w http.ResponseWriter, r *http.Request) {
	modelAction := chi.URLParam(r, "modelAction")
	model, action, ok := strings.Cut(modelAction, ":")
	if !ok {
		s.writeError(w, protocol.GCPVertexAnthropic, gwerror.New(gwerror.KindBadRequest, "model path segment must be \"{model}:{action}\""))
		return
	}
	var stream bool
	switch action {
	case "rawPredict":
		stream = false
	case "streamRawPredict":
		stream = true
	default:
		s.writeError(w, protocol.GCPVertexAnthropic, gwerror.New(gwerror.KindBadRequest, "unrecognized Vertex action: "+action))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, protocol.GCPVertexAnthropic, gwerror.Wrap(gwerror.KindBadRequest, "failed to read request body", err))
		return
	}

	s.serve(w, r, protocol.GCPVertexAnthropic, model, stream, body)
}

// serve is the common authenticate → select → dispatch → observe body
// shared by every LLM route.
func (s *Server) serve(
	w http.ResponseWriter,
	r *http.Request,
	clientProto protocol.Protocol,
	model string,
	stream bool,
	body []byte,
) {
	ctx := r.Context()
	requestID := requestIDFromContext(ctx)

	authHeader := r.Header.Get("Authorization")
	apiKeyHeader := r.Header.Get("x-api-key")

	identity, err := s.gate.Authenticate(ctx, authHeader, apiKeyHeader, model)
	if err != nil {
		s.writeErrorLogged(w, r, clientProto, requestID, err)
		return
	}

	picked, err := s.selector.Pick(model)
	if err != nil {
		s.writeErrorLogged(w, r, clientProto, requestID, err)
		return
	}

	labels := observability.Labels{
		Model:      model,
		Provider:   picked.Provider.ID,
		Credential: identity.Name(),
		ClientType: string(clientProto),
	}
	if clientProto == picked.Provider.Protocol {
		s.tap.BypassRequest(labels)
	} else {
		s.tap.CrossProtocolRequest(labels)
	}

	s.tap.RequestStarted(labels)
	s.tap.ActiveRequestInc(labels)
	start := time.Now()
	defer s.tap.ActiveRequestDec(labels)

	if s.reqlogSink != nil {
		s.reqlogSink.LogHeaders(reqlog.Record{
			Type:           "request",
			RequestID:      requestID,
			Endpoint:       r.URL.Path,
			Provider:       picked.Provider.Name,
			CredentialName: identity.Name(),
			ModelRequested: model,
			ModelMapped:    picked.UpstreamModel,
			IsStreaming:    stream,
			Body:           string(body),
		}, r.Header)
	}

	if stream {
		s.serveStreaming(ctx, w, clientProto, picked, model, body, labels, start, requestID)
		return
	}
	s.serveBlocking(ctx, w, clientProto, picked, model, body, labels, start, requestID)
}

func (s *Server) serveBlocking(
	ctx context.Context,
	w http.ResponseWriter,
	clientProto protocol.Protocol,
	picked selector.Picked,
	originalModel string,
	body []byte,
	labels observability.Labels,
	start time.Time,
	requestID string,
) {
	result, err := s.pipeline.HandleBlocking(ctx, clientProto, picked.Provider, picked.UpstreamModel, originalModel, body)
	if err != nil {
		s.reportDispatchError(picked.Provider.ID, err)
		s.writeErrorLogged(w, nil, clientProto, requestID, err)
		s.tap.RequestCompleted(labels, statusFromErr(err), time.Since(start))
		return
	}

	input, output, total := peekUsage(result.Body)
	s.tap.TokenUsage(labels, input, output, total)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.StatusCode)
	_, _ = w.Write(result.Body)

	s.tap.RequestCompleted(labels, result.StatusCode, time.Since(start))

	if s.reqlogSink != nil {
		s.reqlogSink.Log(reqlog.Record{
			Type:       "response",
			RequestID:  requestID,
			StatusCode: result.StatusCode,
			Body:       string(result.Body),
		})
	}
}

func (s *Server) serveStreaming(
	ctx context.Context,
	w http.ResponseWriter,
	clientProto protocol.Protocol,
	picked selector.Picked,
	originalModel string,
	body []byte,
	labels observability.Labels,
	start time.Time,
	requestID string,
) {
	sw, err := newSSEWriter(w)
	if err != nil {
		s.writeErrorLogged(w, nil, clientProto, requestID, gwerror.Wrap(gwerror.KindInternal, "streaming unsupported", err))
		return
	}
	sw.start()

	outcome, runErr := s.pipeline.HandleStreaming(ctx, clientProto, picked.Provider, picked.UpstreamModel, originalModel, body, sw.emit)

	// The terminal frame is emitted by the pipeline itself: the OpenAI
	// transformer's ChunkMessageStop mapping produces "data: [DONE]\n\n"
	// through sw.emit, and the bypass path forwards the upstream's own
	// "[DONE]" line verbatim. Anthropic/GCP-Vertex/Response-API never use
	// a [DONE] sentinel at all, so nothing more is written here on success.
	status := http.StatusOK
	if runErr != nil {
		if ctx.Err() != nil {
			s.tap.ClientDisconnect(labels)
			status = gwerror.KindClientDisconnect.Status()
		} else if gerr, ok := gwerror.As(runErr); ok {
			s.reportDispatchError(picked.Provider.ID, gerr)
			status = gerr.Status
			sw.writeMidStreamError(clientProto, gerr)
		} else {
			status = http.StatusInternalServerError
			sw.writeMidStreamError(clientProto, gwerror.Wrap(gwerror.KindInternal, "stream failed", runErr))
		}
	}

	if !outcome.FirstTokenAt.IsZero() {
		s.tap.FirstTokenTime(labels, outcome.FirstTokenAt.Sub(start))
		if elapsed := time.Since(outcome.FirstTokenAt); elapsed > 0 && outcome.OutputTokens > 0 {
			s.tap.TokensPerSecond(labels, float64(outcome.OutputTokens)/elapsed.Seconds())
		}
	}
	s.tap.TokenUsage(labels, 0, outcome.OutputTokens, outcome.OutputTokens)
	s.tap.RequestCompleted(labels, status, time.Since(start))
}

// reportDispatchError feeds the Observability Tap's transport-error
// counter when a dispatch failure was network-level, per §4.8.
func (s *Server) reportDispatchError(providerID string, err error) {
	if gerr, ok := gwerror.As(err); ok && gerr.Kind == gwerror.KindUpstreamNetwork {
		s.tap.ProviderTransportError(providerID)
	}
}

func statusFromErr(err error) int {
	if gerr, ok := gwerror.As(err); ok {
		return gerr.Status
	}
	return http.StatusInternalServerError
}

