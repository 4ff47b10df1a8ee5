package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howard-nolan/llmgateway/internal/auth"
	"github.com/howard-nolan/llmgateway/internal/pipeline"
	"github.com/howard-nolan/llmgateway/internal/protocol"
	"github.com/howard-nolan/llmgateway/internal/selector"
	"github.com/howard-nolan/llmgateway/internal/store"
)

// fakeDispatcher satisfies pipeline.Dispatcher with canned responses,
// grounded on pipeline_test.go's fixture of the same name.
type fakeDispatcher struct {
	status     int
	body       []byte
	streamBody string
	err        error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req pipeline.DispatchRequest) (*pipeline.DispatchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if req.Stream {
		return &pipeline.DispatchResult{
			StatusCode: f.status,
			Header:     http.Header{},
			Stream:     io.NopCloser(strings.NewReader(f.streamBody)),
		}, nil
	}
	return &pipeline.DispatchResult{StatusCode: f.status, Header: http.Header{}, Body: f.body}, nil
}

func newTestServer(t *testing.T, disp pipeline.Dispatcher) (*Server, *store.ConfigStore) {
	t.Helper()
	backing := &fakeStore{
		version: 1,
		providers: []store.RawProvider{
			{
				ID:       "p1",
				Name:     "primary",
				Protocol: protocol.OpenAI,
				BaseURL:  "http://upstream.invalid",
				Weight:   1,
				Enabled:  true,
				ModelMap: []store.RawModelMapEntry{{Pattern: "gpt-4", Upstream: "gpt-4-0613"}},
			},
		},
	}
	cs := store.New(backing)
	_, err := cs.Reload(context.Background())
	require.NoError(t, err)

	gate := auth.New(cs, nil)
	sel := selector.New(cs)
	reg := newRegistry()
	pl := pipeline.New(reg, disp, 0, 0)

	srv := New(Deps{
		Config:      newTestConfig(),
		ConfigStore: cs,
		Gate:        gate,
		Selector:    sel,
		Registry:    reg,
		Pipeline:    pl,
	})
	return srv, cs
}

func TestHandleLLM_BlockingBypassRoundTrip(t *testing.T) {
	disp := &fakeDispatcher{
		status: 200,
		body:   []byte(`{"id":"1","model":"gpt-4-0613","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}]}`),
	}
	srv, _ := newTestServer(t, disp)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"gpt-4"`)
	assert.NotContains(t, rec.Body.String(), `"gpt-4-0613"`)
}

func TestHandleLLM_UnknownModelReturnsError(t *testing.T) {
	disp := &fakeDispatcher{status: 200, body: []byte(`{}`)}
	srv, _ := newTestServer(t, disp)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"does-not-exist","messages":[]}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleLLM_CredentialGateRejectsUnknownKey(t *testing.T) {
	disp := &fakeDispatcher{status: 200, body: []byte(`{}`)}
	backing := &fakeStore{
		version: 1,
		providers: []store.RawProvider{
			{ID: "p1", Name: "primary", Protocol: protocol.OpenAI, BaseURL: "http://upstream.invalid", Weight: 1, Enabled: true,
				ModelMap: []store.RawModelMapEntry{{Pattern: "gpt-4", Upstream: "gpt-4-0613"}}},
		},
		credentials: []store.RawCredential{
			{ID: "c1", Name: "alice", KeyHash: store.HashKey("real-key"), Enabled: true},
		},
	}
	cs := store.New(backing)
	_, err := cs.Reload(context.Background())
	require.NoError(t, err)

	srv := New(Deps{
		Config:      newTestConfig(),
		ConfigStore: cs,
		Gate:        auth.New(cs, nil),
		Selector:    selector.New(cs),
		Registry:    newRegistry(),
		Pipeline:    pipeline.New(newRegistry(), disp, 0, 0),
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"gpt-4","messages":[]}`))
	req.Header.Set("Authorization", "Bearer wrong-key")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleVertex_RejectsMalformedModelActionSegment(t *testing.T) {
	disp := &fakeDispatcher{status: 200, body: []byte(`{}`)}
	srv, _ := newTestServer(t, disp)

	req := httptest.NewRequest(http.MethodPost, "/models/gcp-vertex/v1/projects/p/locations/l/publishers/google/models/claude-3-opus", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleVertex_RejectsUnknownAction(t *testing.T) {
	disp := &fakeDispatcher{status: 200, body: []byte(`{}`)}
	srv, _ := newTestServer(t, disp)

	req := httptest.NewRequest(http.MethodPost, "/models/gcp-vertex/v1/projects/p/locations/l/publishers/google/models/claude-3-opus:explode", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleLLM_StreamingBypassPassesEventsThrough(t *testing.T) {
	sseBody := "data: {\"id\":\"1\",\"model\":\"gpt-4-0613\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"hi\"}}]}\n\ndata: [DONE]\n\n"
	disp := &fakeDispatcher{status: 200, streamBody: sseBody}
	srv, _ := newTestServer(t, disp)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"model":"gpt-4","stream":true,"messages":[{"role":"user","content":"hi"}]}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"gpt-4"`)
	assert.Equal(t, 1, strings.Count(rec.Body.String(), "[DONE]"), "expected exactly one [DONE] sentinel, not a duplicate")
}

// TestHandleLLM_StreamingAnthropicNeverEmitsDone guards against the server
// layer appending its own terminal frame: the Anthropic wire contract has
// no [DONE] sentinel at all (message_stop is a named SSE event), so a
// message_stop-terminated upstream stream must reach the client with no
// [DONE] text anywhere in the body.
func TestHandleLLM_StreamingAnthropicNeverEmitsDone(t *testing.T) {
	sseBody := "event: message_start\n" +
		"data: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_1\",\"role\":\"assistant\",\"model\":\"claude-3-opus\",\"content\":[],\"usage\":{\"input_tokens\":1,\"output_tokens\":0}}}\n\n" +
		"event: content_block_start\n" +
		"data: {\"type\":\"content_block_start\",\"index\":0,\"content_block\":{\"type\":\"text\",\"text\":\"\"}}\n\n" +
		"event: content_block_delta\n" +
		"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"hi\"}}\n\n" +
		"event: content_block_stop\n" +
		"data: {\"type\":\"content_block_stop\",\"index\":0}\n\n" +
		"event: message_delta\n" +
		"data: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"output_tokens\":1}}\n\n" +
		"event: message_stop\n" +
		"data: {\"type\":\"message_stop\"}\n\n"
	disp := &fakeDispatcher{status: 200, streamBody: sseBody}

	backing := &fakeStore{
		version: 1,
		providers: []store.RawProvider{
			{ID: "p1", Name: "primary", Protocol: protocol.Anthropic, BaseURL: "http://upstream.invalid", Weight: 1, Enabled: true,
				ModelMap: []store.RawModelMapEntry{{Pattern: "claude-3-opus", Upstream: "claude-3-opus"}}},
		},
	}
	cs := store.New(backing)
	_, err := cs.Reload(context.Background())
	require.NoError(t, err)

	reg := newRegistry()
	srv := New(Deps{
		Config:      newTestConfig(),
		ConfigStore: cs,
		Gate:        auth.New(cs, nil),
		Selector:    selector.New(cs),
		Registry:    reg,
		Pipeline:    pipeline.New(reg, disp, 0, 0),
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"model":"claude-3-opus","stream":true,"max_tokens":16,"messages":[{"role":"user","content":"hi"}]}`))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "message_stop")
	assert.NotContains(t, rec.Body.String(), "[DONE]")
}

func TestPeekModelStream_ExtractsFields(t *testing.T) {
	model, stream := peekModelStream([]byte(`{"model":"gpt-4","stream":true}`))
	assert.Equal(t, "gpt-4", model)
	assert.True(t, stream)
}

func TestStripProviderSuffix(t *testing.T) {
	assert.Equal(t, "gpt-4", stripProviderSuffix("openrouter/gpt-4", "openrouter/"))
	assert.Equal(t, "gpt-4", stripProviderSuffix("gpt-4", ""))
}

func TestPeekUsage_HandlesBothShapes(t *testing.T) {
	in, out, total := peekUsage([]byte(`{"usage":{"prompt_tokens":3,"completion_tokens":5,"total_tokens":8}}`))
	assert.Equal(t, 3, in)
	assert.Equal(t, 5, out)
	assert.Equal(t, 8, total)

	in, out, total = peekUsage([]byte(`{"usage":{"input_tokens":2,"output_tokens":4}}`))
	assert.Equal(t, 2, in)
	assert.Equal(t, 4, out)
	assert.Equal(t, 6, total)
}
