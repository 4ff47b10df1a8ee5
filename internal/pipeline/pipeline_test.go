package pipeline

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howard-nolan/llmgateway/internal/gwerror"
	"github.com/howard-nolan/llmgateway/internal/protocol"
	"github.com/howard-nolan/llmgateway/internal/protocol/anthropic"
	"github.com/howard-nolan/llmgateway/internal/protocol/openai"
	"github.com/howard-nolan/llmgateway/internal/store"
)

type fakeDispatcher struct {
	blockingStatus int
	blockingBody   []byte
	streamBody     string
	err            error
	lastReq        DispatchRequest
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	if req.Stream {
		return &DispatchResult{StatusCode: 200, Header: http.Header{}, Stream: io.NopCloser(strings.NewReader(f.streamBody))}, nil
	}
	return &DispatchResult{StatusCode: f.blockingStatus, Header: http.Header{}, Body: f.blockingBody}, nil
}

func newRegistry() *protocol.Registry {
	r := protocol.NewRegistry()
	r.Register(protocol.OpenAI, openai.New())
	r.Register(protocol.Anthropic, anthropic.New())
	return r
}

func TestHandleBlocking_BypassRewritesModelBothWays(t *testing.T) {
	disp := &fakeDispatcher{
		blockingStatus: 200,
		blockingBody:   []byte(`{"id":"1","model":"gpt-4-0613","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}]}`),
	}
	p := New(newRegistry(), disp, 0, 0)
	prov := store.Provider{ID: "p1", Protocol: protocol.OpenAI}

	out, err := p.HandleBlocking(context.Background(), protocol.OpenAI, prov, "gpt-4-0613", "gpt-4",
		[]byte(`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`))
	require.NoError(t, err)
	assert.True(t, out.Bypass)
	assert.Contains(t, string(disp.lastReq.Body), `"gpt-4-0613"`)
	assert.Contains(t, string(out.Body), `"gpt-4"`)
	assert.NotContains(t, string(out.Body), `"gpt-4-0613"`)
}

func TestHandleBlocking_CrossProtocolOpenAIToAnthropic(t *testing.T) {
	disp := &fakeDispatcher{
		blockingStatus: 200,
		blockingBody:   []byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-opus","content":[{"type":"text","text":"hi there"}],"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":2}}`),
	}
	p := New(newRegistry(), disp, 0, 0)
	prov := store.Provider{ID: "p1", Protocol: protocol.Anthropic}

	out, err := p.HandleBlocking(context.Background(), protocol.OpenAI, prov, "claude-3-opus", "gpt-4",
		[]byte(`{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`))
	require.NoError(t, err)
	assert.False(t, out.Bypass)
	assert.Contains(t, string(disp.lastReq.Body), `"claude-3-opus"`)
	assert.Contains(t, string(out.Body), `"gpt-4"`)
	assert.Contains(t, string(out.Body), `"hi there"`)
}

func TestHandleBlocking_UpstreamErrorProtocolAdapted(t *testing.T) {
	disp := &fakeDispatcher{
		blockingStatus: 429,
		blockingBody:   []byte(`{"error":{"message":"rate limited upstream","type":"rate_limit_error"}}`),
	}
	p := New(newRegistry(), disp, 0, 0)
	prov := store.Provider{ID: "p1", Protocol: protocol.Anthropic}

	out, err := p.HandleBlocking(context.Background(), protocol.OpenAI, prov, "claude-3-opus", "gpt-4",
		[]byte(`{"model":"gpt-4","messages":[]}`))
	require.NoError(t, err)
	assert.Equal(t, 429, out.StatusCode)
	assert.Contains(t, string(out.Body), "rate limited upstream")
	assert.Contains(t, string(out.Body), `"error"`)
}

func TestHandleBlocking_DispatcherErrorPropagates(t *testing.T) {
	disp := &fakeDispatcher{err: gwerror.New(gwerror.KindUpstreamNetwork, "failed to connect")}
	p := New(newRegistry(), disp, 0, 0)
	prov := store.Provider{ID: "p1", Protocol: protocol.OpenAI}

	_, err := p.HandleBlocking(context.Background(), protocol.OpenAI, prov, "gpt-4", "gpt-4", []byte(`{"model":"gpt-4","messages":[]}`))
	require.Error(t, err)
	gerr, ok := gwerror.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerror.KindUpstreamNetwork, gerr.Kind)
}

func TestHandleStreaming_BypassRewritesModelOnly(t *testing.T) {
	disp := &fakeDispatcher{
		streamBody: "data: {\"id\":\"1\",\"model\":\"gpt-4-0613\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"hi\"}}]}\n\ndata: [DONE]\n\n",
	}
	p := New(newRegistry(), disp, 0, 0)
	prov := store.Provider{ID: "p1", Protocol: protocol.OpenAI}

	var events [][]byte
	_, err := p.HandleStreaming(context.Background(), protocol.OpenAI, prov, "gpt-4-0613", "gpt-4",
		[]byte(`{"model":"gpt-4","messages":[],"stream":true}`), func(name string, data []byte) error {
			events = append(events, data)
			return nil
		})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Contains(t, string(events[0]), `"gpt-4"`)
	assert.NotContains(t, string(events[0]), "gpt-4-0613")
	assert.Equal(t, "[DONE]", string(events[1]))
}

func TestHandleStreaming_CrossProtocolAnthropicToOpenAI(t *testing.T) {
	upstream := strings.Join([]string{
		"event: message_start\ndata: " + `{"message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-3"}}`,
		"event: content_block_start\ndata: " + `{"index":0,"content_block":{"type":"text","text":""}}`,
		"event: content_block_delta\ndata: " + `{"index":0,"delta":{"type":"text_delta","text":"Hel"}}`,
		"event: content_block_delta\ndata: " + `{"index":0,"delta":{"type":"text_delta","text":"lo"}}`,
		"event: content_block_stop\ndata: " + `{"index":0}`,
		"event: message_delta\ndata: " + `{"delta":{"stop_reason":"end_turn"},"usage":{"input_tokens":3,"output_tokens":2}}`,
		"event: message_stop\ndata: " + `{}`,
	}, "\n\n") + "\n\n"

	disp := &fakeDispatcher{streamBody: upstream}
	p := New(newRegistry(), disp, 0, 0)
	prov := store.Provider{ID: "p1", Protocol: protocol.Anthropic}

	var buf bytes.Buffer
	var sawDone bool
	outcome, err := p.HandleStreaming(context.Background(), protocol.OpenAI, prov, "claude-3", "gpt-4",
		[]byte(`{"model":"gpt-4","messages":[],"stream":true}`), func(name string, data []byte) error {
			if string(data) == "[DONE]" {
				sawDone = true
				return nil
			}
			buf.Write(data)
			return nil
		})
	require.NoError(t, err)
	assert.True(t, sawDone)
	assert.Contains(t, buf.String(), "Hel")
	assert.Contains(t, buf.String(), "lo")
	assert.Contains(t, buf.String(), `"finish_reason":"stop"`)
	assert.Equal(t, 2, outcome.OutputTokens)
}
