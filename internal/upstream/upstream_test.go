package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howard-nolan/llmgateway/internal/gwerror"
	"github.com/howard-nolan/llmgateway/internal/pipeline"
	"github.com/howard-nolan/llmgateway/internal/store"
)

type fakeReporter struct {
	statuses   []int
	retryAfter []int
	transport  int
}

func (f *fakeReporter) ReportHTTPStatus(providerID string, status int, retryAfterSecs int) {
	f.statuses = append(f.statuses, status)
	f.retryAfter = append(f.retryAfter, retryAfterSecs)
}

func (f *fakeReporter) ReportTransportError(providerID string) {
	f.transport++
}

func TestDispatch_OpenAIBlockingSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"1"}`))
	}))
	defer srv.Close()

	rep := &fakeReporter{}
	d := New(http.DefaultClient, rep)
	prov := store.Provider{ID: "p1", Protocol: store.ProtocolOpenAI, BaseURL: srv.URL, APIKey: "sk-test"}

	result, err := d.Dispatch(context.Background(), pipeline.DispatchRequest{Provider: prov, Model: "gpt-4", Body: []byte(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, 200, result.StatusCode)
	assert.Contains(t, string(result.Body), `"id":"1"`)
	assert.Equal(t, []int{200}, rep.statuses)
}

func TestDispatch_AnthropicHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	d := New(http.DefaultClient, &fakeReporter{})
	prov := store.Provider{ID: "p1", Protocol: store.ProtocolAnthropic, BaseURL: srv.URL, APIKey: "test-key", AnthropicVersion: "2023-06-01"}

	_, err := d.Dispatch(context.Background(), pipeline.DispatchRequest{Provider: prov, Model: "claude-3", Body: []byte(`{}`)})
	require.NoError(t, err)
}

func TestDispatch_VertexURLAndTraversalRejected(t *testing.T) {
	prov := store.Provider{
		ID: "p1", Protocol: store.ProtocolGCPVertexAnthropic, BaseURL: "https://example.com",
		Vertex: store.VertexParams{Project: "../etc", Location: "us-east1", Publisher: "anthropic"},
	}
	_, err := buildURL(prov, "claude-3", false)
	require.Error(t, err)
}

func TestDispatch_VertexURLShape(t *testing.T) {
	prov := store.Provider{
		ID: "p1", Protocol: store.ProtocolGCPVertexAnthropic, BaseURL: "https://example.com",
		Vertex: store.VertexParams{Project: "proj1", Location: "us-east1", Publisher: "anthropic"},
	}
	u, err := buildURL(prov, "claude-3-opus", true)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/projects/proj1/locations/us-east1/publishers/anthropic/models/claude-3-opus:streamRawPredict", u)

	u, err = buildURL(prov, "claude-3-opus", false)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/projects/proj1/locations/us-east1/publishers/anthropic/models/claude-3-opus:rawPredict", u)
}

func TestDispatch_UpstreamErrorStatusReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	rep := &fakeReporter{}
	d := New(http.DefaultClient, rep)
	prov := store.Provider{ID: "p1", Protocol: store.ProtocolOpenAI, BaseURL: srv.URL, APIKey: "k"}

	result, err := d.Dispatch(context.Background(), pipeline.DispatchRequest{Provider: prov, Model: "gpt-4", Body: []byte(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, 429, result.StatusCode)
	assert.Equal(t, []int{429}, rep.statuses)
	assert.Equal(t, []int{30}, rep.retryAfter)
}

func TestDispatch_ConnectErrorClassifiedAndReported(t *testing.T) {
	rep := &fakeReporter{}
	d := New(http.DefaultClient, rep)
	prov := store.Provider{ID: "p1", Protocol: store.ProtocolOpenAI, BaseURL: "http://127.0.0.1:1", APIKey: "k"}

	_, err := d.Dispatch(context.Background(), pipeline.DispatchRequest{Provider: prov, Model: "gpt-4", Body: []byte(`{}`)})
	require.Error(t, err)
	gerr, ok := gwerror.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerror.KindUpstreamNetwork, gerr.Kind)
	assert.Equal(t, 1, rep.transport)
}

func TestDispatch_StreamingReturnsLiveBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("data: {\"x\":1}\n\n"))
	}))
	defer srv.Close()

	d := New(http.DefaultClient, &fakeReporter{})
	prov := store.Provider{ID: "p1", Protocol: store.ProtocolOpenAI, BaseURL: srv.URL, APIKey: "k"}

	result, err := d.Dispatch(context.Background(), pipeline.DispatchRequest{Provider: prov, Model: "gpt-4", Body: []byte(`{}`), Stream: true})
	require.NoError(t, err)
	require.NotNil(t, result.Stream)
	defer result.Stream.Close()
	data, err := io.ReadAll(result.Stream)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"x":1`)
}
