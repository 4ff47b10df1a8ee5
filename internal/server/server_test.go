package server

import (
	"context"

	"github.com/howard-nolan/llmgateway/internal/config"
	"github.com/howard-nolan/llmgateway/internal/protocol"
	"github.com/howard-nolan/llmgateway/internal/protocol/anthropic"
	"github.com/howard-nolan/llmgateway/internal/protocol/openai"
	"github.com/howard-nolan/llmgateway/internal/store"
)

// fakeStore is a minimal store.Store backing a ConfigStore reload with a
// fixed set of providers/credentials, grounded on pipeline_test.go's
// fakeDispatcher pattern of satisfying a narrow interface with an in-memory
// fixture instead of a real backing service.
type fakeStore struct {
	providers   []store.RawProvider
	credentials []store.RawCredential
	version     int64
}

func (f *fakeStore) LoadEnabledProviders(ctx context.Context) ([]store.RawProvider, error) {
	return f.providers, nil
}

func (f *fakeStore) LoadEnabledCredentials(ctx context.Context) ([]store.RawCredential, error) {
	return f.credentials, nil
}

func (f *fakeStore) GetConfigVersion(ctx context.Context) (int64, error) {
	return f.version, nil
}

func newRegistry() *protocol.Registry {
	r := protocol.NewRegistry()
	r.Register(protocol.OpenAI, openai.New())
	r.Register(protocol.Anthropic, anthropic.New())
	r.Register(protocol.GCPVertexAnthropic, &anthropic.Transformer{AnthropicVersion: "2023-06-01", ForVertex: true})
	return r
}

func newTestConfig() *config.Config {
	return &config.Config{ProviderSuffix: ""}
}
