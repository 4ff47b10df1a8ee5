// Package server wires the Config Store, Credential Gate, Provider
// Selector, Protocol Registry, Transform Pipeline, and Observability Tap
// into the gateway's HTTP surface (§6).
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/howard-nolan/llmgateway/internal/auth"
	"github.com/howard-nolan/llmgateway/internal/config"
	"github.com/howard-nolan/llmgateway/internal/observability"
	"github.com/howard-nolan/llmgateway/internal/pipeline"
	"github.com/howard-nolan/llmgateway/internal/protocol"
	"github.com/howard-nolan/llmgateway/internal/reqlog"
	"github.com/howard-nolan/llmgateway/internal/selector"
	"github.com/howard-nolan/llmgateway/internal/store"
)

// Server holds every dependency a handler needs and exposes the chi
// router as an http.Handler, the same shape as the teacher's Server.
type Server struct {
	router chi.Router

	cfg         *config.Config
	configStore *store.ConfigStore
	gate        *auth.Gate
	selector    *selector.Selector
	registry    *protocol.Registry
	pipeline    *pipeline.Pipeline
	tap         observability.Tap
	reqlogSink  *reqlog.Sink // nil when JSONL logging is disabled
	logger      *zap.Logger
	metrics     http.Handler // nil when no metrics endpoint is wired
}

// Deps bundles the constructor arguments so New doesn't take a dozen
// positional parameters.
type Deps struct {
	Config      *config.Config
	ConfigStore *store.ConfigStore
	Gate        *auth.Gate
	Selector    *selector.Selector
	Registry    *protocol.Registry
	Pipeline    *pipeline.Pipeline
	Tap         observability.Tap
	ReqLog      *reqlog.Sink
	Logger      *zap.Logger
	Metrics     http.Handler
}

// New constructs a Server, wires up routes and middleware, and returns it
// ready to use as an http.Handler.
func New(d Deps) *Server {
	tap := d.Tap
	if tap == nil {
		tap = observability.Noop{}
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:         d.Config,
		configStore: d.ConfigStore,
		gate:        d.Gate,
		selector:    d.Selector,
		registry:    d.Registry,
		pipeline:    d.Pipeline,
		tap:         tap,
		reqlogSink:  d.ReqLog,
		logger:      logger,
		metrics:     d.Metrics,
	}
	s.routes()
	return s
}

// routes builds the chi router with middleware and the full §6 route
// table, generalized from the teacher's two hardcoded routes.
func (s *Server) routes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(zapLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Post("/v1/chat/completions", s.handleLLM(protocol.OpenAI))
	r.Post("/v1/completions", s.handleLLM(protocol.OpenAI))
	r.Post("/v1/messages", s.handleLLM(protocol.Anthropic))
	r.Post("/v1/messages/count_tokens", s.handleCountTokens)
	r.Post("/v1/responses", s.handleLLM(protocol.ResponseAPI))
	r.Post("/models/gcp-vertex/v1/projects/{project}/locations/{location}/publishers/{publisher}/models/{modelAction}", s.handleVertex)

	r.Get("/v1/models", s.handleListModels)
	r.Get("/health", s.handleHealth)
	r.Get("/health/detailed", s.handleHealthDetailed)

	if s.metrics != nil {
		r.Get("/metrics", s.metrics.ServeHTTP)
	}

	r.Handle("/admin/v1/*", http.HandlerFunc(s.handleAdmin))

	s.router = r
}

// ServeHTTP makes Server satisfy http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
