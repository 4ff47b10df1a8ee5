// Package main is the composition root for the LLM gateway: it loads
// config, wires every component of §4 together, and serves HTTP until
// told to stop.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/howard-nolan/llmgateway/internal/auth"
	"github.com/howard-nolan/llmgateway/internal/config"
	"github.com/howard-nolan/llmgateway/internal/observability"
	"github.com/howard-nolan/llmgateway/internal/pipeline"
	"github.com/howard-nolan/llmgateway/internal/protocol"
	"github.com/howard-nolan/llmgateway/internal/protocol/anthropic"
	"github.com/howard-nolan/llmgateway/internal/protocol/openai"
	"github.com/howard-nolan/llmgateway/internal/protocol/responseapi"
	"github.com/howard-nolan/llmgateway/internal/reqlog"
	"github.com/howard-nolan/llmgateway/internal/selector"
	"github.com/howard-nolan/llmgateway/internal/server"
	"github.com/howard-nolan/llmgateway/internal/store"
	"github.com/howard-nolan/llmgateway/internal/upstream"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("gateway exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	cfg, err := config.Load(os.Getenv("GATEWAY_CONFIG"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backing, err := store.NewPostgresStore(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("connect config store: %w", err)
	}
	defer backing.Close()

	configStore := store.New(backing)
	if _, err := configStore.Reload(ctx); err != nil {
		return fmt.Errorf("initial config reload: %w", err)
	}
	logger.Info("config loaded", zap.Int64("version", configStore.Version()))

	rateStore := auth.NewMemRateStore()
	limiter := auth.NewLimiter(rateStore, configStore, 5*time.Minute)
	gate := auth.New(configStore, limiter)
	sel := selector.New(configStore)

	registry := protocol.NewRegistry()
	registry.Register(protocol.OpenAI, openai.New())
	registry.Register(protocol.Anthropic, anthropic.New())
	registry.Register(protocol.GCPVertexAnthropic, &anthropic.Transformer{
		AnthropicVersion: "2023-06-01",
		ForVertex:        true,
	})
	registry.Register(protocol.ResponseAPI, responseapi.New())

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     30 * time.Second,
	}
	if !cfg.VerifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in via VERIFY_SSL=false
	}
	httpClient := &http.Client{Transport: transport, Timeout: cfg.RequestTimeout()}
	dispatcher := upstream.New(httpClient, sel)

	pl := pipeline.New(registry, dispatcher, 0, 0)

	promReg := prometheus.NewRegistry()
	tap := observability.NewTraced(observability.NewPrometheus(promReg))

	var sink *reqlog.Sink
	if cfg.JSONLLogEnabled {
		sink, err = reqlog.New(reqlog.Config{
			Path:        cfg.JSONLLogPath,
			BufferSize:  cfg.JSONLLogBufferSize,
			BodyEnabled: cfg.RequestLogBodyEnabled,
		}, logger)
		if err != nil {
			return fmt.Errorf("open request log sink: %w", err)
		}
		defer sink.Shutdown()
	}

	srv := server.New(server.Deps{
		Config:      cfg,
		ConfigStore: configStore,
		Gate:        gate,
		Selector:    sel,
		Registry:    registry,
		Pipeline:    pl,
		Tap:         tap,
		ReqLog:      sink,
		Logger:      logger,
		Metrics:     promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}),
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      srv,
		ReadTimeout:  cfg.RequestTimeout(),
		WriteTimeout: cfg.RequestTimeout(),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}
