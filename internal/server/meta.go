package server

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/howard-nolan/llmgateway/internal/gwerror"
	"github.com/howard-nolan/llmgateway/internal/protocol"
	"github.com/howard-nolan/llmgateway/internal/tokencount"
)

// handleCountTokens implements POST /v1/messages/count_tokens: the same
// tokencount.Counter selection logic the streaming path uses for output
// deltas, run instead against the request's own messages (§6's
// supplemented feature).
func (s *Server) handleCountTokens(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, protocol.Anthropic, gwerror.Wrap(gwerror.KindBadRequest, "failed to read request body", err))
		return
	}

	rawModel, _ := peekModelStream(body)
	model := stripProviderSuffix(rawModel, s.cfg.ProviderSuffix)

	if _, err := s.gate.Authenticate(r.Context(), r.Header.Get("Authorization"), r.Header.Get("x-api-key"), model); err != nil {
		s.writeErrorLogged(w, r, protocol.Anthropic, requestIDFromContext(r.Context()), err)
		return
	}

	anthropicT, ok := s.registry.Get(protocol.Anthropic)
	if !ok {
		s.writeError(w, protocol.Anthropic, gwerror.New(gwerror.KindInternal, "anthropic transformer not registered"))
		return
	}
	req, err := anthropicT.RequestToUnified(body)
	if err != nil {
		s.writeError(w, protocol.Anthropic, gwerror.Wrap(gwerror.KindBadRequest, "invalid request body", err))
		return
	}

	counter := tokencount.Select(model)
	total := counter.Count(req.System)
	for _, m := range req.Messages {
		for _, block := range m.Content {
			total += counter.Count(block.Text)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{"input_tokens": total})
}

// handleListModels implements GET /v1/models: the union of every enabled
// provider's exact model-map keys, OpenAI-shaped.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models := s.selector.AllModels()
	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}
	out := make([]modelEntry, 0, len(models))
	for _, m := range models {
		out = append(out, modelEntry{ID: m, Object: "model", OwnedBy: "llmgateway"})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": out})
}

// handleHealth is a liveness probe: the process is up and serving.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// providerHealth is one provider's probe result in the /health/detailed
// response.
type providerHealth struct {
	Provider  string `json:"provider"`
	Reachable bool   `json:"reachable"`
	Error     string `json:"error,omitempty"`
}

// handleHealthDetailed probes each enabled provider's base URL
// reachability, grounded on health_check_service.py's per-provider HTTP
// reachability sweep (§6's supplemented feature).
func (s *Server) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	snap := s.configStore.Current()

	client := &http.Client{Timeout: 5 * time.Second}
	results := make([]providerHealth, len(snap.Providers))

	var wg sync.WaitGroup
	for i, p := range snap.Providers {
		if !p.Enabled {
			results[i] = providerHealth{Provider: p.Name, Reachable: false, Error: "disabled"}
			continue
		}
		wg.Add(1)
		go func(i int, baseURL, name string) {
			defer wg.Done()
			results[i] = providerHealth{Provider: name}
			req, err := http.NewRequestWithContext(r.Context(), http.MethodHead, baseURL, nil)
			if err != nil {
				results[i].Error = err.Error()
				return
			}
			resp, err := client.Do(req)
			if err != nil {
				results[i].Error = err.Error()
				return
			}
			resp.Body.Close()
			results[i].Reachable = true
		}(i, p.BaseURL, p.Name)
	}
	wg.Wait()

	allReachable := true
	for _, res := range results {
		if !res.Reachable {
			allReachable = false
			break
		}
	}

	status := "ok"
	if !allReachable {
		status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":         status,
		"config_version": snap.Version,
		"providers":      results,
	})
}

// handleAdmin is a thin stub for the out-of-scope `/admin/v1/...` CRUD
// surface (§6): it enforces the static admin key and otherwise reports
// itself as unimplemented, rather than silently 404ing every admin call.
func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AdminKey == "" {
		http.Error(w, `{"error":"admin API disabled: ADMIN_KEY not configured"}`, http.StatusNotImplemented)
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+s.cfg.AdminKey {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	http.Error(w, `{"error":"admin CRUD is out of scope for this gateway"}`, http.StatusNotImplemented)
}
