// Package upstream implements the Upstream Dispatcher (§4.7): it builds the
// provider-protocol-specific URL and headers, makes the blocking or
// streaming HTTP call over a shared connection pool, classifies failures
// into the gateway's error taxonomy, and reports outcomes back to the
// Provider Selector for its feedback-driven routing.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2/google"

	"github.com/howard-nolan/llmgateway/internal/gwerror"
	"github.com/howard-nolan/llmgateway/internal/pipeline"
	"github.com/howard-nolan/llmgateway/internal/store"
)

// vertexScope is the OAuth2 scope requested for GCP-Vertex service account
// tokens, matching Google's published Vertex AI client scope.
const vertexScope = "https://www.googleapis.com/auth/cloud-platform"

// reporter is the Provider Selector's feedback surface, defined here
// (consumer side) so this package does not need to import internal/selector
// just to accept it — any type satisfying this interface works.
type reporter interface {
	ReportHTTPStatus(providerID string, status int, retryAfterSecs int)
	ReportTransportError(providerID string)
}

// Dispatcher implements pipeline.Dispatcher.
type Dispatcher struct {
	client   *http.Client
	selector reporter

	// tokenSources holds the GCP credentials that supply bearer tokens for
	// gcp-vertex-anthropic providers, built from each provider's
	// service-account JSON (its APIKey). Resolved lazily per-provider and
	// cached by provider ID, since each provider's service account may
	// differ.
	tokenSources map[string]google.Credentials
}

// New constructs a Dispatcher. client should be a shared *http.Client tuned
// per §5 (MaxIdleConns: 100, MaxIdleConnsPerHost: 20, IdleConnTimeout: 30s),
// constructed once at the composition root.
func New(client *http.Client, selector reporter) *Dispatcher {
	return &Dispatcher{client: client, selector: selector, tokenSources: make(map[string]google.Credentials)}
}

var _ pipeline.Dispatcher = (*Dispatcher)(nil)

// Dispatch builds and sends one upstream call, then reports the outcome to
// the Provider Selector before returning.
func (d *Dispatcher) Dispatch(ctx context.Context, req pipeline.DispatchRequest) (*pipeline.DispatchResult, error) {
	targetURL, err := buildURL(req.Provider, req.Model, req.Stream)
	if err != nil {
		return nil, gwerror.Wrap(gwerror.KindBadRequest, "failed to build upstream URL", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, gwerror.Wrap(gwerror.KindInternal, "failed to build upstream request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if err := d.setAuth(ctx, httpReq, req.Provider); err != nil {
		return nil, gwerror.Wrap(gwerror.KindInternal, "failed to obtain upstream credentials", err)
	}

	httpResp, err := d.client.Do(httpReq)
	if err != nil {
		d.selector.ReportTransportError(req.Provider.ID)
		return nil, classifyTransportError(err)
	}

	retryAfter := parseRetryAfter(httpResp.Header.Get("Retry-After"))
	d.selector.ReportHTTPStatus(req.Provider.ID, httpResp.StatusCode, retryAfter)

	if req.Stream {
		return &pipeline.DispatchResult{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Stream: httpResp.Body}, nil
	}

	defer httpResp.Body.Close()
	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, gwerror.Wrap(gwerror.KindUpstreamNetwork, "failed to read upstream response", err)
	}
	return &pipeline.DispatchResult{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: body}, nil
}

// buildURL constructs the provider-protocol-specific upstream URL. For
// GCP-Vertex, each path segment is validated against traversal sequences
// and path separators per §4.7, since project/location/publisher/model are
// caller-influenced values folded directly into a URL path.
func buildURL(p store.Provider, model string, stream bool) (string, error) {
	base := strings.TrimRight(p.BaseURL, "/")

	switch p.Protocol {
	case store.ProtocolOpenAI:
		return base + "/chat/completions", nil
	case store.ProtocolAnthropic:
		return base + "/messages", nil
	case store.ProtocolResponseAPI:
		return base + "/responses", nil
	case store.ProtocolGCPVertexAnthropic:
		for _, seg := range []string{p.Vertex.Project, p.Vertex.Location, p.Vertex.Publisher, model} {
			if err := validatePathSegment(seg); err != nil {
				return "", err
			}
		}
		action := "rawPredict"
		if stream {
			action = "streamRawPredict"
		}
		return fmt.Sprintf("%s/projects/%s/locations/%s/publishers/%s/models/%s:%s",
			base, p.Vertex.Project, p.Vertex.Location, p.Vertex.Publisher, model, action), nil
	default:
		return "", fmt.Errorf("unsupported provider protocol %q", p.Protocol)
	}
}

// validatePathSegment rejects empty segments, path separators, and
// traversal sequences so a malicious or misconfigured model/project name
// cannot escape the intended URL path shape.
func validatePathSegment(seg string) error {
	if seg == "" {
		return errors.New("empty path segment")
	}
	if strings.ContainsAny(seg, "/\\") {
		return fmt.Errorf("path segment %q contains a path separator", seg)
	}
	if strings.Contains(seg, "..") {
		return fmt.Errorf("path segment %q contains a traversal sequence", seg)
	}
	if seg != url.PathEscape(seg) {
		return fmt.Errorf("path segment %q contains characters requiring escaping", seg)
	}
	return nil
}

// setAuth builds the Authorization/x-api-key headers per §4.7:
// Authorization: Bearer <key> for OpenAI/GCP-Vertex; x-api-key +
// anthropic-version for Anthropic.
func (d *Dispatcher) setAuth(ctx context.Context, httpReq *http.Request, p store.Provider) error {
	switch p.Protocol {
	case store.ProtocolOpenAI, store.ProtocolResponseAPI:
		httpReq.Header.Set("Authorization", "Bearer "+p.APIKey)
	case store.ProtocolAnthropic:
		httpReq.Header.Set("x-api-key", p.APIKey)
		httpReq.Header.Set("anthropic-version", p.AnthropicVersion)
	case store.ProtocolGCPVertexAnthropic:
		token, err := d.vertexToken(ctx, p)
		if err != nil {
			return err
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
		httpReq.Header.Set("anthropic-version", p.AnthropicVersion)
	default:
		return fmt.Errorf("unsupported provider protocol %q", p.Protocol)
	}
	return nil
}

// vertexToken obtains a fresh GCP access token for the provider's service
// account via google.CredentialsFromJSON on the provider's APIKey, not
// via Application Default Credentials. APIKey, for Vertex
// providers, holds the service account JSON credentials blob rather than a
// static key — Vertex has no static bearer token of its own.
func (d *Dispatcher) vertexToken(ctx context.Context, p store.Provider) (string, error) {
	creds, ok := d.tokenSources[p.ID]
	if !ok {
		c, err := google.CredentialsFromJSON(ctx, []byte(p.APIKey), vertexScope)
		if err != nil {
			return "", fmt.Errorf("loading GCP credentials for provider %s: %w", p.ID, err)
		}
		creds = *c
		d.tokenSources[p.ID] = creds
	}
	token, err := creds.TokenSource.Token()
	if err != nil {
		return "", fmt.Errorf("refreshing GCP access token for provider %s: %w", p.ID, err)
	}
	return token.AccessToken, nil
}

// classifyTransportError maps an http.Client.Do error into the §4.7 failure
// taxonomy: timeout → 504/timeout_error, connection refused/reset/DNS →
// 502/api_error "failed to connect", anything else → 502/api_error.
func classifyTransportError(err error) error {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return gwerror.Wrap(gwerror.KindUpstreamTimeout, "upstream request timed out", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return gwerror.Wrap(gwerror.KindUpstreamTimeout, "upstream request timed out", err)
	}
	if isConnectError(err) {
		return gwerror.Wrap(gwerror.KindUpstreamNetwork, "failed to connect", err)
	}
	return gwerror.Wrap(gwerror.KindUpstreamNetwork, "upstream transport error", err)
}

func isConnectError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "network is unreachable")
}

func parseRetryAfter(header string) int {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil {
		return 0
	}
	return secs
}
