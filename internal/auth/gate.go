// Package auth implements the Credential Gate (§4.2) and its Rate Limiter
// sub-component (§4.2.1).
package auth

import (
	"context"
	"strings"

	"github.com/howard-nolan/llmgateway/internal/gwerror"
	"github.com/howard-nolan/llmgateway/internal/store"
)

// Identity is what the Credential Gate returns on success: either a real
// credential, or the anonymous sentinel used in open/bootstrap mode.
type Identity struct {
	Anonymous bool
	Credential store.Credential
}

// Name returns the identity's human-readable name for logging/metrics,
// collapsing to "anonymous" per the Observability Tap's bounded-cardinality
// rule (§4.8).
func (id Identity) Name() string {
	if id.Anonymous {
		return "anonymous"
	}
	return id.Credential.Name
}

// Gate is the Credential Gate: authenticates a caller against the current
// snapshot and enforces rate limits and model allow-lists.
type Gate struct {
	configStore *store.ConfigStore
	limiter     *Limiter
}

// New constructs a Gate backed by configStore, using limiter for the rate
// limit check of §4.2 step 4.
func New(configStore *store.ConfigStore, limiter *Limiter) *Gate {
	return &Gate{configStore: configStore, limiter: limiter}
}

// extractBearer implements §4.2 step 2: Authorization: Bearer <key>, or a
// bare x-api-key value.
func extractBearer(authHeader, apiKeyHeader string) (string, bool) {
	if apiKeyHeader != "" {
		return apiKeyHeader, true
	}
	const prefix = "Bearer "
	if strings.HasPrefix(authHeader, prefix) {
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
		if token != "" {
			return token, true
		}
	}
	return "", false
}

// Authenticate runs §4.2's full algorithm: open-mode bootstrap, bearer
// extraction, hash lookup, rate limit, and (if model is non-empty) the
// allowed-models check.
func (g *Gate) Authenticate(ctx context.Context, authHeader, apiKeyHeader, model string) (Identity, error) {
	snap := g.configStore.Current()

	// Step 1: zero credentials configured means open bootstrap mode.
	if len(snap.Credentials) == 0 {
		return Identity{Anonymous: true}, nil
	}

	// Step 2: extract bearer token.
	raw, ok := extractBearer(authHeader, apiKeyHeader)
	if !ok {
		return Identity{}, gwerror.New(gwerror.KindUnauthorized, "missing or invalid authorization header")
	}

	// Step 3: hash lookup, enabled check.
	hash := store.HashKey(raw)
	cred, found := snap.CredentialByHash(hash)
	if !found {
		return Identity{}, gwerror.New(gwerror.KindUnauthorized, "invalid credential")
	}
	if !cred.Enabled {
		return Identity{}, gwerror.New(gwerror.KindUnauthorized, "credential is disabled")
	}

	// Step 4: rate limit, only if configured for this credential.
	if cred.RateLimit != nil && g.limiter != nil {
		if !g.limiter.Allow(cred.ID, *cred.RateLimit) {
			return Identity{}, gwerror.New(gwerror.KindRateLimited, "rate limit exceeded for this credential")
		}
	}

	// Step 5: model allow-list, only if a model was supplied.
	if model != "" && !cred.AllowsModel(model) {
		return Identity{}, gwerror.New(gwerror.KindForbidden, "model not permitted for this credential")
	}

	return Identity{Credential: cred}, nil
}
