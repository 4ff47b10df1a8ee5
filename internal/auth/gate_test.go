package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howard-nolan/llmgateway/internal/gwerror"
	"github.com/howard-nolan/llmgateway/internal/store"
)

func setupSnapshot(t *testing.T, creds []store.RawCredential) *store.ConfigStore {
	t.Helper()
	mem := store.NewMemStore()
	mem.SetCredentials(creds)
	cs := store.New(mem)
	_, err := cs.Reload(context.Background())
	require.NoError(t, err)
	return cs
}

func TestGate_OpenModeWhenNoCredentials(t *testing.T) {
	cs := store.New(store.NewMemStore())
	g := New(cs, NewLimiter(NewMemRateStore(), nil, 0))

	id, err := g.Authenticate(context.Background(), "", "", "gpt-4")
	require.NoError(t, err)
	assert.True(t, id.Anonymous)
}

func TestGate_RejectsMissingAuth(t *testing.T) {
	cs := setupSnapshot(t, []store.RawCredential{
		{ID: "k1", Name: "k1", KeyHash: store.HashKey("secret"), Enabled: true},
	})
	g := New(cs, NewLimiter(NewMemRateStore(), nil, 0))

	_, err := g.Authenticate(context.Background(), "", "", "")
	gwErr, ok := gwerror.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerror.KindUnauthorized, gwErr.Kind)
}

func TestGate_AcceptsValidBearer(t *testing.T) {
	cs := setupSnapshot(t, []store.RawCredential{
		{ID: "k1", Name: "k1", KeyHash: store.HashKey("secret"), Enabled: true},
	})
	g := New(cs, NewLimiter(NewMemRateStore(), nil, 0))

	id, err := g.Authenticate(context.Background(), "Bearer secret", "", "")
	require.NoError(t, err)
	assert.False(t, id.Anonymous)
	assert.Equal(t, "k1", id.Credential.ID)
}

func TestGate_RejectsDisabledCredential(t *testing.T) {
	cs := setupSnapshot(t, []store.RawCredential{
		{ID: "k1", Name: "k1", KeyHash: store.HashKey("secret"), Enabled: false},
		// Reload loads enabled credentials only; this one keeps the
		// snapshot non-empty so the gate is not in open mode.
		{ID: "k2", Name: "k2", KeyHash: store.HashKey("other"), Enabled: true},
	})
	mem := store.NewMemStore()
	mem.SetCredentials([]store.RawCredential{{ID: "k1", KeyHash: store.HashKey("secret"), Enabled: false}})
	g := New(cs, NewLimiter(NewMemRateStore(), nil, 0))

	_, err := g.Authenticate(context.Background(), "Bearer secret", "", "")
	gwErr, ok := gwerror.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerror.KindUnauthorized, gwErr.Kind)
}

func TestGate_RejectsForbiddenModel(t *testing.T) {
	cs := setupSnapshot(t, []store.RawCredential{
		{ID: "k1", Name: "k1", KeyHash: store.HashKey("secret"), Enabled: true, AllowedModels: []string{"claude-*"}},
	})
	g := New(cs, NewLimiter(NewMemRateStore(), nil, 0))

	_, err := g.Authenticate(context.Background(), "Bearer secret", "", "gpt-4")
	gwErr, ok := gwerror.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerror.KindForbidden, gwErr.Kind)
}

func TestGate_RateLimitExceeded(t *testing.T) {
	cs := setupSnapshot(t, []store.RawCredential{
		{ID: "k1", Name: "k1", KeyHash: store.HashKey("secret"), Enabled: true, RequestsPerSecond: 2, BurstSize: 2},
	})
	g := New(cs, NewLimiter(NewMemRateStore(), nil, 0))

	_, err := g.Authenticate(context.Background(), "Bearer secret", "", "")
	require.NoError(t, err)
	_, err = g.Authenticate(context.Background(), "Bearer secret", "", "")
	require.NoError(t, err)
	_, err = g.Authenticate(context.Background(), "Bearer secret", "", "")
	gwErr, ok := gwerror.As(err)
	require.True(t, ok, "third request within the same second should be rate limited")
	assert.Equal(t, gwerror.KindRateLimited, gwErr.Kind)
}

func TestGate_XAPIKeyHeaderAccepted(t *testing.T) {
	cs := setupSnapshot(t, []store.RawCredential{
		{ID: "k1", Name: "k1", KeyHash: store.HashKey("secret"), Enabled: true},
	})
	g := New(cs, NewLimiter(NewMemRateStore(), nil, 0))

	id, err := g.Authenticate(context.Background(), "", "secret", "")
	require.NoError(t, err)
	assert.Equal(t, "k1", id.Credential.ID)
}
