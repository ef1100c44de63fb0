package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zach-fau/suno-api/internal/config"
)

func newTestRegistry(t *testing.T, ttl time.Duration) *Registry {
	t.Helper()
	r := NewRegistry(config.IdentityConfig{
		BaseURL:       "http://unused.invalid",
		ClientVersion: "5.43.2",
		SessionTTL:    ttl,
	}, config.TimeoutConfig{}, zap.NewNop())
	t.Cleanup(r.Close)
	return r
}

func TestRegistryLookup(t *testing.T) {
	r := newTestRegistry(t, time.Hour)

	h1, err := r.Lookup("__client=tok-a; __client_uat=0")
	require.NoError(t, err)
	require.NotNil(t, h1)
	assert.Equal(t, "tok-a", h1.Store.RefreshCredential())

	// Same raw cookie resolves to the same handle.
	h2, err := r.Lookup("__client=tok-a; __client_uat=0")
	require.NoError(t, err)
	assert.Same(t, h1, h2)
	assert.Equal(t, 1, r.Len())

	// A different identity gets its own handle.
	h3, err := r.Lookup("__client=tok-b; __client_uat=0")
	require.NoError(t, err)
	assert.NotSame(t, h1, h3)
	assert.Equal(t, 2, r.Len())
}

func TestRegistryEvictsIdleHandles(t *testing.T) {
	r := newTestRegistry(t, time.Hour)

	_, err := r.Lookup("__client=stale")
	require.NoError(t, err)
	fresh, err := r.Lookup("__client=fresh")
	require.NoError(t, err)
	require.Equal(t, 2, r.Len())

	// Backdate the stale entry past the TTL and sweep.
	r.mu.Lock()
	r.entries[hashKey("__client=stale")].lastUsed = time.Now().Add(-2 * time.Hour)
	r.mu.Unlock()
	r.evictIdle(time.Hour)

	assert.Equal(t, 1, r.Len())
	again, err := r.Lookup("__client=fresh")
	require.NoError(t, err)
	assert.Same(t, fresh, again, "the fresh handle survives the sweep")
}

func TestRegistryCloseIdempotent(t *testing.T) {
	r := newTestRegistry(t, time.Hour)
	r.Close()
	r.Close()
}
