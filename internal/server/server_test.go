package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zach-fau/suno-api/internal/config"
	"github.com/zach-fau/suno-api/internal/identity"
)

// newTestServer stands up the HTTP surface against a fake upstream serving
// both the identity provider and the application API.
func newTestServer(t *testing.T, apiHandler http.HandlerFunc) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/client", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":{"last_active_session_id":"sess_1"}}`))
	})
	mux.HandleFunc("/v1/client/sessions/sess_1/tokens", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jwt":"renewed.jwt"}`))
	})
	mux.HandleFunc("/", apiHandler)
	upstream := httptest.NewServer(mux)
	t.Cleanup(upstream.Close)

	cfg := config.Defaults()
	cfg.Identity.Cookie = "__client=tok; __client_uat_x=1766669345"
	cfg.Identity.BaseURL = upstream.URL
	cfg.Suno.BaseURL = upstream.URL

	registry := identity.NewRegistry(cfg.Identity, cfg.Timeouts, zap.NewNop())
	t.Cleanup(registry.Close)

	srv := New(cfg, registry, nil, zap.NewNop())
	api := httptest.NewServer(srv.http.Handler)
	t.Cleanup(api.Close)
	return api
}

func TestHandleFeed(t *testing.T) {
	api := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/feed/v2", r.URL.Path)
		w.Write([]byte(`{"clips":[{"id":"c1","title":"One"}]}`))
	})

	resp, err := http.Get(api.URL + "/api/get?page=0")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var clips []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&clips))
	require.Len(t, clips, 1)
	assert.Equal(t, "c1", clips[0]["id"])
}

func TestHandleFeedByIDs(t *testing.T) {
	api := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "c1,c2", r.URL.Query().Get("ids"))
		w.Write([]byte(`{"clips":[{"id":"c1"},{"id":"c2"}]}`))
	})

	resp, err := http.Get(api.URL + "/api/get?ids=c1,c2")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var clips []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&clips))
	assert.Len(t, clips, 2)
}

func TestHandleCredits(t *testing.T) {
	api := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/billing/info/", r.URL.Path)
		w.Write([]byte(`{"total_credits_left":17}`))
	})

	resp, err := http.Get(api.URL + "/api/get_limit")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]int64
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, int64(17), out["credits_left"])
}

func TestHandleGenerateValidation(t *testing.T) {
	api := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be reached on invalid input")
	})

	t.Run("invalid JSON", func(t *testing.T) {
		resp, err := http.Post(api.URL+"/api/generate", "application/json", strings.NewReader("{not json"))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("missing prompt", func(t *testing.T) {
		resp, err := http.Post(api.URL+"/api/generate", "application/json", strings.NewReader("{}"))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var out map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		assert.Contains(t, out["error"], "prompt")
	})
}

func TestUpstreamFailureMapsToServerError(t *testing.T) {
	api := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	resp, err := http.Get(api.URL + "/api/get_limit")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestInvalidCredentialMapsToUnauthorized(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/client", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":{"sessions":[]}}`))
	})
	upstream := httptest.NewServer(mux)
	defer upstream.Close()

	cfg := config.Defaults()
	cfg.Identity.Cookie = "__client=expired"
	cfg.Identity.BaseURL = upstream.URL

	registry := identity.NewRegistry(cfg.Identity, cfg.Timeouts, zap.NewNop())
	defer registry.Close()

	srv := New(cfg, registry, nil, zap.NewNop())
	api := httptest.NewServer(srv.http.Handler)
	defer api.Close()

	resp, err := http.Get(api.URL + "/api/get_limit")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
