package identity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	http "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/zach-fau/suno-api/api/schemas"
	"github.com/zach-fau/suno-api/internal/config"
)

var (
	// ErrSessionAcquisition means the provider did not return an active
	// session identifier, commonly because the refresh credential is
	// expired or invalid. Fatal; never retried automatically.
	ErrSessionAcquisition = errors.New("identity: session acquisition failed")
	// ErrNoActiveSession means token renewal was attempted before a
	// session was acquired. This is a programming error in the caller.
	ErrNoActiveSession = errors.New("identity: no active session")
)

// SessionManager owns the server-side session handle and the short-lived
// authorization token. Acquire runs once per identity; RenewToken runs
// before every outbound API call. The token is a capability, not a
// counter: concurrent renewals are allowed and the last write wins.
type SessionManager struct {
	cfg      config.IdentityConfig
	timeouts config.TimeoutConfig
	store    *CookieStore
	client   tls_client.HttpClient
	logger   *zap.Logger
	rng      *rand.Rand

	mu        sync.RWMutex
	sessionID string
	token     string
	issuedAt  time.Time
}

// NewSessionManager builds a manager around an existing cookie store. The
// HTTP client carries a browser TLS fingerprint since the provider sits
// behind an anti-bot edge.
func NewSessionManager(cfg config.IdentityConfig, timeouts config.TimeoutConfig, store *CookieStore, logger *zap.Logger) (*SessionManager, error) {
	client, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(),
		tls_client.WithTimeoutSeconds(30),
		tls_client.WithClientProfile(profiles.Chrome_133),
		tls_client.WithRandomTLSExtensionOrder(),
		tls_client.WithNotFollowRedirects(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build identity http client: %w", err)
	}
	return &SessionManager{
		cfg:      cfg,
		timeouts: timeouts,
		store:    store,
		client:   client,
		logger:   logger.Named("session_manager"),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Acquire exchanges the refresh credential for the active session id. The
// absence of an id in the response is fatal and surfaced to the caller.
func (m *SessionManager) Acquire(ctx context.Context) error {
	body, err := m.do(ctx, http.MethodGet, m.endpoint("/v1/client"))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionAcquisition, err)
	}

	sid := gjson.GetBytes(body, "response.last_active_session_id")
	if !sid.Exists() || sid.String() == "" {
		// Fall back to the first listed session before giving up.
		sid = gjson.GetBytes(body, "response.sessions.0.id")
	}
	if sid.String() == "" {
		return fmt.Errorf("%w: response carries no active session id (expired cookie?)", ErrSessionAcquisition)
	}

	m.mu.Lock()
	m.sessionID = sid.String()
	m.mu.Unlock()

	m.logger.Info("Session acquired", zap.String("session_id", sid.String()))
	return nil
}

// RenewToken fetches a fresh authorization token for the acquired session.
// With wait set it sleeps a bounded random interval afterwards, used to
// throttle call bursts when many API calls renew back to back.
func (m *SessionManager) RenewToken(ctx context.Context, wait bool) error {
	m.mu.RLock()
	sid := m.sessionID
	m.mu.RUnlock()
	if sid == "" {
		return ErrNoActiveSession
	}

	body, err := m.do(ctx, http.MethodPost, m.endpoint("/v1/client/sessions/"+sid+"/tokens"))
	if err != nil {
		return fmt.Errorf("token renewal failed: %w", err)
	}

	jwt := gjson.GetBytes(body, "jwt").String()
	if jwt == "" {
		return fmt.Errorf("token renewal response carries no jwt")
	}
	m.SetToken(jwt)

	if wait && m.timeouts.RenewWaitMax > 0 {
		d := time.Duration(m.rng.Int63n(int64(m.timeouts.RenewWaitMax)))
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Token returns the current authorization token. Empty until the first
// renewal or interception.
func (m *SessionManager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

// SetToken adopts a new authorization token. Written both by RenewToken and
// by the challenge interceptor when it captures a fresher bearer; the last
// writer wins.
func (m *SessionManager) SetToken(token string) {
	m.mu.Lock()
	m.token = token
	m.issuedAt = time.Now()
	m.mu.Unlock()
}

// Session returns a snapshot of the current handle.
func (m *SessionManager) Session() schemas.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return schemas.Session{
		SessionID:          m.sessionID,
		AuthorizationToken: m.token,
		IssuedAt:           m.issuedAt,
	}
}

// Store exposes the underlying cookie store.
func (m *SessionManager) Store() *CookieStore { return m.store }

func (m *SessionManager) endpoint(path string) string {
	return m.cfg.BaseURL + path + "?_clerk_js_version=" + m.cfg.ClientVersion
}

// do performs a provider API call authorized with the raw refresh
// credential and folds any Set-Cookie headers back into the store.
func (m *SessionManager) do(ctx context.Context, method, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", m.store.RefreshCredential())
	req.Header.Set("Cookie", m.store.Header())
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if sc := resp.Header.Values("Set-Cookie"); len(sc) > 0 {
		m.store.MergeSetCookies(sc)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}
	return body, nil
}
