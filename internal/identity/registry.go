package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zach-fau/suno-api/internal/config"
)

// Handle bundles the per-identity state the rest of the system works with.
type Handle struct {
	Store    *CookieStore
	Sessions *SessionManager

	lastUsed time.Time
}

// Registry maps a raw cookie identity to its session handle, creating on
// miss. Idle entries are evicted after the configured TTL so the process
// does not accumulate one browser-sized session per credential forever.
type Registry struct {
	cfg      config.IdentityConfig
	timeouts config.TimeoutConfig
	logger   *zap.Logger

	mu      sync.Mutex
	entries map[string]*Handle

	stopOnce sync.Once
	stop     chan struct{}
}

// NewRegistry creates the registry and starts its eviction sweeper.
func NewRegistry(cfg config.IdentityConfig, timeouts config.TimeoutConfig, logger *zap.Logger) *Registry {
	r := &Registry{
		cfg:      cfg,
		timeouts: timeouts,
		logger:   logger.Named("identity_registry"),
		entries:  make(map[string]*Handle),
		stop:     make(chan struct{}),
	}
	go r.sweep()
	return r
}

// Lookup returns the handle for the raw cookie string, creating one on
// miss. The raw string is hashed before use as a map key so it never sits
// in memory more often than necessary and never appears in logs.
func (r *Registry) Lookup(rawCookie string) (*Handle, error) {
	key := hashKey(rawCookie)

	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.entries[key]; ok {
		h.lastUsed = time.Now()
		return h, nil
	}

	store := ParseCookieStore(rawCookie)
	mgr, err := NewSessionManager(r.cfg, r.timeouts, store, r.logger)
	if err != nil {
		return nil, err
	}
	h := &Handle{Store: store, Sessions: mgr, lastUsed: time.Now()}
	r.entries[key] = h
	r.logger.Debug("Created identity handle", zap.String("key", key[:8]), zap.Int("total", len(r.entries)))
	return h, nil
}

// Len reports the number of live handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close stops the eviction sweeper.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Registry) sweep() {
	ttl := r.cfg.SessionTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	ticker := time.NewTicker(ttl / 4)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.evictIdle(ttl)
		}
	}
}

func (r *Registry) evictIdle(ttl time.Duration) {
	cutoff := time.Now().Add(-ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, h := range r.entries {
		if h.lastUsed.Before(cutoff) {
			delete(r.entries, key)
			r.logger.Debug("Evicted idle identity handle", zap.String("key", key[:8]))
		}
	}
}

func hashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
