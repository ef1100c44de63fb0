// Package identity implements the multi-domain identity layer: the cookie
// set proving who the user is, the projection of that set onto the exact
// per-domain attributes the provider's trust model expects, and the
// session/token lifecycle against the provider API.
package identity

import (
	"strings"
	"sync"
)

// Well-known cookie names in the provider's scheme.
const (
	// CookieClient is the long-lived refresh credential.
	CookieClient = "__client"
	// CookieClientUAT is the last-authenticated-activity timestamp. On the
	// provider's own domain a zero value means "not authenticated" by
	// design; the real value lives in a session-variant entry.
	CookieClientUAT = "__client_uat"
	// CookieSession is the page-level session minted by the provider's
	// client script. It carries different audience claims than the API
	// token and must never be forged or projected locally.
	CookieSession = "__session"

	// uatSentinel marks an unset activity timestamp.
	uatSentinel = "0"
)

// variantPrefix matches session-variant activity-timestamp entries, which
// share a random suffix with the "current" browser session.
const variantPrefix = CookieClientUAT + "_"

type cookiePair struct {
	name  string
	value string
}

// CookieStore holds the full identity cookie set for one logical user.
// Order is preserved so projection output and re-serialization are
// deterministic. Mutations replace or add entries, never implicitly remove.
type CookieStore struct {
	mu      sync.RWMutex
	entries []cookiePair
	index   map[string]int
}

// ParseCookieStore builds a store from a raw Cookie header string
// ("name=value; name2=value2"). Malformed fragments are skipped.
func ParseCookieStore(raw string) *CookieStore {
	s := &CookieStore{index: make(map[string]int)}
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok || name == "" {
			continue
		}
		s.set(strings.TrimSpace(name), value)
	}
	return s
}

func (s *CookieStore) set(name, value string) {
	if i, ok := s.index[name]; ok {
		s.entries[i].value = value
		return
	}
	s.index[name] = len(s.entries)
	s.entries = append(s.entries, cookiePair{name: name, value: value})
}

// Set stores or replaces a single cookie value.
func (s *CookieStore) Set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(name, value)
}

// Get returns the value for name and whether it exists.
func (s *CookieStore) Get(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[name]
	if !ok {
		return "", false
	}
	return s.entries[i].value, true
}

// Len reports the number of distinct cookies held.
func (s *CookieStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// RefreshCredential returns the primary refresh credential, or "".
func (s *CookieStore) RefreshCredential() string {
	v, _ := s.Get(CookieClient)
	return v
}

// ActivityTimestamp resolves the real last-activity timestamp by scanning
// session-variant entries for the first non-zero value, in insertion order.
// It returns the sentinel "0" when no variant carries a real value. The
// primary __client_uat entry is usually the sentinel and is ignored here.
func (s *CookieStore) ActivityTimestamp() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if !strings.HasPrefix(e.name, variantPrefix) {
			continue
		}
		if e.value != "" && e.value != uatSentinel {
			return e.value
		}
	}
	return uatSentinel
}

// MergeSetCookies folds Set-Cookie response headers into the store,
// replacing or adding entries. Attributes after the first pair are dropped;
// only the name/value matter for re-serialization.
func (s *CookieStore) MergeSetCookies(headers []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range headers {
		pair, _, _ := strings.Cut(h, ";")
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || name == "" {
			continue
		}
		s.set(strings.TrimSpace(name), value)
	}
}

// Header re-serializes the store into Cookie header form, in insertion
// order.
func (s *CookieStore) Header() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var b strings.Builder
	for i, e := range s.entries {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(e.name)
		b.WriteByte('=')
		b.WriteString(e.value)
	}
	return b.String()
}

// Each calls fn for every cookie in insertion order. Returning false stops
// the walk.
func (s *CookieStore) Each(fn func(name, value string) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if !fn(e.name, e.value) {
			return
		}
	}
}
