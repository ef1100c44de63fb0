package identity

import (
	"go.uber.org/zap"

	"github.com/zach-fau/suno-api/api/schemas"
)

// The three domains involved in the provider's trust handshake. The target
// application reaches the identity provider through two different
// subdomains depending on which page is loaded, so the refresh credential
// has to exist on both.
const (
	// DomainAuth is the identity provider's primary domain.
	DomainAuth = "auth.suno.com"
	// DomainClerk is the provider's alternate subdomain.
	DomainClerk = "clerk.suno.com"
	// DomainUmbrella covers the application and all its subdomains.
	DomainUmbrella = ".suno.com"
)

// Project maps the cookie store onto the exact per-domain cookie attributes
// the provider's multi-domain trust model requires. The table is bit-exact;
// deviating breaks the handshake:
//
//   - every cookie except __client and __client_uat goes to the umbrella
//     domain with SameSite=Lax;
//   - __client goes to both provider domains, Secure and HttpOnly, with
//     SameSite=None on the primary and Lax on the alternate;
//   - __client_uat goes to the primary provider domain fixed at the "0"
//     sentinel (a zero there means "not authenticated" by design) and to
//     the umbrella domain with the real timestamp recovered from the
//     session-variant entries.
//
// __session is never projected: the page-level session must be minted by
// the provider's own client script. A forged one carries the wrong audience
// claims and the flow never reaches the protected page.
func Project(store *CookieStore, logger *zap.Logger) []schemas.ProjectedCookie {
	out := make([]schemas.ProjectedCookie, 0, store.Len()+3)

	store.Each(func(name, value string) bool {
		switch name {
		case CookieClient, CookieClientUAT, CookieSession:
			return true
		}
		out = append(out, schemas.ProjectedCookie{
			Name:     name,
			Value:    value,
			Domain:   DomainUmbrella,
			Path:     "/",
			SameSite: schemas.SameSiteLax,
		})
		return true
	})

	if client := store.RefreshCredential(); client != "" {
		out = append(out,
			schemas.ProjectedCookie{
				Name:     CookieClient,
				Value:    client,
				Domain:   DomainAuth,
				Path:     "/",
				SameSite: schemas.SameSiteNone,
				Secure:   true,
				HTTPOnly: true,
			},
			schemas.ProjectedCookie{
				Name:     CookieClient,
				Value:    client,
				Domain:   DomainClerk,
				Path:     "/",
				SameSite: schemas.SameSiteLax,
				Secure:   true,
				HTTPOnly: true,
			},
		)
	} else {
		logger.Warn("Cookie set has no refresh credential; the browser flow cannot authenticate")
	}

	uat := store.ActivityTimestamp()
	if uat == uatSentinel {
		// Not fatal for the API-only paths, but the browser flow will not
		// authenticate without a real activity timestamp.
		logger.Warn("No non-zero session-variant activity timestamp found; projecting sentinel")
	}
	out = append(out,
		schemas.ProjectedCookie{
			Name:     CookieClientUAT,
			Value:    uatSentinel,
			Domain:   DomainAuth,
			Path:     "/",
			SameSite: schemas.SameSiteNone,
			Secure:   true,
		},
		schemas.ProjectedCookie{
			Name:     CookieClientUAT,
			Value:    uat,
			Domain:   DomainUmbrella,
			Path:     "/",
			SameSite: schemas.SameSiteLax,
			Secure:   true,
		},
	)

	return out
}
