// Package schemas defines the shared data types exchanged between the
// identity, browser and challenge subsystems. Keeping them here avoids
// import cycles between internal packages.
package schemas

import "time"

// SameSite mirrors the cookie SameSite attribute values the identity
// provider's multi-domain handshake distinguishes between.
type SameSite string

const (
	SameSiteLax  SameSite = "Lax"
	SameSiteNone SameSite = "None"
)

// ProjectedCookie is a single cookie pinned to an exact domain/attribute
// combination. The projection table is bit-exact; any deviation breaks the
// provider's cross-domain trust handshake.
type ProjectedCookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	SameSite SameSite
	Secure   bool
	HTTPOnly bool
}

// Session is the server-side identity handle. The session id is obtained
// once; the authorization token is short-lived and refreshed before every
// outbound API call.
type Session struct {
	SessionID          string
	AuthorizationToken string
	IssuedAt           time.Time
}

// ChallengeKind classifies the visual challenge from its instruction text.
type ChallengeKind int

const (
	ChallengeClick ChallengeKind = iota
	ChallengeDrag
)

func (k ChallengeKind) String() string {
	if k == ChallengeDrag {
		return "drag"
	}
	return "click"
}

// Point is a solver-returned coordinate relative to the challenge region.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Solution is what the external solving service returns for one challenge
// screenshot. For drag challenges the points are consumed in (start, end)
// pairs, so the count must be even.
type Solution struct {
	ID     string
	Points []Point
}

// Region is the challenge frame's bounding box in page coordinates.
type Region struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// CapturedRequest holds the fields extracted from the intercepted
// generation call before it is aborted.
type CapturedRequest struct {
	// AuthorizationToken is the bearer token from the Authorization header.
	AuthorizationToken string
	// CompletionToken is the challenge-completion proof from the request
	// body ("token", or "hcaptcha_token" on older request shapes). Empty
	// when neither field was present.
	CompletionToken string
}
