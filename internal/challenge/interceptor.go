// Package challenge drives the anti-automation challenge to completion:
// a network interceptor that captures the one-time generation
// authorization, a solving loop that emulates the human interaction, and
// a coordinator racing the two against each other.
package challenge

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/zach-fau/suno-api/api/schemas"
	"github.com/zach-fau/suno-api/internal/browser"
)

// generatePatterns are the URL globs that could match the generation
// endpoint. The site has shipped inconsistent versioned paths, so all
// known shapes are watched.
var generatePatterns = []string{
	"*://*/api/generate/v2*",
	"*://*/api/generate/v2/*",
	"*://*/api/v2/generate*",
}

// Interceptor watches for the outbound generation request the widget fires
// once the challenge is solved, strips the tokens out of it and aborts it.
// The real generation must not happen here: it would burn credits on a
// throwaway prompt when all we need is the proof of a solved challenge.
type Interceptor struct {
	driver *browser.Driver
	logger *zap.Logger

	captured chan schemas.CapturedRequest
	once     sync.Once

	// cancelSolve stops the solving loop once a capture lands.
	cancelSolve context.CancelFunc
	// onBearer publishes the captured authorization token.
	onBearer func(token string)
}

// NewInterceptor builds an uninstalled interceptor. onBearer receives the
// bearer token of the captured request (the session manager adopts it).
func NewInterceptor(driver *browser.Driver, onBearer func(string), logger *zap.Logger) *Interceptor {
	return &Interceptor{
		driver:   driver,
		logger:   logger.Named("interceptor"),
		captured: make(chan schemas.CapturedRequest, 1),
		onBearer: onBearer,
	}
}

// Install enables fetch interception for the generation patterns and
// registers the capture handler. It MUST complete before any UI action
// that could trigger the generation request; installing afterwards races
// the real request past the interceptor.
func (i *Interceptor) Install(cancelSolve context.CancelFunc) error {
	i.cancelSolve = cancelSolve

	patterns := make([]*fetch.RequestPattern, 0, len(generatePatterns))
	for _, p := range generatePatterns {
		patterns = append(patterns, &fetch.RequestPattern{
			URLPattern:   p,
			RequestStage: fetch.RequestStageRequest,
		})
	}

	tabCtx := i.driver.Context()
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if paused, ok := ev.(*fetch.EventRequestPaused); ok {
			go i.handle(tabCtx, paused)
		}
	})

	if err := chromedp.Run(tabCtx, fetch.Enable().WithPatterns(patterns)); err != nil {
		return err
	}
	i.logger.Debug("Generation-request interception installed", zap.Int("patterns", len(patterns)))
	return nil
}

// Captured delivers the single capture result.
func (i *Interceptor) Captured() <-chan schemas.CapturedRequest { return i.captured }

func (i *Interceptor) handle(tabCtx context.Context, ev *fetch.EventRequestPaused) {
	i.once.Do(func() {
		req := ev.Request
		i.logger.Info("Generation request intercepted", zap.String("url", req.URL))

		cap := extractCapture(req.Headers, requestBody(req))

		// Abort the real call. The challenge is already proven solved.
		c := chromedp.FromContext(tabCtx)
		execCtx := cdp.WithExecutor(tabCtx, c.Target)
		if err := fetch.FailRequest(ev.RequestID, network.ErrorReasonAborted).Do(execCtx); err != nil {
			i.logger.Warn("Failed to abort intercepted request", zap.Error(err))
		}

		i.finish(cap)
	})
}

// finish publishes the capture, channel first so the coordinator always
// observes the result, hands the bearer to its adopter and tears the
// race down. Called at most once, guarded by handle.
func (i *Interceptor) finish(cap schemas.CapturedRequest) {
	i.captured <- cap
	if cap.AuthorizationToken != "" && i.onBearer != nil {
		i.onBearer(cap.AuthorizationToken)
	}
	i.driver.Close()
	if i.cancelSolve != nil {
		i.cancelSolve()
	}
}

// requestBody reassembles the outbound body from the paused request. The
// protocol splits it into chunks whose bytes arrive base64 encoded; a
// chunk that fails to decode is carried verbatim.
func requestBody(req *network.Request) string {
	if len(req.PostDataEntries) == 0 {
		return ""
	}
	var b strings.Builder
	for _, entry := range req.PostDataEntries {
		if entry == nil || entry.Bytes == "" {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(entry.Bytes)
		if err != nil {
			b.WriteString(entry.Bytes)
			continue
		}
		b.Write(decoded)
	}
	return b.String()
}

// extractCapture pulls the bearer and the challenge-completion proof out
// of the paused request. The body carries the proof under one of two field
// names depending on the request shape at capture time.
func extractCapture(headers network.Headers, postData string) schemas.CapturedRequest {
	var cap schemas.CapturedRequest
	if auth := headerValue(headers, "authorization"); auth != "" {
		cap.AuthorizationToken = strings.TrimPrefix(auth, "Bearer ")
	}
	if postData != "" {
		token := gjson.Get(postData, "token")
		if !token.Exists() {
			token = gjson.Get(postData, "hcaptcha_token")
		}
		cap.CompletionToken = token.String()
	}
	return cap
}

func headerValue(h network.Headers, name string) string {
	for k, v := range h {
		if strings.EqualFold(k, name) {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
