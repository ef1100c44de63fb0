package challenge

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zach-fau/suno-api/internal/browser"
	"github.com/zach-fau/suno-api/internal/captcha"
	"github.com/zach-fau/suno-api/internal/config"
	"github.com/zach-fau/suno-api/internal/identity"
)

// Flow runs the full session-and-challenge pass for one identity: project
// cookies, launch an isolated browser, let the provider's client script
// establish the first-party session, then race solver against interceptor
// for a completion token. One browser per invocation; teardown is
// guaranteed on every path.
type Flow struct {
	cfg    *config.Config
	handle *identity.Handle
	svc    captcha.Solver
	logger *zap.Logger
}

// NewFlow builds a flow for the given identity handle.
func NewFlow(cfg *config.Config, handle *identity.Handle, svc captcha.Solver, logger *zap.Logger) *Flow {
	return &Flow{cfg: cfg, handle: handle, svc: svc, logger: logger}
}

// CompletionToken drives the browser to a solved challenge and returns the
// captured completion token. An empty token with nil error means the
// captured request carried no token field.
func (f *Flow) CompletionToken(ctx context.Context) (string, error) {
	// Every pass gets its own id so interleaved flows stay separable in
	// the logs.
	logger := f.logger.With(zap.String("flow_id", uuid.NewString()))

	cookies := identity.Project(f.handle.Store, logger)

	driver := browser.NewDriver(f.cfg.Browser, f.cfg.Timeouts, logger)
	if err := driver.Launch(ctx, cookies); err != nil {
		return "", err
	}
	defer driver.Close()

	if err := driver.EstablishSession(ctx, f.cfg.Suno.SiteURL); err != nil {
		return "", err
	}

	coord := NewCoordinator(driver, f.handle.Sessions, f.svc, f.cfg.Timeouts, logger)
	return coord.Run(ctx)
}
