// Package browser owns the isolated browser instance the challenge flow
// runs in: launch with anti-detection flags, identity cookie injection,
// and the two-step navigation that lets the provider's client script
// establish a first-party session.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/zach-fau/suno-api/api/schemas"
	"github.com/zach-fau/suno-api/internal/config"
)

// Driver manages the lifecycle of one browser instance and its single tab.
type Driver struct {
	cfg      config.BrowserConfig
	timeouts config.TimeoutConfig
	logger   *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDriver creates an unlaunched driver.
func NewDriver(cfg config.BrowserConfig, timeouts config.TimeoutConfig, logger *zap.Logger) *Driver {
	return &Driver{
		cfg:      cfg,
		timeouts: timeouts,
		logger:   logger.Named("browser"),
	}
}

// Launch starts the browser with anti-automation-detection flags, creates
// the tab context and injects the projected identity cookies. It does not
// navigate anywhere.
func (d *Driver) Launch(ctx context.Context, cookies []schemas.ProjectedCookie) error {
	opts := d.allocatorOptions()
	d.allocCtx, d.allocCancel = chromedp.NewExecAllocator(ctx, opts...)
	d.tabCtx, d.tabCancel = chromedp.NewContext(d.allocCtx,
		chromedp.WithLogf(d.logger.Sugar().Debugf),
		chromedp.WithErrorf(d.logger.Sugar().Errorf),
	)

	// Initialize the browser connection before touching cookies.
	if err := chromedp.Run(d.tabCtx, chromedp.Navigate("about:blank")); err != nil {
		d.Close()
		return fmt.Errorf("failed to initialize browser context: %w", err)
	}

	if err := chromedp.Run(d.tabCtx, setCookiesAction(cookies)); err != nil {
		d.Close()
		return fmt.Errorf("failed to inject identity cookies: %w", err)
	}

	d.logger.Info("Browser launched",
		zap.Bool("headless", d.cfg.Headless),
		zap.String("engine", string(d.cfg.Engine)),
		zap.Int("cookies", len(cookies)),
	)
	return nil
}

// allocatorOptions configures the flags for the browser executable.
func (d *Driver) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	if d.cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}

	opts = append(opts,
		// Automation detection evasion.
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),

		// Stability in constrained environments.
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("metrics-recording-only", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-hang-monitor", true),
		chromedp.Flag("disable-prompt-on-repost", true),
		chromedp.Flag("disable-extensions", true),

		chromedp.UserAgent(d.cfg.UserAgent),
		chromedp.Flag("lang", d.cfg.Locale),
	)

	// GPU often causes issues in headless or containerized environments.
	if d.cfg.DisableGPU || d.cfg.Headless {
		opts = append(opts, chromedp.Flag("disable-gpu", true))
	}

	// Developer tooling only makes sense with a visible window.
	if d.cfg.DevTools && !d.cfg.Headless {
		opts = append(opts, chromedp.Flag("auto-open-devtools-for-tabs", true))
	}

	if path := d.execPath(); path != "" {
		opts = append(opts, chromedp.ExecPath(path))
	}
	return opts
}

// execPath resolves the configured engine to an executable. An explicit
// exec_path always wins; otherwise the engine's usual binary names are
// probed and chromedp's own lookup is the fallback.
func (d *Driver) execPath() string {
	if d.cfg.ExecPath != "" {
		return d.cfg.ExecPath
	}
	var names []string
	switch d.cfg.Engine {
	case config.EngineChrome:
		names = []string{"google-chrome", "google-chrome-stable", "chrome"}
	case config.EngineChromium, "":
		names = []string{"chromium", "chromium-browser"}
	}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}

func setCookiesAction(cookies []schemas.ProjectedCookie) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		params := make([]*network.CookieParam, 0, len(cookies))
		for _, c := range cookies {
			params = append(params, &network.CookieParam{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Secure:   c.Secure,
				HTTPOnly: c.HTTPOnly,
				SameSite: cdpSameSite(c.SameSite),
			})
		}
		return network.SetCookies(params).Do(ctx)
	})
}

func cdpSameSite(s schemas.SameSite) network.CookieSameSite {
	switch s {
	case schemas.SameSiteNone:
		return network.CookieSameSiteNone
	case schemas.SameSiteLax:
		return network.CookieSameSiteLax
	default:
		return network.CookieSameSiteLax
	}
}

// Context returns the tab context chromedp actions run against.
func (d *Driver) Context() context.Context { return d.tabCtx }

// EstablishSession performs the mandatory two-step navigation: the public
// landing page first, a bounded wait for the provider's client script to
// complete its validation round-trip, then the protected page. Navigating
// to the protected page directly would redirect to sign-in unconditionally
// because the refresh credential has not been validated first-party yet.
func (d *Driver) EstablishSession(ctx context.Context, siteURL string) error {
	if d.tabCtx == nil {
		return errors.New("browser not launched")
	}

	validated := d.watchClientValidation()

	if err := d.navigate(ctx, siteURL); err != nil {
		return err
	}

	wait := d.timeouts.ClientValidation
	if wait <= 0 {
		wait = 15 * time.Second
	}
	select {
	case <-validated:
		d.logger.Debug("Identity provider client validation observed")
	case <-time.After(wait):
		// Not fatal: the script may have validated before the listener
		// was installed, or may still finish while we move on.
		d.logger.Warn("Timed out waiting for client validation round-trip; proceeding")
	case <-ctx.Done():
		return ctx.Err()
	case <-d.tabCtx.Done():
		return d.tabCtx.Err()
	}

	return d.navigate(ctx, strings.TrimRight(siteURL, "/")+"/create")
}

// watchClientValidation resolves once a response from the identity
// provider's client endpoint is seen in the tab.
func (d *Driver) watchClientValidation() <-chan struct{} {
	ch := make(chan struct{})
	var once sync.Once
	chromedp.ListenTarget(d.tabCtx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Response == nil {
			return
		}
		url := resp.Response.URL
		if strings.Contains(url, "clerk.suno.com/v1/client") || strings.Contains(url, "auth.suno.com/v1/client") {
			once.Do(func() { close(ch) })
		}
	})
	return ch
}

// navigate runs a page load under the configured navigation timeout. Zero
// means unbounded, an explicit opt-in. A timeout is non-fatal: the flow
// proceeds optimistically and later steps surface any real failure.
func (d *Driver) navigate(ctx context.Context, url string) error {
	navCtx := d.tabCtx
	var cancel context.CancelFunc
	if d.timeouts.Navigation > 0 {
		navCtx, cancel = context.WithTimeout(d.tabCtx, d.timeouts.Navigation)
		defer cancel()
	}

	d.logger.Info("Navigating", zap.String("url", url))
	err := chromedp.Run(navCtx, chromedp.Navigate(url))
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil && d.tabCtx.Err() == nil {
		d.logger.Warn("Navigation timed out; proceeding optimistically", zap.String("url", url))
		return nil
	}
	return fmt.Errorf("navigation to %s failed: %w", url, err)
}

// Closed reports whether teardown has begun.
func (d *Driver) Closed() bool { return d.closed.Load() }

// Close tears the browser down. Idempotent: both race arms of the
// challenge flow may call it, and the second call is a no-op. Failures are
// logged, never returned, since teardown happens during best-effort
// cleanup.
func (d *Driver) Close() {
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		d.logger.Debug("Tearing down browser")
		// Ask the browser to exit cleanly before the allocator kills the
		// process group.
		if d.tabCtx != nil {
			if err := chromedp.Cancel(d.tabCtx); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Warn("Browser teardown reported an error", zap.Error(err))
			}
		}
		if d.tabCancel != nil {
			d.tabCancel()
		}
		if d.allocCancel != nil {
			d.allocCancel()
		}
		d.logger.Info("Browser closed")
	})
}
