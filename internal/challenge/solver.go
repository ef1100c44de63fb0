package challenge

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/zach-fau/suno-api/api/schemas"
	"github.com/zach-fau/suno-api/internal/browser"
	"github.com/zach-fau/suno-api/internal/captcha"
	"github.com/zach-fau/suno-api/internal/config"
	"github.com/zach-fau/suno-api/pkg/humanoid"
)

// ErrSolveFailed means the solving service failed three consecutive times
// for one challenge cycle. Fatal for this generation attempt.
var ErrSolveFailed = errors.New("challenge: solving service exhausted retry budget")

// errFrameGone marks interactions that failed because the challenge frame
// disappeared (the widget closes itself after inactivity).
var errFrameGone = errors.New("challenge frame gone")

const (
	promptSelector = ".prompt-text"
	submitSelector = ".button-submit"
	solverAttempts = 3
)

// triggerScript re-clicks the page's generation button, which reopens the
// challenge when the widget has closed itself.
const triggerScript = `(() => {
	const btn = [...document.querySelectorAll('button')]
		.find(b => b.textContent.trim().toLowerCase() === 'create');
	if (btn) btn.click();
	return !!btn;
})()`

// challengeUI is the browser-interaction surface the solving loop drives.
// Split out so the loop's protocol rules are testable without a browser.
type challengeUI interface {
	// Trigger clicks the page's generation button to (re)open the widget.
	Trigger(ctx context.Context) error
	// Classify reads the instruction text and decides the interaction kind.
	// A missing frame surfaces as errFrameGone.
	Classify(ctx context.Context) (schemas.ChallengeKind, error)
	// Region returns the challenge frame's bounding box.
	Region(ctx context.Context) (schemas.Region, error)
	// Screenshot captures the region as PNG bytes.
	Screenshot(ctx context.Context, region schemas.Region) ([]byte, error)
	// Act performs the pointer interaction for the solved coordinates.
	Act(ctx context.Context, kind schemas.ChallengeKind, region schemas.Region, points []schemas.Point) error
	// Submit clicks the challenge's submit control. A missing frame
	// surfaces as errFrameGone.
	Submit(ctx context.Context) error
}

// Solver runs the human-interaction-emulation loop for one challenge. The
// loop is intentionally unbounded: the number of cycles a challenge takes
// is not knowable in advance, so it runs until the interceptor cancels it
// or an unexpected error escapes.
type Solver struct {
	ui       challengeUI
	svc      captcha.Solver
	timeouts config.TimeoutConfig
	logger   *zap.Logger
}

// NewSolver wires the solving loop around a live browser.
func NewSolver(driver *browser.Driver, svc captcha.Solver, pointer *humanoid.Pointer, timeouts config.TimeoutConfig, logger *zap.Logger) *Solver {
	return newSolver(&browserUI{
		driver:   driver,
		pointer:  pointer,
		timeouts: timeouts,
		logger:   logger,
	}, svc, timeouts, logger)
}

func newSolver(ui challengeUI, svc captcha.Solver, timeouts config.TimeoutConfig, logger *zap.Logger) *Solver {
	return &Solver{
		ui:       ui,
		svc:      svc,
		timeouts: timeouts,
		logger:   logger.Named("solver"),
	}
}

// Trigger clicks the generation button to open the challenge. Route
// interception must already be installed when this runs.
func (s *Solver) Trigger(ctx context.Context) error {
	return s.ui.Trigger(ctx)
}

// Run executes challenge cycles until externally cancelled. A cancelled
// context is the normal terminal condition (the interceptor closed the
// browser); any other returned error is unexpected and the caller must
// still tear the browser down before rethrowing.
func (s *Solver) Run(ctx context.Context) error {
	waitImages := true
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		// AwaitingImages: only after an action that changed the imagery,
		// never after a rejected-solution restart.
		if waitImages {
			if err := sleepContext(ctx, s.timeouts.ChallengeImageWait); err != nil {
				return err
			}
		}
		waitImages = true

		kind, err := s.ui.Classify(ctx)
		if err != nil {
			if errors.Is(err, errFrameGone) {
				// Challenge window closed from inactivity; reopen it.
				if terr := s.ui.Trigger(ctx); terr != nil {
					return terr
				}
				continue
			}
			return err
		}

		region, err := s.ui.Region(ctx)
		if err != nil {
			return err
		}

		sol, err := s.obtainSolution(ctx, kind, region)
		if err != nil {
			return err
		}

		if kind == schemas.ChallengeDrag && len(sol.Points)%2 != 0 {
			// Protocol violation: drag points come in (start, end) pairs.
			// Report it so the service learns, then restart the cycle
			// immediately; the imagery has not changed.
			s.logger.Warn("Drag solution has odd point count; reporting and retrying",
				zap.String("solution_id", sol.ID), zap.Int("points", len(sol.Points)))
			if rerr := s.svc.ReportBad(ctx, sol.ID); rerr != nil {
				s.logger.Warn("Failed to report bad solution", zap.Error(rerr))
			}
			waitImages = false
			continue
		}

		if err := s.ui.Act(ctx, kind, region, sol.Points); err != nil {
			return err
		}

		if err := s.ui.Submit(ctx); err != nil {
			if errors.Is(err, errFrameGone) {
				if terr := s.ui.Trigger(ctx); terr != nil {
					return terr
				}
				continue
			}
			return err
		}
	}
}

// obtainSolution screenshots the challenge region and asks the solving
// service, retrying up to three attempts. Each attempt captures a fresh
// screenshot and is individually timeboxed. After exhaustion the last
// error surfaces as ErrSolveFailed.
func (s *Solver) obtainSolution(ctx context.Context, kind schemas.ChallengeKind, region schemas.Region) (*schemas.Solution, error) {
	var sol *schemas.Solution
	err := retry.Do(
		func() error {
			attemptCtx := ctx
			if s.timeouts.SolverAttempt > 0 {
				var cancel context.CancelFunc
				attemptCtx, cancel = context.WithTimeout(ctx, s.timeouts.SolverAttempt)
				defer cancel()
			}

			shot, err := s.ui.Screenshot(attemptCtx, region)
			if err != nil {
				return err
			}
			img := base64.StdEncoding.EncodeToString(shot)

			var drag *captcha.DragInstructions
			if kind == schemas.ChallengeDrag {
				drag = captcha.DefaultDragInstructions()
			}

			sol, err = s.svc.Solve(attemptCtx, img, drag)
			return err
		},
		retry.Attempts(solverAttempts),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrSolveFailed, err)
	}
	return sol, nil
}

// browserUI is the chromedp-backed challengeUI.
type browserUI struct {
	driver   *browser.Driver
	pointer  *humanoid.Pointer
	timeouts config.TimeoutConfig
	logger   *zap.Logger
}

func (u *browserUI) Trigger(ctx context.Context) error {
	var clicked bool
	if err := chromedp.Run(u.driver.Context(), chromedp.Evaluate(triggerScript, &clicked)); err != nil {
		return fmt.Errorf("failed to trigger generation: %w", err)
	}
	if !clicked {
		return errors.New("generation button not found on the page")
	}
	return nil
}

// Classify reads the instruction text from the challenge frame. Any
// mention of dragging means a drag challenge; everything else is pointer
// clicks.
func (u *browserUI) Classify(ctx context.Context) (schemas.ChallengeKind, error) {
	frameCtx, cancel, err := u.driver.ChallengeFrame(ctx)
	if err != nil {
		return schemas.ChallengeClick, fmt.Errorf("%w: %v", errFrameGone, err)
	}
	defer cancel()

	var prompt string
	textCtx, textCancel := context.WithTimeout(frameCtx, 10*time.Second)
	defer textCancel()
	if err := chromedp.Run(textCtx, chromedp.Text(promptSelector, &prompt, chromedp.ByQuery)); err != nil {
		return schemas.ChallengeClick, fmt.Errorf("%w: prompt not readable: %v", errFrameGone, err)
	}

	kind := schemas.ChallengeClick
	if strings.Contains(strings.ToLower(prompt), "drag") {
		kind = schemas.ChallengeDrag
	}
	u.logger.Debug("Challenge classified", zap.String("kind", kind.String()), zap.String("prompt", prompt))
	return kind, nil
}

func (u *browserUI) Region(ctx context.Context) (schemas.Region, error) {
	return u.driver.ChallengeRegion(ctx)
}

func (u *browserUI) Screenshot(ctx context.Context, region schemas.Region) ([]byte, error) {
	return u.driver.CaptureRegion(ctx, region)
}

// Act performs the pointer interaction for the solved coordinates. Points
// are relative to the challenge region; clicks land on each point, drags
// consume them in (start, end) pairs with a short unlock delay between
// press and drag start.
func (u *browserUI) Act(ctx context.Context, kind schemas.ChallengeKind, region schemas.Region, points []schemas.Point) error {
	// The pointer needs the tab context to reach the browser but must
	// also observe the solve loop's cancellation.
	runCtx, cancel := mergeCtx(ctx, u.driver.Context())
	defer cancel()

	abs := func(p schemas.Point) humanoid.Vector2D {
		return humanoid.Vector2D{X: region.X + p.X, Y: region.Y + p.Y}
	}

	switch kind {
	case schemas.ChallengeDrag:
		for i := 0; i+1 < len(points); i += 2 {
			start, end := abs(points[i]), abs(points[i+1])
			err := chromedp.Run(runCtx, chromedp.ActionFunc(func(c context.Context) error {
				return u.pointer.DragBetween(c, start, end, u.timeouts.UnlockDelay)
			}))
			if err != nil {
				return fmt.Errorf("drag %d failed: %w", i/2, err)
			}
		}
	default:
		for i, p := range points {
			target := abs(p)
			err := chromedp.Run(runCtx, chromedp.ActionFunc(func(c context.Context) error {
				return u.pointer.ClickAt(c, target)
			}))
			if err != nil {
				return fmt.Errorf("click %d failed: %w", i, err)
			}
		}
	}
	return nil
}

// Submit clicks the challenge's submit control inside the frame.
func (u *browserUI) Submit(ctx context.Context) error {
	frameCtx, cancel, err := u.driver.ChallengeFrame(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", errFrameGone, err)
	}
	defer cancel()

	clickCtx, clickCancel := context.WithTimeout(frameCtx, 10*time.Second)
	defer clickCancel()
	if err := chromedp.Run(clickCtx, chromedp.Click(submitSelector, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		// The containing frame may have been removed between lookup and
		// click; treat it the same as a closed widget.
		return fmt.Errorf("%w: submit click failed: %v", errFrameGone, err)
	}
	return sleepContext(ctx, u.timeouts.SubmitSettle)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// mergeCtx derives from the tab context (keeping its CDP wiring) while
// also observing the solve context's cancellation.
func mergeCtx(solveCtx, tabCtx context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancel(tabCtx)
	stop := context.AfterFunc(solveCtx, cancel)
	return merged, func() {
		stop()
		cancel()
	}
}
