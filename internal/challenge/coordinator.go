package challenge

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/zach-fau/suno-api/api/schemas"
	"github.com/zach-fau/suno-api/internal/browser"
	"github.com/zach-fau/suno-api/internal/captcha"
	"github.com/zach-fau/suno-api/internal/config"
	"github.com/zach-fau/suno-api/internal/identity"
	"github.com/zach-fau/suno-api/pkg/humanoid"
)

// Coordinator races the interceptor's capture against the solving loop and
// guarantees single-shot teardown. Whichever side completes first decides
// the outcome; the other observes the shared cancellation and winds down
// without leaking the browser or pending routes.
type Coordinator struct {
	driver   *browser.Driver
	sessions *identity.SessionManager
	svc      captcha.Solver
	timeouts config.TimeoutConfig
	logger   *zap.Logger
}

// NewCoordinator wires the challenge subsystem around an already-launched
// browser.
func NewCoordinator(driver *browser.Driver, sessions *identity.SessionManager, svc captcha.Solver, timeouts config.TimeoutConfig, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		driver:   driver,
		sessions: sessions,
		svc:      svc,
		timeouts: timeouts,
		logger:   logger.Named("coordinator"),
	}
}

// capturer and solveRunner are the two race arms; teardown is whatever
// must be closed exactly once regardless of which arm wins.
type capturer interface {
	Install(cancelSolve context.CancelFunc) error
	Captured() <-chan schemas.CapturedRequest
}

type solveRunner interface {
	Trigger(ctx context.Context) error
	Run(ctx context.Context) error
}

type teardown interface{ Close() }

// Run obtains one challenge-completion token. It installs interception
// BEFORE triggering the generation action, starts the solving loop and
// waits for the first completed side. The returned token may be empty when
// the captured request carried no recognizable token field.
func (c *Coordinator) Run(ctx context.Context) (string, error) {
	interceptor := NewInterceptor(c.driver, c.sessions.SetToken, c.logger)
	pointer := humanoid.NewPointer(humanoid.DefaultConfig(), c.logger)
	solver := NewSolver(c.driver, c.svc, pointer, c.timeouts, c.logger)
	return c.run(ctx, interceptor, solver, c.driver)
}

func (c *Coordinator) run(ctx context.Context, interceptor capturer, solver solveRunner, br teardown) (string, error) {
	solveCtx, cancelSolve := context.WithCancel(ctx)
	defer cancelSolve()

	if err := interceptor.Install(cancelSolve); err != nil {
		br.Close()
		return "", err
	}

	// Interception is live; now the UI action that fires the generation
	// request is safe to perform.
	if err := solver.Trigger(solveCtx); err != nil {
		br.Close()
		return "", err
	}

	solveDone := make(chan error, 1)
	go func() { solveDone <- solver.Run(solveCtx) }()

	select {
	case cap := <-interceptor.Captured():
		// The interceptor already adopted the bearer, closed the browser
		// and cancelled the loop; wait for the loop to observe it.
		<-solveDone
		c.logger.Info("Challenge flow complete", zap.Bool("token_present", cap.CompletionToken != ""))
		return cap.CompletionToken, nil

	case err := <-solveDone:
		// The solving loop ended first. Teardown must happen before any
		// error propagates, and losing the race to our own cancellation
		// is the normal terminal condition, not an error.
		br.Close()
		// Whatever ended the loop, a capture may have landed in the same
		// instant; an available capture wins over the loop's error.
		select {
		case cap := <-interceptor.Captured():
			return cap.CompletionToken, nil
		default:
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			return "", err
		}
		c.logger.Warn("Solving loop cancelled without a captured request")
		return "", ctx.Err()

	case <-ctx.Done():
		br.Close()
		<-solveDone
		return "", ctx.Err()
	}
}
