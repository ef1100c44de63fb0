package challenge

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zach-fau/suno-api/api/schemas"
)

// fakeCapturer emulates the interceptor: Deliver mimics a capture landing,
// which in the real flow also cancels the solving loop.
type fakeCapturer struct {
	installErr  error
	cancelSolve context.CancelFunc
	captured    chan schemas.CapturedRequest
}

func newFakeCapturer() *fakeCapturer {
	return &fakeCapturer{captured: make(chan schemas.CapturedRequest, 1)}
}

func (f *fakeCapturer) Install(cancelSolve context.CancelFunc) error {
	f.cancelSolve = cancelSolve
	return f.installErr
}

func (f *fakeCapturer) Captured() <-chan schemas.CapturedRequest { return f.captured }

func (f *fakeCapturer) Deliver(cap schemas.CapturedRequest) {
	f.captured <- cap
	f.cancelSolve()
}

// fakeRunner blocks in Run until its context is cancelled, unless a
// scripted error ends it first.
type fakeRunner struct {
	triggerErr error
	runErr     chan error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{runErr: make(chan error, 1)}
}

func (f *fakeRunner) Trigger(ctx context.Context) error { return f.triggerErr }

func (f *fakeRunner) Run(ctx context.Context) error {
	select {
	case err := <-f.runErr:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type fakeBrowser struct{ closes atomic.Int32 }

func (f *fakeBrowser) Close() { f.closes.Add(1) }

func testCoordinator() *Coordinator {
	return &Coordinator{logger: zap.NewNop()}
}

func TestCoordinatorCaptureWins(t *testing.T) {
	capt := newFakeCapturer()
	runner := newFakeRunner()
	br := &fakeBrowser{}

	done := make(chan struct{})
	var token string
	var err error
	go func() {
		defer close(done)
		token, err = testCoordinator().run(context.Background(), capt, runner, br)
	}()

	// Let Install register the cancel func, then land a capture the way
	// the interceptor does: deliver first, then cancel the loop.
	require.Eventually(t, func() bool { return capt.cancelSolve != nil }, time.Second, time.Millisecond)
	capt.Deliver(schemas.CapturedRequest{CompletionToken: "P1_proof", AuthorizationToken: "jwt"})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("coordinator did not finish")
	}
	require.NoError(t, err)
	assert.Equal(t, "P1_proof", token)
	// Either arm may observe the capture first; teardown happens at most
	// once either way (the interceptor owns it on the capture arm).
	assert.LessOrEqual(t, br.closes.Load(), int32(1))
}

func TestCoordinatorSolverErrorTearsDownFirst(t *testing.T) {
	capt := newFakeCapturer()
	runner := newFakeRunner()
	br := &fakeBrowser{}

	boom := errors.New("tab crashed")
	runner.runErr <- boom

	_, err := testCoordinator().run(context.Background(), capt, runner, br)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), br.closes.Load(), "teardown happens before the error propagates")
}

func TestCoordinatorCancelledLoopWithBufferedCapture(t *testing.T) {
	capt := newFakeCapturer()
	runner := newFakeRunner()
	br := &fakeBrowser{}

	// The loop observed the shared cancellation just after a capture was
	// buffered; the coordinator must still return the token.
	capt.captured <- schemas.CapturedRequest{CompletionToken: "P1_late"}
	runner.runErr <- context.Canceled

	token, err := testCoordinator().run(context.Background(), capt, runner, br)
	require.NoError(t, err)
	assert.Equal(t, "P1_late", token)
	assert.LessOrEqual(t, br.closes.Load(), int32(1))
}

// captureThenFailRunner buffers a capture and then dies with an error,
// the shape of a widget collapsing right after the proof went out.
type captureThenFailRunner struct {
	capt *fakeCapturer
	err  error
}

func (r *captureThenFailRunner) Trigger(ctx context.Context) error { return nil }

func (r *captureThenFailRunner) Run(ctx context.Context) error {
	r.capt.captured <- schemas.CapturedRequest{CompletionToken: "P1_late"}
	return r.err
}

func TestCoordinatorSolverErrorWithBufferedCapture(t *testing.T) {
	capt := newFakeCapturer()
	br := &fakeBrowser{}
	runner := &captureThenFailRunner{capt: capt, err: errors.New("widget collapsed")}

	token, err := testCoordinator().run(context.Background(), capt, runner, br)
	require.NoError(t, err, "an available capture wins over the loop error")
	assert.Equal(t, "P1_late", token)
	assert.LessOrEqual(t, br.closes.Load(), int32(1))
}

func TestCoordinatorContextCancellation(t *testing.T) {
	capt := newFakeCapturer()
	runner := newFakeRunner()
	br := &fakeBrowser{}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := testCoordinator().run(ctx, capt, runner, br)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), br.closes.Load(), "teardown exactly once on caller cancellation")
}

func TestCoordinatorInstallFailure(t *testing.T) {
	capt := newFakeCapturer()
	capt.installErr = errors.New("fetch domain unavailable")
	br := &fakeBrowser{}

	_, err := testCoordinator().run(context.Background(), capt, newFakeRunner(), br)
	assert.ErrorContains(t, err, "fetch domain unavailable")
	assert.Equal(t, int32(1), br.closes.Load())
}

func TestCoordinatorTriggerFailure(t *testing.T) {
	capt := newFakeCapturer()
	runner := newFakeRunner()
	runner.triggerErr = errors.New("generation button not found on the page")
	br := &fakeBrowser{}

	_, err := testCoordinator().run(context.Background(), capt, runner, br)
	assert.ErrorContains(t, err, "generation button")
	assert.Equal(t, int32(1), br.closes.Load())
}
