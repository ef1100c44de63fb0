// Package humanoid emulates human pointer interaction over the Chrome
// DevTools input domain. Everything is coordinate based: the challenge
// content is cross-origin, so there are no DOM selectors to work with,
// only positions inside a known region.
package humanoid

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"go.uber.org/zap"
)

// Config tunes the pointer model.
type Config struct {
	// FittsA and FittsB parameterize movement duration (ms) against the
	// index of difficulty of the target.
	FittsA float64 `mapstructure:"fitts_a"`
	FittsB float64 `mapstructure:"fitts_b"`
	// JitterPx is the amplitude of the gaussian tremor applied to every
	// trajectory step.
	JitterPx float64 `mapstructure:"jitter_px"`
	// ClickHoldMinMs/ClickHoldMaxMs bound the press duration of a click.
	ClickHoldMinMs int `mapstructure:"click_hold_min_ms"`
	ClickHoldMaxMs int `mapstructure:"click_hold_max_ms"`
}

// DefaultConfig returns parameter values calibrated against recorded human
// sessions.
func DefaultConfig() Config {
	return Config{
		FittsA:         120,
		FittsB:         110,
		JitterPx:       1.4,
		ClickHoldMinMs: 60,
		ClickHoldMaxMs: 140,
	}
}

// Pointer tracks one virtual mouse. Not safe for concurrent use across
// pages; each browser context gets its own.
type Pointer struct {
	cfg    Config
	logger *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
	pos Vector2D
}

// NewPointer creates a pointer starting at the origin.
func NewPointer(cfg Config, logger *zap.Logger) *Pointer {
	if cfg.FittsA <= 0 {
		cfg = DefaultConfig()
	}
	return &Pointer{
		cfg:    cfg,
		logger: logger.Named("humanoid"),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// MoveTo travels to target along a human-like trajectory without any
// button held.
func (p *Pointer) MoveTo(ctx context.Context, target Vector2D) error {
	return p.travel(ctx, target, input.None)
}

// ClickAt moves to target, presses, holds a randomized beat and releases.
func (p *Pointer) ClickAt(ctx context.Context, target Vector2D) error {
	if err := p.travel(ctx, target, input.None); err != nil {
		return err
	}
	at := p.position()
	if err := dispatchButton(ctx, input.MousePressed, at, input.Left); err != nil {
		return err
	}
	if err := sleepContext(ctx, p.holdDuration()); err != nil {
		// Never leave the button pressed on cancellation.
		_ = dispatchButton(context.WithoutCancel(ctx), input.MouseReleased, at, input.Left)
		return err
	}
	return dispatchButton(ctx, input.MouseReleased, at, input.Left)
}

// DragBetween grabs at start, waits unlock so the widget registers the
// press, drags to end with the button held, and releases.
func (p *Pointer) DragBetween(ctx context.Context, start, end Vector2D, unlock time.Duration) error {
	if err := p.travel(ctx, start, input.None); err != nil {
		return err
	}
	at := p.position()
	if err := dispatchButton(ctx, input.MousePressed, at, input.Left); err != nil {
		return err
	}
	if err := sleepContext(ctx, unlock); err != nil {
		_ = dispatchButton(context.WithoutCancel(ctx), input.MouseReleased, at, input.Left)
		return err
	}
	if err := p.travel(ctx, end, input.Left); err != nil {
		_ = dispatchButton(context.WithoutCancel(ctx), input.MouseReleased, p.position(), input.Left)
		return err
	}
	return dispatchButton(ctx, input.MouseReleased, p.position(), input.Left)
}

func (p *Pointer) position() Vector2D {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos
}

func (p *Pointer) setPosition(v Vector2D) {
	p.mu.Lock()
	p.pos = v
	p.mu.Unlock()
}

func (p *Pointer) holdDuration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	span := p.cfg.ClickHoldMaxMs - p.cfg.ClickHoldMinMs
	if span <= 0 {
		return time.Duration(p.cfg.ClickHoldMinMs) * time.Millisecond
	}
	return time.Duration(p.cfg.ClickHoldMinMs+p.rng.Intn(span)) * time.Millisecond
}

func dispatchButton(ctx context.Context, typ input.MouseType, at Vector2D, button input.MouseButton) error {
	ev := input.DispatchMouseEvent(typ, at.X, at.Y).
		WithButton(button).
		WithClickCount(1)
	if button == input.Left {
		ev = ev.WithButtons(1)
	}
	return ev.Do(ctx)
}

// sleepContext waits d or until the context is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
