package humanoid

import (
	"context"
	"math"
	"time"

	"github.com/chromedp/cdproto/input"
	"go.uber.org/zap"
)

// Vector2D is a point or displacement in page coordinates.
type Vector2D struct {
	X float64
	Y float64
}

func (v Vector2D) Add(o Vector2D) Vector2D { return Vector2D{v.X + o.X, v.Y + o.Y} }
func (v Vector2D) Sub(o Vector2D) Vector2D { return Vector2D{v.X - o.X, v.Y - o.Y} }
func (v Vector2D) Mul(s float64) Vector2D  { return Vector2D{v.X * s, v.Y * s} }
func (v Vector2D) Mag() float64            { return math.Hypot(v.X, v.Y) }

func (v Vector2D) Dist(o Vector2D) float64 { return v.Sub(o).Mag() }

// computeEaseInOutCubic provides a smooth acceleration and deceleration
// profile.
func computeEaseInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

// fittsDuration determines movement duration from the travel distance,
// with slight randomization so repeated moves never share exact timing.
func (p *Pointer) fittsDuration(distance float64) time.Duration {
	const targetWidth = 30.0

	id := math.Log2(1.0 + distance/targetWidth)

	p.mu.Lock()
	mt := p.cfg.FittsA + p.cfg.FittsB*id
	mt += mt * (p.rng.Float64()*0.3 - 0.15)
	p.mu.Unlock()

	return time.Duration(mt) * time.Millisecond
}

// bezierPath builds a cubic bezier between start and end whose control
// points bow slightly off the straight line, the way real hands overshoot.
func (p *Pointer) bezierPath(start, end Vector2D, steps int) []Vector2D {
	main := end.Sub(start)
	dist := main.Mag()
	if dist < 1.0 || steps <= 1 {
		return []Vector2D{end}
	}

	// Perpendicular bow, proportional to distance, direction randomized.
	perp := Vector2D{-main.Y / dist, main.X / dist}
	p.mu.Lock()
	bow := (p.rng.Float64() - 0.5) * dist * 0.2
	p.mu.Unlock()

	p1 := start.Add(main.Mul(1.0 / 3.0)).Add(perp.Mul(bow))
	p2 := start.Add(main.Mul(2.0 / 3.0)).Add(perp.Mul(bow * 0.6))

	path := make([]Vector2D, steps)
	for i := 0; i < steps; i++ {
		t := float64(i) / float64(steps-1)
		omt := 1.0 - t
		omt2 := omt * omt
		omt3 := omt2 * omt
		t2 := t * t
		t3 := t2 * t
		path[i] = start.Mul(omt3).
			Add(p1.Mul(3 * omt2 * t)).
			Add(p2.Mul(3 * omt * t2)).
			Add(end.Mul(t3))
	}
	return path
}

func (p *Pointer) jitter(v Vector2D) Vector2D {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg.JitterPx <= 0 {
		return v
	}
	return Vector2D{
		X: v.X + p.rng.NormFloat64()*p.cfg.JitterPx,
		Y: v.Y + p.rng.NormFloat64()*p.cfg.JitterPx,
	}
}

// stepFraction maps step i of an n-point path onto [0, 1]. A single-point
// path lands immediately at 1 instead of dividing zero by zero.
func stepFraction(i, n int) float64 {
	if n <= 1 {
		return 1
	}
	return float64(i) / float64(n-1)
}

// travel dispatches a stream of mouse-move events from the current
// position to end, holding buttonState throughout (None for a plain move,
// left for a drag).
func (p *Pointer) travel(ctx context.Context, end Vector2D, buttonState input.MouseButton) error {
	start := p.position()
	duration := p.fittsDuration(start.Dist(end))
	steps := int(duration.Seconds() * 90) // ~90 events per second.
	if steps < 2 {
		steps = 2
	}

	path := p.bezierPath(start, end, steps)
	startTime := time.Now()

	for i, ideal := range path {
		t := stepFraction(i, len(path))
		stepTime := startTime.Add(time.Duration(computeEaseInOutCubic(t) * float64(duration)))
		if err := sleepContext(ctx, time.Until(stepTime)); err != nil {
			return err
		}

		pt := ideal
		// The landing point is exact; intermediate points tremble.
		if i < len(path)-1 {
			pt = p.jitter(ideal)
		}

		ev := input.DispatchMouseEvent(input.MouseMoved, pt.X, pt.Y)
		if buttonState != input.None {
			ev = ev.WithButton(buttonState)
			// The buttons bitmask must be set alongside the button for
			// moves with a pressed button, per the CDP spec.
			if buttonState == input.Left {
				ev = ev.WithButtons(1)
			}
		}
		if err := ev.Do(ctx); err != nil {
			p.logger.Warn("Failed to dispatch mouse move", zap.Error(err))
			return err
		}
		p.setPosition(pt)
	}
	return nil
}
