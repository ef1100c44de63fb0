package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/zach-fau/suno-api/api/schemas"
)

// challengeFrameSelector matches the provider-hosted challenge iframe in
// the top document.
const challengeFrameSelector = `iframe[src*="hcaptcha"][src*="frame=challenge"]`

// ChallengeRegion returns the challenge iframe's bounding box in page
// coordinates, or an error when no challenge is on screen.
func (d *Driver) ChallengeRegion(ctx context.Context) (schemas.Region, error) {
	var box struct {
		X      float64 `json:"x"`
		Y      float64 `json:"y"`
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	}
	script := fmt.Sprintf(`(() => {
		const f = document.querySelector(%q);
		if (!f) return null;
		const r = f.getBoundingClientRect();
		return {x: r.x, y: r.y, width: r.width, height: r.height};
	})()`, challengeFrameSelector)

	if err := chromedp.Run(d.tabCtx, chromedp.Evaluate(script, &box)); err != nil {
		return schemas.Region{}, fmt.Errorf("failed to locate challenge frame: %w", err)
	}
	if box.Width == 0 || box.Height == 0 {
		return schemas.Region{}, fmt.Errorf("challenge frame not present")
	}
	return schemas.Region{X: box.X, Y: box.Y, Width: box.Width, Height: box.Height}, nil
}

// ChallengeFrame attaches a chromedp context to the out-of-process
// challenge iframe so its DOM (prompt text, submit control) can be read.
// The caller owns the returned cancel.
func (d *Driver) ChallengeFrame(ctx context.Context) (context.Context, context.CancelFunc, error) {
	infos, err := chromedp.Targets(d.tabCtx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list browser targets: %w", err)
	}
	var id target.ID
	for _, info := range infos {
		if info.Type == "iframe" && strings.Contains(info.URL, "hcaptcha") && strings.Contains(info.URL, "frame=challenge") {
			id = info.TargetID
			break
		}
	}
	if id == "" {
		return nil, nil, fmt.Errorf("challenge frame target not found")
	}
	frameCtx, cancel := chromedp.NewContext(d.tabCtx, chromedp.WithTargetID(id))
	return frameCtx, cancel, nil
}

// CaptureRegion screenshots the given page-coordinate clip of the tab.
func (d *Driver) CaptureRegion(ctx context.Context, region schemas.Region) ([]byte, error) {
	var buf []byte
	action := chromedp.ActionFunc(func(c context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithClip(&page.Viewport{
				X:      region.X,
				Y:      region.Y,
				Width:  region.Width,
				Height: region.Height,
				Scale:  1,
			}).Do(c)
		return err
	})
	if err := chromedp.Run(d.tabCtx, action); err != nil {
		return nil, fmt.Errorf("failed to capture challenge region: %w", err)
	}
	return buf, nil
}
