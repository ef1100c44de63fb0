// Package captcha is the narrow contract with the external
// challenge-solving service. The service receives a screenshot and answers
// with an ordered list of coordinates; a separate report call flags
// solutions that violate the protocol so the service can learn from them.
package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/zach-fau/suno-api/api/schemas"
	"github.com/zach-fau/suno-api/internal/config"
)

// Solver obtains coordinate solutions for visual challenges.
type Solver interface {
	// Solve submits a base64 screenshot. For drag-type challenges both
	// instruction fields are set so the worker understands the two-point
	// protocol.
	Solve(ctx context.Context, imageB64 string, drag *DragInstructions) (*schemas.Solution, error)
	// ReportBad tells the service a returned solution was unusable.
	ReportBad(ctx context.Context, id string) error
}

// DragInstructions carry the fixed textual and pictorial explanation sent
// alongside drag-type challenge screenshots.
type DragInstructions struct {
	Comment  string
	ImageB64 string
}

// DefaultDragComment is what drag workers are told when the challenge
// itself does not say more.
const DefaultDragComment = "Click the two points of each drag: first where the piece starts, then where it must be dropped."

const pollInterval = 2 * time.Second

// Client talks to a 2Captcha-compatible coordinates API.
type Client struct {
	cfg    config.CaptchaConfig
	http   *http.Client
	logger *zap.Logger
}

var _ Solver = (*Client)(nil)

// NewClient builds a solving-service client.
func NewClient(cfg config.CaptchaConfig, logger *zap.Logger) *Client {
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger.Named("captcha"),
	}
}

// Solve creates a coordinates task and polls until the worker answers or
// the context expires.
func (c *Client) Solve(ctx context.Context, imageB64 string, drag *DragInstructions) (*schemas.Solution, error) {
	task := map[string]any{
		"type": "CoordinatesTask",
		"body": imageB64,
	}
	if drag != nil {
		task["comment"] = drag.Comment
		if task["comment"] == "" {
			task["comment"] = DefaultDragComment
		}
		if drag.ImageB64 != "" {
			task["imgInstructions"] = drag.ImageB64
		}
	}

	created, err := c.post(ctx, "/createTask", map[string]any{
		"clientKey": c.cfg.Key,
		"task":      task,
	})
	if err != nil {
		return nil, err
	}
	if gjson.GetBytes(created, "errorId").Int() != 0 {
		return nil, fmt.Errorf("solving service rejected task: %s", gjson.GetBytes(created, "errorDescription").String())
	}
	taskID := gjson.GetBytes(created, "taskId").String()
	if taskID == "" {
		return nil, errors.New("solving service returned no task id")
	}

	return c.poll(ctx, taskID)
}

func (c *Client) poll(ctx context.Context, taskID string) (*schemas.Solution, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}

		body, err := c.post(ctx, "/getTaskResult", map[string]any{
			"clientKey": c.cfg.Key,
			"taskId":    taskID,
		})
		if err != nil {
			return nil, err
		}
		if gjson.GetBytes(body, "errorId").Int() != 0 {
			return nil, fmt.Errorf("solving service error: %s", gjson.GetBytes(body, "errorDescription").String())
		}
		if gjson.GetBytes(body, "status").String() != "ready" {
			continue
		}

		var points []schemas.Point
		for _, p := range gjson.GetBytes(body, "solution.coordinates").Array() {
			points = append(points, schemas.Point{
				X: p.Get("x").Float(),
				Y: p.Get("y").Float(),
			})
		}
		if len(points) == 0 {
			return nil, errors.New("solving service answered with no coordinates")
		}
		c.logger.Debug("Solution received", zap.String("task_id", taskID), zap.Int("points", len(points)))
		return &schemas.Solution{ID: taskID, Points: points}, nil
	}
}

// ReportBad flags a solution as unusable, as required when a drag solution
// arrives with an odd point count.
func (c *Client) ReportBad(ctx context.Context, id string) error {
	body, err := c.post(ctx, "/reportIncorrect", map[string]any{
		"clientKey": c.cfg.Key,
		"taskId":    id,
	})
	if err != nil {
		return err
	}
	if gjson.GetBytes(body, "errorId").Int() != 0 {
		return fmt.Errorf("report rejected: %s", gjson.GetBytes(body, "errorDescription").String())
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("solving service returned status %d", resp.StatusCode)
	}
	return out, nil
}
