// Package suno wraps the application's REST endpoints. These are thin
// request/response calls with no coordination logic; every authorized call
// renews the short-lived token first and the generation call additionally
// consumes a challenge-completion token from the challenge flow.
package suno

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	http "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/zach-fau/suno-api/internal/config"
	"github.com/zach-fau/suno-api/internal/identity"
)

// CompletionTokenSource produces one challenge-completion token per call.
// Implemented by the challenge flow; faked in tests.
type CompletionTokenSource interface {
	CompletionToken(ctx context.Context) (string, error)
}

// Clip is the subset of generation metadata callers work with.
type Clip struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	Prompt    string `json:"prompt"`
	AudioURL  string `json:"audio_url"`
	ImageURL  string `json:"image_url"`
	VideoURL  string `json:"video_url"`
	ModelName string `json:"model_name"`
	CreatedAt string `json:"created_at"`
}

// GenerateRequest describes one generation call. Prompt is used as the
// song description in simple mode; custom mode sends lyrics, tags and
// title verbatim.
type GenerateRequest struct {
	Prompt       string
	Tags         string
	Title        string
	Model        string
	Instrumental bool
	Custom       bool
}

// LyricsResult is a finished lyrics generation.
type LyricsResult struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Text   string `json:"text"`
	Status string `json:"status"`
}

// Client calls the application API on behalf of one identity.
type Client struct {
	cfg      config.SunoConfig
	http     tls_client.HttpClient
	sessions *identity.SessionManager
	tokens   CompletionTokenSource
	logger   *zap.Logger
}

// NewClient builds an API client. tokens may be nil when the caller never
// generates (feed/credits-only use).
func NewClient(cfg config.SunoConfig, sessions *identity.SessionManager, tokens CompletionTokenSource, logger *zap.Logger) (*Client, error) {
	hc, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(),
		tls_client.WithTimeoutSeconds(60),
		tls_client.WithClientProfile(profiles.Chrome_133),
		tls_client.WithRandomTLSExtensionOrder(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build api http client: %w", err)
	}
	return &Client{
		cfg:      cfg,
		http:     hc,
		sessions: sessions,
		tokens:   tokens,
		logger:   logger.Named("suno"),
	}, nil
}

// Generate starts a music generation and returns the pending clips. The
// challenge flow runs first to obtain the one-time completion token the
// endpoint demands.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) ([]Clip, error) {
	if c.tokens == nil {
		return nil, errors.New("no completion token source configured")
	}
	completion, err := c.tokens.CompletionToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("challenge flow failed: %w", err)
	}

	model := req.Model
	if model == "" {
		model = "chirp-v4"
	}

	body := `{}`
	body, _ = sjson.Set(body, "mv", model)
	body, _ = sjson.Set(body, "make_instrumental", req.Instrumental)
	if req.Custom {
		body, _ = sjson.Set(body, "prompt", req.Prompt)
		body, _ = sjson.Set(body, "tags", req.Tags)
		body, _ = sjson.Set(body, "title", req.Title)
	} else {
		body, _ = sjson.Set(body, "gpt_description_prompt", req.Prompt)
		body, _ = sjson.Set(body, "prompt", "")
	}
	if completion != "" {
		body, _ = sjson.Set(body, "token", completion)
	}

	out, err := c.do(ctx, http.MethodPost, "/api/generate/v2/", body)
	if err != nil {
		return nil, err
	}
	return parseClips(gjson.GetBytes(out, "clips")), nil
}

// Feed returns a page of the user's generation feed.
func (c *Client) Feed(ctx context.Context, page int) ([]Clip, error) {
	out, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/feed/v2?page=%d", page), "")
	if err != nil {
		return nil, err
	}
	return parseClips(gjson.GetBytes(out, "clips")), nil
}

// Clips fetches specific clips by id.
func (c *Client) Clips(ctx context.Context, ids []string) ([]Clip, error) {
	out, err := c.do(ctx, http.MethodGet, "/api/feed/v2?ids="+strings.Join(ids, ","), "")
	if err != nil {
		return nil, err
	}
	return parseClips(gjson.GetBytes(out, "clips")), nil
}

// Credits reports the remaining generation credits.
func (c *Client) Credits(ctx context.Context) (int64, error) {
	out, err := c.do(ctx, http.MethodGet, "/api/billing/info/", "")
	if err != nil {
		return 0, err
	}
	return gjson.GetBytes(out, "total_credits_left").Int(), nil
}

// GenerateLyrics submits a lyrics prompt and polls until the text is
// ready.
func (c *Client) GenerateLyrics(ctx context.Context, prompt string) (*LyricsResult, error) {
	body, _ := sjson.Set(`{}`, "prompt", prompt)
	out, err := c.do(ctx, http.MethodPost, "/api/generate/lyrics/", body)
	if err != nil {
		return nil, err
	}
	id := gjson.GetBytes(out, "id").String()
	if id == "" {
		return nil, errors.New("lyrics generation returned no id")
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}

		out, err := c.do(ctx, http.MethodGet, "/api/generate/lyrics/"+id, "")
		if err != nil {
			return nil, err
		}
		if gjson.GetBytes(out, "status").String() != "complete" {
			continue
		}
		return &LyricsResult{
			ID:     id,
			Title:  gjson.GetBytes(out, "title").String(),
			Text:   gjson.GetBytes(out, "text").String(),
			Status: "complete",
		}, nil
	}
}

// do renews the authorization token and performs one API call. A request
// without a token would be treated as anonymous by the API, which is only
// valid for session acquisition, so renewal failures abort here.
func (c *Client) do(ctx context.Context, method, path, body string) ([]byte, error) {
	if err := c.sessions.RenewToken(ctx, false); err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.sessions.Token())
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		c.logger.Warn("API call failed",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("api returned status %d for %s", resp.StatusCode, path)
	}
	return out, nil
}

func parseClips(list gjson.Result) []Clip {
	var clips []Clip
	for _, c := range list.Array() {
		clips = append(clips, Clip{
			ID:        c.Get("id").String(),
			Title:     c.Get("title").String(),
			Status:    c.Get("status").String(),
			Prompt:    c.Get("metadata.prompt").String(),
			AudioURL:  c.Get("audio_url").String(),
			ImageURL:  c.Get("image_url").String(),
			VideoURL:  c.Get("video_url").String(),
			ModelName: c.Get("model_name").String(),
			CreatedAt: c.Get("created_at").String(),
		})
	}
	return clips
}
