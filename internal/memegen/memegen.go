// Package memegen turns text prompts into image URLs for meme notes. The
// generation backend is an external collaborator: a stateless HTTP function
// for hosted boards, or the OpenAI image API for direct deployments.
package memegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/corkboard-app/corkboard/internal/errs"
	"github.com/corkboard-app/corkboard/internal/obs"
)

// Generator produces an absolute image URL for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt, style string) (url string, err error)
}

const (
	// generateAttempts bounds how often a flaky generation backend is
	// retried before the user is told.
	generateAttempts = 3
	retryDelay       = 2 * time.Second

	requestTimeout = 60 * time.Second
)

// HTTPGenerator calls a meme generation endpoint: POST {prompt, style?}
// returning {url} on success or {error, message} with status >= 400.
type HTTPGenerator struct {
	endpoint string
	client   *http.Client
	delay    time.Duration
	log      *slog.Logger
}

// NewHTTPGenerator builds a generator against endpoint. A nil client gets a
// default with the generation timeout applied.
func NewHTTPGenerator(endpoint string, client *http.Client) *HTTPGenerator {
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	return &HTTPGenerator{
		endpoint: endpoint,
		client:   client,
		delay:    retryDelay,
		log:      obs.Pkg("memegen"),
	}
}

type generateRequest struct {
	Prompt string `json:"prompt"`
	Style  string `json:"style,omitempty"`
}

type generateResponse struct {
	URL     string `json:"url"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Generate requests an image for prompt, retrying transient failures a
// bounded number of times with a short delay. The returned URL is validated
// before being trusted; the backend is not assumed infallible.
func (g *HTTPGenerator) Generate(ctx context.Context, prompt, style string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", errs.New(errs.InvalidArgument, "empty prompt")
	}

	var lastErr error
	for attempt := 1; attempt <= generateAttempts; attempt++ {
		if attempt > 1 {
			g.log.Info("retrying meme generation", "attempt", attempt)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(g.delay):
			}
		}
		url, retryable, err := g.generateOnce(ctx, prompt, style)
		if err == nil {
			return url, nil
		}
		if ctx.Err() != nil || !retryable {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

// retryableStatus reports whether a backend status is worth another
// attempt. Client errors are final; the request will not get better.
func retryableStatus(code int) bool {
	return code >= 500 ||
		code == http.StatusTooManyRequests ||
		code == http.StatusRequestTimeout
}

func (g *HTTPGenerator) generateOnce(ctx context.Context, prompt, style string) (url string, retryable bool, err error) {
	body, err := json.Marshal(generateRequest{Prompt: prompt, Style: style})
	if err != nil {
		return "", false, fmt.Errorf("encode generate request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", true, errs.Wrap(errs.GenerationFailed, "generation request failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", true, errs.Wrap(errs.GenerationFailed, "read generation response", err)
	}

	var decoded generateResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", true, errs.Wrap(errs.GenerationFailed, "malformed generation response", err)
	}

	if resp.StatusCode >= 400 {
		message := decoded.Message
		if message == "" {
			message = decoded.Error
		}
		if message == "" {
			message = fmt.Sprintf("generation backend returned %d", resp.StatusCode)
		}
		return "", retryableStatus(resp.StatusCode), errs.New(errs.GenerationFailed, message)
	}

	if !strings.HasPrefix(decoded.URL, "http") {
		return "", false, errs.New(errs.GenerationFailed, "generation backend returned an unusable image URL")
	}
	return decoded.URL, false, nil
}
