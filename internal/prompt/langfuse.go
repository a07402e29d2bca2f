// Package prompt fetches managed prompt templates from Langfuse.
//
// Only the prompt-management surface is used here (GET
// /api/public/v2/prompts/{name}); request tracing goes through
// OpenTelemetry, not Langfuse observations.
package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the Langfuse cloud endpoint.
const DefaultBaseURL = "https://cloud.langfuse.com"

const requestTimeout = 10 * time.Second

var (
	// ErrNotFound indicates the named prompt does not exist.
	ErrNotFound = errors.New("prompt not found")

	// ErrUnavailable indicates the prompt service could not be reached or
	// answered with a non-2xx status. Callers treat this as fatal for the
	// current request.
	ErrUnavailable = errors.New("prompt service unavailable")
)

// Config for the Langfuse client.
type Config struct {
	BaseURL   string // Defaults to DefaultBaseURL
	PublicKey string
	SecretKey string
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// Client fetches prompt templates from the Langfuse public API.
type Client struct {
	baseURL   string
	publicKey string
	secretKey string
	httpc     *http.Client
	logger    *slog.Logger
}

// New creates a Client.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: requestTimeout}
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		publicKey: cfg.PublicKey,
		secretKey: cfg.SecretKey,
		httpc:     httpc,
		logger:    logger,
	}
}

// Template is a fetched prompt with {{variable}} placeholders.
type Template struct {
	Name    string
	Version int
	raw     string
}

// promptResponse is the wire shape of GET /api/public/v2/prompts/{name}.
type promptResponse struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Prompt  string `json:"prompt"`
	Version int    `json:"version"`
}

// GetPrompt fetches the current production version of a named prompt.
func (c *Client) GetPrompt(ctx context.Context, name string) (*Template, error) {
	if name == "" {
		return nil, errors.New("prompt name must not be empty")
	}

	reqURL := c.baseURL + "/api/public/v2/prompts/" + url.PathEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building prompt request: %w", err)
	}
	req.SetBasicAuth(c.publicKey, c.secretKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var pr promptResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %w", ErrUnavailable, err)
	}
	if pr.Prompt == "" {
		return nil, fmt.Errorf("%w: prompt %q has empty body", ErrUnavailable, name)
	}

	c.logger.Debug("fetched prompt", "name", pr.Name, "version", pr.Version)
	return &Template{Name: pr.Name, Version: pr.Version, raw: pr.Prompt}, nil
}

// Compile substitutes {{variable}} placeholders with the given values.
// Both {{name}} and {{ name }} spellings are accepted. Placeholders with
// no matching variable are left untouched.
func (t *Template) Compile(vars map[string]string) string {
	if len(vars) == 0 {
		return t.raw
	}
	pairs := make([]string, 0, len(vars)*4)
	for k, v := range vars {
		pairs = append(pairs,
			"{{"+k+"}}", v,
			"{{ "+k+" }}", v,
		)
	}
	return strings.NewReplacer(pairs...).Replace(t.raw)
}

// Render fetches a prompt and compiles it in one step.
func (c *Client) Render(ctx context.Context, name string, vars map[string]string) (string, error) {
	tmpl, err := c.GetPrompt(ctx, name)
	if err != nil {
		return "", err
	}
	return tmpl.Compile(vars), nil
}
