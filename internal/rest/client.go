// ABOUTME: HTTP client for gateway discovery and channel lookups
// ABOUTME: Bot-token auth, JSON decoding, and bounded retries on 429 responses

package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/gatewaykit/internal/entity"
)

const (
	DefaultBaseURL    = "https://discord.com/api/v10"
	DefaultUserAgent  = "DiscordBot (https://github.com/2389/gatewaykit, 0.1)"
	DefaultMaxRetries = 3
	DefaultTimeout    = 10 * time.Second
)

// ErrUnauthorized is returned for 401 responses.
var ErrUnauthorized = errors.New("unauthorized")

// RateLimitedError is returned once a request stayed rate limited through
// every retry.
type RateLimitedError struct {
	RetryAfter time.Duration
	Global     bool
}

func (e *RateLimitedError) Error() string {
	scope := "route"
	if e.Global {
		scope = "global"
	}
	return fmt.Sprintf("http 429 rate limited (%s), retry after %s", scope, e.RetryAfter)
}

// APIError is a non-2xx response other than 401 and 429.
type APIError struct {
	Status  int
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error %d (code %d): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d", e.Status)
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	UserAgent  string
	MaxRetries int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the HTTP resource API with a bot token.
type Client struct {
	token      string
	baseURL    string
	userAgent  string
	maxRetries int
	http       *http.Client
	logger     *slog.Logger
}

// New builds a client for token.
func New(token string, opts Options) *Client {
	c := &Client{
		token:      token,
		baseURL:    strings.TrimSuffix(opts.BaseURL, "/"),
		userAgent:  opts.UserAgent,
		maxRetries: opts.MaxRetries,
		http:       opts.HTTPClient,
		logger:     opts.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.userAgent == "" {
		c.userAgent = DefaultUserAgent
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	} else if opts.MaxRetries == 0 {
		c.maxRetries = DefaultMaxRetries
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: DefaultTimeout}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "rest")
	return c
}

// SessionStartLimit reports how many identifies remain in the current window.
type SessionStartLimit struct {
	Total          int `json:"total"`
	Remaining      int `json:"remaining"`
	ResetAfter     int `json:"reset_after"`
	MaxConcurrency int `json:"max_concurrency"`
}

// GatewayBotInfo is the response of GET /gateway/bot.
type GatewayBotInfo struct {
	URL               string            `json:"url"`
	Shards            uint64            `json:"shards"`
	SessionStartLimit SessionStartLimit `json:"session_start_limit"`
}

// Gateway returns the public gateway URL.
func (c *Client) Gateway(ctx context.Context) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	if err := c.get(ctx, "/gateway", &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// GatewayBot returns the gateway URL with the recommended shard count.
func (c *Client) GatewayBot(ctx context.Context) (*GatewayBotInfo, error) {
	var out GatewayBotInfo
	if err := c.get(ctx, "/gateway/bot", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Channel fetches a channel by id.
func (c *Client) Channel(ctx context.Context, id entity.Snowflake) (*entity.Channel, error) {
	var out entity.Channel
	if err := c.get(ctx, "/channels/"+id.String(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

var _ entity.ResourceClient = (*Client)(nil)

func (c *Client) get(ctx context.Context, path string, out any) error {
	for attempt := 0; ; attempt++ {
		err := c.do(ctx, http.MethodGet, path, out)
		var limited *RateLimitedError
		if !errors.As(err, &limited) || attempt >= c.maxRetries {
			return err
		}
		c.logger.Warn("rate limited, retrying",
			"path", path,
			"retry_after", limited.RetryAfter,
			"global", limited.Global,
			"attempt", attempt+1)
		timer := time.NewTimer(limited.RetryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return rateLimited(resp.Header, body)
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(body, apiErr)
		return apiErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// rateLimited prefers the body's fractional retry_after over the header.
func rateLimited(h http.Header, body []byte) *RateLimitedError {
	var payload struct {
		RetryAfter float64 `json:"retry_after"`
		Global     bool    `json:"global"`
	}
	e := &RateLimitedError{Global: h.Get("X-RateLimit-Global") == "true"}
	if json.Unmarshal(body, &payload) == nil && payload.RetryAfter > 0 {
		e.RetryAfter = time.Duration(payload.RetryAfter * float64(time.Second))
		e.Global = e.Global || payload.Global
		return e
	}
	if secs, err := strconv.ParseFloat(h.Get("Retry-After"), 64); err == nil && secs > 0 {
		e.RetryAfter = time.Duration(secs * float64(time.Second))
	}
	return e
}
