// Package backend talks to the media API, the static manifest and the byte
// routes that serve video and thumbnail payloads.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/reelcache/internal/domain"
	"resty.dev/v3"
)

const (
	DefaultTimeout    = 8 * time.Second
	defaultMaxRetries = 3
	baseRetryDelay    = 500 * time.Millisecond
	maxPayloadBytes   = 1 << 30
)

// Options configures a Client.
type Options struct {
	// APIBase is the media API root, e.g. http://localhost:3001/api.
	APIBase string
	// ManifestURL is the absolute URL of the static manifest. Relative
	// values are resolved against APIBase.
	ManifestURL string
	// Timeout bounds every individual attempt.
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// Client implements the domain source interfaces against the backend.
type Client struct {
	apiBase     string
	origin      *url.URL
	manifestURL string
	timeout     time.Duration
	maxRetries  int
	retryDelay  time.Duration
	http        *resty.Client
	logger      *slog.Logger
}

// NewClient creates a backend client.
func NewClient(opts Options, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	origin, err := url.Parse(strings.TrimRight(opts.APIBase, "/"))
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("invalid api base %q", opts.APIBase)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	} else if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = baseRetryDelay
	}

	c := &Client{
		apiBase:    origin.String(),
		origin:     origin,
		timeout:    opts.Timeout,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		http:       resty.New(),
		logger:     logger,
	}
	if opts.ManifestURL != "" {
		c.manifestURL = c.Resolve(opts.ManifestURL)
	}
	return c, nil
}

// APIBase returns the normalized API root.
func (c *Client) APIBase() string {
	return c.apiBase
}

// ManifestURL returns the resolved manifest URL, or "" when none is configured.
func (c *Client) ManifestURL() string {
	return c.manifestURL
}

// Resolve turns a path relative to the API origin into an absolute URL.
// Absolute references are returned unchanged.
func (c *Client) Resolve(ref string) string {
	u, err := url.Parse(ref)
	if err != nil || u.IsAbs() {
		return ref
	}
	return c.origin.ResolveReference(u).String()
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// doRequest performs one logical request, retrying 5xx responses with
// exponential backoff. Each attempt gets its own timeout.
func (c *Client) doRequest(ctx context.Context, method, reqURL string, body any) (*response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1))
			c.logger.Debug("retrying request", "attempt", attempt, "delay", delay, "url", reqURL)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := c.attempt(ctx, method, reqURL, body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Debug("backend request failed", "error", err, "url", reqURL)
			return nil, fmt.Errorf("%w: %v", domain.ErrServerOffline, err)
		}

		if resp.status >= 500 && resp.status < 600 {
			lastErr = fmt.Errorf("%w: %d", domain.ErrUnexpectedStatus, resp.status)
			c.logger.Warn("backend server error, will retry",
				"status", resp.status,
				"attempt", attempt,
				"maxRetries", c.maxRetries,
				"url", reqURL,
			)
			continue
		}

		if resp.status < 200 || resp.status > 299 {
			return nil, fmt.Errorf("%w: %d", domain.ErrUnexpectedStatus, resp.status)
		}
		return resp, nil
	}

	c.logger.Error("backend request failed after retries", "error", lastErr, "url", reqURL)
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, method, reqURL string, body any) (*response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := c.http.R().
		SetContext(attemptCtx).
		SetDoNotParseResponse(true)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Execute(method, reqURL)
	if err != nil {
		return nil, err
	}
	defer resp.RawResponse.Body.Close()

	var data []byte
	if method != http.MethodHead {
		data, err = io.ReadAll(io.LimitReader(resp.RawResponse.Body, maxPayloadBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
	}
	return &response{
		status: resp.RawResponse.StatusCode,
		header: resp.RawResponse.Header,
		body:   data,
	}, nil
}

// FeaturedVideos returns up to limit featured videos in API order.
func (c *Client) FeaturedVideos(ctx context.Context, limit int) ([]domain.VideoDescriptor, error) {
	query := url.Values{}
	query.Set("featured", "true")
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	query.Set("type", "videos")

	resp, err := c.doRequest(ctx, http.MethodGet, c.apiBase+"/media?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var payload FeaturedResponse
	if err := json.Unmarshal(resp.body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if !payload.Success {
		return nil, fmt.Errorf("api reported failure: %s", payload.Error)
	}

	videos := MapMedia(payload.Data, c.Resolve)
	if limit > 0 && len(videos) > limit {
		videos = videos[:limit]
	}
	return videos, nil
}

// FetchManifest downloads and parses the static manifest.
func (c *Client) FetchManifest(ctx context.Context) (*domain.Manifest, error) {
	if c.manifestURL == "" {
		return nil, fmt.Errorf("%w: no manifest configured", domain.ErrInvalidManifest)
	}
	resp, err := c.doRequest(ctx, http.MethodGet, c.manifestURL, nil)
	if err != nil {
		return nil, err
	}

	var dto ManifestDTO
	if err := json.Unmarshal(resp.body, &dto); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidManifest, err)
	}
	return MapManifest(dto, c.Resolve), nil
}

// ProbeManifest checks that the manifest exists without downloading it.
func (c *Client) ProbeManifest(ctx context.Context) error {
	if c.manifestURL == "" {
		return fmt.Errorf("%w: no manifest configured", domain.ErrInvalidManifest)
	}
	return c.ProbeURL(ctx, c.manifestURL)
}

// ProbeURL issues a HEAD request and reports whether the resource exists.
func (c *Client) ProbeURL(ctx context.Context, rawURL string) error {
	_, err := c.doRequest(ctx, http.MethodHead, c.Resolve(rawURL), nil)
	return err
}

// FetchPayload downloads a binary payload and its content type.
func (c *Client) FetchPayload(ctx context.Context, rawURL string) ([]byte, string, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, c.Resolve(rawURL), nil)
	if err != nil {
		return nil, "", err
	}
	if len(resp.body) == 0 {
		return nil, "", domain.ErrEmptyPayload
	}
	return resp.body, resp.header.Get("Content-Type"), nil
}

// IncrementViews records one view of a video.
func (c *Client) IncrementViews(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("video id is required")
	}
	_, err := c.doRequest(ctx, http.MethodPost, c.apiBase+"/media/"+url.PathEscape(id)+"/view", nil)
	return err
}
