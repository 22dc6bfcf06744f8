package messaging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/reelcache/internal/domain"
	"resty.dev/v3"
)

const maxEventBytes = 8 << 20

// Client talks to the messaging endpoints of a running proxy.
type Client struct {
	baseURL string
	rpc     *resty.Client
	stream  *resty.Client
	logger  *slog.Logger
}

// NewClient creates a client for the proxy at baseURL. The timeout bounds
// command round trips; event streams stay open until canceled.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		rpc:     resty.New().SetTimeout(timeout),
		stream:  resty.New(),
		logger:  logger,
	}
}

// Send posts a command.
func (c *Client) Send(ctx context.Context, cmd Message) error {
	if !cmd.Kind.IsCommand() {
		return fmt.Errorf("%w: %s is not a command", ErrWrongKind, cmd.Kind)
	}
	resp, err := c.rpc.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(cmd).
		SetDoNotParseResponse(true).
		Post(c.baseURL + CommandsPath)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrServerOffline, err)
	}
	defer resp.RawResponse.Body.Close()

	if resp.RawResponse.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.RawResponse.Body, 1024))
		return fmt.Errorf("%w: %d %s", domain.ErrUnexpectedStatus, resp.RawResponse.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Status fetches the snapshot of a running proxy.
func (c *Client) Status(ctx context.Context) (domain.Status, error) {
	var status domain.Status
	resp, err := c.rpc.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetDoNotParseResponse(true).
		Get(c.baseURL + StatusPath)
	if err != nil {
		return status, fmt.Errorf("%w: %v", domain.ErrServerOffline, err)
	}
	defer resp.RawResponse.Body.Close()

	if resp.RawResponse.StatusCode != http.StatusOK {
		return status, fmt.Errorf("%w: %d", domain.ErrUnexpectedStatus, resp.RawResponse.StatusCode)
	}
	if err := json.NewDecoder(resp.RawResponse.Body).Decode(&status); err != nil {
		return status, fmt.Errorf("failed to decode status: %w", err)
	}
	return status, nil
}

// Listen calls fn for every notification until ctx is canceled or the
// stream ends. A canceled context is not an error.
func (c *Client) Listen(ctx context.Context, fn func(Message)) error {
	resp, err := c.stream.R().
		SetContext(ctx).
		SetHeader("Accept", "text/event-stream").
		SetDoNotParseResponse(true).
		Get(c.baseURL + EventsPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: %v", domain.ErrServerOffline, err)
	}
	defer resp.RawResponse.Body.Close()

	if resp.RawResponse.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d", domain.ErrUnexpectedStatus, resp.RawResponse.StatusCode)
	}

	scanner := bufio.NewScanner(resp.RawResponse.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventBytes)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		msg, err := Decode([]byte(strings.TrimPrefix(line, "data: ")))
		if err != nil {
			c.logger.Warn("skipping malformed event", "error", err)
			continue
		}
		fn(msg)
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("event stream: %w", err)
	}
	return nil
}
