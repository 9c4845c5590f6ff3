// Package poll implements the cursor-based polling layer: an authenticated
// HTTP client for the message endpoint, forward and backward polling loops
// with a bounded dedup set, and REST fetchers that translate remote facts
// into the internal line grammar.
package poll

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Nathan219/probemaster2-sub000/errors"
)

// DefaultBatchLength is the page size requested from the poll endpoint.
const DefaultBatchLength = 100

// DefaultAuthHeader carries the shared secret on every outbound request.
const DefaultAuthHeader = "X-Probe-Key"

// Message is one poll endpoint entry: an opaque order-comparable id plus the
// raw data line.
type Message struct {
	ID   string `json:"id"`
	Data string `json:"data"`
}

type pollResult struct {
	Messages []Message `json:"messages"`
}

// ClientConfig configures the poll/REST HTTP client.
type ClientConfig struct {
	BaseURL    string
	AuthHeader string // header name, DefaultAuthHeader if empty
	AuthSecret string
	Timeout    time.Duration
}

// Client wraps the authenticated HTTP connection to the remote endpoint.
type Client struct {
	rest   *resty.Client
	logger *slog.Logger
}

// NewClient creates a poll client. The shared-secret header is injected on
// every request; a 401 response is the only authorization-failure signal the
// engine understands.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default().With("component", "poll-client")
	}
	header := cfg.AuthHeader
	if header == "" {
		header = DefaultAuthHeader
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	rest := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout)
	if cfg.AuthSecret != "" {
		rest.SetHeader(header, cfg.AuthSecret)
	}

	return &Client{rest: rest, logger: logger}
}

// Since requests up to length messages after lastID. An empty lastID asks for
// the most recent page.
func (c *Client) Since(ctx context.Context, lastID string, length int) ([]Message, error) {
	params := map[string]string{"length": strconv.Itoa(length)}
	if lastID != "" {
		params["lastId"] = lastID
	}
	return c.fetchMessages(ctx, params)
}

// Before requests up to length messages strictly older than beforeID.
func (c *Client) Before(ctx context.Context, beforeID string, length int) ([]Message, error) {
	params := map[string]string{
		"beforeId": beforeID,
		"length":   strconv.Itoa(length),
	}
	return c.fetchMessages(ctx, params)
}

func (c *Client) fetchMessages(ctx context.Context, params map[string]string) ([]Message, error) {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&pollResult{}).
		Get("/poll")
	if err != nil {
		return nil, errors.WrapTransient(err, "poll-client", "fetchMessages", "HTTP request")
	}

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	result, ok := resp.Result().(*pollResult)
	if !ok || result == nil {
		return nil, errors.WrapTransient(errors.ErrPollAborted,
			"poll-client", "fetchMessages", "response decoding")
	}
	return result.Messages, nil
}

// getJSON performs an authenticated GET for the REST fact endpoints.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetResult(out).
		Get(path)
	if err != nil {
		return errors.WrapTransient(err, "poll-client", "getJSON", "HTTP request")
	}
	return checkStatus(resp)
}

func checkStatus(resp *resty.Response) error {
	switch {
	case resp.StatusCode() == http.StatusUnauthorized:
		return errors.Wrap(errors.ErrUnauthorized, "poll-client", "request",
			fmt.Sprintf("GET %s", resp.Request.URL))
	case !resp.IsSuccess():
		return errors.WrapTransient(
			fmt.Errorf("unexpected status %d: %w", resp.StatusCode(), errors.ErrPollAborted),
			"poll-client", "request", fmt.Sprintf("GET %s", resp.Request.URL))
	default:
		return nil
	}
}
