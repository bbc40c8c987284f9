// Package archive talks to the historical log archive: a plain HTTP endpoint
// that lists folders of uploaded device logs and returns individual files.
// It is not part of the streaming protocol and carries no session state.
package archive

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/Suhridx/pump-dashboard/errors"
	"github.com/Suhridx/pump-dashboard/metric"
	"github.com/Suhridx/pump-dashboard/pkg/cache"
	"github.com/Suhridx/pump-dashboard/pkg/retry"
)

// Defaults
const (
	DefaultTimeout  = 15 * time.Second
	DefaultCacheTTL = 5 * time.Minute

	// maxBodySize bounds a single response.
	maxBodySize = 16 << 20

	listAllKey = "all"
)

// Client fetches folder listings and files from the archive.
type Client struct {
	base     *url.URL
	http     *http.Client
	retry    retry.Config
	cacheTTL time.Duration
	registry *metric.MetricsRegistry
	logger   *slog.Logger
	folders  *cache.TTL[[]Folder]
}

// Option configures a Client.
type Option func(*Client) error

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Client", "WithHTTPClient", "nil client")
		}
		c.http = hc
		return nil
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return errors.WrapInvalid(fmt.Errorf("%w: timeout %s", errors.ErrInvalidConfig, d),
				"Client", "WithTimeout", "check timeout")
		}
		c.http = &http.Client{Timeout: d}
		return nil
	}
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(cfg retry.Config) Option {
	return func(c *Client) error {
		c.retry = cfg
		return nil
	}
}

// WithCacheTTL sets how long a folder listing is reused.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) error {
		c.cacheTTL = ttl
		return nil
	}
}

// WithMetrics exports the listing cache statistics.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(c *Client) error {
		c.registry = registry
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// NewClient builds a client for the endpoint at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: archive url %q must be absolute http(s)", errors.ErrInvalidConfig, baseURL),
			"Client", "New", "parse base url")
	}

	c := &Client{
		base:     u,
		http:     &http.Client{Timeout: DefaultTimeout},
		retry:    retry.ForHTTP(),
		cacheTTL: DefaultCacheTTL,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	c.folders, err = cache.NewTTL[[]Folder](c.cacheTTL, cache.WithMetrics[[]Folder](c.registry, "archive"))
	if err != nil {
		return nil, err
	}
	c.logger = c.logger.With("component", "archive")
	return c, nil
}

// ListFolders returns every folder with its files. Listings are cached.
func (c *Client) ListFolders(ctx context.Context) ([]Folder, error) {
	if folders, ok := c.folders.Get(listAllKey); ok {
		return folders, nil
	}

	var folders []Folder
	err := c.getJSON(ctx, url.Values{"key": {listAllKey}}, &folders)
	if err != nil {
		return nil, errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrArchiveUnavailable, err),
			"Client", "ListFolders", "list folders")
	}
	if folders == nil {
		folders = []Folder{}
	}

	_, _ = c.folders.Set(listAllKey, folders)
	c.logger.Debug("Archive folders listed", "folders", len(folders))
	return folders, nil
}

// Invalidate drops the cached folder listing.
func (c *Client) Invalidate() {
	c.folders.Clear()
}

type fileResponse struct {
	Name  string  `json:"name"`
	Text  *string `json:"text"`
	Error string  `json:"error"`
}

// Fetch returns one file. It never fails: archive errors and transport
// failures come back as a Document with Failed set.
func (c *Client) Fetch(ctx context.Context, folder, file string) Document {
	var resp fileResponse
	err := c.getJSON(ctx, url.Values{"key": {folder}, "filename": {file}}, &resp)
	var se *statusError
	switch {
	case stderrors.As(err, &se) && se.message != "":
		c.logger.Warn("Archive returned an error", "folder", folder, "file", file, "status", se.status, "error", se.message)
		return errorDocument(se.message)
	case err != nil:
		c.logger.Warn("Archive fetch failed", "folder", folder, "file", file, "error", err)
		return fetchErrorDocument(retry.Cause(err))
	case resp.Text != nil:
		name := resp.Name
		if name == "" {
			name = file
		}
		return Document{Name: name, Text: *resp.Text}
	case resp.Error != "":
		c.logger.Warn("Archive returned an error", "folder", folder, "file", file, "error", resp.Error)
		return errorDocument(resp.Error)
	default:
		return fetchErrorDocument(fmt.Errorf("%w: response has neither text nor error", errors.ErrInvalidData))
	}
}

// statusError is a non-2xx archive response. message holds the in-band
// {"error": ...} text when the body carried one.
type statusError struct {
	status  string
	message string
}

func newStatusError(resp *http.Response, body []byte) *statusError {
	var payload struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &payload)
	return &statusError{status: resp.Status, message: payload.Error}
}

func (e *statusError) Error() string {
	if e.message != "" {
		return fmt.Sprintf("archive returned %s: %s", e.status, e.message)
	}
	return fmt.Sprintf("archive returned %s", e.status)
}

// getJSON performs GET base?query and decodes the body into out, retrying
// network failures and 5xx responses.
func (c *Client) getJSON(ctx context.Context, query url.Values, out any) error {
	u := *c.base
	q := u.Query()
	for k, vs := range query {
		q[k] = vs
	}
	u.RawQuery = q.Encode()

	cfg := c.retry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.logger.Debug("Retrying archive request", "attempt", attempt, "delay", delay, "error", err)
	}

	return retry.Do(ctx, cfg, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return retry.NonRetryable(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return retry.NonRetryable(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode >= 500:
			return newStatusError(resp, body)
		case resp.StatusCode >= 400:
			return retry.NonRetryable(newStatusError(resp, body))
		}

		if err := json.Unmarshal(body, out); err != nil {
			return retry.NonRetryable(fmt.Errorf("%w: %w", errors.ErrParsingFailed, err))
		}
		return nil
	})
}
