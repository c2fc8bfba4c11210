// Package httpapi holds the HTTP plumbing shared by the platform clients:
// per-request timeouts, request pacing and mapping of non-2xx responses
// to PlatformAPIError.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/felixgeelhaar/prcover/internal/application"
)

const (
	DefaultTimeout       = 30 * time.Second
	DefaultRatePerSecond = 5
	maxErrorBody         = 4096
)

// Options configures a Client. Zero values select the defaults.
type Options struct {
	HTTPClient    *http.Client
	Timeout       time.Duration
	RatePerSecond float64
	Logger        zerolog.Logger
}

// Client sends JSON requests to one platform API.
type Client struct {
	platform   string
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	limiter    *rate.Limiter
	auth       func(*http.Request)
	log        zerolog.Logger
}

// New creates a Client for the named platform rooted at baseURL. auth is
// called on every request to set credentials.
func New(platform, baseURL string, auth func(*http.Request), opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	perSecond := opts.RatePerSecond
	if perSecond <= 0 {
		perSecond = DefaultRatePerSecond
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	if auth == nil {
		auth = func(*http.Request) {}
	}
	return &Client{
		platform:   platform,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		timeout:    timeout,
		limiter:    rate.NewLimiter(rate.Limit(perSecond), burst),
		auth:       auth,
		log:        opts.Logger,
	}
}

// Platform returns the display name used in errors.
func (c *Client) Platform() string {
	return c.platform
}

// Request describes one API call. Path is appended to the base URL
// unless it is already absolute.
type Request struct {
	Method string
	Path   string
	Accept string
	Body   any
}

// JSON sends req and decodes a JSON response into out (if non-nil).
func (c *Client) JSON(ctx context.Context, req Request, out any) error {
	if req.Accept == "" {
		req.Accept = "application/json"
	}
	data, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", c.platform, err)
	}
	return nil
}

// Do sends req and returns the raw response body. Any non-2xx status is a
// *application.PlatformAPIError.
func (c *Client) Do(ctx context.Context, req Request) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for rate limiter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	url := req.Path
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = c.baseURL + url
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.Accept != "" {
		httpReq.Header.Set("Accept", req.Accept)
	}
	c.auth(httpReq)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", c.platform, err)
	}

	c.log.Debug().
		Str("platform", c.platform).
		Str("method", req.Method).
		Str("path", httpReq.URL.Path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("platform request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, &application.PlatformAPIError{
			Platform:   c.platform,
			StatusCode: resp.StatusCode,
			Message:    msg,
		}
	}
	return data, nil
}
