package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/af-corp/oss-relay/internal/config"
)

// ChatCompletionsPath is the upstream endpoint every relay is sent to.
const ChatCompletionsPath = "/v1/chat/completions"

// Response is a fully read upstream response.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Client is the single pooled HTTP client bound to the upstream base URL.
// It is safe for concurrent use and is meant to live for the whole process.
type Client struct {
	baseURL     string
	timeout     time.Duration
	idleTimeout time.Duration
	http        *http.Client
}

func New(cfg config.UpstreamConfig) *Client {
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 100
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		timeout:     cfg.Timeout,
		idleTimeout: cfg.StreamIdleTimeout,
		http: &http.Client{
			// Buffered calls are bounded by a context deadline, streams by the idle timer.
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				MaxIdleConns:          maxIdle,
				MaxIdleConnsPerHost:   maxIdle,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: cfg.Timeout,
				ForceAttemptHTTP2:     true,
			},
		},
	}
}

// BaseURL returns the configured upstream base URL without a trailing slash.
func (c *Client) BaseURL() string {
	if c == nil {
		return ""
	}
	return c.baseURL
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte, headers http.Header) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("create upstream request: %w", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Post sends a JSON body and reads the whole response. Any status code is a
// successful call; only connection-level failures return an error.
func (c *Client) Post(ctx context.Context, path string, body []byte, headers http.Header) (*Response, error) {
	if c == nil || c.http == nil {
		return nil, ErrNotInitialized
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, body, headers)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "POST", URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "read response", URL: req.URL.String(), Err: err}
	}

	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        data,
	}, nil
}

// StreamPost sends a JSON body and returns as soon as the response status and
// headers are known. The body is consumed through the returned Stream, which
// the caller must Close.
func (c *Client) StreamPost(ctx context.Context, path string, body []byte, headers http.Header) (*Stream, error) {
	if c == nil || c.http == nil {
		return nil, ErrNotInitialized
	}

	ctx, cancel := context.WithCancel(ctx)
	req, err := c.newRequest(ctx, http.MethodPost, path, body, headers)
	if err != nil {
		cancel()
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, &TransportError{Op: "POST", URL: req.URL.String(), Err: err}
	}

	return newStream(resp, req.URL.String(), c.idleTimeout, cancel), nil
}

// Health probes GET {base}/health and returns the status code observed.
func (c *Client) Health(ctx context.Context) (int, error) {
	if c == nil || c.http == nil {
		return 0, ErrNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, "/health", nil, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, &TransportError{Op: "GET", URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// Close releases pooled idle connections.
func (c *Client) Close() {
	if c == nil || c.http == nil {
		return
	}
	c.http.CloseIdleConnections()
}
