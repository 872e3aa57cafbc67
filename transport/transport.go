// Package transport is the HTTP client shared by every provider. Each call
// carries a fixed timeout budget and is never retried; non-2xx answers surface
// as transport errors whose message is the remote body.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	rules "github.com/goliatone/go-rules"
)

const (
	DefaultTimeout  = 30 * time.Second
	HeaderRequestID = "X-Request-Id"

	maxErrorBody = 64 << 10
)

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Request describes one outbound call. Body may be nil, []byte, string,
// io.Reader or any JSON-encodable value.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   any
}

// Response is the fully read answer of Send.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Stream is an unread response body. Closing it releases the timeout budget.
type Stream struct {
	Body          io.ReadCloser
	ContentLength int64
	ContentType   string
}

type Client struct {
	baseURL   string
	doer      Doer
	timeout   time.Duration
	header    http.Header
	requestID func() string
	logger    rules.Logger
}

type Option func(*Client)

func WithBaseURL(base string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(base), "/")
	}
}

// WithDoer replaces the instrumented default client, mostly for tests.
func WithDoer(d Doer) Option {
	return func(c *Client) {
		if d != nil {
			c.doer = d
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHeader adds a header sent on every request, e.g. an API key.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		if key != "" {
			c.header.Set(key, value)
		}
	}
}

func WithRequestID(fn func() string) Option {
	return func(c *Client) {
		if fn != nil {
			c.requestID = fn
		}
	}
}

func WithLogger(l rules.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		doer: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		timeout:   DefaultTimeout,
		header:    http.Header{},
		requestID: func() string { return uuid.NewString() },
		logger:    rules.NopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// BaseURL returns the configured base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Send performs the request and reads the whole body.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, rules.NewTransportError(resp.StatusCode, "", fmt.Errorf("read response: %w", err), c.meta(req))
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// SendJSON performs the request and decodes a JSON answer into out. An empty
// body leaves out untouched.
func (c *Client) SendJSON(ctx context.Context, req Request, out any) error {
	if req.Header == nil {
		req.Header = http.Header{}
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	resp, err := c.Send(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return rules.NewTransportError(resp.StatusCode, "", fmt.Errorf("decode response: %w", err), c.meta(req))
	}
	return nil
}

// Stream performs the request and hands the body back unread so it can be
// piped straight into a file store.
func (c *Client) Stream(ctx context.Context, req Request) (*Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	resp, err := c.do(ctx, req)
	if err != nil {
		cancel()
		return nil, err
	}
	return &Stream{
		Body:          &cancelBody{ReadCloser: resp.Body, cancel: cancel},
		ContentLength: resp.ContentLength,
		ContentType:   resp.Header.Get("Content-Type"),
	}, nil
}

func (c *Client) do(ctx context.Context, req Request) (*http.Response, error) {
	httpReq, err := c.build(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.doer.Do(httpReq)
	if err != nil {
		c.logger.Error("%s %s failed after %s: %v", httpReq.Method, httpReq.URL.Redacted(), time.Since(start), err)
		return nil, rules.NewTransportError(0, "", err, c.meta(req))
	}
	c.logger.Debug("%s %s -> %d in %s", httpReq.Method, httpReq.URL.Redacted(), resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, rules.NewTransportError(resp.StatusCode, string(body), nil, c.meta(req))
	}
	return resp, nil
}

func (c *Client) build(ctx context.Context, req Request) (*http.Request, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}

	target, err := c.resolve(req.Path, req.Query)
	if err != nil {
		return nil, rules.NewConfigurationError(err.Error(), c.meta(req))
	}

	body, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, rules.NewTransportError(0, "", err, c.meta(req))
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, rules.NewConfigurationError(err.Error(), c.meta(req))
	}
	for k, vs := range c.header {
		httpReq.Header[k] = append([]string(nil), vs...)
	}
	for k, vs := range req.Header {
		httpReq.Header[k] = append([]string(nil), vs...)
	}
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if httpReq.Header.Get(HeaderRequestID) == "" {
		httpReq.Header.Set(HeaderRequestID, c.requestID())
	}
	return httpReq, nil
}

func (c *Client) resolve(path string, query url.Values) (string, error) {
	target := strings.TrimSpace(path)
	if !strings.Contains(target, "://") {
		if c.baseURL == "" {
			return "", fmt.Errorf("no base url configured for relative path %q", path)
		}
		target = c.baseURL + "/" + strings.TrimLeft(target, "/")
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", target, err)
	}
	if len(query) > 0 {
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) meta(req Request) map[string]any {
	return map[string]any{
		"method":   strings.ToUpper(req.Method),
		"path":     req.Path,
		"base_url": c.baseURL,
	}
}

func encodeBody(body any) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return bytes.NewReader(b), "", nil
	case string:
		return strings.NewReader(b), "", nil
	case io.Reader:
		return b, "", nil
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("encode request body: %w", err)
		}
		return bytes.NewReader(raw), "application/json", nil
	}
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
