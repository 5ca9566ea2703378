// Package http is the transport layer of the VirusTotal client. It resolves
// request targets, applies the session headers, and returns raw, unbuffered
// responses; interpreting status codes and bodies is left to package vt.
package http

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fivetwenty-io/vt-client/internal/constants"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/gzip"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/fivetwenty-io/vt-client/internal/http"

// Logger is the logging surface used by the transport.
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

// Client dispatches requests against a base URL with a fixed header set.
type Client struct {
	baseURL      string
	headers      http.Header
	httpClient   *http.Client
	retryMax     int
	retryWaitMin time.Duration
	retryWaitMax time.Duration
	verifyTLS    bool
	logger       Logger
	debug        bool

	retry  *retryablehttp.Client
	tracer trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDebug enables request and response logging.
func WithDebug(debug bool) Option {
	return func(c *Client) {
		c.debug = debug
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(userAgent string) Option {
	return WithHeader(constants.HeaderUserAgent, userAgent)
}

// WithHeader sets a header sent with every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers.Set(key, value)
	}
}

// WithRetryConfig enables retries of connection errors, 429 and 5xx
// responses. Retries are off unless maxRetries is positive.
func WithRetryConfig(maxRetries int, waitMin, waitMax time.Duration) Option {
	return func(c *Client) {
		c.retryMax = maxRetries
		c.retryWaitMin = waitMin
		c.retryWaitMax = waitMax
	}
}

// WithVerifyTLS turns server certificate verification on or off.
func WithVerifyTLS(verify bool) Option {
	return func(c *Client) {
		c.verifyTLS = verify
	}
}

// WithHTTPClient replaces the underlying HTTP client. The TLS setting is
// ignored when a custom client is supplied.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a client for baseURL. Relative request paths are
// appended to baseURL; absolute http(s) URLs are used as they are.
func NewClient(baseURL string, opts ...Option) *Client {
	client := &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		headers:      make(http.Header),
		retryWaitMin: constants.DefaultRetryWaitMin,
		retryWaitMax: constants.DefaultRetryWaitMax,
		tracer:       otel.Tracer(tracerName),
	}

	for _, opt := range opts {
		opt(client)
	}

	if client.httpClient == nil {
		transport := cleanhttp.DefaultPooledTransport()
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: !client.verifyTLS, // #nosec G402 -- Verification is off by default for self-signed deployments, see WithVerifyTLS
		}
		client.httpClient = &http.Client{Transport: transport}
	}

	retry := retryablehttp.NewClient()
	retry.HTTPClient = client.httpClient
	retry.RetryMax = 0
	retry.Logger = nil
	retry.ErrorHandler = retryablehttp.PassthroughErrorHandler

	if client.retryMax > 0 {
		retry.RetryMax = client.retryMax
		retry.RetryWaitMin = client.retryWaitMin
		retry.RetryWaitMax = client.retryWaitMax

		if client.logger != nil {
			retry.Logger = &leveledLogger{logger: client.logger}
		}
	}

	client.retry = retry

	return client
}

// Request describes one API call.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Body    []byte
	Headers http.Header
}

// ResolveURL returns the absolute target for path.
func (c *Client) ResolveURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}

	return c.baseURL + path
}

// Do sends the request and returns the raw response. The response body is
// not read; the caller must close it. Gzip-encoded bodies are decoded
// transparently.
func (c *Client) Do(ctx context.Context, req *Request) (*http.Response, error) {
	target, err := c.buildURL(req)
	if err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "HTTP "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.full", target),
		),
	)
	defer span.End()

	var rawBody interface{}
	if req.Body != nil {
		rawBody = req.Body
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, req.Method, target, rawBody)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return nil, fmt.Errorf("creating request: %w", err)
	}

	for key, values := range c.headers {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}

	for key, values := range req.Headers {
		httpReq.Header.Del(key)

		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}

	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	if c.debug && c.logger != nil {
		c.logger.Debug("HTTP Request", map[string]interface{}{
			"method": req.Method,
			"url":    target,
		})
	}

	start := time.Now()

	resp, err := c.retry.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}

		return nil, fmt.Errorf("%s %s: %w", req.Method, target, err)
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode >= http.StatusBadRequest {
		span.SetStatus(codes.Error, resp.Status)
	}

	if c.debug && c.logger != nil {
		c.logger.Debug("HTTP Response", map[string]interface{}{
			"method":      req.Method,
			"url":         target,
			"status_code": resp.StatusCode,
			"duration":    time.Since(start).String(),
		})
	}

	decodeGzip(resp)

	return resp, nil
}

// CloseIdleConnections releases pooled connections.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) buildURL(req *Request) (string, error) {
	target := c.ResolveURL(req.Path)
	if len(req.Query) == 0 {
		return target, nil
	}

	parsed, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parsing URL %q: %w", target, err)
	}

	query := parsed.Query()

	for key, values := range req.Query {
		for _, value := range values {
			query.Add(key, value)
		}
	}

	parsed.RawQuery = query.Encode()

	return parsed.String(), nil
}

// decodeGzip swaps a gzip-encoded body for its decompressed stream. Setting
// Accept-Encoding explicitly turns off the transport's own decompression.
func decodeGzip(resp *http.Response) {
	if !strings.EqualFold(resp.Header.Get(constants.HeaderContentEncoding), constants.EncodingGzip) {
		return
	}

	resp.Body = &gzipBody{body: resp.Body}
	resp.Header.Del(constants.HeaderContentEncoding)
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
}

// gzipBody opens the gzip stream on first read so that empty bodies do not
// fail before anyone reads them.
type gzipBody struct {
	body   io.ReadCloser
	reader *gzip.Reader
	err    error
}

func (g *gzipBody) Read(p []byte) (int, error) {
	if g.err != nil {
		return 0, g.err
	}

	if g.reader == nil {
		reader, err := gzip.NewReader(g.body)
		if err != nil {
			g.err = err

			return 0, err
		}

		g.reader = reader
	}

	return g.reader.Read(p)
}

func (g *gzipBody) Close() error {
	return g.body.Close()
}

// leveledLogger adapts Logger to retryablehttp.LeveledLogger.
type leveledLogger struct {
	logger Logger
}

func (l *leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, fieldsFromKeysAndValues(keysAndValues))
}

func (l *leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, fieldsFromKeysAndValues(keysAndValues))
}

func (l *leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, fieldsFromKeysAndValues(keysAndValues))
}

func (l *leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn(msg, fieldsFromKeysAndValues(keysAndValues))
}

func fieldsFromKeysAndValues(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)

	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}

	return fields
}
