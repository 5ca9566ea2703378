package vt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fivetwenty-io/vt-client/internal/constants"
	vthttp "github.com/fivetwenty-io/vt-client/internal/http"
)

// Config represents client configuration for building a vt.Client.
//
// # TLS
//
// Server certificates are not verified unless VerifyTLS is set. This keeps
// the client usable behind intercepting proxies and with self-signed test
// deployments; production callers should enable verification.
//
// # Retries
//
// The client never retries on its own. RetryMax enables retries of
// connection errors, 429 and 5xx responses in the transport; the final
// response is classified exactly as without retries.
type Config struct {
	// APIKey: required VirusTotal API key, sent as X-Apikey.
	APIKey string
	// Agent: identifies the calling application in the User-Agent header.
	// Defaults to "unknown".
	Agent string
	// Host: scheme and host of the API. Defaults to https://www.virustotal.com.
	Host string
	// Logger: structured logger used by the HTTP layer. Nothing is logged
	// when unset.
	Logger Logger
	// Debug: enables request/response logging when a Logger is provided.
	Debug bool
	// VerifyTLS: verify server certificates.
	VerifyTLS bool
	// RetryMax: maximum number of retries. 0 disables retries.
	RetryMax int
	// RetryWaitMin: minimum backoff between retries. Applied when RetryMax > 0.
	RetryWaitMin time.Duration
	// RetryWaitMax: maximum backoff between retries. Applied when RetryMax > 0.
	RetryWaitMax time.Duration
	// HTTPClient: replaces the pooled HTTP client, VerifyTLS is then ignored.
	HTTPClient *http.Client
	// Interceptors: optional request/response interceptors.
	Interceptors *InterceptorChain
}

// Option configures a client built with NewClient.
type Option func(*Config)

// WithAgent sets the agent string.
func WithAgent(agent string) Option {
	return func(c *Config) {
		c.Agent = agent
	}
}

// WithHost overrides the API host.
func WithHost(host string) Option {
	return func(c *Config) {
		c.Host = host
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithDebug enables request/response logging.
func WithDebug(debug bool) Option {
	return func(c *Config) {
		c.Debug = debug
	}
}

// WithVerifyTLS turns certificate verification on or off.
func WithVerifyTLS(verify bool) Option {
	return func(c *Config) {
		c.VerifyTLS = verify
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = httpClient
	}
}

// WithRetryConfig enables transport retries.
func WithRetryConfig(maxRetries int, waitMin, waitMax time.Duration) Option {
	return func(c *Config) {
		c.RetryMax = maxRetries
		c.RetryWaitMin = waitMin
		c.RetryWaitMax = waitMax
	}
}

// WithRequestInterceptor appends a request interceptor.
func WithRequestInterceptor(interceptor RequestInterceptor) Option {
	return func(c *Config) {
		if c.Interceptors == nil {
			c.Interceptors = NewInterceptorChain()
		}

		c.Interceptors.AddRequestInterceptor(interceptor)
	}
}

// WithResponseInterceptor appends a response interceptor.
func WithResponseInterceptor(interceptor ResponseInterceptor) Option {
	return func(c *Config) {
		if c.Interceptors == nil {
			c.Interceptors = NewInterceptorChain()
		}

		c.Interceptors.AddResponseInterceptor(interceptor)
	}
}

// Client is the entry point to the VirusTotal API. It owns one HTTP session,
// created on first use and reused until Close. A closed client can be used
// again: the next operation opens a new session.
//
// Every network operation comes in two forms. XAsync starts the operation on
// its own goroutine and returns a Future; X blocks until that Future
// completes. Blocking forms must not be called with a context received
// inside an asynchronous operation: they fail with ErrBlockingInAsync. Use
// XAsync(ctx, ...).Await(ctx) there instead.
type Client struct {
	apiKey       string
	agent        string
	host         string
	config       Config
	interceptors *InterceptorChain

	mu      sync.Mutex
	session *vthttp.Client
}

// NewClient creates a client for the given API key.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	config := &Config{APIKey: apiKey}

	for _, opt := range opts {
		opt(config)
	}

	return NewClientFromConfig(config)
}

// NewClientFromConfig creates a client from config.
func NewClientFromConfig(config *Config) (*Client, error) {
	if config == nil || config.APIKey == "" {
		return nil, ErrAPIKeyRequired
	}

	client := &Client{
		apiKey:       config.APIKey,
		agent:        config.Agent,
		host:         strings.TrimSuffix(config.Host, "/"),
		config:       *config,
		interceptors: config.Interceptors,
	}

	if client.agent == "" {
		client.agent = constants.DefaultAgent
	}

	if client.host == "" {
		client.host = constants.DefaultHost
	}

	if client.config.Logger == nil {
		client.config.Logger = noopLogger{}
	}

	return client, nil
}

// Host returns the API host.
func (c *Client) Host() string {
	return c.host
}

// Agent returns the agent string.
func (c *Client) Agent() string {
	return c.agent
}

// UserAgent returns the User-Agent header value sent with every request.
func (c *Client) UserAgent() string {
	return fmt.Sprintf(constants.UserAgentFormat, c.agent, Version)
}

// URL returns the absolute URL of an API path.
func (c *Client) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}

	return c.host + constants.EndpointPrefix + path
}

// getSession returns the shared session, creating it if needed.
func (c *Client) getSession() *vthttp.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return c.session
	}

	opts := []vthttp.Option{
		vthttp.WithHeader(constants.HeaderAPIKey, c.apiKey),
		vthttp.WithHeader(constants.HeaderAcceptEncoding, constants.EncodingGzip),
		vthttp.WithUserAgent(c.UserAgent()),
		vthttp.WithDebug(c.config.Debug),
		vthttp.WithVerifyTLS(c.config.VerifyTLS),
		vthttp.WithLogger(c.config.Logger),
	}

	if c.config.HTTPClient != nil {
		opts = append(opts, vthttp.WithHTTPClient(c.config.HTTPClient))
	}

	if c.config.RetryMax > 0 {
		waitMin, waitMax := c.config.RetryWaitMin, c.config.RetryWaitMax
		if waitMin == 0 {
			waitMin = constants.DefaultRetryWaitMin
		}

		if waitMax == 0 {
			waitMax = constants.DefaultRetryWaitMax
		}

		opts = append(opts, vthttp.WithRetryConfig(c.config.RetryMax, waitMin, waitMax))
	}

	c.session = vthttp.NewClient(c.host+constants.EndpointPrefix, opts...)

	return c.session
}

// CloseAsync closes the session. Closing a closed or never used client does
// nothing.
func (c *Client) CloseAsync(ctx context.Context) *Future[struct{}] {
	return goAsync(ctx, func(context.Context) (struct{}, error) {
		c.close()

		return struct{}{}, nil
	})
}

// Close is the blocking form of CloseAsync. It implements io.Closer.
func (c *Client) Close() error {
	_, err := block(context.Background(), c.CloseAsync)

	return err
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return
	}

	c.session.CloseIdleConnections()
	c.session = nil
}

// GetAsync sends a GET request to path. The response is returned as is,
// whatever its status; the caller must close it.
func (c *Client) GetAsync(ctx context.Context, path string, params url.Values) *Future[*Response] {
	return goAsync(ctx, func(ctx context.Context) (*Response, error) {
		return c.get(ctx, path, params)
	})
}

// Get is the blocking form of GetAsync.
func (c *Client) Get(ctx context.Context, path string, params url.Values) (*Response, error) {
	return block(ctx, func(ctx context.Context) *Future[*Response] {
		return c.GetAsync(ctx, path, params)
	})
}

// PostAsync sends a POST request with an optional body.
func (c *Client) PostAsync(ctx context.Context, path string, body []byte) *Future[*Response] {
	return goAsync(ctx, func(ctx context.Context) (*Response, error) {
		return c.dispatch(ctx, &vthttp.Request{Method: http.MethodPost, Path: path, Body: body})
	})
}

// Post is the blocking form of PostAsync.
func (c *Client) Post(ctx context.Context, path string, body []byte) (*Response, error) {
	return block(ctx, func(ctx context.Context) *Future[*Response] {
		return c.PostAsync(ctx, path, body)
	})
}

// PatchAsync sends a PATCH request with an optional body.
func (c *Client) PatchAsync(ctx context.Context, path string, body []byte) *Future[*Response] {
	return goAsync(ctx, func(ctx context.Context) (*Response, error) {
		return c.dispatch(ctx, &vthttp.Request{Method: http.MethodPatch, Path: path, Body: body})
	})
}

// Patch is the blocking form of PatchAsync.
func (c *Client) Patch(ctx context.Context, path string, body []byte) (*Response, error) {
	return block(ctx, func(ctx context.Context) *Future[*Response] {
		return c.PatchAsync(ctx, path, body)
	})
}

// DeleteAsync sends a DELETE request.
func (c *Client) DeleteAsync(ctx context.Context, path string) *Future[*Response] {
	return goAsync(ctx, func(ctx context.Context) (*Response, error) {
		return c.dispatch(ctx, &vthttp.Request{Method: http.MethodDelete, Path: path})
	})
}

// Delete is the blocking form of DeleteAsync.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return block(ctx, func(ctx context.Context) *Future[*Response] {
		return c.DeleteAsync(ctx, path)
	})
}

// GetJSONAsync sends a GET request and returns the decoded response body,
// which must be a JSON object. Unsuccessful responses fail with an APIError.
func (c *Client) GetJSONAsync(ctx context.Context, path string, params url.Values) *Future[map[string]interface{}] {
	return goAsync(ctx, func(ctx context.Context) (map[string]interface{}, error) {
		return c.getJSON(ctx, path, params)
	})
}

// GetJSON is the blocking form of GetJSONAsync.
func (c *Client) GetJSON(ctx context.Context, path string, params url.Values) (map[string]interface{}, error) {
	return block(ctx, func(ctx context.Context) *Future[map[string]interface{}] {
		return c.GetJSONAsync(ctx, path, params)
	})
}

// GetDataAsync sends a GET request and returns the "data" field of the
// response, whatever its shape.
func (c *Client) GetDataAsync(ctx context.Context, path string, params url.Values) *Future[interface{}] {
	return goAsync(ctx, func(ctx context.Context) (interface{}, error) {
		return c.getData(ctx, path, params)
	})
}

// GetData is the blocking form of GetDataAsync.
func (c *Client) GetData(ctx context.Context, path string, params url.Values) (interface{}, error) {
	return block(ctx, func(ctx context.Context) *Future[interface{}] {
		return c.GetDataAsync(ctx, path, params)
	})
}

// GetObjectAsync sends a GET request to an endpoint returning a single
// object, like /files/{id} or /urls/{id}.
func (c *Client) GetObjectAsync(ctx context.Context, path string, params url.Values) *Future[*Object] {
	return goAsync(ctx, func(ctx context.Context) (*Object, error) {
		resp, err := c.get(ctx, path, params)
		if err != nil {
			return nil, err
		}

		return c.responseToObject(ctx, path, resp)
	})
}

// GetObject is the blocking form of GetObjectAsync.
func (c *Client) GetObject(ctx context.Context, path string, params url.Values) (*Object, error) {
	return block(ctx, func(ctx context.Context) *Future[*Object] {
		return c.GetObjectAsync(ctx, path, params)
	})
}

// PatchObjectAsync sends obj as a PATCH request and returns the object in
// the response.
func (c *Client) PatchObjectAsync(ctx context.Context, path string, obj *Object) *Future[*Object] {
	return goAsync(ctx, func(ctx context.Context) (*Object, error) {
		return c.sendObject(ctx, http.MethodPatch, path, obj)
	})
}

// PatchObject is the blocking form of PatchObjectAsync.
func (c *Client) PatchObject(ctx context.Context, path string, obj *Object) (*Object, error) {
	return block(ctx, func(ctx context.Context) *Future[*Object] {
		return c.PatchObjectAsync(ctx, path, obj)
	})
}

// PostObjectAsync sends obj as a POST request and returns the object in the
// response.
func (c *Client) PostObjectAsync(ctx context.Context, path string, obj *Object) *Future[*Object] {
	return goAsync(ctx, func(ctx context.Context) (*Object, error) {
		return c.sendObject(ctx, http.MethodPost, path, obj)
	})
}

// PostObject is the blocking form of PostObjectAsync.
func (c *Client) PostObject(ctx context.Context, path string, obj *Object) (*Object, error) {
	return block(ctx, func(ctx context.Context) *Future[*Object] {
		return c.PostObjectAsync(ctx, path, obj)
	})
}

// DownloadFileAsync downloads the file identified by hash into w, 1 MiB at
// a time, and returns the number of bytes written. An unsuccessful response
// fails with an APIError before anything is written.
func (c *Client) DownloadFileAsync(ctx context.Context, hash string, w io.Writer) *Future[int64] {
	return goAsync(ctx, func(ctx context.Context) (int64, error) {
		return c.downloadFile(ctx, hash, w)
	})
}

// DownloadFile is the blocking form of DownloadFileAsync.
func (c *Client) DownloadFile(ctx context.Context, hash string, w io.Writer) (int64, error) {
	return block(ctx, func(ctx context.Context) *Future[int64] {
		return c.DownloadFileAsync(ctx, hash, w)
	})
}

// GetErrorAsync classifies resp. A 200 response yields nil. A 4xx response
// yields the structured error it carries, or a ClientError with the body
// text. Anything else yields a ServerError with the body text. The body is
// consumed but stays available through resp.Read, resp.JSON and resp.Text.
func (c *Client) GetErrorAsync(ctx context.Context, resp *Response) *Future[*APIError] {
	return goAsync(ctx, func(ctx context.Context) (*APIError, error) {
		return getError(ctx, resp)
	})
}

// GetError is the blocking form of GetErrorAsync. The first result is the
// classification, the second a failure to read the body.
func (c *Client) GetError(ctx context.Context, resp *Response) (*APIError, error) {
	return block(ctx, func(ctx context.Context) *Future[*APIError] {
		return c.GetErrorAsync(ctx, resp)
	})
}

// Iterator returns an iterator over the collection at path.
func (c *Client) Iterator(path string, opts *IteratorOptions) (*Iterator, error) {
	return newIterator(c, path, opts)
}

// Feed returns a feed of the given type starting at cursor. An empty cursor
// starts one hour ago.
func (c *Client) Feed(feedType FeedType, cursor string) (*Feed, error) {
	return newFeed(c, feedType, cursor)
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (*Response, error) {
	return c.dispatch(ctx, &vthttp.Request{Method: http.MethodGet, Path: path, Query: params})
}

// dispatch sends req through the interceptor chain and the session.
func (c *Client) dispatch(ctx context.Context, req *vthttp.Request) (*Response, error) {
	session := c.getSession()

	if c.interceptors.empty() {
		resp, err := session.Do(ctx, req)
		if err != nil {
			return nil, err
		}

		return newResponse(resp), nil
	}

	headers := req.Headers.Clone()
	if headers == nil {
		headers = make(http.Header)
	}

	intercepted := &Request{
		Method:   req.Method,
		Path:     req.Path,
		URL:      session.ResolveURL(req.Path),
		Headers:  headers,
		Body:     req.Body,
		Metadata: make(map[string]interface{}),
	}

	err := c.interceptors.ExecuteRequestInterceptors(ctx, intercepted)
	if err != nil {
		return nil, err
	}

	req.Headers = intercepted.Headers
	req.Body = intercepted.Body

	resp, err := session.Do(ctx, req)

	info := &ResponseInfo{Error: err}
	if resp != nil {
		info.StatusCode = resp.StatusCode
		info.Headers = resp.Header
	}

	interceptErr := c.interceptors.ExecuteResponseInterceptors(ctx, intercepted, info)

	if err != nil {
		return nil, err
	}

	if interceptErr != nil {
		_ = resp.Body.Close()

		return nil, interceptErr
	}

	return newResponse(resp), nil
}

func getError(ctx context.Context, resp *Response) (*APIError, error) {
	status := resp.StatusCode()
	if status == constants.HTTPStatusOK {
		return nil, nil
	}

	text, err := resp.text(ctx)
	if err != nil {
		return nil, err
	}

	if status >= constants.HTTPStatusBadRequest && status <= constants.HTTPStatusLastClientError {
		body, _ := resp.read(ctx)

		apiErr := ParseErrorEnvelope(body)
		if apiErr != nil {
			return apiErr, nil
		}

		return &APIError{Code: ErrorCodeClient, Message: text}, nil
	}

	return &APIError{Code: ErrorCodeServer, Message: text}, nil
}

// successBody classifies resp and returns its body when it is a success.
func successBody(ctx context.Context, resp *Response) ([]byte, error) {
	apiErr, err := getError(ctx, resp)
	if err != nil {
		return nil, err
	}

	if apiErr != nil {
		return nil, apiErr
	}

	return resp.read(ctx)
}

func responseToJSON(ctx context.Context, resp *Response) (map[string]interface{}, error) {
	body, err := successBody(ctx, resp)
	if err != nil {
		return nil, err
	}

	value, err := decodeJSON(body)
	if err != nil {
		return nil, err
	}

	fields, ok := value.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w, got: %s", ErrNotAMap, kindOf(value))
	}

	return fields, nil
}

func extractData(path string, fields map[string]interface{}) (interface{}, error) {
	data, ok := fields["data"]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoDataField, path)
	}

	return data, nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values) (map[string]interface{}, error) {
	resp, err := c.get(ctx, path, params)
	if err != nil {
		return nil, err
	}

	return responseToJSON(ctx, resp)
}

func (c *Client) getData(ctx context.Context, path string, params url.Values) (interface{}, error) {
	fields, err := c.getJSON(ctx, path, params)
	if err != nil {
		return nil, err
	}

	return extractData(path, fields)
}

// responseToObject decodes the object in the data field of resp, keeping
// its attributes in wire order.
func (c *Client) responseToObject(ctx context.Context, path string, resp *Response) (*Object, error) {
	fields, err := responseToJSON(ctx, resp)
	if err != nil {
		return nil, err
	}

	_, err = extractData(path, fields)
	if err != nil {
		return nil, err
	}

	body, err := resp.read(ctx)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}

	err = json.Unmarshal(body, &envelope)
	if err != nil {
		return nil, fmt.Errorf("decoding JSON response: %w", err)
	}

	obj, err := ObjectFromJSON(envelope.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotAnObject, path, err)
	}

	return obj, nil
}

func (c *Client) sendObject(ctx context.Context, method, path string, obj *Object) (*Object, error) {
	body, err := json.Marshal(map[string]interface{}{"data": obj})
	if err != nil {
		return nil, fmt.Errorf("encoding object: %w", err)
	}

	resp, err := c.dispatch(ctx, &vthttp.Request{
		Method:  method,
		Path:    path,
		Body:    body,
		Headers: http.Header{constants.HeaderContentType: []string{constants.ContentTypeJSON}},
	})
	if err != nil {
		return nil, err
	}

	return c.responseToObject(ctx, path, resp)
}

func (c *Client) downloadFile(ctx context.Context, hash string, w io.Writer) (int64, error) {
	resp, err := c.get(ctx, "/files/"+url.PathEscape(hash)+"/download", nil)
	if err != nil {
		return 0, err
	}

	defer func() {
		_ = resp.Close()
	}()

	apiErr, err := getError(ctx, resp)
	if err != nil {
		return 0, err
	}

	if apiErr != nil {
		return 0, apiErr
	}

	var written int64

	for {
		chunk, err := resp.Content().read(ctx, constants.DownloadChunkSize)
		if err != nil {
			return written, err
		}

		if len(chunk) == 0 {
			return written, nil
		}

		n, err := w.Write(chunk)
		written += int64(n)

		if err != nil {
			return written, fmt.Errorf("writing download: %w", err)
		}
	}
}
